package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"turnos/src/config"
	"turnos/src/db"
	"turnos/src/lib"
	"turnos/src/payments"

	"github.com/gin-gonic/gin"
)

var processor *payments.Processor

func getProcessor() *payments.Processor {
	if processor != nil {
		return processor
	}
	d := db.GetDb()
	guard := payments.NewGuard(lib.GetRedisClient())
	mp := lib.GetMPClient()
	notifier := payments.NewDispatcher(d, lib.GetWhatsAppClient())
	tokens := payments.NewTokenResolver(d, mp)
	processor = payments.NewProcessor(d, guard, mp, notifier, tokens, config.PlatformAccessToken())
	return processor
}

// NewProcessor Replace processor instance with custom implementation
func NewProcessor(p *payments.Processor) {
	processor = p
}

func mpWebhookRoute(g *gin.Engine) *gin.RouterGroup {
	apiv1 := apiv1Group(g)
	apiv1.POST("/webhook/mercadopago", func(ctx *gin.Context) {
		payload, err := io.ReadAll(ctx.Request.Body)
		if err != nil {
			log.Printf("[MPWebhook] error reading request body: %s\n", err.Error())
			ctx.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "unreadable body"})
			return
		}
		n, ok := payments.Classify(payload, ctx.Request.URL.Query())

		// Respond before resolving so the provider never retries on timeout.
		ctx.JSON(http.StatusOK, gin.H{"ok": true})

		if !ok {
			log.Printf("[MPWebhook] unclassifiable notification dropped: %s\n", string(payload))
			return
		}
		log.Printf("[MPWebhook] %s %s\n", n.Topic, n.EntityID)
		p := getProcessor()
		go p.Process(context.Background(), n)
	})
	return apiv1
}
