package main

import (
	"errors"
	"log"
	"net/http"
	"turnos/src/config"
	"turnos/src/db"
	"turnos/src/lib"
	"turnos/src/models"
	"turnos/src/payments"
	"turnos/src/types"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func subscriptionHandlers(g *gin.RouterGroup) {
	g.POST("/subscriptions", func(ctx *gin.Context) {
		var body types.CreateSubscriptionRequestBody
		if err := ctx.ShouldBindJSON(&body); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
			return
		}
		tenantID, err := uuid.Parse(ctx.GetString("tenant_id"))
		if err != nil {
			ctx.Status(http.StatusUnauthorized)
			return
		}
		kind := types.SUBSCRIPTION_CUSTOMER
		if body.Kind == string(types.SUBSCRIPTION_PLATFORM) {
			kind = types.SUBSCRIPTION_PLATFORM
		}

		d := db.GetDb()
		var plan models.Plan
		if err := d.
			Model(&models.Plan{}).
			Where("id = ?", body.PlanID).
			Where("tenant_id = ? OR tenant_id IS NULL", tenantID).
			First(&plan).
			Error; err != nil {
			ctx.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "plan not found"})
			return
		}

		token := config.PlatformAccessToken()
		if kind == types.SUBSCRIPTION_CUSTOMER {
			resolver := payments.NewTokenResolver(d, lib.GetMPClient())
			token, err = resolver.ResolveToken(ctx.Request.Context(), tenantID)
			if err != nil {
				if errors.Is(err, payments.ErrNotConfigured) {
					ctx.JSON(http.StatusConflict, gin.H{"ok": false, "error": "tenant payment not configured"})
					return
				}
				ctx.JSON(http.StatusBadGateway, gin.H{"ok": false, "error": "provider unavailable"})
				return
			}
		}

		sub := models.Subscription{
			TenantID:   tenantID,
			CustomerID: body.CustomerID,
			PlanID:     plan.ID,
			Kind:       kind,
			Status:     types.SUBSCRIPTION_PENDING,
		}
		if err := d.Create(&sub).Error; err != nil {
			log.Printf("[Subscription] create failed: %s\n", err.Error())
			ctx.Status(http.StatusInternalServerError)
			return
		}

		ref := payments.Reference{
			Version:        2,
			TenantID:       tenantID.String(),
			SubscriptionID: sub.ID,
			PlanID:         plan.ID,
			Action:         payments.ActionSignup,
			Nonce:          uuid.NewString()[:8],
		}
		encoded := ref.Encode()
		pre, err := lib.GetMPClient().CreatePreapproval(ctx.Request.Context(), token, map[string]any{
			"reason":             plan.Name,
			"external_reference": encoded,
			"payer_email":        body.PayerEmail,
			"auto_recurring": map[string]any{
				"frequency":          plan.DurationMonths,
				"frequency_type":     "months",
				"transaction_amount": float64(plan.Price) / 100,
				"currency_id":        plan.Currency,
			},
		})
		if err != nil {
			log.Printf("[Subscription] preapproval creation failed for %d: %s\n", sub.ID, err.Error())
			ctx.JSON(http.StatusBadGateway, gin.H{"ok": false, "error": "provider unavailable"})
			return
		}
		if err := d.
			Model(&models.Subscription{}).
			Where("id = ? AND tenant_id = ?", sub.ID, tenantID).
			Updates(&models.Subscription{
				MPPreapprovalID:   &pre.ID,
				ExternalReference: &encoded,
			}).
			Error; err != nil {
			log.Printf("[Subscription] persist failed for %d: %s\n", sub.ID, err.Error())
			ctx.Status(http.StatusInternalServerError)
			return
		}
		ctx.JSON(http.StatusCreated, gin.H{
			"ok":                 true,
			"id":                 sub.ID,
			"preapproval_id":     pre.ID,
			"external_reference": encoded,
		})
	})

	// renewal checkout for an existing membership; the correlation reference
	// carries the renewal action so a failed charge reverts to pending instead
	// of cancelling the membership
	g.POST("/subscriptions/:id/renew", func(ctx *gin.Context) {
		var params types.SimpleRequestParams
		if err := ctx.ShouldBindUri(&params); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
			return
		}
		tenantID, err := uuid.Parse(ctx.GetString("tenant_id"))
		if err != nil {
			ctx.Status(http.StatusUnauthorized)
			return
		}

		d := db.GetDb()
		var sub models.Subscription
		if err := d.
			Model(&models.Subscription{}).
			Preload("Plan").
			Where("id = ? AND tenant_id = ?", params.ID, tenantID).
			First(&sub).
			Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				ctx.Status(http.StatusNotFound)
				return
			}
			ctx.Status(http.StatusBadRequest)
			return
		}
		if sub.Status == types.SUBSCRIPTION_CANCELED {
			ctx.JSON(http.StatusConflict, gin.H{"ok": false, "error": "subscription is cancelled"})
			return
		}

		resolver := payments.NewTokenResolver(d, lib.GetMPClient())
		token, err := resolver.ResolveToken(ctx.Request.Context(), tenantID)
		if err != nil {
			if errors.Is(err, payments.ErrNotConfigured) {
				ctx.JSON(http.StatusConflict, gin.H{"ok": false, "error": "tenant payment not configured"})
				return
			}
			ctx.JSON(http.StatusBadGateway, gin.H{"ok": false, "error": "provider unavailable"})
			return
		}

		ref := payments.Reference{
			Version:        2,
			TenantID:       tenantID.String(),
			SubscriptionID: sub.ID,
			PlanID:         sub.PlanID,
			Action:         payments.ActionRenewal,
			Nonce:          uuid.NewString()[:8],
		}
		encoded := ref.Encode()
		title := "Renovación"
		price := int64(0)
		currency := "ARS"
		if sub.Plan != nil {
			title = sub.Plan.Name
			price = sub.Plan.Price
			currency = sub.Plan.Currency
		}
		created, err := lib.GetMPClient().CreatePreference(ctx.Request.Context(), token, &lib.MPPreference{
			ExternalReference: encoded,
			Items: []lib.MPPreferenceItem{{
				Title:      title,
				Quantity:   1,
				UnitPrice:  float64(price) / 100,
				CurrencyID: currency,
			}},
		})
		if err != nil {
			log.Printf("[Renewal] preference creation failed for subscription %d: %s\n", sub.ID, err.Error())
			ctx.JSON(http.StatusBadGateway, gin.H{"ok": false, "error": "provider unavailable"})
			return
		}

		row := models.Payment{
			TenantID:          tenantID,
			MPPreferenceID:    &created.ID,
			Method:            types.METHOD_PROVIDER,
			Amount:            price,
			Currency:          currency,
			Status:            types.PAYMENT_PENDING,
			ExternalReference: &encoded,
		}
		if err := d.Create(&row).Error; err != nil {
			log.Printf("[Renewal] payment row create failed for subscription %d: %s\n", sub.ID, err.Error())
			ctx.Status(http.StatusInternalServerError)
			return
		}
		ctx.JSON(http.StatusCreated, gin.H{
			"ok":                 true,
			"init_point":         created.InitPoint,
			"external_reference": encoded,
		})
	})
}
