package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"
	"turnos/src/db"
	"turnos/src/lib"
	"turnos/src/models"
	"turnos/src/payments"
	"turnos/src/types"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func holdWindow() time.Duration {
	if v := os.Getenv("DEPOSIT_HOLD_MINUTES"); v != "" {
		if m, err := strconv.Atoi(v); err == nil && m > 0 {
			return time.Duration(m) * time.Minute
		}
	}
	return 60 * time.Minute
}

func appointmentHandlers(g *gin.RouterGroup) {
	g.POST("/appointments/:id/payment-link", func(ctx *gin.Context) {
		var params types.SimpleRequestParams
		if err := ctx.ShouldBindUri(&params); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
			return
		}
		var body types.CreatePaymentLinkRequestBody
		if err := ctx.ShouldBindJSON(&body); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
			return
		}
		tenantID, err := uuid.Parse(ctx.GetString("tenant_id"))
		if err != nil {
			ctx.Status(http.StatusUnauthorized)
			return
		}

		d := db.GetDb()
		var appt models.Appointment
		if err := d.
			Model(&models.Appointment{}).
			Where("id = ? AND tenant_id = ?", params.ID, tenantID).
			First(&appt).
			Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				ctx.Status(http.StatusNotFound)
				return
			}
			ctx.Status(http.StatusBadRequest)
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

		currency := body.Currency
		if currency == "" {
			currency = "ARS"
		}
		ref := payments.Reference{
			Version:       2,
			TenantID:      tenantID.String(),
			AppointmentID: appt.ID,
			Action:        payments.ActionDeposit,
			Nonce:         uuid.NewString()[:8],
		}
		encoded := ref.Encode()
		pref := &lib.MPPreference{
			ExternalReference: encoded,
			Items: []lib.MPPreferenceItem{{
				Title:      body.Description,
				Quantity:   1,
				UnitPrice:  float64(body.Amount) / 100,
				CurrencyID: currency,
			}},
		}
		created, err := lib.GetMPClient().CreatePreference(ctx.Request.Context(), token, pref)
		if err != nil {
			log.Printf("[PaymentLink] preference creation failed for appointment %d: %s\n", appt.ID, err.Error())
			ctx.JSON(http.StatusBadGateway, gin.H{"ok": false, "error": "provider unavailable"})
			return
		}

		holdUntil := time.Now().Add(holdWindow())
		err = d.Transaction(func(tx *gorm.DB) error {
			apptID := appt.ID
			row := models.Payment{
				TenantID:          tenantID,
				MPPreferenceID:    &created.ID,
				Method:            types.METHOD_PROVIDER,
				Amount:            body.Amount,
				Currency:          currency,
				Status:            types.PAYMENT_PENDING,
				AppointmentID:     &apptID,
				ExternalReference: &encoded,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			return tx.
				Model(&models.Appointment{}).
				Where("id = ? AND tenant_id = ?", appt.ID, tenantID).
				Where("status IN ?", []types.AppointmentStatus{
					types.APPOINTMENT_SCHEDULED,
					types.APPOINTMENT_PENDING_DEPOSIT,
				}).
				Updates(map[string]any{
					"status":     types.APPOINTMENT_PENDING_DEPOSIT,
					"hold_until": holdUntil,
				}).
				Error
		})
		if err != nil {
			log.Printf("[PaymentLink] persist failed for appointment %d: %s\n", appt.ID, err.Error())
			ctx.Status(http.StatusInternalServerError)
			return
		}
		ctx.JSON(http.StatusCreated, gin.H{
			"ok":                 true,
			"init_point":         created.InitPoint,
			"preference_id":      created.ID,
			"external_reference": encoded,
			"hold_until":         holdUntil,
		})
	})

	// manual path for cash/transfer collected at the counter; the appointment
	// row is held exclusively while the settlement decision is applied
	g.POST("/appointments/:id/payments", func(ctx *gin.Context) {
		var params types.SimpleRequestParams
		if err := ctx.ShouldBindUri(&params); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
			return
		}
		var body types.CreateManualPaymentRequestBody
		if err := ctx.ShouldBindJSON(&body); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
			return
		}
		tenantID, err := uuid.Parse(ctx.GetString("tenant_id"))
		if err != nil {
			ctx.Status(http.StatusUnauthorized)
			return
		}

		currency := body.Currency
		if currency == "" {
			currency = "ARS"
		}
		d := db.GetDb()
		var appt models.Appointment
		err = d.Transaction(func(tx *gorm.DB) error {
			if err := tx.
				Clauses(clause.Locking{Strength: "UPDATE"}).
				Model(&models.Appointment{}).
				Where("id = ? AND tenant_id = ?", params.ID, tenantID).
				First(&appt).
				Error; err != nil {
				return err
			}
			apptID := appt.ID
			row := models.Payment{
				TenantID:      tenantID,
				Method:        types.PaymentMethod(body.Method),
				Amount:        body.Amount,
				Currency:      currency,
				Status:        types.PAYMENT_APPROVED,
				AppointmentID: &apptID,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			target := types.APPOINTMENT_CONFIRMED
			if payments.ClassifySettlement(appt.DepositAmount, float64(body.Amount)/100) == payments.SettlementDeposit {
				target = types.APPOINTMENT_DEPOSIT_PAID
			}
			return tx.
				Model(&models.Appointment{}).
				Where("id = ? AND tenant_id = ?", appt.ID, tenantID).
				Where("status IN ?", []types.AppointmentStatus{
					types.APPOINTMENT_SCHEDULED,
					types.APPOINTMENT_PENDING_DEPOSIT,
					types.APPOINTMENT_DEPOSIT_PAID,
				}).
				Updates(map[string]any{
					"status":          target,
					"deposit_paid_at": gorm.Expr("COALESCE(deposit_paid_at, ?)", time.Now()),
					"hold_until":      gorm.Expr("NULL"),
				}).
				Error
		})
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				ctx.Status(http.StatusNotFound)
				return
			}
			log.Printf("[ManualPayment] failed for appointment %d: %s\n", params.ID, err.Error())
			ctx.Status(http.StatusBadRequest)
			return
		}
		go func() {
			p := getProcessor()
			if p.Notifier == nil {
				return
			}
			msg := "Pago manual registrado"
			if err := p.Notifier.NotifyBusiness(context.Background(), tenantID, msg); err != nil {
				log.Printf("[ManualPayment] business notification failed: %s\n", err.Error())
			}
		}()
		ctx.Status(http.StatusCreated)
	})
}
