package common

import (
	"context"
	"log"
	"time"
	"turnos/src/config"
	"turnos/src/db"
	"turnos/src/lib"
	"turnos/src/models"
	"turnos/src/payments"
	"turnos/src/types"
)

// RegisterSweeps installs the periodic jobs that backstop the webhook path:
// the renewal sweep re-searches the provider for pending renewals the webhook
// may have missed, and the hold sweep expires unpaid deposit holds.
func RegisterSweeps() {
	if _, err := lib.CreateCronJob(RenewalSweep, 15*time.Minute); err != nil {
		log.Printf("[Sweeps] could not register renewal sweep: %s\n", err.Error())
	}
	if _, err := lib.CreateCronJob(HoldExpirySweep, 5*time.Minute); err != nil {
		log.Printf("[Sweeps] could not register hold sweep: %s\n", err.Error())
	}
}

// RenewalSweep retries pending renewals past their charge date. Rejections
// left these rows in pending; if the customer has since paid, the search by
// stored reference finds the approved payment and reconciliation catches up.
func RenewalSweep() {
	d := db.GetDb()
	ctx := context.Background()
	now := time.Now()

	var subs []models.Subscription
	if err := d.
		Model(&models.Subscription{}).
		Preload("Plan").
		Where("kind = ? AND status = ?", types.SUBSCRIPTION_CUSTOMER, types.SUBSCRIPTION_PENDING).
		Where("next_charge_at IS NOT NULL AND next_charge_at < ?", now).
		Where("external_reference IS NOT NULL").
		Find(&subs).
		Error; err != nil {
		log.Printf("[RenewalSweep] scan failed: %s\n", err.Error())
		return
	}
	if len(subs) == 0 {
		return
	}

	mp := lib.GetMPClient()
	creds, err := payments.NewTokenResolver(d, mp).ActiveCredentials(ctx)
	if err != nil {
		log.Printf("[RenewalSweep] could not load credentials: %s\n", err.Error())
		return
	}
	notifier := payments.NewDispatcher(d, lib.GetWhatsAppClient())
	reconciler := payments.NewReconciler(d, notifier)

	for _, sub := range subs {
		for _, cred := range creds {
			if cred.TenantID != sub.TenantID {
				continue
			}
			results, err := mp.SearchPaymentsByReference(ctx, cred.AccessToken, *sub.ExternalReference)
			if err != nil {
				log.Printf("[RenewalSweep] search failed for subscription %d: %s\n", sub.ID, err.Error())
				continue
			}
			for i := range results {
				if results[i].Status != "approved" {
					continue
				}
				ref, ok := payments.ParseReference(results[i].ExternalReference)
				if !ok {
					ref = payments.Reference{
						Version:        2,
						TenantID:       sub.TenantID.String(),
						SubscriptionID: sub.ID,
						Action:         payments.ActionRenewal,
					}
				}
				res := &payments.Resolved{
					TenantID:  sub.TenantID,
					Payment:   &results[i],
					Reference: ref,
					RefOK:     true,
				}
				if err := reconciler.Apply(ctx, res); err != nil {
					log.Printf("[RenewalSweep] reconciliation failed for subscription %d: %s\n", sub.ID, err.Error())
				}
				break
			}
			break
		}
	}
}

// HoldExpirySweep cancels appointments whose deposit hold lapsed unpaid.
func HoldExpirySweep() {
	d := db.GetDb()
	result := d.
		Model(&models.Appointment{}).
		Where("status = ?", types.APPOINTMENT_PENDING_DEPOSIT).
		Where("hold_until IS NOT NULL AND hold_until < ?", time.Now()).
		Where("deposit_paid_at IS NULL").
		Updates(map[string]any{"status": types.APPOINTMENT_CANCELED})
	if result.Error != nil {
		log.Printf("[HoldSweep] failed: %s\n", result.Error.Error())
		return
	}
	if result.RowsAffected > 0 {
		log.Printf("[HoldSweep] expired %d unpaid holds (env: %s)\n", result.RowsAffected, config.API_ENV)
	}
}
