package payments

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
	"turnos/src/lib"
	"turnos/src/models"
	"turnos/src/types"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// amountTolerance is the slack, in major currency units, allowed when matching
// a paid amount against the configured deposit.
var amountTolerance = decimal.NewFromFloat(0.01)

// NormalizeSubscriptionStatus maps the provider's status vocabulary onto the
// internal one. Anything unknown is pending.
func NormalizeSubscriptionStatus(s string) types.SubscriptionStatus {
	switch s {
	case "authorized", "approved", "active":
		return types.SUBSCRIPTION_AUTHORIZED
	case "paused", "suspended":
		return types.SUBSCRIPTION_PAUSED
	case "cancelled", "canceled", "cancelled_by_user":
		return types.SUBSCRIPTION_CANCELED
	}
	return types.SUBSCRIPTION_PENDING
}

type Settlement int

const (
	SettlementNone Settlement = iota
	// paid amount matches the configured deposit within tolerance
	SettlementDeposit
	// no deposit configured, or paid amount exceeds the deposit beyond tolerance
	SettlementFull
	// paid amount falls short of the deposit beyond tolerance
	SettlementPartial
)

// ClassifySettlement compares a paid amount (major units) against the
// appointment's deposit (minor units, nil = full payment required).
func ClassifySettlement(depositMinor *int64, paidMajor float64) Settlement {
	paid := decimal.NewFromFloat(paidMajor)
	if depositMinor == nil || *depositMinor == 0 {
		return SettlementFull
	}
	deposit := decimal.NewFromInt(*depositMinor).Div(decimal.NewFromInt(100))
	diff := paid.Sub(deposit)
	if diff.Abs().LessThanOrEqual(amountTolerance) {
		return SettlementDeposit
	}
	if diff.GreaterThan(amountTolerance) {
		return SettlementFull
	}
	return SettlementPartial
}

type Reconciler struct {
	DB       *gorm.DB
	Notifier Notifier
	Now      func() time.Time
}

func NewReconciler(db *gorm.DB, notifier Notifier) *Reconciler {
	return &Reconciler{DB: db, Notifier: notifier, Now: time.Now}
}

// Apply routes a resolved notification to the matching branch. All writes are
// tenant-scoped and carry their idempotence precondition in the WHERE clause.
func (r *Reconciler) Apply(ctx context.Context, res *Resolved) error {
	switch {
	case res.Subscription != nil && res.Payment == nil:
		return r.applyPreapproval(ctx, res)
	case res.Payment != nil && res.RefOK && res.Reference.SubscriptionID > 0:
		return r.applySubscriptionPayment(ctx, res)
	case res.Payment != nil:
		return r.applyAppointmentPayment(ctx, res)
	}
	return errors.New("payments: nothing to reconcile")
}

// --- appointment / payment branch ---

func (r *Reconciler) applyAppointmentPayment(ctx context.Context, res *Resolved) error {
	tenantID := res.TenantID
	mp := res.Payment

	var appt models.Appointment
	var row models.Payment
	var notify bool
	var target types.AppointmentStatus

	err := r.DB.Transaction(func(tx *gorm.DB) error {
		if err := r.upsertPaymentRow(tx, res, &row); err != nil {
			return err
		}

		apptID := uint(0)
		if res.RefOK && res.Reference.AppointmentID > 0 {
			apptID = res.Reference.AppointmentID
		} else if row.AppointmentID != nil {
			apptID = *row.AppointmentID
		}
		if apptID == 0 {
			log.Printf("[Reconciler] payment %d has no appointment link; stored for audit only\n", mp.ID)
			return nil
		}
		if err := tx.
			Model(&models.Appointment{}).
			Where("id = ? AND tenant_id = ?", apptID, tenantID).
			First(&appt).
			Error; err != nil {
			return err
		}

		if row.AppointmentID == nil {
			if err := tx.
				Model(&models.Payment{}).
				Where("id = ? AND tenant_id = ?", row.ID, tenantID).
				Updates(&models.Payment{AppointmentID: &appt.ID}).
				Error; err != nil {
				return err
			}
		}

		now := r.Now()
		switch mp.Status {
		case "approved":
			switch ClassifySettlement(appt.DepositAmount, mp.TransactionAmount) {
			case SettlementDeposit:
				target = types.APPOINTMENT_DEPOSIT_PAID
			case SettlementFull:
				target = types.APPOINTMENT_CONFIRMED
			case SettlementPartial:
				log.Printf("[Reconciler] payment %d underpays deposit for appointment %d; leaving status %s\n", mp.ID, appt.ID, appt.Status)
				return nil
			}
			// idempotence precondition: only act when the status would change
			// or the deposit timestamp was never recorded
			if appt.Status == target && appt.DepositPaidAt != nil {
				return nil
			}
			updates := map[string]any{
				"status":          target,
				"deposit_paid_at": gorm.Expr("COALESCE(deposit_paid_at, ?)", now),
			}
			if target == types.APPOINTMENT_CONFIRMED {
				updates["hold_until"] = gorm.Expr("NULL")
			}
			result := tx.
				Model(&models.Appointment{}).
				Where("id = ? AND tenant_id = ?", appt.ID, tenantID).
				Where("status IN ?", []types.AppointmentStatus{
					types.APPOINTMENT_SCHEDULED,
					types.APPOINTMENT_PENDING_DEPOSIT,
					types.APPOINTMENT_DEPOSIT_PAID,
				}).
				Updates(updates)
			if result.Error != nil {
				return result.Error
			}
			notify = result.RowsAffected > 0 && appt.DepositPaidAt == nil
		case "rejected":
			target = types.APPOINTMENT_CANCELED
			// a late rejection must not tear down an already paid appointment
			return tx.
				Model(&models.Appointment{}).
				Where("id = ? AND tenant_id = ?", appt.ID, tenantID).
				Where("status IN ?", []types.AppointmentStatus{
					types.APPOINTMENT_SCHEDULED,
					types.APPOINTMENT_PENDING_DEPOSIT,
				}).
				Updates(map[string]any{
					"status":     types.APPOINTMENT_CANCELED,
					"hold_until": gorm.Expr("NULL"),
				}).
				Error
		case "pending", "in_process":
			target = types.APPOINTMENT_PENDING_DEPOSIT
			// regression guard: a stale pending must never overwrite a
			// terminal state, regardless of arrival order
			return tx.
				Model(&models.Appointment{}).
				Where("id = ? AND tenant_id = ?", appt.ID, tenantID).
				Where("status IN ?", []types.AppointmentStatus{
					types.APPOINTMENT_SCHEDULED,
					types.APPOINTMENT_PENDING_DEPOSIT,
				}).
				Updates(map[string]any{"status": types.APPOINTMENT_PENDING_DEPOSIT}).
				Error
		default:
			log.Printf("[Reconciler] payment %d has unhandled status %q\n", mp.ID, mp.Status)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if notify {
		r.notifyDepositResult(ctx, &appt, mp, target)
	}
	return nil
}

// upsertPaymentRow locates the payment row by provider id, then by the
// correlation reference, and lazily inserts one on first notification. Rows
// are append/update only.
func (r *Reconciler) upsertPaymentRow(tx *gorm.DB, res *Resolved, row *models.Payment) error {
	mp := res.Payment
	tenantID := res.TenantID
	mpID := idString(mp.ID)
	amount := decimal.NewFromFloat(mp.TransactionAmount).Mul(decimal.NewFromInt(100)).IntPart()

	err := tx.
		Model(&models.Payment{}).
		Where("mp_payment_id = ? AND tenant_id = ?", mpID, tenantID).
		First(row).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) && mp.ExternalReference != "" {
		err = tx.
			Model(&models.Payment{}).
			Where("external_reference = ? AND tenant_id = ? AND mp_payment_id IS NULL", mp.ExternalReference, tenantID).
			Order("created_at DESC").
			First(row).
			Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		*row = models.Payment{
			TenantID:    tenantID,
			MPPaymentID: &mpID,
			Method:      types.METHOD_PROVIDER,
			Amount:      amount,
			Currency:    mp.CurrencyID,
			Status:      types.PaymentStatus(mp.Status),
		}
		if mp.ExternalReference != "" {
			ref := mp.ExternalReference
			row.ExternalReference = &ref
		}
		if res.RefOK && res.Reference.AppointmentID > 0 {
			apptID := res.Reference.AppointmentID
			row.AppointmentID = &apptID
		}
		return tx.Create(row).Error
	}
	if err != nil {
		return err
	}
	return tx.
		Model(&models.Payment{}).
		Where("id = ? AND tenant_id = ?", row.ID, tenantID).
		Updates(map[string]any{
			"mp_payment_id": mpID,
			"status":        mp.Status,
			"amount":        amount,
			"currency":      mp.CurrencyID,
		}).
		Error
}

func (r *Reconciler) notifyDepositResult(ctx context.Context, appt *models.Appointment, mp *lib.MPPayment, target types.AppointmentStatus) {
	if r.Notifier == nil {
		return
	}
	label := "Seña recibida"
	if target == types.APPOINTMENT_CONFIRMED {
		label = "Pago recibido, turno confirmado"
	}
	msg := fmt.Sprintf("%s: turno #%d, monto %.2f %s", label, appt.ID, mp.TransactionAmount, mp.CurrencyID)
	if err := r.Notifier.NotifyCustomer(ctx, appt.TenantID, appt.CustomerID, msg); err != nil {
		log.Printf("[Reconciler] customer notification for appointment %d failed: %s\n", appt.ID, err.Error())
	}
	if err := r.Notifier.NotifyBusiness(ctx, appt.TenantID, msg); err != nil {
		log.Printf("[Reconciler] business notification for appointment %d failed: %s\n", appt.ID, err.Error())
	}
}

// --- customer subscription payment branch (signup/renewal/upgrade) ---

func (r *Reconciler) applySubscriptionPayment(ctx context.Context, res *Resolved) error {
	tenantID := res.TenantID
	mp := res.Payment
	ref := res.Reference

	return r.DB.Transaction(func(tx *gorm.DB) error {
		var row models.Payment
		if err := r.upsertPaymentRow(tx, res, &row); err != nil {
			return err
		}

		var sub models.Subscription
		if err := tx.
			Model(&models.Subscription{}).
			Preload("Plan").
			Where("id = ? AND tenant_id = ?", ref.SubscriptionID, tenantID).
			First(&sub).
			Error; err != nil {
			return err
		}

		now := r.Now()
		switch mp.Status {
		case "approved":
			// a stale approval must not revive a cancelled membership
			if sub.Status == types.SUBSCRIPTION_CANCELED {
				log.Printf("[Reconciler] subscription %d already cancelled; ignoring approved payment %d\n", sub.ID, mp.ID)
				return nil
			}
			months := 1
			if sub.Plan != nil && sub.Plan.DurationMonths > 0 {
				months = sub.Plan.DurationMonths
			}
			base := now
			if sub.NextChargeAt != nil && sub.NextChargeAt.After(base) {
				base = *sub.NextChargeAt
			}
			next := base.AddDate(0, months, 0)
			paidAt := now
			if mp.DateApproved != nil {
				paidAt = *mp.DateApproved
			}
			updates := map[string]any{
				"status":         types.SUBSCRIPTION_AUTHORIZED,
				"next_charge_at": next,
				"last_payment_at": gorm.Expr(
					"GREATEST(COALESCE(last_payment_at, ?), ?)", paidAt, paidAt),
				"activated_at": gorm.Expr("COALESCE(activated_at, ?)", now),
			}
			if err := tx.
				Model(&models.Subscription{}).
				Where("id = ? AND tenant_id = ?", sub.ID, tenantID).
				Where("status <> ?", types.SUBSCRIPTION_CANCELED).
				Where("last_payment_at IS NULL OR last_payment_at < ?", paidAt).
				Updates(updates).
				Error; err != nil {
				return err
			}
			if sub.Kind == types.SUBSCRIPTION_PLATFORM {
				return promoteTenant(tx, tenantID)
			}
		case "rejected":
			if ref.Action == ActionRenewal || ref.Action == ActionUpgrade {
				// a failed renewal must not destroy a previously active
				// membership; the scheduled renewal job retries pending rows
				return tx.
					Model(&models.Subscription{}).
					Where("id = ? AND tenant_id = ?", sub.ID, tenantID).
					Where("status <> ?", types.SUBSCRIPTION_CANCELED).
					Updates(map[string]any{"status": types.SUBSCRIPTION_PENDING}).
					Error
			}
			return tx.
				Model(&models.Subscription{}).
				Where("id = ? AND tenant_id = ?", sub.ID, tenantID).
				Where("status = ?", types.SUBSCRIPTION_PENDING).
				Updates(map[string]any{"status": types.SUBSCRIPTION_CANCELED}).
				Error
		}
		return nil
	})
}

// --- preapproval branch ---

func (r *Reconciler) applyPreapproval(ctx context.Context, res *Resolved) error {
	sub := res.Subscription
	tenantID := res.TenantID
	pre := res.Preapproval

	// Status transitions come from the provider payload only. A row matched
	// without one (no token could read the preapproval) carries no status.
	if pre == nil {
		log.Printf("[Reconciler] subscription %d matched without a preapproval payload; nothing to apply\n", sub.ID)
		return nil
	}
	normalized := NormalizeSubscriptionStatus(pre.Status)

	// regression guard: a stale pending must not revive a cancelled mandate
	if sub.Status == types.SUBSCRIPTION_CANCELED && normalized == types.SUBSCRIPTION_PENDING {
		log.Printf("[Reconciler] subscription %d already cancelled; ignoring stale %q\n", sub.ID, pre.Status)
		return nil
	}

	return r.DB.Transaction(func(tx *gorm.DB) error {
		now := r.Now()
		updates := map[string]any{"status": normalized}
		if pre.LastChargedDate != nil {
			updates["last_payment_at"] = gorm.Expr(
				"GREATEST(COALESCE(last_payment_at, ?), ?)", *pre.LastChargedDate, *pre.LastChargedDate)
		}
		if pre.NextPaymentDate != nil {
			updates["next_charge_at"] = gorm.Expr(
				"GREATEST(COALESCE(next_charge_at, ?), ?)", *pre.NextPaymentDate, *pre.NextPaymentDate)
		}
		if normalized == types.SUBSCRIPTION_AUTHORIZED {
			updates["activated_at"] = gorm.Expr("COALESCE(activated_at, ?)", now)
		}
		result := tx.
			Model(&models.Subscription{}).
			Where("id = ? AND tenant_id = ?", sub.ID, tenantID).
			Where("status = ?", sub.Status).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			// another delivery won the race; treat as success
			return nil
		}

		entered := normalized == types.SUBSCRIPTION_AUTHORIZED && sub.Status != types.SUBSCRIPTION_AUTHORIZED
		if entered && sub.Kind == types.SUBSCRIPTION_PLATFORM {
			return promoteTenant(tx, tenantID)
		}
		return nil
	})
}

// promoteTenant moves a trial tenant to active. One-way ratchet: nothing ever
// reverts an active tenant back to trial.
func promoteTenant(tx *gorm.DB, tenantID any) error {
	return tx.
		Model(&models.Tenant{}).
		Where("id = ? AND status = ?", tenantID, types.TENANT_TRIAL).
		Updates(map[string]any{"status": types.TENANT_ACTIVE}).
		Error
}
