package payments

import (
	"context"
	"errors"
	"log"
	"os"
	"turnos/src/lib"
	"turnos/src/lib/mailer"
	"turnos/src/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Notifier emits customer/business messages after a transition commits.
// Implementations must isolate their own failures; the reconciliation result
// is never rolled back because a message could not be sent.
type Notifier interface {
	NotifyCustomer(ctx context.Context, tenantID uuid.UUID, customerID uint, message string) error
	NotifyBusiness(ctx context.Context, tenantID uuid.UUID, message string) error
}

type Dispatcher struct {
	DB *gorm.DB
	WA *lib.WhatsAppClient
}

func NewDispatcher(db *gorm.DB, wa *lib.WhatsAppClient) *Dispatcher {
	return &Dispatcher{DB: db, WA: wa}
}

func (d *Dispatcher) NotifyCustomer(ctx context.Context, tenantID uuid.UUID, customerID uint, message string) error {
	var customer models.Customer
	if err := d.DB.
		Model(&models.Customer{}).
		Where("id = ? AND tenant_id = ?", customerID, tenantID).
		First(&customer).
		Error; err != nil {
		return err
	}
	if customer.Phone == nil || *customer.Phone == "" {
		log.Printf("[Dispatch] customer %d has no phone; skipping\n", customerID)
		return nil
	}
	err := d.WA.SendTextWithFallback(ctx, *customer.Phone, message, "pago_recibido_cliente", []string{customer.Name, message})
	d.logDelivery(tenantID, "whatsapp", *customer.Phone, message, "customer", err)
	return err
}

func (d *Dispatcher) NotifyBusiness(ctx context.Context, tenantID uuid.UUID, message string) error {
	var tenant models.Tenant
	if err := d.DB.
		Model(&models.Tenant{}).
		Where("id = ?", tenantID).
		First(&tenant).
		Error; err != nil {
		return err
	}
	var errs []error
	if tenant.Phone != nil && *tenant.Phone != "" {
		err := d.WA.SendTextWithFallback(ctx, *tenant.Phone, message, "pago_recibido_negocio", []string{tenant.Name, message})
		d.logDelivery(tenantID, "whatsapp", *tenant.Phone, message, "business", err)
		errs = append(errs, err)
	}
	if tenant.Email != "" {
		err := mailer.SendMail(&mailer.SendMailInput{
			From:     os.Getenv("MAIL_FROM"),
			FromName: "Turnos",
			To:       []string{tenant.Email},
			Subject:  "Pago recibido",
			Body:     message,
		})
		d.logDelivery(tenantID, "email", tenant.Email, message, "business", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) logDelivery(tenantID uuid.UUID, channel, destination, body, refSource string, sendErr error) {
	row := models.NotificationLog{
		TenantID:    tenantID,
		Channel:     channel,
		Destination: destination,
		Body:        body,
		Delivered:   sendErr == nil,
		RefSource:   refSource,
	}
	if err := d.DB.Create(&row).Error; err != nil {
		log.Printf("[Dispatch] failed writing notification log: %s\n", err.Error())
	}
}
