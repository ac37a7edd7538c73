package types

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"gorm.io/gorm"
)

type Timestamps struct {
	CreatedAt time.Time      `gorm:"autoCreateTime:nano" json:"created_at,omitempty"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime:nano" json:"updated_at,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty,omitnil"`
}

type JSONB map[string]any

func (a JSONB) Value() (driver.Value, error) {
	valueString, err := json.Marshal(a)
	return string(valueString), err
}
func (a *JSONB) Scan(value any) error {
	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	return nil
}

type TenantStatus string

const (
	TENANT_TRIAL  TenantStatus = "trial"
	TENANT_ACTIVE TenantStatus = "active"
)

type AppointmentStatus string

const (
	APPOINTMENT_SCHEDULED       AppointmentStatus = "scheduled"
	APPOINTMENT_PENDING_DEPOSIT AppointmentStatus = "pending_deposit"
	APPOINTMENT_DEPOSIT_PAID    AppointmentStatus = "deposit_paid"
	APPOINTMENT_CONFIRMED       AppointmentStatus = "confirmed"
	APPOINTMENT_CANCELED        AppointmentStatus = "cancelled"
)

type PaymentStatus string

const (
	PAYMENT_PENDING    PaymentStatus = "pending"
	PAYMENT_APPROVED   PaymentStatus = "approved"
	PAYMENT_REJECTED   PaymentStatus = "rejected"
	PAYMENT_IN_PROCESS PaymentStatus = "in_process"
)

type PaymentMethod string

const (
	METHOD_PROVIDER PaymentMethod = "provider"
	METHOD_CASH     PaymentMethod = "cash"
	METHOD_TRANSFER PaymentMethod = "transfer"
	METHOD_CARD     PaymentMethod = "card"
	METHOD_OTHER    PaymentMethod = "other"
)

type SubscriptionStatus string

const (
	SUBSCRIPTION_PENDING    SubscriptionStatus = "pending"
	SUBSCRIPTION_AUTHORIZED SubscriptionStatus = "authorized"
	SUBSCRIPTION_PAUSED     SubscriptionStatus = "paused"
	SUBSCRIPTION_CANCELED   SubscriptionStatus = "cancelled"
)

type SubscriptionKind string

const (
	SUBSCRIPTION_CUSTOMER SubscriptionKind = "customer"
	SUBSCRIPTION_PLATFORM SubscriptionKind = "platform"
)

type Env string

const (
	Local      Env = "local"
	Test       Env = "test"
	Production Env = "production"
)

type Claims struct {
	Username    string   `json:"username"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	TenantID    string   `json:"tenant_id"`
	jwt.RegisteredClaims
}

type CreatePaymentLinkRequestBody struct {
	Amount      int64  `json:"amount" binding:"required,gt=0"`
	Currency    string `json:"currency,omitempty" binding:"omitempty,currencycode"`
	Description string `json:"description,omitempty"`
}

type CreateManualPaymentRequestBody struct {
	Amount   int64  `json:"amount" binding:"required,gt=0"`
	Currency string `json:"currency,omitempty" binding:"omitempty,currencycode"`
	Method   string `json:"method" binding:"required,oneof=cash transfer card other"`
}

type CreateSubscriptionRequestBody struct {
	PlanID     uint   `json:"plan" binding:"required"`
	CustomerID *uint  `json:"customer,omitempty"`
	Kind       string `json:"kind,omitempty" binding:"omitempty,oneof=customer platform"`
	PayerEmail string `json:"payer_email,omitempty"`
}

type SimpleRequestParams struct {
	ID uint `uri:"id" binding:"required"`
}
