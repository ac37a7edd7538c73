package models

import (
	"time"
	"turnos/src/types"

	"github.com/google/uuid"
)

type Plan struct {
	ID             uint       `gorm:"primarykey" json:"id"`
	TenantID       *uuid.UUID `gorm:"type:uuid;index" json:"tenant_id,omitempty"`
	Name           string     `json:"name,omitempty"`
	Price          int64      `json:"price,omitempty"`
	Currency       string     `gorm:"default:'ARS'" json:"currency,omitempty"`
	DurationMonths int        `gorm:"default:1" json:"duration_months,omitempty"`

	types.Timestamps
}

// Subscription covers both customer-facing memberships and the tenant's own
// platform subscription, distinguished by Kind.
type Subscription struct {
	ID         uint                     `gorm:"primarykey" json:"id"`
	TenantID   uuid.UUID                `gorm:"type:uuid;index" json:"tenant_id"`
	CustomerID *uint                    `json:"customer_id,omitempty"`
	PlanID     uint                     `json:"plan_id,omitempty"`
	Kind       types.SubscriptionKind   `gorm:"default:'customer'" json:"kind,omitempty"`
	Status     types.SubscriptionStatus `gorm:"default:'pending'" json:"status,omitempty"`

	MPPreapprovalID   *string    `gorm:"index" json:"mp_preapproval_id,omitempty"`
	ExternalReference *string    `gorm:"index" json:"external_reference,omitempty"`
	NextChargeAt      *time.Time `json:"next_charge_at,omitempty"`
	LastPaymentAt     *time.Time `json:"last_payment_at,omitempty"`
	ActivatedAt       *time.Time `json:"activated_at,omitempty"`

	Plan     *Plan     `gorm:"foreignKey:plan_id" json:"plan,omitempty"`
	Customer *Customer `gorm:"foreignKey:customer_id" json:"-"`
	Tenant   *Tenant   `gorm:"foreignKey:tenant_id" json:"-"`

	types.Timestamps
}
