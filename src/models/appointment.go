package models

import (
	"time"
	"turnos/src/types"

	"github.com/google/uuid"
)

type Appointment struct {
	ID         uint                    `gorm:"primarykey" json:"id"`
	TenantID   uuid.UUID               `gorm:"type:uuid;index" json:"tenant_id"`
	CustomerID uint                    `json:"customer_id,omitempty"`
	ServiceID  *uint                   `json:"service_id,omitempty"`
	Status     types.AppointmentStatus `gorm:"default:'scheduled'" json:"status,omitempty"`
	StartsAt   time.Time               `json:"starts_at,omitempty"`
	EndsAt     *time.Time              `json:"ends_at,omitempty"`

	// DepositAmount nil means full payment required to confirm.
	DepositAmount *int64     `json:"deposit_amount,omitempty"`
	DepositPaidAt *time.Time `json:"deposit_paid_at,omitempty"`
	HoldUntil     *time.Time `json:"hold_until,omitempty"`

	Customer *Customer `gorm:"foreignKey:customer_id" json:"customer,omitempty"`
	Tenant   *Tenant   `gorm:"foreignKey:tenant_id" json:"-"`

	types.Timestamps
}
