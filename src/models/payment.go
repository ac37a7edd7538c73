package models

import (
	"turnos/src/types"

	"github.com/google/uuid"
)

// Payment is append/update only for audit purposes; rows are never deleted.
type Payment struct {
	ID       uuid.UUID `gorm:"primarykey;type:uuid;default:gen_random_uuid()" json:"id"`
	TenantID uuid.UUID `gorm:"type:uuid;index" json:"tenant_id"`

	MPPaymentID    *string             `gorm:"uniqueIndex" json:"mp_payment_id,omitempty"`
	MPPreferenceID *string             `json:"mp_preference_id,omitempty"`
	Method         types.PaymentMethod `gorm:"default:'provider'" json:"method,omitempty"`
	// Amount is in minor currency units.
	Amount            int64               `json:"amount,omitempty"`
	Currency          string              `gorm:"default:'ARS'" json:"currency,omitempty"`
	Status            types.PaymentStatus `gorm:"default:'pending'" json:"status,omitempty"`
	AppointmentID     *uint               `json:"appointment_id,omitempty"`
	ExternalReference *string             `gorm:"index" json:"external_reference,omitempty"`
	Metadata          *types.JSONB        `gorm:"type:jsonb" json:"metadata,omitempty"`

	Appointment *Appointment `gorm:"foreignKey:appointment_id" json:"-"`

	types.Timestamps
}
