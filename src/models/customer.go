package models

import (
	"turnos/src/types"

	"github.com/google/uuid"
)

type Customer struct {
	ID       uint      `gorm:"primarykey" json:"id"`
	TenantID uuid.UUID `gorm:"type:uuid;index" json:"tenant_id"`
	Name     string    `json:"name,omitempty"`
	Phone    *string   `json:"phone,omitempty"`
	Email    *string   `json:"email,omitempty"`

	types.Timestamps
}
