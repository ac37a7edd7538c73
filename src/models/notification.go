package models

import (
	"turnos/src/types"

	"github.com/google/uuid"
)

// NotificationLog records every outbound customer/business message for audit.
type NotificationLog struct {
	ID       uuid.UUID `gorm:"primarykey;type:uuid;default:gen_random_uuid()" json:"id"`
	TenantID uuid.UUID `gorm:"type:uuid;index" json:"tenant_id"`

	Channel     string       `json:"channel"`
	Destination string       `json:"destination"`
	Body        string       `json:"body"`
	Delivered   bool         `gorm:"default:false" json:"delivered"`
	RefSource   string       `json:"ref_src"`
	RefValue    string       `json:"ref_value"`
	Metadata    *types.JSONB `gorm:"type:jsonb" json:"metadata,omitempty"`

	types.Timestamps
}
