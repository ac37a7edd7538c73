package models

import (
	"time"
	"turnos/src/types"

	"github.com/google/uuid"
)

type Tenant struct {
	ID     uuid.UUID          `gorm:"primarykey;type:uuid;default:gen_random_uuid()" json:"id"`
	Name   string             `json:"name,omitempty"`
	Status types.TenantStatus `gorm:"default:'trial'" json:"status,omitempty"`
	Phone  *string            `json:"phone,omitempty"`
	Email  string             `json:"email,omitempty"`

	PaymentConfigs []PaymentConfig `gorm:"foreignKey:tenant_id" json:"-"`

	types.Timestamps
}

// PaymentConfig holds a tenant's provider OAuth credential. At most one row
// per tenant may have is_active=true.
type PaymentConfig struct {
	ID           uint       `gorm:"primarykey" json:"id"`
	TenantID     uuid.UUID  `gorm:"type:uuid;index:idx_active_config,unique,where:is_active" json:"tenant_id"`
	AccessToken  string     `json:"-"`
	RefreshToken *string    `json:"-"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	IsActive     bool       `gorm:"default:true" json:"is_active"`
	MPUserID     *string    `json:"mp_user_id,omitempty"`

	Tenant Tenant `gorm:"foreignKey:tenant_id" json:"-"`

	types.Timestamps
}
