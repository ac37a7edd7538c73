package payments

import (
	"context"
	"errors"
	"log"
	"os"
	"time"
	"turnos/src/lib"
	"turnos/src/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrNotConfigured means the tenant has no usable provider credential. This is
// terminal for the notification being processed, not a transient failure.
var ErrNotConfigured = errors.New("payments: tenant payment not configured")

const (
	// tokens expiring within this window are refreshed eagerly
	tokenRefreshWindow = 60 * time.Second
	// new expiries are shortened by this margin relative to the provider TTL
	tokenExpiryMargin = 300 * time.Second
)

type TokenResolver struct {
	DB  *gorm.DB
	MP  *lib.MPClient
	Now func() time.Time
}

func NewTokenResolver(db *gorm.DB, mp *lib.MPClient) *TokenResolver {
	return &TokenResolver{DB: db, MP: mp, Now: time.Now}
}

// ResolveToken returns a valid provider access token for the tenant,
// transparently refreshing an expired one.
func (r *TokenResolver) ResolveToken(ctx context.Context, tenantID uuid.UUID) (string, error) {
	var cfg models.PaymentConfig
	err := r.DB.
		Model(&models.PaymentConfig{}).
		Where("tenant_id = ? AND is_active = ?", tenantID, true).
		First(&cfg).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotConfigured
		}
		return "", err
	}

	if !r.expiring(&cfg) {
		return cfg.AccessToken, nil
	}
	return r.refresh(ctx, &cfg)
}

func (r *TokenResolver) expiring(cfg *models.PaymentConfig) bool {
	return cfg.ExpiresAt == nil || !cfg.ExpiresAt.After(r.Now().Add(tokenRefreshWindow))
}

// refresh exchanges the stored refresh token for a new pair and persists it.
func (r *TokenResolver) refresh(ctx context.Context, cfg *models.PaymentConfig) (string, error) {
	if cfg.RefreshToken == nil || *cfg.RefreshToken == "" {
		return "", ErrNotConfigured
	}
	clientID := os.Getenv("MP_CLIENT_ID")
	clientSecret := os.Getenv("MP_CLIENT_SECRET")
	tok, err := r.MP.RefreshToken(ctx, clientID, clientSecret, *cfg.RefreshToken)
	if err != nil {
		log.Printf("[Token] refresh failed for tenant %s: %s\n", cfg.TenantID, err.Error())
		return "", err
	}
	if tok.AccessToken == "" {
		return "", ErrNotConfigured
	}

	expiresAt := r.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - tokenExpiryMargin)
	updates := models.PaymentConfig{
		AccessToken: tok.AccessToken,
		ExpiresAt:   &expiresAt,
	}
	if tok.RefreshToken != "" {
		updates.RefreshToken = &tok.RefreshToken
	}
	if err := r.DB.
		Model(&models.PaymentConfig{}).
		Where("id = ? AND tenant_id = ?", cfg.ID, cfg.TenantID).
		Updates(&updates).
		Error; err != nil {
		log.Printf("[Token] failed persisting refreshed token for tenant %s: %s\n", cfg.TenantID, err.Error())
		return "", err
	}
	return tok.AccessToken, nil
}

// ActiveCredentials lists every tenant credential the resolution cascade may
// trial, refreshing any token about to expire so the cascade never probes with
// a dead one. The cascade receives this as an injected ranked list.
func (r *TokenResolver) ActiveCredentials(ctx context.Context) ([]Credential, error) {
	var cfgs []models.PaymentConfig
	if err := r.DB.
		Model(&models.PaymentConfig{}).
		Where("is_active = ?", true).
		Order("updated_at DESC").
		Find(&cfgs).
		Error; err != nil {
		return nil, err
	}
	creds := make([]Credential, 0, len(cfgs))
	for i := range cfgs {
		cfg := &cfgs[i]
		token := cfg.AccessToken
		if r.expiring(cfg) {
			if refreshed, err := r.refresh(ctx, cfg); err == nil {
				token = refreshed
			}
			// on refresh failure the stored token is kept; a stale one just
			// 401s like any wrong-tenant token
		}
		if token == "" {
			continue
		}
		creds = append(creds, Credential{TenantID: cfg.TenantID, AccessToken: token})
	}
	return creds, nil
}
