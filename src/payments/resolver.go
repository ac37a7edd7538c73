package payments

import (
	"context"
	"errors"
	"log"
	"sort"
	"strconv"
	"time"
	"turnos/src/lib"
	"turnos/src/models"
	"turnos/src/types"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrUnresolved means the full cascade ran out of strategies. No internal
// state is touched; the provider's at-least-once delivery or a scheduled sync
// may succeed later.
var ErrUnresolved = errors.New("payments: notification could not be resolved")

const (
	resolveMaxAttempts = 5
	resolveBackoffStep = 900 * time.Millisecond
	pendingLookback    = 24 * time.Hour
)

// Credential is one candidate tenant token. Webhooks carry no tenant hint, so
// the cascade trials each credential until one authorizes.
type Credential struct {
	TenantID    uuid.UUID
	AccessToken string
}

type ProviderAPI interface {
	GetPayment(ctx context.Context, token, id string) (*lib.MPPayment, error)
	GetMerchantOrder(ctx context.Context, token, id string) (*lib.MPMerchantOrder, error)
	SearchPaymentsByReference(ctx context.Context, token, ref string) ([]lib.MPPayment, error)
	GetPreapproval(ctx context.Context, token, id string) (*lib.MPPreapproval, error)
}

// Resolved is the outcome of the cascade: the owning tenant plus whichever
// provider entity was located.
type Resolved struct {
	TenantID     uuid.UUID
	Payment      *lib.MPPayment
	Preapproval  *lib.MPPreapproval
	Subscription *models.Subscription
	Reference    Reference
	RefOK        bool
}

type Resolver struct {
	DB            *gorm.DB
	Provider      ProviderAPI
	Credentials   []Credential
	PlatformToken string

	MaxAttempts int
	BackoffStep time.Duration
	Sleep       func(ctx context.Context, d time.Duration)
	Now         func() time.Time
}

func NewResolver(db *gorm.DB, provider ProviderAPI, creds []Credential, platformToken string) *Resolver {
	return &Resolver{
		DB:            db,
		Provider:      provider,
		Credentials:   creds,
		PlatformToken: platformToken,
		MaxAttempts:   resolveMaxAttempts,
		BackoffStep:   resolveBackoffStep,
		Sleep: func(ctx context.Context, d time.Duration) {
			select {
			case <-ctx.Done():
			case <-time.After(d):
			}
		},
		Now: time.Now,
	}
}

func (r *Resolver) Resolve(ctx context.Context, n Notification) (*Resolved, error) {
	switch n.Topic {
	case TopicPayment:
		return r.resolvePayment(ctx, n.EntityID)
	case TopicMerchantOrder:
		return r.resolveMerchantOrder(ctx, n.EntityID)
	case TopicPreapproval:
		return r.resolvePreapproval(ctx, n.EntityID)
	}
	return nil, ErrUnresolved
}

// resolvePayment trials the payment id against every active credential; the
// owning tenant is identified by which token authorized. Provider
// read-after-write lag can exceed a second, so failed passes are retried with
// a linearly growing backoff before the brute-force fallback.
func (r *Resolver) resolvePayment(ctx context.Context, id string) (*Resolved, error) {
	for attempt := 1; attempt <= r.MaxAttempts; attempt++ {
		for _, cred := range r.Credentials {
			p, err := r.Provider.GetPayment(ctx, cred.AccessToken, id)
			if err != nil {
				if errors.Is(err, lib.ErrUnauthorized) || errors.Is(err, lib.ErrNotFound) {
					continue
				}
				log.Printf("[Resolver] payment %s fetch failed for tenant %s: %s\n", id, cred.TenantID, err.Error())
				continue
			}
			return r.withReference(cred.TenantID, p), nil
		}
		if attempt < r.MaxAttempts {
			r.Sleep(ctx, time.Duration(attempt)*r.BackoffStep)
		}
	}
	return r.resolveRecentPending(ctx)
}

// resolvePaymentOnce is the single-pass variant used once a merchant order has
// already named the payment id.
func (r *Resolver) resolvePaymentOnce(ctx context.Context, id string) (*Resolved, error) {
	for _, cred := range r.Credentials {
		p, err := r.Provider.GetPayment(ctx, cred.AccessToken, id)
		if err != nil {
			if errors.Is(err, lib.ErrUnauthorized) || errors.Is(err, lib.ErrNotFound) {
				continue
			}
			log.Printf("[Resolver] payment %s fetch failed for tenant %s: %s\n", id, cred.TenantID, err.Error())
			continue
		}
		return r.withReference(cred.TenantID, p), nil
	}
	return nil, ErrUnresolved
}

func (r *Resolver) resolveMerchantOrder(ctx context.Context, id string) (*Resolved, error) {
	for attempt := 1; attempt <= r.MaxAttempts; attempt++ {
		for _, cred := range r.Credentials {
			order, err := r.Provider.GetMerchantOrder(ctx, cred.AccessToken, id)
			if err != nil {
				if errors.Is(err, lib.ErrUnauthorized) || errors.Is(err, lib.ErrNotFound) {
					continue
				}
				log.Printf("[Resolver] merchant order %s fetch failed for tenant %s: %s\n", id, cred.TenantID, err.Error())
				continue
			}
			if pid := pickOrderPayment(order.Payments); pid != "" {
				if res, err := r.resolvePaymentOnce(ctx, pid); err == nil {
					return res, nil
				}
			}
			// order listed no usable payment; search by its external reference
			if order.ExternalReference != "" {
				if p := r.searchReference(ctx, cred, order.ExternalReference); p != nil {
					return r.withReference(cred.TenantID, p), nil
				}
			}
		}
		if attempt < r.MaxAttempts {
			r.Sleep(ctx, time.Duration(attempt)*r.BackoffStep)
		}
	}
	return r.resolveRecentPending(ctx)
}

func (r *Resolver) searchReference(ctx context.Context, cred Credential, ref string) *lib.MPPayment {
	results, err := r.Provider.SearchPaymentsByReference(ctx, cred.AccessToken, ref)
	if err != nil {
		if !errors.Is(err, lib.ErrUnauthorized) && !errors.Is(err, lib.ErrNotFound) {
			log.Printf("[Resolver] search by reference %q failed for tenant %s: %s\n", ref, cred.TenantID, err.Error())
		}
		return nil
	}
	return pickPayment(results)
}

// resolveRecentPending is the last-resort brute force: enumerate appointments
// still waiting on a deposit and probe the provider search endpoint with the
// candidate reference of each one. Only the owning tenant's credentials are
// probed so a hit can never cross tenants.
func (r *Resolver) resolveRecentPending(ctx context.Context) (*Resolved, error) {
	now := r.Now()
	var appts []models.Appointment
	if err := r.DB.
		Model(&models.Appointment{}).
		Where("status = ?", types.APPOINTMENT_PENDING_DEPOSIT).
		Where("created_at > ? OR hold_until > ?", now.Add(-pendingLookback), now).
		Order("created_at DESC").
		Find(&appts).
		Error; err != nil {
		log.Printf("[Resolver] pending appointment scan failed: %s\n", err.Error())
		return nil, ErrUnresolved
	}
	for _, appt := range appts {
		ref := AppointmentProbeReference(appt.TenantID.String(), appt.ID)
		for _, cred := range r.Credentials {
			if cred.TenantID != appt.TenantID {
				continue
			}
			if p := r.searchReference(ctx, cred, ref); p != nil {
				res := r.withReference(cred.TenantID, p)
				if !res.RefOK {
					res.Reference = Reference{Version: 1, TenantID: appt.TenantID.String(), AppointmentID: appt.ID}
					res.RefOK = true
				}
				return res, nil
			}
		}
	}
	return nil, ErrUnresolved
}

// resolvePreapproval tries the platform token first (the platform's own
// subscriptions), then tenant tokens, then the stored provider-subscription-id
// row, and finally the parsed correlation reference. A direct id match wins
// over a disagreeing reference-derived match.
func (r *Resolver) resolvePreapproval(ctx context.Context, id string) (*Resolved, error) {
	tokens := make([]Credential, 0, len(r.Credentials)+1)
	if r.PlatformToken != "" {
		tokens = append(tokens, Credential{AccessToken: r.PlatformToken})
	}
	tokens = append(tokens, r.Credentials...)

	for _, cred := range tokens {
		pre, err := r.Provider.GetPreapproval(ctx, cred.AccessToken, id)
		if err != nil {
			if errors.Is(err, lib.ErrUnauthorized) || errors.Is(err, lib.ErrNotFound) {
				continue
			}
			log.Printf("[Resolver] preapproval %s fetch failed: %s\n", id, err.Error())
			continue
		}
		return r.matchPreapprovalRow(pre, cred.TenantID)
	}

	// no token could read it; fall back to our own subscription row
	var sub models.Subscription
	err := r.DB.
		Model(&models.Subscription{}).
		Where("mp_preapproval_id = ?", id).
		First(&sub).
		Error
	if err == nil {
		return &Resolved{TenantID: sub.TenantID, Subscription: &sub}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("[Resolver] subscription lookup by preapproval id %s failed: %s\n", id, err.Error())
	}
	return nil, ErrUnresolved
}

func (r *Resolver) matchPreapprovalRow(pre *lib.MPPreapproval, tokenTenant uuid.UUID) (*Resolved, error) {
	var sub models.Subscription
	err := r.DB.
		Model(&models.Subscription{}).
		Where("mp_preapproval_id = ?", pre.ID).
		First(&sub).
		Error
	if err == nil {
		if ref, ok := ParseReference(pre.ExternalReference); ok && ref.SubscriptionID > 0 && ref.SubscriptionID != sub.ID {
			log.Printf("[Resolver] preapproval %s: direct id match (sub %d) disagrees with reference (sub %d); keeping direct match\n", pre.ID, sub.ID, ref.SubscriptionID)
		}
		return &Resolved{TenantID: sub.TenantID, Preapproval: pre, Subscription: &sub}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	ref, ok := ParseReference(pre.ExternalReference)
	if !ok || ref.SubscriptionID == 0 {
		return nil, ErrUnresolved
	}
	tenantID, perr := uuid.Parse(ref.TenantID)
	if perr != nil {
		return nil, ErrUnresolved
	}
	if err := r.DB.
		Model(&models.Subscription{}).
		Where("id = ? AND tenant_id = ?", ref.SubscriptionID, tenantID).
		First(&sub).
		Error; err != nil {
		return nil, ErrUnresolved
	}
	return &Resolved{TenantID: sub.TenantID, Preapproval: pre, Subscription: &sub, Reference: ref, RefOK: true}, nil
}

func (r *Resolver) withReference(tenantID uuid.UUID, p *lib.MPPayment) *Resolved {
	res := &Resolved{TenantID: tenantID, Payment: p}
	if ref, ok := ParseReference(p.ExternalReference); ok {
		res.Reference = ref
		res.RefOK = true
	}
	return res
}

// pickOrderPayment prefers the first approved payment, else the most recent.
func pickOrderPayment(payments []lib.MPOrderPayment) string {
	if len(payments) == 0 {
		return ""
	}
	for _, p := range payments {
		if p.Status == "approved" {
			return idString(p.ID)
		}
	}
	sorted := make([]lib.MPOrderPayment, len(payments))
	copy(sorted, payments)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].DateCreated.After(sorted[j].DateCreated)
	})
	return idString(sorted[0].ID)
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}

// pickPayment prefers an approved result, else the first.
func pickPayment(results []lib.MPPayment) *lib.MPPayment {
	if len(results) == 0 {
		return nil
	}
	for i := range results {
		if results[i].Status == "approved" {
			return &results[i]
		}
	}
	return &results[0]
}
