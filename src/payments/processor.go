package payments

import (
	"context"
	"errors"
	"fmt"
	"log"

	"gorm.io/gorm"
)

// Processor runs the background half of webhook handling: duplicate guard,
// resolution cascade, reconciliation, dispatch. The HTTP response has already
// been sent by the time Process runs, so every error ends here, logged.
type Processor struct {
	DB            *gorm.DB
	Guard         *Guard
	Provider      ProviderAPI
	Notifier      Notifier
	Tokens        *TokenResolver
	PlatformToken string
}

func NewProcessor(db *gorm.DB, guard *Guard, provider ProviderAPI, notifier Notifier, tokens *TokenResolver, platformToken string) *Processor {
	return &Processor{
		DB:            db,
		Guard:         guard,
		Provider:      provider,
		Notifier:      notifier,
		Tokens:        tokens,
		PlatformToken: platformToken,
	}
}

func (p *Processor) Process(ctx context.Context, n Notification) {
	key := fmt.Sprintf("%s:%s", n.Topic, n.EntityID)
	if !p.Guard.TryAcquire(ctx, key) {
		log.Printf("[MPWebhook] duplicate delivery %s dropped\n", key)
		return
	}
	defer p.Guard.Release(key)

	creds, err := p.Tokens.ActiveCredentials(ctx)
	if err != nil {
		log.Printf("[MPWebhook] could not load credentials: %s\n", err.Error())
		return
	}
	if len(creds) == 0 && p.PlatformToken == "" {
		log.Printf("[MPWebhook] no active credentials; dropping %s\n", key)
		return
	}

	resolver := NewResolver(p.DB, p.Provider, creds, p.PlatformToken)
	res, err := resolver.Resolve(ctx, n)
	if err != nil {
		if errors.Is(err, ErrUnresolved) {
			log.Printf("[MPWebhook] %s unresolved after full cascade; dropping\n", key)
		} else {
			log.Printf("[MPWebhook] resolution of %s failed: %s\n", key, err.Error())
		}
		return
	}

	reconciler := NewReconciler(p.DB, p.Notifier)
	if err := reconciler.Apply(ctx, res); err != nil {
		log.Printf("[MPWebhook] reconciliation of %s failed: %s\n", key, err.Error())
		return
	}
	log.Printf("[MPWebhook] %s reconciled for tenant %s\n", key, res.TenantID)
}
