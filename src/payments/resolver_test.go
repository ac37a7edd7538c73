package payments

import (
	"context"
	"log"
	"testing"
	"time"
	"turnos/src/lib"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		log.Fatalf("An error '%s' was not expected when opening a stub database connection", err)
	}
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{})
	if err != nil {
		log.Fatalf("An error '%s' was not expected when opening gorm database", err)
	}
	return gormDB, mock
}

type fakeProvider struct {
	payments     map[string]map[string]*lib.MPPayment
	orders       map[string]map[string]*lib.MPMerchantOrder
	searches     map[string]map[string][]lib.MPPayment
	preapprovals map[string]map[string]*lib.MPPreapproval

	paymentCalls int
}

func (f *fakeProvider) GetPayment(ctx context.Context, token, id string) (*lib.MPPayment, error) {
	f.paymentCalls++
	byToken, ok := f.payments[token]
	if !ok {
		return nil, lib.ErrUnauthorized
	}
	p, ok := byToken[id]
	if !ok {
		return nil, lib.ErrNotFound
	}
	return p, nil
}

func (f *fakeProvider) GetMerchantOrder(ctx context.Context, token, id string) (*lib.MPMerchantOrder, error) {
	byToken, ok := f.orders[token]
	if !ok {
		return nil, lib.ErrUnauthorized
	}
	o, ok := byToken[id]
	if !ok {
		return nil, lib.ErrNotFound
	}
	return o, nil
}

func (f *fakeProvider) SearchPaymentsByReference(ctx context.Context, token, ref string) ([]lib.MPPayment, error) {
	byToken, ok := f.searches[token]
	if !ok {
		return nil, lib.ErrUnauthorized
	}
	return byToken[ref], nil
}

func (f *fakeProvider) GetPreapproval(ctx context.Context, token, id string) (*lib.MPPreapproval, error) {
	byToken, ok := f.preapprovals[token]
	if !ok {
		return nil, lib.ErrUnauthorized
	}
	p, ok := byToken[id]
	if !ok {
		return nil, lib.ErrNotFound
	}
	return p, nil
}

func fastResolver(db *gorm.DB, provider ProviderAPI, creds []Credential, platformToken string) *Resolver {
	r := NewResolver(db, provider, creds, platformToken)
	r.Sleep = func(ctx context.Context, d time.Duration) {}
	return r
}

func TestResolvePaymentTrialsAllTenantTokens(t *testing.T) {
	tenantA := uuid.New()
	tenantB := uuid.New()
	provider := &fakeProvider{
		payments: map[string]map[string]*lib.MPPayment{
			"token-b": {"10": {ID: 10, Status: "approved", TransactionAmount: 500}},
		},
	}
	creds := []Credential{
		{TenantID: tenantA, AccessToken: "token-a"},
		{TenantID: tenantB, AccessToken: "token-b"},
	}
	r := fastResolver(nil, provider, creds, "")

	res, err := r.Resolve(context.Background(), Notification{Topic: TopicPayment, EntityID: "10"})
	assert.Nil(t, err)
	assert.Equal(t, tenantB, res.TenantID, "owning tenant is the one whose token authorized")
	assert.Equal(t, int64(10), res.Payment.ID)
}

func TestResolveMerchantOrderPrefersApprovedPayment(t *testing.T) {
	tenantA := uuid.New()
	now := time.Now()
	provider := &fakeProvider{
		orders: map[string]map[string]*lib.MPMerchantOrder{
			"token-a": {"55": {
				ID: 55,
				Payments: []lib.MPOrderPayment{
					{ID: 6, Status: "rejected", DateCreated: now},
					{ID: 7, Status: "approved", DateCreated: now.Add(-time.Hour)},
				},
			}},
		},
		payments: map[string]map[string]*lib.MPPayment{
			"token-a": {"7": {ID: 7, Status: "approved", TransactionAmount: 500}},
		},
	}
	creds := []Credential{{TenantID: tenantA, AccessToken: "token-a"}}
	r := fastResolver(nil, provider, creds, "")

	res, err := r.Resolve(context.Background(), Notification{Topic: TopicMerchantOrder, EntityID: "55"})
	assert.Nil(t, err)
	assert.Equal(t, int64(7), res.Payment.ID)
	assert.Equal(t, tenantA, res.TenantID)
}

func TestResolveMerchantOrderFallsBackToReferenceSearch(t *testing.T) {
	tenantA := uuid.New()
	ref := "v2:t=" + tenantA.String() + ":a=5:x=deposit"
	provider := &fakeProvider{
		orders: map[string]map[string]*lib.MPMerchantOrder{
			"token-a": {"55": {ID: 55, ExternalReference: ref}},
		},
		searches: map[string]map[string][]lib.MPPayment{
			"token-a": {ref: {
				{ID: 8, Status: "pending", ExternalReference: ref},
				{ID: 9, Status: "approved", ExternalReference: ref},
			}},
		},
	}
	creds := []Credential{{TenantID: tenantA, AccessToken: "token-a"}}
	r := fastResolver(nil, provider, creds, "")

	res, err := r.Resolve(context.Background(), Notification{Topic: TopicMerchantOrder, EntityID: "55"})
	assert.Nil(t, err)
	assert.Equal(t, int64(9), res.Payment.ID, "approved result preferred over first")
	assert.True(t, res.RefOK)
	assert.Equal(t, uint(5), res.Reference.AppointmentID)
}

func TestResolveFallsThroughToRecentPendingBruteForce(t *testing.T) {
	tenantB := uuid.New()
	probe := AppointmentProbeReference(tenantB.String(), 31)
	provider := &fakeProvider{
		// the direct path authorizes nowhere
		searches: map[string]map[string][]lib.MPPayment{
			"token-b": {probe: {{ID: 12, Status: "approved", TransactionAmount: 500, ExternalReference: probe}}},
		},
	}
	creds := []Credential{{TenantID: tenantB, AccessToken: "token-b"}}

	gdb, mock := newMockDB(t)
	rows := sqlmock.NewRows([]string{"id", "tenant_id", "customer_id", "status", "created_at"}).
		AddRow(31, tenantB.String(), 1, "pending_deposit", time.Now().Add(-time.Hour))
	mock.ExpectQuery(`SELECT .* FROM "appointments"`).WillReturnRows(rows)

	r := fastResolver(gdb, provider, creds, "")
	res, err := r.Resolve(context.Background(), Notification{Topic: TopicPayment, EntityID: "999"})
	assert.Nil(t, err)
	assert.Equal(t, tenantB, res.TenantID)
	assert.Equal(t, int64(12), res.Payment.ID)
	assert.True(t, res.RefOK)
	assert.Equal(t, uint(31), res.Reference.AppointmentID)
	assert.Equal(t, r.MaxAttempts*len(creds), provider.paymentCalls, "direct path exhausted before brute force")
}

func TestResolveUnresolvedAfterFullCascade(t *testing.T) {
	tenantA := uuid.New()
	provider := &fakeProvider{}
	creds := []Credential{{TenantID: tenantA, AccessToken: "token-a"}}

	gdb, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT .* FROM "appointments"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "status"}))

	r := fastResolver(gdb, provider, creds, "")
	_, err := r.Resolve(context.Background(), Notification{Topic: TopicPayment, EntityID: "999"})
	assert.ErrorIs(t, err, ErrUnresolved)
}

func TestResolvePreapprovalDirectRowMatch(t *testing.T) {
	tenantX := uuid.New()
	provider := &fakeProvider{
		preapprovals: map[string]map[string]*lib.MPPreapproval{
			"platform-token": {"pre_9": {
				ID:     "pre_9",
				Status: "authorized",
				// reference disagrees with the stored row; direct match wins
				ExternalReference: "v2:t=" + tenantX.String() + ":s=99:p=1:x=signup",
			}},
		},
	}

	gdb, mock := newMockDB(t)
	rows := sqlmock.NewRows([]string{"id", "tenant_id", "kind", "status", "mp_preapproval_id"}).
		AddRow(4, tenantX.String(), "platform", "pending", "pre_9")
	mock.ExpectQuery(`SELECT .* FROM "subscriptions"`).WillReturnRows(rows)

	r := fastResolver(gdb, provider, nil, "platform-token")
	res, err := r.Resolve(context.Background(), Notification{Topic: TopicPreapproval, EntityID: "pre_9"})
	assert.Nil(t, err)
	assert.Equal(t, uint(4), res.Subscription.ID)
	assert.Equal(t, tenantX, res.TenantID)
	assert.Equal(t, "authorized", res.Preapproval.Status)
}

func TestResolvePreapprovalFallsBackToStoredRow(t *testing.T) {
	tenantX := uuid.New()
	provider := &fakeProvider{} // no token can read the preapproval

	gdb, mock := newMockDB(t)
	rows := sqlmock.NewRows([]string{"id", "tenant_id", "kind", "status", "mp_preapproval_id"}).
		AddRow(6, tenantX.String(), "customer", "authorized", "pre_1")
	mock.ExpectQuery(`SELECT .* FROM "subscriptions"`).WillReturnRows(rows)

	r := fastResolver(gdb, provider, []Credential{{TenantID: tenantX, AccessToken: "t"}}, "")
	res, err := r.Resolve(context.Background(), Notification{Topic: TopicPreapproval, EntityID: "pre_1"})
	assert.Nil(t, err)
	assert.Equal(t, uint(6), res.Subscription.ID)
	assert.Nil(t, res.Preapproval)
}
