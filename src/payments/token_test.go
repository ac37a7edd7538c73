package payments

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
	"turnos/src/lib"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestResolveTokenReturnsCachedWhenFresh(t *testing.T) {
	tenant := uuid.New()
	gdb, mock := newMockDB(t)

	expires := time.Now().Add(2 * time.Hour)
	rows := sqlmock.NewRows([]string{"id", "tenant_id", "access_token", "refresh_token", "expires_at", "is_active"}).
		AddRow(1, tenant.String(), "cached-token", "refresh-1", expires, true)
	mock.ExpectQuery(`SELECT .* FROM "payment_configs"`).WillReturnRows(rows)

	r := NewTokenResolver(gdb, nil)
	token, err := r.ResolveToken(context.Background(), tenant)
	assert.Nil(t, err)
	assert.Equal(t, "cached-token", token)
	assert.Nil(t, mock.ExpectationsWereMet())
}

func TestResolveTokenUnconfiguredTenant(t *testing.T) {
	tenant := uuid.New()
	gdb, mock := newMockDB(t)

	mock.ExpectQuery(`SELECT .* FROM "payment_configs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "access_token"}))

	r := NewTokenResolver(gdb, nil)
	_, err := r.ResolveToken(context.Background(), tenant)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestResolveTokenRefreshesExpiredAndPersists(t *testing.T) {
	tenant := uuid.New()
	gdb, mock := newMockDB(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/oauth/token", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"fresh-token","refresh_token":"refresh-2","expires_in":21600,"token_type":"Bearer"}`))
	}))
	defer server.Close()

	expired := time.Now().Add(-time.Minute)
	rows := sqlmock.NewRows([]string{"id", "tenant_id", "access_token", "refresh_token", "expires_at", "is_active"}).
		AddRow(1, tenant.String(), "stale-token", "refresh-1", expired, true)
	mock.ExpectQuery(`SELECT .* FROM "payment_configs"`).WillReturnRows(rows)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "payment_configs"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	r := NewTokenResolver(gdb, lib.NewMPClientWithBase(server.URL))
	token, err := r.ResolveToken(context.Background(), tenant)
	assert.Nil(t, err)
	assert.Equal(t, "fresh-token", token)
	assert.Nil(t, mock.ExpectationsWereMet())
}

func TestResolveTokenExpiredWithoutRefreshToken(t *testing.T) {
	tenant := uuid.New()
	gdb, mock := newMockDB(t)

	expired := time.Now().Add(-time.Minute)
	rows := sqlmock.NewRows([]string{"id", "tenant_id", "access_token", "refresh_token", "expires_at", "is_active"}).
		AddRow(1, tenant.String(), "stale-token", nil, expired, true)
	mock.ExpectQuery(`SELECT .* FROM "payment_configs"`).WillReturnRows(rows)

	r := NewTokenResolver(gdb, nil)
	_, err := r.ResolveToken(context.Background(), tenant)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestActiveCredentialsSkipsEmptyTokens(t *testing.T) {
	tenantA := uuid.New()
	tenantB := uuid.New()
	gdb, mock := newMockDB(t)

	fresh := time.Now().Add(2 * time.Hour)
	rows := sqlmock.NewRows([]string{"id", "tenant_id", "access_token", "expires_at", "is_active"}).
		AddRow(1, tenantA.String(), "token-a", fresh, true).
		AddRow(2, tenantB.String(), "", fresh, true)
	mock.ExpectQuery(`SELECT .* FROM "payment_configs"`).WillReturnRows(rows)

	r := NewTokenResolver(gdb, nil)
	creds, err := r.ActiveCredentials(context.Background())
	assert.Nil(t, err)
	assert.Len(t, creds, 1)
	assert.Equal(t, tenantA, creds[0].TenantID)
	assert.Equal(t, "token-a", creds[0].AccessToken)
}

func TestActiveCredentialsRefreshesExpiringTokens(t *testing.T) {
	tenantA := uuid.New()
	tenantB := uuid.New()
	gdb, mock := newMockDB(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"fresh-token","refresh_token":"refresh-2","expires_in":21600,"token_type":"Bearer"}`))
	}))
	defer server.Close()

	fresh := time.Now().Add(2 * time.Hour)
	expired := time.Now().Add(-time.Minute)
	rows := sqlmock.NewRows([]string{"id", "tenant_id", "access_token", "refresh_token", "expires_at", "is_active"}).
		AddRow(1, tenantA.String(), "token-a", nil, fresh, true).
		AddRow(2, tenantB.String(), "stale-token", "refresh-1", expired, true)
	mock.ExpectQuery(`SELECT .* FROM "payment_configs"`).WillReturnRows(rows)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "payment_configs"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	r := NewTokenResolver(gdb, lib.NewMPClientWithBase(server.URL))
	creds, err := r.ActiveCredentials(context.Background())
	assert.Nil(t, err)
	assert.Len(t, creds, 2)
	assert.Equal(t, "token-a", creds[0].AccessToken)
	assert.Equal(t, "fresh-token", creds[1].AccessToken, "cascade must never probe with a dead token")
	assert.Nil(t, mock.ExpectationsWereMet())
}

func TestActiveCredentialsKeepsStoredTokenWhenRefreshFails(t *testing.T) {
	tenantA := uuid.New()
	gdb, mock := newMockDB(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	expired := time.Now().Add(-time.Minute)
	rows := sqlmock.NewRows([]string{"id", "tenant_id", "access_token", "refresh_token", "expires_at", "is_active"}).
		AddRow(1, tenantA.String(), "stale-token", "refresh-1", expired, true)
	mock.ExpectQuery(`SELECT .* FROM "payment_configs"`).WillReturnRows(rows)

	r := NewTokenResolver(gdb, lib.NewMPClientWithBase(server.URL))
	creds, err := r.ActiveCredentials(context.Background())
	assert.Nil(t, err)
	assert.Len(t, creds, 1)
	assert.Equal(t, "stale-token", creds[0].AccessToken)
}
