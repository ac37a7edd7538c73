package lib

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"
	"turnos/src/config"
)

// ErrUnauthorized means the token does not own the resource. The resolver
// treats this as "wrong tenant, try the next one", not as a transient failure.
var ErrUnauthorized = errors.New("mercadopago: unauthorized")

var ErrNotFound = errors.New("mercadopago: resource not found")

type MPPayment struct {
	ID                int64      `json:"id"`
	Status            string     `json:"status"`
	TransactionAmount float64    `json:"transaction_amount"`
	CurrencyID        string     `json:"currency_id"`
	ExternalReference string     `json:"external_reference"`
	Description       string     `json:"description"`
	DateCreated       time.Time  `json:"date_created"`
	DateApproved      *time.Time `json:"date_approved"`
}

type MPOrderPayment struct {
	ID          int64     `json:"id"`
	Status      string    `json:"status"`
	DateCreated time.Time `json:"date_created"`
}

type MPMerchantOrder struct {
	ID                int64            `json:"id"`
	Status            string           `json:"status"`
	ExternalReference string           `json:"external_reference"`
	Payments          []MPOrderPayment `json:"payments"`
}

type MPPaymentSearchResult struct {
	Results []MPPayment `json:"results"`
}

type MPPreapproval struct {
	ID                string     `json:"id"`
	Status            string     `json:"status"`
	Reason            string     `json:"reason"`
	ExternalReference string     `json:"external_reference"`
	PayerEmail        string     `json:"payer_email"`
	NextPaymentDate   *time.Time `json:"next_payment_date"`
	LastChargedDate   *time.Time `json:"last_charged_date"`
}

type MPTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

type MPPreferenceItem struct {
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id,omitempty"`
}

type MPPreference struct {
	ID                string             `json:"id"`
	InitPoint         string             `json:"init_point"`
	ExternalReference string             `json:"external_reference"`
	Items             []MPPreferenceItem `json:"items"`
}

type MPClient struct {
	BaseURL string
	http    *http.Client
}

var mpClient *MPClient

func GetMPClient() *MPClient {
	if mpClient != nil {
		return mpClient
	}
	c := &MPClient{
		BaseURL: config.MPBaseURL(),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	mpClient = c
	return c
}

// NewMPClient Replace provider client instance with custom implementation
func NewMPClient(c *MPClient) *MPClient {
	mpClient = c
	return mpClient
}

func NewMPClientWithBase(base string) *MPClient {
	return &MPClient{BaseURL: base, http: &http.Client{Timeout: 10 * time.Second}}
}

func (c *MPClient) do(ctx context.Context, method, path, token string, body any, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rdr)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	if res.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		b, _ := io.ReadAll(res.Body)
		return fmt.Errorf("mercadopago: %s %s returned %d: %s", method, path, res.StatusCode, string(b))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func (c *MPClient) GetPayment(ctx context.Context, token, id string) (*MPPayment, error) {
	var p MPPayment
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/payments/%s", id), token, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *MPClient) GetMerchantOrder(ctx context.Context, token, id string) (*MPMerchantOrder, error) {
	var o MPMerchantOrder
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/merchant_orders/%s", id), token, nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (c *MPClient) SearchPaymentsByReference(ctx context.Context, token, ref string) ([]MPPayment, error) {
	var out MPPaymentSearchResult
	path := fmt.Sprintf("/v1/payments/search?external_reference=%s", url.QueryEscape(ref))
	if err := c.do(ctx, http.MethodGet, path, token, nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

func (c *MPClient) GetPreapproval(ctx context.Context, token, id string) (*MPPreapproval, error) {
	var p MPPreapproval
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/preapproval/%s", id), token, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *MPClient) RefreshToken(ctx context.Context, clientID, clientSecret, refreshToken string) (*MPTokenResponse, error) {
	body := map[string]any{
		"grant_type":    "refresh_token",
		"client_id":     clientID,
		"client_secret": clientSecret,
		"refresh_token": refreshToken,
	}
	var out MPTokenResponse
	if err := c.do(ctx, http.MethodPost, "/oauth/token", "", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *MPClient) CreatePreference(ctx context.Context, token string, pref *MPPreference) (*MPPreference, error) {
	var out MPPreference
	if err := c.do(ctx, http.MethodPost, "/checkout/preferences", token, pref, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *MPClient) CreatePreapproval(ctx context.Context, token string, body map[string]any) (*MPPreapproval, error) {
	var out MPPreapproval
	if err := c.do(ctx, http.MethodPost, "/preapproval", token, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func TestMP() {
	c := GetMPClient()
	log.Printf("[MP] client ready, base: %s\n", c.BaseURL)
}
