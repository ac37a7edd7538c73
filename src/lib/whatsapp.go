package lib

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/tidwall/gjson"
)

// templateLanguages are tried in order when the free-form send is refused
// because the 24h customer service window has closed (error 131047).
var templateLanguages = []string{"es", "es_AR", "es_419"}

const waWindowClosedCode = 131047

type WhatsAppClient struct {
	BaseURL string
	PhoneID string
	Token   string
	http    *http.Client
}

var waClient *WhatsAppClient

func GetWhatsAppClient() *WhatsAppClient {
	if waClient != nil {
		return waClient
	}
	base := os.Getenv("WHATSAPP_API_URL")
	if base == "" {
		base = "https://graph.facebook.com/v19.0"
	}
	c := &WhatsAppClient{
		BaseURL: base,
		PhoneID: os.Getenv("WHATSAPP_PHONE_ID"),
		Token:   os.Getenv("WHATSAPP_TOKEN"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	waClient = c
	return c
}

// NewWhatsAppClient Replace whatsapp client instance with custom implementation
func NewWhatsAppClient(c *WhatsAppClient) *WhatsAppClient {
	waClient = c
	return waClient
}

func (c *WhatsAppClient) post(ctx context.Context, payload map[string]any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/%s/messages", c.BaseURL, c.PhoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.Token))
	req.Header.Set("Content-Type", "application/json")
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		rb, _ := io.ReadAll(res.Body)
		code := gjson.GetBytes(rb, "error.code").Int()
		return &WhatsAppError{Code: int(code), Body: string(rb), Status: res.StatusCode}
	}
	return nil
}

type WhatsAppError struct {
	Code   int
	Status int
	Body   string
}

func (e *WhatsAppError) Error() string {
	return fmt.Sprintf("whatsapp: status %d code %d: %s", e.Status, e.Code, e.Body)
}

func (c *WhatsAppClient) SendText(ctx context.Context, toE164, text string) error {
	return c.post(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"to":                toE164,
		"type":              "text",
		"text":              map[string]any{"body": text},
	})
}

func (c *WhatsAppClient) SendTemplate(ctx context.Context, toE164, name, lang string, bodyParams []string) error {
	params := make([]map[string]any, 0, len(bodyParams))
	for _, p := range bodyParams {
		params = append(params, map[string]any{"type": "text", "text": p})
	}
	return c.post(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"to":                toE164,
		"type":              "template",
		"template": map[string]any{
			"name":       name,
			"language":   map[string]any{"code": lang},
			"components": []map[string]any{{"type": "body", "parameters": params}},
		},
	})
}

// SendTextWithFallback tries a free-form message first; when the provider
// refuses it because the conversation window is closed, it retries with the
// given template across the language fallback list.
func (c *WhatsAppClient) SendTextWithFallback(ctx context.Context, toE164, text, template string, bodyParams []string) error {
	err := c.SendText(ctx, toE164, text)
	if err == nil {
		return nil
	}
	waErr, ok := err.(*WhatsAppError)
	if !ok || waErr.Code != waWindowClosedCode || template == "" {
		return err
	}
	for _, lang := range templateLanguages {
		if terr := c.SendTemplate(ctx, toE164, template, lang, bodyParams); terr == nil {
			return nil
		} else {
			log.Printf("[WhatsApp] template %s (%s) failed: %s\n", template, lang, terr.Error())
		}
	}
	return err
}
