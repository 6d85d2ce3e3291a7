// Package sms delivers login codes by text message through the SMS Local API.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"asset-register/backend/internal/mfa"
)

const defaultTimeout = 15 * time.Second

// ErrNoPhone is returned when the user has no phone number on file.
var ErrNoPhone = errors.New("sms: user has no phone number")

// SMSLocalClient sends codes via the SMS Local bulk API (route=otp).
type SMSLocalClient struct {
	APIKey     string
	BaseURL    string
	Sender     string
	HTTPClient *http.Client
}

// NewSMSLocalClient returns a client for apiKey; baseURL and sender are optional.
func NewSMSLocalClient(apiKey, baseURL, sender string) *SMSLocalClient {
	if baseURL == "" {
		baseURL = "https://www.smslocal.com/dev/bulkV2"
	}
	return &SMSLocalClient{
		APIKey:     apiKey,
		BaseURL:    baseURL,
		Sender:     sender,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

var _ mfa.Deliverer = (*SMSLocalClient)(nil)

// Deliver texts d.Code to d.Phone. The code is never logged or echoed in errors.
func (c *SMSLocalClient) Deliver(ctx context.Context, d mfa.Delivery) error {
	if c.APIKey == "" {
		return errors.New("sms: API key not configured")
	}
	phone := digits(d.Phone)
	if phone == "" {
		return ErrNoPhone
	}
	body := map[string]any{
		"route":     "otp",
		"numbers":   phone,
		"variables": d.Code,
	}
	if c.Sender != "" {
		body["sender_id"] = c.Sender
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.APIKey)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("sms: send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sms: request failed status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}

// digits keeps only 0-9, so "+91 98765-43210" becomes "919876543210".
func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
