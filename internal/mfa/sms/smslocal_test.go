package sms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"asset-register/backend/internal/mfa"
)

func TestNewSMSLocalClient_Defaults(t *testing.T) {
	client := NewSMSLocalClient("api-key", "", "")
	if client.BaseURL != "https://www.smslocal.com/dev/bulkV2" {
		t.Errorf("BaseURL = %q, want default", client.BaseURL)
	}
	if client.HTTPClient == nil || client.HTTPClient.Timeout != defaultTimeout {
		t.Fatalf("HTTPClient = %+v, want timeout %v", client.HTTPClient, defaultTimeout)
	}
}

func TestDeliver_Success(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		if r.Header.Get("Authorization") != "test-api-key" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"success"}`))
	}))
	defer server.Close()

	client := NewSMSLocalClient("test-api-key", server.URL, "ASSETS")
	err := client.Deliver(context.Background(), mfa.Delivery{Phone: "+91 98765-43210", Code: "123456"})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if body["route"] != "otp" || body["numbers"] != "919876543210" || body["variables"] != "123456" {
		t.Errorf("body = %v", body)
	}
	if body["sender_id"] != "ASSETS" {
		t.Errorf("sender_id = %v", body["sender_id"])
	}
}

func TestDeliver_Rejections(t *testing.T) {
	if err := NewSMSLocalClient("", "", "").Deliver(context.Background(), mfa.Delivery{Phone: "1", Code: "1"}); err == nil ||
		!strings.Contains(err.Error(), "API key not configured") {
		t.Errorf("missing key: %v", err)
	}
	if err := NewSMSLocalClient("k", "", "").Deliver(context.Background(), mfa.Delivery{Code: "1"}); err != ErrNoPhone {
		t.Errorf("missing phone: %v", err)
	}
}

func TestDeliver_Non200DoesNotLeakCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid request"}`))
	}))
	defer server.Close()

	err := NewSMSLocalClient("api-key", server.URL, "").Deliver(context.Background(), mfa.Delivery{Phone: "1234567890", Code: "987654"})
	if err == nil || !strings.Contains(err.Error(), "status=400") {
		t.Fatalf("want status=400 error, got %v", err)
	}
	if strings.Contains(err.Error(), "987654") {
		t.Error("error must not contain the code")
	}
}

func TestDeliver_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := NewSMSLocalClient("api-key", server.URL, "").Deliver(ctx, mfa.Delivery{Phone: "1", Code: "1"}); err == nil {
		t.Fatal("want error after context deadline")
	}
}
