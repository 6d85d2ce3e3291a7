package otel

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log/global"
)

func TestNewProviders_EmptyEndpoint(t *testing.T) {
	ctx := context.Background()
	for _, endpoint := range []string{"", "   "} {
		p, err := NewProviders(ctx, Config{Endpoint: endpoint, ServiceName: "test-service"}, nil)
		if err != nil {
			t.Fatalf("NewProviders(%q): %v", endpoint, err)
		}
		if p.TracerProvider == nil || p.MeterProvider == nil || p.LoggerProvider == nil {
			t.Fatalf("providers must be non-nil: %+v", p)
		}
		if p.Exporting {
			t.Error("no endpoint should not export")
		}
		if err := p.Shutdown(ctx); err != nil {
			t.Errorf("shutdown should be a no-op, got %v", err)
		}
	}
}

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		endpoint     string
		wantTarget   string
		wantInsecure bool
	}{
		{"localhost:4317", "localhost:4317", true},
		{"http://collector:4317", "collector:4317", true},
		{"https://collector:4317/v1/traces", "collector:4317", false},
	}
	for _, tt := range tests {
		target, insecure, err := ParseEndpoint(tt.endpoint)
		if err != nil {
			t.Fatalf("ParseEndpoint(%q): %v", tt.endpoint, err)
		}
		if target != tt.wantTarget || insecure != tt.wantInsecure {
			t.Errorf("ParseEndpoint(%q) = %q %v", tt.endpoint, target, insecure)
		}
	}
}

func TestParseEndpoint_Invalid(t *testing.T) {
	for _, endpoint := range []string{"://invalid", "http://[invalid", "http://"} {
		if _, _, err := ParseEndpoint(endpoint); err == nil {
			t.Errorf("ParseEndpoint(%q) should fail", endpoint)
		}
		if _, err := NewProviders(context.Background(), Config{Endpoint: endpoint}, nil); err == nil {
			t.Errorf("NewProviders(%q) should fail", endpoint)
		}
	}
}

func TestSetGlobal(t *testing.T) {
	p, err := NewProviders(context.Background(), Config{ServiceName: "test-service"}, nil)
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}
	oldTP, oldMP, oldLP := otel.GetTracerProvider(), otel.GetMeterProvider(), global.GetLoggerProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(oldTP)
		otel.SetMeterProvider(oldMP)
		global.SetLoggerProvider(oldLP)
	})

	p.SetGlobal()
	if otel.GetTracerProvider() != p.TracerProvider {
		t.Error("TracerProvider not installed")
	}
	if otel.GetMeterProvider() != p.MeterProvider {
		t.Error("MeterProvider not installed")
	}
	if global.GetLoggerProvider() != p.LoggerProvider {
		t.Error("LoggerProvider not installed")
	}
}
