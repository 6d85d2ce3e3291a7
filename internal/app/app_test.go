package app

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"asset-register/backend/internal/config"
)

func sinkNames(t *testing.T, cfg *config.Config, logs otellog.LoggerProvider) []string {
	t.Helper()
	sinks, err := Sinks(cfg, logs)
	require.NoError(t, err)
	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	return names
}

func TestSinks_NoneConfigured(t *testing.T) {
	assert.Empty(t, sinkNames(t, &config.Config{}, nil))
}

func TestSinks_AllConfigured(t *testing.T) {
	cfg := &config.Config{
		KafkaBrokers:      "k1:9092,k2:9092",
		AuditKafkaTopic:   "audit",
		ElasticsearchURLs: "http://es:9200",
		AuditESIndex:      "audit-idx",
	}
	names := sinkNames(t, cfg, sdklog.NewLoggerProvider())
	assert.Equal(t, []string{"kafka:audit", "elasticsearch:audit-idx", "otel"}, names)
}

func TestResolveOTPKey_Plain(t *testing.T) {
	key, err := resolveOTPKey(t.Context(), &config.Config{OTPEncryptionKey: "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="})
	require.NoError(t, err)
	assert.Len(t, key, 32)

	_, err = resolveOTPKey(t.Context(), &config.Config{OTPEncryptionKey: "c2hvcnQ="})
	assert.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "32 bytes"))
}
