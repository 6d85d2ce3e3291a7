package sink

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"asset-register/backend/internal/audit/domain"
)

func testRecord() *domain.Record {
	return &domain.Record{
		ID: "a1", ActorType: domain.ActorUser, ActorID: "u1", Action: "logout",
		EntityType: "session", EntityID: "s1", After: json.RawMessage(`{"reason":"user"}`),
		Category: domain.CategoryAuthentication, ClientIP: "10.0.0.1",
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), Signature: "abcd",
	}
}

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafka_Export(t *testing.T) {
	w := &fakeWriter{}
	k := &Kafka{writer: w, topic: "audit"}

	if err := k.Export(context.Background(), testRecord()); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "u1" {
		t.Errorf("key = %q, want actor id", msg.Key)
	}
	var got domain.Record
	if err := json.Unmarshal(msg.Value, &got); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if got.ID != "a1" || got.Signature != "abcd" {
		t.Errorf("payload = %+v", got)
	}
	if k.Name() != "kafka:audit" {
		t.Errorf("Name = %q", k.Name())
	}
	_ = k.Close()
	if !w.closed {
		t.Error("Close should close the writer")
	}
}

func TestNewKafka_RequiresConfig(t *testing.T) {
	if _, err := NewKafka(nil, "audit"); err == nil {
		t.Error("want error without brokers")
	}
	if _, err := NewKafka([]string{"localhost:9092"}, ""); err == nil {
		t.Error("want error without topic")
	}
}

func TestElasticsearch_Export(t *testing.T) {
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	}))
	defer srv.Close()

	es, err := NewElasticsearch(ElasticsearchConfig{Addresses: []string{srv.URL}, Index: "audit-records"})
	if err != nil {
		t.Fatalf("NewElasticsearch: %v", err)
	}
	if err := es.Export(context.Background(), testRecord()); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if gotPath != "/audit-records/_doc/a1" {
		t.Errorf("path = %q, want document indexed by record id", gotPath)
	}
	if !strings.Contains(gotBody, `"action":"logout"`) {
		t.Errorf("body = %s", gotBody)
	}
}

func TestElasticsearch_ExportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"mapper_parsing_exception"}`))
	}))
	defer srv.Close()

	es, err := NewElasticsearch(ElasticsearchConfig{Addresses: []string{srv.URL}, Index: "audit-records"})
	if err != nil {
		t.Fatalf("NewElasticsearch: %v", err)
	}
	if err := es.Export(context.Background(), testRecord()); err == nil {
		t.Error("want error for 400 response")
	}
}

type recordCapture struct {
	recs []otellog.Record
}

func (r *recordCapture) Emit(_ context.Context, rec otellog.Record) {
	r.recs = append(r.recs, rec)
}

func TestOTelLog_Export(t *testing.T) {
	cap := &recordCapture{}
	o := &OTelLog{logger: cap}

	if err := o.Export(context.Background(), testRecord()); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(cap.recs) != 1 {
		t.Fatalf("records = %d", len(cap.recs))
	}
	rec := cap.recs[0]
	if !rec.Timestamp().Equal(testRecord().CreatedAt) {
		t.Errorf("timestamp = %v", rec.Timestamp())
	}
	if rec.Body().AsString() != `{"reason":"user"}` {
		t.Errorf("body = %q", rec.Body().AsString())
	}
	attrs := make(map[string]string)
	rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		attrs[kv.Key] = kv.Value.AsString()
		return true
	})
	if attrs["audit.id"] != "a1" || attrs["audit.category"] != "authentication" || attrs["audit.signature"] != "abcd" {
		t.Errorf("attributes = %v", attrs)
	}
}

func TestNewOTelLog_SDKProvider(t *testing.T) {
	provider := sdklog.NewLoggerProvider()
	defer func() { _ = provider.Shutdown(context.Background()) }()
	o := NewOTelLog(provider)
	if err := o.Export(context.Background(), testRecord()); err != nil {
		t.Errorf("Export: %v", err)
	}
}
