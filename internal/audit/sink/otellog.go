package sink

import (
	"context"

	otellog "go.opentelemetry.io/otel/log"

	"asset-register/backend/internal/audit/domain"
)

// LoggerName is the instrumentation scope of exported audit log records.
const LoggerName = "asset-register.audit"

type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// OTelLog emits each record as an OTel log record with the JSON record as body.
type OTelLog struct {
	logger recordEmitter
}

// NewOTelLog returns a sink on provider's audit logger.
func NewOTelLog(provider otellog.LoggerProvider) *OTelLog {
	return &OTelLog{logger: provider.Logger(LoggerName)}
}

func (o *OTelLog) Name() string { return "otel" }

func (o *OTelLog) Export(ctx context.Context, rec *domain.Record) error {
	var r otellog.Record
	r.SetTimestamp(rec.CreatedAt)
	r.SetObservedTimestamp(rec.CreatedAt)
	r.SetSeverity(otellog.SeverityInfo)
	r.SetEventName("audit." + rec.Action)
	if len(rec.After) > 0 {
		r.SetBody(otellog.StringValue(string(rec.After)))
	}
	r.AddAttributes(
		otellog.String("audit.id", rec.ID),
		otellog.String("audit.actor_type", string(rec.ActorType)),
		otellog.String("audit.actor_id", rec.ActorID),
		otellog.String("audit.action", rec.Action),
		otellog.String("audit.entity_type", rec.EntityType),
		otellog.String("audit.entity_id", rec.EntityID),
		otellog.String("audit.category", string(rec.Category)),
		otellog.String("audit.client_ip", rec.ClientIP),
		otellog.String("audit.signature", rec.Signature),
	)
	o.logger.Emit(ctx, r)
	return nil
}

func (o *OTelLog) Close() error { return nil }
