// Package sink holds the audit export targets used by the audit dispatcher.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"

	"asset-register/backend/internal/audit/domain"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes records as JSON to one topic, keyed by actor so a single
// actor's trail stays ordered within a partition.
type Kafka struct {
	writer messageWriter
	topic  string
}

// NewKafka returns a Kafka sink writing to topic on brokers.
func NewKafka(brokers []string, topic string) (*Kafka, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, errors.New("kafka sink: brokers and topic are required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
	return &Kafka{writer: w, topic: topic}, nil
}

func (k *Kafka) Name() string { return "kafka:" + k.topic }

func (k *Kafka) Export(ctx context.Context, rec *domain.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := rec.ActorID
	if key == "" {
		key = string(rec.ActorType)
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  rec.CreatedAt,
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(rec.Action)},
			{Key: "category", Value: []byte(rec.Category)},
		},
	})
}

func (k *Kafka) Close() error { return k.writer.Close() }
