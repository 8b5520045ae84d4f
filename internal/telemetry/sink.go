package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/patrickwarner/adrotator/internal/backend"
	"github.com/patrickwarner/adrotator/internal/models"
)

// Sink delivers one telemetry event.
type Sink interface {
	Send(ctx context.Context, ev models.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev models.Event) error

// Send implements Sink.
func (f SinkFunc) Send(ctx context.Context, ev models.Event) error { return f(ctx, ev) }

type logParams struct {
	CreativeID string  `json:"p_creative_id"`
	CampaignID *string `json:"p_campaign_id"`
	ViewerID   *string `json:"p_viewer_id"`
	Country    *string `json:"p_country"`
	Device     string  `json:"p_device"`
}

// RPCSink reports events through the backend's logging procedures.
type RPCSink struct {
	Backend backend.Caller
}

// Send implements Sink.
func (s *RPCSink) Send(ctx context.Context, ev models.Event) error {
	var fn string
	switch ev.Kind {
	case models.EventImpression:
		fn = "log_ad_impression"
	case models.EventClick:
		fn = "log_ad_click"
	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}
	params := logParams{
		CreativeID: ev.CreativeID,
		CampaignID: backend.Nullable(ev.CampaignID),
		ViewerID:   backend.Nullable(ev.ViewerID),
		Country:    backend.Nullable(ev.Country),
		Device:     string(ev.Device),
	}
	return s.Backend.RPC(ctx, fn, params, nil)
}

// KafkaSink mirrors events onto a Kafka topic keyed by creative.
type KafkaSink struct {
	Writer *kafka.Writer
}

// NewKafkaWriter returns a writer tuned for small, latency-tolerant
// telemetry messages.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 250 * time.Millisecond,
	}
}

// Send implements Sink.
func (s *KafkaSink) Send(ctx context.Context, ev models.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return s.Writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.CreativeID),
		Value: payload,
	})
}

// Close flushes and closes the underlying writer.
func (s *KafkaSink) Close() error {
	return s.Writer.Close()
}

// MultiSink fans an event out to every sink. All sinks are attempted; their
// errors are joined.
type MultiSink []Sink

// Send implements Sink.
func (m MultiSink) Send(ctx context.Context, ev models.Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
