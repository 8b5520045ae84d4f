package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/models"
	"github.com/patrickwarner/adrotator/internal/observability"
)

var tracer = observability.Tracer("telemetry")

const (
	DefaultQueueSize = 1024
	DefaultTimeout   = 5 * time.Second
)

// Attribution is the viewer and placement context attached to an event.
type Attribution struct {
	ViewerID  string
	Country   string
	Device    models.Device
	Placement models.PlacementName
}

// Emitter delivers impression and click events without blocking the caller.
// Events are queued in FIFO order and sent by a single worker; a full queue
// drops the event. Failed sends are logged and counted, never retried.
type Emitter struct {
	sink    Sink
	timeout time.Duration
	logger  *zap.Logger
	metrics observability.MetricsRegistry
	now     func() time.Time

	mu     sync.RWMutex
	queue  chan models.Event
	closed bool
	done   chan struct{}
}

// NewEmitter starts the delivery worker.
func NewEmitter(sink Sink, queueSize int, timeout time.Duration, logger *zap.Logger, metrics observability.MetricsRegistry) *Emitter {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	e := &Emitter{
		sink:    sink,
		timeout: timeout,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
		queue:   make(chan models.Event, queueSize),
		done:    make(chan struct{}),
	}
	go e.run()
	return e
}

// Impression reports one display of a creative. It reports whether the
// event was queued.
func (e *Emitter) Impression(c models.Creative, a Attribution) bool {
	return e.enqueue(models.EventImpression, c, a)
}

// Click reports one click on a creative. It reports whether the event was
// queued.
func (e *Emitter) Click(c models.Creative, a Attribution) bool {
	return e.enqueue(models.EventClick, c, a)
}

func (e *Emitter) enqueue(kind models.EventKind, c models.Creative, a Attribution) bool {
	ev := models.Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		CreativeID: c.ID,
		CampaignID: c.CampaignID,
		ViewerID:   a.ViewerID,
		Country:    a.Country,
		Device:     a.Device,
		Placement:  a.Placement,
		Timestamp:  e.now().UTC(),
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.metrics.IncrementEvent(string(kind), "dropped")
		return false
	}
	select {
	case e.queue <- ev:
		return true
	default:
		e.metrics.IncrementEvent(string(kind), "dropped")
		e.logger.Warn("telemetry queue full, dropping event",
			zap.String("kind", string(kind)),
			zap.String("creative_id", c.ID))
		return false
	}
}

func (e *Emitter) run() {
	defer close(e.done)
	for ev := range e.queue {
		e.deliver(ev)
	}
}

func (e *Emitter) deliver(ev models.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "telemetry.Send",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("event.kind", string(ev.Kind)),
			attribute.String("creative_id", ev.CreativeID),
			attribute.String("placement", string(ev.Placement)),
		))
	defer span.End()

	if err := e.sink.Send(ctx, ev); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		e.metrics.IncrementEvent(string(ev.Kind), "error")
		e.logger.Warn("telemetry send failed",
			zap.Error(err),
			zap.String("kind", string(ev.Kind)),
			zap.String("creative_id", ev.CreativeID))
		return
	}
	e.metrics.IncrementEvent(string(ev.Kind), "success")
	if observability.ShouldSample(observability.GetSamplingRate()) {
		e.logger.Debug("telemetry event sent",
			zap.String("event_id", ev.ID),
			zap.String("kind", string(ev.Kind)),
			zap.String("creative_id", ev.CreativeID))
	}
}

// Close stops accepting events and waits for queued ones to be delivered or
// for ctx to expire.
func (e *Emitter) Close(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()

	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
