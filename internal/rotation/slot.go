package rotation

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/adfetch"
	"github.com/patrickwarner/adrotator/internal/entitlement"
	"github.com/patrickwarner/adrotator/internal/models"
	"github.com/patrickwarner/adrotator/internal/observability"
	"github.com/patrickwarner/adrotator/internal/telemetry"
)

// DefaultInterval is the time each creative stays on screen.
const DefaultInterval = 7000 * time.Millisecond

// ClickGrace is how long after a rotation a click on the creative that was
// just replaced is still honoured.
const ClickGrace = 2 * time.Second

var tracer = observability.Tracer("rotation")

// ErrNotDisplayed is returned for clicks on a creative the slot is not
// showing.
var ErrNotDisplayed = errors.New("creative not displayed")

// State is the visible state of a slot.
type State int

const (
	StateEmpty State = iota
	StateDisplaying
)

func (s State) String() string {
	if s == StateDisplaying {
		return "displaying"
	}
	return "empty"
}

// Gate resolves a viewer's entitlement.
type Gate interface {
	Resolve(ctx context.Context, viewerID string) models.Entitlement
}

// Fetcher returns candidate creatives. It never fails; an empty list means
// nothing to show.
type Fetcher interface {
	Fetch(ctx context.Context, req adfetch.Request) []models.Creative
}

// Reporter records impressions and clicks without blocking.
type Reporter interface {
	Impression(c models.Creative, a telemetry.Attribution) bool
	Click(c models.Creative, a telemetry.Attribution) bool
}

// Params identifies what a slot shows and to whom. Two mounts with equal
// Params are interchangeable.
type Params struct {
	Placement   models.PlacementName
	Category    string
	Device      models.Device
	Country     string
	ViewerID    string
	UserRole    string
	Limit       int
	RotateEvery time.Duration
}

// WithDefaults fills in the limit, interval and device a mount would use.
func (p Params) WithDefaults() Params {
	if p.Limit <= 0 {
		p.Limit = adfetch.DefaultLimit
	}
	if p.RotateEvery <= 0 {
		p.RotateEvery = DefaultInterval
	}
	if p.Device == "" {
		p.Device = models.DeviceDesktop
	}
	return p
}

func (p Params) attribution() telemetry.Attribution {
	return telemetry.Attribution{
		ViewerID:  p.ViewerID,
		Country:   p.Country,
		Device:    p.Device,
		Placement: p.Placement,
	}
}

// View is a consistent snapshot of a slot.
type View struct {
	State    State
	Index    int
	Count    int
	Creative *models.Creative
}

// Slot is one mounted placement. A mount resolves the gate, fetches
// candidates and rotates through them on a timer until the slot is
// unmounted or remounted. Every display change, including the first,
// reports exactly one impression.
type Slot struct {
	gate      Gate
	fetcher   Fetcher
	reporter  Reporter
	scheduler Scheduler
	logger    *zap.Logger
	metrics   observability.MetricsRegistry
	now       func() time.Time

	mu          sync.Mutex
	gen         uint64
	params      Params
	state       State
	cursor      *Cursor
	previous    *models.Creative // replaced by the last rotation
	rotatedAt   time.Time
	stopTimer   func()
	cancelFetch context.CancelFunc
	ready       chan struct{}
}

// NewSlot returns an unmounted slot. A nil scheduler uses the wall clock.
func NewSlot(gate Gate, fetcher Fetcher, reporter Reporter, scheduler Scheduler, logger *zap.Logger, metrics observability.MetricsRegistry) *Slot {
	if scheduler == nil {
		scheduler = TickerScheduler{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Slot{
		gate:      gate,
		fetcher:   fetcher,
		reporter:  reporter,
		scheduler: scheduler,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Mount tears down any previous pipeline and starts a new load for p. The
// returned channel is closed once the load has settled, whether it ended in
// Displaying, Empty or was superseded. ctx supplies request-scoped values
// only; its cancellation does not abort the load.
func (s *Slot) Mount(ctx context.Context, p Params) <-chan struct{} {
	p = p.WithDefaults()

	s.mu.Lock()
	s.teardownLocked()
	s.gen++
	gen := s.gen
	s.params = p
	loadCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancelFetch = cancel
	ready := make(chan struct{})
	s.ready = ready
	s.mu.Unlock()

	go s.load(loadCtx, gen, p, ready)
	return ready
}

// Ready returns the channel of the latest mount. It is closed when that
// mount's load has settled, or immediately if the slot was never mounted.
func (s *Slot) Ready() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.ready
}

func (s *Slot) load(ctx context.Context, gen uint64, p Params, ready chan struct{}) {
	defer close(ready)

	ctx, span := tracer.Start(ctx, "rotation.load",
		trace.WithAttributes(
			attribute.String("placement", string(p.Placement)),
			attribute.String("device", string(p.Device)),
		))
	defer span.End()

	status := s.gate.Resolve(ctx, p.ViewerID)
	span.SetAttributes(attribute.String("entitlement", status.String()))
	if !entitlement.Allows(status) {
		s.logger.Debug("ads withheld",
			zap.String("placement", string(p.Placement)),
			zap.String("entitlement", status.String()))
		return
	}
	if ctx.Err() != nil {
		s.metrics.IncrementStaleResults()
		return
	}

	creatives := s.fetcher.Fetch(ctx, adfetch.Request{
		Placement: p.Placement,
		UserRole:  p.UserRole,
		Category:  p.Category,
		Country:   p.Country,
		Device:    p.Device,
		Limit:     p.Limit,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		s.metrics.IncrementStaleResults()
		span.SetAttributes(attribute.Bool("stale", true))
		return
	}
	s.cancelFetch = nil
	if len(creatives) == 0 {
		return
	}

	s.cursor = NewCursor(creatives)
	s.state = StateDisplaying
	s.reportLocked()
	if s.cursor.Len() > 1 {
		s.stopTimer = s.scheduler.Every(p.RotateEvery, func() { s.tick(gen) })
	}
	span.SetAttributes(attribute.Int("ad.count", s.cursor.Len()))
}

func (s *Slot) tick(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.cursor == nil {
		return
	}
	before, _ := s.cursor.Current()
	if s.cursor.Advance() {
		s.previous = &before
		s.rotatedAt = s.now()
		s.metrics.IncrementRotations(string(s.params.Placement))
		s.reportLocked()
	}
}

// reportLocked emits the impression for the creative now on screen.
func (s *Slot) reportLocked() {
	cr, ok := s.cursor.Current()
	if !ok {
		return
	}
	s.reporter.Impression(cr, s.params.attribution())
}

// Unmount stops rotation and discards any in-flight load. The slot may be
// mounted again afterwards.
func (s *Slot) Unmount() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
	s.gen++
}

func (s *Slot) teardownLocked() {
	if s.stopTimer != nil {
		s.stopTimer()
		s.stopTimer = nil
	}
	if s.cancelFetch != nil {
		s.cancelFetch()
		s.cancelFetch = nil
	}
	s.cursor = nil
	s.previous = nil
	s.state = StateEmpty
}

// Click reports a click on creativeID and returns the creative so the
// caller can follow its link. Only the creative on screen is clickable,
// plus the one it replaced for ClickGrace after a rotation.
func (s *Slot) Click(creativeID string) (models.Creative, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor == nil {
		return models.Creative{}, ErrNotDisplayed
	}
	cr, ok := s.cursor.Current()
	if !ok || cr.ID != creativeID {
		if s.previous == nil || s.previous.ID != creativeID || s.now().Sub(s.rotatedAt) > ClickGrace {
			return models.Creative{}, ErrNotDisplayed
		}
		cr = *s.previous
	}
	s.reporter.Click(cr, s.params.attribution())
	return cr, nil
}

// Current returns the creative on screen.
func (s *Slot) Current() (models.Creative, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor == nil {
		return models.Creative{}, false
	}
	return s.cursor.Current()
}

// State returns whether the slot is showing a creative.
func (s *Slot) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Params returns the parameters of the latest mount.
func (s *Slot) Params() Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// View returns state, position and current creative under one lock.
func (s *Slot) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := View{State: s.state}
	if s.cursor != nil {
		v.Index = s.cursor.Index()
		v.Count = s.cursor.Len()
		if cr, ok := s.cursor.Current(); ok {
			v.Creative = &cr
		}
	}
	return v
}
