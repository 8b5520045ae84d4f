package api

import (
	"context"
	"sync"
	"time"

	"github.com/patrickwarner/adrotator/internal/models"
	"github.com/patrickwarner/adrotator/internal/observability"
	"github.com/patrickwarner/adrotator/internal/rotation"
)

type slotKey struct {
	session   string
	placement models.PlacementName
}

type slotEntry struct {
	slot     *rotation.Slot
	lastSeen time.Time
}

// Registry holds the mounted slots of every live session. A session owns at
// most one slot per placement.
type Registry struct {
	mu      sync.Mutex
	slots   map[slotKey]*slotEntry
	newSlot func() *rotation.Slot
	metrics observability.MetricsRegistry
	now     func() time.Time
}

// NewRegistry returns an empty registry that builds slots with newSlot.
func NewRegistry(newSlot func() *rotation.Slot, metrics observability.MetricsRegistry) *Registry {
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Registry{
		slots:   make(map[slotKey]*slotEntry),
		newSlot: newSlot,
		metrics: metrics,
		now:     time.Now,
	}
}

// Acquire returns the session's slot for placement, mounting it with p when
// it is new, was last mounted with different parameters, or settled empty.
// A load still in flight is shared. The returned channel closes once the
// slot's current load has settled.
func (r *Registry) Acquire(ctx context.Context, session string, placement models.PlacementName, p rotation.Params) (*rotation.Slot, <-chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := slotKey{session: session, placement: placement}
	e, ok := r.slots[key]
	if !ok {
		e = &slotEntry{slot: r.newSlot()}
		r.slots[key] = e
		r.metrics.SetActiveSlots(len(r.slots))
	}
	e.lastSeen = r.now()

	if ok && e.slot.Params() == p.WithDefaults() {
		ready := e.slot.Ready()
		if e.slot.State() == rotation.StateDisplaying || !settled(ready) {
			return e.slot, ready
		}
	}
	return e.slot, e.slot.Mount(ctx, p)
}

func settled(ready <-chan struct{}) bool {
	select {
	case <-ready:
		return true
	default:
		return false
	}
}

// Lookup returns an existing slot and marks it as seen.
func (r *Registry) Lookup(session string, placement models.PlacementName) (*rotation.Slot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.slots[slotKey{session: session, placement: placement}]
	if !ok {
		return nil, false
	}
	e.lastSeen = r.now()
	return e.slot, true
}

// Remove unmounts and forgets a slot. It reports whether one existed.
func (r *Registry) Remove(session string, placement models.PlacementName) bool {
	r.mu.Lock()
	key := slotKey{session: session, placement: placement}
	e, ok := r.slots[key]
	if ok {
		delete(r.slots, key)
		r.metrics.SetActiveSlots(len(r.slots))
	}
	r.mu.Unlock()

	if ok {
		e.slot.Unmount()
	}
	return ok
}

// Sweep unmounts slots not seen for longer than idle and returns how many
// were removed.
func (r *Registry) Sweep(idle time.Duration) int {
	cutoff := r.now().Add(-idle)

	r.mu.Lock()
	var stale []*rotation.Slot
	for key, e := range r.slots {
		if e.lastSeen.Before(cutoff) {
			stale = append(stale, e.slot)
			delete(r.slots, key)
		}
	}
	r.metrics.SetActiveSlots(len(r.slots))
	r.mu.Unlock()

	for _, s := range stale {
		s.Unmount()
	}
	return len(stale)
}

// Len returns the number of mounted slots.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}

// Close unmounts every slot.
func (r *Registry) Close() {
	r.mu.Lock()
	slots := r.slots
	r.slots = make(map[slotKey]*slotEntry)
	r.metrics.SetActiveSlots(0)
	r.mu.Unlock()

	for _, e := range slots {
		e.slot.Unmount()
	}
}
