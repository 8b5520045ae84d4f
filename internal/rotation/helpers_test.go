package rotation

import (
	"context"
	"sync"

	"github.com/patrickwarner/adrotator/internal/adfetch"
	"github.com/patrickwarner/adrotator/internal/models"
	"github.com/patrickwarner/adrotator/internal/telemetry"
)

type fakeGate struct {
	status models.Entitlement
}

func (g fakeGate) Resolve(ctx context.Context, viewerID string) models.Entitlement {
	return g.status
}

type fakeFetcher struct {
	mu        sync.Mutex
	creatives []models.Creative
	requests  []adfetch.Request
	// release, when set, blocks Fetch until it is closed or ctx is done.
	release chan struct{}
	started chan struct{}
}

func (f *fakeFetcher) Fetch(ctx context.Context, req adfetch.Request) []models.Creative {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	release, started := f.release, f.started
	out := f.creatives
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
		}
	}
	return out
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type event struct {
	kind       models.EventKind
	creativeID string
	attr       telemetry.Attribution
}

type recordingReporter struct {
	mu     sync.Mutex
	events []event
}

func (r *recordingReporter) Impression(c models.Creative, a telemetry.Attribution) bool {
	r.record(models.EventImpression, c, a)
	return true
}

func (r *recordingReporter) Click(c models.Creative, a telemetry.Attribution) bool {
	r.record(models.EventClick, c, a)
	return true
}

func (r *recordingReporter) record(kind models.EventKind, c models.Creative, a telemetry.Attribution) {
	r.mu.Lock()
	r.events = append(r.events, event{kind: kind, creativeID: c.ID, attr: a})
	r.mu.Unlock()
}

// IDs returns creative ids of events of the given kind in emission order.
func (r *recordingReporter) IDs(kind models.EventKind) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, e := range r.events {
		if e.kind == kind {
			ids = append(ids, e.creativeID)
		}
	}
	return ids
}

func creatives(ids ...string) []models.Creative {
	out := make([]models.Creative, len(ids))
	for i, id := range ids {
		out[i] = models.Creative{ID: id, MediaType: models.MediaImage, MediaURL: "https://cdn.example.com/" + id + ".png"}
	}
	return out
}
