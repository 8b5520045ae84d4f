package adfetch

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/patrickwarner/adrotator/internal/models"
)

// fakeCaller answers every RPC with a canned JSON body or error.
type fakeCaller struct {
	mu     sync.Mutex
	body   string
	err    error
	fn     string
	params any
}

func (f *fakeCaller) RPC(ctx context.Context, fn string, params any, out any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fn = fn
	f.params = params
	if f.err != nil {
		return f.err
	}
	return json.Unmarshal([]byte(f.body), out)
}

// stubSource returns fixed creatives or an error and counts calls.
type stubSource struct {
	mu        sync.Mutex
	creatives []models.Creative
	err       error
	calls     int
	last      Request
}

func (s *stubSource) Fetch(ctx context.Context, req Request) ([]models.Creative, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	return s.creatives, nil
}

func (s *stubSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
