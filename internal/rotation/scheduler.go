package rotation

import (
	"sort"
	"sync"
	"time"
)

// Scheduler runs fn every interval until the returned cancel func is called.
// Calls for one registration never overlap.
type Scheduler interface {
	Every(interval time.Duration, fn func()) (cancel func())
}

// TickerScheduler schedules on the wall clock. Ticks that arrive while fn is
// still running are dropped rather than queued.
type TickerScheduler struct{}

// Every implements Scheduler.
func (TickerScheduler) Every(interval time.Duration, fn func()) func() {
	t := time.NewTicker(interval)
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-t.C:
				select {
				case <-stop:
					return
				default:
				}
				fn()
			case <-stop:
				return
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			t.Stop()
			close(stop)
		})
	}
}

// ManualScheduler is a virtual clock. Nothing fires until Advance is called,
// which makes rotation timing deterministic in tests.
type ManualScheduler struct {
	mu     sync.Mutex
	now    time.Duration
	seq    int
	timers []*manualTimer
}

type manualTimer struct {
	seq       int
	interval  time.Duration
	next      time.Duration
	fn        func()
	cancelled bool
}

// NewManualScheduler returns a clock at time zero.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

// Every implements Scheduler.
func (m *ManualScheduler) Every(interval time.Duration, fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTimer{seq: m.seq, interval: interval, next: m.now + interval, fn: fn}
	m.timers = append(m.timers, t)
	return func() {
		m.mu.Lock()
		t.cancelled = true
		m.mu.Unlock()
	}
}

// Advance moves the clock forward by d, firing due callbacks in time order.
// Callbacks run without the clock's lock held so they may cancel timers.
func (m *ManualScheduler) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now + d
	for {
		t := m.nextDue(target)
		if t == nil {
			break
		}
		m.now = t.next
		t.next += t.interval
		m.mu.Unlock()
		t.fn()
		m.mu.Lock()
	}
	m.now = target
	m.mu.Unlock()
}

func (m *ManualScheduler) nextDue(target time.Duration) *manualTimer {
	live := m.timers[:0]
	for _, t := range m.timers {
		if !t.cancelled {
			live = append(live, t)
		}
	}
	m.timers = live
	if len(live) == 0 {
		return nil
	}
	sort.SliceStable(live, func(i, j int) bool {
		if live[i].next == live[j].next {
			return live[i].seq < live[j].seq
		}
		return live[i].next < live[j].next
	})
	if live[0].next > target || live[0].interval <= 0 {
		return nil
	}
	return live[0]
}

// Active returns the number of registrations that have not been cancelled.
func (m *ManualScheduler) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.timers {
		if !t.cancelled {
			n++
		}
	}
	return n
}

// Now returns the virtual time elapsed since creation.
func (m *ManualScheduler) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}
