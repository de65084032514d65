// Package clock abstracts time so one-shot delays and repeating intervals can
// be cancelled deterministically and driven manually in tests.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	// Stop cancels the timer. It reports whether the call prevented a future run.
	Stop() bool
}

// Clock schedules callbacks.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
	Every(d time.Duration, fn func()) Timer
}

// System returns a Clock backed by the runtime timers.
func System() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

func (systemClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

func (systemClock) Every(d time.Duration, fn func()) Timer {
	t := &interval{
		ticker: time.NewTicker(d),
		stop:   make(chan struct{}),
	}
	go t.run(fn)
	return t
}

type interval struct {
	ticker *time.Ticker
	once   sync.Once
	stop   chan struct{}
}

func (t *interval) run(fn func()) {
	for {
		select {
		case <-t.stop:
			return
		case <-t.ticker.C:
			select {
			case <-t.stop:
				return
			default:
			}
			fn()
		}
	}
}

func (t *interval) Stop() bool {
	stopped := false
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.stop)
		stopped = true
	})
	return stopped
}

// Manual is a Clock that only moves when Advance is called. Callbacks run
// synchronously on the goroutine calling Advance.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*manualTimer
}

// NewManual creates a Manual clock starting at the provided instant.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

type manualTimer struct {
	clock  *Manual
	seq    int
	at     time.Time
	every  time.Duration
	fn     func()
	active bool
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := t.active
	t.active = false
	return was
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// AfterFunc schedules fn to run once d after the current manual time.
func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	return m.schedule(d, 0, fn)
}

// Every schedules fn to run every d.
func (m *Manual) Every(d time.Duration, fn func()) Timer {
	return m.schedule(d, d, fn)
}

func (m *Manual) schedule(d, every time.Duration, fn func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTimer{clock: m, seq: m.seq, at: m.now.Add(d), every: every, fn: fn, active: true}
	m.timers = append(m.timers, t)
	return t
}

// Pending reports how many timers are still scheduled.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, t := range m.timers {
		if t.active {
			count++
		}
	}
	return count
}

// Advance moves time forward, firing every due callback in schedule order.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	for {
		next := m.nextDue(target)
		if next == nil {
			break
		}
		m.now = next.at
		if next.every > 0 {
			next.at = next.at.Add(next.every)
		} else {
			next.active = false
		}
		fn := next.fn
		m.mu.Unlock()
		fn()
		m.mu.Lock()
	}
	m.now = target
	m.compact()
	m.mu.Unlock()
}

func (m *Manual) nextDue(target time.Time) *manualTimer {
	due := make([]*manualTimer, 0, len(m.timers))
	for _, t := range m.timers {
		if t.active && !t.at.After(target) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].at.Equal(due[j].at) {
			return due[i].seq < due[j].seq
		}
		return due[i].at.Before(due[j].at)
	})
	return due[0]
}

func (m *Manual) compact() {
	kept := m.timers[:0]
	for _, t := range m.timers {
		if t.active {
			kept = append(kept, t)
		}
	}
	m.timers = kept
}
