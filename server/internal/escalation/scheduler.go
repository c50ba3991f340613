package escalation

import (
	"log/slog"
	"sync"
	"time"

	"github.com/obsidianstack/alertengine/server/internal/clock"
)

// FireFunc handles a timer for alertID reaching its deadline.
type FireFunc func(alertID string, level int, token uint64)

type entry struct {
	level int
	token uint64
	due   time.Time
	timer clock.Timer
}

// Scheduler holds at most one pending escalation timer per alert.
type Scheduler struct {
	clock clock.Clock

	mu     sync.Mutex
	timers map[string]*entry
	seq    uint64
	fire   FireFunc
}

// NewScheduler returns an empty Scheduler driven by clk.
func NewScheduler(clk clock.Clock) *Scheduler {
	return &Scheduler{clock: clk, timers: make(map[string]*entry)}
}

// OnFire sets the handler invoked when a timer reaches its deadline.
func (s *Scheduler) OnFire(f FireFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fire = f
}

// Arm schedules escalation of alertID to level after delay, replacing any
// timer already armed for the alert.
func (s *Scheduler) Arm(alertID string, level int, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.timers[alertID]; ok {
		old.timer.Stop()
	}
	s.seq++
	token := s.seq
	e := &entry{level: level, token: token, due: s.clock.Now().Add(delay)}
	e.timer = s.clock.AfterFunc(delay, func() { s.expired(alertID, level, token) })
	s.timers[alertID] = e
	slog.Debug("escalation: timer armed", "alert_id", alertID, "level", level, "due", e.due)
}

func (s *Scheduler) expired(alertID string, level int, token uint64) {
	s.mu.Lock()
	e, ok := s.timers[alertID]
	fire := s.fire
	s.mu.Unlock()

	if !ok || e.token != token || fire == nil {
		return
	}
	fire(alertID, level, token)
}

// Claim removes the timer for alertID if it still carries token. A false
// result means the timer was cancelled or replaced and the fire is stale.
func (s *Scheduler) Claim(alertID string, token uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.timers[alertID]
	if !ok || e.token != token {
		return false
	}
	delete(s.timers, alertID)
	return true
}

// Cancel stops and forgets the timer for alertID. It reports whether a
// timer was pending.
func (s *Scheduler) Cancel(alertID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.timers[alertID]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.timers, alertID)
	return true
}

// Pending returns the level and deadline of the timer armed for alertID.
func (s *Scheduler) Pending(alertID string) (level int, due time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.timers[alertID]
	if !ok {
		return 0, time.Time{}, false
	}
	return e.level, e.due, true
}

// Len returns the number of armed timers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels every timer.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.timers {
		e.timer.Stop()
		delete(s.timers, id)
	}
}
