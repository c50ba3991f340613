package escalation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/obsidianstack/alertengine/pkg/types"
	"github.com/obsidianstack/alertengine/server/internal/clock"
	"github.com/obsidianstack/alertengine/server/internal/lifecycle"
	"github.com/obsidianstack/alertengine/server/internal/suppression"
)

// Dispatcher resolves and delivers the notifications of one tier.
type Dispatcher interface {
	Targets(a *types.Alert, level int) []types.Target
	Dispatch(ctx context.Context, a *types.Alert, targets []types.Target) []types.NotificationAttempt
}

// WindowChecker reports whether a suppression window currently covers an
// alert's rule.
type WindowChecker interface {
	InWindow(ctx context.Context, s types.Subject, now time.Time) (suppression.Decision, error)
}

// Escalator drives alerts through their escalation levels.
type Escalator struct {
	ctx      context.Context
	machine  *lifecycle.Machine
	sched    *Scheduler
	windows  WindowChecker
	dispatch Dispatcher
	clock    clock.Clock

	mu     sync.Mutex
	queues map[string][]tier // per alert, present while a drainer runs
	wg     sync.WaitGroup
}

// tier is one level's sends for one alert.
type tier struct {
	alert   *types.Alert
	level   int
	targets []types.Target
}

// NewEscalator wires an Escalator as sched's fire handler. Dispatches run
// on ctx, which should live as long as the engine.
func NewEscalator(ctx context.Context, m *lifecycle.Machine, sched *Scheduler, windows WindowChecker, d Dispatcher, clk clock.Clock) *Escalator {
	e := &Escalator{
		ctx: ctx, machine: m, sched: sched, windows: windows, dispatch: d, clock: clk,
		queues: make(map[string][]tier),
	}
	sched.OnFire(e.fire)
	return e
}

// Start raises a freshly opened alert to level 1, arms level 2 when the
// alert's policy has one, and sends the tier-1 notifications.
func (e *Escalator) Start(a *types.Alert) error {
	_, err := e.advance(a.ID, 1, nil)
	return err
}

// Resume re-arms the next level for alerts that are still OPEN, using the
// full delay of that level. It is used after a restart, when no timers
// survive.
func (e *Escalator) Resume(alerts []types.Alert) int {
	n := 0
	for i := range alerts {
		a := &alerts[i]
		if a.State != types.StateOpen {
			continue
		}
		if next, ok := a.NextLevel(); ok {
			e.sched.Arm(a.ID, next.Level, next.Delay)
			n++
		}
	}
	return n
}

func (e *Escalator) fire(alertID string, level int, token uint64) {
	_, err := e.advance(alertID, level, func() bool { return e.sched.Claim(alertID, token) })
	switch {
	case err == nil:
	case lifecycle.IsStale(err):
		slog.Debug("escalation: stale timer discarded", "alert_id", alertID, "level", level, "err", err)
	default:
		slog.Error("escalation: fire failed", "alert_id", alertID, "level", level, "err", err)
	}
}

func (e *Escalator) advance(alertID string, level int, claim func() bool) (*types.Alert, error) {
	return e.machine.Escalate(e.ctx, alertID, level, claim, func(a *types.Alert) {
		e.armNext(a)
		e.enqueue(a, level)
	})
}

// armNext runs under the alert lock, so an acknowledge cannot slip between
// the level change and the next timer being armed.
func (e *Escalator) armNext(a *types.Alert) {
	if next, ok := a.NextLevel(); ok {
		e.sched.Arm(a.ID, next.Level, next.Delay)
	}
}

// enqueue runs under the alert lock. Tiers of one alert are therefore
// queued in level order and sent one after another.
func (e *Escalator) enqueue(a *types.Alert, level int) {
	d, err := e.windows.InWindow(e.ctx, types.SubjectOfAlert(a), e.clock.Now())
	if err != nil {
		slog.Warn("escalation: suppression check failed, sending anyway", "alert_id", a.ID, "err", err)
	}
	if d.Suppressed {
		slog.Info("escalation: tier suppressed by window",
			"alert_id", a.ID, "level", level, "window", d.Window.ID, "until", d.Until)
		return
	}

	targets := e.dispatch.Targets(a, level)
	if len(targets) == 0 {
		slog.Debug("escalation: tier has no targets", "alert_id", a.ID, "level", level)
		return
	}

	e.mu.Lock()
	q, running := e.queues[a.ID]
	e.queues[a.ID] = append(q, tier{alert: a.Clone(), level: level, targets: targets})
	if !running {
		e.wg.Add(1)
	}
	e.mu.Unlock()
	if !running {
		go e.drain(a.ID)
	}
}

func (e *Escalator) drain(alertID string) {
	defer e.wg.Done()
	for {
		e.mu.Lock()
		q := e.queues[alertID]
		if len(q) == 0 {
			delete(e.queues, alertID)
			e.mu.Unlock()
			return
		}
		t := q[0]
		e.queues[alertID] = q[1:]
		e.mu.Unlock()

		slog.Debug("escalation: dispatching tier", "alert_id", alertID, "level", t.level, "targets", len(t.targets))
		e.dispatch.Dispatch(e.ctx, t.alert, t.targets)
	}
}

// Wait blocks until every tier queued so far has been dispatched.
func (e *Escalator) Wait() { e.wg.Wait() }
