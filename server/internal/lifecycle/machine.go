package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/obsidianstack/alertengine/pkg/types"
	"github.com/obsidianstack/alertengine/server/internal/clock"
	"github.com/obsidianstack/alertengine/server/internal/keylock"
	"github.com/obsidianstack/alertengine/server/internal/store"
)

// Canceller stops the pending escalation timer of an alert.
type Canceller interface {
	Cancel(alertID string) bool
}

// Publisher receives lifecycle events after each committed transition.
type Publisher interface {
	Publish(types.AlertEvent)
}

// Machine applies lifecycle transitions to stored alerts.
type Machine struct {
	alerts  store.AlertRepository
	timers  Canceller
	clock   clock.Clock
	locks   *keylock.Map
	publish []Publisher
}

// New returns a Machine. timers may be nil when no escalation is wired.
func New(alerts store.AlertRepository, timers Canceller, clk clock.Clock) *Machine {
	return &Machine{alerts: alerts, timers: timers, clock: clk, locks: keylock.New()}
}

// Subscribe adds p to the set of event receivers. It must be called before
// the machine is used concurrently.
func (m *Machine) Subscribe(p Publisher) {
	m.publish = append(m.publish, p)
}

func (m *Machine) emit(t types.EventType, a *types.Alert) {
	ev := types.AlertEvent{Type: t, At: m.clock.Now(), Alert: a.Clone()}
	for _, p := range m.publish {
		p.Publish(ev)
	}
}

// Get returns a copy of the stored alert.
func (m *Machine) Get(ctx context.Context, alertID string) (*types.Alert, error) {
	return m.alerts.GetAlert(ctx, alertID)
}

// Open persists a new alert in state OPEN at escalation level 0.
func (m *Machine) Open(ctx context.Context, a *types.Alert) error {
	unlock := m.locks.Lock(a.ID)
	defer unlock()

	a.State = types.StateOpen
	a.EscalationLevel = 0
	if err := m.alerts.InsertAlert(ctx, a); err != nil {
		return fmt.Errorf("lifecycle: open %s: %w", a.ID, err)
	}
	slog.Info("lifecycle: alert opened",
		"alert_id", a.ID, "workspace", a.WorkspaceID, "rule", a.RuleID, "severity", a.Severity)
	m.emit(types.EventOpened, a)
	return nil
}

// Acknowledge moves an OPEN alert to ACKNOWLEDGED and cancels its pending
// escalation. Acknowledging an already acknowledged alert returns it
// unchanged.
func (m *Machine) Acknowledge(ctx context.Context, alertID, userID string) (*types.Alert, error) {
	unlock := m.locks.Lock(alertID)
	defer unlock()

	a, err := m.alerts.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	switch a.State {
	case types.StateResolved:
		return nil, fmt.Errorf("acknowledge %s: %w", alertID, types.ErrAlreadyResolved)
	case types.StateAcknowledged:
		return a, nil
	}

	now := m.clock.Now()
	a.State = types.StateAcknowledged
	a.AcknowledgedAt = &now
	a.AcknowledgedBy = userID
	if err := m.alerts.UpdateAlert(ctx, a); err != nil {
		return nil, fmt.Errorf("lifecycle: acknowledge %s: %w", alertID, err)
	}
	m.cancel(alertID)

	slog.Info("lifecycle: alert acknowledged", "alert_id", alertID, "by", userID, "level", a.EscalationLevel)
	m.emit(types.EventAcknowledged, a)
	return a, nil
}

// Resolve moves an OPEN or ACKNOWLEDGED alert to RESOLVED and stops its
// escalation.
func (m *Machine) Resolve(ctx context.Context, alertID, userID, notes string) (*types.Alert, error) {
	unlock := m.locks.Lock(alertID)
	defer unlock()

	a, err := m.alerts.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if a.State == types.StateResolved {
		return nil, fmt.Errorf("resolve %s: %w", alertID, types.ErrAlreadyResolved)
	}

	now := m.clock.Now()
	a.State = types.StateResolved
	a.ResolvedAt = &now
	a.ResolvedBy = userID
	a.ResolutionNotes = notes
	if err := m.alerts.UpdateAlert(ctx, a); err != nil {
		return nil, fmt.Errorf("lifecycle: resolve %s: %w", alertID, err)
	}
	m.cancel(alertID)

	slog.Info("lifecycle: alert resolved", "alert_id", alertID, "by", userID)
	m.emit(types.EventResolved, a)
	return a, nil
}

// Escalate raises an OPEN alert from level to-1 to level to.
//
// claim, when non-nil, is called first under the alert lock; if it returns
// false the escalation lost a race (the timer was cancelled or replaced)
// and ErrStaleEscalation is returned without changes. committed, when
// non-nil, runs after the new level is stored and before the lock is
// released.
func (m *Machine) Escalate(ctx context.Context, alertID string, to int, claim func() bool, committed func(*types.Alert)) (*types.Alert, error) {
	unlock := m.locks.Lock(alertID)
	defer unlock()

	if claim != nil && !claim() {
		return nil, fmt.Errorf("escalate %s to %d: timer cancelled: %w", alertID, to, types.ErrStaleEscalation)
	}
	a, err := m.alerts.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if a.State != types.StateOpen {
		return nil, fmt.Errorf("escalate %s to %d: alert %s: %w", alertID, to, a.State, types.ErrStaleEscalation)
	}
	if a.EscalationLevel != to-1 {
		return nil, fmt.Errorf("escalate %s to %d: at level %d: %w", alertID, to, a.EscalationLevel, types.ErrStaleEscalation)
	}

	a.EscalationLevel = to
	if err := m.alerts.UpdateAlert(ctx, a); err != nil {
		return nil, fmt.Errorf("lifecycle: escalate %s: %w", alertID, err)
	}
	if committed != nil {
		committed(a)
	}
	if to > 1 {
		slog.Info("lifecycle: alert escalated", "alert_id", alertID, "level", to)
		m.emit(types.EventEscalated, a)
	}
	return a, nil
}

func (m *Machine) cancel(alertID string) {
	if m.timers == nil {
		return
	}
	if m.timers.Cancel(alertID) {
		slog.Debug("lifecycle: escalation timer cancelled", "alert_id", alertID)
	}
}

// IsStale reports whether err is a lost escalation race.
func IsStale(err error) bool { return errors.Is(err, types.ErrStaleEscalation) }
