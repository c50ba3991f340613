package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/obsidianstack/alertengine/pkg/types"
	"github.com/obsidianstack/alertengine/server/internal/clock"
	"github.com/obsidianstack/alertengine/server/internal/condition"
	"github.com/obsidianstack/alertengine/server/internal/escalation"
	"github.com/obsidianstack/alertengine/server/internal/keylock"
	"github.com/obsidianstack/alertengine/server/internal/lifecycle"
	"github.com/obsidianstack/alertengine/server/internal/store"
	"github.com/obsidianstack/alertengine/server/internal/suppression"
	"github.com/obsidianstack/alertengine/server/internal/telemetry"
	"github.com/obsidianstack/alertengine/server/internal/validation"
)

const (
	defaultCooldown = 15 * time.Minute
	defaultWorkers  = 8
	minFetchSlack   = time.Minute
)

// MetricSource returns the samples of a metric in (now-d, now], oldest
// first.
type MetricSource interface {
	Window(ctx context.Context, workspaceID, metric string, d time.Duration) (types.Window, error)
}

// Observer receives evaluation counts. telemetry.Metrics implements it.
type Observer interface {
	ObserveEvaluation(workspace, outcome string)
	ObserveSuppressed(workspace, reason string)
	ObserveTick(took time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveEvaluation(string, string) {}
func (nopObserver) ObserveSuppressed(string, string) {}
func (nopObserver) ObserveTick(time.Duration)        {}

// Options tune an Engine. Zero values select defaults.
type Options struct {
	// Workers bounds parallel rule evaluations within one tick.
	Workers int
	// DefaultCooldown applies to rules without a cooldown.
	DefaultCooldown time.Duration
	Clock           clock.Clock
	Observer        Observer
}

// Engine ties condition evaluation, suppression, the alert state machine,
// escalation and dispatch together.
type Engine struct {
	repos    store.Repositories
	source   MetricSource
	clock    clock.Clock
	observer Observer
	workers  int
	cooldown time.Duration

	machine  *lifecycle.Machine
	sched    *escalation.Scheduler
	esc      *escalation.Escalator
	suppress *suppression.Manager
	dispatch escalation.Dispatcher

	ruleLocks *keylock.Map
	cancel    context.CancelFunc

	mu       sync.Mutex
	lastEval map[string]time.Time // key: workspace/rule
}

// New builds an Engine. d delivers notifications; it is normally a
// *dispatch.Dispatcher.
func New(repos store.Repositories, source MetricSource, d escalation.Dispatcher, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.DefaultCooldown <= 0 {
		opts.DefaultCooldown = defaultCooldown
	}

	ctx, cancel := context.WithCancel(context.Background())
	sched := escalation.NewScheduler(opts.Clock)
	machine := lifecycle.New(repos, sched, opts.Clock)
	suppress := suppression.New(repos)

	return &Engine{
		repos:     repos,
		source:    source,
		clock:     opts.Clock,
		observer:  opts.Observer,
		workers:   opts.Workers,
		cooldown:  opts.DefaultCooldown,
		machine:   machine,
		sched:     sched,
		esc:       escalation.NewEscalator(ctx, machine, sched, suppress, d, opts.Clock),
		suppress:  suppress,
		dispatch:  d,
		ruleLocks: keylock.New(),
		cancel:    cancel,
		lastEval:  make(map[string]time.Time),
	}
}

// Subscribe registers p for alert lifecycle events. Call before Run.
func (e *Engine) Subscribe(p lifecycle.Publisher) { e.machine.Subscribe(p) }

// EvaluateTick evaluates every active rule of the workspace now, regardless
// of check intervals. Per-rule faults are returned together; they never
// stop other rules.
func (e *Engine) EvaluateTick(ctx context.Context, workspaceID string) error {
	return e.tick(ctx, workspaceID, false)
}

// Run evaluates every workspace each interval until ctx is cancelled. A
// rule is evaluated only once its check interval has elapsed.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	slog.Info("alerts: engine started", "interval", interval, "workers", e.workers)
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("alerts: engine stopped")
			return
		case <-t.C:
			e.TickAll(ctx)
		}
	}
}

// TickAll runs one interval-respecting tick over every workspace.
func (e *Engine) TickAll(ctx context.Context) {
	workspaces, err := e.repos.ListWorkspaces(ctx)
	if err != nil {
		slog.Error("alerts: list workspaces", "err", err)
		return
	}
	for _, ws := range workspaces {
		if err := e.tick(ctx, ws, true); err != nil {
			slog.Warn("alerts: tick finished with rule faults", "workspace", ws, "err", err)
		}
	}
}

func (e *Engine) tick(ctx context.Context, workspaceID string, respectInterval bool) error {
	start := e.clock.Now()
	defer func() { e.observer.ObserveTick(e.clock.Now().Sub(start)) }()

	rules, err := e.repos.ListActiveRules(ctx, workspaceID)
	if err != nil {
		return fmt.Errorf("alerts: list rules %s: %w", workspaceID, err)
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs *multierror.Error
	)
	g.SetLimit(e.workers)
	for _, r := range rules {
		if respectInterval && !e.due(r, start) {
			continue
		}
		g.Go(func() error {
			if err := e.evaluateIsolated(ctx, r); err != nil {
				e.observer.ObserveEvaluation(workspaceID, telemetry.OutcomeError)
				slog.Error("alerts: rule evaluation failed", "workspace", workspaceID, "rule", r.ID, "err", err)
				mu.Lock()
				errs = multierror.Append(errs, fmt.Errorf("rule %s: %w", r.ID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs.ErrorOrNil()
}

// due reports whether r's check interval has elapsed and, if so, marks it
// evaluated at now.
func (e *Engine) due(r types.AlertRule, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	last, ok := e.lastEval[r.Key()]
	if ok && r.CheckInterval > 0 && now.Sub(last) < r.CheckInterval {
		return false
	}
	e.lastEval[r.Key()] = now
	return true
}

func (e *Engine) evaluateIsolated(ctx context.Context, r types.AlertRule) (err error) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("alerts: panic during rule evaluation", "rule", r.ID, "panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	_, err = e.evaluateRule(ctx, r)
	return err
}

// evaluateRule runs met check -> suppression check -> create under the
// rule's lock. It returns the created alert, or nil.
func (e *Engine) evaluateRule(ctx context.Context, r types.AlertRule) (*types.Alert, error) {
	unlock := e.ruleLocks.Lock(r.Key())
	defer unlock()

	now := e.clock.Now()
	w, err := e.source.Window(ctx, r.WorkspaceID, r.Metric, e.fetchWindow(r))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", r.Metric, err)
	}

	res := condition.Evaluate(r.Condition, w)
	switch {
	case res.DataGap:
		e.observer.ObserveEvaluation(r.WorkspaceID, telemetry.OutcomeDataGap)
		slog.Debug("alerts: insufficient data", "workspace", r.WorkspaceID, "rule", r.ID, "reason", res.Evidence.Reason)
		return nil, nil
	case !res.Met:
		e.observer.ObserveEvaluation(r.WorkspaceID, telemetry.OutcomeNotMet)
		return nil, nil
	}
	e.observer.ObserveEvaluation(r.WorkspaceID, telemetry.OutcomeMet)

	subject := types.SubjectOf(r)
	if subject.Cooldown <= 0 {
		subject.Cooldown = e.cooldown
	}
	d, err := e.suppress.IsSuppressed(ctx, subject, now)
	if err != nil {
		return nil, err
	}
	if d.Suppressed {
		e.observer.ObserveSuppressed(r.WorkspaceID, string(d.Reason))
		slog.Info("alerts: trigger suppressed",
			"workspace", r.WorkspaceID, "rule", r.ID, "reason", d.Reason, "until", d.Until)
		return nil, nil
	}

	a := e.newAlert(ctx, r, res, now)
	if err := e.machine.Open(ctx, a); err != nil {
		return nil, err
	}
	if err := e.suppress.RecordTrigger(ctx, r.WorkspaceID, r.ID, now); err != nil {
		slog.Error("alerts: cooldown not recorded", "rule", r.ID, "alert_id", a.ID, "err", err)
	}
	if err := e.esc.Start(a); err != nil && !lifecycle.IsStale(err) {
		slog.Error("alerts: tier-1 escalation failed", "alert_id", a.ID, "err", err)
	}
	return a, nil
}

// fetchWindow is the lookback of the rule's condition plus one check
// interval of slack, so a threshold with no duration still sees its latest
// sample.
func (e *Engine) fetchWindow(r types.AlertRule) time.Duration {
	slack := r.CheckInterval
	if slack < minFetchSlack {
		slack = minFetchSlack
	}
	return condition.Lookback(r.Condition) + slack
}

func (e *Engine) newAlert(ctx context.Context, r types.AlertRule, res condition.Result, now time.Time) *types.Alert {
	var levels []types.EscalationLevel
	if r.EscalationPolicyID != "" {
		p, err := e.repos.GetPolicy(ctx, r.WorkspaceID, r.EscalationPolicyID)
		if err != nil {
			slog.Warn("alerts: escalation policy unavailable, alert will not escalate",
				"rule", r.ID, "policy", r.EscalationPolicyID, "err", err)
		} else {
			levels = p.Snapshot()
		}
	}

	return &types.Alert{
		ID:             uuid.NewString(),
		WorkspaceID:    r.WorkspaceID,
		RuleID:         r.ID,
		RuleName:       r.Name,
		Metric:         r.Metric,
		Title:          fmt.Sprintf("%s: %s", r.Name, describe(r.Condition)),
		Message:        fmt.Sprintf("[%s] %s fired in %s: %s = %.4g (threshold %.4g)", r.Severity, r.Name, r.WorkspaceID, r.Metric, res.Observed, res.Threshold),
		Severity:       r.Severity,
		ObservedValue:  res.Observed,
		ThresholdValue: res.Threshold,
		TriggeredAt:    now,
		Channels:       append([]string(nil), r.Channels...),
		Escalation:     levels,
		Context: map[string]any{
			"condition_type": string(r.Condition.Kind),
			"delta":          res.Delta,
			"evidence":       res.Evidence,
		},
	}
}

func describe(c types.Condition) string {
	switch {
	case c.Threshold != nil:
		return fmt.Sprintf("%s %g for %s", c.Threshold.Operator, c.Threshold.Value, c.Threshold.Duration)
	case c.Change != nil:
		return fmt.Sprintf("%s change %s %g over %s", c.Change.Mode, c.Change.Direction, c.Change.Threshold, c.Change.Window)
	case c.Anomaly != nil:
		return fmt.Sprintf("anomaly beyond %g sigma", c.Anomaly.Sensitivity)
	case c.Pattern != nil:
		return fmt.Sprintf("%s pattern x%d in %s", c.Pattern.Shape, c.Pattern.MinOccurrences, c.Pattern.Window)
	default:
		return string(c.Kind)
	}
}

// Acknowledge moves an OPEN alert to ACKNOWLEDGED. Its pending escalation
// is cancelled before Acknowledge returns.
func (e *Engine) Acknowledge(ctx context.Context, alertID, userID string) (*types.Alert, error) {
	return e.machine.Acknowledge(ctx, alertID, userID)
}

// Resolve moves an alert to RESOLVED and stops its escalation.
func (e *Engine) Resolve(ctx context.Context, alertID, userID, notes string) (*types.Alert, error) {
	return e.machine.Resolve(ctx, alertID, userID, notes)
}

// TestRule replays c over a historical window without touching any store
// or notifier. An invalid condition returns a *types.ValidationError.
func (e *Engine) TestRule(c types.Condition, w types.Window) (condition.Trace, error) {
	return TestRule(c, w)
}

// TestRule is the side-effect-free rule replay used by Engine.TestRule and
// the CLI.
func TestRule(c types.Condition, w types.Window) (condition.Trace, error) {
	if err := validation.Condition(c); err != nil {
		return condition.Trace{}, err
	}
	sorted := append(types.Window(nil), w...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })
	return condition.Replay(c, sorted), nil
}

// Resume re-arms escalation for OPEN alerts found in the store. It is
// called once at startup.
func (e *Engine) Resume(ctx context.Context) error {
	workspaces, err := e.repos.ListWorkspaces(ctx)
	if err != nil {
		return err
	}
	var errs *multierror.Error
	for _, ws := range workspaces {
		open, err := e.repos.ListAlerts(ctx, ws, types.AlertFilter{State: types.StateOpen})
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if n := e.esc.Resume(open); n > 0 {
			slog.Info("alerts: escalation resumed", "workspace", ws, "alerts", n)
		}
	}
	return errs.ErrorOrNil()
}

// Now returns the engine's current time.
func (e *Engine) Now() time.Time { return e.clock.Now() }

// Wait blocks until in-flight notification dispatches finish.
func (e *Engine) Wait() { e.esc.Wait() }

// Close stops all escalation timers, cancels in-flight dispatches and waits
// for them to return.
func (e *Engine) Close() {
	e.sched.Stop()
	e.cancel()
	e.esc.Wait()
}

// PendingEscalation reports the next escalation level armed for alertID.
func (e *Engine) PendingEscalation(alertID string) (level int, due time.Time, ok bool) {
	return e.sched.Pending(alertID)
}

// IsNotFound reports whether err means the addressed object does not exist.
func IsNotFound(err error) bool { return errors.Is(err, types.ErrNotFound) }
