package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/obsidianstack/alertengine/pkg/types"
	"github.com/obsidianstack/alertengine/server/internal/clock"
	"github.com/obsidianstack/alertengine/server/internal/keylock"
	"github.com/obsidianstack/alertengine/server/internal/notifier"
	"github.com/obsidianstack/alertengine/server/internal/store"
)

// Config bounds retries and per-send time.
type Config struct {
	MaxAttempts int           // total tries per target, including the first
	BaseDelay   time.Duration // first retry delay, doubled per retry
	MaxDelay    time.Duration // cap on the retry delay
	SendTimeout time.Duration // per try; 0 means no timeout
}

// DefaultConfig returns 4 attempts, 1s base delay doubling to a 30s cap and
// a 10s send timeout.
func DefaultConfig() Config {
	return Config{MaxAttempts: 4, BaseDelay: time.Second, MaxDelay: 30 * time.Second, SendTimeout: 10 * time.Second}
}

// Observer receives one call per finished target.
type Observer interface {
	ObserveDelivery(channel string, outcome types.Outcome, retries int, took time.Duration)
}

// Lookup resolves a channel type to its notifier.
type Lookup interface {
	Lookup(t types.ChannelType) (notifier.Notifier, bool)
}

// Dispatcher sends notifications and records their attempts.
type Dispatcher struct {
	cfg       Config
	notifiers Lookup
	attempts  store.AttemptRepository
	clock     clock.Clock
	observer  Observer
	keys      *keylock.Map

	// sleep waits between retries; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error

	mu       sync.RWMutex
	channels map[string]types.Channel
	breakers map[string]*gobreaker.CircuitBreaker
	limiters map[string]*rate.Limiter
}

// New returns a Dispatcher for the given channels.
func New(cfg Config, channels []types.Channel, notifiers Lookup, attempts store.AttemptRepository, clk clock.Clock) *Dispatcher {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	d := &Dispatcher{
		cfg:       cfg,
		notifiers: notifiers,
		attempts:  attempts,
		clock:     clk,
		keys:      keylock.New(),
		sleep:     sleepCtx,
	}
	d.SetChannels(channels)
	return d
}

// SetObserver installs o. It must be called before the first Dispatch.
func (d *Dispatcher) SetObserver(o Observer) { d.observer = o }

// SetChannels replaces the channel set. Breakers and limiters of channels
// that keep their name are kept.
func (d *Dispatcher) SetChannels(channels []types.Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()

	next := make(map[string]types.Channel, len(channels))
	breakers := make(map[string]*gobreaker.CircuitBreaker, len(channels))
	limiters := make(map[string]*rate.Limiter, len(channels))
	for _, ch := range channels {
		next[ch.Name] = ch
		if b, ok := d.breakers[ch.Name]; ok {
			breakers[ch.Name] = b
		} else {
			breakers[ch.Name] = newBreaker(ch.Name)
		}
		if ch.RatePerMinute > 0 {
			old, ok := d.limiters[ch.Name]
			if ok && old.Limit() == perMinute(ch.RatePerMinute) {
				limiters[ch.Name] = old
			} else {
				limiters[ch.Name] = rate.NewLimiter(perMinute(ch.RatePerMinute), burst(ch.RatePerMinute))
			}
		}
	}
	d.channels, d.breakers, d.limiters = next, breakers, limiters
}

func perMinute(n float64) rate.Limit { return rate.Limit(n / 60) }

func burst(n float64) int {
	if n < 1 {
		return 1
	}
	return int(n)
}

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "channel-" + name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A permanent failure proves the provider is reachable.
		IsSuccessful: func(err error) bool {
			return err == nil || notifier.IsPermanent(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("dispatch: circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

func (d *Dispatcher) channel(name string) (types.Channel, *gobreaker.CircuitBreaker, *rate.Limiter, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ch, ok := d.channels[name]
	return ch, d.breakers[name], d.limiters[name], ok
}

// Targets resolves the (channel, recipient) pairs of tier level for a.
// Tier 1 is the alert's own channels plus policy level 1; higher tiers are
// the policy level alone. A channel reference without recipients uses the
// channel's default recipients, or a single empty recipient.
func (d *Dispatcher) Targets(a *types.Alert, level int) []types.Target {
	var out []types.Target
	seen := make(map[types.Target]bool)
	add := func(channel string, recipients []string) {
		if len(recipients) == 0 {
			if ch, _, _, ok := d.channel(channel); ok {
				recipients = ch.Recipients
			}
		}
		if len(recipients) == 0 {
			recipients = []string{""}
		}
		for _, r := range recipients {
			t := types.Target{Channel: channel, Recipient: r}
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}

	if level == 1 {
		for _, c := range a.Channels {
			add(c, nil)
		}
	}
	for _, l := range a.Escalation {
		if l.Level != level {
			continue
		}
		for _, c := range l.Channels {
			add(c, l.Recipients)
		}
	}
	return out
}

// Dispatch delivers a's current tier to targets and returns one attempt per
// target, in target order.
func (d *Dispatcher) Dispatch(ctx context.Context, a *types.Alert, targets []types.Target) []types.NotificationAttempt {
	out := make([]types.NotificationAttempt, len(targets))
	n := types.NotificationFor(a)

	var wg sync.WaitGroup
	for i, t := range targets {
		wg.Add(1)
		go func(i int, t types.Target) {
			defer wg.Done()
			out[i] = d.deliver(ctx, a, t, n)
		}(i, t)
	}
	wg.Wait()
	return out
}

func (d *Dispatcher) deliver(ctx context.Context, a *types.Alert, t types.Target, n types.Notification) types.NotificationAttempt {
	key := types.IdempotencyKey(a.ID, t, a.EscalationLevel)
	unlock := d.keys.Lock(key)
	defer unlock()

	prior, ok, err := d.attempts.DeliveredAttempt(ctx, key)
	if err != nil {
		slog.Warn("dispatch: idempotency lookup failed", "key", key, "err", err)
	} else if ok {
		slog.Debug("dispatch: already delivered, skipping", "key", key, "attempt", prior.ID)
		return *prior
	}

	start := d.clock.Now()
	att := types.NotificationAttempt{
		ID:             uuid.NewString(),
		AlertID:        a.ID,
		Channel:        t.Channel,
		Recipient:      t.Recipient,
		Level:          a.EscalationLevel,
		IdempotencyKey: key,
		SentAt:         start,
		Outcome:        types.OutcomePending,
	}
	if err := d.attempts.InsertAttempt(ctx, att); err != nil {
		slog.Error("dispatch: record pending attempt", "key", key, "err", err)
	}

	err = d.sendWithRetry(ctx, t, n, key, &att)
	att.SentAt = d.clock.Now()
	if err != nil {
		att.Outcome = types.OutcomeFailed
		att.Error = err.Error()
		slog.Error("dispatch: delivery failed",
			"alert_id", a.ID, "channel", t.Channel, "recipient", t.Recipient,
			"level", a.EscalationLevel, "retries", att.RetryCount, "err", err)
	} else {
		att.Outcome = types.OutcomeDelivered
		slog.Debug("dispatch: delivered",
			"alert_id", a.ID, "channel", t.Channel, "recipient", t.Recipient, "level", a.EscalationLevel)
	}
	if err := d.attempts.UpdateAttempt(ctx, att); err != nil {
		slog.Error("dispatch: record attempt outcome", "key", key, "err", err)
	}
	if d.observer != nil {
		d.observer.ObserveDelivery(t.Channel, att.Outcome, att.RetryCount, att.SentAt.Sub(start))
	}
	return att
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, t types.Target, n types.Notification, key string, att *types.NotificationAttempt) error {
	ch, breaker, limiter, ok := d.channel(t.Channel)
	if !ok {
		return fmt.Errorf("unknown channel %q", t.Channel)
	}
	nt, ok := d.notifiers.Lookup(ch.Type)
	if !ok {
		return fmt.Errorf("no notifier for channel type %q", ch.Type)
	}
	del := notifier.Delivery{Channel: ch, Recipient: t.Recipient, IdempotencyKey: key, Notification: n}

	b := newBackoff(d.cfg.BaseDelay, d.cfg.MaxDelay)
	for try := 1; ; try++ {
		err := d.sendOnce(ctx, nt, breaker, limiter, del)
		if err == nil {
			return nil
		}
		if notifier.IsPermanent(err) {
			return err
		}
		if try >= d.cfg.MaxAttempts {
			return fmt.Errorf("giving up after %d attempts: %w", try, err)
		}
		wait := b.next()
		slog.Warn("dispatch: transient failure, retrying",
			"channel", t.Channel, "recipient", t.Recipient, "attempt", try, "backoff", wait, "err", err)
		if serr := d.sleep(ctx, wait); serr != nil {
			return fmt.Errorf("retry aborted: %w", errors.Join(err, serr))
		}
		att.RetryCount++
	}
}

func (d *Dispatcher) sendOnce(ctx context.Context, nt notifier.Notifier, breaker *gobreaker.CircuitBreaker, limiter *rate.Limiter, del notifier.Delivery) error {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}
	if d.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.SendTimeout)
		defer cancel()
	}
	_, err := breaker.Execute(func() (interface{}, error) {
		return nil, nt.Send(ctx, del)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("channel %s: %w", del.Channel.Name, err)
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
