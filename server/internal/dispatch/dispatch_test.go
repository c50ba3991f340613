package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsidianstack/alertengine/pkg/types"
	"github.com/obsidianstack/alertengine/server/internal/clock"
	"github.com/obsidianstack/alertengine/server/internal/notifier"
	"github.com/obsidianstack/alertengine/server/internal/store"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// scripted fails with the queued errors, then succeeds.
type scripted struct {
	mu    sync.Mutex
	errs  []error
	calls []notifier.Delivery
}

func (s *scripted) Send(_ context.Context, d notifier.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, d)
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

func (s *scripted) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type lookup map[types.ChannelType]notifier.Notifier

func (l lookup) Lookup(t types.ChannelType) (notifier.Notifier, bool) {
	n, ok := l[t]
	return n, ok
}

type harness struct {
	d      *Dispatcher
	repo   *store.Memory
	hook   *scripted
	chat   *scripted
	sleeps []time.Duration
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{repo: store.NewMemory(time.Hour), hook: &scripted{}, chat: &scripted{}}
	channels := []types.Channel{
		{Name: "hook", Type: types.ChannelWebhook, URL: "http://hook"},
		{Name: "chat", Type: types.ChannelSlack, URL: "http://chat", Recipients: []string{"#ops", "#sre"}},
	}
	h.d = New(cfg, channels, lookup{types.ChannelWebhook: h.hook, types.ChannelSlack: h.chat}, h.repo, clock.NewFake(t0))
	var mu sync.Mutex
	h.d.sleep = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		h.sleeps = append(h.sleeps, d)
		return nil
	}
	return h
}

func testAlert(id string) *types.Alert {
	return &types.Alert{
		ID: id, WorkspaceID: "ws1", RuleID: "r1", Title: "t", Severity: types.SeverityCritical,
		State: types.StateOpen, EscalationLevel: 1, Channels: []string{"hook"},
	}
}

func TestTargets(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	a := testAlert("a1")
	a.Channels = []string{"hook", "chat"}
	a.Escalation = []types.EscalationLevel{
		{Level: 1, Channels: []string{"hook", "chat"}, Recipients: []string{"#oncall"}},
		{Level: 2, Channels: []string{"chat"}, Recipients: []string{"#managers"}},
	}

	assert.Equal(t, []types.Target{
		{Channel: "hook"},
		{Channel: "chat", Recipient: "#ops"},
		{Channel: "chat", Recipient: "#sre"},
		{Channel: "hook", Recipient: "#oncall"},
		{Channel: "chat", Recipient: "#oncall"},
	}, h.d.Targets(a, 1))

	assert.Equal(t, []types.Target{{Channel: "chat", Recipient: "#managers"}}, h.d.Targets(a, 2))
	assert.Empty(t, h.d.Targets(a, 3))
}

func TestDispatch_Delivered(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	a := testAlert("a1")

	got := h.d.Dispatch(context.Background(), a, []types.Target{{Channel: "hook"}})
	require.Len(t, got, 1)
	assert.Equal(t, types.OutcomeDelivered, got[0].Outcome)
	assert.Equal(t, "a1:hook::1", got[0].IdempotencyKey)
	assert.Equal(t, 0, got[0].RetryCount)

	require.Equal(t, 1, h.hook.count())
	assert.Equal(t, "a1:hook::1", h.hook.calls[0].IdempotencyKey)
	assert.Equal(t, "a1", h.hook.calls[0].Notification.AlertID)

	stored, err := h.repo.ListAttempts(context.Background(), "a1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, types.OutcomeDelivered, stored[0].Outcome)
}

func TestDispatch_RetriesTransient(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.hook.errs = []error{errors.New("503"), errors.New("timeout")}

	got := h.d.Dispatch(context.Background(), testAlert("a1"), []types.Target{{Channel: "hook"}})
	assert.Equal(t, types.OutcomeDelivered, got[0].Outcome)
	assert.Equal(t, 2, got[0].RetryCount)
	assert.Equal(t, 3, h.hook.count())
	require.Len(t, h.sleeps, 2)
	assert.LessOrEqual(t, h.sleeps[0], 1250*time.Millisecond)
	assert.GreaterOrEqual(t, h.sleeps[1], 1500*time.Millisecond)

	// Same key on every try.
	for _, c := range h.hook.calls {
		assert.Equal(t, "a1:hook::1", c.IdempotencyKey)
	}
}

func TestDispatch_PermanentNotRetried(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.hook.errs = []error{notifier.Permanentf("HTTP 400")}

	got := h.d.Dispatch(context.Background(), testAlert("a1"), []types.Target{{Channel: "hook"}})
	assert.Equal(t, types.OutcomeFailed, got[0].Outcome)
	assert.Contains(t, got[0].Error, "HTTP 400")
	assert.Equal(t, 1, h.hook.count())
	assert.Empty(t, h.sleeps)
}

func TestDispatch_RetriesExhausted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 3
	h := newHarness(t, cfg)
	h.hook.errs = []error{errors.New("a"), errors.New("b"), errors.New("c"), errors.New("d")}

	got := h.d.Dispatch(context.Background(), testAlert("a1"), []types.Target{{Channel: "hook"}})
	assert.Equal(t, types.OutcomeFailed, got[0].Outcome)
	assert.Equal(t, 2, got[0].RetryCount)
	assert.Equal(t, 3, h.hook.count())
}

func TestDispatch_SiblingsIsolated(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.hook.errs = []error{notifier.Permanentf("gone")}

	got := h.d.Dispatch(context.Background(), testAlert("a1"), []types.Target{
		{Channel: "hook"},
		{Channel: "chat", Recipient: "#ops"},
		{Channel: "missing"},
	})
	require.Len(t, got, 3)
	assert.Equal(t, types.OutcomeFailed, got[0].Outcome)
	assert.Equal(t, types.OutcomeDelivered, got[1].Outcome)
	assert.Equal(t, types.OutcomeFailed, got[2].Outcome)
	assert.Contains(t, got[2].Error, "unknown channel")
}

func TestDispatch_Idempotent(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	a := testAlert("a1")
	targets := []types.Target{{Channel: "hook"}}

	var wg sync.WaitGroup
	results := make([][]types.NotificationAttempt, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = h.d.Dispatch(context.Background(), a, targets)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, h.hook.count(), "one physical send")
	for _, r := range results {
		assert.Equal(t, results[0][0].ID, r[0].ID)
	}

	stored, err := h.repo.ListAttempts(context.Background(), "a1")
	require.NoError(t, err)
	delivered := 0
	for _, s := range stored {
		if s.Outcome == types.OutcomeDelivered {
			delivered++
		}
	}
	assert.Equal(t, 1, delivered)

	// A new level is a new logical delivery.
	a.EscalationLevel = 2
	h.d.Dispatch(context.Background(), a, targets)
	assert.Equal(t, 2, h.hook.count())
}

func TestDispatch_CircuitBreakerOpens(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 1
	h := newHarness(t, cfg)
	for i := 0; i < 5; i++ {
		h.hook.errs = append(h.hook.errs, errors.New("connection refused"))
	}
	for i := 0; i < 5; i++ {
		h.d.Dispatch(context.Background(), testAlert(fmt.Sprintf("a%d", i)), []types.Target{{Channel: "hook"}})
	}
	require.Equal(t, 5, h.hook.count())

	got := h.d.Dispatch(context.Background(), testAlert("a9"), []types.Target{{Channel: "hook"}})
	assert.Equal(t, types.OutcomeFailed, got[0].Outcome)
	assert.Contains(t, got[0].Error, gobreaker.ErrOpenState.Error())
	assert.Equal(t, 5, h.hook.count(), "open breaker does not call the provider")

	// Other channels are unaffected.
	got = h.d.Dispatch(context.Background(), testAlert("a9"), []types.Target{{Channel: "chat", Recipient: "#ops"}})
	assert.Equal(t, types.OutcomeDelivered, got[0].Outcome)
}

type countingObserver struct {
	mu       sync.Mutex
	outcomes []types.Outcome
}

func (c *countingObserver) ObserveDelivery(_ string, o types.Outcome, _ int, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes = append(c.outcomes, o)
}

func TestDispatch_Observer(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	obs := &countingObserver{}
	h.d.SetObserver(obs)
	h.d.Dispatch(context.Background(), testAlert("a1"), []types.Target{{Channel: "hook"}, {Channel: "nope"}})
	assert.ElementsMatch(t, []types.Outcome{types.OutcomeDelivered, types.OutcomeFailed}, obs.outcomes)
}

func TestSetChannels_KeepsBreakers(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	_, before, _, _ := h.d.channel("hook")
	h.d.SetChannels([]types.Channel{{Name: "hook", Type: types.ChannelWebhook, RatePerMinute: 60}})
	_, after, limiter, ok := h.d.channel("hook")
	require.True(t, ok)
	assert.Same(t, before, after)
	require.NotNil(t, limiter)
	assert.Equal(t, 60, limiter.Burst())
	_, _, _, ok = h.d.channel("chat")
	assert.False(t, ok)
}

func TestBackoff_NeverExceedsMax(t *testing.T) {
	b := newBackoff(time.Second, 30*time.Second)
	first := b.next()
	assert.LessOrEqual(t, first, 1250*time.Millisecond)
	for i := 0; i < 50; i++ {
		assert.LessOrEqual(t, b.next(), 30*time.Second*5/4)
	}
}
