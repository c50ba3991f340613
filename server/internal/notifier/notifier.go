package notifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/obsidianstack/alertengine/pkg/types"
)

// Delivery is one send request.
type Delivery struct {
	Channel        types.Channel
	Recipient      string
	IdempotencyKey string
	Notification   types.Notification
}

// Notifier sends a Delivery over one channel type.
type Notifier interface {
	Send(ctx context.Context, d Delivery) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, d Delivery) error

func (f Func) Send(ctx context.Context, d Delivery) error { return f(ctx, d) }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return "permanent: " + e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Permanentf is Permanent(fmt.Errorf(format, args...)).
func Permanentf(format string, args ...any) error {
	return Permanent(fmt.Errorf(format, args...))
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Registry maps channel types to notifiers.
type Registry struct {
	mu     sync.RWMutex
	byType map[types.ChannelType]Notifier
}

// NewRegistry returns a registry with every built-in transport registered.
// client is shared by the HTTP transports; nil uses a 10s-timeout client.
func NewRegistry(client *http.Client) *Registry {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	r := &Registry{byType: make(map[types.ChannelType]Notifier)}
	r.Register(types.ChannelWebhook, NewHTTP(client, webhookPayload))
	r.Register(types.ChannelSlack, NewHTTP(client, slackPayload))
	r.Register(types.ChannelTeams, NewHTTP(client, teamsPayload))
	r.Register(types.ChannelDiscord, NewHTTP(client, discordPayload))
	r.Register(types.ChannelPagerDuty, NewHTTP(client, pagerDutyPayload))
	r.Register(types.ChannelSMS, NewHTTP(client, smsPayload))
	r.Register(types.ChannelEmail, NewEmail())
	r.Register(types.ChannelLog, Log{})
	return r
}

// Register installs n for t, replacing any previous notifier.
func (r *Registry) Register(t types.ChannelType, n Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[t] = n
}

// Lookup returns the notifier for t.
func (r *Registry) Lookup(t types.ChannelType) (Notifier, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.byType[t]
	return n, ok
}
