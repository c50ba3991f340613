package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsidianstack/alertengine/pkg/types"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

const fullConfig = `
server:
  http_port: 9091
  log_level: debug
  auth:
    mode: apikey
    key_env: TEST_SERVER_KEY
    header: x-obs-key
  storage:
    driver: sqlite
    path: /var/lib/alertengine/alerts.db
engine:
  tick_interval: 30s
  workers: 4
  default_cooldown: 20m
  delivery:
    max_attempts: 3
    base_delay: 500ms
    max_delay: 10s
    timeout: 5s
channels:
  - name: ops
    type: slack
    url_env: TEST_SLACK_URL
  - name: oncall
    type: pagerduty
    recipients: [routing-key-1]
  - name: mail
    type: email
    recipients: [sre@example.com]
    smtp:
      host: smtp.example.com
      port: 587
      from: alerts@example.com
      password_env: TEST_SMTP_PASSWORD
workspaces:
  - id: acme
    escalation_policies:
      - id: default
        levels:
          - level: 1
            channels: [oncall]
          - level: 2
            delay: 15m
            channels: [mail]
    rules:
      - id: err-rate
        name: api error rate
        metric: error_rate
        severity: critical
        cooldown: 60m
        check_interval: 1m
        channels: [ops]
        escalation_policy: default
        condition:
          type: threshold
          threshold:
            operator: ">"
            value: 0.05
            duration: 5m
      - id: latency
        name: p99 latency
        metric: latency_p99
        severity: warning
        active: false
        channels: [ops]
        condition:
          type: change
          change:
            mode: percent
            direction: up
            threshold: 50
            window: 10m
            comparison_period: 1h
            aggregation: avg
    suppressions:
      - id: deploy
        pattern: "api *"
        start: 2026-03-01T12:00:00Z
        end: 2026-03-01T13:00:00Z
        reason: release
scrape:
  interval: 15s
  retention: 6h
  targets:
    - workspace: acme
      url: http://localhost:9090/metrics
      metrics: [error_rate, latency_p99]
      auth:
        mode: bearer
        token_env: TEST_SCRAPE_TOKEN
`

func TestLoad_Full(t *testing.T) {
	t.Setenv("TEST_SERVER_KEY", "supersecret")
	t.Setenv("TEST_SLACK_URL", "https://hooks.slack.test/x")
	t.Setenv("TEST_SMTP_PASSWORD", "hunter2")
	t.Setenv("TEST_SCRAPE_TOKEN", "tok")

	cfg, err := Load(writeConfig(t, fullConfig))
	require.NoError(t, err)

	assert.Equal(t, 9091, cfg.Server.HTTPPort)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, "supersecret", cfg.Server.Auth.Key())
	assert.Equal(t, "x-obs-key", cfg.Server.Auth.EffectiveHeader())
	assert.Equal(t, "sqlite", cfg.Server.Storage.Driver)

	assert.Equal(t, 30*time.Second, cfg.Engine.TickInterval)
	assert.Equal(t, 4, cfg.Engine.Workers)
	assert.Equal(t, 20*time.Minute, cfg.Engine.DefaultCooldown)
	assert.Equal(t, DeliveryConfig{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second, Timeout: 5 * time.Second}, cfg.Engine.Delivery)

	require.Len(t, cfg.Channels, 3)
	assert.Equal(t, "https://hooks.slack.test/x", cfg.Channels[0].URL)
	require.NotNil(t, cfg.Channels[2].SMTP)
	assert.Equal(t, "hunter2", cfg.Channels[2].SMTP.Password)

	require.Len(t, cfg.Workspaces, 1)
	ws := cfg.Workspaces[0]
	rules := ws.AlertRules()
	require.Len(t, rules, 2)
	r := rules[0]
	assert.Equal(t, "acme", r.WorkspaceID)
	assert.True(t, r.Active, "active defaults to true")
	assert.Equal(t, 60*time.Minute, r.Cooldown)
	assert.Equal(t, "default", r.EscalationPolicyID)
	require.NotNil(t, r.Condition.Threshold)
	assert.Equal(t, types.OpGreater, r.Condition.Threshold.Operator)
	assert.Equal(t, 5*time.Minute, r.Condition.Threshold.Duration)
	assert.False(t, rules[1].Active)
	require.NotNil(t, rules[1].Condition.Change)
	assert.Equal(t, time.Hour, rules[1].Condition.Change.ComparisonPeriod)

	require.Len(t, ws.EscalationPolicies, 1)
	assert.Equal(t, "acme", ws.EscalationPolicies[0].WorkspaceID)
	assert.Equal(t, 15*time.Minute, ws.EscalationPolicies[0].Levels[1].Delay)

	require.Len(t, ws.Suppressions, 1)
	assert.Equal(t, "acme", ws.Suppressions[0].WorkspaceID)
	assert.Equal(t, time.Hour, ws.Suppressions[0].End.Sub(ws.Suppressions[0].Start))

	targets := cfg.Scrape.ScrapeTargets()
	require.Len(t, targets, 1)
	assert.Equal(t, "tok", targets[0].Auth.Token)
	assert.Equal(t, 6*time.Hour, cfg.Scrape.Retention)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server: {}\n"))
	require.NoError(t, err)

	assert.Equal(t, DefaultHTTPPort, cfg.Server.HTTPPort)
	assert.Equal(t, DefaultStorageDriver, cfg.Server.Storage.Driver)
	assert.Equal(t, DefaultLogLevel, cfg.Server.LogLevel)
	assert.Equal(t, "x-api-key", cfg.Server.Auth.EffectiveHeader())
	assert.Equal(t, DefaultTickInterval, cfg.Engine.TickInterval)
	assert.Equal(t, DefaultWorkers, cfg.Engine.Workers)
	assert.Equal(t, DefaultCooldown, cfg.Engine.DefaultCooldown)
	assert.Equal(t, DefaultMaxAttempts, cfg.Engine.Delivery.MaxAttempts)
	assert.Equal(t, DefaultScrapeInterval, cfg.Scrape.Interval)
	assert.Equal(t, DefaultSampleRetention, cfg.Scrape.Retention)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"unknown auth mode": `
server:
  auth:
    mode: oauth2
`,
		"sqlite without path": `
server:
  storage:
    driver: sqlite
`,
		"bad log level": `
server:
  log_level: chatty
`,
		"unknown channel type": `
channels:
  - name: x
    type: carrier-pigeon
`,
		"duplicate channel": `
channels:
  - {name: x, type: log}
  - {name: x, type: log}
`,
		"rule references unknown channel": `
workspaces:
  - id: acme
    rules:
      - id: r1
        name: r1
        metric: m
        severity: info
        channels: [nowhere]
        condition:
          type: threshold
          threshold: {operator: ">", value: 1}
`,
		"rule references unknown policy": `
channels:
  - {name: ops, type: log}
workspaces:
  - id: acme
    rules:
      - id: r1
        name: r1
        metric: m
        severity: info
        channels: [ops]
        escalation_policy: missing
        condition:
          type: threshold
          threshold: {operator: ">", value: 1}
`,
		"condition variant mismatch": `
workspaces:
  - id: acme
    rules:
      - id: r1
        name: r1
        metric: m
        severity: info
        condition:
          type: anomaly
          threshold: {operator: ">", value: 1}
`,
		"policy levels out of order": `
channels:
  - {name: ops, type: log}
workspaces:
  - id: acme
    escalation_policies:
      - id: p
        levels:
          - {level: 2, channels: [ops]}
          - {level: 1, channels: [ops]}
`,
		"window ends before start": `
workspaces:
  - id: acme
    suppressions:
      - id: w
        start: 2026-03-01T13:00:00Z
        end: 2026-03-01T12:00:00Z
`,
		"scrape target for unknown workspace": `
scrape:
  targets:
    - workspace: ghost
      url: http://localhost:9090/metrics
`,
		"duplicate workspace": `
workspaces:
  - id: acme
  - id: acme
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

const oneRule = `
channels:
  - {name: ops, type: log}
workspaces:
  - id: acme
    rules:
      - id: r1
        name: r1
        metric: m
        severity: %s
        channels: [ops]
        condition:
          type: threshold
          threshold: {operator: ">", value: 1}
`

func TestLoad_RuleErrorLocatesRule(t *testing.T) {
	_, err := Load(writeConfig(t, fmt.Sprintf(oneRule, "catastrophic")))
	require.Error(t, err)
	assert.True(t, types.IsValidation(err))

	var re *RuleError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "acme", re.Workspace)
	assert.Equal(t, "r1", re.Rule)
	assert.Contains(t, err.Error(), `rules[0] "r1"`)

	attrs := rejectAttrs("config.yaml", err)
	assert.Subset(t, attrs, []any{"workspace", "acme", "rule", "r1", "field", "Severity"})
}

func TestRemovedRules(t *testing.T) {
	rule := func(id string) Rule { return Rule{AlertRule: types.AlertRule{ID: id}} }
	old := &Config{Workspaces: []Workspace{
		{ID: "a", Rules: []Rule{rule("r1"), rule("r2")}},
		{ID: "b", Rules: []Rule{rule("r1")}},
	}}
	cur := &Config{Workspaces: []Workspace{
		{ID: "a", Rules: []Rule{rule("r1")}},
	}}

	assert.Equal(t, map[string][]string{"a": {"r2"}, "b": {"r1"}}, RemovedRules(old, cur))
	assert.Empty(t, RemovedRules(cur, old))
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	p := writeConfig(t, "server:\n  http_port: 8081\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var port atomic.Int64
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, p, func(c *Config) { port.Store(int64(c.Server.HTTPPort)) })
	}()

	// Invalid contents are ignored; the watcher keeps running.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(p, []byte("server:\n  http_port: -1\n"), 0o600)
		_ = os.WriteFile(p, []byte("server:\n  http_port: 8082\n"), 0o600)
		return port.Load() == 8082
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatch_RejectedReloadKeepsPrevious(t *testing.T) {
	p := writeConfig(t, fmt.Sprintf(oneRule, "info"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		calls    atomic.Int64
		severity atomic.Value
	)
	go func() {
		_ = Watch(ctx, p, func(c *Config) {
			calls.Add(1)
			severity.Store(c.Workspaces[0].Rules[0].Severity)
		})
	}()
	// Let the watcher register before the first write.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(p, []byte(fmt.Sprintf(oneRule, "catastrophic")), 0o600))
	time.Sleep(5 * settle)
	assert.Zero(t, calls.Load(), "invalid rule must not reach onChange")

	require.NoError(t, os.WriteFile(p, []byte(fmt.Sprintf(oneRule, "critical")), 0o600))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, types.SeverityCritical, severity.Load())
}
