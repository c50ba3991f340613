package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/obsidianstack/alertengine/pkg/types"
	"github.com/obsidianstack/alertengine/server/internal/samples"
	"github.com/obsidianstack/alertengine/server/internal/validation"
)

// Default values for the server configuration.
const (
	DefaultHTTPPort        = 8080
	DefaultTickInterval    = time.Minute
	DefaultWorkers         = 8
	DefaultCooldown        = 15 * time.Minute
	DefaultMaxAttempts     = 4
	DefaultBaseDelay       = time.Second
	DefaultMaxDelay        = 30 * time.Second
	DefaultSendTimeout     = 10 * time.Second
	DefaultScrapeInterval  = 30 * time.Second
	DefaultSampleRetention = 24 * time.Hour
	DefaultWindowRetention = 7 * 24 * time.Hour
	DefaultStorageDriver   = "memory"
	DefaultLogLevel        = "info"
)

// Config is the parsed config.yaml.
type Config struct {
	Server     ServerConfig    `yaml:"server"`
	Engine     EngineConfig    `yaml:"engine"`
	Channels   []types.Channel `yaml:"channels"`
	Workspaces []Workspace     `yaml:"workspaces"`
	Scrape     ScrapeConfig    `yaml:"scrape"`
}

// ServerConfig holds process-level settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API, /metrics and the event stream listen on.
	HTTPPort int `yaml:"http_port"`

	// Auth configures how the server authenticates incoming REST clients.
	Auth AuthConfig `yaml:"auth"`

	Storage StorageConfig `yaml:"storage"`

	// LogLevel is one of: debug | info | warn | error.
	LogLevel string `yaml:"log_level"`
}

// AuthConfig controls client authentication on the REST API.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header to read the key from. Defaults to "x-api-key".
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string { return env(a.KeyEnv) }

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// StorageConfig selects the repository backend.
type StorageConfig struct {
	// Driver is one of: memory | sqlite.
	Driver string `yaml:"driver"`

	// Path is the SQLite database file. Required for the sqlite driver.
	Path string `yaml:"path"`

	// WindowRetention is how long expired suppression windows are kept.
	WindowRetention time.Duration `yaml:"window_retention"`
}

// EngineConfig tunes evaluation and delivery.
type EngineConfig struct {
	TickInterval    time.Duration  `yaml:"tick_interval"`
	Workers         int            `yaml:"workers"`
	DefaultCooldown time.Duration  `yaml:"default_cooldown"`
	Delivery        DeliveryConfig `yaml:"delivery"`
}

// DeliveryConfig is the notification retry policy.
type DeliveryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Workspace groups the rules, policies and suppression windows of one tenant.
type Workspace struct {
	ID                 string                    `yaml:"id"`
	Rules              []Rule                    `yaml:"rules"`
	EscalationPolicies []types.EscalationPolicy  `yaml:"escalation_policies"`
	Suppressions       []types.SuppressionWindow `yaml:"suppressions"`
}

// Rule is an alert rule as written in YAML. Active defaults to true.
type Rule struct {
	types.AlertRule `yaml:",inline"`
	Active          *bool `yaml:"active"`
}

// ScrapeConfig lists the Prometheus endpoints that feed the sample buffer.
type ScrapeConfig struct {
	Interval  time.Duration  `yaml:"interval"`
	Retention time.Duration  `yaml:"retention"`
	Targets   []ScrapeTarget `yaml:"targets"`
}

// ScrapeTarget is one endpoint and the workspace its samples belong to.
type ScrapeTarget struct {
	Workspace string     `yaml:"workspace"`
	URL       string     `yaml:"url"`
	Metrics   []string   `yaml:"metrics"`
	Auth      ScrapeAuth `yaml:"auth"`
}

// ScrapeAuth mirrors the credential modes a scrape target may require.
type ScrapeAuth struct {
	// Mode is one of: apikey | bearer | basic | none.
	Mode        string `yaml:"mode"`
	Header      string `yaml:"header"`
	KeyEnv      string `yaml:"key_env"`
	TokenEnv    string `yaml:"token_env"`
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// Load reads and parses the config file at path. Missing fields are filled
// with defaults before validation, and *_env secrets are resolved.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}
	cfg.normalize()

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
			LogLevel: DefaultLogLevel,
			Storage: StorageConfig{
				Driver:          DefaultStorageDriver,
				WindowRetention: DefaultWindowRetention,
			},
		},
		Engine: EngineConfig{
			TickInterval:    DefaultTickInterval,
			Workers:         DefaultWorkers,
			DefaultCooldown: DefaultCooldown,
			Delivery: DeliveryConfig{
				MaxAttempts: DefaultMaxAttempts,
				BaseDelay:   DefaultBaseDelay,
				MaxDelay:    DefaultMaxDelay,
				Timeout:     DefaultSendTimeout,
			},
		},
		Scrape: ScrapeConfig{
			Interval:  DefaultScrapeInterval,
			Retention: DefaultSampleRetention,
		},
	}
}

// normalize stamps workspace IDs onto nested objects, applies rule defaults
// and resolves environment secrets.
func (c *Config) normalize() {
	for i := range c.Channels {
		ch := &c.Channels[i]
		if ch.URLEnv != "" {
			ch.URL = env(ch.URLEnv)
		}
		if ch.SMTP != nil {
			ch.SMTP.Password = env(ch.SMTP.PasswordEnv)
		}
	}
	for i := range c.Workspaces {
		ws := &c.Workspaces[i]
		for j := range ws.Rules {
			r := &ws.Rules[j]
			r.WorkspaceID = ws.ID
			r.AlertRule.Active = r.Active == nil || *r.Active
		}
		for j := range ws.EscalationPolicies {
			ws.EscalationPolicies[j].WorkspaceID = ws.ID
		}
		for j := range ws.Suppressions {
			ws.Suppressions[j].WorkspaceID = ws.ID
		}
	}
}

// validate checks structural constraints and cross references.
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	switch cfg.Server.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", cfg.Server.Auth.Mode)
	}
	switch cfg.Server.Storage.Driver {
	case "memory":
	case "sqlite":
		if cfg.Server.Storage.Path == "" {
			return fmt.Errorf("server.storage.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("server.storage.driver %q unknown: want memory|sqlite", cfg.Server.Storage.Driver)
	}
	switch cfg.Server.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.log_level %q unknown: want debug|info|warn|error", cfg.Server.LogLevel)
	}
	if cfg.Engine.TickInterval <= 0 {
		return fmt.Errorf("engine.tick_interval must be positive")
	}
	if cfg.Engine.Workers <= 0 {
		return fmt.Errorf("engine.workers must be positive")
	}
	if cfg.Engine.Delivery.MaxAttempts <= 0 {
		return fmt.Errorf("engine.delivery.max_attempts must be positive")
	}
	if cfg.Engine.Delivery.BaseDelay < 0 || cfg.Engine.Delivery.MaxDelay < cfg.Engine.Delivery.BaseDelay {
		return fmt.Errorf("engine.delivery: need 0 <= base_delay <= max_delay")
	}

	channels := make(map[string]bool, len(cfg.Channels))
	for i, ch := range cfg.Channels {
		if err := validation.Channel(ch); err != nil {
			return fmt.Errorf("channels[%d] %q: %w", i, ch.Name, err)
		}
		if channels[ch.Name] {
			return fmt.Errorf("channels[%d]: duplicate name %q", i, ch.Name)
		}
		channels[ch.Name] = true
	}

	seen := make(map[string]bool, len(cfg.Workspaces))
	for i, ws := range cfg.Workspaces {
		if ws.ID == "" {
			return fmt.Errorf("workspaces[%d]: id is required", i)
		}
		if seen[ws.ID] {
			return fmt.Errorf("workspaces[%d]: duplicate id %q", i, ws.ID)
		}
		seen[ws.ID] = true
		if err := validateWorkspace(ws, channels); err != nil {
			return fmt.Errorf("workspace %q: %w", ws.ID, err)
		}
	}

	if cfg.Scrape.Interval <= 0 {
		return fmt.Errorf("scrape.interval must be positive")
	}
	for i, t := range cfg.Scrape.Targets {
		if t.URL == "" {
			return fmt.Errorf("scrape.targets[%d]: url is required", i)
		}
		if !seen[t.Workspace] {
			return fmt.Errorf("scrape.targets[%d]: unknown workspace %q", i, t.Workspace)
		}
		switch t.Auth.Mode {
		case "apikey", "bearer", "basic", "none", "":
		default:
			return fmt.Errorf("scrape.targets[%d]: unknown auth mode %q", i, t.Auth.Mode)
		}
	}
	return nil
}

// RuleError locates a rule that failed validation.
type RuleError struct {
	Workspace string
	Index     int
	Rule      string
	Err       error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rules[%d] %q: %v", e.Index, e.Rule, e.Err)
}

func (e *RuleError) Unwrap() error { return e.Err }

func validateWorkspace(ws Workspace, channels map[string]bool) error {
	policies := make(map[string]bool, len(ws.EscalationPolicies))
	for i, p := range ws.EscalationPolicies {
		if err := validation.Policy(p); err != nil {
			return fmt.Errorf("escalation_policies[%d] %q: %w", i, p.ID, err)
		}
		for _, l := range p.Levels {
			for _, c := range l.Channels {
				if !channels[c] {
					return fmt.Errorf("escalation_policies[%d] %q: level %d references unknown channel %q", i, p.ID, l.Level, c)
				}
			}
		}
		policies[p.ID] = true
	}

	ids := make(map[string]bool, len(ws.Rules))
	names := make(map[string]bool, len(ws.Rules))
	for i, r := range ws.Rules {
		ruleErr := func(err error) error {
			return &RuleError{Workspace: ws.ID, Index: i, Rule: r.ID, Err: err}
		}
		if err := validation.Rule(r.AlertRule); err != nil {
			return ruleErr(err)
		}
		if ids[r.ID] || names[r.Name] {
			return ruleErr(types.Invalid("id", "duplicate id %q or name %q", r.ID, r.Name))
		}
		ids[r.ID], names[r.Name] = true, true
		for _, c := range r.Channels {
			if !channels[c] {
				return ruleErr(types.Invalid("channels", "unknown channel %q", c))
			}
		}
		if r.EscalationPolicyID != "" && !policies[r.EscalationPolicyID] {
			return ruleErr(types.Invalid("escalation_policy_id", "unknown escalation policy %q", r.EscalationPolicyID))
		}
	}

	for i, w := range ws.Suppressions {
		if err := validation.Window(w); err != nil {
			return fmt.Errorf("suppressions[%d] %q: %w", i, w.ID, err)
		}
	}
	return nil
}

// AlertRules returns the workspace's rules in engine form.
func (ws Workspace) AlertRules() []types.AlertRule {
	out := make([]types.AlertRule, len(ws.Rules))
	for i, r := range ws.Rules {
		out[i] = r.AlertRule
	}
	return out
}

// RemovedRules returns, per workspace, the rule IDs present in old but not
// in cur. A hot reload deletes them.
func RemovedRules(old, cur *Config) map[string][]string {
	keep := make(map[string]bool)
	for _, ws := range cur.Workspaces {
		for _, r := range ws.Rules {
			keep[types.RuleKey(ws.ID, r.ID)] = true
		}
	}
	out := make(map[string][]string)
	for _, ws := range old.Workspaces {
		for _, r := range ws.Rules {
			if !keep[types.RuleKey(ws.ID, r.ID)] {
				out[ws.ID] = append(out[ws.ID], r.ID)
			}
		}
	}
	return out
}

// ScrapeTargets resolves the scrape targets and their secrets.
func (s ScrapeConfig) ScrapeTargets() []samples.Target {
	out := make([]samples.Target, 0, len(s.Targets))
	for _, t := range s.Targets {
		out = append(out, samples.Target{
			Workspace: t.Workspace,
			URL:       t.URL,
			Metrics:   t.Metrics,
			Auth: samples.Auth{
				Mode:     t.Auth.Mode,
				Header:   t.Auth.Header,
				Key:      env(t.Auth.KeyEnv),
				Token:    env(t.Auth.TokenEnv),
				Username: t.Auth.Username,
				Password: env(t.Auth.PasswordEnv),
			},
		})
	}
	return out
}

func env(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}
