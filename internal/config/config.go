package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultCollectInterval  = 60 * time.Second
	DefaultCollectTimeout   = 10 * time.Second
	DefaultRetention        = 7 * 24 * time.Hour
	DefaultEvalInterval     = 60 * time.Second
	DefaultHealthInterval   = 300 * time.Second
	DefaultHealthTimeout    = 10 * time.Second
	DefaultCriticalCooldown = 5 * time.Minute
	DefaultWarningCooldown  = 30 * time.Minute
	DefaultInfoCooldown     = 24 * time.Hour
	DefaultEscalationDelay  = 10 * time.Minute
	DefaultFlapCount        = 3
	DefaultFlapWindow       = time.Hour
	DefaultSendTimeout      = 30 * time.Second
	DefaultHTTPPort         = 8080
	DefaultStreamInterval   = 5 * time.Second
)

// Config is the top-level configuration for tradesentry.
// Fields map 1:1 to config.yaml.
type Config struct {
	Collector  CollectorConfig  `yaml:"collector"`
	Store      StoreConfig      `yaml:"store"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Escalation EscalationConfig `yaml:"escalation"`
	Channels   []ChannelConfig  `yaml:"channels"`
	Health     HealthConfig     `yaml:"health"`
	Server     ServerConfig     `yaml:"server"`
}

// CollectorConfig controls the periodic metric collection loop.
type CollectorConfig struct {
	// Interval is how often every source is polled (default 60s).
	Interval time.Duration `yaml:"interval"`

	// Timeout bounds one State() call per source. A source that exceeds it
	// is abandoned for that cycle (default 10s).
	Timeout time.Duration `yaml:"timeout"`

	// Sources is the list of monitored-process endpoints to poll.
	Sources []SourceConfig `yaml:"sources"`
}

// SourceConfig describes one metrics source.
type SourceConfig struct {
	// ID is a unique, human-readable identifier for this source.
	ID string `yaml:"id"`

	// Type is the adapter type: prometheus | resource.
	Type string `yaml:"type"`

	// Endpoint is the metrics URL, used by the prometheus adapter.
	Endpoint string `yaml:"endpoint"`

	// Metrics optionally maps exposition family names to the metric name
	// recorded in the store. Empty means every family is recorded under
	// its own name.
	Metrics map[string]string `yaml:"metrics"`
}

// StoreConfig controls the embedded time-series store.
type StoreConfig struct {
	// Path is the directory holding the SQLite database file.
	Path string `yaml:"path"`

	// Retention is how long samples are kept before compaction deletes
	// them. Queries never return samples older than this (default 168h).
	Retention time.Duration `yaml:"retention"`
}

// AlertsConfig holds the rule catalog and evaluation settings.
type AlertsConfig struct {
	// Interval is the rule evaluation cadence (default 60s).
	Interval time.Duration `yaml:"interval"`

	// Cooldowns are the per-severity defaults applied when a rule omits
	// its own cooldown.
	Cooldowns CooldownConfig `yaml:"cooldowns"`

	// Rules is the alert rule catalog.
	Rules []RuleConfig `yaml:"rules"`
}

// CooldownConfig holds per-severity default cooldowns.
type CooldownConfig struct {
	Critical time.Duration `yaml:"critical"`
	Warning  time.Duration `yaml:"warning"`
	Info     time.Duration `yaml:"info"`
}

// ForSeverity returns the default cooldown for the given severity string.
func (c CooldownConfig) ForSeverity(sev string) time.Duration {
	switch sev {
	case "critical":
		return c.Critical
	case "warning":
		return c.Warning
	default:
		return c.Info
	}
}

// RuleConfig defines one threshold-based alert rule.
type RuleConfig struct {
	// ID is the unique rule identifier, used as the deduplication key.
	ID string `yaml:"id"`

	// Metric is the snapshot metric name the rule watches.
	Metric string `yaml:"metric"`

	// Op is the comparison operator: > | >= | < | <= | == | !=.
	// Closed vs open interval semantics are declared here, per rule.
	Op string `yaml:"op"`

	// Threshold is the value the metric is compared against.
	Threshold float64 `yaml:"threshold"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration after the rule
	// fires. Zero means the per-severity default applies.
	Cooldown time.Duration `yaml:"cooldown"`

	// EscalationDelay overrides the policy delay before the first
	// escalation for alerts raised by this rule. Zero uses the policy.
	EscalationDelay time.Duration `yaml:"escalation_delay"`

	// Channels are the channel IDs notified at escalation level 0.
	Channels []string `yaml:"channels"`

	// Template optionally overrides the per-severity message template.
	Template string `yaml:"template"`
}

// EscalationConfig is the escalation policy ladder.
type EscalationConfig struct {
	// Delay is the default time an alert may stay unacknowledged at one
	// level before advancing to the next (default 10m).
	Delay time.Duration `yaml:"delay"`

	// Levels defines the ladder above level 0. Levels[i] describes the
	// transition to escalation level i+1. An empty ladder disables
	// delay-based escalation.
	Levels []LevelConfig `yaml:"levels"`

	// FlapCount and FlapWindow trigger immediate escalation when the
	// same rule fires FlapCount times within FlapWindow, regardless of
	// the delay timer (defaults 3 in 1h).
	FlapCount  int           `yaml:"flap_count"`
	FlapWindow time.Duration `yaml:"flap_window"`
}

// LevelConfig describes one escalation level.
type LevelConfig struct {
	// After is the delay from the previous level. Zero falls back to
	// the policy Delay.
	After time.Duration `yaml:"after"`

	// Channels are the channel IDs added to the notification set at
	// this level. Channel sets are cumulative across levels.
	Channels []string `yaml:"channels"`
}

// ChannelConfig defines one notification delivery target.
type ChannelConfig struct {
	// ID is the unique channel identifier referenced by rules and the
	// escalation ladder.
	ID string `yaml:"id"`

	// Type is one of: slack | teams | webhook | email.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the
	// webhook URL. Used by slack, teams and webhook channels.
	URLEnv string `yaml:"url_env"`

	// Timeout bounds one delivery attempt (default 30s).
	Timeout time.Duration `yaml:"timeout"`

	// SMTP settings — used when Type == "email".
	SMTP SMTPConfig `yaml:"smtp"`
}

// URL returns the webhook URL resolved from the environment.
func (c ChannelConfig) URL() string {
	if c.URLEnv == "" {
		return ""
	}
	return os.Getenv(c.URLEnv)
}

// SMTPConfig holds email delivery settings.
type SMTPConfig struct {
	// Addr is the SMTP server address (host:port).
	Addr string `yaml:"addr"`

	// From is the sender address.
	From string `yaml:"from"`

	// To is the list of recipient addresses.
	To []string `yaml:"to"`

	// Username and PasswordEnv configure SMTP PLAIN auth. PasswordEnv is
	// the name of the environment variable holding the password; leave
	// both empty for unauthenticated relays.
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// Password returns the SMTP password resolved from the environment.
func (s SMTPConfig) Password() string {
	if s.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(s.PasswordEnv)
}

// HealthConfig controls the independent health-check loop.
type HealthConfig struct {
	// Interval is the health-check cadence, independent of the alerting
	// cadence (default 300s).
	Interval time.Duration `yaml:"interval"`

	// Timeout bounds each individual check (default 10s).
	Timeout time.Duration `yaml:"timeout"`

	// APIEndpoint is probed by the api_connectivity check. Empty skips
	// the check.
	APIEndpoint string `yaml:"api_endpoint"`

	// HeartbeatMetric is the metric whose freshness the bot_running
	// check asserts (default "heartbeat").
	HeartbeatMetric string `yaml:"heartbeat_metric"`

	// MaxHeartbeatAge is how stale the heartbeat may be before the bot
	// is considered down (default 3 collection intervals).
	MaxHeartbeatAge time.Duration `yaml:"max_heartbeat_age"`

	// MaxDataAge bounds the data_freshness check (default 10m).
	MaxDataAge time.Duration `yaml:"max_data_age"`

	// MaxMemoryMB and MaxGoroutines bound the resource_usage check.
	// Zero disables the respective limit.
	MaxMemoryMB   int `yaml:"max_memory_mb"`
	MaxGoroutines int `yaml:"max_goroutines"`
}

// ServerConfig holds the operator API and dashboard stream settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API and WebSocket stream listen on
	// (default 8080).
	HTTPPort int `yaml:"http_port"`

	// StreamInterval is the dashboard broadcast cadence (default 5s).
	StreamInterval time.Duration `yaml:"stream_interval"`
}

// Load reads and parses the config file at path. Missing fields are
// filled with defaults before validation. Any invalid rule or channel
// definition is an error — the engine must not start with a partially
// valid catalog.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Collector: CollectorConfig{
			Interval: DefaultCollectInterval,
			Timeout:  DefaultCollectTimeout,
		},
		Store: StoreConfig{
			Path:      "data",
			Retention: DefaultRetention,
		},
		Alerts: AlertsConfig{
			Interval: DefaultEvalInterval,
			Cooldowns: CooldownConfig{
				Critical: DefaultCriticalCooldown,
				Warning:  DefaultWarningCooldown,
				Info:     DefaultInfoCooldown,
			},
		},
		Escalation: EscalationConfig{
			Delay:      DefaultEscalationDelay,
			FlapCount:  DefaultFlapCount,
			FlapWindow: DefaultFlapWindow,
		},
		Health: HealthConfig{
			Interval:        DefaultHealthInterval,
			Timeout:         DefaultHealthTimeout,
			HeartbeatMetric: "heartbeat",
			MaxHeartbeatAge: 3 * DefaultCollectInterval,
			MaxDataAge:      10 * time.Minute,
		},
		Server: ServerConfig{
			HTTPPort:       DefaultHTTPPort,
			StreamInterval: DefaultStreamInterval,
		},
	}
}

var validOps = map[string]bool{
	">": true, ">=": true, "<": true, "<=": true, "==": true, "!=": true,
}

var validSeverities = map[string]bool{
	"critical": true, "warning": true, "info": true,
}

var validChannelTypes = map[string]bool{
	"slack": true, "teams": true, "webhook": true, "email": true,
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Collector.Interval <= 0 {
		return fmt.Errorf("collector.interval must be positive")
	}
	if cfg.Collector.Timeout <= 0 {
		return fmt.Errorf("collector.timeout must be positive")
	}
	seenSources := map[string]bool{}
	for i, src := range cfg.Collector.Sources {
		if src.ID == "" {
			return fmt.Errorf("collector.sources[%d]: id is required", i)
		}
		if seenSources[src.ID] {
			return fmt.Errorf("collector.sources: duplicate id %q", src.ID)
		}
		seenSources[src.ID] = true
		switch src.Type {
		case "prometheus":
			if src.Endpoint == "" {
				return fmt.Errorf("collector.sources[%s]: endpoint is required for prometheus sources", src.ID)
			}
		case "resource":
		default:
			return fmt.Errorf("collector.sources[%s]: type %q unknown: want prometheus|resource", src.ID, src.Type)
		}
	}

	if cfg.Store.Retention <= 0 {
		return fmt.Errorf("store.retention must be positive")
	}
	if cfg.Alerts.Interval <= 0 {
		return fmt.Errorf("alerts.interval must be positive")
	}

	channelIDs := map[string]bool{}
	for i, ch := range cfg.Channels {
		if ch.ID == "" {
			return fmt.Errorf("channels[%d]: id is required", i)
		}
		if channelIDs[ch.ID] {
			return fmt.Errorf("channels: duplicate id %q", ch.ID)
		}
		channelIDs[ch.ID] = true
		if !validChannelTypes[ch.Type] {
			return fmt.Errorf("channels[%s]: type %q unknown: want slack|teams|webhook|email", ch.ID, ch.Type)
		}
		if ch.Type == "email" {
			if ch.SMTP.Addr == "" || ch.SMTP.From == "" || len(ch.SMTP.To) == 0 {
				return fmt.Errorf("channels[%s]: smtp.addr, smtp.from and smtp.to are required for email channels", ch.ID)
			}
		} else if ch.URLEnv == "" {
			return fmt.Errorf("channels[%s]: url_env is required for %s channels", ch.ID, ch.Type)
		}
		if ch.Timeout < 0 {
			return fmt.Errorf("channels[%s]: timeout must not be negative", ch.ID)
		}
	}

	ruleIDs := map[string]bool{}
	for i, r := range cfg.Alerts.Rules {
		if r.ID == "" {
			return fmt.Errorf("alerts.rules[%d]: id is required", i)
		}
		if ruleIDs[r.ID] {
			return fmt.Errorf("alerts.rules: duplicate id %q", r.ID)
		}
		ruleIDs[r.ID] = true
		if r.Metric == "" {
			return fmt.Errorf("alerts.rules[%s]: metric is required", r.ID)
		}
		if !validOps[r.Op] {
			return fmt.Errorf("alerts.rules[%s]: op %q unknown: want > >= < <= == !=", r.ID, r.Op)
		}
		if !validSeverities[r.Severity] {
			return fmt.Errorf("alerts.rules[%s]: severity %q unknown: want critical|warning|info", r.ID, r.Severity)
		}
		if r.Cooldown < 0 || r.EscalationDelay < 0 {
			return fmt.Errorf("alerts.rules[%s]: durations must not be negative", r.ID)
		}
		for _, chID := range r.Channels {
			if !channelIDs[chID] {
				return fmt.Errorf("alerts.rules[%s]: unknown channel %q", r.ID, chID)
			}
		}
	}

	if cfg.Escalation.Delay <= 0 {
		return fmt.Errorf("escalation.delay must be positive")
	}
	if cfg.Escalation.FlapCount < 2 {
		return fmt.Errorf("escalation.flap_count must be at least 2")
	}
	if cfg.Escalation.FlapWindow <= 0 {
		return fmt.Errorf("escalation.flap_window must be positive")
	}
	for i, lvl := range cfg.Escalation.Levels {
		if lvl.After < 0 {
			return fmt.Errorf("escalation.levels[%d]: after must not be negative", i)
		}
		for _, chID := range lvl.Channels {
			if !channelIDs[chID] {
				return fmt.Errorf("escalation.levels[%d]: unknown channel %q", i, chID)
			}
		}
	}

	if cfg.Health.Interval <= 0 || cfg.Health.Timeout <= 0 {
		return fmt.Errorf("health.interval and health.timeout must be positive")
	}
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	if cfg.Server.StreamInterval <= 0 {
		return fmt.Errorf("server.stream_interval must be positive")
	}
	return nil
}
