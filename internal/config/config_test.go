package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	p := writeConfig(t, `store:
  path: /tmp/tradesentry-test
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Collector.Interval != DefaultCollectInterval {
		t.Errorf("collector.interval: got %v, want %v", cfg.Collector.Interval, DefaultCollectInterval)
	}
	if cfg.Collector.Timeout != DefaultCollectTimeout {
		t.Errorf("collector.timeout: got %v, want %v", cfg.Collector.Timeout, DefaultCollectTimeout)
	}
	if cfg.Store.Retention != DefaultRetention {
		t.Errorf("store.retention: got %v, want %v", cfg.Store.Retention, DefaultRetention)
	}
	if cfg.Alerts.Cooldowns.Critical != DefaultCriticalCooldown {
		t.Errorf("cooldowns.critical: got %v, want %v", cfg.Alerts.Cooldowns.Critical, DefaultCriticalCooldown)
	}
	if cfg.Escalation.FlapCount != DefaultFlapCount {
		t.Errorf("flap_count: got %d, want %d", cfg.Escalation.FlapCount, DefaultFlapCount)
	}
	if cfg.Server.HTTPPort != DefaultHTTPPort {
		t.Errorf("http_port: got %d, want %d", cfg.Server.HTTPPort, DefaultHTTPPort)
	}
}

func TestLoad_Full(t *testing.T) {
	p := writeConfig(t, `collector:
  interval: 30s
  timeout: 5s
  sources:
    - id: bot
      type: prometheus
      endpoint: http://localhost:9100/metrics
    - id: host
      type: resource
channels:
  - id: ops-chat
    type: slack
    url_env: OPS_SLACK_URL
  - id: ops-mail
    type: email
    smtp:
      addr: smtp.example.com:587
      from: alerts@example.com
      to: [oncall@example.com]
alerts:
  rules:
    - id: cpu-high
      metric: cpu_usage
      op: ">"
      threshold: 0.95
      severity: critical
      cooldown: 5m
      channels: [ops-chat]
escalation:
  levels:
    - after: 10m
      channels: [ops-mail]
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Collector.Interval != 30*time.Second {
		t.Errorf("collector.interval: got %v, want 30s", cfg.Collector.Interval)
	}
	if len(cfg.Collector.Sources) != 2 {
		t.Fatalf("sources: got %d, want 2", len(cfg.Collector.Sources))
	}
	if len(cfg.Alerts.Rules) != 1 {
		t.Fatalf("rules: got %d, want 1", len(cfg.Alerts.Rules))
	}
	r := cfg.Alerts.Rules[0]
	if r.Op != ">" || r.Threshold != 0.95 || r.Severity != "critical" {
		t.Errorf("rule parsed wrong: %+v", r)
	}
	if len(cfg.Escalation.Levels) != 1 || cfg.Escalation.Levels[0].Channels[0] != "ops-mail" {
		t.Errorf("escalation ladder parsed wrong: %+v", cfg.Escalation.Levels)
	}
}

func TestLoad_URLEnvResolution(t *testing.T) {
	t.Setenv("TEST_HOOK_URL", "https://hooks.example.com/T123")
	ch := ChannelConfig{ID: "c", Type: "slack", URLEnv: "TEST_HOOK_URL"}
	if got := ch.URL(); got != "https://hooks.example.com/T123" {
		t.Errorf("URL(): got %q", got)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string // substring of the error
	}{
		{
			name: "unknown operator",
			yaml: `alerts:
  rules:
    - id: r1
      metric: m
      op: "~"
      severity: info
`,
			want: "op",
		},
		{
			name: "unknown severity",
			yaml: `alerts:
  rules:
    - id: r1
      metric: m
      op: ">"
      severity: fatal
`,
			want: "severity",
		},
		{
			name: "duplicate rule id",
			yaml: `alerts:
  rules:
    - {id: r1, metric: m, op: ">", severity: info}
    - {id: r1, metric: m, op: "<", severity: info}
`,
			want: "duplicate",
		},
		{
			name: "rule references unknown channel",
			yaml: `alerts:
  rules:
    - {id: r1, metric: m, op: ">", severity: info, channels: [nope]}
`,
			want: "unknown channel",
		},
		{
			name: "unknown channel type",
			yaml: `channels:
  - id: c1
    type: carrier-pigeon
    url_env: X
`,
			want: "type",
		},
		{
			name: "email without smtp",
			yaml: `channels:
  - id: c1
    type: email
`,
			want: "smtp",
		},
		{
			name: "unknown source type",
			yaml: `collector:
  sources:
    - id: s1
      type: graphite
`,
			want: "type",
		},
		{
			name: "negative retention",
			yaml: `store:
  retention: -1h
`,
			want: "retention",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := writeConfig(t, tc.yaml)
			_, err := Load(p)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestCooldownForSeverity(t *testing.T) {
	c := CooldownConfig{Critical: time.Minute, Warning: time.Hour, Info: 24 * time.Hour}
	if c.ForSeverity("critical") != time.Minute {
		t.Error("critical cooldown wrong")
	}
	if c.ForSeverity("warning") != time.Hour {
		t.Error("warning cooldown wrong")
	}
	if c.ForSeverity("info") != 24*time.Hour {
		t.Error("info cooldown wrong")
	}
}
