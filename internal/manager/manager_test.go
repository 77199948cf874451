package manager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tradesentry/tradesentry/internal/config"
	"github.com/tradesentry/tradesentry/internal/escalate"
	"github.com/tradesentry/tradesentry/internal/health"
	"github.com/tradesentry/tradesentry/internal/metrics"
	"github.com/tradesentry/tradesentry/internal/notify"
	"github.com/tradesentry/tradesentry/internal/rules"
)

type fakeSource struct {
	mu   sync.Mutex
	snap map[string]float64
}

func (f *fakeSource) LatestSnapshot(context.Context) (map[string]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]float64, len(f.snap))
	for k, v := range f.snap {
		out[k] = v
	}
	return out, nil
}

func (f *fakeSource) set(name string, v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap[name] = v
}

type sentAlert struct {
	alert    notify.Alert
	channels []string
}

type fakeNotifier struct {
	mu   sync.Mutex
	fail bool
	sent []sentAlert
}

func (f *fakeNotifier) Dispatch(_ context.Context, alert notify.Alert, channels []string) []metrics.NotificationRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentAlert{alert: alert, channels: channels})
	recs := make([]metrics.NotificationRecord, 0, len(channels))
	for _, ch := range channels {
		recs = append(recs, metrics.NotificationRecord{
			AlertID: alert.ID, Channel: ch, Attempt: 1, Success: !f.fail,
		})
	}
	return recs
}

func (f *fakeNotifier) byRule(ruleID string) []sentAlert {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentAlert
	for _, s := range f.sent {
		if s.alert.RuleID == ruleID {
			out = append(out, s)
		}
	}
	return out
}

type fakeHealth struct{ overall health.Overall }

func (f *fakeHealth) Last() health.Overall { return f.overall }

func testRule() rules.Rule {
	return rules.Rule{
		ID:              "drawdown-critical",
		Metric:          "drawdown_pct",
		Op:              ">",
		Threshold:       0.10,
		Severity:        rules.SeverityCritical,
		Cooldown:        time.Hour,
		EscalationDelay: 5 * time.Minute,
		Channels:        []string{"chat"},
	}
}

func testPolicy() escalate.Policy {
	return escalate.Policy{
		Delay: 10 * time.Minute,
		Levels: []config.LevelConfig{
			{Channels: []string{"email"}},
			{Channels: []string{"pager"}},
		},
		FlapCount:  3,
		FlapWindow: time.Hour,
	}
}

type fixture struct {
	m        *Manager
	source   *fakeSource
	notifier *fakeNotifier
	clock    time.Time
}

func newFixture(t *testing.T, catalog []rules.Rule) *fixture {
	t.Helper()
	fx := &fixture{
		source:   &fakeSource{snap: map[string]float64{}},
		notifier: &fakeNotifier{},
		clock:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	fx.m = New(fx.source, rules.New(catalog), escalate.New(testPolicy()),
		fx.notifier, &fakeHealth{}, catalog, time.Minute, []string{"chat", "email"})
	fx.m.now = func() time.Time { return fx.clock }
	return fx
}

func (fx *fixture) advance(d time.Duration) { fx.clock = fx.clock.Add(d) }

func TestTick_FiringOpensAndNotifies(t *testing.T) {
	fx := newFixture(t, []rules.Rule{testRule()})
	fx.source.set("drawdown_pct", 0.15)

	fx.m.Tick(context.Background())

	sent := fx.notifier.byRule("drawdown-critical")
	if len(sent) != 1 {
		t.Fatalf("got %d dispatches, want 1", len(sent))
	}
	if got := sent[0].channels; len(got) != 1 || got[0] != "chat" {
		t.Errorf("channels: got %v", got)
	}
	if sent[0].alert.Value != 0.15 || sent[0].alert.Severity != rules.SeverityCritical {
		t.Errorf("alert view: %+v", sent[0].alert)
	}

	active := fx.m.ActiveAlerts()
	if len(active) != 1 || active[0].RuleID != "drawdown-critical" {
		t.Fatalf("active alerts: %+v", active)
	}

	// Condition still true on the next tick: cooldown holds, no second
	// dispatch, still one instance.
	fx.advance(time.Minute)
	fx.m.Tick(context.Background())
	if n := len(fx.notifier.byRule("drawdown-critical")); n != 1 {
		t.Errorf("cooldown violated: %d dispatches", n)
	}
	if n := len(fx.m.ActiveAlerts()); n != 1 {
		t.Errorf("active alerts: %d", n)
	}
}

// Scenario: cooldown=300s; fire at t=0, still true at t=120s → silent,
// still true at t=310s → a second notification batch goes out on the
// same open instance.
func TestTick_RefireAfterCooldownNotifiesAgain(t *testing.T) {
	rule := testRule()
	rule.Cooldown = 300 * time.Second
	rule.EscalationDelay = time.Hour // keep the delay ladder out of the way

	fx := newFixture(t, []rules.Rule{rule})
	fx.source.set("drawdown_pct", 0.15)

	fx.m.Tick(context.Background())
	if n := len(fx.notifier.byRule("drawdown-critical")); n != 1 {
		t.Fatalf("t=0: got %d notification batches, want 1", n)
	}

	fx.advance(120 * time.Second)
	fx.m.Tick(context.Background())
	if n := len(fx.notifier.byRule("drawdown-critical")); n != 1 {
		t.Fatalf("t=120s: got %d notification batches, want 1 (cooldown)", n)
	}

	fx.advance(190 * time.Second)
	fx.m.Tick(context.Background())
	sent := fx.notifier.byRule("drawdown-critical")
	if len(sent) != 2 {
		t.Fatalf("t=310s: got %d notification batches, want 2 (re-fire after cooldown)", len(sent))
	}
	if got := sent[1].channels; len(got) != 1 || got[0] != "chat" {
		t.Errorf("re-fire channels: got %v, want the level-0 set", got)
	}
	if sent[0].alert.ID != sent[1].alert.ID {
		t.Error("re-fire must notify on the same open instance, not a new one")
	}
	if n := len(fx.m.ActiveAlerts()); n != 1 {
		t.Errorf("active alerts: got %d, want 1", n)
	}
}

// A condition that flaps back true inside the cooldown restarts the
// auto-resolve clock: the instance resolves only after a full
// uninterrupted clear period.
func TestTick_FlappingConditionRestartsClearTimer(t *testing.T) {
	rule := testRule()
	rule.Cooldown = 300 * time.Second
	rule.EscalationDelay = time.Hour

	fx := newFixture(t, []rules.Rule{rule})
	fx.source.set("drawdown_pct", 0.15)
	fx.m.Tick(context.Background()) // t=0: fires

	fx.source.set("drawdown_pct", 0.02)
	fx.advance(60 * time.Second)
	fx.m.Tick(context.Background()) // t=60: clear timer starts

	fx.source.set("drawdown_pct", 0.15)
	fx.advance(60 * time.Second)
	fx.m.Tick(context.Background()) // t=120: true again, inside cooldown

	fx.source.set("drawdown_pct", 0.02)
	fx.advance(60 * time.Second)
	fx.m.Tick(context.Background()) // t=180: clear timer restarts here

	fx.advance(190 * time.Second)
	fx.m.Tick(context.Background()) // t=370: clear for only 190s < 300s
	if n := len(fx.m.ActiveAlerts()); n != 1 {
		t.Fatalf("t=370s: got %d active alerts, want 1 (clear period interrupted)", n)
	}

	fx.advance(120 * time.Second)
	fx.m.Tick(context.Background()) // t=490: clear for 310s ≥ 300s
	if n := len(fx.m.ActiveAlerts()); n != 0 {
		t.Errorf("t=490s: got %d active alerts, want 0 (full clear period elapsed)", n)
	}
}

func TestTick_DelayEscalationWidensChannels(t *testing.T) {
	fx := newFixture(t, []rules.Rule{testRule()})
	fx.source.set("drawdown_pct", 0.15)
	fx.m.Tick(context.Background())

	fx.advance(6 * time.Minute) // past the rule's level-0 delay
	fx.m.Tick(context.Background())

	sent := fx.notifier.byRule("drawdown-critical")
	if len(sent) != 2 {
		t.Fatalf("got %d dispatches, want open + escalation", len(sent))
	}
	esc := sent[1]
	if esc.alert.EscalationLevel != 1 {
		t.Errorf("escalation level: got %d", esc.alert.EscalationLevel)
	}
	want := map[string]bool{"chat": true, "email": true}
	if len(esc.channels) != 2 || !want[esc.channels[0]] || !want[esc.channels[1]] {
		t.Errorf("escalation channels: got %v", esc.channels)
	}
}

func TestTick_AcknowledgedAlertNeverEscalates(t *testing.T) {
	fx := newFixture(t, []rules.Rule{testRule()})
	fx.source.set("drawdown_pct", 0.15)
	fx.m.Tick(context.Background())

	id := fx.m.ActiveAlerts()[0].ID
	if _, err := fx.m.Acknowledge(id); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	// Idempotent.
	if _, err := fx.m.Acknowledge(id); err != nil {
		t.Fatalf("second Acknowledge: %v", err)
	}

	fx.advance(time.Hour)
	fx.m.Tick(context.Background())

	if n := len(fx.notifier.byRule("drawdown-critical")); n != 1 {
		t.Errorf("acknowledged alert escalated: %d dispatches", n)
	}
	inst, _ := fx.m.Alert(id)
	if inst.State != escalate.StateAcknowledged {
		t.Errorf("state: got %q", inst.State)
	}
}

func TestTick_ClearedConditionAutoResolves(t *testing.T) {
	fx := newFixture(t, []rules.Rule{testRule()})
	fx.source.set("drawdown_pct", 0.15)
	fx.m.Tick(context.Background())

	// Condition clears; the instance stays open through the cooldown.
	fx.source.set("drawdown_pct", 0.02)
	fx.advance(time.Minute)
	fx.m.Tick(context.Background())
	if n := len(fx.m.ActiveAlerts()); n != 1 {
		t.Fatalf("instance resolved too early: %d active", n)
	}

	fx.advance(time.Hour + time.Second) // full cooldown clear
	fx.m.Tick(context.Background())
	if n := len(fx.m.ActiveAlerts()); n != 0 {
		t.Errorf("instance not auto-resolved: %d active", n)
	}
}

func TestTick_MetaAlertRaisedOncePerInstance(t *testing.T) {
	fx := newFixture(t, []rules.Rule{testRule()})
	fx.notifier.fail = true
	fx.source.set("drawdown_pct", 0.15)

	fx.m.Tick(context.Background())

	meta := fx.notifier.byRule("notification_failed")
	if len(meta) != 1 {
		t.Fatalf("got %d meta dispatches, want 1", len(meta))
	}
	if meta[0].alert.Severity != rules.SeverityCritical {
		t.Errorf("meta severity: got %q", meta[0].alert.Severity)
	}

	// The escalation for the same instance also fails on every channel;
	// the meta-alert must not be raised again.
	fx.advance(6 * time.Minute)
	fx.m.Tick(context.Background())
	if n := len(fx.notifier.byRule("notification_failed")); n != 1 {
		t.Errorf("meta-alert raised %d times for one instance", n)
	}
	var metaActive int
	for _, inst := range fx.m.ActiveAlerts() {
		if inst.RuleID == "notification_failed" {
			metaActive++
		}
	}
	if metaActive != 1 {
		t.Errorf("got %d open meta instances, want 1", metaActive)
	}
}

func TestTick_NoMetaAlertForWarnings(t *testing.T) {
	warn := testRule()
	warn.ID = "latency-warning"
	warn.Metric = "order_latency_ms"
	warn.Severity = rules.SeverityWarning
	warn.Threshold = 500

	fx := newFixture(t, []rules.Rule{warn})
	fx.notifier.fail = true
	fx.source.set("order_latency_ms", 900)

	fx.m.Tick(context.Background())
	if n := len(fx.notifier.byRule("notification_failed")); n != 0 {
		t.Errorf("meta-alert raised for a warning: %d", n)
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	fx := newFixture(t, []rules.Rule{testRule()})
	fx.source.set("drawdown_pct", 0.15)
	fx.m.Tick(context.Background())

	id := fx.m.ActiveAlerts()[0].ID
	first, err := fx.m.Resolve(id)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	second, err := fx.m.Resolve(id)
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if first.ResolvedAt == nil || second.ResolvedAt == nil ||
		!first.ResolvedAt.Equal(*second.ResolvedAt) {
		t.Errorf("ResolvedAt changed on repeat: %v vs %v", first.ResolvedAt, second.ResolvedAt)
	}
	if n := len(fx.m.ActiveAlerts()); n != 0 {
		t.Errorf("resolved alert still active: %d", n)
	}
}

func TestSetRules_SwapsCatalog(t *testing.T) {
	fx := newFixture(t, []rules.Rule{testRule()})
	fx.source.set("drawdown_pct", 0.15)
	fx.source.set("error_rate", 0.9)

	repl := rules.Rule{
		ID: "errors-high", Metric: "error_rate", Op: ">", Threshold: 0.5,
		Severity: rules.SeverityWarning, Cooldown: time.Hour, Channels: []string{"chat"},
	}
	fx.m.SetRules([]rules.Rule{repl})

	fx.m.Tick(context.Background())
	if n := len(fx.notifier.byRule("drawdown-critical")); n != 0 {
		t.Errorf("removed rule still fired: %d", n)
	}
	if n := len(fx.notifier.byRule("errors-high")); n != 1 {
		t.Errorf("replacement rule dispatches: got %d, want 1", n)
	}
}
