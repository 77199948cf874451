package manager

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tradesentry/tradesentry/internal/escalate"
	"github.com/tradesentry/tradesentry/internal/health"
	"github.com/tradesentry/tradesentry/internal/metrics"
	"github.com/tradesentry/tradesentry/internal/notify"
	"github.com/tradesentry/tradesentry/internal/rules"
)

// SnapshotSource yields the latest value per metric. *metrics.Store
// satisfies it.
type SnapshotSource interface {
	LatestSnapshot(ctx context.Context) (map[string]float64, error)
}

// Notifier fans a rendered alert out to channels. *notify.Dispatcher
// satisfies it.
type Notifier interface {
	Dispatch(ctx context.Context, alert notify.Alert, channels []string) []metrics.NotificationRecord
}

// HealthSource reports the cached composite health verdict.
type HealthSource interface {
	Last() health.Overall
}

// Manager owns the alerting loop: snapshot → evaluate → track →
// dispatch → escalate → resolve, one pass per tick. Operator calls
// (Acknowledge, Resolve, ActiveAlerts, Health) are safe concurrently
// with the loop.
type Manager struct {
	source     SnapshotSource
	engine     *rules.Engine
	tracker    *escalate.Tracker
	dispatcher Notifier
	checker    HealthSource
	interval   time.Duration

	// metaChannels receives the notification_failed meta-alert when
	// every channel of a critical alert fails.
	metaChannels []string

	mu        sync.Mutex
	catalog   map[string]rules.Rule // rule ID → rule, for escalation rendering
	metaFired map[string]bool       // underlying instance ID → meta-alert raised

	now func() time.Time
}

func New(source SnapshotSource, engine *rules.Engine, tracker *escalate.Tracker,
	dispatcher Notifier, checker HealthSource, catalog []rules.Rule, interval time.Duration,
	metaChannels []string) *Manager {
	m := &Manager{
		source:       source,
		engine:       engine,
		tracker:      tracker,
		dispatcher:   dispatcher,
		checker:      checker,
		interval:     interval,
		metaChannels: metaChannels,
		catalog:      make(map[string]rules.Rule, len(catalog)),
		metaFired:    make(map[string]bool),
		now:          time.Now,
	}
	for _, r := range catalog {
		m.catalog[r.ID] = r
	}
	return m
}

// SetRules swaps the rule catalog in the engine and the manager's own
// index. Called from the config hot-reload path.
func (m *Manager) SetRules(catalog []rules.Rule) {
	m.engine.SetRules(catalog)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.catalog = make(map[string]rules.Rule, len(catalog))
	for _, r := range catalog {
		m.catalog[r.ID] = r
	}
}

// Run drives the alerting loop until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick runs one full evaluation pass.
func (m *Manager) Tick(ctx context.Context) {
	now := m.now()

	snap, err := m.source.LatestSnapshot(ctx)
	if err != nil {
		slog.Error("manager: snapshot failed — skipping cycle", "err", err)
		return
	}

	firings, suppressed, cleared := m.engine.Evaluate(snap, now)

	for _, f := range firings {
		inst, isNew, esc := m.tracker.Track(f, now)
		switch {
		case isNew:
			slog.Info("alert opened",
				"rule", f.Rule.ID, "instance", inst.ID,
				"severity", inst.Severity, "value", f.Value)
			recs := m.dispatcher.Dispatch(ctx, m.alertFromFiring(f, inst), f.Rule.Channels)
			m.checkDeliveryFailure(ctx, inst, recs, now)
		case esc != nil:
			m.dispatchEscalation(ctx, *esc)
		case !inst.Acknowledged:
			// The rule fired again after its cooldown on a still-open
			// instance: notify again, at the instance's current level.
			slog.Info("alert re-fired after cooldown",
				"rule", f.Rule.ID, "instance", inst.ID, "value", f.Value)
			recs := m.dispatcher.Dispatch(ctx, m.alertFromFiring(f, inst),
				m.tracker.BaseChannels(inst.ID))
			m.checkDeliveryFailure(ctx, inst, recs, now)
		}
	}

	// Conditions that are true but inside their cooldown still count
	// against auto-resolve: the clear timer restarts.
	m.tracker.ObserveActive(suppressed)

	for _, esc := range m.tracker.Tick(now) {
		m.dispatchEscalation(ctx, esc)
	}

	for _, inst := range m.tracker.ObserveCleared(cleared, now) {
		slog.Info("alert auto-resolved", "rule", inst.RuleID, "instance", inst.ID)
		m.forgetMeta(inst.ID)
	}
}

func (m *Manager) dispatchEscalation(ctx context.Context, esc escalate.Escalation) {
	slog.Warn("alert escalated",
		"rule", esc.Instance.RuleID, "instance", esc.Instance.ID,
		"level", esc.Instance.EscalationLevel, "channels", esc.Channels)
	recs := m.dispatcher.Dispatch(ctx, m.alertFromInstance(esc.Instance), esc.Channels)
	m.checkDeliveryFailure(ctx, esc.Instance, recs, m.now())
}

// checkDeliveryFailure raises the notification_failed meta-alert when
// every delivery for a critical alert failed, once per underlying
// instance.
func (m *Manager) checkDeliveryFailure(ctx context.Context, inst escalate.Instance,
	recs []metrics.NotificationRecord, now time.Time) {
	if inst.Severity != rules.SeverityCritical || !notify.AllFailed(recs) {
		return
	}

	m.mu.Lock()
	if m.metaFired[inst.ID] {
		m.mu.Unlock()
		return
	}
	m.metaFired[inst.ID] = true
	m.mu.Unlock()

	slog.Error("all channels failed for critical alert — raising meta-alert",
		"rule", inst.RuleID, "instance", inst.ID)

	meta := rules.Firing{
		Rule: rules.Rule{
			ID:       "notification_failed",
			Metric:   "notification_failures",
			Op:       ">",
			Severity: rules.SeverityCritical,
			Channels: m.metaChannels,
			Template: "CRITICAL: every notification channel failed while delivering a critical alert; check channel endpoints and credentials",
		},
		Value:    1,
		At:       now,
		Snapshot: map[string]float64{"notification_failures": 1},
	}
	metaInst, isNew, _ := m.tracker.Track(meta, now)
	if !isNew {
		return
	}
	m.dispatcher.Dispatch(ctx, m.alertFromFiring(meta, metaInst), m.metaChannels)
}

func (m *Manager) forgetMeta(instanceID string) {
	m.mu.Lock()
	delete(m.metaFired, instanceID)
	m.mu.Unlock()
}

func (m *Manager) alertFromFiring(f rules.Firing, inst escalate.Instance) notify.Alert {
	return notify.Alert{
		ID:              inst.ID,
		RuleID:          f.Rule.ID,
		Severity:        f.Rule.Severity,
		Metric:          f.Rule.Metric,
		Op:              f.Rule.Op,
		Threshold:       f.Rule.Threshold,
		Value:           f.Value,
		TriggeredAt:     inst.TriggeredAt,
		EscalationLevel: inst.EscalationLevel,
		Snapshot:        f.Snapshot,
		Template:        f.Rule.Template,
	}
}

func (m *Manager) alertFromInstance(inst escalate.Instance) notify.Alert {
	m.mu.Lock()
	rule := m.catalog[inst.RuleID]
	m.mu.Unlock()

	return notify.Alert{
		ID:              inst.ID,
		RuleID:          inst.RuleID,
		Severity:        inst.Severity,
		Metric:          rule.Metric,
		Op:              rule.Op,
		Threshold:       rule.Threshold,
		Value:           inst.Snapshot[rule.Metric],
		TriggeredAt:     inst.TriggeredAt,
		EscalationLevel: inst.EscalationLevel,
		Snapshot:        inst.Snapshot,
		Template:        rule.Template,
	}
}

// Acknowledge marks an alert acknowledged; it stops escalating but
// stays open. Idempotent.
func (m *Manager) Acknowledge(id string) (escalate.Instance, error) {
	return m.tracker.Acknowledge(id, m.now())
}

// Resolve closes an alert. Idempotent.
func (m *Manager) Resolve(id string) (escalate.Instance, error) {
	inst, err := m.tracker.Resolve(id, m.now())
	if err == nil {
		m.forgetMeta(inst.ID)
	}
	return inst, err
}

// ActiveAlerts lists the open and acknowledged instances.
func (m *Manager) ActiveAlerts() []escalate.Instance {
	return m.tracker.Active()
}

// Alert returns one instance by ID, live or archived.
func (m *Manager) Alert(id string) (escalate.Instance, bool) {
	return m.tracker.Get(id)
}

// Health reports the latest composite health verdict.
func (m *Manager) Health() health.Overall {
	return m.checker.Last()
}
