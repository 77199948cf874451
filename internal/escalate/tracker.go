package escalate

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tradesentry/tradesentry/internal/config"
	"github.com/tradesentry/tradesentry/internal/rules"
)

// State is the lifecycle state of an alert instance.
type State string

const (
	StateOpen         State = "open"
	StateAcknowledged State = "acknowledged"
	StateResolved     State = "resolved"
)

// Instance is one live or archived alert raised by a rule firing.
type Instance struct {
	ID              string             `json:"id"`
	RuleID          string             `json:"rule_id"`
	Severity        rules.Severity     `json:"severity"`
	State           State              `json:"state"`
	TriggeredAt     time.Time          `json:"triggered_at"`
	LastFiredAt     time.Time          `json:"last_fired_at"`
	Acknowledged    bool               `json:"acknowledged"`
	EscalationLevel int                `json:"escalation_level"`
	Snapshot        map[string]float64 `json:"snapshot"`
	AcknowledgedAt  *time.Time         `json:"acknowledged_at,omitempty"`
	ResolvedAt      *time.Time         `json:"resolved_at,omitempty"`

	// Bookkeeping carried from the originating rule.
	baseChannels    []string
	escalationDelay time.Duration
	cooldown        time.Duration

	fireTimes    []time.Time // recent firings, for the flap trigger
	levelAt      time.Time   // when the current level was entered
	clearedSince *time.Time  // condition false since, nil while true
}

// Escalation reports one level transition together with the widened
// channel set for the new level.
type Escalation struct {
	Instance Instance
	Channels []string
}

// Policy is the escalation ladder and flap trigger configuration.
type Policy struct {
	Delay      time.Duration
	Levels     []config.LevelConfig
	FlapCount  int
	FlapWindow time.Duration
}

// PolicyFromConfig converts the validated escalation configuration.
func PolicyFromConfig(cfg config.EscalationConfig) Policy {
	return Policy{
		Delay:      cfg.Delay,
		Levels:     cfg.Levels,
		FlapCount:  cfg.FlapCount,
		FlapWindow: cfg.FlapWindow,
	}
}

// maxLevel is the highest escalation level the ladder reaches.
func (p Policy) maxLevel() int { return len(p.Levels) }

// Tracker owns the alert-instance registry and its state transitions.
// All mutation goes through Track, Tick, ObserveCleared, Acknowledge
// and Resolve; each is atomic with respect to the others, so operator
// acknowledgment may race the escalation ticker safely.
type Tracker struct {
	policy Policy

	mu      sync.Mutex
	open    map[string]*Instance // rule ID → live instance
	byID    map[string]*Instance // instance ID → instance (incl. archived)
	archive []*Instance
}

// New creates a Tracker with the given policy.
func New(policy Policy) *Tracker {
	return &Tracker{
		policy: policy,
		open:   make(map[string]*Instance),
		byID:   make(map[string]*Instance),
	}
}

// Track ingests one rule firing. A firing for a rule without a live
// instance opens a new one (isNew=true). A repeated firing refreshes
// the live instance and may trigger the flap escalation: FlapCount
// firings inside FlapWindow advance the level immediately, independent
// of the delay timer.
func (t *Tracker) Track(f rules.Firing, now time.Time) (inst Instance, isNew bool, esc *Escalation) {
	t.mu.Lock()
	defer t.mu.Unlock()

	live, ok := t.open[f.Rule.ID]
	if !ok {
		live = &Instance{
			ID:              uuid.NewString(),
			RuleID:          f.Rule.ID,
			Severity:        f.Rule.Severity,
			State:           StateOpen,
			TriggeredAt:     now,
			LastFiredAt:     now,
			Snapshot:        f.Snapshot,
			baseChannels:    f.Rule.Channels,
			escalationDelay: f.Rule.EscalationDelay,
			cooldown:        f.Rule.Cooldown,
			fireTimes:       []time.Time{now},
			levelAt:         now,
		}
		t.open[f.Rule.ID] = live
		t.byID[live.ID] = live
		return *live, true, nil
	}

	live.LastFiredAt = now
	live.clearedSince = nil
	live.fireTimes = pruneWindow(append(live.fireTimes, now), now, t.policy.FlapWindow)

	if !live.Acknowledged && live.EscalationLevel < t.policy.maxLevel() &&
		len(live.fireTimes) >= t.policy.FlapCount {
		live.EscalationLevel++
		live.levelAt = now
		live.fireTimes = live.fireTimes[:0]
		slog.Warn("escalate: flap threshold reached — escalating immediately",
			"rule", live.RuleID,
			"instance", live.ID,
			"level", live.EscalationLevel,
		)
		return *live, false, &Escalation{
			Instance: *live,
			Channels: t.channelsAt(live, live.EscalationLevel),
		}
	}
	return *live, false, nil
}

// Tick advances delay-based escalations. An instance escalates when it
// has sat unacknowledged at its level for the configured delay; it
// never escalates once acknowledged or after its condition cleared.
func (t *Tracker) Tick(now time.Time) []Escalation {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Escalation
	for _, live := range t.open {
		if live.Acknowledged || live.clearedSince != nil {
			continue
		}
		if live.EscalationLevel >= t.policy.maxLevel() {
			continue
		}
		if now.Sub(live.levelAt) < t.delayToNext(live) {
			continue
		}

		live.EscalationLevel++
		live.levelAt = now
		slog.Warn("escalate: alert unacknowledged — escalating",
			"rule", live.RuleID,
			"instance", live.ID,
			"level", live.EscalationLevel,
		)
		out = append(out, Escalation{
			Instance: *live,
			Channels: t.channelsAt(live, live.EscalationLevel),
		})
	}
	return out
}

// delayToNext returns the delay before the instance's next level. The
// first escalation honors the rule's own delay when set; later levels
// use the ladder, falling back to the policy default.
func (t *Tracker) delayToNext(inst *Instance) time.Duration {
	if inst.EscalationLevel == 0 && inst.escalationDelay > 0 {
		return inst.escalationDelay
	}
	if after := t.policy.Levels[inst.EscalationLevel].After; after > 0 {
		return after
	}
	return t.policy.Delay
}

// channelsAt returns the cumulative channel set at the given level:
// the rule's base channels plus every ladder level up to level.
func (t *Tracker) channelsAt(inst *Instance, level int) []string {
	out := make([]string, 0, len(inst.baseChannels))
	seen := make(map[string]bool)
	add := func(ids []string) {
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	add(inst.baseChannels)
	for i := 0; i < level && i < len(t.policy.Levels); i++ {
		add(t.policy.Levels[i].Channels)
	}
	return out
}

// BaseChannels returns the channel set for an instance at its current
// escalation level.
func (t *Tracker) BaseChannels(instanceID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	inst, ok := t.byID[instanceID]
	if !ok {
		return nil
	}
	return t.channelsAt(inst, inst.EscalationLevel)
}

// ObserveActive records that the named rules' conditions are true this
// cycle even though cooldown suppressed a firing. It resets the clear
// timer: an instance only auto-resolves after a full uninterrupted
// clear period, so a condition that flaps back true must restart it.
func (t *Tracker) ObserveActive(ruleIDs []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ruleIDs {
		if live, ok := t.open[id]; ok {
			live.clearedSince = nil
		}
	}
}

// ObserveCleared records that the named rules' conditions are false this
// cycle. An instance whose condition stays clear for a full rule
// cooldown is resolved automatically.
func (t *Tracker) ObserveCleared(ruleIDs []string, now time.Time) []Instance {
	t.mu.Lock()
	defer t.mu.Unlock()

	var resolved []Instance
	for _, id := range ruleIDs {
		live, ok := t.open[id]
		if !ok {
			continue
		}
		if live.clearedSince == nil {
			since := now
			live.clearedSince = &since
			continue
		}
		if now.Sub(*live.clearedSince) >= live.cooldown {
			t.resolveLocked(live, now)
			resolved = append(resolved, *live)
			slog.Info("escalate: condition stayed clear — auto-resolved",
				"rule", live.RuleID, "instance", live.ID)
		}
	}
	return resolved
}

// Acknowledge marks an instance acknowledged, freezing it at its
// current escalation level. Acknowledging twice is a no-op; an already
// resolved instance stays resolved.
func (t *Tracker) Acknowledge(instanceID string, now time.Time) (Instance, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	inst, ok := t.byID[instanceID]
	if !ok {
		return Instance{}, fmt.Errorf("escalate: instance %q not found", instanceID)
	}
	if inst.State == StateResolved || inst.Acknowledged {
		return *inst, nil
	}

	inst.Acknowledged = true
	inst.State = StateAcknowledged
	at := now
	inst.AcknowledgedAt = &at
	slog.Info("escalate: alert acknowledged",
		"rule", inst.RuleID, "instance", inst.ID, "level", inst.EscalationLevel)
	return *inst, nil
}

// Resolve archives an instance. Resolving twice has the same effect as
// resolving once.
func (t *Tracker) Resolve(instanceID string, now time.Time) (Instance, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	inst, ok := t.byID[instanceID]
	if !ok {
		return Instance{}, fmt.Errorf("escalate: instance %q not found", instanceID)
	}
	if inst.State == StateResolved {
		return *inst, nil
	}

	t.resolveLocked(inst, now)
	slog.Info("escalate: alert resolved", "rule", inst.RuleID, "instance", inst.ID)
	return *inst, nil
}

// resolveLocked transitions an instance to resolved. Callers hold t.mu.
func (t *Tracker) resolveLocked(inst *Instance, now time.Time) {
	inst.State = StateResolved
	at := now
	inst.ResolvedAt = &at
	if live, ok := t.open[inst.RuleID]; ok && live.ID == inst.ID {
		delete(t.open, inst.RuleID)
	}
	t.archive = append(t.archive, inst)
}

// Get returns a copy of the instance with the given ID.
func (t *Tracker) Get(instanceID string) (Instance, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	inst, ok := t.byID[instanceID]
	if !ok {
		return Instance{}, false
	}
	return *inst, true
}

// Active returns copies of every unresolved instance.
func (t *Tracker) Active() []Instance {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Instance, 0, len(t.open))
	for _, inst := range t.open {
		out = append(out, *inst)
	}
	return out
}

// pruneWindow drops timestamps older than window before now.
func pruneWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	kept := times[:0]
	for _, ts := range times {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}
