package rules

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Firing is one rule whose condition transitioned true outside its
// cooldown window this cycle.
type Firing struct {
	Rule     Rule
	Value    float64
	At       time.Time
	Snapshot map[string]float64 // metrics at trigger time
}

// Engine evaluates the rule catalog against metric snapshots. Each rule
// runs an independent cooldown state machine: a rule that fired stays
// silent for its cooldown even while the condition remains true, which
// prevents notification storms.
//
// Engine is safe for concurrent use; SetRules may be called while the
// evaluation loop runs (hot reload).
type Engine struct {
	mu         sync.Mutex
	rules      []Rule
	lastFire   map[string]time.Time
	evalErrors map[string]int // per-rule skipped-cycle count
}

// New creates an Engine over the given catalog. An empty catalog is
// valid — Evaluate becomes a no-op.
func New(rules []Rule) *Engine {
	return &Engine{
		rules:      rules,
		lastFire:   make(map[string]time.Time),
		evalErrors: make(map[string]int),
	}
}

// SetRules swaps the catalog. Cooldown state is kept for rules that
// survive the swap and dropped for removed ones.
func (e *Engine) SetRules(rules []Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()

	keep := make(map[string]bool, len(rules))
	for _, r := range rules {
		keep[r.ID] = true
	}
	for id := range e.lastFire {
		if !keep[id] {
			delete(e.lastFire, id)
		}
	}
	e.rules = rules
	slog.Info("rules: catalog replaced", "rules", len(rules))
}

// Evaluate tests every rule against snap. It returns the firings in
// severity order (critical first; catalog order within a severity),
// the IDs of rules whose condition is true but suppressed by cooldown,
// and the IDs of rules whose condition is now false, so the caller can
// resolve their open alerts. Suppressed rules matter to the caller too:
// an open alert only auto-resolves after a full uninterrupted clear
// period, so a condition that goes true again inside the cooldown must
// reset that clock.
//
// A rule whose metric is missing from the snapshot is skipped for the
// cycle and counted — it is neither fired, suppressed nor cleared, and
// it never affects the other rules.
func (e *Engine) Evaluate(snap map[string]float64, now time.Time) (firings []Firing, suppressed, cleared []string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, r := range e.rules {
		value, ok := snap[r.Metric]
		if !ok {
			e.evalErrors[r.ID]++
			slog.Warn("rules: metric missing from snapshot — rule skipped",
				"rule", r.ID, "metric", r.Metric, "skips", e.evalErrors[r.ID])
			continue
		}

		if !compare(value, r.Op, r.Threshold) {
			cleared = append(cleared, r.ID)
			continue
		}

		if last, fired := e.lastFire[r.ID]; fired && now.Sub(last) < r.Cooldown {
			suppressed = append(suppressed, r.ID)
			continue // in cooldown — no firing even though the condition holds
		}

		e.lastFire[r.ID] = now
		firings = append(firings, Firing{
			Rule:     r,
			Value:    value,
			At:       now,
			Snapshot: copySnapshot(snap),
		})
		slog.Warn("rules: rule fired",
			"rule", r.ID,
			"metric", r.Metric,
			"value", value,
			"severity", string(r.Severity),
		)
	}

	// Critical rules are handed downstream before lower severities so
	// actions tied to them run first.
	sort.SliceStable(firings, func(i, j int) bool {
		return firings[i].Rule.Severity.rank() < firings[j].Rule.Severity.rank()
	})
	return firings, suppressed, cleared
}

// SkippedCycles returns how many evaluation cycles skipped the rule
// because its metric was unavailable.
func (e *Engine) SkippedCycles(ruleID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.evalErrors[ruleID]
}

func copySnapshot(snap map[string]float64) map[string]float64 {
	cp := make(map[string]float64, len(snap))
	for k, v := range snap {
		cp[k] = v
	}
	return cp
}
