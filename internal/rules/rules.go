package rules

import (
	"time"

	"github.com/tradesentry/tradesentry/internal/config"
)

// Severity classifies a rule and the alerts it raises.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// rank orders severities for processing: critical first.
func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityWarning:
		return 1
	default:
		return 2
	}
}

// Rule is one threshold-based alert rule, immutable during evaluation.
// Op carries the rule's own interval semantics (">" vs ">=") — there is
// no global comparison policy.
type Rule struct {
	ID              string
	Metric          string
	Op              string
	Threshold       float64
	Severity        Severity
	Cooldown        time.Duration
	EscalationDelay time.Duration
	Channels        []string
	Template        string
}

// FromConfig converts the validated rule catalog, filling per-severity
// default cooldowns where a rule omits its own.
func FromConfig(cfg config.AlertsConfig) []Rule {
	out := make([]Rule, 0, len(cfg.Rules))
	for _, rc := range cfg.Rules {
		r := Rule{
			ID:              rc.ID,
			Metric:          rc.Metric,
			Op:              rc.Op,
			Threshold:       rc.Threshold,
			Severity:        Severity(rc.Severity),
			Cooldown:        rc.Cooldown,
			EscalationDelay: rc.EscalationDelay,
			Channels:        rc.Channels,
			Template:        rc.Template,
		}
		if r.Cooldown == 0 {
			r.Cooldown = cfg.Cooldowns.ForSeverity(rc.Severity)
		}
		out = append(out, r)
	}
	return out
}

// compare applies the rule operator to a value and threshold.
func compare(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}
