package notify

import (
	"bytes"
	"fmt"
	"log/slog"
	"text/template"
	"time"

	"github.com/tradesentry/tradesentry/internal/rules"
)

// Alert is the dispatcher's view of one alert to deliver: enough to
// render a message without reaching back into the tracker.
type Alert struct {
	ID              string
	RuleID          string
	Severity        rules.Severity
	Metric          string
	Op              string
	Threshold       float64
	Value           float64
	TriggeredAt     time.Time
	EscalationLevel int
	Snapshot        map[string]float64
	Template        string // optional per-rule template override
}

// Message is a rendered notification ready for a channel adapter.
type Message struct {
	Subject  string
	Body     string
	Severity rules.Severity
}

// Per-severity default templates. A rule may override via its own
// template string; both render with the Alert as data.
var defaultTemplates = map[rules.Severity]string{
	rules.SeverityCritical: "CRITICAL: rule {{.RuleID}} fired — {{.Metric}} = {{printf \"%.4g\" .Value}} (condition {{.Metric}} {{.Op}} {{.Threshold}}), escalation level {{.EscalationLevel}}",
	rules.SeverityWarning:  "Warning: rule {{.RuleID}} — {{.Metric}} = {{printf \"%.4g\" .Value}} ({{.Metric}} {{.Op}} {{.Threshold}})",
	rules.SeverityInfo:     "Info: rule {{.RuleID}} — {{.Metric}} = {{printf \"%.4g\" .Value}}",
}

// Render produces the notification message for an alert. A template
// that fails to parse or execute falls back to a minimal plain-text
// message — rendering problems must never suppress an alert.
func Render(a Alert) Message {
	text := a.Template
	if text == "" {
		text = defaultTemplates[a.Severity]
	}
	if text == "" {
		text = defaultTemplates[rules.SeverityInfo]
	}

	msg := Message{
		Subject:  fmt.Sprintf("[%s] %s", severityLabel(a.Severity), a.RuleID),
		Severity: a.Severity,
	}

	tmpl, err := template.New("alert").Parse(text)
	if err != nil {
		slog.Error("notify: template parse failed — using fallback message",
			"rule", a.RuleID, "err", err)
		msg.Body = fallbackBody(a)
		return msg
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, a); err != nil {
		slog.Error("notify: template render failed — using fallback message",
			"rule", a.RuleID, "err", err)
		msg.Body = fallbackBody(a)
		return msg
	}
	msg.Body = buf.String()
	return msg
}

func fallbackBody(a Alert) string {
	return fmt.Sprintf("[%s] rule %s fired on %s (value %.4g) at %s",
		severityLabel(a.Severity), a.RuleID, a.Metric, a.Value,
		a.TriggeredAt.UTC().Format(time.RFC3339))
}

func severityLabel(s rules.Severity) string {
	switch s {
	case rules.SeverityCritical:
		return "CRITICAL"
	case rules.SeverityWarning:
		return "WARNING"
	default:
		return "INFO"
	}
}

func severityColor(s rules.Severity) string {
	switch s {
	case rules.SeverityCritical:
		return "FF4F6A"
	case rules.SeverityWarning:
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
