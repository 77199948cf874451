package notify

import (
	"strings"
	"testing"

	"github.com/tradesentry/tradesentry/internal/rules"
)

func TestRender_DefaultTemplatePerSeverity(t *testing.T) {
	a := testAlert()
	msg := Render(a)

	if msg.Subject != "[CRITICAL] cpu-high" {
		t.Errorf("subject: got %q", msg.Subject)
	}
	if msg.Severity != rules.SeverityCritical {
		t.Errorf("severity: got %q", msg.Severity)
	}
	for _, want := range []string{"CRITICAL", "cpu-high", "cpu_usage", "0.99"} {
		if !strings.Contains(msg.Body, want) {
			t.Errorf("body missing %q: %q", want, msg.Body)
		}
	}

	a.Severity = rules.SeverityWarning
	if msg := Render(a); !strings.HasPrefix(msg.Body, "Warning:") {
		t.Errorf("warning body: got %q", msg.Body)
	}
}

func TestRender_CustomTemplateOverride(t *testing.T) {
	a := testAlert()
	a.Template = "drawdown breach on {{.Metric}}: {{printf \"%.2f\" .Value}}"

	msg := Render(a)
	if msg.Body != "drawdown breach on cpu_usage: 0.99" {
		t.Errorf("got %q", msg.Body)
	}
}

func TestRender_BrokenTemplateFallsBack(t *testing.T) {
	for _, tmpl := range []string{
		"{{.Metric",           // parse error
		"{{.NoSuchField}} hi", // execute error
	} {
		a := testAlert()
		a.Template = tmpl
		msg := Render(a)
		if msg.Body == "" {
			t.Fatalf("template %q: empty body, alert suppressed", tmpl)
		}
		for _, want := range []string{"CRITICAL", "cpu-high", "cpu_usage"} {
			if !strings.Contains(msg.Body, want) {
				t.Errorf("template %q: fallback missing %q: %q", tmpl, want, msg.Body)
			}
		}
	}
}
