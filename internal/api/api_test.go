package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tradesentry/tradesentry/internal/escalate"
	"github.com/tradesentry/tradesentry/internal/health"
	"github.com/tradesentry/tradesentry/internal/metrics"
)

type fakeAlerts struct {
	active  []escalate.Instance
	byID    map[string]escalate.Instance
	overall health.Overall
	acked   []string
}

func (f *fakeAlerts) ActiveAlerts() []escalate.Instance { return f.active }

func (f *fakeAlerts) Alert(id string) (escalate.Instance, bool) {
	inst, ok := f.byID[id]
	return inst, ok
}

func (f *fakeAlerts) Acknowledge(id string) (escalate.Instance, error) {
	inst, ok := f.byID[id]
	if !ok {
		return escalate.Instance{}, errors.New("unknown alert instance")
	}
	f.acked = append(f.acked, id)
	inst.State = escalate.StateAcknowledged
	return inst, nil
}

func (f *fakeAlerts) Resolve(id string) (escalate.Instance, error) {
	inst, ok := f.byID[id]
	if !ok {
		return escalate.Instance{}, errors.New("unknown alert instance")
	}
	inst.State = escalate.StateResolved
	return inst, nil
}

func (f *fakeAlerts) Health() health.Overall { return f.overall }

type fakeReader struct {
	samples []metrics.Sample
	recs    []metrics.NotificationRecord
	from    time.Time
	to      time.Time
}

func (f *fakeReader) Query(_ context.Context, name string, from, to time.Time) ([]metrics.Sample, error) {
	f.from, f.to = from, to
	return f.samples, nil
}

func (f *fakeReader) Notifications(_ context.Context, alertID string) ([]metrics.NotificationRecord, error) {
	return f.recs, nil
}

func newTestServer(alerts *fakeAlerts, reader *fakeReader) *httptest.Server {
	return httptest.NewServer(NewServer(alerts, reader).Router())
}

func decode(t *testing.T, resp *http.Response) response {
	t.Helper()
	defer resp.Body.Close()
	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestListAlerts(t *testing.T) {
	alerts := &fakeAlerts{active: []escalate.Instance{
		{ID: "a1", RuleID: "drawdown-critical", State: escalate.StateOpen},
	}}
	srv := newTestServer(alerts, &fakeReader{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/alerts")
	if err != nil {
		t.Fatal(err)
	}
	out := decode(t, resp)
	if resp.StatusCode != http.StatusOK || !out.Success {
		t.Fatalf("status %d, body %+v", resp.StatusCode, out)
	}
	data := out.Data.(map[string]interface{})
	if data["count"].(float64) != 1 {
		t.Errorf("count: got %v", data["count"])
	}
}

func TestAcknowledgeAlert(t *testing.T) {
	alerts := &fakeAlerts{byID: map[string]escalate.Instance{
		"a1": {ID: "a1", State: escalate.StateOpen},
	}}
	srv := newTestServer(alerts, &fakeReader{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/alerts/a1/acknowledge", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	if out := decode(t, resp); resp.StatusCode != http.StatusOK || !out.Success {
		t.Fatalf("status %d, body %+v", resp.StatusCode, out)
	}
	if len(alerts.acked) != 1 || alerts.acked[0] != "a1" {
		t.Errorf("acked: got %v", alerts.acked)
	}

	resp, err = http.Post(srv.URL+"/api/v1/alerts/missing/acknowledge", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	if out := decode(t, resp); resp.StatusCode != http.StatusNotFound || out.Success {
		t.Errorf("unknown id: status %d, body %+v", resp.StatusCode, out)
	}
}

func TestResolveAlert(t *testing.T) {
	alerts := &fakeAlerts{byID: map[string]escalate.Instance{
		"a1": {ID: "a1", State: escalate.StateOpen},
	}}
	srv := newTestServer(alerts, &fakeReader{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/alerts/a1/resolve", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	if out := decode(t, resp); resp.StatusCode != http.StatusOK || !out.Success {
		t.Fatalf("status %d, body %+v", resp.StatusCode, out)
	}
}

func TestHealthVerdictStatusCode(t *testing.T) {
	alerts := &fakeAlerts{overall: health.Overall{Healthy: true}}
	srv := newTestServer(alerts, &fakeReader{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthy: status %d", resp.StatusCode)
	}

	alerts.overall = health.Overall{Healthy: false, Failing: []string{"bot_running"}}
	resp, err = http.Get(srv.URL + "/api/v1/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("unhealthy: status %d", resp.StatusCode)
	}
}

func TestQueryMetricTimeRange(t *testing.T) {
	reader := &fakeReader{samples: []metrics.Sample{{Name: "pnl", Value: 12.5}}}
	srv := newTestServer(&fakeAlerts{}, reader)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/metrics/pnl?from=1717200000&to=1717203600")
	if err != nil {
		t.Fatal(err)
	}
	if out := decode(t, resp); resp.StatusCode != http.StatusOK || !out.Success {
		t.Fatalf("status %d, body %+v", resp.StatusCode, out)
	}
	if reader.from.Unix() != 1717200000 || reader.to.Unix() != 1717203600 {
		t.Errorf("range passed through wrong: %v – %v", reader.from, reader.to)
	}

	resp, err = http.Get(srv.URL + "/api/v1/metrics/pnl?from=yesterday")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed from: status %d", resp.StatusCode)
	}
}

func TestListNotifications(t *testing.T) {
	reader := &fakeReader{recs: []metrics.NotificationRecord{
		{ID: "n1", AlertID: "a1", Channel: "chat", Attempt: 1, Success: true},
		{ID: "n2", AlertID: "a1", Channel: "email", Attempt: 1, Success: false, Error: "HTTP 502"},
	}}
	srv := newTestServer(&fakeAlerts{}, reader)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/alerts/a1/notifications")
	if err != nil {
		t.Fatal(err)
	}
	out := decode(t, resp)
	if resp.StatusCode != http.StatusOK || !out.Success {
		t.Fatalf("status %d, body %+v", resp.StatusCode, out)
	}
	data := out.Data.(map[string]interface{})
	if data["count"].(float64) != 2 {
		t.Errorf("count: got %v", data["count"])
	}
}
