package collector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/tradesentry/tradesentry/internal/config"
)

// prometheusAdapter scrapes a Prometheus text-exposition endpoint and
// flattens each metric family into one reading.
type prometheusAdapter struct {
	src    config.SourceConfig
	client *http.Client
}

func newPrometheusAdapter(src config.SourceConfig) *prometheusAdapter {
	return &prometheusAdapter{
		src: src,
		// Request deadlines come from the collector's per-source context;
		// the client timeout is a backstop only.
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *prometheusAdapter) Name() string { return p.src.ID }

// State fetches and parses the endpoint. When the source config carries
// a metric map, only the listed families are returned, renamed to the
// configured store names; otherwise every family is returned as-is.
func (p *prometheusAdapter) State(ctx context.Context) (map[string]float64, error) {
	mfs, err := p.fetch(ctx)
	if err != nil {
		return nil, err
	}

	state := make(map[string]float64, len(mfs))
	if len(p.src.Metrics) == 0 {
		for name, mf := range mfs {
			state[name] = sumFamily(mf)
		}
		return state, nil
	}

	for family, name := range p.src.Metrics {
		mf, ok := mfs[family]
		if !ok {
			continue // missing keys are tolerated
		}
		state[name] = sumFamily(mf)
	}
	return state, nil
}

// fetch performs an HTTP GET and returns parsed metric families.
func (p *prometheusAdapter) fetch(ctx context.Context) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.src.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parseMetrics(resp.Body)
}

// parseMetrics decodes a Prometheus text exposition from r into metric
// families. A partial result with a non-fatal parse warning is still
// returned successfully.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// sumFamily adds up all counter, gauge, or untyped values in a
// MetricFamily. Returns 0 if mf is nil.
func sumFamily(mf *dto.MetricFamily) float64 {
	if mf == nil {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		switch {
		case m.Counter != nil:
			total += m.Counter.GetValue()
		case m.Gauge != nil:
			total += m.Gauge.GetValue()
		case m.Untyped != nil:
			total += m.Untyped.GetValue()
		}
	}
	return total
}
