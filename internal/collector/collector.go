package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tradesentry/tradesentry/internal/config"
	"github.com/tradesentry/tradesentry/internal/metrics"
)

// ProcessAdapter is the pluggable boundary to a monitored process. An
// adapter returns the current reading per metric name; partial or
// missing keys are tolerated by callers.
type ProcessAdapter interface {
	Name() string
	State(ctx context.Context) (map[string]float64, error)
}

// AdapterFunc adapts a plain function into a ProcessAdapter.
type AdapterFunc struct {
	ID string
	Fn func(ctx context.Context) (map[string]float64, error)
}

func (a AdapterFunc) Name() string { return a.ID }

func (a AdapterFunc) State(ctx context.Context) (map[string]float64, error) {
	return a.Fn(ctx)
}

// NewAdapter builds the ProcessAdapter for one configured source.
func NewAdapter(src config.SourceConfig) (ProcessAdapter, error) {
	switch src.Type {
	case "prometheus":
		return newPrometheusAdapter(src), nil
	case "resource":
		return newResourceAdapter(src.ID), nil
	default:
		return nil, fmt.Errorf("collector: unsupported source type %q", src.Type)
	}
}

// Collector polls every registered source on a fixed interval and
// writes normalized samples to the store. One failing or hung source
// never delays the others; its failure is counted and itself recorded
// as a metric.
type Collector struct {
	store    *metrics.Store
	adapters []ProcessAdapter
	interval time.Duration
	timeout  time.Duration

	mu     sync.Mutex
	errors map[string]int // per-source failure count
}

// New creates a Collector writing to store.
func New(store *metrics.Store, adapters []ProcessAdapter, interval, timeout time.Duration) *Collector {
	return &Collector{
		store:    store,
		adapters: adapters,
		interval: interval,
		timeout:  timeout,
		errors:   make(map[string]int),
	}
}

// Run starts the collection loop. It blocks until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) {
	t := time.NewTicker(c.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			c.Collect(ctx, now)
		}
	}
}

// Collect runs one collection cycle across all sources and returns the
// samples written. now stamps the cycle so callers and tests control
// the clock.
func (c *Collector) Collect(ctx context.Context, now time.Time) []metrics.Sample {
	var out []metrics.Sample
	for _, a := range c.adapters {
		state, err := c.poll(ctx, a)
		if err != nil {
			n := c.recordError(a.Name())
			slog.Warn("collector: source failed, skipping this cycle",
				"source", a.Name(), "failures", n, "err", err)
			out = append(out, metrics.Sample{
				Name:      "collector_errors_total",
				Value:     float64(n),
				Tags:      map[string]string{"source": a.Name()},
				Timestamp: now,
			})
			continue
		}

		for name, value := range state {
			out = append(out, metrics.Sample{
				Name:      name,
				Value:     value,
				Tags:      map[string]string{"source": a.Name()},
				Timestamp: now,
			})
		}
	}

	if len(out) > 0 {
		c.store.Write(out...)
	}
	return out
}

// poll calls one adapter under the per-source timeout. The adapter call
// runs in its own goroutine so a non-cooperative adapter is abandoned
// at the deadline rather than stalling the cycle.
func (c *Collector) poll(ctx context.Context, a ProcessAdapter) (map[string]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type result struct {
		state map[string]float64
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		state, err := a.State(ctx)
		ch <- result{state, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("source %q: %w", a.Name(), ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("source %q: %w", a.Name(), r.err)
		}
		return r.state, nil
	}
}

func (c *Collector) recordError(source string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors[source]++
	return c.errors[source]
}

// ErrorCount returns the cumulative failure count for a source.
func (c *Collector) ErrorCount(source string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errors[source]
}
