package health

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tradesentry/tradesentry/internal/metrics"
)

// Check is one health probe. A nil error means healthy.
type Check interface {
	Name() string
	Run(ctx context.Context) error
}

// CheckFunc adapts a function to the Check interface.
type CheckFunc struct {
	CheckName string
	Fn        func(ctx context.Context) error
}

func (c CheckFunc) Name() string                  { return c.CheckName }
func (c CheckFunc) Run(ctx context.Context) error { return c.Fn(ctx) }

// Result is the outcome of one check.
type Result struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Detail    string    `json:"detail,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Overall is the composite verdict: healthy only when every check is.
type Overall struct {
	Healthy   bool      `json:"healthy"`
	Checks    []Result  `json:"checks"`
	Failing   []string  `json:"failing,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// GaugeWriter receives the 0/1 health gauges. *metrics.Store satisfies it.
type GaugeWriter interface {
	Write(samples ...metrics.Sample)
}

// Checker runs a fixed set of checks on its own cadence and caches the
// latest composite verdict.
type Checker struct {
	checks   []Check
	gauges   GaugeWriter
	interval time.Duration
	timeout  time.Duration

	mu   sync.RWMutex
	last Overall

	now func() time.Time
}

func NewChecker(checks []Check, gauges GaugeWriter, interval, timeout time.Duration) *Checker {
	return &Checker{
		checks:   checks,
		gauges:   gauges,
		interval: interval,
		timeout:  timeout,
		now:      time.Now,
	}
}

// CheckAll runs every check, each under its own timeout. A check that
// errors, times out, or panics is unhealthy — never assume health on
// failure to answer. Results are also written to the metrics store as
// health_<name> and health_overall 0/1 gauges.
func (c *Checker) CheckAll(ctx context.Context) Overall {
	ts := c.now()
	overall := Overall{Healthy: true, CheckedAt: ts}

	for _, check := range c.checks {
		res := Result{Name: check.Name(), Healthy: true, CheckedAt: ts}
		if err := c.runOne(ctx, check); err != nil {
			res.Healthy = false
			res.Detail = err.Error()
			overall.Healthy = false
			overall.Failing = append(overall.Failing, check.Name())
			slog.Warn("health check failed", "check", check.Name(), "err", err)
		}
		overall.Checks = append(overall.Checks, res)
	}
	sort.Strings(overall.Failing)

	if c.gauges != nil {
		samples := make([]metrics.Sample, 0, len(overall.Checks)+1)
		for _, res := range overall.Checks {
			samples = append(samples, metrics.Sample{
				Name:      "health_" + res.Name,
				Value:     boolGauge(res.Healthy),
				Timestamp: ts,
			})
		}
		samples = append(samples, metrics.Sample{
			Name:      "health_overall",
			Value:     boolGauge(overall.Healthy),
			Timestamp: ts,
		})
		c.gauges.Write(samples...)
	}

	c.mu.Lock()
	c.last = overall
	c.mu.Unlock()
	return overall
}

// runOne bounds a single check with the per-check timeout and converts
// panics into errors. The check runs in its own goroutine so a probe
// that ignores its context cannot stall the sweep.
func (c *Checker) runOne(ctx context.Context, check Check) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("check panicked: %v", r)
			}
		}()
		done <- check.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("check timed out after %s", c.timeout)
	case err := <-done:
		return err
	}
}

// Last returns the most recent composite verdict. Before the first
// sweep completes it reports unhealthy with no check results.
func (c *Checker) Last() Overall {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// Run sweeps immediately, then on every interval tick until ctx ends.
func (c *Checker) Run(ctx context.Context) {
	c.CheckAll(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CheckAll(ctx)
		}
	}
}

func boolGauge(healthy bool) float64 {
	if healthy {
		return 1
	}
	return 0
}
