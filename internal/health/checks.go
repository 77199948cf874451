package health

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/tradesentry/tradesentry/internal/config"
	"github.com/tradesentry/tradesentry/internal/metrics"
)

// SampleReader is the slice of the metrics store the built-in checks
// need. *metrics.Store satisfies it.
type SampleReader interface {
	LatestSample(ctx context.Context, name string) (metrics.Sample, bool, error)
	LastWriteTime(ctx context.Context) (time.Time, bool, error)
}

// BuiltinChecks assembles the standard probe set from configuration.
// Checks whose config is absent (no API endpoint, no resource limits)
// are left out rather than reported vacuously healthy.
func BuiltinChecks(cfg config.HealthConfig, reader SampleReader, now func() time.Time) []Check {
	if now == nil {
		now = time.Now
	}
	checks := []Check{
		BotRunning(reader, cfg.HeartbeatMetric, cfg.MaxHeartbeatAge, now),
		DataFreshness(reader, cfg.MaxDataAge, now),
		ModelLoaded(reader),
	}
	if cfg.APIEndpoint != "" {
		checks = append(checks, APIConnectivity(cfg.APIEndpoint))
	}
	if cfg.MaxMemoryMB > 0 || cfg.MaxGoroutines > 0 {
		checks = append(checks, ResourceUsage(cfg.MaxMemoryMB, cfg.MaxGoroutines))
	}
	return checks
}

// BotRunning asserts the monitored process heartbeat metric is fresh.
// A missing heartbeat is as bad as a stale one.
func BotRunning(reader SampleReader, metric string, maxAge time.Duration, now func() time.Time) Check {
	return CheckFunc{
		CheckName: "bot_running",
		Fn: func(ctx context.Context) error {
			s, ok, err := reader.LatestSample(ctx, metric)
			if err != nil {
				return fmt.Errorf("read heartbeat: %w", err)
			}
			if !ok {
				return fmt.Errorf("no %q sample recorded", metric)
			}
			if age := now().Sub(s.Timestamp); age > maxAge {
				return fmt.Errorf("heartbeat stale: last seen %s ago (limit %s)", age.Round(time.Second), maxAge)
			}
			return nil
		},
	}
}

// DataFreshness asserts the store has seen any sample recently.
func DataFreshness(reader SampleReader, maxAge time.Duration, now func() time.Time) Check {
	return CheckFunc{
		CheckName: "data_freshness",
		Fn: func(ctx context.Context) error {
			ts, ok, err := reader.LastWriteTime(ctx)
			if err != nil {
				return fmt.Errorf("read last write: %w", err)
			}
			if !ok {
				return fmt.Errorf("store is empty")
			}
			if age := now().Sub(ts); age > maxAge {
				return fmt.Errorf("newest sample is %s old (limit %s)", age.Round(time.Second), maxAge)
			}
			return nil
		},
	}
}

// ModelLoaded asserts the monitored process reports its model gauge at 1.
func ModelLoaded(reader SampleReader) Check {
	return CheckFunc{
		CheckName: "model_loaded",
		Fn: func(ctx context.Context) error {
			s, ok, err := reader.LatestSample(ctx, "model_loaded")
			if err != nil {
				return fmt.Errorf("read model gauge: %w", err)
			}
			if !ok {
				return fmt.Errorf("no model_loaded gauge reported")
			}
			if s.Value < 1 {
				return fmt.Errorf("model_loaded gauge is %g", s.Value)
			}
			return nil
		},
	}
}

// APIConnectivity probes an HTTP endpoint the monitored process depends
// on. Any response below 400 counts as reachable.
func APIConnectivity(url string) Check {
	client := &http.Client{}
	return CheckFunc{
		CheckName: "api_connectivity",
		Fn: func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return fmt.Errorf("build probe: %w", err)
			}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("probe %s: %w", url, err)
			}
			resp.Body.Close()
			if resp.StatusCode >= 400 {
				return fmt.Errorf("probe %s returned HTTP %d", url, resp.StatusCode)
			}
			return nil
		},
	}
}

// ResourceUsage bounds the engine's own memory and goroutine count.
// A zero limit disables that bound.
func ResourceUsage(maxMemoryMB, maxGoroutines int) Check {
	return CheckFunc{
		CheckName: "resource_usage",
		Fn: func(ctx context.Context) error {
			if maxMemoryMB > 0 {
				var ms runtime.MemStats
				runtime.ReadMemStats(&ms)
				if mb := int(ms.HeapAlloc / (1 << 20)); mb > maxMemoryMB {
					return fmt.Errorf("heap at %d MB (limit %d MB)", mb, maxMemoryMB)
				}
			}
			if maxGoroutines > 0 {
				if n := runtime.NumGoroutine(); n > maxGoroutines {
					return fmt.Errorf("%d goroutines (limit %d)", n, maxGoroutines)
				}
			}
			return nil
		},
	}
}
