package notify

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tradesentry/tradesentry/internal/metrics"
)

const (
	defaultAttempts    = 3
	defaultWorkers     = 4
	defaultSendTimeout = 30 * time.Second
	backoffInitial     = 1 * time.Second
	backoffMultiplier  = 2.0
)

// Auditor records delivery attempts. *metrics.Store satisfies it.
type Auditor interface {
	RecordNotification(ctx context.Context, rec metrics.NotificationRecord) error
}

// Dispatcher fans a rendered alert out to its channel adapters. Sends
// to different channels run in parallel on a bounded worker pool, each
// under its own deadline and retry budget, so a slow or failing channel
// never delays the others. Every attempt is written to the audit log.
type Dispatcher struct {
	registry map[string]ChannelAdapter
	audit    Auditor

	workers     int
	attempts    int
	sendTimeout time.Duration
	backoff     time.Duration // initial backoff, doubled per attempt
	now         func() time.Time
}

// NewDispatcher creates a Dispatcher over the given adapter registry.
func NewDispatcher(registry map[string]ChannelAdapter, audit Auditor) *Dispatcher {
	return &Dispatcher{
		registry:    registry,
		audit:       audit,
		workers:     defaultWorkers,
		attempts:    defaultAttempts,
		sendTimeout: defaultSendTimeout,
		backoff:     backoffInitial,
		now:         time.Now,
	}
}

// Dispatch renders the alert once and delivers it to every named
// channel. It returns one record per attempt, in no particular order
// across channels. An unknown channel ID is recorded as a failed
// delivery rather than dropped silently.
func (d *Dispatcher) Dispatch(ctx context.Context, alert Alert, channels []string) []metrics.NotificationRecord {
	msg := Render(alert)

	var (
		mu      sync.Mutex
		records []metrics.NotificationRecord
	)
	record := func(rec metrics.NotificationRecord) {
		if err := d.audit.RecordNotification(ctx, rec); err != nil {
			slog.Error("notify: audit write failed", "alert", rec.AlertID, "err", err)
		}
		mu.Lock()
		records = append(records, rec)
		mu.Unlock()
	}

	sem := make(chan struct{}, d.workers)
	var wg sync.WaitGroup
	for _, id := range channels {
		adapter, ok := d.registry[id]
		if !ok {
			record(metrics.NotificationRecord{
				ID:      uuid.NewString(),
				AlertID: alert.ID,
				Channel: id,
				Attempt: 1,
				SentAt:  d.now(),
				Success: false,
				Error:   fmt.Sprintf("unknown channel %q", id),
			})
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(adapter ChannelAdapter) {
			defer wg.Done()
			defer func() { <-sem }()
			d.sendWithRetry(ctx, adapter, alert.ID, msg, record)
		}(adapter)
	}
	wg.Wait()
	return records
}

// sendWithRetry drives one channel's attempt/backoff loop.
func (d *Dispatcher) sendWithRetry(ctx context.Context, adapter ChannelAdapter, alertID string, msg Message, record func(metrics.NotificationRecord)) {
	wait := d.backoff
	for attempt := 1; attempt <= d.attempts; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
		err := adapter.Send(sendCtx, msg)
		cancel()

		rec := metrics.NotificationRecord{
			ID:      uuid.NewString(),
			AlertID: alertID,
			Channel: adapter.Name(),
			Attempt: attempt,
			SentAt:  d.now(),
			Success: err == nil,
		}
		if err != nil {
			rec.Error = err.Error()
		}
		record(rec)

		if err == nil {
			slog.Debug("notify: delivered", "alert", alertID, "channel", adapter.Name(), "attempt", attempt)
			return
		}

		slog.Warn("notify: delivery attempt failed",
			"alert", alertID,
			"channel", adapter.Name(),
			"attempt", attempt,
			"err", err,
		)
		if attempt == d.attempts {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(jitter(wait)):
		}
		wait = time.Duration(float64(wait) * backoffMultiplier)
	}
}

// Delivered reports whether any attempt for the given channel in recs
// succeeded.
func Delivered(recs []metrics.NotificationRecord, channel string) bool {
	for _, r := range recs {
		if r.Channel == channel && r.Success {
			return true
		}
	}
	return false
}

// AllFailed reports whether no attempt in recs succeeded on any channel.
func AllFailed(recs []metrics.NotificationRecord) bool {
	if len(recs) == 0 {
		return true
	}
	for _, r := range recs {
		if r.Success {
			return false
		}
	}
	return true
}

// jitter applies ±25% to a backoff duration.
func jitter(d time.Duration) time.Duration {
	j := time.Duration(float64(d) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	if d += j; d < 0 {
		return 0
	}
	return d
}
