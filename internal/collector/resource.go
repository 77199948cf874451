package collector

import (
	"context"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// resourceAdapter probes the local process and host: load average,
// resident memory, goroutine count, and open file descriptors. Readings
// that cannot be taken on the current platform are simply omitted.
type resourceAdapter struct {
	id string
}

func newResourceAdapter(id string) *resourceAdapter {
	return &resourceAdapter{id: id}
}

func (r *resourceAdapter) Name() string { return r.id }

func (r *resourceAdapter) State(ctx context.Context) (map[string]float64, error) {
	state := map[string]float64{
		"goroutines": float64(runtime.NumGoroutine()),
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	state["heap_alloc_mb"] = float64(ms.HeapAlloc) / (1 << 20)

	if load, ok := readLoadAvg(); ok {
		state["load_1m"] = load
	}
	if rss, ok := readRSSMB(); ok {
		state["rss_mb"] = rss
	}
	if fds, ok := countOpenFDs(); ok {
		state["open_fds"] = fds
	}
	return state, nil
}

// readLoadAvg parses the 1-minute load average from /proc/loadavg.
func readLoadAvg() (float64, bool) {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0, false
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// readRSSMB parses resident set size from /proc/self/statm (field 2,
// in pages).
func readRSSMB() (float64, bool) {
	data, err := os.ReadFile("/proc/self/statm")
	if err != nil {
		return 0, false
	}
	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		return 0, false
	}
	pages, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return 0, false
	}
	return pages * float64(os.Getpagesize()) / (1 << 20), true
}

func countOpenFDs() (float64, bool) {
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		return 0, false
	}
	return float64(len(entries)), true
}
