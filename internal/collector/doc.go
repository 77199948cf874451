// Package collector polls metrics from monitored-process adapters on a
// fixed interval and writes normalized samples to the store.
//
// Adapters implement ProcessAdapter. Built-ins:
//   - prometheus — scrapes a Prometheus text-exposition endpoint
//   - resource   — local process/host probe (load, memory, goroutines, fds)
//
// Each source is polled under its own timeout; a failed or hung source
// is abandoned for the cycle, counted, and recorded as a
// collector_errors_total sample so collection failures are themselves
// observable. One source never delays or halts the others.
package collector
