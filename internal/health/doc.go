// Package health runs periodic liveness probes against the monitored
// process and the engine itself. Each probe is an independent Check;
// the composite verdict is healthy only when every check passes, and a
// check that errors, times out, or panics counts as failed. Results
// are written back to the metrics store as 0/1 gauges so alert rules
// can fire on them.
package health
