// Package manager drives the alerting loop. Each tick it reads the
// latest metric snapshot, evaluates the rule catalog, opens or
// refreshes alert instances, fans notifications out, advances
// delay-based escalations and auto-resolves instances whose condition
// has stayed clear. It is the single writer of alert state; the API
// and WebSocket surfaces read through it.
package manager
