// Package rules holds the alert rule catalog and the threshold
// evaluation engine with per-rule cooldown state.
package rules
