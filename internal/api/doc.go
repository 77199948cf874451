// Package api exposes the operator REST surface: active alerts,
// acknowledge/resolve actions, the composite health verdict, metric
// range queries and per-alert notification audit records.
package api
