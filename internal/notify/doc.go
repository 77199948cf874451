// Package notify renders alert messages and delivers them through
// channel adapters (Slack, Teams, generic webhook, SMTP email).
//
// Delivery fans out in parallel with per-channel retry and backoff;
// channels are independent failure domains, and every attempt lands in
// the audit log. Message rendering falls back to a minimal plain-text
// form on template errors — an alert is never suppressed by a broken
// template.
package notify
