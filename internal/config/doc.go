// Package config loads the tradesentry configuration from config.yaml.
//
// The file enumerates every recognized option: collection interval and
// sources, store retention, the alert rule catalog with per-severity
// cooldown defaults, the escalation ladder, notification channels, and
// the health-check and server settings.
//
// Load(path) applies defaults before unmarshalling, then validates.
// Validation is strict: an unknown operator, severity, or channel type,
// a rule referencing an undefined channel, or a negative duration fails
// the load. The engine never starts with a partially valid catalog.
//
// Watch(ctx, path, onChange) hot-reloads the file on write; a failed
// reload keeps the previous configuration active.
//
// Credentials (webhook URLs, SMTP passwords) are never stored in the
// file — each is named by an environment variable and resolved at use.
package config
