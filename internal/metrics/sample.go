package metrics

import "time"

// Sample is one recorded metric reading. Samples are immutable once
// written to the store.
type Sample struct {
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Tags      map[string]string `json:"tags,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// NotificationRecord is one entry in the append-only delivery audit log.
// Every attempt — success and failure — is recorded.
type NotificationRecord struct {
	ID      string    `json:"id"`
	AlertID string    `json:"alert_id"`
	Channel string    `json:"channel"`
	Attempt int       `json:"attempt"`
	SentAt  time.Time `json:"sent_at"`
	Success bool      `json:"success"`
	Error   string    `json:"error,omitempty"`
}
