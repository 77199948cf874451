// Package escalate tracks alert instances from the moment a rule fires
// until they are acknowledged or resolved, raising the escalation level
// of alerts that stay unacknowledged.
//
// Two distinct triggers advance an instance's level: the delay timer
// (unacknowledged for the configured duration) and the flap trigger
// (the same rule firing repeatedly within a short window). Each level
// widens the notification channel set along the configured ladder.
// Acknowledgment freezes the level; it does not reset it.
package escalate
