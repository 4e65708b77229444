package models

import "time"

// QueueItem is one undelivered notification, persisted so delivery
// survives process restarts. Items are kept in append order and flushed
// oldest-first.
type QueueItem struct {
	Recipient string    `json:"recipient"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
}
