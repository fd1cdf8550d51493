package entity

import "time"

// MessageKind tells how a delivered chat message is cleaned up later
type MessageKind string

const (
	// MessageKindPrompt is an actionable message, edited once its request moves on
	MessageKindPrompt MessageKind = "prompt"
	// MessageKindReminder is deleted when a newer reminder reaches the same actor
	MessageKindReminder MessageKind = "reminder"
)

// NotificationMessage records a chat message the router sent
type NotificationMessage struct {
	ID          int64       `json:"id"`
	Kind        MessageKind `json:"kind"`
	RequestID   int64       `json:"request_id"`
	RecipientID string      `json:"recipient_id"`
	MessageID   string      `json:"message_id"`
	SentAt      time.Time   `json:"sent_at"`
}
