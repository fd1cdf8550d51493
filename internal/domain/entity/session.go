package entity

import (
	"encoding/json"
	"time"
)

// ActorSession holds what an actor is in the middle of doing, e.g. typing
// figures for a debt report. It replaces process-local per-actor maps.
type ActorSession struct {
	ActorID   string          `json:"actor_id"`
	Context   string          `json:"context"`
	State     string          `json:"state"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}
