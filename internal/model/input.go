package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type InputState string

const (
	InputStateRunning InputState = "RUNNING"
	InputStateStopped InputState = "STOPPED"
	InputStateFailed  InputState = "FAILED"
)

// Valid reports whether s is a state a client may request.
func (s InputState) Valid() bool {
	return s == InputStateRunning || s == InputStateStopped
}

// Input is a persisted input definition. Configuration holds the
// type-specific settings as a JSON object.
type Input struct {
	ID            uuid.UUID       `db:"id"`
	Type          string          `db:"type"`
	Title         string          `db:"title"`
	Configuration json.RawMessage `db:"configuration"`
	Global        bool            `db:"global"`
	NodeID        string          `db:"node_id"`
	CreatorUserID string          `db:"creator_user_id"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
	DesiredState  InputState      `db:"desired_state"`
}
