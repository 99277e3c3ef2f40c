package domain

import (
	"encoding/json"
	"time"
)

// Event kinds written to the persistent log.
const (
	EventSessionCreated = "session_created"
	EventMessage        = "message"
	EventGreeting       = "greeting"
	EventTokenIssued    = "token_issued"
	EventLogout         = "logout"
	EventLogin          = "login"
	EventTranslation    = "translation"
	EventSpeech         = "speech"
	EventRoom           = "room"
	EventSweep          = "sweep"
)

// Event is an append-only log entry.
type Event struct {
	ID        int64           `json:"id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
