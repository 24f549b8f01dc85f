package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Response states. in_progress is the only non-terminal state; a response
// never leaves a terminal state.
const (
	ResponseStatusInProgress = "in_progress"
	ResponseStatusCompleted  = "completed"
	ResponseStatusFailed     = "failed"
	ResponseStatusCancelled  = "cancelled"
)

// IsTerminalStatus reports whether s is one of the terminal response states.
func IsTerminalStatus(s string) bool {
	switch s {
	case ResponseStatusCompleted, ResponseStatusFailed, ResponseStatusCancelled:
		return true
	}
	return false
}

// Stop reasons recorded on the usage log.
const (
	StopReasonCompleted        = "completed"
	StopReasonLength           = "length"
	StopReasonContentFilter    = "content_filter"
	StopReasonClientDisconnect = "client_disconnect"
	StopReasonProviderError    = "provider_error"
	StopReasonTimeout          = "timeout"
)

// Response records a single inference attempt.
//
// previous_response_id is set exactly once at creation;
// child_response_ids is append-only thereafter.
type Response struct {
	ID                 uuid.UUID      `db:"id"`
	WorkspaceID        uuid.UUID      `db:"workspace_id"`
	APIKeyID           uuid.UUID      `db:"api_key_id"`
	Model              string         `db:"model"` // canonical name
	Status             string         `db:"status"`
	ConversationID     *uuid.UUID     `db:"conversation_id"`
	PreviousResponseID *uuid.UUID     `db:"previous_response_id"`
	ChildResponseIDs   pq.StringArray `db:"child_response_ids"`
	InputTokens        int            `db:"input_tokens"`
	OutputTokens       int            `db:"output_tokens"`
	Metadata           JSONB          `db:"metadata"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

// ExternalID renders the id with its type prefix.
func (r *Response) ExternalID() string {
	return PrefixResponse + r.ID.String()
}

// IsTerminal reports whether the response reached a terminal state.
func (r *Response) IsTerminal() bool {
	return IsTerminalStatus(r.Status)
}

// IsRoot reports whether this response is the conversation root.
func (r *Response) IsRoot() bool {
	return r.Metadata.GetBool(MetaRootResponse)
}
