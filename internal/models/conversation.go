package models

import (
	"time"

	"github.com/google/uuid"
)

// Metadata keys on conversations and responses.
const (
	MetaRootResponse   = "root_response"
	MetaRootResponseID = "root_response_id"
	MetaName           = "name"
)

// Conversation is a workspace-scoped thread of responses.
//
// At most one response in a conversation carries metadata.root_response=true;
// the database enforces this with a partial unique index.
type Conversation struct {
	ID           uuid.UUID  `db:"id"`
	WorkspaceID  uuid.UUID  `db:"workspace_id"`
	Metadata     JSONB      `db:"metadata"`
	ClonedFromID *uuid.UUID `db:"cloned_from_id"`
	PinnedAt     *time.Time `db:"pinned_at"`
	ArchivedAt   *time.Time `db:"archived_at"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
	DeletedAt    *time.Time `db:"deleted_at"`
}

// ExternalID renders the id with its type prefix.
func (c *Conversation) ExternalID() string {
	return PrefixConversation + c.ID.String()
}

// ResponseItem is one granular output unit (message, tool call, reasoning
// chunk or error) stored under a response row and referenced from the
// conversation timeline.
type ResponseItem struct {
	ID         uuid.UUID `db:"id"`
	ResponseID uuid.UUID `db:"response_id"`
	Kind       string    `db:"kind"`      // message | tool_call | reasoning | error
	Direction  string    `db:"direction"` // input | output
	Content    JSONB     `db:"content"`
	Position   int       `db:"position"`
	CreatedAt  time.Time `db:"created_at"`
}

// Item directions. Input items preserve the caller's messages; output items
// are produced by the stream.
const (
	ItemDirectionInput  = "input"
	ItemDirectionOutput = "output"
)

// Response item kinds.
const (
	ItemKindMessage   = "message"
	ItemKindToolCall  = "tool_call"
	ItemKindReasoning = "reasoning"
	ItemKindError     = "error"
)
