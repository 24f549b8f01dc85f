package models

import (
	"time"

	"github.com/google/uuid"
)

// Inference kind tags on usage log rows.
const (
	InferenceKindChat       = "chat"
	InferenceKindCompletion = "completion"
	InferenceKindResponse   = "response"
	InferenceKindImage      = "image"
)

// UsageLogEntry is one immutable billing row. At most one row exists per
// (organization_id, inference_id) for non-null inference ids; rows are never
// updated once written.
type UsageLogEntry struct {
	ID             uuid.UUID  `db:"id"`
	OrganizationID uuid.UUID  `db:"organization_id"`
	WorkspaceID    uuid.UUID  `db:"workspace_id"`
	APIKeyID       uuid.UUID  `db:"api_key_id"`
	ResponseID     *uuid.UUID `db:"response_id"`
	ModelID        uuid.UUID  `db:"model_id"`
	ModelName      string     `db:"model_name"` // denormalized canonical name

	InputTokens  int   `db:"input_tokens"`
	OutputTokens int   `db:"output_tokens"`
	TotalTokens  int   `db:"total_tokens"`
	InputCost    int64 `db:"input_cost"`  // nano-units
	OutputCost   int64 `db:"output_cost"` // nano-units
	TotalCost    int64 `db:"total_cost"`  // nano-units

	InferenceKind     string  `db:"inference_kind"`
	InferenceID       *string `db:"inference_id"`        // idempotency handle
	ProviderRequestID *string `db:"provider_request_id"` // raw upstream id
	StopReason        string  `db:"stop_reason"`

	TTFTMs          *int64   `db:"ttft_ms"`
	AvgInterTokenMs *float64 `db:"avg_inter_token_ms"`

	CreatedAt time.Time `db:"created_at"`
}
