package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Provider kinds. Internal streaming backends run inside the TEE and
// support attestation; external providers do not.
const (
	ProviderKindInternalStreaming = "internal-streaming"
	ProviderKindExternal          = "external"
)

// Bounds that keep nano-unit cost arithmetic inside int64.
// input/output token counts are capped at 2^20 and per-token costs at 2^30,
// so a single product never exceeds 2^50.
const (
	MaxBillableTokens = 1 << 20
	MaxCostPerToken   = 1 << 30
)

//
// Model (models table)
//

// Model is a catalog entry. Pricing columns hold the currently effective
// price; historical prices live in model_pricing_history.
type Model struct {
	ID uuid.UUID `db:"id"`

	ModelName string         `db:"model_name"` // canonical name
	Aliases   pq.StringArray `db:"aliases"`
	OwnedBy   string         `db:"owned_by"`

	InputCostPerToken  int64  `db:"input_cost_per_token"`  // nano-units
	OutputCostPerToken int64  `db:"output_cost_per_token"` // nano-units
	CostPerImage       *int64 `db:"cost_per_image"`        // nano-units, NULL for text-only models

	ContextLength int    `db:"context_length"`
	Verifiable    bool   `db:"verifiable"` // attestation supported
	ProviderKind  string `db:"provider_kind"`

	IsActive  bool       `db:"is_active"`
	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at"`
}

// HasAlias checks whether name matches one of the model's aliases.
func (m *Model) HasAlias(name string) bool {
	for _, a := range m.Aliases {
		if a == name {
			return true
		}
	}
	return false
}

// Pricing is the price snapshot frozen for the lifetime of one request.
type Pricing struct {
	ModelID            uuid.UUID
	InputCostPerToken  int64
	OutputCostPerToken int64
	CostPerImage       *int64
}

// PricingSnapshot freezes the model's currently effective pricing.
func (m *Model) PricingSnapshot() Pricing {
	return Pricing{
		ModelID:            m.ID,
		InputCostPerToken:  m.InputCostPerToken,
		OutputCostPerToken: m.OutputCostPerToken,
		CostPerImage:       m.CostPerImage,
	}
}

// PricingHistoryEntry is one row of model_pricing_history, closed by
// effective_until (NULL = still effective).
type PricingHistoryEntry struct {
	ID                 uuid.UUID  `db:"id"`
	ModelID            uuid.UUID  `db:"model_id"`
	InputCostPerToken  int64      `db:"input_cost_per_token"`
	OutputCostPerToken int64      `db:"output_cost_per_token"`
	CostPerImage       *int64     `db:"cost_per_image"`
	EffectiveFrom      time.Time  `db:"effective_from"`
	EffectiveUntil     *time.Time `db:"effective_until"`
}

// CostBreakdown is the nano-unit cost of one inference.
type CostBreakdown struct {
	InputCost  int64
	OutputCost int64
	TotalCost  int64
}

// Cost computes token costs under this pricing snapshot. Token counts
// outside the billable bound are clamped so the products stay inside int64.
func (p Pricing) Cost(inputTokens, outputTokens int) CostBreakdown {
	in := clampTokens(inputTokens)
	out := clampTokens(outputTokens)

	inputCost := int64(in) * p.InputCostPerToken
	outputCost := int64(out) * p.OutputCostPerToken
	return CostBreakdown{
		InputCost:  inputCost,
		OutputCost: outputCost,
		TotalCost:  inputCost + outputCost,
	}
}

// ImageCost computes the cost of n generated images, or 0 when the model
// has no per-image price.
func (p Pricing) ImageCost(n int) int64 {
	if p.CostPerImage == nil || n <= 0 {
		return 0
	}
	return int64(n) * *p.CostPerImage
}

func clampTokens(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxBillableTokens {
		return MaxBillableTokens
	}
	return n
}
