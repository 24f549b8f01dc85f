package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPricingCost(t *testing.T) {
	p := Pricing{InputCostPerToken: 1000, OutputCostPerToken: 3000}

	cost := p.Cost(100, 50)
	assert.Equal(t, int64(100_000), cost.InputCost)
	assert.Equal(t, int64(150_000), cost.OutputCost)
	assert.Equal(t, int64(250_000), cost.TotalCost)
}

func TestPricingCostClampsTokenCounts(t *testing.T) {
	p := Pricing{InputCostPerToken: 1, OutputCostPerToken: 1}

	cost := p.Cost(-5, MaxBillableTokens*2)
	assert.Equal(t, int64(0), cost.InputCost)
	assert.Equal(t, int64(MaxBillableTokens), cost.OutputCost)
}

func TestPricingCostStaysInsideInt64(t *testing.T) {
	// Worst case under the documented bounds: 2^20 tokens at 2^30
	// nano-units per token on both sides.
	p := Pricing{InputCostPerToken: MaxCostPerToken, OutputCostPerToken: MaxCostPerToken}

	cost := p.Cost(MaxBillableTokens, MaxBillableTokens)
	assert.Greater(t, cost.TotalCost, int64(0), "no overflow at the documented bounds")
}

func TestImageCost(t *testing.T) {
	perImage := int64(5_000_000)
	p := Pricing{CostPerImage: &perImage}

	assert.Equal(t, int64(15_000_000), p.ImageCost(3))
	assert.Equal(t, int64(0), p.ImageCost(0))
	assert.Equal(t, int64(0), Pricing{}.ImageCost(3))
}

func TestIsTerminalStatus(t *testing.T) {
	assert.False(t, IsTerminalStatus(ResponseStatusInProgress))
	assert.True(t, IsTerminalStatus(ResponseStatusCompleted))
	assert.True(t, IsTerminalStatus(ResponseStatusFailed))
	assert.True(t, IsTerminalStatus(ResponseStatusCancelled))
}

func TestAPIKeyValidity(t *testing.T) {
	key := &APIKey{IsActive: true}
	now := key.CreatedAt

	assert.True(t, key.IsValid(now))

	deleted := now
	key.DeletedAt = &deleted
	assert.False(t, key.IsValid(now))
}
