package models

import (
	"time"

	"github.com/google/uuid"
)

// Organization is the tenant root. Every API key transitively belongs to
// exactly one active organization.
type Organization struct {
	ID                 uuid.UUID  `db:"id"`
	Name               string     `db:"name"`
	IsActive           bool       `db:"is_active"`
	RateLimitPerMinute int        `db:"rate_limit_per_minute"`
	SpendLimit         int64      `db:"spend_limit"` // nano-units; 0 = no credits
	CreatedAt          time.Time  `db:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at"`
	DeletedAt          *time.Time `db:"deleted_at"`
}

// Workspace is the isolation unit inside an organization. It owns API keys
// and persisted inference artifacts. The parent organization is immutable.
type Workspace struct {
	ID             uuid.UUID  `db:"id"`
	OrganizationID uuid.UUID  `db:"organization_id"`
	Name           string     `db:"name"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
	DeletedAt      *time.Time `db:"deleted_at"`
}

// OrganizationBalance is the cached spend aggregate for an organization.
// Invariant: total_spent equals the sum of total_cost over the
// organization's usage log rows.
type OrganizationBalance struct {
	OrganizationID uuid.UUID  `db:"organization_id"`
	TotalSpent     int64      `db:"total_spent"` // nano-units
	LastUsageAt    *time.Time `db:"last_usage_at"`
	TotalRequests  int64      `db:"total_requests"`
	TotalTokens    int64      `db:"total_tokens"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

// Remaining returns the unspent portion of the given limit, floored at zero.
func (b *OrganizationBalance) Remaining(limit int64) int64 {
	if b == nil {
		return limit
	}
	if b.TotalSpent >= limit {
		return 0
	}
	return limit - b.TotalSpent
}
