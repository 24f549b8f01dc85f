package billing

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"inference_gateway/internal/apierr"
	"inference_gateway/internal/models"
	"inference_gateway/internal/storage"
)

// usageStore is the slice of the usage repository the ledger needs.
type usageStore interface {
	Record(ctx context.Context, entry *models.UsageLogEntry) (bool, error)
	GetBalance(ctx context.Context, orgID uuid.UUID) (*models.OrganizationBalance, error)
	SumByAPIKey(ctx context.Context, apiKeyID uuid.UUID) (int64, error)
	RebuildBalance(ctx context.Context, orgID uuid.UUID) (*models.OrganizationBalance, error)
}

// orgStore resolves organizations for limit reads.
type orgStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Organization, error)
}

// Ledger is the usage & limit ledger: advisory pre-flight admission and
// idempotent post-flight debit.
type Ledger struct {
	usage usageStore
	orgs  orgStore
}

// NewLedger creates the ledger over the storage repositories.
func NewLedger(usage usageStore, orgs orgStore) *Ledger {
	return &Ledger{usage: usage, orgs: orgs}
}

// Check runs the pre-flight spend admission for a key. The check is
// advisory, not transactional with the debit: in-flight requests may push
// an organization briefly over its limit, and the next request is the one
// that gets rejected.
func (l *Ledger) Check(ctx context.Context, key *models.APIKey) error {
	org, err := l.orgs.GetByID(ctx, key.OrganizationID)
	if err != nil {
		if errors.Is(err, storage.ErrOrganizationNotFound) {
			return apierr.New(apierr.KindUnauthorized, "organization is not active")
		}
		return apierr.Wrap(apierr.KindInternal, "organization lookup failed", err)
	}

	balance, err := l.usage.GetBalance(ctx, org.ID)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "balance lookup failed", err)
	}
	if balance.TotalSpent >= org.SpendLimit {
		return apierr.New(apierr.KindInsufficientCredits, "organization spend limit reached")
	}

	if key.SpendLimit != nil {
		keySpend, err := l.usage.SumByAPIKey(ctx, key.ID)
		if err != nil {
			return apierr.Wrap(apierr.KindInternal, "key spend lookup failed", err)
		}
		if keySpend >= *key.SpendLimit {
			return apierr.New(apierr.KindAPIKeyLimitExceeded, "API key spend limit reached")
		}
	}

	return nil
}

// Record writes the post-flight debit: one immutable usage row plus the
// balance increment, in one transaction. A duplicate inference_id is
// silently dropped and the balance is not touched twice.
func (l *Ledger) Record(ctx context.Context, entry *models.UsageLogEntry) (bool, error) {
	inserted, err := l.usage.Record(ctx, entry)
	if err != nil {
		return false, apierr.Wrap(apierr.KindInternal, "usage recording failed", err)
	}
	return inserted, nil
}

// Balance returns the cached aggregate for an organization.
func (l *Ledger) Balance(ctx context.Context, orgID uuid.UUID) (*models.OrganizationBalance, error) {
	balance, err := l.usage.GetBalance(ctx, orgID)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "balance lookup failed", err)
	}
	return balance, nil
}

// RebuildBalance recomputes the cached balance from the log, restoring the
// balance = Σ log invariant.
func (l *Ledger) RebuildBalance(ctx context.Context, orgID uuid.UUID) (*models.OrganizationBalance, error) {
	balance, err := l.usage.RebuildBalance(ctx, orgID)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "balance rebuild failed", err)
	}
	return balance, nil
}
