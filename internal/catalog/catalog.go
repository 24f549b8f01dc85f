package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"inference_gateway/internal/apierr"
	"inference_gateway/internal/models"
	"inference_gateway/internal/storage"
)

// Catalog is the read-only model lookup every request routes through
// before entering the provider pool: alias resolution plus a pricing
// snapshot frozen for the lifetime of the request.
type Catalog struct {
	repo *storage.ModelRepository
}

// New creates a catalog over the model repository.
func New(repo *storage.ModelRepository) *Catalog {
	return &Catalog{repo: repo}
}

// Resolve accepts a canonical name or alias and returns the canonical
// record. The pricing the caller snapshots from it is read exactly once
// per request so a mid-stream price change never splits a bill.
func (c *Catalog) Resolve(ctx context.Context, name string) (*models.Model, error) {
	if name == "" {
		return nil, apierr.New(apierr.KindValidation, "model is required")
	}

	model, err := c.repo.GetByName(ctx, name)
	if err != nil {
		if errors.Is(err, storage.ErrModelNotFound) {
			return nil, apierr.New(apierr.KindNotFound, "model not found")
		}
		return nil, apierr.Wrap(apierr.KindInternal, "model lookup failed", err)
	}
	return model, nil
}

// ListPublic returns the active, non-deleted catalog.
func (c *Catalog) ListPublic(ctx context.Context) ([]models.Model, error) {
	out, err := c.repo.ListPublic(ctx)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "model listing failed", err)
	}
	return out, nil
}

// PricingAt returns the pricing effective at a past instant, for replaying
// usage against historical prices.
func (c *Catalog) PricingAt(ctx context.Context, modelID uuid.UUID, at time.Time) (*models.PricingHistoryEntry, error) {
	entry, err := c.repo.PricingAt(ctx, modelID, at)
	if err != nil {
		if errors.Is(err, storage.ErrModelNotFound) {
			return nil, apierr.New(apierr.KindNotFound, "no pricing effective at that instant")
		}
		return nil, apierr.Wrap(apierr.KindInternal, "pricing lookup failed", err)
	}
	return entry, nil
}
