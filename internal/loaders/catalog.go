// Package loaders provides stock ContextLoader implementations: one over
// the in-process catalog store, one over PostgreSQL.
package loaders

import (
	"context"

	"github.com/flowline-ai/flowline/internal/store"
	"github.com/flowline-ai/flowline/pkg/models"
)

// CatalogLoader serves sections out of a catalog store.
type CatalogLoader struct {
	store store.SectionStore
}

// NewCatalogLoader creates a loader over s.
func NewCatalogLoader(s store.SectionStore) *CatalogLoader {
	return &CatalogLoader{store: s}
}

// Load implements contracts.ContextLoader. The variant selects the
// catalog; topic filtering is the dynamic engine's job, not the loader's.
func (l *CatalogLoader) Load(ctx context.Context, req models.LoadRequest) ([]models.Section, error) {
	return l.store.ListSections(ctx, req.Variant)
}
