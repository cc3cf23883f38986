// Package store provides the catalog storage interface and its in-memory
// implementation. The catalog holds the context-section sets (per variant)
// and the intent pattern/metadata configuration the engine is assembled
// from. Handler code depends on the interface, making it easy to swap in
// a database-backed implementation.
package store

import (
	"context"

	"github.com/flowline-ai/flowline/pkg/models"
)

// DefaultVariant names the section catalog used when no variant is
// requested.
const DefaultVariant = "default"

// Store is the catalog storage interface.
type Store interface {
	SectionStore
	IntentConfigStore

	// Ping checks if the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// SectionStore manages context-section catalogs keyed by variant.
type SectionStore interface {
	ListSections(ctx context.Context, variant string) ([]models.Section, error)
	UpsertSection(ctx context.Context, variant string, section models.Section) error
	DeleteSection(ctx context.Context, variant, id string) error
	ListVariants(ctx context.Context) ([]string, error)
}

// IntentConfigStore manages the intent classification configuration.
type IntentConfigStore interface {
	GetIntentPatterns(ctx context.Context) ([]models.IntentPattern, error)
	SetIntentPatterns(ctx context.Context, patterns []models.IntentPattern) error
	GetIntentMetadata(ctx context.Context) (map[string]models.IntentMetadata, error)
	SetIntentMetadata(ctx context.Context, metadata map[string]models.IntentMetadata) error
}
