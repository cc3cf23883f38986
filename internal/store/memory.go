package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/flowline-ai/flowline/pkg/models"
)

// MemoryStore is a thread-safe in-memory Store. Section order within a
// variant is the order of first insertion — the optimizer's "configured
// order".
type MemoryStore struct {
	mu       sync.RWMutex
	sections map[string][]models.Section // variant → ordered catalog
	patterns []models.IntentPattern
	metadata map[string]models.IntentMetadata
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sections: make(map[string][]models.Section),
		metadata: make(map[string]models.IntentMetadata),
	}
}

// ── SectionStore ─────────────────────────────────────────────

// ListSections returns the catalog for a variant in configured order.
func (s *MemoryStore) ListSections(_ context.Context, variant string) ([]models.Section, error) {
	if variant == "" {
		variant = DefaultVariant
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	catalog, ok := s.sections[variant]
	if !ok {
		return nil, fmt.Errorf("variant %s not found", variant)
	}
	out := make([]models.Section, len(catalog))
	copy(out, catalog)
	return out, nil
}

// UpsertSection inserts or replaces a section; replacement keeps the
// section's position.
func (s *MemoryStore) UpsertSection(_ context.Context, variant string, section models.Section) error {
	if section.ID == "" {
		return fmt.Errorf("section has no id")
	}
	if variant == "" {
		variant = DefaultVariant
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	catalog := s.sections[variant]
	for i := range catalog {
		if catalog[i].ID == section.ID {
			catalog[i] = section
			return nil
		}
	}
	s.sections[variant] = append(catalog, section)
	return nil
}

// DeleteSection removes a section from a variant's catalog.
func (s *MemoryStore) DeleteSection(_ context.Context, variant, id string) error {
	if variant == "" {
		variant = DefaultVariant
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	catalog := s.sections[variant]
	for i := range catalog {
		if catalog[i].ID == id {
			s.sections[variant] = append(catalog[:i], catalog[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("section %s not found in variant %s", id, variant)
}

// ListVariants lists the variants that have at least one section.
func (s *MemoryStore) ListVariants(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.sections))
	for v := range s.sections {
		out = append(out, v)
	}
	return out, nil
}

// ── IntentConfigStore ────────────────────────────────────────

func (s *MemoryStore) GetIntentPatterns(_ context.Context) ([]models.IntentPattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.IntentPattern, len(s.patterns))
	copy(out, s.patterns)
	return out, nil
}

func (s *MemoryStore) SetIntentPatterns(_ context.Context, patterns []models.IntentPattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.patterns = make([]models.IntentPattern, len(patterns))
	copy(s.patterns, patterns)
	return nil
}

func (s *MemoryStore) GetIntentMetadata(_ context.Context) (map[string]models.IntentMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]models.IntentMetadata, len(s.metadata))
	for k, v := range s.metadata {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) SetIntentMetadata(_ context.Context, metadata map[string]models.IntentMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metadata = make(map[string]models.IntentMetadata, len(metadata))
	for k, v := range metadata {
		s.metadata[k] = v
	}
	return nil
}

// ── Lifecycle ────────────────────────────────────────────────

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
