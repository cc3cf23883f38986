package promptctx

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/flowline-ai/flowline/internal/cache"
	"github.com/flowline-ai/flowline/pkg/contracts"
	"github.com/flowline-ai/flowline/pkg/models"
)

// DefaultCacheTTL is how long a loaded catalog stays fresh.
const DefaultCacheTTL = 5 * time.Minute

// cacheKeyDefault keys the catalog cache when no variant is in play.
const cacheKeyDefault = "default"

// Extractors derive the selection inputs from the state record. Nil fields
// fall back to the defaults documented on each.
type Extractors struct {
	// Topics defaults to request metadata "topics" plus the classified
	// intent category, when present.
	Topics func(s *models.State) []string

	// IsFirstMessage defaults to "at most one user message so far".
	IsFirstMessage func(s *models.State) bool

	// Tone defaults to the classified intent's tone metadata, then the
	// request metadata "tone".
	Tone func(s *models.State) string

	// Variant defaults to request metadata "variant".
	Variant func(s *models.State) string
}

// EngineConfig configures a dynamic context engine.
type EngineConfig struct {
	Policy     Policy
	Tones      map[string]string
	CacheTTL   time.Duration // DefaultCacheTTL when zero
	Extractors Extractors

	// Fallback, when set, serves selections out of a static catalog when
	// the loader fails. It shares the engine's tone map as the canonical
	// tone source.
	Fallback *Optimizer

	// OnVariantUsed observes every build that resolved a variant. It runs
	// supervised; a panic inside it is logged, never propagated.
	OnVariantUsed func(models.VariantEvent)
}

// Engine builds prompt context from externally loaded section catalogs.
//
// The cache key is the variant alone — topics and first-message position
// deliberately do not participate. The cache stores the source-of-truth
// catalog per variant; per-call filtering happens after the load.
type Engine struct {
	loader contracts.ContextLoader
	cache  *cache.Cache[[]models.Section]
	cfg    EngineConfig
}

// NewEngine builds a dynamic context engine over loader.
func NewEngine(loader contracts.ContextLoader, cfg EngineConfig) *Engine {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Engine{
		loader: loader,
		cache:  cache.New[[]models.Section](ttl),
		cfg:    cfg,
	}
}

// Build derives the selection inputs from the state, loads (or reuses) the
// catalog for the resolved variant, and runs the selection algorithm over
// it. A loader failure falls back to the static fallback optimizer when
// one is configured; otherwise it surfaces as an error for the calling
// stage to convert into a failure descriptor.
func (e *Engine) Build(ctx context.Context, s *models.State) (*models.Selection, error) {
	topics := e.topics(s)
	isFirst := e.isFirstMessage(s)
	tone := e.tone(s)
	variant := e.variant(s)

	if variant != "" {
		e.fireVariantUsed(models.VariantEvent{Variant: variant})
	}

	key := variant
	if key == "" {
		key = cacheKeyDefault
	}

	sections, err := e.cache.GetOrLoad(ctx, key, func(ctx context.Context) ([]models.Section, error) {
		return e.loader.Load(ctx, models.LoadRequest{
			Topics:         topics,
			Variant:        variant,
			IsFirstMessage: isFirst,
			UserID:         metadataString(s, "userId"),
			SessionID:      metadataString(s, "sessionId"),
			Metadata:       s.Request.Metadata,
		})
	})

	req := SelectionRequest{Topics: topics, IsFirstMessage: isFirst, Tone: tone}

	if err != nil {
		if e.cfg.Fallback != nil {
			log.Warn().Err(err).Str("variant", variant).Msg("context loader failed, serving fallback catalog")
			sel := e.cfg.Fallback.Build(req)
			sel.Variant = variant
			return sel, nil
		}
		return nil, fmt.Errorf("load context sections: %w", err)
	}

	opt := NewOptimizer(sections, e.cfg.Policy, e.cfg.Tones)
	sel := opt.Build(req)
	sel.Variant = variant
	return sel, nil
}

// Invalidate drops the cached catalog for one variant ("" for the default
// catalog).
func (e *Engine) Invalidate(variant string) {
	if variant == "" {
		variant = cacheKeyDefault
	}
	e.cache.Invalidate(variant)
}

// ClearCache drops every cached catalog.
func (e *Engine) ClearCache() {
	e.cache.Clear()
}

// CacheSize reports how many catalogs are cached.
func (e *Engine) CacheSize() int {
	return e.cache.Size()
}

func (e *Engine) topics(s *models.State) []string {
	if e.cfg.Extractors.Topics != nil {
		return e.cfg.Extractors.Topics(s)
	}
	var topics []string
	if v, ok := s.Metadata("topics"); ok {
		switch t := v.(type) {
		case []string:
			topics = append(topics, t...)
		case []any:
			for _, item := range t {
				if str, isStr := item.(string); isStr {
					topics = append(topics, str)
				}
			}
		}
	}
	if ir, ok := s.Intent(); ok && ir.Intent != models.IntentGeneral {
		topics = append(topics, ir.Intent)
	}
	return topics
}

func (e *Engine) isFirstMessage(s *models.State) bool {
	if e.cfg.Extractors.IsFirstMessage != nil {
		return e.cfg.Extractors.IsFirstMessage(s)
	}
	return s.Request.UserMessageCount() <= 1
}

func (e *Engine) tone(s *models.State) string {
	if e.cfg.Extractors.Tone != nil {
		return e.cfg.Extractors.Tone(s)
	}
	if ir, ok := s.Intent(); ok && ir.Metadata != nil && ir.Metadata.Tone != "" {
		return ir.Metadata.Tone
	}
	return metadataString(s, "tone")
}

func (e *Engine) variant(s *models.State) string {
	if e.cfg.Extractors.Variant != nil {
		return e.cfg.Extractors.Variant(s)
	}
	return metadataString(s, "variant")
}

func (e *Engine) fireVariantUsed(event models.VariantEvent) {
	if e.cfg.OnVariantUsed == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			log.Warn().Interface("panic", rec).Msg("variant callback panicked")
		}
	}()
	e.cfg.OnVariantUsed(event)
}

func metadataString(s *models.State, key string) string {
	if v, ok := s.Metadata(key); ok {
		if str, isStr := v.(string); isStr {
			return str
		}
	}
	return ""
}
