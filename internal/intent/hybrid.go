package intent

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/flowline-ai/flowline/pkg/contracts"
	"github.com/flowline-ai/flowline/pkg/models"
)

// DefaultThreshold is the keyword confidence below which the resolver
// consults the LLM tier. The comparison is strict: a keyword result at or
// above the threshold bypasses the LLM.
const DefaultThreshold = 0.5

// ResolverConfig tunes the hybrid resolver.
type ResolverConfig struct {
	// Threshold overrides DefaultThreshold when > 0.
	Threshold float64

	// DisableLLM turns the LLM tier off even when one is configured.
	DisableLLM bool

	// OnFallback, when set, observes every keyword→LLM fallback. It runs
	// supervised; a panic inside it is logged, never propagated.
	OnFallback func(models.FallbackEvent)
}

// Resolver dispatches to the keyword tier first and to the LLM tier below
// the confidence threshold. The LLM tier failing is never fatal: the
// resolver degrades to the "general" intent with zero confidence.
type Resolver struct {
	keyword    *KeywordClassifier
	llm        contracts.IntentTier
	threshold  float64
	disabled   bool
	onFallback func(models.FallbackEvent)
}

// NewResolver builds a hybrid resolver. llm may be nil, in which case
// every classification is keyword-only.
func NewResolver(keyword *KeywordClassifier, llm contracts.IntentTier, cfg ResolverConfig) *Resolver {
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Resolver{
		keyword:    keyword,
		llm:        llm,
		threshold:  threshold,
		disabled:   cfg.DisableLLM,
		onFallback: cfg.OnFallback,
	}
}

// Classify resolves the intent of message.
//
// Metadata on the returned result is always looked up for the winning
// intent: when the LLM tier overrides the keyword guess, the keyword
// tier's metadata is discarded and the LLM intent's metadata attached.
func (r *Resolver) Classify(ctx context.Context, message string) *models.IntentResult {
	kw := r.keyword.Classify(message)
	if kw.Confidence >= r.threshold || r.disabled || r.llm == nil {
		return kw
	}

	llmRes, err := r.llm.Classify(ctx, message)

	event := models.FallbackEvent{
		Message:           message,
		KeywordIntent:     kw.Intent,
		KeywordConfidence: kw.Confidence,
	}
	if err == nil && llmRes != nil {
		event.LLMIntent = llmRes.Intent
		event.LLMConfidence = llmRes.Confidence
		event.LLMReasoning = llmRes.Reasoning
	}
	r.fireFallback(event)

	if err != nil || llmRes == nil {
		log.Warn().Err(err).Str("keyword_intent", kw.Intent).Msg("LLM intent tier failed, degrading to general")
		return &models.IntentResult{
			Intent:          models.IntentGeneral,
			Confidence:      0,
			MatchedKeywords: []string{},
			Method:          models.MethodKeyword,
		}
	}

	md := r.keyword.MetadataForIntent(llmRes.Intent)
	if md == nil {
		md = &models.IntentMetadata{}
	}
	md.ClassificationMethod = models.MethodLLM
	md.Reasoning = llmRes.Reasoning

	return &models.IntentResult{
		Intent:     llmRes.Intent,
		Confidence: clamp01(llmRes.Confidence),
		Method:     models.MethodLLM,
		Metadata:   md,
	}
}

// MetadataForIntent exposes the keyword tier's metadata table.
func (r *Resolver) MetadataForIntent(category string) *models.IntentMetadata {
	return r.keyword.MetadataForIntent(category)
}

func (r *Resolver) fireFallback(event models.FallbackEvent) {
	if r.onFallback == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			log.Warn().Interface("panic", rec).Msg("intent fallback callback panicked")
		}
	}()
	r.onFallback(event)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
