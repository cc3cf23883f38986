package intent_test

import (
	"context"
	"errors"
	"testing"

	"github.com/flowline-ai/flowline/internal/intent"
	"github.com/flowline-ai/flowline/pkg/models"
)

// mockTier is a test IntentTier with a canned reply.
type mockTier struct {
	result *models.LLMIntent
	err    error
	calls  int
}

func (m *mockTier) Classify(ctx context.Context, message string) (*models.LLMIntent, error) {
	m.calls++
	return m.result, m.err
}

func TestResolver_HighConfidenceBypassesLLM(t *testing.T) {
	tier := &mockTier{result: &models.LLMIntent{Intent: "help", Confidence: 0.9}}
	kw := intent.NewKeywordClassifier(testPatterns(), testMetadata())
	r := intent.NewResolver(kw, tier, intent.ResolverConfig{Threshold: 0.5})

	res := r.Classify(context.Background(), "Hello there")
	if res.Intent != "greeting" {
		t.Errorf("Intent = %q, want %q", res.Intent, "greeting")
	}
	if res.Method != models.MethodKeyword {
		t.Errorf("Method = %q, want %q", res.Method, models.MethodKeyword)
	}
	if tier.calls != 0 {
		t.Errorf("LLM tier called %d times, want 0", tier.calls)
	}
}

func TestResolver_AtThresholdBypassesLLM(t *testing.T) {
	tier := &mockTier{result: &models.LLMIntent{Intent: "help", Confidence: 0.9}}
	kw := intent.NewKeywordClassifier(testPatterns(), nil)
	// "Hello there" yields keyword confidence 1.0; threshold 1.0 means
	// at-threshold, which must still bypass (comparison is >=).
	r := intent.NewResolver(kw, tier, intent.ResolverConfig{Threshold: 1.0})

	res := r.Classify(context.Background(), "Hello there")
	if res.Method != models.MethodKeyword {
		t.Errorf("Method = %q, want %q", res.Method, models.MethodKeyword)
	}
	if tier.calls != 0 {
		t.Errorf("LLM tier called %d times, want 0", tier.calls)
	}
}

func TestResolver_LowConfidenceConsultsLLM(t *testing.T) {
	tier := &mockTier{result: &models.LLMIntent{Intent: "help", Confidence: 0.85, Reasoning: "asks for assistance"}}
	kw := intent.NewKeywordClassifier(testPatterns(), testMetadata())
	r := intent.NewResolver(kw, tier, intent.ResolverConfig{Threshold: 0.5})

	// Tie between greeting and pricing: keyword confidence 0.
	res := r.Classify(context.Background(), "hello what is the price")
	if tier.calls != 1 {
		t.Fatalf("LLM tier called %d times, want 1", tier.calls)
	}
	if res.Intent != "help" {
		t.Errorf("Intent = %q, want %q", res.Intent, "help")
	}
	if res.Confidence != 0.85 {
		t.Errorf("Confidence = %v, want 0.85", res.Confidence)
	}
	if res.Method != models.MethodLLM {
		t.Errorf("Method = %q, want %q", res.Method, models.MethodLLM)
	}
}

func TestResolver_MetadataFollowsLLMIntent(t *testing.T) {
	// The keyword tier guesses greeting; the LLM overrides to help. The
	// attached metadata must be help's, not greeting's.
	tier := &mockTier{result: &models.LLMIntent{Intent: "help", Confidence: 0.8, Reasoning: "needs support"}}
	kw := intent.NewKeywordClassifier(testPatterns(), testMetadata())
	r := intent.NewResolver(kw, tier, intent.ResolverConfig{Threshold: 0.5})

	res := r.Classify(context.Background(), "hello what is the price")
	if res.Metadata == nil {
		t.Fatal("Metadata is nil")
	}
	if res.Metadata.Tone != "supportive" {
		t.Errorf("Metadata.Tone = %q, want %q (help's tone, not greeting's)", res.Metadata.Tone, "supportive")
	}
	if res.Metadata.ClassificationMethod != models.MethodLLM {
		t.Errorf("ClassificationMethod = %q, want %q", res.Metadata.ClassificationMethod, models.MethodLLM)
	}
	if res.Metadata.Reasoning != "needs support" {
		t.Errorf("Reasoning = %q, want %q", res.Metadata.Reasoning, "needs support")
	}
}

func TestResolver_LLMIntentWithoutMetadata(t *testing.T) {
	tier := &mockTier{result: &models.LLMIntent{Intent: "pricing", Confidence: 0.7}}
	kw := intent.NewKeywordClassifier(testPatterns(), testMetadata())
	r := intent.NewResolver(kw, tier, intent.ResolverConfig{Threshold: 0.5})

	res := r.Classify(context.Background(), "hello what is the price")
	if res.Metadata == nil {
		t.Fatal("Metadata is nil; want an empty descriptor carrying the method")
	}
	if res.Metadata.ClassificationMethod != models.MethodLLM {
		t.Errorf("ClassificationMethod = %q, want %q", res.Metadata.ClassificationMethod, models.MethodLLM)
	}
}

func TestResolver_LLMFailureDegradesToGeneral(t *testing.T) {
	tier := &mockTier{err: errors.New("provider timeout")}
	kw := intent.NewKeywordClassifier(testPatterns(), testMetadata())
	r := intent.NewResolver(kw, tier, intent.ResolverConfig{Threshold: 0.5})

	res := r.Classify(context.Background(), "hello what is the price")
	if res.Intent != models.IntentGeneral {
		t.Errorf("Intent = %q, want %q", res.Intent, models.IntentGeneral)
	}
	if res.Confidence != 0 {
		t.Errorf("Confidence = %v, want 0", res.Confidence)
	}
	if res.Method != models.MethodKeyword {
		t.Errorf("Method = %q, want %q", res.Method, models.MethodKeyword)
	}
}

func TestResolver_NilTierIsKeywordOnly(t *testing.T) {
	kw := intent.NewKeywordClassifier(testPatterns(), nil)
	r := intent.NewResolver(kw, nil, intent.ResolverConfig{Threshold: 0.5})

	res := r.Classify(context.Background(), "hello what is the price")
	if res.Method != models.MethodKeyword {
		t.Errorf("Method = %q, want %q", res.Method, models.MethodKeyword)
	}
}

func TestResolver_DisableLLM(t *testing.T) {
	tier := &mockTier{result: &models.LLMIntent{Intent: "help", Confidence: 0.9}}
	kw := intent.NewKeywordClassifier(testPatterns(), nil)
	r := intent.NewResolver(kw, tier, intent.ResolverConfig{Threshold: 0.5, DisableLLM: true})

	r.Classify(context.Background(), "hello what is the price")
	if tier.calls != 0 {
		t.Errorf("LLM tier called %d times with DisableLLM, want 0", tier.calls)
	}
}

func TestResolver_FallbackEventObserved(t *testing.T) {
	tier := &mockTier{result: &models.LLMIntent{Intent: "help", Confidence: 0.8, Reasoning: "because"}}
	kw := intent.NewKeywordClassifier(testPatterns(), nil)

	var events []models.FallbackEvent
	r := intent.NewResolver(kw, tier, intent.ResolverConfig{
		Threshold:  0.5,
		OnFallback: func(ev models.FallbackEvent) { events = append(events, ev) },
	})

	r.Classify(context.Background(), "hello what is the price")
	if len(events) != 1 {
		t.Fatalf("fallback observed %d times, want 1", len(events))
	}
	ev := events[0]
	if ev.KeywordIntent != "greeting" {
		t.Errorf("KeywordIntent = %q, want %q", ev.KeywordIntent, "greeting")
	}
	if ev.KeywordConfidence != 0 {
		t.Errorf("KeywordConfidence = %v, want 0", ev.KeywordConfidence)
	}
	if ev.LLMIntent != "help" {
		t.Errorf("LLMIntent = %q, want %q", ev.LLMIntent, "help")
	}
}

func TestResolver_PanickingObserverNeverPropagates(t *testing.T) {
	tier := &mockTier{result: &models.LLMIntent{Intent: "help", Confidence: 0.8}}
	kw := intent.NewKeywordClassifier(testPatterns(), nil)
	r := intent.NewResolver(kw, tier, intent.ResolverConfig{
		Threshold:  0.5,
		OnFallback: func(ev models.FallbackEvent) { panic("observer bug") },
	})

	res := r.Classify(context.Background(), "hello what is the price")
	if res.Intent != "help" {
		t.Errorf("Intent = %q, want %q after observer panic", res.Intent, "help")
	}
}

func TestResolver_ConfidenceClamped(t *testing.T) {
	tier := &mockTier{result: &models.LLMIntent{Intent: "help", Confidence: 3.5}}
	kw := intent.NewKeywordClassifier(testPatterns(), nil)
	r := intent.NewResolver(kw, tier, intent.ResolverConfig{Threshold: 0.5})

	res := r.Classify(context.Background(), "hello what is the price")
	if res.Confidence != 1.0 {
		t.Errorf("Confidence = %v, want clamped to 1.0", res.Confidence)
	}
}
