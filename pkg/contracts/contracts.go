// Package contracts defines the capability interfaces the Flowline engine
// consumes. The engine owns scheduling, classification, and context
// assembly; everything that talks to the outside world — model providers,
// rate limiter state, section persistence — sits behind one of these
// interfaces.
//
// All capabilities take a context.Context and are expected to return
// promptly when it is cancelled.
package contracts

import (
	"context"

	"github.com/flowline-ai/flowline/pkg/models"
)

// ── Stage Handler ────────────────────────────────────────────

// Handler is one processing stage: a function from state to state.
//
// Returning a state whose Failure field is set terminates the plan.
// Returning a non-nil error is a runtime fault: the executor converts it
// to a 500 failure attributed to the stage.
type Handler interface {
	Handle(ctx context.Context, s *models.State) (*models.State, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, s *models.State) (*models.State, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, s *models.State) (*models.State, error) {
	return f(ctx, s)
}

// ── Rate Limiter ─────────────────────────────────────────────

// RateLimiter answers whether one more request is allowed for an
// identifier. State lives behind the implementation (in-memory, Redis, …).
type RateLimiter interface {
	Check(ctx context.Context, identifier string) (models.RateDecision, error)
}

// ── Context Loader ───────────────────────────────────────────

// ContextLoader fetches the context-section catalog from an external
// source (database, CMS, file). The dynamic context engine caches one
// catalog per variant and filters per call.
type ContextLoader interface {
	Load(ctx context.Context, req models.LoadRequest) ([]models.Section, error)
}

// ContextLoaderFunc adapts a plain function to the ContextLoader interface.
type ContextLoaderFunc func(ctx context.Context, req models.LoadRequest) ([]models.Section, error)

// Load calls f.
func (f ContextLoaderFunc) Load(ctx context.Context, req models.LoadRequest) ([]models.Section, error) {
	return f(ctx, req)
}

// ── Model Invoker ────────────────────────────────────────────

// StreamFunc receives one text chunk of a streaming generation. Returning
// an error aborts the stream.
type StreamFunc func(chunk string) error

// ModelInvoker generates text from a model provider. The engine specifies
// neither protocol nor provider; implementations shape it.
type ModelInvoker interface {
	// Generate produces a complete response.
	Generate(ctx context.Context, req models.GenerateRequest) (*models.GenerateResponse, error)

	// Stream produces the response incrementally, calling fn for each text
	// chunk, and returns the final accumulated response.
	Stream(ctx context.Context, req models.GenerateRequest, fn StreamFunc) (*models.GenerateResponse, error)
}

// ── LLM Intent Tier ──────────────────────────────────────────

// IntentTier is the LLM half of hybrid intent classification. The returned
// intent must be one of the configured categories or "general"; confidence
// must land in [0,1]. Implementations never surface transport faults as a
// classified intent — they return an error and let the resolver degrade.
type IntentTier interface {
	Classify(ctx context.Context, message string) (*models.LLMIntent, error)
}
