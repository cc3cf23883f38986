// Package server provides the public entry point for initializing the
// Flowline engine service.
//
// This package exists in pkg/ (not internal/) so that embedding
// applications can import it and compose the full server with their own
// plans, loaders, and model invokers.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/flowline-ai/flowline/internal/api"
	"github.com/flowline-ai/flowline/internal/api/handlers"
	"github.com/flowline-ai/flowline/internal/config"
	"github.com/flowline-ai/flowline/internal/intent"
	"github.com/flowline-ai/flowline/internal/invoker"
	"github.com/flowline-ai/flowline/internal/loaders"
	"github.com/flowline-ai/flowline/internal/pipeline"
	"github.com/flowline-ai/flowline/internal/promptctx"
	"github.com/flowline-ai/flowline/internal/ratelimit"
	"github.com/flowline-ai/flowline/internal/stages"
	"github.com/flowline-ai/flowline/internal/store"
	"github.com/flowline-ai/flowline/internal/telemetry"
	"github.com/flowline-ai/flowline/pkg/contracts"
	"github.com/flowline-ai/flowline/pkg/models"

	"github.com/rs/zerolog/log"
)

// Options overrides individual components of the default assembly. Zero
// values keep the defaults: an in-memory section catalog, a sliding-window
// rate limiter, the seeded intent patterns, and — when OPENAI_API_KEY is
// set — an OpenAI invoker backing both the LLM intent tier and the model
// stage.
type Options struct {
	Patterns       []models.IntentPattern
	IntentMetadata map[string]models.IntentMetadata
	Tones          map[string]string
	Sections       []models.Section
	Moderation     *stages.ModerationConfig
	Limiter        contracts.RateLimiter
	Loader         contracts.ContextLoader
	Invoker        contracts.ModelInvoker
	IntentTier     contracts.IntentTier
}

// Server holds the initialized Flowline engine service.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the section and intent-config store.
	Store store.Store

	// Executor and Plan run the default processing pipeline. Exposed so
	// embedders can execute requests without going through HTTP.
	Executor *pipeline.Executor
	Plan     pipeline.Plan

	// Engine is the dynamic context engine, exposed for cache control.
	Engine *promptctx.Engine

	// Config is the resolved configuration.
	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush
	// telemetry and close the context loader.
	ShutdownFunc func(context.Context) error
}

// New initializes all engine components from the environment and returns a
// ready Server. This is the primary entry point for main.go.
func New(ctx context.Context) (*Server, error) {
	return NewWithOptions(ctx, config.Load(), Options{})
}

// NewWithOptions initializes the engine with an explicit configuration and
// component overrides.
func NewWithOptions(ctx context.Context, cfg *config.Config, opts Options) (*Server, error) {
	shutdownTelemetry, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	sections := opts.Sections
	if sections == nil {
		sections = defaultSections()
	}

	dataStore := store.NewMemoryStore()
	seedDefaults(ctx, dataStore, opts, sections)
	log.Info().Msg("In-memory store initialized")

	patterns, _ := dataStore.GetIntentPatterns(ctx)
	metadata, _ := dataStore.GetIntentMetadata(ctx)
	keyword := intent.NewKeywordClassifier(patterns, metadata)

	modelInvoker := opts.Invoker
	if modelInvoker == nil && cfg.OpenAI.APIKey != "" {
		modelInvoker = invoker.NewOpenAIInvoker(cfg.OpenAI.APIKey, cfg.OpenAI.Model)
		log.Info().Msg("OpenAI invoker initialized")
	}

	llmTier := opts.IntentTier
	if llmTier == nil && modelInvoker != nil {
		llmTier = intent.NewStructuredTier(modelInvoker, keyword.Categories(), cfg.OpenAI.Model)
	}

	resolver := intent.NewResolver(keyword, llmTier, intent.ResolverConfig{
		Threshold: cfg.Engine.IntentThreshold,
		OnFallback: func(ev models.FallbackEvent) {
			log.Debug().
				Str("intent", ev.KeywordIntent).
				Float64("confidence", ev.KeywordConfidence).
				Msg("Keyword confidence below threshold, consulting LLM tier")
		},
	})
	log.Info().Msg("Intent resolver initialized")

	tones := opts.Tones
	if tones == nil {
		tones = defaultTones()
	}

	loader, closeLoader, err := buildLoader(ctx, cfg, dataStore, opts)
	if err != nil {
		return nil, err
	}

	engine := promptctx.NewEngine(loader, promptctx.EngineConfig{
		Tones:    tones,
		CacheTTL: cfg.Engine.ContextCacheTTL,
		Fallback: promptctx.NewOptimizer(sections, promptctx.Policy{}, tones),
		OnVariantUsed: func(ev models.VariantEvent) {
			log.Debug().Str("variant", ev.Variant).Msg("Context variant resolved")
		},
	})
	log.Info().Msg("Context engine initialized")

	executor := pipeline.New(pipeline.Config{
		IncludeErrorDetails: cfg.Engine.IncludeErrorDetails,
		Callbacks: pipeline.Callbacks{
			OnError: func(view models.ErrorView) {
				log.Warn().
					Str("step", view.Step).
					Int("status", view.StatusCode).
					Msg("Plan step failed")
			},
		},
	})

	plan := buildPlan(cfg, resolver, engine, modelInvoker, opts)
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("default plan: %w", err)
	}

	h := &handlers.Handlers{
		Executor: executor,
		Plan:     plan,
		Resolver: resolver,
		Engine:   engine,
		Store:    dataStore,
	}
	router := api.NewRouter(cfg, h)

	shutdown := func(ctx context.Context) error {
		closeLoader()
		return shutdownTelemetry(ctx)
	}

	return &Server{
		Handler:      router,
		Store:        dataStore,
		Executor:     executor,
		Plan:         plan,
		Engine:       engine,
		Config:       cfg,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}

// buildLoader picks the context loader: explicit override, then PostgreSQL
// when configured, then the in-memory catalog store.
func buildLoader(ctx context.Context, cfg *config.Config, s store.Store, opts Options) (contracts.ContextLoader, func(), error) {
	if opts.Loader != nil {
		return opts.Loader, func() {}, nil
	}
	if cfg.Postgres.URL != "" {
		pg, err := loaders.NewPostgresLoader(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres loader: %w", err)
		}
		log.Info().Msg("PostgreSQL context loader initialized")
		return pg, pg.Close, nil
	}
	return loaders.NewCatalogLoader(s), func() {}, nil
}

// buildPlan assembles the default plan: moderation, rate limiting, intent
// classification, context assembly, then model invocation when an invoker
// is available.
func buildPlan(cfg *config.Config, resolver *intent.Resolver, engine *promptctx.Engine, modelInvoker contracts.ModelInvoker, opts Options) pipeline.Plan {
	moderation := stages.ModerationConfig{}
	if opts.Moderation != nil {
		moderation = *opts.Moderation
	}

	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimit.Limit, cfg.RateLimit.Window)
	}

	plan := pipeline.Plan{
		pipeline.Step(stages.Moderation(moderation)),
		pipeline.Step(stages.RateLimit(limiter)),
		pipeline.Step(stages.Intent(resolver)),
		pipeline.Step(stages.PromptContext(engine)),
	}
	if modelInvoker != nil {
		plan = append(plan, pipeline.Step(stages.Model(modelInvoker, stages.ModelOptions{
			Model: cfg.OpenAI.Model,
		})))
	}
	return plan
}

// seedDefaults installs the caller's (or the built-in) intent patterns,
// metadata, and section catalog into a fresh store.
func seedDefaults(ctx context.Context, s store.Store, opts Options, sections []models.Section) {
	patterns := opts.Patterns
	if patterns == nil {
		patterns = defaultPatterns()
	}
	if err := s.SetIntentPatterns(ctx, patterns); err != nil {
		log.Warn().Err(err).Msg("Failed to seed intent patterns")
	}

	metadata := opts.IntentMetadata
	if metadata == nil {
		metadata = defaultIntentMetadata()
	}
	if err := s.SetIntentMetadata(ctx, metadata); err != nil {
		log.Warn().Err(err).Msg("Failed to seed intent metadata")
	}

	for _, section := range sections {
		if err := s.UpsertSection(ctx, store.DefaultVariant, section); err != nil {
			log.Warn().Err(err).Str("section", section.ID).Msg("Failed to seed section")
		}
	}
}

func defaultPatterns() []models.IntentPattern {
	return []models.IntentPattern{
		{Category: "greeting", Keywords: []string{"hello", "hi", "hey", "good morning", "good afternoon"}},
		{Category: "help", Keywords: []string{"help", "how do i", "how to", "support", "stuck"}},
		{Category: "pricing", Keywords: []string{"price", "pricing", "cost", "plan", "subscription"}},
		{Category: "account", Keywords: []string{"account", "login", "password", "sign in", "profile"}},
	}
}

func defaultIntentMetadata() map[string]models.IntentMetadata {
	return map[string]models.IntentMetadata{
		"greeting": {Tone: "friendly"},
		"help":     {Tone: "supportive", DeepLink: "/docs"},
		"pricing":  {Tone: "concise", DeepLink: "/pricing"},
		"account":  {Tone: "concise", DeepLink: "/account", RequiresAuth: true},
	}
}

func defaultTones() map[string]string {
	return map[string]string{
		"friendly":   "Respond warmly and conversationally.",
		"supportive": "Be patient and walk through steps one at a time.",
		"concise":    "Keep the answer short and to the point.",
	}
}

func defaultSections() []models.Section {
	return []models.Section{
		{
			ID:            "core",
			Name:          "Core instructions",
			Content:       "You are a helpful assistant for this product.",
			AlwaysInclude: true,
			Priority:      100,
		},
		{
			ID:       "help",
			Name:     "Help guidance",
			Content:  "Point users at the documentation when walking through features.",
			Topics:   []string{"help"},
			Priority: 50,
		},
		{
			ID:       "pricing",
			Name:     "Pricing guidance",
			Content:  "Describe plans factually; never invent discounts.",
			Topics:   []string{"pricing"},
			Priority: 50,
		},
	}
}
