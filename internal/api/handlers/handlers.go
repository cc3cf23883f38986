// Package handlers implements the HTTP handlers for the Flowline engine
// service: running the assembled plan, previewing intent classification
// and prompt context, and managing the section catalog and its cache.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/flowline-ai/flowline/internal/intent"
	"github.com/flowline-ai/flowline/internal/pipeline"
	"github.com/flowline-ai/flowline/internal/promptctx"
	"github.com/flowline-ai/flowline/internal/store"
	"github.com/flowline-ai/flowline/pkg/models"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Executor *pipeline.Executor
	Plan     pipeline.Plan
	Resolver *intent.Resolver
	Engine   *promptctx.Engine
	Store    store.Store
}

// New creates a Handlers instance.
func New(exec *pipeline.Executor, plan pipeline.Plan, res *intent.Resolver, eng *promptctx.Engine, st store.Store) *Handlers {
	return &Handlers{Executor: exec, Plan: plan, Resolver: res, Engine: eng, Store: st}
}

// ── Plan Execution ───────────────────────────────────────────

type processResponse struct {
	OK         bool            `json:"ok"`
	RunID      string          `json:"run_id"`
	DurationMs int64           `json:"duration_ms"`
	Failure    *models.Failure `json:"failure,omitempty"`
	Extensions map[string]any  `json:"extensions,omitempty"`
}

// ProcessRequest runs the assembled plan over the posted request.
func (h *Handlers) ProcessRequest(w http.ResponseWriter, r *http.Request) {
	var req models.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		respondError(w, http.StatusBadRequest, "messages must not be empty")
		return
	}

	result, err := h.Executor.Execute(r.Context(), models.NewState(req), h.Plan)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := processResponse{
		OK:         result.OK,
		RunID:      result.RunID,
		DurationMs: result.Duration.Milliseconds(),
		Failure:    result.Failure,
		Extensions: result.State.Extensions,
	}
	status := http.StatusOK
	if result.Failure != nil {
		status = result.Failure.StatusCode
		if result.Failure.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(result.Failure.RetryAfter))
		}
	}
	respondJSON(w, status, resp)
}

// ── Intent ───────────────────────────────────────────────────

type classifyRequest struct {
	Message string `json:"message"`
}

// ClassifyIntent runs hybrid classification over a single message.
func (h *Handlers) ClassifyIntent(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Message == "" {
		respondError(w, http.StatusBadRequest, "message must not be empty")
		return
	}
	respondJSON(w, http.StatusOK, h.Resolver.Classify(r.Context(), req.Message))
}

// ── Prompt Context ───────────────────────────────────────────

// PreviewContext builds the prompt context a request would receive,
// without running the rest of the plan.
func (h *Handlers) PreviewContext(w http.ResponseWriter, r *http.Request) {
	var req models.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	sel, err := h.Engine.Build(r.Context(), models.NewState(req))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sel)
}

// ── Section Catalog ──────────────────────────────────────────

// ListSections returns one variant's catalog (?variant=, default "default").
func (h *Handlers) ListSections(w http.ResponseWriter, r *http.Request) {
	sections, err := h.Store.ListSections(r.Context(), r.URL.Query().Get("variant"))
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sections)
}

// UpsertSection inserts or replaces one section in a variant's catalog.
func (h *Handlers) UpsertSection(w http.ResponseWriter, r *http.Request) {
	var section models.Section
	if err := json.NewDecoder(r.Body).Decode(&section); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	section.ID = chi.URLParam(r, "sectionID")

	variant := r.URL.Query().Get("variant")
	if err := h.Store.UpsertSection(r.Context(), variant, section); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	// The cached catalog for this variant is stale now.
	h.Engine.Invalidate(variant)
	respondJSON(w, http.StatusOK, section)
}

// DeleteSection removes one section from a variant's catalog.
func (h *Handlers) DeleteSection(w http.ResponseWriter, r *http.Request) {
	variant := r.URL.Query().Get("variant")
	if err := h.Store.DeleteSection(r.Context(), variant, chi.URLParam(r, "sectionID")); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	h.Engine.Invalidate(variant)
	w.WriteHeader(http.StatusNoContent)
}

// ListVariants lists the catalog variants known to the store.
func (h *Handlers) ListVariants(w http.ResponseWriter, r *http.Request) {
	variants, err := h.Store.ListVariants(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, variants)
}

// ── Cache ────────────────────────────────────────────────────

type invalidateRequest struct {
	Variant string `json:"variant,omitempty"`
	All     bool   `json:"all,omitempty"`
}

// InvalidateCache drops one cached catalog, or all of them.
func (h *Handlers) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.All {
		h.Engine.ClearCache()
	} else {
		h.Engine.Invalidate(req.Variant)
	}
	respondJSON(w, http.StatusOK, map[string]int{"cached_catalogs": h.Engine.CacheSize()})
}

// ── Helpers ──────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
