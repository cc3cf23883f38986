package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/flowline-ai/flowline/internal/api/handlers"
	"github.com/flowline-ai/flowline/internal/intent"
	"github.com/flowline-ai/flowline/internal/loaders"
	"github.com/flowline-ai/flowline/internal/pipeline"
	"github.com/flowline-ai/flowline/internal/promptctx"
	"github.com/flowline-ai/flowline/internal/stages"
	"github.com/flowline-ai/flowline/internal/store"
	"github.com/flowline-ai/flowline/pkg/models"
)

// deniedLimiter is a test RateLimiter that always rejects.
type deniedLimiter struct{}

func (deniedLimiter) Check(ctx context.Context, identifier string) (models.RateDecision, error) {
	return models.RateDecision{Allowed: false, RetryAfter: 7}, nil
}

func newTestHandlers(t *testing.T) *handlers.Handlers {
	t.Helper()

	s := store.NewMemoryStore()
	ctx := context.Background()
	if err := s.UpsertSection(ctx, "", models.Section{ID: "core", Content: "Core rules.", AlwaysInclude: true}); err != nil {
		t.Fatalf("seed section: %v", err)
	}

	kw := intent.NewKeywordClassifier([]models.IntentPattern{
		{Category: "greeting", Keywords: []string{"hello"}},
	}, map[string]models.IntentMetadata{"greeting": {Tone: "friendly"}})
	resolver := intent.NewResolver(kw, nil, intent.ResolverConfig{})

	engine := promptctx.NewEngine(loaders.NewCatalogLoader(s), promptctx.EngineConfig{})

	plan := pipeline.Plan{
		pipeline.Step(stages.Intent(resolver)),
		pipeline.Step(stages.PromptContext(engine)),
	}
	exec := pipeline.New(pipeline.Config{})

	return handlers.New(exec, plan, resolver, engine, s)
}

// withURLParam attaches a chi route parameter to a test request.
func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestProcessRequest(t *testing.T) {
	h := newTestHandlers(t)

	body := `{"messages": [{"role": "user", "content": "hello there"}]}`
	req := httptest.NewRequest("POST", "/api/v1/process", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ProcessRequest(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}

	var resp struct {
		OK         bool           `json:"ok"`
		RunID      string         `json:"run_id"`
		Extensions map[string]any `json:"extensions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.OK {
		t.Error("ok = false, want true")
	}
	if resp.RunID == "" {
		t.Error("run_id is empty")
	}
	if _, ok := resp.Extensions["intent"]; !ok {
		t.Error("intent extension missing from response")
	}
	if _, ok := resp.Extensions["promptContext"]; !ok {
		t.Error("promptContext extension missing from response")
	}
}

func TestProcessRequest_EmptyMessages(t *testing.T) {
	h := newTestHandlers(t)

	req := httptest.NewRequest("POST", "/api/v1/process", strings.NewReader(`{"messages": []}`))
	w := httptest.NewRecorder()
	h.ProcessRequest(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestProcessRequest_BadJSON(t *testing.T) {
	h := newTestHandlers(t)

	req := httptest.NewRequest("POST", "/api/v1/process", strings.NewReader(`{`))
	w := httptest.NewRecorder()
	h.ProcessRequest(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestProcessRequest_FailureStatusAndRetryAfter(t *testing.T) {
	h := newTestHandlers(t)
	h.Plan = pipeline.Plan{pipeline.Step(stages.RateLimit(deniedLimiter{}))}

	body := `{"messages": [{"role": "user", "content": "hi"}]}`
	req := httptest.NewRequest("POST", "/api/v1/process", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ProcessRequest(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "7" {
		t.Errorf("Retry-After = %q, want %q", got, "7")
	}
}

func TestClassifyIntent(t *testing.T) {
	h := newTestHandlers(t)

	req := httptest.NewRequest("POST", "/api/v1/intent/classify", strings.NewReader(`{"message": "hello"}`))
	w := httptest.NewRecorder()
	h.ClassifyIntent(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var res models.IntentResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.Intent != "greeting" {
		t.Errorf("intent = %q, want %q", res.Intent, "greeting")
	}
}

func TestClassifyIntent_EmptyMessage(t *testing.T) {
	h := newTestHandlers(t)

	req := httptest.NewRequest("POST", "/api/v1/intent/classify", strings.NewReader(`{"message": ""}`))
	w := httptest.NewRecorder()
	h.ClassifyIntent(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestPreviewContext(t *testing.T) {
	h := newTestHandlers(t)

	body := `{"messages": [{"role": "user", "content": "hello"}]}`
	req := httptest.NewRequest("POST", "/api/v1/context/preview", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.PreviewContext(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	var sel models.Selection
	if err := json.Unmarshal(w.Body.Bytes(), &sel); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if sel.SystemPrompt != "Core rules." {
		t.Errorf("system_prompt = %q, want %q", sel.SystemPrompt, "Core rules.")
	}
}

func TestListSections(t *testing.T) {
	h := newTestHandlers(t)

	req := httptest.NewRequest("GET", "/api/v1/context/sections", nil)
	w := httptest.NewRecorder()
	h.ListSections(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var sections []models.Section
	if err := json.Unmarshal(w.Body.Bytes(), &sections); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(sections) != 1 || sections[0].ID != "core" {
		t.Errorf("sections = %v, want the seeded catalog", sections)
	}
}

func TestListSections_UnknownVariant(t *testing.T) {
	h := newTestHandlers(t)

	req := httptest.NewRequest("GET", "/api/v1/context/sections?variant=nope", nil)
	w := httptest.NewRecorder()
	h.ListSections(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestUpsertSectionInvalidatesCache(t *testing.T) {
	h := newTestHandlers(t)

	// Warm the cache.
	if _, err := h.Engine.Build(context.Background(), models.NewState(models.Request{
		Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	})); err != nil {
		t.Fatalf("warm build: %v", err)
	}
	if h.Engine.CacheSize() != 1 {
		t.Fatalf("CacheSize() = %d, want 1", h.Engine.CacheSize())
	}

	body := `{"content": "New section.", "always_include": true}`
	req := withURLParam(httptest.NewRequest("PUT", "/api/v1/context/sections/extra", strings.NewReader(body)), "sectionID", "extra")
	w := httptest.NewRecorder()
	h.UpsertSection(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	if h.Engine.CacheSize() != 0 {
		t.Errorf("CacheSize() = %d after upsert, want invalidated", h.Engine.CacheSize())
	}

	sections, err := h.Store.ListSections(context.Background(), "")
	if err != nil {
		t.Fatalf("ListSections: %v", err)
	}
	if len(sections) != 2 {
		t.Errorf("sections = %v, want 2 after upsert", sections)
	}
}

func TestDeleteSection(t *testing.T) {
	h := newTestHandlers(t)

	req := withURLParam(httptest.NewRequest("DELETE", "/api/v1/context/sections/core", nil), "sectionID", "core")
	w := httptest.NewRecorder()
	h.DeleteSection(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	sections, err := h.Store.ListSections(context.Background(), "")
	if err != nil {
		t.Fatalf("ListSections: %v", err)
	}
	if len(sections) != 0 {
		t.Errorf("sections = %v, want empty after delete", sections)
	}
}

func TestInvalidateCache_All(t *testing.T) {
	h := newTestHandlers(t)

	if _, err := h.Engine.Build(context.Background(), models.NewState(models.Request{
		Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	})); err != nil {
		t.Fatalf("warm build: %v", err)
	}

	req := httptest.NewRequest("POST", "/api/v1/cache/invalidate", strings.NewReader(`{"all": true}`))
	w := httptest.NewRecorder()
	h.InvalidateCache(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if h.Engine.CacheSize() != 0 {
		t.Errorf("CacheSize() = %d, want 0", h.Engine.CacheSize())
	}
}
