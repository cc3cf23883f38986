// Package models defines the shared data model for the Flowline engine:
// requests, the per-execution state record, plan failures, context sections,
// intent results, and the model-invocation request/response shapes.
package models

import (
	"strings"
)

// ── Messages ─────────────────────────────────────────────────

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ContentPart is one piece of a multi-part message. Plain-text messages
// use Message.Content directly; multi-modal messages carry Parts.
type ContentPart struct {
	Type string `json:"type"` // "text", "image_url", "tool_result"
	Text string `json:"text,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Message is one turn of a conversation. Messages are immutable within a
// request; stages never rewrite them.
type Message struct {
	Role    Role          `json:"role"`
	Content string        `json:"content,omitempty"`
	Parts   []ContentPart `json:"parts,omitempty"`
}

// Text returns the textual content of the message. For multi-part messages
// the text parts are joined in order.
func (m Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var sb strings.Builder
	for _, p := range m.Parts {
		if p.Type == "text" && p.Text != "" {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(p.Text)
		}
	}
	if sb.Len() == 0 {
		return m.Content
	}
	return sb.String()
}

// Request is the caller's input to a plan execution: the conversation so
// far plus arbitrary metadata (user ID, session ID, variant, flags).
type Request struct {
	Messages []Message      `json:"messages"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// LastUserMessage returns the most recent user-role message, or a zero
// Message and false when the request contains none.
func (r Request) LastUserMessage() (Message, bool) {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i], true
		}
	}
	return Message{}, false
}

// LastMessage returns the final message of the request, or false when the
// request is empty.
func (r Request) LastMessage() (Message, bool) {
	if len(r.Messages) == 0 {
		return Message{}, false
	}
	return r.Messages[len(r.Messages)-1], true
}

// UserMessageCount counts user-role messages. A request with at most one
// user message is treated as a first contact by the bundled stages.
func (r Request) UserMessageCount() int {
	n := 0
	for _, m := range r.Messages {
		if m.Role == RoleUser {
			n++
		}
	}
	return n
}

// ── Failures ─────────────────────────────────────────────────

// Distinguished status codes used by the engine itself.
const (
	StatusBadRequest  = 400
	StatusRateLimited = 429
	StatusCancelled   = 499
	StatusInternal    = 500
)

// Failure describes why a plan execution stopped. Its Message is a stable,
// user-safe string; verbose fault text lives in Details and is populated
// only when the executor is configured to include error details.
type Failure struct {
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
	RetryAfter int    `json:"retry_after,omitempty"` // seconds, for 429
	Step       string `json:"step,omitempty"`
	Details    string `json:"details,omitempty"`
}

// ── State Record ─────────────────────────────────────────────

// Well-known extension keys written by the bundled stages. The extension
// namespace is open; unknown keys propagate through the plan verbatim.
const (
	ExtContentModeration = "contentModeration"
	ExtRateLimit         = "rateLimit"
	ExtIntent            = "intent"
	ExtPromptContext     = "promptContext"
	ExtAIResponse        = "aiResponse"
)

// State is the record threaded through a plan execution. Handlers must not
// mutate a State in place: they derive a successor via Clone/WithExtension/
// WithFailure and return it. A set Failure is terminal for the plan.
type State struct {
	Request    Request        `json:"request"`
	Failure    *Failure       `json:"failure,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// NewState builds a fresh state record for one execution of a plan.
func NewState(req Request) *State {
	return &State{Request: req, Extensions: map[string]any{}}
}

// Clone returns a shallow copy with its own extensions map. Extension
// values are shared; handlers own the slots they write and must not edit
// values they did not produce.
func (s *State) Clone() *State {
	ext := make(map[string]any, len(s.Extensions))
	for k, v := range s.Extensions {
		ext[k] = v
	}
	return &State{Request: s.Request, Failure: s.Failure, Extensions: ext}
}

// WithExtension returns a successor state carrying key=value.
func (s *State) WithExtension(key string, value any) *State {
	next := s.Clone()
	next.Extensions[key] = value
	return next
}

// WithFailure returns a successor state carrying the failure descriptor.
func (s *State) WithFailure(f *Failure) *State {
	next := s.Clone()
	next.Failure = f
	return next
}

// Extension looks up an extension value by key.
func (s *State) Extension(key string) (any, bool) {
	v, ok := s.Extensions[key]
	return v, ok
}

// Metadata looks up a request metadata value by key.
func (s *State) Metadata(key string) (any, bool) {
	if s.Request.Metadata == nil {
		return nil, false
	}
	v, ok := s.Request.Metadata[key]
	return v, ok
}

// Intent returns the intent result written by the intent stage, if any.
func (s *State) Intent() (*IntentResult, bool) {
	v, ok := s.Extensions[ExtIntent]
	if !ok {
		return nil, false
	}
	ir, ok := v.(*IntentResult)
	return ir, ok
}

// PromptContext returns the selection written by the context stage, if any.
func (s *State) PromptContext() (*Selection, bool) {
	v, ok := s.Extensions[ExtPromptContext]
	if !ok {
		return nil, false
	}
	sel, ok := v.(*Selection)
	return sel, ok
}

// ── Context Sections ─────────────────────────────────────────

// Section is one named chunk of prompt text with topic tags and priority.
// Identity is the ID: two sections with the same ID in one selection are
// deduplicated, first occurrence winning.
type Section struct {
	ID            string   `json:"id"`
	Name          string   `json:"name,omitempty"`
	Content       string   `json:"content"`
	Topics        []string `json:"topics,omitempty"`
	AlwaysInclude bool     `json:"always_include,omitempty"`
	Priority      int      `json:"priority,omitempty"`
}

// Selection is the output of context optimization: the assembled system
// prompt plus accounting for how much of the catalog was used.
type Selection struct {
	SystemPrompt     string   `json:"system_prompt"`
	SectionsIncluded []string `json:"sections_included"`
	TotalSections    int      `json:"total_sections"`
	TokenEstimate    int      `json:"token_estimate"`
	MaxTokenEstimate int      `json:"max_token_estimate"`
	Variant          string   `json:"variant,omitempty"`
}

// LoadRequest is the input to a ContextLoader.
type LoadRequest struct {
	Topics         []string       `json:"topics,omitempty"`
	Variant        string         `json:"variant,omitempty"`
	IsFirstMessage bool           `json:"is_first_message,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
	SessionID      string         `json:"session_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// ── Intent Classification ────────────────────────────────────

// Classification methods recorded on an IntentResult.
const (
	MethodKeyword = "keyword"
	MethodLLM     = "llm"
)

// IntentGeneral is the catch-all category returned when no pattern matches
// and when the LLM tier degrades.
const IntentGeneral = "general"

// IntentPattern maps a category to the keywords that vote for it.
// Keywords are matched case-insensitively as substrings; multi-word
// keywords score one point per word.
type IntentPattern struct {
	Category string   `json:"category"`
	Keywords []string `json:"keywords"`
}

// IntentMetadata is per-category routing metadata attached to a winning
// intent: response tone, a deep link to surface, and whether the intent
// requires an authenticated user.
type IntentMetadata struct {
	Tone                 string `json:"tone,omitempty"`
	DeepLink             string `json:"deep_link,omitempty"`
	RequiresAuth         bool   `json:"requires_auth,omitempty"`
	ClassificationMethod string `json:"classification_method,omitempty"`
	Reasoning            string `json:"reasoning,omitempty"`
}

// IntentResult is the outcome of intent classification.
type IntentResult struct {
	Intent          string          `json:"intent"`
	Confidence      float64         `json:"confidence"` // [0,1]
	MatchedKeywords []string        `json:"matched_keywords,omitempty"`
	Method          string          `json:"method"` // "keyword" or "llm"
	Metadata        *IntentMetadata `json:"metadata,omitempty"`
}

// LLMIntent is the raw verdict of the LLM classification tier before the
// hybrid resolver attaches category metadata.
type LLMIntent struct {
	Intent     string      `json:"intent"`
	Confidence float64     `json:"confidence"`
	Reasoning  string      `json:"reasoning,omitempty"`
	Usage      *TokenUsage `json:"usage,omitempty"`
}

// ── Rate Limiting ────────────────────────────────────────────

// RateDecision is a rate limiter's answer for one identifier.
type RateDecision struct {
	Allowed    bool `json:"allowed"`
	RetryAfter int  `json:"retry_after,omitempty"` // seconds
}

// RateLimitInfo is the extension payload written by the rate-limit stage.
type RateLimitInfo struct {
	Identifier string `json:"identifier"`
	Allowed    bool   `json:"allowed"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// ── Content Moderation ───────────────────────────────────────

// ModerationVerdict is the extension payload written by the moderation
// stage. Error carries detail when moderation itself failed; such errors
// never fail the request.
type ModerationVerdict struct {
	Passed bool   `json:"passed"`
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ── Model Invocation ─────────────────────────────────────────

// GenerateRequest is the input to a ModelInvoker.
type GenerateRequest struct {
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	JSONMode    bool      `json:"json_mode,omitempty"`
}

// GenerateResponse is the final result of a model invocation, streaming or
// not.
type GenerateResponse struct {
	Text         string      `json:"text"`
	FinishReason string      `json:"finish_reason,omitempty"`
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// TokenUsage reports provider-side token accounting.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// ── Observability Views ──────────────────────────────────────

// ErrorView is the read-only failure view handed to the OnError callback.
type ErrorView struct {
	Step       string `json:"step"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
	RetryAfter int    `json:"retry_after,omitempty"`
	Details    string `json:"details,omitempty"`
}

// FallbackEvent describes one keyword→LLM fallback, fired regardless of
// whether the two tiers agreed.
type FallbackEvent struct {
	Message           string  `json:"message"`
	KeywordIntent     string  `json:"keyword_intent"`
	KeywordConfidence float64 `json:"keyword_confidence"`
	LLMIntent         string  `json:"llm_intent,omitempty"`
	LLMConfidence     float64 `json:"llm_confidence,omitempty"`
	LLMReasoning      string  `json:"llm_reasoning,omitempty"`
}

// VariantEvent describes one use of a context-catalog variant.
type VariantEvent struct {
	Variant string `json:"variant"`
}
