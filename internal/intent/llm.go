package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/flowline-ai/flowline/pkg/contracts"
	"github.com/flowline-ai/flowline/pkg/models"
)

// defaultConfidence is assumed when the textual tier cannot parse a
// confidence value out of the model's reply.
const defaultConfidence = 0.5

// StructuredTier classifies via a model invoked in JSON mode. The model is
// instructed to return {"intent": ..., "confidence": ..., "reasoning": ...}
// and the reply is decoded as that object.
type StructuredTier struct {
	invoker    contracts.ModelInvoker
	categories []string
	model      string
}

// NewStructuredTier builds a structured LLM tier over invoker for the
// given categories.
func NewStructuredTier(invoker contracts.ModelInvoker, categories []string, model string) *StructuredTier {
	return &StructuredTier{invoker: invoker, categories: categories, model: model}
}

// Classify implements contracts.IntentTier.
func (t *StructuredTier) Classify(ctx context.Context, message string) (*models.LLMIntent, error) {
	resp, err := t.invoker.Generate(ctx, models.GenerateRequest{
		System:      classificationSystemPrompt(t.categories, true),
		Messages:    []models.Message{{Role: models.RoleUser, Content: message}},
		Model:       t.model,
		MaxTokens:   256,
		Temperature: 0,
		JSONMode:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("intent generation: %w", err)
	}

	var out struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(resp.Text), &out); err != nil {
		return nil, fmt.Errorf("decode intent reply: %w", err)
	}

	return &models.LLMIntent{
		Intent:     normalizeIntent(out.Intent, t.categories),
		Confidence: clamp01(out.Confidence),
		Reasoning:  strings.TrimSpace(out.Reasoning),
		Usage:      resp.Usage,
	}, nil
}

// TextualTier classifies via a model that answers in labelled plain-text
// lines:
//
//	INTENT: <category>
//	CONFIDENCE: <number>
//	REASONING: <free text>
//
// The parser tolerates case differences, surrounding whitespace, and
// missing fields, and never returns a parse error — transport faults are
// the only error path.
type TextualTier struct {
	invoker    contracts.ModelInvoker
	categories []string
	model      string
}

// NewTextualTier builds a textual LLM tier over invoker for the given
// categories.
func NewTextualTier(invoker contracts.ModelInvoker, categories []string, model string) *TextualTier {
	return &TextualTier{invoker: invoker, categories: categories, model: model}
}

// Classify implements contracts.IntentTier.
func (t *TextualTier) Classify(ctx context.Context, message string) (*models.LLMIntent, error) {
	resp, err := t.invoker.Generate(ctx, models.GenerateRequest{
		System:      classificationSystemPrompt(t.categories, false),
		Messages:    []models.Message{{Role: models.RoleUser, Content: message}},
		Model:       t.model,
		MaxTokens:   256,
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("intent generation: %w", err)
	}

	li := parseLabelled(resp.Text, t.categories)
	li.Usage = resp.Usage
	return li, nil
}

// parseLabelled extracts INTENT/CONFIDENCE/REASONING lines from free-form
// model output. Unparseable intent coerces to "general"; unparseable
// confidence defaults to 0.5.
func parseLabelled(text string, categories []string) *models.LLMIntent {
	out := &models.LLMIntent{
		Intent:     models.IntentGeneral,
		Confidence: defaultConfidence,
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		label, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(label)) {
		case "intent":
			out.Intent = normalizeIntent(value, categories)
		case "confidence":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				out.Confidence = clamp01(f)
			}
		case "reasoning":
			out.Reasoning = value
		}
	}

	return out
}

// normalizeIntent lowercases the intent and coerces anything outside the
// configured categories to "general".
func normalizeIntent(intent string, categories []string) string {
	intent = strings.ToLower(strings.TrimSpace(intent))
	if intent == models.IntentGeneral {
		return intent
	}
	for _, c := range categories {
		if strings.EqualFold(c, intent) {
			return strings.ToLower(c)
		}
	}
	return models.IntentGeneral
}

func classificationSystemPrompt(categories []string, structured bool) string {
	var sb strings.Builder
	sb.WriteString("You classify a user message into exactly one intent category.\n")
	sb.WriteString("Categories: ")
	sb.WriteString(strings.Join(categories, ", "))
	sb.WriteString(", general\n")
	if structured {
		sb.WriteString(`Respond with a JSON object: {"intent": "<category>", "confidence": <0..1>, "reasoning": "<short>"}`)
	} else {
		sb.WriteString("Respond with three lines:\nINTENT: <category>\nCONFIDENCE: <0..1>\nREASONING: <short>")
	}
	return sb.String()
}
