package intent_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/flowline-ai/flowline/internal/intent"
	"github.com/flowline-ai/flowline/pkg/contracts"
	"github.com/flowline-ai/flowline/pkg/models"
)

// mockInvoker is a test ModelInvoker with a canned completion.
type mockInvoker struct {
	text    string
	err     error
	lastReq models.GenerateRequest
}

func (m *mockInvoker) Generate(ctx context.Context, req models.GenerateRequest) (*models.GenerateResponse, error) {
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	return &models.GenerateResponse{Text: m.text, Usage: &models.TokenUsage{TotalTokens: 10}}, nil
}

func (m *mockInvoker) Stream(ctx context.Context, req models.GenerateRequest, fn contracts.StreamFunc) (*models.GenerateResponse, error) {
	return m.Generate(ctx, req)
}

func TestStructuredTier_Classify(t *testing.T) {
	inv := &mockInvoker{text: `{"intent": "Help", "confidence": 0.92, "reasoning": "asks how to do something"}`}
	tier := intent.NewStructuredTier(inv, []string{"greeting", "help"}, "test-model")

	res, err := tier.Classify(context.Background(), "how do I export data?")
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if res.Intent != "help" {
		t.Errorf("Intent = %q, want %q (normalized to lowercase)", res.Intent, "help")
	}
	if res.Confidence != 0.92 {
		t.Errorf("Confidence = %v, want 0.92", res.Confidence)
	}
	if res.Reasoning != "asks how to do something" {
		t.Errorf("Reasoning = %q", res.Reasoning)
	}
	if res.Usage == nil || res.Usage.TotalTokens != 10 {
		t.Errorf("Usage = %+v, want total 10", res.Usage)
	}
	if !inv.lastReq.JSONMode {
		t.Error("structured tier did not request JSON mode")
	}
	if inv.lastReq.Temperature != 0 {
		t.Errorf("Temperature = %v, want 0", inv.lastReq.Temperature)
	}
}

func TestStructuredTier_UnknownIntentCoercedToGeneral(t *testing.T) {
	inv := &mockInvoker{text: `{"intent": "billing", "confidence": 0.8}`}
	tier := intent.NewStructuredTier(inv, []string{"greeting", "help"}, "")

	res, err := tier.Classify(context.Background(), "msg")
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if res.Intent != models.IntentGeneral {
		t.Errorf("Intent = %q, want %q", res.Intent, models.IntentGeneral)
	}
}

func TestStructuredTier_BadJSONErrors(t *testing.T) {
	inv := &mockInvoker{text: "Sure! The intent is help."}
	tier := intent.NewStructuredTier(inv, []string{"help"}, "")

	if _, err := tier.Classify(context.Background(), "msg"); err == nil {
		t.Error("Classify() with non-JSON reply: want error, got nil")
	}
}

func TestStructuredTier_TransportError(t *testing.T) {
	inv := &mockInvoker{err: errors.New("connection refused")}
	tier := intent.NewStructuredTier(inv, []string{"help"}, "")

	if _, err := tier.Classify(context.Background(), "msg"); err == nil {
		t.Error("Classify() with transport failure: want error, got nil")
	}
}

func TestTextualTier_Classify(t *testing.T) {
	inv := &mockInvoker{text: "INTENT: help\nCONFIDENCE: 0.75\nREASONING: user is stuck"}
	tier := intent.NewTextualTier(inv, []string{"greeting", "help"}, "")

	res, err := tier.Classify(context.Background(), "I'm stuck")
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if res.Intent != "help" {
		t.Errorf("Intent = %q, want %q", res.Intent, "help")
	}
	if res.Confidence != 0.75 {
		t.Errorf("Confidence = %v, want 0.75", res.Confidence)
	}
	if res.Reasoning != "user is stuck" {
		t.Errorf("Reasoning = %q, want %q", res.Reasoning, "user is stuck")
	}
	if inv.lastReq.JSONMode {
		t.Error("textual tier requested JSON mode")
	}
}

func TestTextualTier_ToleratesCaseAndWhitespace(t *testing.T) {
	inv := &mockInvoker{text: "  intent :  HELP  \n  Confidence: 0.6\n"}
	tier := intent.NewTextualTier(inv, []string{"help"}, "")

	res, err := tier.Classify(context.Background(), "msg")
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if res.Intent != "help" {
		t.Errorf("Intent = %q, want %q", res.Intent, "help")
	}
	if res.Confidence != 0.6 {
		t.Errorf("Confidence = %v, want 0.6", res.Confidence)
	}
}

func TestTextualTier_MissingFieldsUseDefaults(t *testing.T) {
	inv := &mockInvoker{text: "I think this is probably a help request."}
	tier := intent.NewTextualTier(inv, []string{"help"}, "")

	res, err := tier.Classify(context.Background(), "msg")
	if err != nil {
		t.Fatalf("Classify() error = %v (parse faults must not error)", err)
	}
	if res.Intent != models.IntentGeneral {
		t.Errorf("Intent = %q, want %q", res.Intent, models.IntentGeneral)
	}
	if res.Confidence != 0.5 {
		t.Errorf("Confidence = %v, want default 0.5", res.Confidence)
	}
}

func TestTextualTier_UnparseableConfidenceDefaults(t *testing.T) {
	inv := &mockInvoker{text: "INTENT: help\nCONFIDENCE: very high"}
	tier := intent.NewTextualTier(inv, []string{"help"}, "")

	res, err := tier.Classify(context.Background(), "msg")
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if res.Confidence != 0.5 {
		t.Errorf("Confidence = %v, want default 0.5", res.Confidence)
	}
}

func TestClassificationPromptListsCategories(t *testing.T) {
	inv := &mockInvoker{text: `{"intent": "help", "confidence": 1}`}
	tier := intent.NewStructuredTier(inv, []string{"greeting", "help"}, "")

	if _, err := tier.Classify(context.Background(), "msg"); err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if !strings.Contains(inv.lastReq.System, "greeting, help") {
		t.Errorf("system prompt missing category list: %q", inv.lastReq.System)
	}
}
