// Package stages bundles the stock plan stages: content moderation, rate
// limiting, intent classification, prompt-context assembly, and model
// invocation. Each constructor returns a ready pipeline.Stage with its
// conventional name; callers may rename, gate, or reorder them freely.
package stages

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/flowline-ai/flowline/internal/pipeline"
	"github.com/flowline-ai/flowline/pkg/contracts"
	"github.com/flowline-ai/flowline/pkg/models"
)

// Conventional stage names used by the bundled constructors.
const (
	StepContentModeration = "contentModeration"
	StepRateLimit         = "rateLimit"
	StepIntent            = "intent"
	StepPromptContext     = "promptContext"
	StepModel             = "model"
)

// ModerationRule is a custom pattern with its rejection reason.
type ModerationRule struct {
	Pattern string `json:"pattern"`
	Reason  string `json:"reason"`
}

// ModerationConfig configures the content moderation stage. Patterns are
// regular expressions compiled case-insensitively; profanity words match
// as case-insensitive substrings.
type ModerationConfig struct {
	SpamPatterns   []string         `json:"spam_patterns,omitempty"`
	ProfanityWords []string         `json:"profanity_words,omitempty"`
	CustomRules    []ModerationRule `json:"custom_rules,omitempty"`
}

type moderationHandler struct {
	spam       []*regexp.Regexp
	profanity  []string
	custom     []customRule
	compileErr error
}

type customRule struct {
	re     *regexp.Regexp
	reason string
}

// Moderation builds the content moderation stage. A user message matching
// a spam pattern, profanity word, or custom rule stops the plan with a 400
// failure; non-user messages pass unconditionally. Moderation faults —
// including bad patterns in the configuration — never fail the request:
// the message passes with the fault recorded on the verdict.
func Moderation(cfg ModerationConfig) pipeline.Stage {
	h := &moderationHandler{}
	for _, p := range cfg.SpamPatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			h.compileErr = fmt.Errorf("spam pattern %q: %w", p, err)
			break
		}
		h.spam = append(h.spam, re)
	}
	for _, w := range cfg.ProfanityWords {
		h.profanity = append(h.profanity, strings.ToLower(w))
	}
	for _, r := range cfg.CustomRules {
		if h.compileErr != nil {
			break
		}
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			h.compileErr = fmt.Errorf("custom rule %q: %w", r.Pattern, err)
			break
		}
		h.custom = append(h.custom, customRule{re: re, reason: r.Reason})
	}
	return pipeline.Stage{Name: StepContentModeration, Handler: h}
}

func (h *moderationHandler) Handle(_ context.Context, s *models.State) (*models.State, error) {
	msg, ok := s.Request.LastMessage()
	if !ok || msg.Role != models.RoleUser {
		return s.WithExtension(models.ExtContentModeration, &models.ModerationVerdict{Passed: true}), nil
	}

	if h.compileErr != nil {
		log.Warn().Err(h.compileErr).Msg("moderation misconfigured, letting message through")
		return s.WithExtension(models.ExtContentModeration, &models.ModerationVerdict{
			Passed: true,
			Error:  h.compileErr.Error(),
		}), nil
	}

	text := msg.Text()
	lower := strings.ToLower(text)

	reject := func(message, reason string) (*models.State, error) {
		next := s.WithExtension(models.ExtContentModeration, &models.ModerationVerdict{
			Passed: false,
			Reason: reason,
		})
		return next.WithFailure(&models.Failure{
			Message:    message,
			StatusCode: models.StatusBadRequest,
			Step:       StepContentModeration,
		}), nil
	}

	for _, re := range h.spam {
		if re.MatchString(text) {
			return reject("Message flagged as inappropriate.", "spam pattern matched")
		}
	}
	for _, w := range h.profanity {
		if w != "" && strings.Contains(lower, w) {
			return reject("Message contains inappropriate language.", "profanity detected")
		}
	}
	for _, r := range h.custom {
		if r.re.MatchString(text) {
			return reject("Message flagged as inappropriate.", r.reason)
		}
	}

	return s.WithExtension(models.ExtContentModeration, &models.ModerationVerdict{Passed: true}), nil
}

var _ contracts.Handler = (*moderationHandler)(nil)
