// Package intent implements two-tier intent classification: a fast keyword
// tier with a margin-based confidence metric, and an LLM tier the hybrid
// resolver falls back to when keyword confidence is low.
package intent

import (
	"sort"
	"strings"

	"github.com/flowline-ai/flowline/pkg/models"
)

// KeywordClassifier scores a message against keyword patterns. Matching is
// case-insensitive substring containment; a keyword contributes one point
// per word, so multi-word keywords score higher than single-word ones.
type KeywordClassifier struct {
	patterns []models.IntentPattern
	metadata map[string]models.IntentMetadata
}

// NewKeywordClassifier builds a classifier over the given patterns.
// metadata maps a category to the routing metadata attached when that
// category wins; it may be nil.
func NewKeywordClassifier(patterns []models.IntentPattern, metadata map[string]models.IntentMetadata) *KeywordClassifier {
	return &KeywordClassifier{patterns: patterns, metadata: metadata}
}

type categoryScore struct {
	category string
	score    int
	matched  []string
	order    int
}

// Classify scores message against every pattern and returns the winning
// category with a margin-ratio confidence: (best − second) / max(best, 1),
// capped at 1. A unique single-word winner against nothing yields 1.0; a
// tie yields 0. No match at all yields the "general" intent.
func (c *KeywordClassifier) Classify(message string) *models.IntentResult {
	lower := strings.ToLower(message)

	scores := make([]categoryScore, 0, len(c.patterns))
	for i, p := range c.patterns {
		cs := categoryScore{category: p.Category, order: i}
		for _, kw := range p.Keywords {
			if kw == "" {
				continue
			}
			if strings.Contains(lower, strings.ToLower(kw)) {
				cs.score += len(strings.Fields(kw))
				cs.matched = append(cs.matched, kw)
			}
		}
		scores = append(scores, cs)
	}

	// Descending by score; equal scores keep pattern declaration order.
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].score > scores[j].score
	})

	if len(scores) == 0 || scores[0].score == 0 {
		return &models.IntentResult{
			Intent:          models.IntentGeneral,
			Confidence:      0,
			MatchedKeywords: []string{},
			Method:          models.MethodKeyword,
		}
	}

	best := scores[0].score
	second := 0
	if len(scores) > 1 {
		second = scores[1].score
	}

	denom := best
	if denom < 1 {
		denom = 1
	}
	confidence := float64(best-second) / float64(denom)
	if confidence > 1 {
		confidence = 1
	}

	return &models.IntentResult{
		Intent:          scores[0].category,
		Confidence:      confidence,
		MatchedKeywords: scores[0].matched,
		Method:          models.MethodKeyword,
		Metadata:        c.MetadataForIntent(scores[0].category),
	}
}

// MetadataForIntent returns the configured metadata for a category without
// running classification, or nil when the category has none.
func (c *KeywordClassifier) MetadataForIntent(category string) *models.IntentMetadata {
	md, ok := c.metadata[category]
	if !ok {
		return nil
	}
	out := md
	return &out
}

// Categories lists the configured pattern categories in declaration order.
func (c *KeywordClassifier) Categories() []string {
	out := make([]string, 0, len(c.patterns))
	for _, p := range c.patterns {
		out = append(out, p.Category)
	}
	return out
}
