// Package promptctx assembles the system prompt for a request out of a
// catalog of context sections. The Optimizer selects and orders sections
// deterministically by topic match, priority, and first-vs-follow-up
// policy; the Engine adds externally loaded catalogs with a per-variant
// TTL cache in front of the loader.
package promptctx

import (
	"strings"

	"github.com/flowline-ai/flowline/pkg/models"
)

// Mode controls how much of the catalog a selection uses.
type Mode string

const (
	// ModeFull includes the whole catalog in configured order.
	ModeFull Mode = "full"
	// ModeSelective includes only always-include sections and sections
	// whose topics intersect the request's topics.
	ModeSelective Mode = "selective"
)

// Policy decides full vs selective per conversation position. A first
// message defaults to full unless explicitly selective; a follow-up
// defaults to selective unless explicitly full.
type Policy struct {
	FirstMessage Mode `json:"first_message,omitempty"`
	FollowUp     Mode `json:"follow_up,omitempty"`
}

// SelectionRequest is one call into the optimizer.
type SelectionRequest struct {
	Topics         []string
	IsFirstMessage bool
	Tone           string
}

// Optimizer selects context sections from a fixed catalog. It is pure:
// identical inputs yield byte-identical output.
type Optimizer struct {
	sections []models.Section
	policy   Policy
	tones    map[string]string
}

// NewOptimizer builds an optimizer over a section catalog. tones maps a
// tone name to the instruction text appended to the system prompt; it may
// be nil.
func NewOptimizer(sections []models.Section, policy Policy, tones map[string]string) *Optimizer {
	return &Optimizer{sections: sections, policy: policy, tones: tones}
}

// Build runs the selection algorithm and assembles the system prompt.
//
// The reported MaxTokenEstimate is the estimate for the full catalog
// without tone text — the "if we had included everything" baseline used
// to report savings.
func (o *Optimizer) Build(req SelectionRequest) *models.Selection {
	useFull := (req.IsFirstMessage && o.policy.FirstMessage != ModeSelective) ||
		(!req.IsFirstMessage && o.policy.FollowUp == ModeFull)

	var selected []models.Section
	if useFull {
		selected = append(selected, o.sections...)
	} else {
		for _, s := range o.sections {
			if s.AlwaysInclude || topicsIntersect(s.Topics, req.Topics) {
				selected = append(selected, s)
			}
		}
		// Priority descending; equal priorities keep configured order.
		stableSortByPriority(selected)
	}
	selected = dedupeByID(selected)

	contents := make([]string, 0, len(selected))
	ids := make([]string, 0, len(selected))
	for _, s := range selected {
		contents = append(contents, s.Content)
		ids = append(ids, s.ID)
	}
	prompt := strings.Join(contents, "\n\n")

	if req.Tone != "" {
		if instruction, ok := o.tones[req.Tone]; ok {
			prompt = prompt + "\n\n" + instruction
		}
	}

	return &models.Selection{
		SystemPrompt:     prompt,
		SectionsIncluded: ids,
		TotalSections:    len(o.sections),
		TokenEstimate:    estimateTokens(prompt),
		MaxTokenEstimate: estimateTokens(o.fullCatalogPrompt()),
	}
}

// Tones exposes the optimizer's tone map so the dynamic engine can share
// one canonical map with its fallback optimizer.
func (o *Optimizer) Tones() map[string]string {
	return o.tones
}

func (o *Optimizer) fullCatalogPrompt() string {
	contents := make([]string, 0, len(o.sections))
	for _, s := range o.sections {
		contents = append(contents, s.Content)
	}
	return strings.Join(contents, "\n\n")
}

func topicsIntersect(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if strings.EqualFold(h, w) {
				return true
			}
		}
	}
	return false
}

// stableSortByPriority is an insertion sort: n is small and stability on
// equal priorities is required.
func stableSortByPriority(sections []models.Section) {
	for i := 1; i < len(sections); i++ {
		for j := i; j > 0 && sections[j].Priority > sections[j-1].Priority; j-- {
			sections[j], sections[j-1] = sections[j-1], sections[j]
		}
	}
}

func dedupeByID(sections []models.Section) []models.Section {
	seen := make(map[string]bool, len(sections))
	out := sections[:0]
	for _, s := range sections {
		if seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		out = append(out, s)
	}
	return out
}

// estimateTokens is the coarse character-count heuristic: ceil(len/4).
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}
