// Package pipeline implements the step executor: it drives an ordered plan
// of named stages and parallel groups over a state record, honoring
// enablement, conditional predicates, cancellation, and error policy, and
// surfaces lifecycle callbacks.
package pipeline

import (
	"fmt"
	"time"

	"github.com/flowline-ai/flowline/internal/conditions"
	"github.com/flowline-ai/flowline/pkg/contracts"
	"github.com/flowline-ai/flowline/pkg/models"
)

// Stage is one named processing step.
type Stage struct {
	// Name must be unique across the plan.
	Name string

	// Handler does the work. Must be non-nil.
	Handler contracts.Handler

	// Disabled skips the stage unconditionally.
	Disabled bool

	// ShouldExecute, when set, gates the stage per execution. For a stage
	// inside a parallel group the predicate sees the group's input
	// snapshot.
	ShouldExecute conditions.Predicate
}

// Entry is one plan position: either a single stage or a parallel group.
// Exactly one of Single and Group is set.
type Entry struct {
	Single *Stage
	Group  []Stage
}

// Step wraps a single stage as a plan entry.
func Step(s Stage) Entry {
	return Entry{Single: &s}
}

// Parallel groups stages into one plan entry. The group is scheduled
// concurrently and joined before the next entry; merge order and error
// tie-breaking follow declaration order.
func Parallel(stages ...Stage) Entry {
	return Entry{Group: stages}
}

// Plan is the ordered configuration of one execution. Plans are long-lived
// and safe to share across concurrent executions.
type Plan []Entry

// Validate checks the structural constraints: a non-empty plan, exactly
// one kind per entry, non-nil handlers, and stage names unique across the
// whole plan.
func (p Plan) Validate() error {
	if len(p) == 0 {
		return fmt.Errorf("plan is empty")
	}
	seen := make(map[string]bool)
	check := func(s *Stage) error {
		if s.Name == "" {
			return fmt.Errorf("stage with empty name")
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate stage name %q", s.Name)
		}
		seen[s.Name] = true
		if s.Handler == nil {
			return fmt.Errorf("stage %q has no handler", s.Name)
		}
		return nil
	}
	for i, entry := range p {
		switch {
		case entry.Single != nil && len(entry.Group) > 0:
			return fmt.Errorf("entry %d is both a stage and a group", i)
		case entry.Single != nil:
			if err := check(entry.Single); err != nil {
				return err
			}
		case len(entry.Group) > 0:
			for j := range entry.Group {
				if err := check(&entry.Group[j]); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("entry %d is empty", i)
		}
	}
	return nil
}

// Callbacks are the executor's lifecycle hooks. All are optional. They run
// on the executor's goroutine, in declaration order for parallel groups,
// and are supervised: a panicking callback is logged and never fails the
// plan.
type Callbacks struct {
	// OnStepComplete fires after every invoked stage, failed or not.
	OnStepComplete func(name string, duration time.Duration)

	// OnError fires once, for the failure that stopped the plan.
	OnError func(view models.ErrorView)
}

// Config tunes one executor.
type Config struct {
	// IncludeErrorDetails copies raw fault text into Failure.Details when
	// a handler errors or panics. Leave off in production: the generic
	// user-safe message is all that escapes.
	IncludeErrorDetails bool

	Callbacks Callbacks
}

// Result is the outcome of one plan execution.
type Result struct {
	OK      bool
	State   *models.State
	Failure *models.Failure

	// RunID identifies this execution in logs and traces.
	RunID string

	Duration time.Duration
}
