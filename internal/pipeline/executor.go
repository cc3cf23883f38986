package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/flowline-ai/flowline/pkg/models"
)

var tracer = otel.Tracer("flowline-pipeline")

// genericFailureMessage is the stable, user-safe text attached to failures
// converted from handler faults. Raw fault text goes to Failure.Details
// only when the executor is configured to include it.
const genericFailureMessage = "Something went wrong processing your request."

// cancelledStep is the step name reported when the caller's context fires.
const cancelledStep = "cancelled"

// Executor drives plans. It is stateless across executions and safe for
// concurrent use.
type Executor struct {
	cfg Config
}

// New creates an executor.
func New(cfg Config) *Executor {
	return &Executor{cfg: cfg}
}

// Execute runs plan over initial and returns the accumulated state.
//
// The first failure is final: no retry happens at this layer, and no
// further entry starts once a stage fails or the context is cancelled.
// A returned error indicates a malformed plan, never a request failure.
func (e *Executor) Execute(ctx context.Context, initial *models.State, plan Plan) (*Result, error) {
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	if initial == nil {
		return nil, fmt.Errorf("nil initial state")
	}

	runID := uuid.NewString()
	start := time.Now()

	ctx, span := tracer.Start(ctx, "pipeline.execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("flowline.run_id", runID),
		attribute.Int("flowline.plan_entries", len(plan)),
	)

	current := initial
	for _, entry := range plan {
		if ctx.Err() != nil {
			return e.finish(span, runID, start, current, cancelledFailure()), nil
		}

		var failure *models.Failure
		if entry.Single != nil {
			current, failure = e.runSingle(ctx, *entry.Single, current)
		} else {
			current, failure = e.runGroup(ctx, entry.Group, current)
		}
		if failure != nil {
			return e.finish(span, runID, start, current, failure), nil
		}
	}

	span.SetStatus(codes.Ok, "")
	return &Result{OK: true, State: current, RunID: runID, Duration: time.Since(start)}, nil
}

func (e *Executor) finish(span trace.Span, runID string, start time.Time, state *models.State, failure *models.Failure) *Result {
	if state.Failure == nil {
		state = state.WithFailure(failure)
	}
	span.SetStatus(codes.Error, failure.Message)
	e.fireError(failure)
	log.Debug().
		Str("run_id", runID).
		Str("step", failure.Step).
		Int("status", failure.StatusCode).
		Msg("plan execution failed")
	return &Result{State: state, Failure: failure, RunID: runID, Duration: time.Since(start)}
}

// ── Single stages ────────────────────────────────────────────

func (e *Executor) runSingle(ctx context.Context, st Stage, current *models.State) (*models.State, *models.Failure) {
	active, failure := e.stageActive(ctx, st, current)
	if failure != nil {
		return current, failure
	}
	if !active {
		return current, nil
	}

	out, failure, dur := e.call(ctx, st, current)
	e.fireStepComplete(st.Name, dur)
	return out, failure
}

// stageActive applies the enablement and conditional filters. A predicate
// fault is treated like a handler fault and attributed to the stage.
func (e *Executor) stageActive(ctx context.Context, st Stage, s *models.State) (bool, *models.Failure) {
	if st.Disabled {
		return false, nil
	}
	if st.ShouldExecute == nil {
		return true, nil
	}
	ok, err := st.ShouldExecute(ctx, s)
	if err != nil {
		return false, e.internalFailure(st.Name, fmt.Sprintf("condition: %v", err))
	}
	return ok, nil
}

// call runs one handler, converting returned errors and panics into 500
// failures and context cancellation into the distinguished 499 failure.
func (e *Executor) call(ctx context.Context, st Stage, in *models.State) (out *models.State, failure *models.Failure, dur time.Duration) {
	ctx, span := tracer.Start(ctx, "stage "+st.Name)
	defer span.End()

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			out = in
			failure = e.internalFailure(st.Name, fmt.Sprintf("panic: %v", rec))
		}
		dur = time.Since(start)
		if failure != nil {
			span.SetStatus(codes.Error, failure.Message)
		}
	}()

	result, err := st.Handler.Handle(ctx, in)
	if err != nil {
		if ctx.Err() != nil {
			return in, cancelledFailure(), 0
		}
		return in, e.internalFailure(st.Name, err.Error()), 0
	}
	if result == nil {
		return in, e.internalFailure(st.Name, "stage returned no state"), 0
	}
	if result.Failure != nil {
		f := result.Failure
		if f.Step == "" {
			f.Step = st.Name
		}
		return result, f, 0
	}
	return result, nil, 0
}

// ── Parallel groups ──────────────────────────────────────────

type groupResult struct {
	state    *models.State
	failure  *models.Failure
	duration time.Duration
}

// runGroup schedules the group's active stages concurrently against the
// same input snapshot and joins them.
//
// Error tie-breaking scans results in declaration order: the first stage
// carrying a failure wins and the other stages' writes are discarded. On
// success, extensions merge left to right in declaration order, later
// stages overwriting earlier on key conflicts; the request and failure
// fields are never taken from a parallel stage.
func (e *Executor) runGroup(ctx context.Context, group []Stage, snapshot *models.State) (*models.State, *models.Failure) {
	active := make([]Stage, 0, len(group))
	for _, st := range group {
		ok, failure := e.stageActive(ctx, st, snapshot)
		if failure != nil {
			return snapshot, failure
		}
		if ok {
			active = append(active, st)
		}
	}
	if len(active) == 0 {
		return snapshot, nil
	}

	results := make([]groupResult, len(active))
	g, gctx := errgroup.WithContext(ctx)
	for i, st := range active {
		i, st := i, st
		g.Go(func() error {
			out, failure, dur := e.call(gctx, st, snapshot)
			results[i] = groupResult{state: out, failure: failure, duration: dur}
			return nil
		})
	}
	_ = g.Wait() // goroutines only record results

	// Callbacks run on this goroutine, in declaration order.
	for i, st := range active {
		e.fireStepComplete(st.Name, results[i].duration)
	}

	if ctx.Err() != nil {
		return snapshot, cancelledFailure()
	}

	for i := range results {
		if f := results[i].failure; f != nil {
			if f.Step == "" {
				f.Step = active[i].Name
			}
			return snapshot, f
		}
	}

	merged := snapshot.Clone()
	for _, r := range results {
		for k, v := range r.state.Extensions {
			merged.Extensions[k] = v
		}
	}
	return merged, nil
}

// ── Failures & callbacks ─────────────────────────────────────

func (e *Executor) internalFailure(step, detail string) *models.Failure {
	f := &models.Failure{
		Message:    genericFailureMessage,
		StatusCode: models.StatusInternal,
		Step:       step,
	}
	if e.cfg.IncludeErrorDetails {
		f.Details = detail
	}
	return f
}

func cancelledFailure() *models.Failure {
	return &models.Failure{
		Message:    "Request cancelled.",
		StatusCode: models.StatusCancelled,
		Step:       cancelledStep,
	}
}

func (e *Executor) fireStepComplete(name string, d time.Duration) {
	cb := e.cfg.Callbacks.OnStepComplete
	if cb == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			log.Warn().Interface("panic", rec).Str("step", name).Msg("step-complete callback panicked")
		}
	}()
	cb(name, d)
}

func (e *Executor) fireError(f *models.Failure) {
	cb := e.cfg.Callbacks.OnError
	if cb == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			log.Warn().Interface("panic", rec).Msg("error callback panicked")
		}
	}()
	cb(models.ErrorView{
		Step:       f.Step,
		Message:    f.Message,
		StatusCode: f.StatusCode,
		RetryAfter: f.RetryAfter,
		Details:    f.Details,
	})
}
