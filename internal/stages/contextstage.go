package stages

import (
	"context"

	"github.com/flowline-ai/flowline/internal/pipeline"
	"github.com/flowline-ai/flowline/pkg/contracts"
	"github.com/flowline-ai/flowline/pkg/models"
)

// dynamicContextStep is the step name reported when context assembly
// fails; it identifies the failing collaborator rather than the stage's
// position in the plan.
const dynamicContextStep = "dynamicContext"

// ContextBuilder assembles a prompt-context selection for a state. The
// dynamic engine in internal/promptctx is the stock implementation.
type ContextBuilder interface {
	Build(ctx context.Context, s *models.State) (*models.Selection, error)
}

// PromptContext builds the context assembly stage. A builder failure —
// loader down with no fallback catalog — stops the plan with a 500
// failure attributed to "dynamicContext".
func PromptContext(builder ContextBuilder) pipeline.Stage {
	return pipeline.Stage{
		Name: StepPromptContext,
		Handler: contracts.HandlerFunc(func(ctx context.Context, s *models.State) (*models.State, error) {
			sel, err := builder.Build(ctx, s)
			if err != nil {
				return s.WithFailure(&models.Failure{
					Message:    "Something went wrong processing your request.",
					StatusCode: models.StatusInternal,
					Step:       dynamicContextStep,
				}), nil
			}
			return s.WithExtension(models.ExtPromptContext, sel), nil
		}),
	}
}
