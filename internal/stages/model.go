package stages

import (
	"context"

	"github.com/flowline-ai/flowline/internal/pipeline"
	"github.com/flowline-ai/flowline/pkg/contracts"
	"github.com/flowline-ai/flowline/pkg/models"
)

// ModelOptions tunes the model invocation stage.
type ModelOptions struct {
	Model       string
	MaxTokens   int
	Temperature float64

	// Stream switches to incremental generation; OnChunk receives each
	// text chunk as it arrives.
	Stream  bool
	OnChunk contracts.StreamFunc
}

// Model builds the model invocation stage. The system prompt comes from
// the promptContext extension when a context stage ran earlier in the
// plan; the conversation is passed through as-is. The response is written
// to the "aiResponse" extension. Provider faults surface as 500 failures
// via the executor's error conversion.
func Model(invoker contracts.ModelInvoker, opts ModelOptions) pipeline.Stage {
	return pipeline.Stage{
		Name: StepModel,
		Handler: contracts.HandlerFunc(func(ctx context.Context, s *models.State) (*models.State, error) {
			req := models.GenerateRequest{
				Messages:    s.Request.Messages,
				Model:       opts.Model,
				MaxTokens:   opts.MaxTokens,
				Temperature: opts.Temperature,
			}
			if sel, ok := s.PromptContext(); ok {
				req.System = sel.SystemPrompt
			}

			var (
				resp *models.GenerateResponse
				err  error
			)
			if opts.Stream {
				resp, err = invoker.Stream(ctx, req, opts.OnChunk)
			} else {
				resp, err = invoker.Generate(ctx, req)
			}
			if err != nil {
				return nil, err
			}
			return s.WithExtension(models.ExtAIResponse, resp), nil
		}),
	}
}
