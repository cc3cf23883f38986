package stages

import (
	"context"

	"github.com/flowline-ai/flowline/internal/intent"
	"github.com/flowline-ai/flowline/internal/pipeline"
	"github.com/flowline-ai/flowline/pkg/contracts"
	"github.com/flowline-ai/flowline/pkg/models"
)

// Intent builds the intent classification stage over a hybrid resolver.
// It classifies the last user message and writes the result to the
// "intent" extension. An empty conversation classifies as "general".
func Intent(resolver *intent.Resolver) pipeline.Stage {
	return pipeline.Stage{
		Name: StepIntent,
		Handler: contracts.HandlerFunc(func(ctx context.Context, s *models.State) (*models.State, error) {
			var message string
			if msg, ok := s.Request.LastUserMessage(); ok {
				message = msg.Text()
			}
			result := resolver.Classify(ctx, message)
			return s.WithExtension(models.ExtIntent, result), nil
		}),
	}
}
