package stages

import (
	"context"

	"github.com/flowline-ai/flowline/internal/pipeline"
	"github.com/flowline-ai/flowline/pkg/contracts"
	"github.com/flowline-ai/flowline/pkg/models"
)

// anonymousIdentifier buckets requests that carry neither a user ID nor a
// session ID.
const anonymousIdentifier = "anonymous"

// RateLimit builds the rate-limit stage over a RateLimiter capability.
// The identifier is metadata userId, then sessionId, then "anonymous".
// A denied check stops the plan with a 429 failure carrying RetryAfter.
func RateLimit(limiter contracts.RateLimiter) pipeline.Stage {
	return pipeline.Stage{
		Name: StepRateLimit,
		Handler: contracts.HandlerFunc(func(ctx context.Context, s *models.State) (*models.State, error) {
			id := rateIdentifier(s)

			decision, err := limiter.Check(ctx, id)
			if err != nil {
				return nil, err
			}

			next := s.WithExtension(models.ExtRateLimit, &models.RateLimitInfo{
				Identifier: id,
				Allowed:    decision.Allowed,
				RetryAfter: decision.RetryAfter,
			})
			if decision.Allowed {
				return next, nil
			}
			return next.WithFailure(&models.Failure{
				Message:    "Too many requests. Please try again later.",
				StatusCode: models.StatusRateLimited,
				RetryAfter: decision.RetryAfter,
				Step:       StepRateLimit,
			}), nil
		}),
	}
}

func rateIdentifier(s *models.State) string {
	for _, key := range []string{"userId", "sessionId"} {
		if v, ok := s.Metadata(key); ok {
			if id, isStr := v.(string); isStr && id != "" {
				return id
			}
		}
	}
	return anonymousIdentifier
}
