// Package conditions provides pure predicates over the state record, used
// to gate plan stages. Primitives cover the common gates (intent, metadata,
// extension presence, authentication, content patterns); And/Or/Not compose
// them. Predicates may be asynchronous — they take a context and the
// executor awaits them even when trivially synchronous.
package conditions

import (
	"context"
	"regexp"

	"github.com/flowline-ai/flowline/pkg/models"
)

// Predicate decides whether a gated stage should run against a state.
type Predicate func(ctx context.Context, s *models.State) (bool, error)

// HasIntent is true when the intent stage classified the request into the
// given category.
func HasIntent(category string) Predicate {
	return func(_ context.Context, s *models.State) (bool, error) {
		ir, ok := s.Intent()
		return ok && ir.Intent == category, nil
	}
}

// HasMetadata is true when the request metadata contains key. With a
// non-nil want, the stored value must also equal it.
func HasMetadata(key string, want any) Predicate {
	return func(_ context.Context, s *models.State) (bool, error) {
		v, ok := s.Metadata(key)
		if !ok {
			return false, nil
		}
		if want == nil {
			return true, nil
		}
		return v == want, nil
	}
}

// HasExtension is true when the state carries the extension key. With a
// non-nil want, the stored value must also equal it.
func HasExtension(key string, want any) Predicate {
	return func(_ context.Context, s *models.State) (bool, error) {
		v, ok := s.Extension(key)
		if !ok {
			return false, nil
		}
		if want == nil {
			return true, nil
		}
		return v == want, nil
	}
}

// IsFirstMessage is true when the request carries at most one user message.
func IsFirstMessage() Predicate {
	return func(_ context.Context, s *models.State) (bool, error) {
		return s.Request.UserMessageCount() <= 1, nil
	}
}

// IsAuthenticated is true when metadata identifies a user: userId present,
// or authenticated == true.
func IsAuthenticated() Predicate {
	return func(_ context.Context, s *models.State) (bool, error) {
		if v, ok := s.Metadata("userId"); ok {
			if id, isStr := v.(string); !isStr || id != "" {
				return true, nil
			}
		}
		v, ok := s.Metadata("authenticated")
		return ok && v == true, nil
	}
}

// MatchesPattern is true when the last message's text content matches the
// regular expression.
func MatchesPattern(re *regexp.Regexp) Predicate {
	return func(_ context.Context, s *models.State) (bool, error) {
		msg, ok := s.Request.LastMessage()
		if !ok {
			return false, nil
		}
		return re.MatchString(msg.Text()), nil
	}
}

// And is true when every predicate is true. Evaluation short-circuits on
// the first false or error.
func And(ps ...Predicate) Predicate {
	return func(ctx context.Context, s *models.State) (bool, error) {
		for _, p := range ps {
			ok, err := p(ctx, s)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	}
}

// Or is true when any predicate is true. Evaluation short-circuits on the
// first true or error.
func Or(ps ...Predicate) Predicate {
	return func(ctx context.Context, s *models.State) (bool, error) {
		for _, p := range ps {
			ok, err := p(ctx, s)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
}

// Not inverts a predicate. Errors pass through.
func Not(p Predicate) Predicate {
	return func(ctx context.Context, s *models.State) (bool, error) {
		ok, err := p(ctx, s)
		if err != nil {
			return false, err
		}
		return !ok, nil
	}
}
