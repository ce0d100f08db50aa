package llm

import (
	"context"

	"github.com/talgya/crossworlds/internal/observation"
	"github.com/talgya/crossworlds/internal/rng"
)

// FallbackAdapter is an Adapter that always returns the deterministic
// fallback decision — used for TEST_MODE, for policy types with no
// credentialed adapter registered, and as Registry's default.
type FallbackAdapter struct {
	src *rng.Source
}

// NewFallbackAdapter constructs a fallback-only adapter.
func NewFallbackAdapter(src *rng.Source) *FallbackAdapter {
	return &FallbackAdapter{src: src}
}

func (f *FallbackAdapter) Decide(_ context.Context, obs observation.Observation) (Decision, error) {
	return Fallback(obs, f.src), nil
}

func (f *FallbackAdapter) IsAvailable() bool { return true }

func (f *FallbackAdapter) CallWithRawPrompt(context.Context, string, CallOpts) (CallResult, error) {
	return CallResult{}, ErrAdapterUnavailable
}
