// Package llm defines the two external reasoner collaborators the
// pipeline calls into: a fast generalist for intraday scoring and a
// slower model for scenario veto and post-trade lessons. Both speak the
// same prompt-in, text-out contract; callers are responsible for
// defensive parsing of whatever structure they expect back.
package llm

import (
	"context"
	"time"
)

const (
	FastTimeout = 30 * time.Second
	SlowTimeout = 60 * time.Second
)

// Result is the structured triple a reasoner call may return instead of
// a bare string, when the collaborator supports it.
type Result struct {
	Reasoning string
	Answer    string
	Raw       string
}

// Fast is the low-latency generalist used for intraday scoring.
type Fast interface {
	Ask(ctx context.Context, prompt string) (Result, error)
}

// Slow is the higher-latency reasoning model used for scenario veto and
// post-trade narrative lessons.
type Slow interface {
	Ask(ctx context.Context, prompt string) (Result, error)
}

// WithTimeout wraps ctx with the given collaborator's fixed budget.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d)
}
