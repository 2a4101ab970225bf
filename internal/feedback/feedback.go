// Package feedback implements the post-exit learning loop: classify every
// closed trade, adjust the acceptance threshold, arm the circuit breaker
// on a losing streak, and nudge trap pattern weights when the exit traces
// back to a known trap.
package feedback

import (
	"context"
	"sync"

	"github.com/joungwonlim/aegis-v3/internal/domain"
	"github.com/joungwonlim/aegis-v3/internal/trap"
)

const (
	MinScoreFloor   = 65.0
	MinScoreCeiling = 80.0
	DefaultMinScore = 70.0

	consecutiveFailuresForBump    = 3
	consecutiveSuccessesForCut    = 5
	consecutiveFailuresForBreaker = 5

	minScoreBump = 3.0
	minScoreCut  = 2.0
)

// Narrator produces a short lesson string for a losing trade. A failure is
// non-fatal: the row is still persisted, just without a lesson.
type Narrator interface {
	Narrate(ctx context.Context, tf domain.TradeFeedback) (lesson string, err error)
}

// Engine holds the mutable state the commander gate reads: MinScore and
// CircuitBreakerActive. ProcessExit runs on the pipeline's execute
// goroutine while State is read concurrently from the command stage of
// whatever invocation is running, so both fields sit behind one mutex:
// the read side never observes a torn update.
type Engine struct {
	narrator Narrator

	mu           sync.RWMutex
	minScore     float64
	breakerArmed bool
}

func New(narrator Narrator) *Engine {
	return &Engine{narrator: narrator, minScore: DefaultMinScore}
}

// State is a consistent snapshot of the values the commander gate reads.
type State struct {
	MinScore      float64
	CircuitBroken bool
}

func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return State{MinScore: e.minScore, CircuitBroken: e.breakerArmed}
}

// Classify assigns ResultClass/ResultDetail from a realized return
// percentage.
func Classify(returnPct float64) (domain.ResultClass, domain.ResultDetail) {
	switch {
	case returnPct >= 5.0:
		return domain.ResultSuccess, domain.DetailPerfect
	case returnPct >= 3.0:
		return domain.ResultSuccess, domain.DetailGood
	case returnPct <= -3.0:
		return domain.ResultFailure, domain.DetailSevereLoss
	case returnPct <= -2.0:
		return domain.ResultFailure, domain.DetailStopLoss
	case returnPct <= -1.0:
		return domain.ResultFailure, domain.DetailMinorLoss
	default:
		return domain.ResultNeutral, domain.DetailBreakeven
	}
}

// ConsecutiveStreaks scans the most recent exits (newest first) and
// returns how many consecutive failures, then how many consecutive
// successes, sit at the head of the slice. Only one of the two can be
// nonzero, since the head exit is either a failure or it isn't.
func ConsecutiveStreaks(recentNewestFirst []domain.ResultClass) (failures, successes int) {
	if len(recentNewestFirst) == 0 {
		return 0, 0
	}
	switch recentNewestFirst[0] {
	case domain.ResultFailure:
		for _, r := range recentNewestFirst {
			if r != domain.ResultFailure {
				break
			}
			failures++
		}
	case domain.ResultSuccess:
		for _, r := range recentNewestFirst {
			if r != domain.ResultSuccess {
				break
			}
			successes++
		}
	}
	return failures, successes
}

// ProcessExit runs the full post-exit pipeline: classify, recompute
// streaks, adjust MinScore, arm the breaker, and request a narrative
// lesson for failures. It persists nothing; the caller stores the
// returned TradeFeedback. recentHistory
// must already include this exit at index 0 (newest first).
func (e *Engine) ProcessExit(ctx context.Context, tf domain.TradeFeedback, recentHistory []domain.ResultClass) domain.TradeFeedback {
	class, detail := Classify(tf.ReturnPct)
	tf.Result = class
	tf.Detail = detail

	failures, successes := ConsecutiveStreaks(recentHistory)

	e.mu.Lock()
	if failures >= consecutiveFailuresForBump && failures%consecutiveFailuresForBump == 0 {
		e.minScore = domain.Clip(e.minScore+minScoreBump, MinScoreFloor, MinScoreCeiling)
	}
	if successes >= consecutiveSuccessesForCut && successes%consecutiveSuccessesForCut == 0 {
		e.minScore = domain.Clip(e.minScore-minScoreCut, MinScoreFloor, MinScoreCeiling)
	}
	if failures >= consecutiveFailuresForBreaker {
		e.breakerArmed = true
	}
	e.mu.Unlock()

	if class == domain.ResultFailure && e.narrator != nil {
		if lesson, err := e.narrator.Narrate(ctx, tf); err == nil {
			tf.ExitReason = appendLesson(tf.ExitReason, lesson)
		}
	}

	return tf
}

func appendLesson(reason, lesson string) string {
	if lesson == "" {
		return reason
	}
	if reason == "" {
		return lesson
	}
	return reason + "; " + lesson
}

// ResetCircuitBreaker is called by the daily settlement job: the breaker
// stays armed only until the next settlement.
func (e *Engine) ResetCircuitBreaker() {
	e.mu.Lock()
	e.breakerArmed = false
	e.mu.Unlock()
}

// AdjustTrapWeight folds one correct/wrong observation into w using the
// same bounded adjustment the trap detector learns from.
func AdjustTrapWeight(w domain.TrapPatternWeight, correct bool) domain.TrapPatternWeight {
	return trap.AdjustWeight(w, correct)
}
