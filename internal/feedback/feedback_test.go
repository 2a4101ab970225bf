package feedback

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joungwonlim/aegis-v3/internal/domain"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		returnPct float64
		class     domain.ResultClass
		detail    domain.ResultDetail
	}{
		{6.0, domain.ResultSuccess, domain.DetailPerfect},
		{3.5, domain.ResultSuccess, domain.DetailGood},
		{0.0, domain.ResultNeutral, domain.DetailBreakeven},
		{-1.5, domain.ResultFailure, domain.DetailMinorLoss},
		{-2.5, domain.ResultFailure, domain.DetailStopLoss},
		{-4.0, domain.ResultFailure, domain.DetailSevereLoss},
	}
	for _, tc := range cases {
		class, detail := Classify(tc.returnPct)
		assert.Equal(t, tc.class, class, "returnPct=%v", tc.returnPct)
		assert.Equal(t, tc.detail, detail, "returnPct=%v", tc.returnPct)
	}
}

func TestConsecutiveStreaks(t *testing.T) {
	f, s := ConsecutiveStreaks([]domain.ResultClass{
		domain.ResultFailure, domain.ResultFailure, domain.ResultSuccess,
	})
	assert.Equal(t, 2, f)
	assert.Equal(t, 0, s)

	f, s = ConsecutiveStreaks([]domain.ResultClass{
		domain.ResultSuccess, domain.ResultSuccess, domain.ResultSuccess, domain.ResultFailure,
	})
	assert.Equal(t, 0, f)
	assert.Equal(t, 3, s)

	f, s = ConsecutiveStreaks(nil)
	assert.Equal(t, 0, f)
	assert.Equal(t, 0, s)
}

func TestMinScoreStaysWithinBounds(t *testing.T) {
	e := New(nil)
	require.Equal(t, DefaultMinScore, e.State().MinScore)

	history := []domain.ResultClass{domain.ResultFailure, domain.ResultFailure, domain.ResultFailure}
	for i := 0; i < 10; i++ {
		e.ProcessExit(context.Background(), domain.TradeFeedback{ReturnPct: -3.5}, history)
		assert.LessOrEqual(t, e.State().MinScore, MinScoreCeiling)
		assert.GreaterOrEqual(t, e.State().MinScore, MinScoreFloor)
	}
}

func TestMinScoreBumpsAtThirdConsecutiveFailure(t *testing.T) {
	e := New(nil)
	history := []domain.ResultClass{}
	for i := 0; i < 3; i++ {
		history = append([]domain.ResultClass{domain.ResultFailure}, history...)
		e.ProcessExit(context.Background(), domain.TradeFeedback{ReturnPct: -3.5}, history)
	}
	assert.Equal(t, DefaultMinScore+minScoreBump, e.State().MinScore, "the third consecutive failure must bump MIN_SCORE by 3")
}

// TestConcurrentStateAndProcessExit exercises State reads against
// ProcessExit writes from separate goroutines; run with -race to confirm
// minScore/breakerArmed never tear under concurrent access.
func TestConcurrentStateAndProcessExit(t *testing.T) {
	e := New(nil)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			e.ProcessExit(context.Background(), domain.TradeFeedback{ReturnPct: -3.5}, []domain.ResultClass{domain.ResultFailure, domain.ResultFailure})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_ = e.State()
		}
	}()
	wg.Wait()
}

func TestCircuitBreakerArmsAndResets(t *testing.T) {
	e := New(nil)
	require.False(t, e.State().CircuitBroken)

	failures := []domain.ResultClass{
		domain.ResultFailure, domain.ResultFailure, domain.ResultFailure,
		domain.ResultFailure, domain.ResultFailure,
	}
	e.ProcessExit(context.Background(), domain.TradeFeedback{ReturnPct: -3.5}, failures)
	assert.True(t, e.State().CircuitBroken)

	e.ResetCircuitBreaker()
	assert.False(t, e.State().CircuitBroken)
}

type stubNarrator struct {
	lesson string
	err    error
}

func (s stubNarrator) Narrate(ctx context.Context, tf domain.TradeFeedback) (string, error) {
	return s.lesson, s.err
}

func TestProcessExitAppendsLessonOnFailure(t *testing.T) {
	e := New(stubNarrator{lesson: "watch the resistance level"})
	tf := e.ProcessExit(context.Background(), domain.TradeFeedback{ReturnPct: -3.0, ExitReason: "stop-loss"}, nil)
	assert.Equal(t, domain.ResultFailure, tf.Result)
	assert.Contains(t, tf.ExitReason, "watch the resistance level")
}

func TestProcessExitSkipsLessonOnSuccess(t *testing.T) {
	e := New(stubNarrator{lesson: "should not appear"})
	tf := e.ProcessExit(context.Background(), domain.TradeFeedback{ReturnPct: 4.0, ExitReason: "take-profit"}, nil)
	assert.Equal(t, domain.ResultSuccess, tf.Result)
	assert.Equal(t, "take-profit", tf.ExitReason)
}
