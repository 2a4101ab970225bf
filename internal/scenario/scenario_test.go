package scenario

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func historyWithWins(wins, losses int, avgReturn float64) HistoryLookup {
	return func(ctx context.Context, symbol string) ([]HistoricalAnalog, error) {
		var analogs []HistoricalAnalog
		for i := 0; i < wins; i++ {
			analogs = append(analogs, HistoricalAnalog{Return: avgReturn})
		}
		for i := 0; i < losses; i++ {
			analogs = append(analogs, HistoricalAnalog{Return: -avgReturn})
		}
		return analogs, nil
	}
}

type stubScenarioReasoner struct {
	approved bool
	err      error
}

func (s stubScenarioReasoner) ReviewScenario(ctx context.Context, summary Summary) (bool, error) {
	return s.approved, s.err
}

func TestValidateWithNoReasonerFollowsNumericThresholds(t *testing.T) {
	v := New(historyWithWins(9, 1, 6.0), nil)
	verdict := v.Validate(context.Background(), Input{
		Symbol: "005930", CurrentPrice: 70000, AIReturnPct: 8.0, TargetPrice: 75000,
	})
	assert.True(t, verdict.Approved, "strong history and a healthy predicted return should clear threshold")
}

func TestValidateReasonerErrorDefaultsToApproved(t *testing.T) {
	v := New(historyWithWins(9, 1, 6.0), stubScenarioReasoner{approved: false, err: errors.New("llm timeout")})
	verdict := v.Validate(context.Background(), Input{
		Symbol: "005930", CurrentPrice: 70000, AIReturnPct: 8.0, TargetPrice: 75000,
	})
	assert.True(t, verdict.Approved, "a reasoner outage must not block trading")
}

func TestValidateReasonerVetoOverridesNumericApproval(t *testing.T) {
	v := New(historyWithWins(9, 1, 6.0), stubScenarioReasoner{approved: false})
	verdict := v.Validate(context.Background(), Input{
		Symbol: "005930", CurrentPrice: 70000, AIReturnPct: 8.0, TargetPrice: 75000,
	})
	assert.False(t, verdict.Approved)
	assert.Equal(t, "reasoner veto", verdict.Reason)
}

func TestValidateWeakHistoryRejects(t *testing.T) {
	v := New(historyWithWins(1, 9, 4.0), nil)
	verdict := v.Validate(context.Background(), Input{
		Symbol: "005930", CurrentPrice: 70000, AIReturnPct: -3.0, TargetPrice: 68000,
	})
	assert.False(t, verdict.Approved)
}

func TestRecommendedQtyNeverBelowOne(t *testing.T) {
	qty := recommendedQty(0, 50, 1_000_000_000)
	assert.GreaterOrEqual(t, qty, int64(1))
}
