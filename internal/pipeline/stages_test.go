package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joungwonlim/aegis-v3/internal/domain"
	"github.com/joungwonlim/aegis-v3/internal/feedback"
	"github.com/joungwonlim/aegis-v3/internal/store"
	"github.com/joungwonlim/aegis-v3/internal/trap"
)

func TestCombineBuyAboveThreshold(t *testing.T) {
	s := combine("005930", 80, 80, 70000)
	assert.Equal(t, domain.ActionBuy, s.Action)
	assert.Equal(t, 80.0, s.FinalScore)
}

func TestCombineSellBelowThreshold(t *testing.T) {
	s := combine("005930", 30, 35, 70000)
	assert.Equal(t, domain.ActionSell, s.Action)
}

func TestCombineHoldInMiddleBand(t *testing.T) {
	s := combine("005930", 60, 60, 70000)
	assert.Equal(t, domain.ActionHold, s.Action)
}

func TestCombineUncertaintyOverridesBuy(t *testing.T) {
	// quant and ai individually would combine above 75, but their
	// disagreement exceeds the uncertainty band so the result must hold.
	s := combine("005930", 95, 55, 70000)
	assert.Equal(t, domain.ActionHold, s.Action)
}

func TestCombineTargetStopBandsScaleWithScore(t *testing.T) {
	high := combine("A", 90, 90, 100000)
	low := combine("B", 65, 65, 100000)
	assert.Greater(t, high.TargetPrice, low.TargetPrice)
	assert.Greater(t, high.StopPrice, low.StopPrice)
}

func TestNotionalRatioUnknownWhenEquityMissing(t *testing.T) {
	_, known := notionalRatio(10, 1000, 0)
	assert.False(t, known)
}

func TestNotionalRatioComputed(t *testing.T) {
	pct, known := notionalRatio(10, 1000, 100000)
	assert.True(t, known)
	assert.Equal(t, 10.0, pct)
}

func TestPnLRatioFromUnknownWithoutSnapshot(t *testing.T) {
	_, known := pnlRatioFrom(domain.AccountSnapshot{}, false)
	assert.False(t, known)
}

func TestPnLRatioFromComputed(t *testing.T) {
	pct, known := pnlRatioFrom(domain.AccountSnapshot{TotalEquity: 1_000_000, RealizedPnLToday: -20_000}, true)
	assert.True(t, known)
	assert.Equal(t, -2.0, pct)
}

func TestNotifyLevelForSide(t *testing.T) {
	assert.Equal(t, "warning", string(notifyLevelFor(domain.SideSell)))
	assert.Equal(t, "info", string(notifyLevelFor(domain.SideBuy)))
}

func TestStartOfDayZeroesClock(t *testing.T) {
	ts := time.Date(2026, 8, 1, 15, 30, 45, 0, time.UTC)
	sod := startOfDay(ts)
	assert.Equal(t, 0, sod.Hour())
	assert.Equal(t, 0, sod.Minute())
	assert.Equal(t, ts.Day(), sod.Day())
}

func TestClosePositionPersistsFeedbackAdjustsWeightAndDeletesPosition(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	require.NoError(t, st.AppendDecision(ctx, store.DecisionRow{
		CreatedAt: time.Now(), Symbol: "005930", QuantScore: 70, AIScore: 65, TrapPattern: "fake_rise",
	}))
	require.NoError(t, st.UpsertPosition(ctx, domain.Position{
		Symbol: "005930", Quantity: 10, AverageCost: 70000, FirstEntryAt: time.Now(),
	}))

	p := &Pipeline{store: st, feedback: feedback.New(nil), log: zerolog.Nop()}
	pos := domain.Position{Symbol: "005930", Quantity: 10, AverageCost: 70000, FirstEntryAt: time.Now()}
	p.closePosition(ctx, pos, 68000, "stop-loss")

	_, found, err := st.GetPosition(ctx, "005930")
	require.NoError(t, err)
	assert.False(t, found, "a fully exited position must be removed from the store")

	results, err := st.RecentResults(ctx, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, domain.ResultFailure, results[0])

	w, err := st.GetPatternWeight(ctx, "fake_rise", trap.DefaultWeight)
	require.NoError(t, err)
	assert.Greater(t, w.Weight, trap.DefaultWeight, "a loss traced to the entry's trap pattern must raise its weight")
}
