package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joungwonlim/aegis-v3/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestUpsertAndListPositions(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	pos := domain.Position{Symbol: "005930", Quantity: 10, AverageCost: 70000, FirstEntryAt: time.Now()}
	require.NoError(t, st.UpsertPosition(ctx, pos))

	positions, err := st.ListPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "005930", positions[0].Symbol)

	pos.Quantity = 20
	require.NoError(t, st.UpsertPosition(ctx, pos))
	positions, err = st.ListPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1, "upsert must update in place, not insert a second row")
	assert.Equal(t, int64(20), positions[0].Quantity)
}

func TestExistsByLogicalKeyIsFalseUntilInserted(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	exists, err := st.ExistsByLogicalKey(ctx, "inv-1:005930:buy")
	require.NoError(t, err)
	assert.False(t, exists)

	order := domain.Order{
		BrokerOrderID: "bo-1", Symbol: "005930", Side: domain.SideBuy,
		Venue: domain.VenuePrimary, RequestedQty: 10, Status: domain.OrderPending,
		PlacedAt: time.Now(), LogicalOrderKey: "inv-1:005930:buy",
	}
	require.NoError(t, st.InsertOrder(ctx, order))

	exists, err = st.ExistsByLogicalKey(ctx, "inv-1:005930:buy")
	require.NoError(t, err)
	assert.True(t, exists, "the same logical key must be recognized as already submitted")
}

func TestGetPatternWeightSeedsDefault(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	w, err := st.GetPatternWeight(ctx, "spoofing", 0.5)
	require.NoError(t, err)
	assert.Equal(t, 0.5, w.Weight)

	require.NoError(t, st.UpsertPatternWeight(ctx, domain.TrapPatternWeight{
		Pattern: "spoofing", Weight: 0.62, TotalObservations: 3, CorrectObservations: 2,
	}))

	w, err = st.GetPatternWeight(ctx, "spoofing", 0.5)
	require.NoError(t, err)
	assert.Equal(t, 0.62, w.Weight)
}

func TestGetSettingFallsBackWhenUnset(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	v, err := st.GetSetting(ctx, "missing-key", "fallback-value")
	require.NoError(t, err)
	assert.Equal(t, "fallback-value", v)

	require.NoError(t, st.SetSetting(ctx, "missing-key", "stored-value"))
	v, err = st.GetSetting(ctx, "missing-key", "fallback-value")
	require.NoError(t, err)
	assert.Equal(t, "stored-value", v)
}

func TestDeletePositionRemovesRow(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertPosition(ctx, domain.Position{Symbol: "005930", Quantity: 10, AverageCost: 70000, FirstEntryAt: time.Now()}))
	_, found, err := st.GetPosition(ctx, "005930")
	require.NoError(t, err)
	require.True(t, found)

	require.NoError(t, st.DeletePosition(ctx, "005930"))
	_, found, err = st.GetPosition(ctx, "005930")
	require.NoError(t, err)
	assert.False(t, found, "a fully-sold position must not remain in the store")
}

func TestApplyFillTransitionsOrderAndUpsertsPosition(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	order := domain.Order{
		BrokerOrderID: "bo-1", Symbol: "005930", Side: domain.SideBuy, Venue: domain.VenuePrimary,
		RequestedQty: 10, Status: domain.OrderPending, PlacedAt: time.Now(), LogicalOrderKey: "inv-1:005930:buy",
	}
	require.NoError(t, st.InsertOrder(ctx, order))

	pos := domain.Position{Symbol: "005930", Quantity: 10, AverageCost: 70000, FirstEntryAt: time.Now()}
	require.NoError(t, st.ApplyFill(ctx, "bo-1", 10, 70000, time.Now(), domain.OrderFilled, pos))

	got, found, err := st.GetOrderByBrokerID(ctx, "bo-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, domain.OrderFilled, got.Status)
	assert.Equal(t, int64(10), got.FilledQty)

	storedPos, found, err := st.GetPosition(ctx, "005930")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(10), storedPos.Quantity)
}

func TestApplyFillDeletesPositionOnZeroQuantity(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertPosition(ctx, domain.Position{Symbol: "005930", Quantity: 10, AverageCost: 70000, FirstEntryAt: time.Now()}))
	order := domain.Order{
		BrokerOrderID: "bo-2", Symbol: "005930", Side: domain.SideSell, Venue: domain.VenuePrimary,
		RequestedQty: 10, Status: domain.OrderPending, PlacedAt: time.Now(), LogicalOrderKey: "inv-1:005930:sell",
	}
	require.NoError(t, st.InsertOrder(ctx, order))

	require.NoError(t, st.ApplyFill(ctx, "bo-2", 10, 72000, time.Now(), domain.OrderFilled, domain.Position{Symbol: "005930", Quantity: 0}))

	_, found, err := st.GetPosition(ctx, "005930")
	require.NoError(t, err)
	assert.False(t, found, "a fill that zeroes quantity must delete the position within the same transaction")
}

func TestLatestDecisionForSymbolReturnsMostRecent(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.AppendDecision(ctx, DecisionRow{CreatedAt: time.Now(), Symbol: "005930", TrapPattern: "fake_rise"}))
	require.NoError(t, st.AppendDecision(ctx, DecisionRow{CreatedAt: time.Now(), Symbol: "005930", TrapPattern: "gap_overheat"}))

	d, found, err := st.LatestDecisionForSymbol(ctx, "005930")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "gap_overheat", d.TrapPattern)
}

func TestRecentResultsOrderedNewestFirst(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	require.NoError(t, st.InsertTradeFeedback(ctx, domain.TradeFeedback{
		Symbol: "A", Result: domain.ResultFailure, ClosedAt: base,
	}))
	require.NoError(t, st.InsertTradeFeedback(ctx, domain.TradeFeedback{
		Symbol: "B", Result: domain.ResultSuccess, ClosedAt: base.Add(time.Minute),
	}))

	results, err := st.RecentResults(ctx, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, domain.ResultSuccess, results[0], "newest exit must come first")
	assert.Equal(t, domain.ResultFailure, results[1])
}
