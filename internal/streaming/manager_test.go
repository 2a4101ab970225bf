package streaming

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joungwonlim/aegis-v3/internal/domain"
)

func newTestManager() *Manager {
	return New(func() Conn { return nil }, nil, nil, zerolog.Nop())
}

func TestSubscribeCapsAtMaxSlots(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	for i := 0; i < MaxSlots; i++ {
		sym := fmt.Sprintf("SYM%02d", i)
		require.NoError(t, m.Subscribe(ctx, sym, "trade", domain.PriorityOpportunistic))
	}
	assert.Equal(t, MaxSlots, m.Status().Total)

	err := m.Subscribe(ctx, "OVERFLOW", "trade", domain.PriorityOpportunistic)
	assert.Error(t, err, "a full table of equal-or-higher priority slots has nothing evictable for priority 3")
	assert.Equal(t, MaxSlots, m.Status().Total)
}

func TestSubscribeEvictsLowerPriorityWhenFull(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	for i := 0; i < MaxSlots; i++ {
		sym := fmt.Sprintf("OPP%02d", i)
		require.NoError(t, m.Subscribe(ctx, sym, "trade", domain.PriorityOpportunistic))
	}

	require.NoError(t, m.Subscribe(ctx, "HELD1", "trade", domain.PriorityHeld))
	st := m.Status()
	assert.Equal(t, MaxSlots, st.Total)
	assert.Equal(t, 1, st.Priority1)
	assert.Equal(t, MaxSlots-1, st.Priority3)
}

func TestSyncWithPositionsKeepsPriorityOneIdentical(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	require.NoError(t, m.SyncWithPositions(ctx, []string{"A", "B", "C"}))
	assert.Equal(t, 3, m.Status().Priority1)

	require.NoError(t, m.SyncWithPositions(ctx, []string{"B", "C", "D"}))
	st := m.Status()
	assert.Equal(t, 3, st.Priority1)

	symbols := m.Symbols(domain.PriorityHeld)
	assert.ElementsMatch(t, []string{"B", "C", "D"}, symbols)
}

func TestUpdateDailyPicksReplacesPriorityTwoAndCaps(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	picks := make([]string, MaxDailyPicks+5)
	for i := range picks {
		picks[i] = fmt.Sprintf("PICK%02d", i)
	}
	require.NoError(t, m.UpdateDailyPicks(ctx, picks))
	assert.Equal(t, MaxDailyPicks, m.Status().Priority2)
}

func TestSubscribeEvictsOldestPriorityThreeForPriorityTwoCandidate(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		require.NoError(t, m.Subscribe(ctx, fmt.Sprintf("HELD%02d", i), "trade", domain.PriorityHeld))
	}
	for i := 0; i < 10; i++ {
		require.NoError(t, m.Subscribe(ctx, fmt.Sprintf("OPP%02d", i), "trade", domain.PriorityOpportunistic))
	}
	require.Equal(t, MaxSlots, m.Status().Total)

	require.NoError(t, m.Subscribe(ctx, "NEWPICK", "trade", domain.PriorityDailyPick))

	st := m.Status()
	assert.Equal(t, MaxSlots, st.Total, "eviction must keep the table at exactly its cap")
	assert.Equal(t, 30, st.Priority1)
	assert.Equal(t, 1, st.Priority2)
	assert.Equal(t, 9, st.Priority3, "exactly one priority-3 slot must be evicted for the new priority-2 candidate")
}

func TestSubscribeIsIdempotentPerSymbol(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	require.NoError(t, m.Subscribe(ctx, "AAA", "trade", domain.PriorityHeld))
	require.NoError(t, m.Subscribe(ctx, "AAA", "trade", domain.PriorityOpportunistic))
	assert.Equal(t, 1, m.Status().Total)
}
