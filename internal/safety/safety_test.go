package safety

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func baseInput() Input {
	return Input{
		HeldPositionCount: 1,
		OrdersPlacedToday: 0,
		Now:               time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC), // a Monday
		PnLRatioPct:       0,
		PnLRatioKnown:     true,
		OrderNotionalPct:  5,
		NotionalKnown:     true,
	}
}

func TestEvaluateApprovesCleanInput(t *testing.T) {
	r := Evaluate(baseInput())
	assert.True(t, r.Approved)
	assert.Len(t, r.Checks, 5)
}

func TestPositionCountGateRejectsAtCap(t *testing.T) {
	in := baseInput()
	in.HeldPositionCount = maxHeldPositions
	r := Evaluate(in)
	assert.False(t, r.Approved)
}

func TestDailyTradeCapGateRejectsAtCap(t *testing.T) {
	in := baseInput()
	in.OrdersPlacedToday = maxOrdersPerDay
	r := Evaluate(in)
	assert.False(t, r.Approved)
}

func TestTimeOfWeekGateRejectsFridayLateAfternoon(t *testing.T) {
	in := baseInput()
	in.Now = time.Date(2026, 8, 7, 14, 30, 0, 0, time.UTC) // a Friday
	r := Evaluate(in)
	assert.False(t, r.Approved)
}

func TestTimeOfWeekGateApprovesFridayMorning(t *testing.T) {
	in := baseInput()
	in.Now = time.Date(2026, 8, 7, 9, 0, 0, 0, time.UTC)
	r := Evaluate(in)
	assert.True(t, r.Approved)
}

func TestLossCapGateDefaultsToApproveWhenUnknown(t *testing.T) {
	in := baseInput()
	in.PnLRatioKnown = false
	r := Evaluate(in)
	assert.True(t, r.Approved, "a broker call failure must not block trading")
}

func TestLossCapGateRejectsBelowFloor(t *testing.T) {
	in := baseInput()
	in.PnLRatioPct = -2.5
	r := Evaluate(in)
	assert.False(t, r.Approved)
}

func TestSizeCapGateDefaultsToApproveWhenUnknown(t *testing.T) {
	in := baseInput()
	in.NotionalKnown = false
	r := Evaluate(in)
	assert.True(t, r.Approved)
}

func TestSizeCapGateRejectsOverCap(t *testing.T) {
	in := baseInput()
	in.OrderNotionalPct = 10.1
	r := Evaluate(in)
	assert.False(t, r.Approved)
}
