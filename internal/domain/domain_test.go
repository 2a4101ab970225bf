package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPositionTouchIsMonotonic(t *testing.T) {
	p := Position{Quantity: 10, AverageCost: 1000, MaxPriceSinceEntry: 1100}
	p.Touch(1050)
	assert.Equal(t, int64(1100), p.MaxPriceSinceEntry, "touch must not lower the high water mark")
	p.Touch(1200)
	assert.Equal(t, int64(1200), p.MaxPriceSinceEntry)
}

func TestPositionTouchNoopWhenClosed(t *testing.T) {
	p := Position{Quantity: 0, MaxPriceSinceEntry: 1100}
	p.Touch(5000)
	assert.Equal(t, int64(1100), p.MaxPriceSinceEntry)
}

func TestAddToPositionWeightedAverage(t *testing.T) {
	p := Position{Quantity: 10, AverageCost: 1000}
	p.AddToPosition(10, 1200)
	assert.Equal(t, int64(20), p.Quantity)
	assert.Equal(t, int64(1100), p.AverageCost)
}

func TestOrderCanTransitionTo(t *testing.T) {
	o := Order{Status: OrderPending}
	assert.True(t, o.CanTransitionTo(OrderFilled))
	assert.True(t, o.CanTransitionTo(OrderCancelled))

	o.Status = OrderPartiallyFilled
	assert.True(t, o.CanTransitionTo(OrderFilled))
	assert.False(t, o.CanTransitionTo(OrderRejected))

	o.Status = OrderFilled
	assert.False(t, o.CanTransitionTo(OrderPending))
	assert.False(t, o.CanTransitionTo(OrderCancelled))
}

func TestTrapReportHasCritical(t *testing.T) {
	r := TrapReport{Entries: []TrapEntry{
		{Pattern: "a", Severity: SeverityLow},
		{Pattern: "b", Severity: SeverityCritical},
	}}
	assert.True(t, r.HasCritical())

	r2 := TrapReport{Entries: []TrapEntry{{Pattern: "a", Severity: SeverityMedium}}}
	assert.False(t, r2.HasCritical())
}

func TestSubscriptionSlotIsStale(t *testing.T) {
	now := time.Now()
	s := SubscriptionSlot{SubscribedAt: now.Add(-time.Hour), LastDataAt: now.Add(-time.Minute)}
	assert.False(t, s.IsStale(now, 5*time.Minute))
	assert.True(t, s.IsStale(now, 30*time.Second))

	noData := SubscriptionSlot{SubscribedAt: now.Add(-time.Hour)}
	assert.True(t, noData.IsStale(now, 5*time.Minute))
}

func TestClip(t *testing.T) {
	assert.Equal(t, 0.30, Clip(0.1, 0.30, 0.99))
	assert.Equal(t, 0.99, Clip(5.0, 0.30, 0.99))
	assert.Equal(t, 0.5, Clip(0.5, 0.30, 0.99))
}
