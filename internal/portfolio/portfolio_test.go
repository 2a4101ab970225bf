package portfolio

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joungwonlim/aegis-v3/internal/domain"
)

func TestEvaluateStopLoss(t *testing.T) {
	pos := domain.Position{Symbol: "A", AverageCost: 10000, Quantity: 10, MaxPriceSinceEntry: 10000}
	a := Evaluate(pos, 9600)
	assert.Equal(t, ExitStopLoss, a.Kind)
	assert.True(t, a.Full)
}

func TestEvaluatePartialTakeOnlyOnce(t *testing.T) {
	pos := domain.Position{Symbol: "A", AverageCost: 10000, Quantity: 10, MaxPriceSinceEntry: 10000}
	a := Evaluate(pos, 10400)
	assert.Equal(t, ExitPartialTake, a.Kind)
	assert.False(t, a.Full)
	assert.Equal(t, domain.ExitStageHalfTaken, a.SetStage)

	pos.PartialExitStage = domain.ExitStageHalfTaken
	a = Evaluate(pos, 10400)
	assert.NotEqual(t, ExitPartialTake, a.Kind, "partial take must not fire twice")
}

func TestEvaluateStrongTrailingStop(t *testing.T) {
	pos := domain.Position{
		Symbol: "A", AverageCost: 10000, Quantity: 10, MaxPriceSinceEntry: 10900,
		PartialExitStage: domain.ExitStageHalfTaken,
	}
	a := Evaluate(pos, 10730) // ~1.56% below the 10900 high, max return already 9%
	assert.Equal(t, ExitStrongTrailing, a.Kind)
}

func TestEvaluateRegularTrailingStop(t *testing.T) {
	pos := domain.Position{
		Symbol: "A", AverageCost: 10000, Quantity: 10, MaxPriceSinceEntry: 10600,
		PartialExitStage: domain.ExitStageHalfTaken,
	}
	a := Evaluate(pos, 10380) // max return 6%, drop 2.08%
	assert.Equal(t, ExitTrailing, a.Kind)
}

func TestEvaluateTakeProfitWithoutTrailingTrigger(t *testing.T) {
	pos := domain.Position{
		Symbol: "A", AverageCost: 10000, Quantity: 10, MaxPriceSinceEntry: 10560,
		PartialExitStage: domain.ExitStageHalfTaken,
	}
	a := Evaluate(pos, 10560) // return 5.6%, max return 5.6% (trailing armed at 5%, but drop 0%)
	assert.Equal(t, ExitTakeProfit, a.Kind)
}

func TestEvaluateNoneWhenFlat(t *testing.T) {
	pos := domain.Position{Symbol: "A", AverageCost: 10000, Quantity: 10, MaxPriceSinceEntry: 10050}
	a := Evaluate(pos, 10020)
	assert.Equal(t, ExitNone, a.Kind)
}

func TestEvaluateTouchesMaxPriceBeforeDeciding(t *testing.T) {
	pos := domain.Position{
		Symbol: "A", AverageCost: 10000, Quantity: 10, MaxPriceSinceEntry: 10000,
		PartialExitStage: domain.ExitStageHalfTaken,
	}
	a := Evaluate(pos, 11000)
	assert.Equal(t, ExitTakeProfit, a.Kind, "Touch must raise the high water mark to 11000 before the trailing/take-profit rules run")
}
