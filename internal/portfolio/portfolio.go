// Package portfolio implements the exit-side rules the portfolio manager
// runs on its own fixed cadence against every held position: stop-loss,
// partial profit-take, trailing stop, and take-profit, evaluated in a
// fixed priority order so only the highest-priority applicable action
// fires per tick.
package portfolio

import "github.com/joungwonlim/aegis-v3/internal/domain"

const (
	stopLossPct           = -3.0
	partialTakePct        = 3.5
	trailingArmPct        = 5.0
	strongTrailingArmPct  = 8.0
	strongTrailingDropPct = 1.5
	trailingDropPct       = 2.0
	takeProfitPct         = 5.5
)

// ExitKind identifies which rule fired.
type ExitKind string

const (
	ExitNone            ExitKind = ""
	ExitStopLoss        ExitKind = "stop-loss"
	ExitPartialTake     ExitKind = "partial-take"
	ExitStrongTrailing  ExitKind = "strong-trailing"
	ExitTrailing        ExitKind = "trailing"
	ExitTakeProfit      ExitKind = "take-profit"
)

// Action is the recommended exit for one held position this tick.
type Action struct {
	Symbol   string
	Kind     ExitKind
	Full     bool // false => half the held quantity
	SetStage domain.PartialExitStage
}

// Evaluate advances pos.MaxPriceSinceEntry via Touch, then runs the four
// rules in priority order, returning the first that applies. A zero-value
// Action (Kind == ExitNone) means hold.
func Evaluate(pos domain.Position, currentPrice int64) Action {
	pos.Touch(currentPrice)

	returnPct := pos.ReturnPct(currentPrice)
	maxReturnPct := pos.MaxReturnPct()
	dropFromHighPct := pos.DropFromHighPct(currentPrice)

	if returnPct <= stopLossPct {
		return Action{Symbol: pos.Symbol, Kind: ExitStopLoss, Full: true}
	}

	if returnPct >= partialTakePct && pos.PartialExitStage == domain.ExitStageNone {
		return Action{Symbol: pos.Symbol, Kind: ExitPartialTake, Full: false, SetStage: domain.ExitStageHalfTaken}
	}

	if maxReturnPct >= trailingArmPct {
		if maxReturnPct >= strongTrailingArmPct && dropFromHighPct >= strongTrailingDropPct {
			return Action{Symbol: pos.Symbol, Kind: ExitStrongTrailing, Full: true}
		}
		if dropFromHighPct >= trailingDropPct {
			return Action{Symbol: pos.Symbol, Kind: ExitTrailing, Full: true}
		}
	}

	if returnPct >= takeProfitPct {
		return Action{Symbol: pos.Symbol, Kind: ExitTakeProfit, Full: true}
	}

	return Action{Symbol: pos.Symbol, Kind: ExitNone}
}
