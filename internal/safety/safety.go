// Package safety implements the five hard pre-order gates every candidate
// buy must clear, regardless of how favorably the earlier stages scored it.
package safety

import (
	"time"
)

// Gate names, used as the Check.Name of each of the five checks.
const (
	GatePositionCount  = "position-count"
	GateDailyTradeCap  = "daily-trade-cap"
	GateTimeOfWeek     = "time-of-week"
	GateLossCap        = "loss-cap"
	GateSizeCap        = "size-cap"
)

const (
	maxHeldPositions = 5
	maxOrdersPerDay  = 4
	lossCapPct       = -2.0
	sizeCapPct       = 10.0
)

// Check is the pass/fail result of a single gate.
type Check struct {
	Name   string
	Passed bool
	Detail string
}

// Report is the combined outcome of all five gates.
type Report struct {
	Checks   []Check
	Approved bool
}

// Input bundles the account and order-sizing facts the gates need. A
// failure to determine PnLRatioPct or OrderNotionalPct (broker call error)
// should be surfaced via PnLRatioKnown / NotionalKnown false rather
// than a zero value, so the affected gate can default to approve.
type Input struct {
	HeldPositionCount int
	OrdersPlacedToday int
	Now               time.Time

	PnLRatioPct      float64
	PnLRatioKnown    bool
	OrderNotionalPct float64
	NotionalKnown    bool
}

// Evaluate runs all five gates and returns the combined report. Every
// gate must pass for Approved to be true.
func Evaluate(in Input) Report {
	checks := []Check{
		checkPositionCount(in),
		checkDailyTradeCap(in),
		checkTimeOfWeek(in),
		checkLossCap(in),
		checkSizeCap(in),
	}
	approved := true
	for _, c := range checks {
		if !c.Passed {
			approved = false
		}
	}
	return Report{Checks: checks, Approved: approved}
}

func checkPositionCount(in Input) Check {
	passed := in.HeldPositionCount < maxHeldPositions
	return Check{Name: GatePositionCount, Passed: passed,
		Detail: "held positions must stay under the concentration cap"}
}

func checkDailyTradeCap(in Input) Check {
	passed := in.OrdersPlacedToday < maxOrdersPerDay
	return Check{Name: GateDailyTradeCap, Passed: passed,
		Detail: "daily order count must stay under the churn cap"}
}

// checkTimeOfWeek blocks new entries from Friday 14:30 local onward, to
// avoid carrying fresh risk into the weekend gap.
func checkTimeOfWeek(in Input) Check {
	isFridayLateAfternoon := in.Now.Weekday() == time.Friday &&
		(in.Now.Hour() > 14 || (in.Now.Hour() == 14 && in.Now.Minute() >= 30))
	return Check{Name: GateTimeOfWeek, Passed: !isFridayLateAfternoon,
		Detail: "no new entries after Friday 14:30 local"}
}

// checkLossCap rejects new entries while today's realized P&L ratio has
// already breached the drawdown floor. A broker call failure defaults to
// approve, per the do-no-harm policy for technical failures on this gate.
func checkLossCap(in Input) Check {
	if !in.PnLRatioKnown {
		return Check{Name: GateLossCap, Passed: true, Detail: "P&L ratio unavailable, defaulting to approve"}
	}
	passed := in.PnLRatioPct > lossCapPct
	return Check{Name: GateLossCap, Passed: passed,
		Detail: "today's realized P&L ratio must stay above the drawdown floor"}
}

// checkSizeCap rejects an order whose notional would exceed the
// single-position size cap against total equity. A broker call failure
// defaults to approve, per the do-no-harm policy for technical failures
// on this gate.
func checkSizeCap(in Input) Check {
	if !in.NotionalKnown {
		return Check{Name: GateSizeCap, Passed: true, Detail: "order notional ratio unavailable, defaulting to approve"}
	}
	passed := in.OrderNotionalPct <= sizeCapPct
	return Check{Name: GateSizeCap, Passed: passed,
		Detail: "order notional must not exceed the per-position size cap"}
}
