// Package scenario implements the Scenario Validator:
// three independent sub-checks (scenario, backtest, Monte Carlo), combined
// into a weighted score, then subject to an external reasoner veto.
package scenario

import (
	"context"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/joungwonlim/aegis-v3/internal/domain"
)

// Monte Carlo sample count.
const monteCarloSamples = 1000

// Approval thresholds.
const (
	minCombinedScore  = 65.0
	minWinRate        = 55.0
	minProfitProbPct  = 60.0
	baseQty           = 2_000_000 // minor units
)

// HistoricalAnalog is one comparable prior outcome used by the backtest
// sub-check.
type HistoricalAnalog struct {
	Return float64 // percent
}

// HistoryLookup returns comparable historical analogs for a symbol.
type HistoryLookup func(ctx context.Context, symbol string) ([]HistoricalAnalog, error)

// Reasoner is the external LLM veto. A failure
// defaults to approved (do-no-harm).
type Reasoner interface {
	ReviewScenario(ctx context.Context, summary Summary) (approved bool, err error)
}

// Summary is what gets handed to the reasoner for its veto decision.
type Summary struct {
	Symbol          string
	ScenarioScore   float64
	BacktestScore   float64
	MonteCarloScore float64
	WinRatePct      float64
	ProfitProbPct   float64
	CombinedScore   float64
}

// Input bundles everything needed to validate one candidate.
type Input struct {
	Symbol       string
	CurrentPrice int64
	AIReturnPct  float64 // ai-predicted return, percent
	TargetPrice  int64
}

// Validator runs the three sub-checks and the reasoner veto.
type Validator struct {
	history  HistoryLookup
	reasoner Reasoner
	rng      func() *distuv.Normal
}

// New constructs a Validator. It takes no seed: Monte Carlo sampling
// uses gonum's default random source.
func New(history HistoryLookup, reasoner Reasoner) *Validator {
	return &Validator{history: history, reasoner: reasoner}
}

// Validate runs scenario -> backtest -> Monte Carlo -> combine -> reasoner
// veto, returning the final ValidationVerdict.
func (v *Validator) Validate(ctx context.Context, in Input) domain.ValidationVerdict {
	scenarioScore, scenarioTarget := scenarioSubCheck(in)
	backtestScore, backtestTarget, winRate := v.backtestSubCheck(ctx, in)
	mcScore, mcTarget, mc := monteCarloSubCheck(in)

	combined := 0.3*scenarioScore + 0.4*backtestScore + 0.3*mcScore

	approved := combined >= minCombinedScore &&
		winRate >= minWinRate &&
		mc.ProfitProbPct >= minProfitProbPct

	adjustedTarget := minInt64(scenarioTarget, backtestTarget, mcTarget)
	qty := recommendedQty(combined, mc.StdDev, in.CurrentPrice)

	reason := ""
	if !approved {
		reason = "numeric thresholds not met"
	}

	if v.reasoner != nil {
		summary := Summary{
			Symbol: in.Symbol, ScenarioScore: scenarioScore, BacktestScore: backtestScore,
			MonteCarloScore: mcScore, WinRatePct: winRate, ProfitProbPct: mc.ProfitProbPct,
			CombinedScore: combined,
		}
		reasonerApproved, err := v.reasoner.ReviewScenario(ctx, summary)
		if err != nil {
			// do-no-harm: a validator outage must not block trading.
			reasonerApproved = true
		}
		if !reasonerApproved {
			approved = false
			reason = "reasoner veto"
		}
	}

	return domain.ValidationVerdict{
		ScenarioScore: scenarioScore, BacktestScore: backtestScore, MonteCarloScore: mcScore,
		WeightedFinal: combined, AdjustedTarget: adjustedTarget, RecommendedQty: qty,
		Approved: approved, Reason: reason,
	}
}

// scenarioSubCheck constructs {best, expected, worst} with fixed
// probabilities {0.20, 0.60, 0.20}, scoring the probability-weighted
// expected value.
func scenarioSubCheck(in Input) (score float64, target int64) {
	best := in.AIReturnPct * 1.5
	expected := in.AIReturnPct
	worst := in.AIReturnPct * -0.5

	ev := 0.20*best + 0.60*expected + 0.20*worst
	score = domain.Clip((ev+5)/20*100, 0, 100)
	target = priceAtReturn(in.CurrentPrice, expected)
	return score, target
}

// backtestSubCheck scores min(100, winRate + avgReturn*3).
func (v *Validator) backtestSubCheck(ctx context.Context, in Input) (score float64, target int64, winRatePct float64) {
	var analogs []HistoricalAnalog
	if v.history != nil {
		analogs, _ = v.history(ctx, in.Symbol)
	}
	if len(analogs) == 0 {
		// No analogs available: neutral, slightly conservative default.
		return 50, in.CurrentPrice, 50
	}

	wins := 0
	var totalReturn float64
	for _, a := range analogs {
		if a.Return > 0 {
			wins++
		}
		totalReturn += a.Return
	}
	winRatePct = float64(wins) / float64(len(analogs)) * 100
	avgReturn := totalReturn / float64(len(analogs))
	score = math.Min(100, winRatePct+avgReturn*3)
	target = priceAtReturn(in.CurrentPrice, avgReturn)
	return score, target, winRatePct
}

// MonteCarloResult reports the sampled distribution's summary statistics.
type MonteCarloResult struct {
	Mean          float64
	StdDev        float64
	ProfitProbPct float64
	P5, P50, P95  float64
}

// monteCarloSubCheck samples S normal-distributed returns with mean
// aiReturn*0.7, stdev 4.
func monteCarloSubCheck(in Input) (score float64, target int64, result MonteCarloResult) {
	dist := distuv.Normal{Mu: in.AIReturnPct * 0.7, Sigma: 4}
	samples := make([]float64, monteCarloSamples)
	profitable := 0
	for i := range samples {
		samples[i] = dist.Rand()
		if samples[i] > 0 {
			profitable++
		}
	}
	sort.Float64s(samples)

	result.Mean = stat.Mean(samples, nil)
	result.StdDev = stat.StdDev(samples, nil)
	result.ProfitProbPct = float64(profitable) / float64(len(samples)) * 100
	result.P5 = percentile(samples, 5)
	result.P50 = percentile(samples, 50)
	result.P95 = percentile(samples, 95)

	score = math.Min(100, result.ProfitProbPct+result.Mean*2)
	target = priceAtReturn(in.CurrentPrice, result.P50)
	return score, target, result
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p / 100 * float64(len(sorted)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func priceAtReturn(price int64, returnPct float64) int64 {
	return int64(float64(price) * (1 + returnPct/100))
}

// recommendedQty implements
// floor(base * (1 + (final-65)/100) * (1/(1+stdev/10)) / price), minimum 1.
func recommendedQty(final, stdev float64, price int64) int64 {
	if price <= 0 {
		return 1
	}
	factor := (1 + (final-65)/100) * (1 / (1 + stdev/10))
	qty := int64(math.Floor(float64(baseQty) * factor / float64(price)))
	if qty < 1 {
		qty = 1
	}
	return qty
}

func minInt64(vals ...int64) int64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
