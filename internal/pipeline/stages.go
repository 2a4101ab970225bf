package pipeline

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/joungwonlim/aegis-v3/internal/broker"
	"github.com/joungwonlim/aegis-v3/internal/commander"
	"github.com/joungwonlim/aegis-v3/internal/domain"
	"github.com/joungwonlim/aegis-v3/internal/feedback"
	"github.com/joungwonlim/aegis-v3/internal/notify"
	"github.com/joungwonlim/aegis-v3/internal/portfolio"
	"github.com/joungwonlim/aegis-v3/internal/safety"
	"github.com/joungwonlim/aegis-v3/internal/scenario"
	"github.com/joungwonlim/aegis-v3/internal/store"
	"github.com/joungwonlim/aegis-v3/internal/trap"
)

// runFetch refreshes account balance, holdings, and pending order acks
// and returns them; runPersist writes them through to the store so
// stage 3 reads committed state.
func (p *Pipeline) runFetch(ctx context.Context, result *Result) (broker.Balance, []domain.Position, error) {
	var balance broker.Balance
	var holdings []domain.Position

	err := p.timeStage(result, StageFetch, func() error {
		ctx, cancel := context.WithTimeout(ctx, broker.RestTimeout)
		defer cancel()

		var err error
		balance, err = p.rest.GetCombinedBalance(ctx)
		if err != nil {
			return fmt.Errorf("get combined balance: %w", err)
		}
		holdings = balance.Holdings

		if _, err := p.rest.GetOpenOrders(ctx); err != nil {
			return fmt.Errorf("get open orders: %w", err)
		}
		return nil
	})
	return balance, holdings, err
}

// runPersist commits stage-1 writes. This is the happens-before fence:
// stage 3 must observe these writes.
func (p *Pipeline) runPersist(ctx context.Context, result *Result, balance broker.Balance) error {
	return p.timeStage(result, StagePersist, func() error {
		snapshot := domain.AccountSnapshot{
			Timestamp: time.Now(), CashBalance: balance.Summary.CashBalance,
			TotalEquity: balance.Summary.TotalEquity,
		}
		if err := p.store.AppendAccountSnapshot(ctx, snapshot); err != nil {
			return fmt.Errorf("append account snapshot: %w", err)
		}
		for _, h := range balance.Holdings {
			if err := p.store.UpsertPosition(ctx, h); err != nil {
				return fmt.Errorf("upsert holding %s: %w", h.Symbol, err)
			}
		}
		return nil
	})
}

// runAnalyze computes a Signal per candidate: quant/ai scores, the trap
// adjustment, the combine rule, the uncertainty rule, and the
// target/stop bands. Only buy-action signals are retained.
func (p *Pipeline) runAnalyze(ctx context.Context, result *Result, candidates []Candidate) ([]domain.Signal, error) {
	var signals []domain.Signal

	err := p.timeStage(result, StageAnalyze, func() error {
		if len(candidates) > 0 && (p.analyzer == nil || p.bundles == nil) {
			p.log.Warn().Int("candidates", len(candidates)).Msg("no analyzer or bundle builder configured, skipping all candidates")
			return nil
		}
		for _, c := range candidates {
			bundle, err := p.bundles.Build(ctx, c.Symbol)
			if err != nil {
				p.log.Warn().Err(err).Str("symbol", c.Symbol).Msg("bundle build failed, skipping candidate")
				continue
			}

			quantScore, aiScore, err := p.analyzer.Score(ctx, c.Symbol, bundle)
			if err != nil {
				p.log.Warn().Err(err).Str("symbol", c.Symbol).Msg("analyzer failed, skipping candidate")
				continue
			}

			report := trap.Detect(bundle, p.weights)
			adjustedAI := trap.ApplyToAIScore(report, aiScore)

			signal := combine(c.Symbol, quantScore, adjustedAI, c.CurrentPrice)
			signal.Trap = report

			primaryPattern := ""
			if len(report.Entries) > 0 {
				primaryPattern = report.Entries[0].Pattern
			}

			if err := p.store.AppendDecision(ctx, store.DecisionRow{
				CreatedAt: time.Now(), Symbol: c.Symbol, QuantScore: quantScore, AIScore: aiScore,
				TrapAdjustedAIScore: adjustedAI, FinalScore: signal.FinalScore, Action: signal.Action,
				TrapPattern: primaryPattern,
			}); err != nil {
				p.log.Warn().Err(err).Str("symbol", c.Symbol).Msg("decision log append failed")
			}

			if signal.Action == domain.ActionBuy {
				signals = append(signals, signal)
			}
		}
		return nil
	})
	return signals, err
}

// targetStopBand is one row of the final-score-keyed target/stop table.
type targetStopBand struct {
	minFinal      float64
	targetMult    float64
	stopMult      float64
}

var targetStopBands = []targetStopBand{
	{80, 1.08, 0.97},
	{70, 1.06, 0.96},
	{60, 1.04, 0.95},
	{0, 1.02, 0.94},
}

const uncertaintyBand = 30.0

// combine applies the weighted-average combine rule, the uncertainty
// override, the buy/sell/hold thresholds, and the target/stop band
// table for one candidate.
func combine(symbol string, quant, ai float64, price int64) domain.Signal {
	final := math.Round(quant*0.57 + ai*0.43)

	action := domain.ActionHold
	diff := math.Abs(ai - quant)
	switch {
	case diff >= uncertaintyBand:
		action = domain.ActionHold
	case final >= 75:
		action = domain.ActionBuy
	case final <= 40:
		action = domain.ActionSell
	}

	band := targetStopBands[len(targetStopBands)-1]
	for _, b := range targetStopBands {
		if final >= b.minFinal {
			band = b
			break
		}
	}

	return domain.Signal{
		Symbol: symbol, Action: action, QuantScore: quant, AIScore: ai, FinalScore: final,
		Confidence:   final,
		CurrentPrice: price,
		TargetPrice:  int64(float64(price) * band.targetMult),
		StopPrice:    int64(float64(price) * band.stopMult),
	}
}

// runValidate runs scenario validation on every retained buy signal,
// keeping only approved ones with their adjusted target/qty attached.
func (p *Pipeline) runValidate(ctx context.Context, result *Result, signals []domain.Signal) []validatedSignal {
	var out []validatedSignal
	p.timeStage(result, StageValidate, func() error {
		for _, s := range signals {
			verdict := p.validator.Validate(ctx, scenario.Input{
				Symbol: s.Symbol, CurrentPrice: s.CurrentPrice, TargetPrice: s.TargetPrice, AIReturnPct: s.AIScore - 50,
			})
			if !verdict.Approved {
				continue
			}
			out = append(out, validatedSignal{signal: s, verdict: verdict})
		}
		return nil
	})
	return out
}

// runCommand runs the commander gate on every validated signal, dropping
// vetoes and circuit-breaker rejections.
func (p *Pipeline) runCommand(ctx context.Context, result *Result, validated []validatedSignal) []validatedSignal {
	var approved []validatedSignal
	p.timeStage(result, StageCommand, func() error {
		state := p.feedback.State()
		regime := commander.RegimeNormal
		if p.regime != nil {
			regime = p.regime(ctx)
		}

		for _, v := range validated {
			if state.CircuitBroken {
				p.log.Info().Str("symbol", v.signal.Symbol).Msg("buy rejected: circuit-breaker")
				continue
			}
			if v.signal.FinalScore < state.MinScore {
				continue
			}

			decision := p.cmdr.Decide(ctx, commander.Input{
				Symbol: v.signal.Symbol, QuantScore: v.signal.QuantScore, AIScore: v.signal.AIScore,
				FinalScore: v.signal.FinalScore, Verdict: v.verdict, Regime: regime,
			})
			if decision.Action != domain.ActionBuy {
				p.log.Info().Str("symbol", v.signal.Symbol).Str("veto", decision.VetoReason).Msg("commander did not approve")
				continue
			}
			approved = append(approved, v)
		}
		return nil
	})
	return approved
}

// runExecute evaluates exits for every held position, then submits buys
// for every commander-approved candidate that clears the safety gates.
// Order submission is keyed by a logical order identity unique to this
// invocation, so a retry within the same run can never double-submit.
func (p *Pipeline) runExecute(ctx context.Context, result *Result, invocationID string, balance broker.Balance, holdings []domain.Position, approved []validatedSignal) {
	p.timeStage(result, StageExecute, func() error {
		for _, pos := range holdings {
			price, err := p.rest.GetCurrentPrice(ctx, pos.Symbol)
			if err != nil {
				p.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("price lookup failed, skipping exit check")
				continue
			}
			action := portfolio.Evaluate(pos, price)
			if action.Kind == portfolio.ExitNone {
				continue
			}
			qty := pos.Quantity
			if !action.Full {
				qty = pos.Quantity / 2
			}
			if qty <= 0 {
				continue
			}
			if p.submitOrder(ctx, invocationID, pos.Symbol, domain.SideSell, qty, 0, string(action.Kind)) {
				result.SellOrders++
				if action.Full {
					p.closePosition(ctx, pos, price, string(action.Kind))
					continue
				}
				if action.SetStage != domain.ExitStageNone {
					pos.PartialExitStage = action.SetStage
					if err := p.store.UpsertPosition(ctx, pos); err != nil {
						p.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("partial-exit stage persist failed")
					}
				}
			}
		}

		ordersToday, err := p.store.CountOrdersPlacedSince(ctx, startOfDay(time.Now()))
		if err != nil {
			p.log.Warn().Err(err).Msg("order count lookup failed")
		}

		latestSnapshot, haveSnapshot, err := p.store.LatestAccountSnapshot(ctx)
		if err != nil {
			p.log.Warn().Err(err).Msg("account snapshot lookup failed")
		}
		pnlRatio, pnlKnown := pnlRatioFrom(latestSnapshot, haveSnapshot)

		for _, v := range approved {
			targetPrice := v.verdict.AdjustedTarget
			if targetPrice <= 0 {
				targetPrice = v.signal.TargetPrice
			}
			if targetPrice <= 0 {
				continue
			}

			budget := balance.Summary.OrderableCash / 5
			qty := v.verdict.RecommendedQty
			if maxAffordable := budget / targetPrice; qty <= 0 || maxAffordable < qty {
				qty = maxAffordable
			}
			if qty <= 0 {
				continue
			}

			notionalPct, notionalKnown := notionalRatio(qty, targetPrice, balance.Summary.TotalEquity)

			safetyReport := safety.Evaluate(safety.Input{
				HeldPositionCount: len(holdings), OrdersPlacedToday: ordersToday, Now: time.Now(),
				PnLRatioPct: pnlRatio, PnLRatioKnown: pnlKnown,
				OrderNotionalPct: notionalPct, NotionalKnown: notionalKnown,
			})
			if !safetyReport.Approved {
				continue
			}

			if p.submitOrder(ctx, invocationID, v.signal.Symbol, domain.SideBuy, qty, targetPrice, "buy") {
				result.BuyOrders++
			}
		}
		return nil
	})
}

// submitOrder enforces idempotence by logical key, then places the order
// and inserts the local mirror row.
func (p *Pipeline) submitOrder(ctx context.Context, invocationID, symbol string, side domain.OrderSide, qty, limitPrice int64, reason string) bool {
	logicalKey := fmt.Sprintf("%s:%s:%s", invocationID, symbol, side)
	exists, err := p.store.ExistsByLogicalKey(ctx, logicalKey)
	if err != nil {
		p.log.Warn().Err(err).Str("symbol", symbol).Msg("idempotence check failed, skipping submission")
		return false
	}
	if exists {
		return false
	}

	brokerOrderID, err := p.rest.PlaceOrder(ctx, side, symbol, qty, limitPrice, domain.VenuePrimary)
	if err != nil {
		p.log.Warn().Err(err).Str("symbol", symbol).Msg("order submission failed")
		return false
	}

	order := domain.Order{
		BrokerOrderID: brokerOrderID, Symbol: symbol, Side: side, Venue: domain.VenuePrimary,
		RequestedQty: qty, LimitPrice: limitPrice, Status: domain.OrderPending,
		PlacedAt: time.Now(), LogicalOrderKey: logicalKey,
	}
	if err := p.store.InsertOrder(ctx, order); err != nil {
		p.log.Error().Err(err).Str("symbol", symbol).Msg("order placed but local mirror insert failed")
	}
	p.notifier.Send(ctx, notifyLevelFor(side), fmt.Sprintf("%s %s qty=%d reason=%s", side, symbol, qty, reason))
	return true
}

// feedbackHistoryWindow bounds how many prior results ConsecutiveStreaks
// inspects; it only needs to see past the breaker's 5-failure trigger.
const feedbackHistoryWindow = 20

// closePosition runs the post-exit learning loop once a position's
// quantity has fully unwound: classify the trade, bump/cut MinScore and
// arm the breaker, persist the TradeFeedback row, fold the outcome back
// into whichever trap pattern flagged the entry, and drop the
// zero-quantity position record.
func (p *Pipeline) closePosition(ctx context.Context, pos domain.Position, exitPrice int64, exitReason string) {
	returnPct := 0.0
	if pos.AverageCost > 0 {
		returnPct = float64(exitPrice-pos.AverageCost) / float64(pos.AverageCost) * 100
	}

	entryQuant, entryAI, trapPattern := 0.0, 0.0, ""
	if entry, found, err := p.store.LatestDecisionForSymbol(ctx, pos.Symbol); err == nil && found {
		entryQuant, entryAI, trapPattern = entry.QuantScore, entry.AIScore, entry.TrapPattern
	}

	history, err := p.store.RecentResults(ctx, feedbackHistoryWindow)
	if err != nil {
		p.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("recent-results lookup failed, feedback history truncated")
	}
	class, _ := feedback.Classify(returnPct)
	history = append([]domain.ResultClass{class}, history...)

	tf := domain.TradeFeedback{
		Symbol: pos.Symbol, EntryPrice: pos.AverageCost, ExitPrice: exitPrice, ReturnPct: returnPct,
		HoldDays: int(time.Since(pos.FirstEntryAt).Hours() / 24), ExitReason: exitReason,
		EntryQuantScore: entryQuant, EntryAIScore: entryAI, TrapPattern: trapPattern, ClosedAt: time.Now(),
	}
	tf = p.feedback.ProcessExit(ctx, tf, history)

	if err := p.store.InsertTradeFeedback(ctx, tf); err != nil {
		p.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("trade feedback persist failed")
	}

	if trapPattern != "" {
		weight, err := p.store.GetPatternWeight(ctx, trapPattern, trap.DefaultWeight)
		if err != nil {
			p.log.Warn().Err(err).Str("pattern", trapPattern).Msg("pattern weight lookup failed, skipping adjustment")
		} else {
			correct := tf.Result == domain.ResultFailure
			updated := feedback.AdjustTrapWeight(weight, correct)
			if err := p.store.UpsertPatternWeight(ctx, updated); err != nil {
				p.log.Warn().Err(err).Str("pattern", trapPattern).Msg("pattern weight persist failed")
			}
		}
	}

	if err := p.store.DeletePosition(ctx, pos.Symbol); err != nil {
		p.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("position delete failed after full exit")
	}
}

func notionalRatio(qty, price, totalEquity int64) (pct float64, known bool) {
	if totalEquity <= 0 {
		return 0, false
	}
	return float64(qty*price) / float64(totalEquity) * 100, true
}

func pnlRatioFrom(snap domain.AccountSnapshot, have bool) (pct float64, known bool) {
	if !have || snap.TotalEquity <= 0 {
		return 0, false
	}
	return float64(snap.RealizedPnLToday) / float64(snap.TotalEquity) * 100, true
}

func notifyLevelFor(side domain.OrderSide) notify.Level {
	if side == domain.SideSell {
		return notify.LevelWarning
	}
	return notify.LevelInfo
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
