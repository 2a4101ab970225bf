package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/joungwonlim/aegis-v3/internal/broker"
	"github.com/joungwonlim/aegis-v3/internal/dispatcher"
	"github.com/joungwonlim/aegis-v3/internal/domain"
	"github.com/joungwonlim/aegis-v3/internal/events"
	"github.com/joungwonlim/aegis-v3/internal/pipeline"
	"github.com/joungwonlim/aegis-v3/internal/scheduler"
	"github.com/joungwonlim/aegis-v3/internal/store"
	"github.com/joungwonlim/aegis-v3/internal/streaming"
)

// symbolFetcher implements dispatcher.Fetcher: a debounced event pulls one
// symbol's current price and book top via REST, refreshes the quote
// cache, and promotes the symbol into opportunistic streaming coverage.
type symbolFetcher struct {
	rest    broker.REST
	quotes  *quoteCache
	streams *streaming.Manager
	log     zerolog.Logger
}

func (f *symbolFetcher) FetchSingle(symbol, reason string, priority dispatcher.Priority) error {
	ctx, cancel := context.WithTimeout(context.Background(), broker.RestTimeout)
	defer cancel()

	price, err := f.rest.GetCurrentPrice(ctx, symbol)
	if err != nil {
		return fmt.Errorf("fetch current price for %s: %w", symbol, err)
	}
	book, err := f.rest.GetOrderBookTop(ctx, symbol)
	if err != nil {
		return fmt.Errorf("fetch order book for %s: %w", symbol, err)
	}
	f.quotes.OnTrade(symbol, price, 0)
	f.quotes.OnOrderBookTop(symbol, book.BestBid, book.BestAsk, book.BidQty, book.AskQty)

	if err := f.streams.Subscribe(ctx, symbol, "trade", domain.PriorityOpportunistic); err != nil {
		f.log.Warn().Err(err).Str("symbol", symbol).Str("reason", reason).Msg("could not promote symbol to live coverage")
	}
	return nil
}

// fillApplier subscribes to execution-fill events directly (unlike the
// dispatcher's debounced per-symbol fetches, a fill notice must never be
// dropped or merged) and folds each fill into Order and Position within
// store.ApplyFill's single transaction.
type fillApplier struct {
	store *store.Store
	log   zerolog.Logger
}

func (f *fillApplier) onFill(e *events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), broker.RestTimeout)
	defer cancel()

	brokerOrderID, _ := e.Data["broker_order_id"].(string)
	filledQty, _ := e.Data["filled_qty"].(int64)
	fillPrice, _ := e.Data["fill_price"].(int64)
	side, _ := e.Data["side"].(string)
	symbol := e.Symbol()
	if brokerOrderID == "" || filledQty <= 0 {
		f.log.Warn().Str("broker_order_id", brokerOrderID).Msg("execution-fill event missing required fields, dropping")
		return
	}

	order, found, err := f.store.GetOrderByBrokerID(ctx, brokerOrderID)
	if err != nil || !found {
		f.log.Warn().Err(err).Str("broker_order_id", brokerOrderID).Msg("fill for unknown order, dropping")
		return
	}
	if symbol == "" {
		symbol = order.Symbol
	}

	next := domain.OrderPartiallyFilled
	if order.FilledQty+filledQty >= order.RequestedQty {
		next = domain.OrderFilled
	}
	if !order.CanTransitionTo(next) {
		f.log.Warn().Str("broker_order_id", brokerOrderID).Str("status", string(order.Status)).Str("next", string(next)).
			Msg("illegal order status transition, dropping fill")
		return
	}

	pos, found, err := f.store.GetPosition(ctx, symbol)
	if err != nil {
		f.log.Warn().Err(err).Str("symbol", symbol).Msg("position lookup failed, dropping fill")
		return
	}
	if !found {
		pos = domain.Position{Symbol: symbol, FirstEntryAt: time.Now()}
	}
	if domain.OrderSide(side) == domain.SideBuy {
		pos.AddToPosition(filledQty, fillPrice)
	} else {
		pos.Quantity -= filledQty
		if pos.Quantity < 0 {
			pos.Quantity = 0
		}
	}

	if err := f.store.ApplyFill(ctx, brokerOrderID, filledQty, fillPrice, time.Now(), next, pos); err != nil {
		f.log.Error().Err(err).Str("broker_order_id", brokerOrderID).Msg("apply fill transaction failed")
	}
}

// portfolioRechecker implements dispatcher.PortfolioRechecker: a regime
// change re-syncs held-position coverage and re-runs the pipeline's exit
// evaluation (Execute walks every holding regardless of new candidates).
type portfolioRechecker struct {
	store    *store.Store
	streams  *streaming.Manager
	pipeline *pipeline.Pipeline
	log      zerolog.Logger
}

func (r *portfolioRechecker) RecheckPortfolio(reason string) error {
	ctx, cancel := context.WithTimeout(context.Background(), broker.RestTimeout)
	defer cancel()

	positions, err := r.store.ListPositions(ctx)
	if err != nil {
		return fmt.Errorf("list positions for recheck: %w", err)
	}
	symbols := make([]string, 0, len(positions))
	for _, p := range positions {
		symbols = append(symbols, p.Symbol)
	}
	if err := r.streams.SyncWithPositions(ctx, symbols); err != nil {
		r.log.Warn().Err(err).Msg("position coverage sync failed during recheck")
	}

	result := r.pipeline.Run(ctx, nil)
	r.log.Info().Str("reason", reason).Int("sells", result.SellOrders).Msg("portfolio-wide recheck completed")
	return nil
}

// UniverseScanner produces the next trading day's candidate watchlist.
// Ranking symbols by opportunity is the trading algorithm this core
// deliberately does not implement; wiring its output into streaming
// coverage is this core's job, so the interface lives here rather than
// in internal/streaming.
type UniverseScanner interface {
	GenerateDailyPicks(ctx context.Context) ([]string, error)
}

// HotSymbolScanner flags symbols for opportunistic coverage mid-session.
// Same boundary as UniverseScanner: detection is algorithmic, publishing
// the result onto the event bus so the dispatcher can react is not.
type HotSymbolScanner interface {
	Scan(ctx context.Context) ([]string, error)
}

// standardJobs builds the five named jobs scheduler.RegisterStandardJobs
// expects. Jobs whose underlying scanner was never configured log once
// and no-op rather than erroring the scheduler envelope every tick.
func (c *Container) standardJobs() map[string]scheduler.Job {
	return map[string]scheduler.Job{
		"dailyDeepAnalysis": func() error { return c.jobDailyDeepAnalysis(context.Background()) },
		"marketScanner":     func() error { return c.jobMarketScanner(context.Background()) },
		"portfolioManager":  func() error { return c.jobPortfolioManager(context.Background()) },
		"intradayPipeline":  func() error { return c.jobIntradayPipeline(context.Background()) },
		"dailySettlement":   func() error { return c.jobDailySettlement(context.Background()) },
	}
}

// jobDailyDeepAnalysis refreshes the priority-2 (daily-pick) watchlist. With
// no universe scanner configured this is a no-op: the slot table simply
// keeps whatever priority-1 symbols were synced from positions.
func (c *Container) jobDailyDeepAnalysis(ctx context.Context) error {
	if c.universe == nil {
		return nil
	}
	picks, err := c.universe.GenerateDailyPicks(ctx)
	if err != nil {
		return fmt.Errorf("generate daily picks: %w", err)
	}
	for _, sym := range picks {
		if err := c.Streams.Subscribe(ctx, sym, "trade", domain.PriorityDailyPick); err != nil {
			c.Log.Warn().Err(err).Str("symbol", sym).Msg("could not subscribe daily pick")
		}
	}
	c.Log.Info().Int("count", len(picks)).Msg("daily pick watchlist refreshed")
	return nil
}

// marketScannerCutoffHour/Minute and portfolioManagerCutoffHour/Minute are
// the window ends the scheduler's cadence table comments reference: the
// cron expressions fire every minute through the end of hour 15, so the
// job bodies enforce the exact cutoff cron's hour granularity can't.
const (
	marketScannerCutoffHour, marketScannerCutoffMinute       = 15, 20
	portfolioManagerCutoffHour, portfolioManagerCutoffMinute = 15, 30
)

// pastCutoff reports whether now (in loc) is strictly after hour:minute.
func pastCutoff(loc *time.Location, hour, minute int) bool {
	now := time.Now()
	if loc != nil {
		now = now.In(loc)
	}
	return now.Hour() > hour || (now.Hour() == hour && now.Minute() > minute)
}

// jobMarketScanner looks for symbols worth opportunistic mid-session
// coverage and publishes them onto the bus so the dispatcher's debounce
// window, not this job, decides when they actually get fetched.
func (c *Container) jobMarketScanner(ctx context.Context) error {
	if pastCutoff(c.Config.Seoul, marketScannerCutoffHour, marketScannerCutoffMinute) {
		return nil
	}
	if c.hotSymbols == nil {
		return nil
	}
	hot, err := c.hotSymbols.Scan(ctx)
	if err != nil {
		return fmt.Errorf("scan hot symbols: %w", err)
	}
	for _, sym := range hot {
		c.Bus.Publish(events.Event{Kind: events.KindHotSymbol, Data: map[string]any{"symbol": sym, "reason": "market scanner"}})
	}
	c.Log.Info().Int("count", len(hot)).Msg("hot symbol scan completed")
	return nil
}

// jobPortfolioManager re-evaluates every open position's exit rules; it
// passes no new buy candidates since this cadence exists purely for the
// Execute stage's stop-loss/trailing/take-profit sweep.
func (c *Container) jobPortfolioManager(ctx context.Context) error {
	if pastCutoff(c.Config.Seoul, portfolioManagerCutoffHour, portfolioManagerCutoffMinute) {
		return nil
	}
	c.Pipeline.Run(ctx, nil)
	return nil
}

// jobIntradayPipeline runs the full six-stage pipeline over every symbol
// currently under daily-pick or opportunistic streaming coverage.
func (c *Container) jobIntradayPipeline(ctx context.Context) error {
	symbols := append(c.Streams.Symbols(domain.PriorityDailyPick), c.Streams.Symbols(domain.PriorityOpportunistic)...)
	candidates := make([]pipeline.Candidate, 0, len(symbols))
	for _, sym := range symbols {
		price := int64(0)
		if q, ok := c.quotes.Quote(sym); ok {
			price = q.LastPrice
		}
		candidates = append(candidates, pipeline.Candidate{Symbol: sym, CurrentPrice: price})
	}
	c.Pipeline.Run(ctx, candidates)
	return nil
}

// jobDailySettlement closes the trading day: the circuit breaker clears
// only here, never on a timer, and the store is snapshotted off-box.
func (c *Container) jobDailySettlement(ctx context.Context) error {
	c.Feedback.ResetCircuitBreaker()
	if c.Backup == nil {
		return nil
	}
	return c.Backup.BackupNow(ctx)
}
