// Package app wires every component into a running process: databases,
// event bus, dispatcher, streaming manager, scheduler, pipeline, and the
// status server. It owns construction order and shutdown order; it
// contains no trading logic of its own.
package app

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/joungwonlim/aegis-v3/internal/broker"
	"github.com/joungwonlim/aegis-v3/internal/commander"
	"github.com/joungwonlim/aegis-v3/internal/config"
	"github.com/joungwonlim/aegis-v3/internal/dispatcher"
	"github.com/joungwonlim/aegis-v3/internal/domain"
	"github.com/joungwonlim/aegis-v3/internal/events"
	"github.com/joungwonlim/aegis-v3/internal/feedback"
	"github.com/joungwonlim/aegis-v3/internal/feeds"
	"github.com/joungwonlim/aegis-v3/internal/notify"
	"github.com/joungwonlim/aegis-v3/internal/pipeline"
	"github.com/joungwonlim/aegis-v3/internal/regime"
	"github.com/joungwonlim/aegis-v3/internal/reliability"
	"github.com/joungwonlim/aegis-v3/internal/scenario"
	"github.com/joungwonlim/aegis-v3/internal/scheduler"
	"github.com/joungwonlim/aegis-v3/internal/server"
	"github.com/joungwonlim/aegis-v3/internal/store"
	"github.com/joungwonlim/aegis-v3/internal/streaming"
	"github.com/joungwonlim/aegis-v3/internal/trap"
)

// Deps bundles the vendor-specific collaborators this core does not
// implement itself: the brokerage wire protocol, the LLM reasoners, and
// feed parsing all live outside the decision core and are injected by
// the caller (cmd/server). REST is mandatory: Wire refuses to build
// without it. A nil NewStreamConn is replaced by a connection whose every
// dial fails, so Start returns an error once the handshake retries are
// spent. Any other nil field degrades its subsystem to a conservative
// default rather than failing to start.
type Deps struct {
	REST          broker.REST
	NewStreamConn func() streaming.Conn

	Analyzer pipeline.Analyzer
	Bundles  pipeline.BundleBuilder

	ScenarioHistory   scenario.HistoryLookup
	ScenarioReasoner  scenario.Reasoner
	CommanderReasoner commander.Reasoner
	Narrator          feedback.Narrator

	MacroFeed feeds.MacroFeed

	Notifier notify.Sink
	Uploader reliability.Uploader

	Universe   UniverseScanner
	HotSymbols HotSymbolScanner
}

// Container holds every wired component. main starts/stops it and
// otherwise leaves it alone.
type Container struct {
	Config *config.Config
	Log    zerolog.Logger

	Store      *store.Store
	Bus        *events.Bus
	Dispatcher *dispatcher.Dispatcher
	Streams    *streaming.Manager
	Scheduler  *scheduler.Scheduler
	Pipeline   *pipeline.Pipeline
	Feedback   *feedback.Engine
	Validator  *scenario.Validator
	Commander  *commander.Commander
	Server     *server.Server
	Backup     *reliability.Service

	quotes     *quoteCache
	macro      feeds.MacroFeed
	universe   UniverseScanner
	hotSymbols HotSymbolScanner
}

// Wire constructs the full object graph in dependency order: store,
// event bus, learning/decision components, the pipeline that ties them
// together, the streaming manager and its dispatcher, the fill applier,
// the scheduler's job table, and finally the status server. Nothing is started yet;
// call Start.
func Wire(cfg *config.Config, log zerolog.Logger, deps Deps) (*Container, error) {
	if deps.REST == nil {
		return nil, fmt.Errorf("app: wiring requires a broker.REST implementation")
	}

	st, err := store.Open(filepath.Join(cfg.DataDir, "aegis.db"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	bus := events.New(log)

	feedbackEngine := feedback.New(deps.Narrator)
	validator := scenario.New(deps.ScenarioHistory, deps.ScenarioReasoner)
	cmdr := commander.New(deps.CommanderReasoner)

	weights := weightLookup(st)

	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.NoopSink{}
	}

	quotes := newQuoteCache()

	c := &Container{
		Config:     cfg,
		Log:        log,
		Store:      st,
		Bus:        bus,
		Feedback:   feedbackEngine,
		Validator:  validator,
		Commander:  cmdr,
		quotes:     quotes,
		macro:      deps.MacroFeed,
		universe:   deps.Universe,
		hotSymbols: deps.HotSymbols,
	}

	pl := pipeline.New(pipeline.Config{
		REST:      deps.REST,
		Store:     st,
		Analyzer:  deps.Analyzer,
		Bundles:   deps.Bundles,
		Validator: validator,
		Commander: cmdr,
		Feedback:  feedbackEngine,
		Regime:    c.resolveRegime,
		Bus:       bus,
		Notifier:  notifier,
		Weights:   weights,
		Log:       log,
	})
	c.Pipeline = pl

	streamManager := streaming.New(newConnOrPanic(deps.NewStreamConn), bus, quotes, log)
	c.Streams = streamManager

	c.Dispatcher = dispatcher.New(bus, &symbolFetcher{rest: deps.REST, quotes: quotes, streams: streamManager, log: log}, &portfolioRechecker{store: st, streams: streamManager, pipeline: pl, log: log}, log)

	applier := &fillApplier{store: st, log: log}
	bus.Subscribe(events.KindExecutionFill, "fill_applier", applier.onFill)

	sched := scheduler.New(cfg.Seoul, log)
	if err := sched.RegisterStandardJobs(c.standardJobs()); err != nil {
		st.Close()
		return nil, fmt.Errorf("register standard jobs: %w", err)
	}
	c.Scheduler = sched

	if cfg.BackupBucket != "" && deps.Uploader != nil {
		c.Backup = reliability.New(deps.Uploader, cfg.BackupBucket, filepath.Join(cfg.DataDir, "aegis.db"), log)
	}

	c.Server = server.New(server.Config{
		Log:     log,
		Store:   st,
		Status:  c,
		Port:    cfg.Port,
		DevMode: cfg.DevMode,
	})

	return c, nil
}

// newConnOrPanic returns a factory that always errors if the caller
// never wired a stream transport: a nil factory would otherwise panic
// inside the manager's own goroutine with a far less useful trace.
func newConnOrPanic(f func() streaming.Conn) func() streaming.Conn {
	if f != nil {
		return f
	}
	return func() streaming.Conn { return unconfiguredConn{} }
}

type unconfiguredConn struct{}

func (unconfiguredConn) Dial(context.Context) error { return fmt.Errorf("streaming transport not configured") }
func (unconfiguredConn) SendSubscribe(context.Context, string, string) error {
	return fmt.Errorf("streaming transport not configured")
}
func (unconfiguredConn) SendUnsubscribe(context.Context, string, string) error {
	return fmt.Errorf("streaming transport not configured")
}
func (unconfiguredConn) Read(context.Context) (streaming.InboundFrame, error) {
	return streaming.InboundFrame{}, fmt.Errorf("streaming transport not configured")
}
func (unconfiguredConn) Close() error { return nil }

// weightLookup adapts the store's pattern-weight repository into the
// function shape trap.Detect consumes, seeding unseen patterns at
// trap.DefaultWeight.
func weightLookup(st *store.Store) trap.WeightLookup {
	return func(pattern string) float64 {
		w, err := st.GetPatternWeight(context.Background(), pattern, trap.DefaultWeight)
		if err != nil {
			return trap.DefaultWeight
		}
		return w.Weight
	}
}

// resolveRegime feeds the macro feed into regime.Classify. A missing
// feed or a fetch error both fall back to RegimeNormal rather than
// blocking the commander gate.
func (c *Container) resolveRegime(ctx context.Context) commander.Regime {
	if c.macro == nil {
		return commander.RegimeNormal
	}
	indicators, err := c.macro.Fetch(ctx)
	if err != nil {
		c.Log.Warn().Err(err).Msg("macro feed fetch failed, defaulting regime to normal")
		return commander.RegimeNormal
	}
	return regime.Classify(regime.Snapshot{Indicators: indicators, AsOf: time.Now()}, time.Now())
}

// Start brings up the streaming manager, scheduler, and status server.
// The store and event bus need no explicit start.
func (c *Container) Start(ctx context.Context) error {
	if err := c.Streams.Start(ctx); err != nil {
		return fmt.Errorf("start streaming manager: %w", err)
	}
	c.Scheduler.Start()
	go func() {
		if err := c.Server.Start(); err != nil {
			c.Log.Error().Err(err).Msg("status server stopped")
		}
	}()
	return nil
}

// Shutdown tears components down in reverse dependency order: scheduler
// first (no new job ticks), then streaming (no more live data), then the
// status server, then the store.
func (c *Container) Shutdown(ctx context.Context) {
	c.Scheduler.Stop()
	if err := c.Streams.Stop(); err != nil {
		c.Log.Warn().Err(err).Msg("streaming manager stop reported an error")
	}
	if err := c.Server.Shutdown(ctx); err != nil {
		c.Log.Warn().Err(err).Msg("status server shutdown reported an error")
	}
	if err := c.Store.Close(); err != nil {
		c.Log.Warn().Err(err).Msg("store close reported an error")
	}
}

// SubscriptionStatus, CircuitBreakerActive, and MinScore implement
// server.StatusProvider.
func (c *Container) SubscriptionStatus() streaming.Status { return c.Streams.Status() }
func (c *Container) CircuitBreakerActive() bool            { return c.Feedback.State().CircuitBroken }
func (c *Container) MinScore() float64                     { return c.Feedback.State().MinScore }

// quoteCache implements streaming.FrameSink, the fetcher's quote source.
// This is plumbing, not an analytical component: it just remembers the
// latest tick and book-top per symbol for the dispatcher and any bundle
// builder that needs a cheap last-known value.
type quoteCache struct {
	mu    sync.RWMutex
	quote map[string]domain.Quote
	book  map[string]domain.OrderBookTop
}

func newQuoteCache() *quoteCache {
	return &quoteCache{quote: make(map[string]domain.Quote), book: make(map[string]domain.OrderBookTop)}
}

func (q *quoteCache) OnTrade(symbol string, lastPrice int64, pctChange float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.quote[symbol] = domain.Quote{
		Symbol: symbol, Timestamp: time.Now(), LastPrice: lastPrice, DayChangeRate: pctChange / 100,
	}
}

func (q *quoteCache) OnOrderBookTop(symbol string, bid, ask, bidQty, askQty int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.book[symbol] = domain.OrderBookTop{
		Symbol: symbol, Timestamp: time.Now(), BestBid: bid, BestAsk: ask, BidQty: bidQty, AskQty: askQty,
	}
}

func (q *quoteCache) Quote(symbol string) (domain.Quote, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	quote, ok := q.quote[symbol]
	return quote, ok
}

func (q *quoteCache) Book(symbol string) (domain.OrderBookTop, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	book, ok := q.book[symbol]
	return book, ok
}
