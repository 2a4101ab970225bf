// Package pipeline implements the staged decision flow: Fetch, Persist,
// Analyze, Validate, Command, Execute, walked in strict order for one
// invocation. A failure at any stage short-circuits only that
// invocation; the next tick starts clean.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/joungwonlim/aegis-v3/internal/broker"
	"github.com/joungwonlim/aegis-v3/internal/commander"
	"github.com/joungwonlim/aegis-v3/internal/domain"
	"github.com/joungwonlim/aegis-v3/internal/events"
	"github.com/joungwonlim/aegis-v3/internal/feedback"
	"github.com/joungwonlim/aegis-v3/internal/notify"
	"github.com/joungwonlim/aegis-v3/internal/scenario"
	"github.com/joungwonlim/aegis-v3/internal/store"
	"github.com/joungwonlim/aegis-v3/internal/trap"
)

// Stage names, in the order they must run. Exported so observers and
// tests can assert on exact stage sequencing without string literals
// scattered across the codebase.
const (
	StageFetch    = "fetch"
	StagePersist  = "persist"
	StageAnalyze  = "analyze"
	StageValidate = "validate"
	StageCommand  = "command"
	StageExecute  = "execute"
)

// Analyzer produces the raw quant/ai scores for one candidate. The
// specific scoring algorithm is an external collaborator; the pipeline
// only applies the combine rule and trap adjustment to its output.
type Analyzer interface {
	Score(ctx context.Context, symbol string, bundle trap.Bundle) (quantScore, aiScore float64, err error)
}

// BundleBuilder assembles the (quote, order book, tape) bundle a
// candidate's trap checks and analyzer both read.
type BundleBuilder interface {
	Build(ctx context.Context, symbol string) (trap.Bundle, error)
}

// RegimeResolver returns the current regime tag for the commander gate.
type RegimeResolver func(ctx context.Context) commander.Regime

// Candidate is one symbol under consideration this invocation.
type Candidate struct {
	Symbol       string
	CurrentPrice int64
}

// StageTiming records how long one stage took.
type StageTiming struct {
	Stage    string
	Duration time.Duration
}

// Result is the structured outcome of one invocation.
type Result struct {
	CandidatesCount int
	ValidatedCount  int
	BuyOrders       int
	SellOrders      int
	StageTimings    []StageTiming
	FailureReason   string
}

// Pipeline wires every stage's collaborators together.
type Pipeline struct {
	rest      broker.REST
	store     *store.Store
	analyzer  Analyzer
	bundles   BundleBuilder
	validator *scenario.Validator
	cmdr      *commander.Commander
	feedback  *feedback.Engine
	regime    RegimeResolver
	bus       *events.Bus
	notifier  notify.Sink
	weights   trap.WeightLookup
	log       zerolog.Logger

	onStage func(stage string) // test hook, nil in production
}

// Config bundles every Pipeline dependency.
type Config struct {
	REST      broker.REST
	Store     *store.Store
	Analyzer  Analyzer
	Bundles   BundleBuilder
	Validator *scenario.Validator
	Commander *commander.Commander
	Feedback  *feedback.Engine
	Regime    RegimeResolver
	Bus       *events.Bus
	Notifier  notify.Sink
	Weights   trap.WeightLookup
	Log       zerolog.Logger
}

func New(cfg Config) *Pipeline {
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.NoopSink{}
	}
	return &Pipeline{
		rest: cfg.REST, store: cfg.Store, analyzer: cfg.Analyzer, bundles: cfg.Bundles,
		validator: cfg.Validator, cmdr: cfg.Commander, feedback: cfg.Feedback,
		regime: cfg.Regime, bus: cfg.Bus, notifier: notifier, weights: cfg.Weights,
		log: cfg.Log.With().Str("component", "pipeline").Logger(),
	}
}

// validatedSignal carries a retained buy signal forward into Command,
// along with the validator's adjusted target/qty.
type validatedSignal struct {
	signal  domain.Signal
	verdict domain.ValidationVerdict
}

// Run walks all six stages for candidates in strict order. Stage K never
// starts before stage K-1 has returned.
func (p *Pipeline) Run(ctx context.Context, candidates []Candidate) Result {
	result := Result{CandidatesCount: len(candidates)}
	invocationID := uuid.NewString()
	log := p.log.With().Str("invocation", invocationID).Logger()

	balance, holdings, err := p.runFetch(ctx, &result)
	if err != nil {
		result.FailureReason = fmt.Sprintf("fetch: %v", err)
		log.Error().Err(err).Msg("pipeline short-circuited at fetch")
		return result
	}

	if err := p.runPersist(ctx, &result, balance); err != nil {
		result.FailureReason = fmt.Sprintf("persist: %v", err)
		log.Error().Err(err).Msg("pipeline short-circuited at persist")
		return result
	}

	signals, err := p.runAnalyze(ctx, &result, candidates)
	if err != nil {
		result.FailureReason = fmt.Sprintf("analyze: %v", err)
		log.Error().Err(err).Msg("pipeline short-circuited at analyze")
		return result
	}

	validated := p.runValidate(ctx, &result, signals)
	result.ValidatedCount = len(validated)

	approved := p.runCommand(ctx, &result, validated)

	p.runExecute(ctx, &result, invocationID, balance, holdings, approved)

	p.bus.Publish(events.Event{Kind: events.KindPipelineComplete, Timestamp: time.Now(), Data: map[string]any{
		"candidates": result.CandidatesCount, "validated": result.ValidatedCount,
		"buys": result.BuyOrders, "sells": result.SellOrders,
	}})

	return result
}

func (p *Pipeline) timeStage(result *Result, stage string, fn func() error) error {
	if p.onStage != nil {
		p.onStage(stage)
	}
	start := time.Now()
	err := fn()
	result.StageTimings = append(result.StageTimings, StageTiming{Stage: stage, Duration: time.Since(start)})
	return err
}
