// Package dispatcher translates domain events into targeted, deduplicated
// per-symbol data refreshes. It is the minimum debounce
// the rest of the system relies on: within any 10-second window for a
// given symbol, at most one fetch is triggered.
package dispatcher

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/joungwonlim/aegis-v3/internal/events"
)

// Priority mirrors the triggering event's urgency, forwarded to Fetcher so
// it can prioritize broker calls if it chooses to.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

const debounceWindow = 10 * time.Second

// Fetcher performs the actual per-symbol data refresh. The implementation
// lives in internal/app: it reads the symbol over broker REST, refreshes
// the in-memory quote cache, and promotes the symbol into streaming
// coverage; the dispatcher only knows how to call it.
type Fetcher interface {
	FetchSingle(symbol, reason string, priority Priority) error
}

// PortfolioRechecker is invoked once per regime-change event instead of a
// per-symbol fetch, fanning out to the Subscription Manager and Pipeline.
type PortfolioRechecker interface {
	RecheckPortfolio(reason string) error
}

// Dispatcher subscribes to the event bus and debounces fetch triggers.
type Dispatcher struct {
	fetcher   Fetcher
	recheck   PortfolioRechecker
	log       zerolog.Logger
	mu        sync.Mutex
	inFlight  map[string]bool
	lastStart map[string]time.Time
}

// New constructs a Dispatcher and subscribes it to the bus events it
// reacts to: execution-fill, breaking-news, hot-symbol, disclosure, and
// regime-change.
func New(bus *events.Bus, fetcher Fetcher, recheck PortfolioRechecker, log zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		fetcher:   fetcher,
		recheck:   recheck,
		log:       log.With().Str("component", "fetcher_dispatcher").Logger(),
		inFlight:  make(map[string]bool),
		lastStart: make(map[string]time.Time),
	}

	for kind, priority := range map[events.Kind]Priority{
		events.KindExecutionFill: PriorityHigh,
		events.KindBreakingNews:  PriorityNormal,
		events.KindHotSymbol:     PriorityNormal,
		events.KindDisclosure:    PriorityHigh,
	} {
		p := priority
		bus.Subscribe(kind, "fetcher_dispatcher", func(e *events.Event) {
			d.onSymbolEvent(e, p)
		})
	}

	bus.Subscribe(events.KindRegimeChange, "fetcher_dispatcher", func(e *events.Event) {
		d.onRegimeChange(e)
	})

	return d
}

func (d *Dispatcher) onSymbolEvent(e *events.Event, priority Priority) {
	symbol := e.Symbol()
	if symbol == "" {
		d.log.Warn().Str("event_kind", string(e.Kind)).Msg("event missing symbol, dropping")
		return
	}
	d.trigger(symbol, string(e.Kind), priority)
}

func (d *Dispatcher) onRegimeChange(e *events.Event) {
	if d.recheck == nil {
		return
	}
	if err := d.recheck.RecheckPortfolio("regime-change"); err != nil {
		d.log.Error().Err(err).Msg("portfolio-wide recheck failed")
	}
}

// trigger runs the debounce/dedup decision and, if the symbol clears both
// gates, calls FetchSingle synchronously within the handler's own
// goroutine (the bus already runs each handler concurrently).
func (d *Dispatcher) trigger(symbol, reason string, priority Priority) {
	d.mu.Lock()
	if d.inFlight[symbol] {
		d.mu.Unlock()
		d.log.Debug().Str("symbol", symbol).Msg("fetch suppressed: already in flight")
		return
	}
	if last, ok := d.lastStart[symbol]; ok && time.Since(last) < debounceWindow {
		d.mu.Unlock()
		d.log.Debug().Str("symbol", symbol).Msg("fetch suppressed: within debounce window")
		return
	}
	d.inFlight[symbol] = true
	d.lastStart[symbol] = time.Now()
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		delete(d.inFlight, symbol)
		d.mu.Unlock()
	}()

	if err := d.fetcher.FetchSingle(symbol, reason, priority); err != nil {
		d.log.Error().Err(err).Str("symbol", symbol).Str("reason", reason).Msg("fetch failed")
	}
}
