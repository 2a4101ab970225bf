// Package events implements the process-local publish/subscribe bus
// a closed set of typed event kinds, idempotent
// handler registration per kind, and concurrent fan-out per publish with
// per-handler fault isolation.
package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Kind is the closed enumeration of event kinds the bus understands.
type Kind string

const (
	KindExecutionFill   Kind = "execution-fill"
	KindBreakingNews    Kind = "breaking-news"
	KindDisclosure      Kind = "disclosure"
	KindHotSymbol       Kind = "hot-symbol"
	KindRegimeChange    Kind = "regime-change"
	KindScheduleTick    Kind = "schedule-tick"
	KindPipelineComplete Kind = "pipeline-complete"
	KindOrderSubmitted  Kind = "order-submitted"
)

// Event is one published occurrence. Data is a loosely typed payload;
// handlers type-assert the fields they need (e.g. "symbol").
type Event struct {
	Kind      Kind
	Timestamp time.Time
	Data      map[string]any
}

// Symbol is a convenience accessor for the common "symbol" payload field.
func (e *Event) Symbol() string {
	if e == nil || e.Data == nil {
		return ""
	}
	s, _ := e.Data["symbol"].(string)
	return s
}

// Handler receives one published event. Handlers must not block for long —
// the bus isolates faults but not slowness; a slow handler only delays its
// own invocation, never future publishes or sibling handlers.
type Handler func(*Event)

// handlerID identifies a registration for idempotent re-subscription,
// keyed by (kind, a caller-supplied identity string).
type handlerID struct {
	kind     Kind
	identity string
}

// Bus is an in-process, fan-out publish/subscribe mechanism. The zero
// value is not usable; construct with New.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Kind][]registration
	seen     map[handlerID]bool
	history  []Event
	histCap  int
	log      zerolog.Logger
}

type registration struct {
	identity string
	fn       Handler
}

// New constructs a Bus with a bounded capacity-100 publish history for
// late-joining diagnostics.
func New(log zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[Kind][]registration),
		seen:     make(map[handlerID]bool),
		histCap:  100,
		log:      log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers an asynchronous handler for kind. identity must be
// stable across calls for a given logical handler (e.g. a component name)
// so that re-subscription is a no-op rather than a duplicate registration.
func (b *Bus) Subscribe(kind Kind, identity string, fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := handlerID{kind: kind, identity: identity}
	if b.seen[id] {
		return
	}
	b.seen[id] = true
	b.handlers[kind] = append(b.handlers[kind], registration{identity: identity, fn: fn})
}

// Publish appends the event to the bounded history (oldest dropped past
// capacity) and invokes every registered handler for its kind
// concurrently. Publish returns once all handlers have completed or
// recovered from a panic; a faulting handler is logged and otherwise
// ignored, and never affects its siblings.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.Lock()
	b.history = append(b.history, e)
	if len(b.history) > b.histCap {
		b.history = b.history[len(b.history)-b.histCap:]
	}
	regs := append([]registration(nil), b.handlers[e.Kind]...)
	b.mu.Unlock()

	if len(regs) == 0 {
		return
	}

	var wg sync.WaitGroup
	wg.Add(len(regs))
	for _, r := range regs {
		go func(r registration) {
			defer wg.Done()
			defer b.guard(e.Kind, r.identity)
			r.fn(&e)
		}(r)
	}
	wg.Wait()
}

// guard recovers a panicking handler, logs it, and swallows it so one
// handler's fault can never affect its siblings or the publisher.
func (b *Bus) guard(kind Kind, identity string) {
	if r := recover(); r != nil {
		b.log.Error().
			Str("event_kind", string(kind)).
			Str("handler", identity).
			Interface("panic", r).
			Msg("event handler panicked, dropping fault")
	}
}

// History returns a snapshot of the most recent published events, oldest
// first, for diagnostics/status endpoints.
func (b *Bus) History() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Event, len(b.history))
	copy(out, b.history)
	return out
}

// NewFillEvent is a convenience constructor for an execution-fill event.
func NewFillEvent(symbol, brokerOrderID string, filledQty, fillPrice int64, side string) Event {
	return Event{
		Kind: KindExecutionFill,
		Data: map[string]any{
			"symbol":          symbol,
			"broker_order_id": brokerOrderID,
			"filled_qty":      filledQty,
			"fill_price":      fillPrice,
			"side":            side,
		},
	}
}

// ErrUnknownKind names the error for an event kind outside the closed
// set. Nothing in this package returns it: Publish records an unknown
// kind in history and delivers it to no handler.
var ErrUnknownKind = fmt.Errorf("unknown event kind")
