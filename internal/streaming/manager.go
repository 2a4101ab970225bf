// Package streaming implements the Priority-Slotted Streaming Subscription
// Manager: a bounded (N=40) table of real-time market-data
// subscriptions across three priority tiers, with eviction, reconnect
// recovery, and acknowledgement-free subscribe semantics. The slot table is
// the canonical state; the wire connection is a projection of it, rebuilt
// on every reconnect.
package streaming

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/joungwonlim/aegis-v3/internal/domain"
	"github.com/joungwonlim/aegis-v3/internal/events"
)

// MaxSlots is the hard cap on concurrent subscriptions.
const MaxSlots = 40

// MaxDailyPicks bounds priority-2 slots populated by updateDailyPicks.
const MaxDailyPicks = 20

// staleAfter is the housekeeping threshold past which a slot MAY be
// evicted for having gone quiet.
const staleAfter = 30 * time.Minute

// reconnectBackoff is the fixed (non-exponential) delay between reconnect
// attempts while degraded.
const reconnectBackoff = 10 * time.Second

// maxHandshakeAttempts bounds the bounded retry loop on Start.
const maxHandshakeAttempts = 10

// ConnState is the connection state machine driving reconnect behavior.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateHandshaking  ConnState = "handshaking"
	StateConnected    ConnState = "connected"
	StateDegraded     ConnState = "degraded"
	StateClosed       ConnState = "closed"
)

// FrameSink receives trade/order-book updates for symbols currently
// subscribed, forwarded downstream (e.g. into the persistent store).
type FrameSink interface {
	OnTrade(symbol string, lastPrice int64, pctChange float64)
	OnOrderBookTop(symbol string, bid, ask, bidQty, askQty int64)
}

// Manager owns the subscription slot table and the single underlying
// connection.
type Manager struct {
	mu    sync.Mutex
	slots map[string]domain.SubscriptionSlot

	conn     Conn
	newConn  func() Conn
	state    ConnState
	stateMu  sync.RWMutex

	bus  *events.Bus
	sink FrameSink
	log  zerolog.Logger

	stop    chan struct{}
	stopped bool
}

// New constructs a Manager. newConn is a factory rather than a single Conn
// so that reconnects dial a fresh connection.
func New(newConn func() Conn, bus *events.Bus, sink FrameSink, log zerolog.Logger) *Manager {
	return &Manager{
		slots:   make(map[string]domain.SubscriptionSlot),
		newConn: newConn,
		state:   StateDisconnected,
		bus:     bus,
		sink:    sink,
		log:     log.With().Str("component", "subscription_manager").Logger(),
		stop:    make(chan struct{}),
	}
}

// State returns the current connection state.
func (m *Manager) State() ConnState {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

func (m *Manager) setState(s ConnState) {
	m.stateMu.Lock()
	m.state = s
	m.stateMu.Unlock()
}

// Start performs the handshake with a bounded retry loop (10 attempts at
// 10s) and, once connected, launches the read loop.
func (m *Manager) Start(ctx context.Context) error {
	m.setState(StateHandshaking)
	var lastErr error
	for attempt := 1; attempt <= maxHandshakeAttempts; attempt++ {
		conn := m.newConn()
		if err := conn.Dial(ctx); err != nil {
			lastErr = err
			m.log.Warn().Err(err).Int("attempt", attempt).Msg("handshake failed, retrying")
			select {
			case <-time.After(reconnectBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		m.mu.Lock()
		m.conn = conn
		m.mu.Unlock()
		m.setState(StateConnected)
		m.resendAllSubscriptions(ctx)
		go m.readLoop(ctx)
		return nil
	}
	m.setState(StateDisconnected)
	return fmt.Errorf("handshake failed after %d attempts: %w", maxHandshakeAttempts, lastErr)
}

// Stop transitions to closed from any state and tears down the connection.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	conn := m.conn
	m.mu.Unlock()

	close(m.stop)
	m.setState(StateClosed)
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Subscribe adds symbol at priority, evicting a lower-priority (or, for
// p<=2, an equal-priority) slot if the table is full. Returns an error if
// the table is full and no evictable slot exists.
func (m *Manager) Subscribe(ctx context.Context, symbol, streamKind string, priority domain.SlotPriority) error {
	m.mu.Lock()
	if _, exists := m.slots[symbol]; exists {
		m.mu.Unlock()
		return nil
	}
	if len(m.slots) >= MaxSlots {
		if !m.evictLowestPriorityLocked(priority) {
			m.mu.Unlock()
			return fmt.Errorf("%w: no evictable slot for priority %d, table full", errFull, priority)
		}
	}
	m.slots[symbol] = domain.SubscriptionSlot{
		Symbol: symbol, StreamKind: streamKind, Priority: priority, SubscribedAt: time.Now(),
	}
	conn := m.conn
	m.mu.Unlock()

	if conn != nil {
		if err := conn.SendSubscribe(ctx, symbol, streamKind); err != nil {
			m.log.Warn().Err(err).Str("symbol", symbol).Msg("subscribe frame send failed; slot kept, will resync on reconnect")
		}
	}
	return nil
}

var errFull = fmt.Errorf("subscription table full")

// evictLowestPriorityLocked implements the eviction policy: evict the
// oldest slot with priority strictly greater than p; if none exists and
// p<=2, evict the oldest slot with priority equal to p. Must be called
// with m.mu held.
func (m *Manager) evictLowestPriorityLocked(p domain.SlotPriority) bool {
	var candidates []domain.SubscriptionSlot
	for _, s := range m.slots {
		if s.Priority > p {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 && p <= 2 {
		for _, s := range m.slots {
			if s.Priority == p {
				candidates = append(candidates, s)
			}
		}
	}
	if len(candidates) == 0 {
		return false
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].SubscribedAt.Before(candidates[j].SubscribedAt)
	})
	victim := candidates[0]
	delete(m.slots, victim.Symbol)
	if m.conn != nil {
		_ = m.conn.SendUnsubscribe(context.Background(), victim.Symbol, victim.StreamKind)
	}
	m.log.Info().Str("symbol", victim.Symbol).Int("priority", int(victim.Priority)).Msg("evicted slot")
	return true
}

// Unsubscribe removes symbol and sends the unsubscribe frame.
func (m *Manager) Unsubscribe(ctx context.Context, symbol string) error {
	m.mu.Lock()
	slot, ok := m.slots[symbol]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.slots, symbol)
	conn := m.conn
	m.mu.Unlock()

	if conn != nil {
		return conn.SendUnsubscribe(ctx, symbol, slot.StreamKind)
	}
	return nil
}

// SyncWithPositions makes the set of priority-1 slots exactly equal to
// holdings, subscribing new symbols and unsubscribing stale ones.
func (m *Manager) SyncWithPositions(ctx context.Context, holdings []string) error {
	held := make(map[string]bool, len(holdings))
	for _, s := range holdings {
		held[s] = true
	}

	m.mu.Lock()
	var toUnsub []string
	for sym, slot := range m.slots {
		if slot.Priority == domain.PriorityHeld && !held[sym] {
			toUnsub = append(toUnsub, sym)
		}
	}
	m.mu.Unlock()

	for _, sym := range toUnsub {
		if err := m.Unsubscribe(ctx, sym); err != nil {
			m.log.Warn().Err(err).Str("symbol", sym).Msg("unsubscribe during position sync failed")
		}
	}
	for sym := range held {
		if err := m.Subscribe(ctx, sym, "trade", domain.PriorityHeld); err != nil {
			m.log.Warn().Err(err).Str("symbol", sym).Msg("subscribe during position sync failed")
		}
	}
	return nil
}

// UpdateDailyPicks replaces every priority-2 slot with up to MaxDailyPicks
// symbols from picks.
func (m *Manager) UpdateDailyPicks(ctx context.Context, picks []string) error {
	m.mu.Lock()
	var current []string
	for sym, slot := range m.slots {
		if slot.Priority == domain.PriorityDailyPick {
			current = append(current, sym)
		}
	}
	m.mu.Unlock()

	for _, sym := range current {
		_ = m.Unsubscribe(ctx, sym)
	}
	if len(picks) > MaxDailyPicks {
		picks = picks[:MaxDailyPicks]
	}
	for _, sym := range picks {
		if err := m.Subscribe(ctx, sym, "trade", domain.PriorityDailyPick); err != nil {
			m.log.Warn().Err(err).Str("symbol", sym).Msg("subscribe daily pick failed")
		}
	}
	return nil
}

// Status reports per-priority counts and the total slot count.
type Status struct {
	Priority1 int
	Priority2 int
	Priority3 int
	Total     int
	State     ConnState
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	var st Status
	for _, s := range m.slots {
		switch s.Priority {
		case domain.PriorityHeld:
			st.Priority1++
		case domain.PriorityDailyPick:
			st.Priority2++
		case domain.PriorityOpportunistic:
			st.Priority3++
		}
	}
	st.Total = len(m.slots)
	st.State = m.State()
	return st
}

// Symbols returns every currently subscribed symbol at the given
// priority, for callers (e.g. the intraday pipeline job) that need to
// know which candidates are under live coverage.
func (m *Manager) Symbols(priority domain.SlotPriority) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for sym, s := range m.slots {
		if s.Priority == priority {
			out = append(out, sym)
		}
	}
	return out
}

// HousekeepStale evicts slots whose last data is older than staleAfter.
func (m *Manager) HousekeepStale(ctx context.Context, now time.Time) []string {
	m.mu.Lock()
	var stale []string
	for sym, s := range m.slots {
		if s.IsStale(now, staleAfter) {
			stale = append(stale, sym)
		}
	}
	m.mu.Unlock()

	for _, sym := range stale {
		_ = m.Unsubscribe(ctx, sym)
	}
	return stale
}

// readLoop consumes frames until Stop is called or the connection fails,
// transitioning to degraded and scheduling reconnect on failure.
func (m *Manager) readLoop(ctx context.Context) {
	for {
		select {
		case <-m.stop:
			return
		default:
		}

		m.mu.Lock()
		conn := m.conn
		m.mu.Unlock()
		if conn == nil {
			return
		}

		frame, err := conn.Read(ctx)
		if err != nil {
			select {
			case <-m.stop:
				return
			default:
			}
			m.log.Warn().Err(err).Msg("stream read failed, entering degraded state")
			m.setState(StateDegraded)
			go m.reconnectLoop(ctx)
			return
		}
		m.dispatch(frame)
	}
}

// dispatch routes one inbound frame by kind. Execution-fill frames go to
// the event bus (the dispatcher layer consumes them, not this manager).
// Trade/order-book frames update last-data-at and forward to the sink;
// frames for unmatched symbols are dropped silently.
func (m *Manager) dispatch(f InboundFrame) {
	switch f.Kind {
	case FrameExecutionNotice:
		if m.bus != nil {
			m.bus.Publish(events.NewFillEvent(f.Symbol, f.BrokerOrderID, f.FilledQty, f.FillPrice, f.Side))
		}
		return
	case FrameTrade:
		if !m.touch(f.Symbol) {
			return
		}
		if m.sink != nil {
			m.sink.OnTrade(f.Symbol, f.LastPrice, f.PctChange)
		}
	case FrameOrderBookTop:
		if !m.touch(f.Symbol) {
			return
		}
		if m.sink != nil {
			m.sink.OnOrderBookTop(f.Symbol, f.BestBid, f.BestAsk, f.BidQty, f.AskQty)
		}
	}
}

// touch updates last-data-at for symbol if a slot exists; returns false
// for unmatched symbols so callers can drop the frame silently.
func (m *Manager) touch(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.slots[symbol]
	if !ok {
		return false
	}
	slot.LastDataAt = time.Now()
	m.slots[symbol] = slot
	return true
}

// reconnectLoop retries the handshake on a fixed 10s backoff until it
// succeeds or Stop is called.
func (m *Manager) reconnectLoop(ctx context.Context) {
	for {
		select {
		case <-m.stop:
			return
		case <-time.After(reconnectBackoff):
		}

		m.setState(StateHandshaking)
		conn := m.newConn()
		if err := conn.Dial(ctx); err != nil {
			m.log.Warn().Err(err).Msg("reconnect attempt failed")
			m.setState(StateDegraded)
			continue
		}

		m.mu.Lock()
		m.conn = conn
		m.mu.Unlock()
		m.setState(StateConnected)
		m.resendAllSubscriptions(ctx)
		go m.readLoop(ctx)
		return
	}
}

// resendAllSubscriptions re-sends a subscribe frame for every slot
// currently in the table — the table is the source of truth, not the wire.
func (m *Manager) resendAllSubscriptions(ctx context.Context) {
	m.mu.Lock()
	conn := m.conn
	slots := make([]domain.SubscriptionSlot, 0, len(m.slots))
	for _, s := range m.slots {
		slots = append(slots, s)
	}
	m.mu.Unlock()

	for _, s := range slots {
		if err := conn.SendSubscribe(ctx, s.Symbol, s.StreamKind); err != nil {
			m.log.Warn().Err(err).Str("symbol", s.Symbol).Msg("resubscribe after reconnect failed")
		}
	}
}
