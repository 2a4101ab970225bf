package dispatcher

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/joungwonlim/aegis-v3/internal/events"
)

type countingFetcher struct {
	mu    sync.Mutex
	calls map[string]int
}

func newCountingFetcher() *countingFetcher {
	return &countingFetcher{calls: make(map[string]int)}
}

func (f *countingFetcher) FetchSingle(symbol, reason string, priority Priority) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[symbol]++
	return nil
}

func (f *countingFetcher) count(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[symbol]
}

func TestDispatcherDebouncesWithinWindow(t *testing.T) {
	bus := events.New(zerolog.Nop())
	fetcher := newCountingFetcher()
	New(bus, fetcher, nil, zerolog.Nop())

	for i := 0; i < 5; i++ {
		bus.Publish(events.Event{Kind: events.KindBreakingNews, Data: map[string]any{"symbol": "005930"}})
	}
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 1, fetcher.count("005930"), "at most one fetch per symbol within the debounce window")
}

func TestDispatcherDropsEventsMissingSymbol(t *testing.T) {
	bus := events.New(zerolog.Nop())
	fetcher := newCountingFetcher()
	New(bus, fetcher, nil, zerolog.Nop())

	bus.Publish(events.Event{Kind: events.KindBreakingNews})
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 0, fetcher.count(""))
}

type countingRechecker struct {
	mu    sync.Mutex
	calls int
}

func (r *countingRechecker) RecheckPortfolio(reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return nil
}

func TestDispatcherInvokesRecheckerOnRegimeChange(t *testing.T) {
	bus := events.New(zerolog.Nop())
	rechecker := &countingRechecker{}
	New(bus, newCountingFetcher(), rechecker, zerolog.Nop())

	bus.Publish(events.Event{Kind: events.KindRegimeChange})
	time.Sleep(20 * time.Millisecond)

	rechecker.mu.Lock()
	defer rechecker.mu.Unlock()
	assert.Equal(t, 1, rechecker.calls)
}
