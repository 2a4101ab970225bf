// Package broker defines the brokerage REST contract and the on-disk
// access-token cache every REST call depends on. The concrete HTTP
// client is an external collaborator; this package only fixes the
// interface shape and the token lifecycle it requires.
package broker

import (
	"context"
	"time"

	"github.com/joungwonlim/aegis-v3/internal/domain"
)

// Balance is the combined-balance response: per-symbol holdings plus a
// summary block.
type Balance struct {
	Holdings []domain.Position
	Summary  BalanceSummary
}

// BalanceSummary is the account-level roll-up returned alongside holdings.
type BalanceSummary struct {
	CashBalance     int64
	OrderableCash   int64
	TotalEquity     int64
}

// REST is the brokerage request/response contract.
type REST interface {
	GetAccessToken(ctx context.Context) (string, time.Time, error)
	GetCurrentPrice(ctx context.Context, symbol string) (int64, error)
	GetOrderBookTop(ctx context.Context, symbol string) (domain.OrderBookTop, error)
	GetCombinedBalance(ctx context.Context) (Balance, error)
	PlaceOrder(ctx context.Context, side domain.OrderSide, symbol string, qty, price int64, venue domain.Venue) (brokerOrderID string, err error)
	GetOpenOrders(ctx context.Context) ([]domain.Order, error)
}

// RestTimeout is the per-call timeout every REST collaborator call must
// be bound by.
const RestTimeout = 30 * time.Second

// SubstituteMarketOrder implements the alternate-venue rule: venue
// "alternate" rejects a zero-price (market) order, so the caller must
// resolve and pass the current best opposite-side price instead.
func SubstituteMarketOrder(venue domain.Venue, side domain.OrderSide, price int64, book domain.OrderBookTop) int64 {
	if venue != domain.VenueAlternate || price != 0 {
		return price
	}
	if side == domain.SideBuy {
		return book.BestAsk
	}
	return book.BestBid
}
