package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"nhooyr.io/websocket"
)

// Direction flags a subscribe/unsubscribe frame's intent.
type Direction string

const (
	DirSubscribe   Direction = "subscribe"
	DirUnsubscribe Direction = "unsubscribe"
)

// FrameKind enumerates inbound frame kinds the manager dispatches on.
type FrameKind string

const (
	FrameTrade          FrameKind = "trade-tick"
	FrameOrderBookTop   FrameKind = "order-book-top"
	FrameExecutionNotice FrameKind = "execution-notice"
)

// InboundFrame is a parsed message from the broker stream.
type InboundFrame struct {
	Kind      FrameKind
	Symbol    string // empty for execution-notice, which keys by account id
	AccountID string
	LastPrice int64
	PctChange float64
	BestBid   int64
	BestAsk   int64
	BidQty    int64
	AskQty    int64

	BrokerOrderID string
	FilledQty     int64
	FillPrice     int64
	Side          string
}

// ApprovalKeyFetcher obtains the ephemeral approval key required by the
// handshake; it must never be read out of static config.
type ApprovalKeyFetcher interface {
	FetchApprovalKey(ctx context.Context) (string, error)
}

// Conn abstracts the single persistent connection to the broker stream so
// the manager's reconnect/eviction logic can be tested without a socket.
type Conn interface {
	// Dial performs the handshake (approval key fetch + upgrade).
	Dial(ctx context.Context) error
	// SendSubscribe/SendUnsubscribe serialize one (tr_id, symbol) frame.
	SendSubscribe(ctx context.Context, symbol, streamKind string) error
	SendUnsubscribe(ctx context.Context, symbol, streamKind string) error
	// Read blocks for the next inbound frame, honoring the idle/heartbeat
	// timeout baked into the implementation (20s).
	Read(ctx context.Context) (InboundFrame, error)
	Close() error
}

const (
	heartbeatTimeout = 20 * time.Second
	dialTimeout      = 30 * time.Second
)

// wsConn is the nhooyr.io/websocket-backed Conn implementation: dial,
// subscribe/unsubscribe frames, and single-frame reads bounded by a fixed
// heartbeat timeout. The read loop and re-subscription after a reconnect
// are run by Manager.
type wsConn struct {
	url        string
	approval   ApprovalKeyFetcher
	httpClient *http.Client
	conn       *websocket.Conn
}

// NewWSConn constructs the production Conn. url is the broker stream
// endpoint; the approval key is appended as a query parameter obtained
// fresh on every Dial via approval.FetchApprovalKey.
func NewWSConn(url string, approval ApprovalKeyFetcher) Conn {
	return &wsConn{url: url, approval: approval, httpClient: http.DefaultClient}
}

func (w *wsConn) Dial(ctx context.Context) error {
	key, err := w.approval.FetchApprovalKey(ctx)
	if err != nil {
		return fmt.Errorf("approval key handshake failed: %w", err)
	}
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, w.url+"?approval_key="+key, &websocket.DialOptions{
		HTTPClient: w.httpClient,
	})
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	w.conn = conn
	return nil
}

type subscribeFrame struct {
	TrID      string    `json:"tr_id"`
	Symbol    string    `json:"symbol"`
	Direction Direction `json:"direction"`
}

func (w *wsConn) SendSubscribe(ctx context.Context, symbol, streamKind string) error {
	return w.send(ctx, subscribeFrame{TrID: streamKind, Symbol: symbol, Direction: DirSubscribe})
}

func (w *wsConn) SendUnsubscribe(ctx context.Context, symbol, streamKind string) error {
	return w.send(ctx, subscribeFrame{TrID: streamKind, Symbol: symbol, Direction: DirUnsubscribe})
}

func (w *wsConn) send(ctx context.Context, frame subscribeFrame) error {
	if w.conn == nil {
		return fmt.Errorf("not connected")
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return w.conn.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Read(ctx context.Context) (InboundFrame, error) {
	if w.conn == nil {
		return InboundFrame{}, fmt.Errorf("not connected")
	}
	readCtx, cancel := context.WithTimeout(ctx, heartbeatTimeout)
	defer cancel()
	_, data, err := w.conn.Read(readCtx)
	if err != nil {
		return InboundFrame{}, err
	}
	var raw struct {
		Kind          FrameKind `json:"kind"`
		Symbol        string    `json:"symbol"`
		AccountID     string    `json:"account_id"`
		LastPrice     int64     `json:"last_price"`
		PctChange     float64   `json:"pct_change"`
		BestBid       int64     `json:"best_bid"`
		BestAsk       int64     `json:"best_ask"`
		BidQty        int64     `json:"bid_qty"`
		AskQty        int64     `json:"ask_qty"`
		BrokerOrderID string    `json:"broker_order_id"`
		FilledQty     int64     `json:"filled_qty"`
		FillPrice     int64     `json:"fill_price"`
		Side          string    `json:"side"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return InboundFrame{}, fmt.Errorf("malformed frame: %w", err)
	}
	return InboundFrame{
		Kind: raw.Kind, Symbol: raw.Symbol, AccountID: raw.AccountID,
		LastPrice: raw.LastPrice, PctChange: raw.PctChange,
		BestBid: raw.BestBid, BestAsk: raw.BestAsk, BidQty: raw.BidQty, AskQty: raw.AskQty,
		BrokerOrderID: raw.BrokerOrderID, FilledQty: raw.FilledQty, FillPrice: raw.FillPrice, Side: raw.Side,
	}, nil
}

func (w *wsConn) Close() error {
	if w.conn == nil {
		return nil
	}
	return w.conn.Close(websocket.StatusNormalClosure, "")
}
