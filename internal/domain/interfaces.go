package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Gateway places and cancels orders on the exchange.
type Gateway interface {
	// PlaceOrder submits a post-only limit order with a long expiry.
	PlaceOrder(ctx context.Context, side Side, size, price decimal.Decimal) (ExchangeOrder, error)
	// CancelOrder requests cancellation. Already-filled or already-canceled
	// orders yield an error that callers are expected to tolerate.
	CancelOrder(ctx context.Context, orderID string) error
	// GetOrder fetches the exchange record of one order.
	GetOrder(ctx context.Context, orderID string) (ExchangeOrder, error)
	// QueryAccount is the lightweight call used to keep the session alive.
	QueryAccount(ctx context.Context) error
}

// StateStore persists the engine snapshot.
type StateStore interface {
	// Save atomically overwrites the previous snapshot.
	Save(state *EngineState) error
	// Load returns ErrNoState when nothing was saved yet and an error
	// matching ErrCorruptState when the snapshot cannot be parsed.
	Load() (*EngineState, error)
}

// Notifier delivers best-effort text alerts. It must never block trading.
type Notifier interface {
	Notify(msg string)
}

// FeedCloser stops the order feed for good.
type FeedCloser interface {
	Close()
}

// Recorder keeps an audit trail of lifecycle transitions.
type Recorder interface {
	Record(t Transition) error
}

// ExchangeWorker defines the interface for exchange WebSocket connectors
type ExchangeWorker interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
}
