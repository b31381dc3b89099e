package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ladder_go/internal/domain"
	"ladder_go/internal/event"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaperExecution is an in-memory Gateway. Orders never leave the process;
// Fill and ExpireCancel play the exchange's part and publish the resulting
// order updates to an attached inbox.
type PaperExecution struct {
	mu       sync.Mutex
	market   string
	goodTill time.Duration

	orders   map[string]*domain.ExchangeOrder
	placed   []domain.ExchangeOrder
	canceled []string
	queries  int

	placeErrs []error // consumed one per PlaceOrder call
	cancelErr error   // returned by every CancelOrder while set

	inbox chan<- event.Event
	seq   *uint64
}

// NewPaperExecution creates a paper gateway for one market.
func NewPaperExecution(market string) *PaperExecution {
	return &PaperExecution{
		market:   market,
		goodTill: 365 * 24 * time.Hour,
		orders:   make(map[string]*domain.ExchangeOrder),
	}
}

// Attach makes Fill and ExpireCancel publish events to inbox, numbered
// from the shared seq counter.
func (p *PaperExecution) Attach(inbox chan<- event.Event, seq *uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inbox = inbox
	p.seq = seq
}

// PlaceOrder records a new open post-only limit order.
func (p *PaperExecution) PlaceOrder(ctx context.Context, side domain.Side, size, price decimal.Decimal) (domain.ExchangeOrder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.placeErrs) > 0 {
		err := p.placeErrs[0]
		p.placeErrs = p.placeErrs[1:]
		if err != nil {
			return domain.ExchangeOrder{}, err
		}
	}
	if !side.Valid() || !size.IsPositive() || !price.IsPositive() {
		return domain.ExchangeOrder{}, &domain.GatewayError{Op: "place", Status: 400, Msg: "invalid order terms"}
	}

	now := time.Now().UTC()
	o := domain.ExchangeOrder{
		ID:            uuid.NewString(),
		ClientID:      uuid.NewString(),
		Market:        p.market,
		Side:          side,
		Size:          size,
		RemainingSize: size.String(),
		Price:         price,
		Type:          domain.OrderTypeLimit,
		Status:        domain.OrderStatusOpen,
		TimeInForce:   domain.TimeInForceGTT,
		PostOnly:      true,
		CreatedAt:     now.Format(time.RFC3339Nano),
		ExpiresAt:     now.Add(p.goodTill).Format(time.RFC3339Nano),
	}
	p.orders[o.ID] = &o
	p.placed = append(p.placed, o)

	slog.Info("PAPER EXECUTION: Place Order",
		slog.String("id", o.ID),
		slog.String("side", string(side)),
		slog.String("size", size.String()),
		slog.String("price", price.String()))
	return o, nil
}

// CancelOrder cancels an open order. Unknown and already-terminal orders fail.
func (p *PaperExecution) CancelOrder(ctx context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancelErr != nil {
		return p.cancelErr
	}
	o, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("cancel %s: %w", orderID, domain.ErrOrderNotFound)
	}
	if !o.IsOpen() {
		return &domain.GatewayError{Op: "cancel", Status: 400, Msg: "order already " + string(o.Status)}
	}
	o.Status = domain.OrderStatusCanceled
	o.CancelReason = "USER_CANCELED"
	p.canceled = append(p.canceled, orderID)

	slog.Info("PAPER EXECUTION: Cancel Order", slog.String("id", orderID))
	return nil
}

// GetOrder returns the current record of an order.
func (p *PaperExecution) GetOrder(ctx context.Context, orderID string) (domain.ExchangeOrder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[orderID]
	if !ok {
		return domain.ExchangeOrder{}, fmt.Errorf("order %s: %w", orderID, domain.ErrOrderNotFound)
	}
	return *o, nil
}

// QueryAccount counts liveness calls.
func (p *PaperExecution) QueryAccount(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queries++
	return nil
}

// Fill marks an open order filled, as the exchange would on a match.
func (p *PaperExecution) Fill(orderID string) (domain.ExchangeOrder, error) {
	return p.transition(orderID, domain.OrderStatusFilled, "")
}

// ExpireCancel cancels an open order on the exchange's initiative
// (self-trade prevention, post-only rejection, liquidity purge).
func (p *PaperExecution) ExpireCancel(orderID, reason string) (domain.ExchangeOrder, error) {
	return p.transition(orderID, domain.OrderStatusCanceled, reason)
}

func (p *PaperExecution) transition(orderID string, status domain.OrderStatus, reason string) (domain.ExchangeOrder, error) {
	p.mu.Lock()
	o, ok := p.orders[orderID]
	if !ok {
		p.mu.Unlock()
		return domain.ExchangeOrder{}, fmt.Errorf("order %s: %w", orderID, domain.ErrOrderNotFound)
	}
	if !o.IsOpen() {
		p.mu.Unlock()
		return domain.ExchangeOrder{}, fmt.Errorf("order %s already %s", orderID, o.Status)
	}
	o.Status = status
	o.CancelReason = reason
	if status == domain.OrderStatusFilled {
		o.RemainingSize = "0"
	}
	rec := *o
	inbox, seq := p.inbox, p.seq
	p.mu.Unlock()

	if inbox != nil && seq != nil {
		inbox <- &event.OrderUpdateEvent{
			BaseEvent: event.BaseEvent{Seq: event.NextSeq(seq), Ts: time.Now()},
			Orders:    []domain.ExchangeOrder{rec},
		}
	}
	return rec, nil
}

// FailNextPlace makes upcoming PlaceOrder calls return the given errors in
// order. A nil entry lets that call succeed.
func (p *PaperExecution) FailNextPlace(errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.placeErrs = append(p.placeErrs, errs...)
}

// FailCancels makes every CancelOrder return err until called with nil.
func (p *PaperExecution) FailCancels(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelErr = err
}

// Placed returns every order placed so far, oldest first.
func (p *PaperExecution) Placed() []domain.ExchangeOrder {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.ExchangeOrder, len(p.placed))
	copy(out, p.placed)
	return out
}

// Canceled returns the ids successfully canceled through CancelOrder.
func (p *PaperExecution) Canceled() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.canceled))
	copy(out, p.canceled)
	return out
}

// AccountQueries returns the number of QueryAccount calls.
func (p *PaperExecution) AccountQueries() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queries
}
