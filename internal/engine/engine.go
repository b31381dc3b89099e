package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"ladder_go/internal/domain"
	"ladder_go/internal/event"
	"ladder_go/internal/infra"

	"github.com/shopspring/decimal"
)

// Config holds the collaborators of an Engine.
// Notifier, Recorder and Metrics are optional.
type Config struct {
	Ladder   domain.Ladder
	Gateway  domain.Gateway
	Store    domain.StateStore
	Notifier domain.Notifier
	Recorder domain.Recorder
	Metrics  *infra.Metrics
}

// Engine is the order-lifecycle state machine. It owns the EngineState and
// must only be driven from one goroutine (the Sequencer's).
type Engine struct {
	ladder   domain.Ladder
	gateway  domain.Gateway
	store    domain.StateStore
	notifier domain.Notifier
	recorder domain.Recorder
	metrics  *infra.Metrics
	logger   *slog.Logger

	feed      domain.FeedCloser
	closeOnce sync.Once
	done      atomic.Bool

	state *domain.EngineState
	mu    sync.RWMutex // guards state for external readers
}

// New creates an engine. Call Start before handing it events.
func New(cfg Config) *Engine {
	m := cfg.Metrics
	if m == nil {
		m = infra.GlobalMetrics
	}
	return &Engine{
		ladder:   cfg.Ladder,
		gateway:  cfg.Gateway,
		store:    cfg.Store,
		notifier: cfg.Notifier,
		recorder: cfg.Recorder,
		metrics:  m,
		logger:   slog.Default().With("module", "engine"),
	}
}

// SetFeed registers the subscription closed when the ladder terminates.
func (e *Engine) SetFeed(feed domain.FeedCloser) {
	e.feed = feed
}

// Done reports whether the ladder reached its terminal step.
func (e *Engine) Done() bool {
	return e.done.Load()
}

// State returns a copy of the current snapshot.
func (e *Engine) State() *domain.EngineState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state == nil {
		return nil
	}
	return e.state.Clone()
}

// Start loads the persisted state or, when none exists, places the first
// cohort and persists it. It returns ErrLadderComplete when the saved state
// is already terminal and fails on a corrupt snapshot.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, err := e.store.Load()
	switch {
	case errors.Is(err, domain.ErrNoState):
		e.logger.Info("No state saved, starting new ladder")
		e.notify("No state saved. Start new.")
		return e.startFresh(ctx)
	case err != nil:
		e.metrics.RecordError()
		e.notify(fmt.Sprintf("FATAL: cannot load state: %v", err))
		return fmt.Errorf("load state: %w", err)
	}

	e.state = st
	e.publishPosition()
	if st.IsComplete() {
		e.logger.Info("Saved state is terminal, nothing to do")
		e.done.Store(true)
		return domain.ErrLadderComplete
	}
	if !e.ladder.HasStep(st.CurrentStep) {
		e.metrics.RecordError()
		return fmt.Errorf("saved step %d: %w", st.CurrentStep, domain.ErrUnknownStep)
	}

	e.logger.Info("State loaded",
		slog.Int("step", int(st.CurrentStep)),
		slog.Int("orders", len(st.Orders)))
	e.notify(fmt.Sprintf("State loaded. Order ID %d, %d live orders", st.CurrentStep, len(st.Orders)))
	return nil
}

func (e *Engine) startFresh(ctx context.Context) error {
	e.state = domain.NewEngineState()
	e.logger.Info("Order ID", slog.Int("step", int(e.state.CurrentStep)))

	if err := e.placeCohort(ctx, e.ladder.StepsFor(e.state.CurrentStep)); err != nil {
		return errors.Join(err, e.persist())
	}
	return e.persist()
}

// Reconcile repairs drift between the snapshot and the exchange after a
// restart. Ladder entries of the current step without a tracked order are
// placed, then every tracked order is queried and terminal statuses are run
// through the normal transition logic.
func (e *Engine) Reconcile(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reconcile(ctx)
}

func (e *Engine) reconcile(ctx context.Context) error {
	if e.state == nil || e.Done() {
		return nil
	}

	if missing := e.state.MissingSteps(e.ladder); len(missing) > 0 {
		e.logger.Warn("Cohort incomplete, placing missing orders", slog.Int("missing", len(missing)))
		if err := e.placeCohort(ctx, missing); err != nil {
			return errors.Join(err, e.persist())
		}
		if err := e.persist(); err != nil {
			return err
		}
	}

	var updates []domain.ExchangeOrder
	for _, t := range e.state.Orders {
		o, err := e.gateway.GetOrder(ctx, t.ExchangeOrder.ID)
		if err != nil {
			e.logger.Warn("Order status query failed",
				slog.String("order_id", t.ExchangeOrder.ID),
				slog.Bool("retriable", domain.IsRetriable(err)),
				slog.Any("error", err))
			continue
		}
		if o.Status.IsTerminal() {
			updates = append(updates, o)
		}
	}
	if len(updates) == 0 {
		return nil
	}

	// Fills first: a fill cancels the siblings, so repairing them beforehand
	// would only place orders that are about to be canceled.
	sort.SliceStable(updates, func(i, j int) bool {
		return updates[i].Status == domain.OrderStatusFilled && updates[j].Status != domain.OrderStatusFilled
	})
	e.logger.Info("Reconciling orders that changed while offline", slog.Int("count", len(updates)))
	return e.applyUpdates(ctx, updates)
}

// HandleEvent applies one feed event. Ignored events and updates for
// untracked orders are no-ops. A returned error is fatal for the sequencer.
func (e *Engine) HandleEvent(ctx context.Context, ev event.Event) error {
	switch ev := ev.(type) {
	case *event.OrderUpdateEvent:
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.applyUpdates(ctx, ev.Orders)
	case *event.ReconcileEvent:
		e.logger.Info("Reconcile requested", slog.Uint64("seq", ev.Seq), slog.String("reason", ev.Reason))
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.reconcile(ctx)
	case *event.IgnoredEvent:
		e.logger.Debug("Feed message ignored",
			slog.Uint64("seq", ev.Seq), slog.String("type", ev.MsgType), slog.String("reason", ev.Reason))
		return nil
	default:
		e.logger.Warn("Unknown event type", slog.Any("type", ev.GetType()))
		return nil
	}
}

func (e *Engine) applyUpdates(ctx context.Context, updates []domain.ExchangeOrder) error {
	if e.state == nil {
		return fmt.Errorf("engine not started")
	}
	for _, upd := range updates {
		if e.Done() {
			return nil
		}

		idx := e.state.IndexOf(upd.ID)
		if idx < 0 {
			e.logger.Debug("Update for untracked order",
				slog.String("order_id", upd.ID), slog.String("status", string(upd.Status)))
			continue
		}

		switch upd.Status {
		case domain.OrderStatusCanceled:
			if err := e.repair(ctx, idx, upd); err != nil {
				return err
			}
		case domain.OrderStatusFilled:
			if err := e.advance(ctx, idx, upd); err != nil {
				return err
			}
		}
	}
	return nil
}

// repair re-places an involuntarily canceled order with identical terms.
// The ladder position does not change.
func (e *Engine) repair(ctx context.Context, idx int, upd domain.ExchangeOrder) error {
	old := e.state.Orders[idx]
	side, size, price := orderTerms(old)

	e.logger.Warn("Recreate order",
		slog.String("order_id", upd.ID),
		slog.String("reason", upd.CancelReason),
		slog.String("side", string(side)),
		slog.String("size", size.String()),
		slog.String("price", price.String()))
	e.notify(fmt.Sprintf("Recreate order 😡 %s order size %s at %s", side, size, price))

	placed, err := e.gateway.PlaceOrder(ctx, side, size, price)
	if err != nil {
		e.metrics.RecordError()
		e.notify(fmt.Sprintf("FATAL: could not recreate %s order at %s: %v", side, price, err))
		return fmt.Errorf("repair order %s: %w", upd.ID, err)
	}

	e.state.Orders[idx].ExchangeOrder = placed
	e.metrics.RecordRepair()
	e.record(domain.TransitionRepaired, old.ConfigStep.ID, placed, "replaces "+upd.ID)

	return e.persist()
}

// advance completes the current step: cancel the siblings of the filled
// order, move to its successor, then place and persist the next cohort.
func (e *Engine) advance(ctx context.Context, idx int, upd domain.ExchangeOrder) error {
	filled := e.state.Orders[idx]
	filled.ExchangeOrder.Status = domain.OrderStatusFilled

	e.metrics.RecordOrderFilled()
	e.record(domain.TransitionFilled, filled.ConfigStep.ID, filled.ExchangeOrder, "")
	e.logger.Info("Order filled",
		slog.String("order_id", upd.ID),
		slog.Int("step", int(filled.ConfigStep.ID)),
		slog.String("side", string(filled.ExchangeOrder.Side)),
		slog.String("price", filled.ExchangeOrder.Price.String()))
	e.notify(fmt.Sprintf("%s order size %s filled @ %s",
		filled.ExchangeOrder.Side, filled.ExchangeOrder.Size, filled.ExchangeOrder.Price))

	for j, sibling := range e.state.Orders {
		if j == idx {
			continue
		}
		e.cancelSibling(ctx, sibling)
	}

	next := filled.ConfigStep.Next
	e.state.CurrentStep = next
	e.state.Orders = []domain.TrackedOrder{}
	e.metrics.RecordAdvance()
	e.logger.Info("Order ID", slog.Int("step", int(next)))
	e.notify(fmt.Sprintf("Order ID %d", next))

	if next.IsTerminal() {
		if err := e.persist(); err != nil {
			return err
		}
		e.complete()
		return nil
	}

	e.record(domain.TransitionAdvanced, next, domain.ExchangeOrder{}, fmt.Sprintf("from step %d", filled.ConfigStep.ID))

	steps := e.ladder.StepsFor(next)
	if len(steps) == 0 {
		e.metrics.RecordError()
		return errors.Join(fmt.Errorf("advance to %d: %w", next, domain.ErrUnknownStep), e.persist())
	}
	if err := e.placeCohort(ctx, steps); err != nil {
		return errors.Join(err, e.persist())
	}
	return e.persist()
}

// cancelSibling is best effort: the fill already defines ground truth.
func (e *Engine) cancelSibling(ctx context.Context, t domain.TrackedOrder) {
	o := t.ExchangeOrder
	if err := e.gateway.CancelOrder(ctx, o.ID); err != nil {
		e.metrics.RecordCancelFailure()
		e.record(domain.TransitionCancelFailed, t.ConfigStep.ID, o, err.Error())
		e.logger.Warn("Cancel failed, ignoring",
			slog.String("order_id", o.ID), slog.Any("error", err))
		return
	}
	e.record(domain.TransitionCanceled, t.ConfigStep.ID, o, "sibling of filled order")
	e.logger.Info("Cancel order", slog.String("order_id", o.ID))
	e.notify(fmt.Sprintf("Cancel %s order at %s", o.Side, o.Price))
}

// placeCohort places one order per ladder entry and appends each to the
// cohort as soon as it exists, so a mid-way failure leaves a snapshot that
// matches what is live on the exchange.
func (e *Engine) placeCohort(ctx context.Context, steps []domain.LadderStep) error {
	for _, s := range steps {
		placed, err := e.gateway.PlaceOrder(ctx, s.Side, s.Size, s.Price)
		if err != nil {
			e.metrics.RecordError()
			e.notify(fmt.Sprintf("FATAL: %s order size %s @ %s not placed: %v", s.Side, s.Size, s.Price, err))
			return fmt.Errorf("place step %d %s %s@%s: %w", s.ID, s.Side, s.Size, s.Price, err)
		}
		e.state.Orders = append(e.state.Orders, domain.TrackedOrder{ExchangeOrder: placed, ConfigStep: s})
		e.metrics.RecordOrderPlaced()
		e.record(domain.TransitionPlaced, s.ID, placed, "")
		e.logger.Info("Order placed",
			slog.String("order_id", placed.ID),
			slog.String("side", string(s.Side)),
			slog.String("size", s.Size.String()),
			slog.String("price", s.Price.String()))
		e.notify(fmt.Sprintf("%s order size %s placed @ %s", s.Side, s.Size, s.Price))
	}
	return nil
}

func (e *Engine) persist() error {
	if err := e.store.Save(e.state); err != nil {
		e.metrics.RecordError()
		e.notify(fmt.Sprintf("FATAL: state not saved: %v", err))
		return fmt.Errorf("persist state: %w", err)
	}
	e.publishPosition()
	return nil
}

// complete halts the engine and closes the feed exactly once.
func (e *Engine) complete() {
	e.closeOnce.Do(func() {
		e.done.Store(true)
		e.record(domain.TransitionCompleted, domain.TerminalStep, domain.ExchangeOrder{}, "")
		e.logger.Info("Ladder complete, closing feed")
		e.notify("ID -1 exit")
		if e.feed != nil {
			e.feed.Close()
		}
	})
}

func (e *Engine) publishPosition() {
	e.metrics.SetLadderPosition(int(e.state.CurrentStep), len(e.state.Orders))
}

func (e *Engine) notify(msg string) {
	if e.notifier != nil {
		e.notifier.Notify(msg)
	}
}

func (e *Engine) record(kind domain.TransitionKind, step domain.StepID, o domain.ExchangeOrder, detail string) {
	if e.recorder == nil {
		return
	}
	t := domain.Transition{
		Kind:    kind,
		StepID:  step,
		OrderID: o.ID,
		Side:    o.Side,
		Detail:  detail,
	}
	if o.ID != "" {
		t.Size = o.Size.String()
		t.Price = o.Price.String()
	}
	if err := e.recorder.Record(t); err != nil {
		e.logger.Warn("Journal write failed", slog.String("kind", string(kind)), slog.Any("error", err))
	}
}

// orderTerms returns the side, size and price to re-place a tracked order
// with, falling back to the ladder entry for fields the record lacks.
func orderTerms(t domain.TrackedOrder) (domain.Side, decimal.Decimal, decimal.Decimal) {
	side, size, price := t.ExchangeOrder.Side, t.ExchangeOrder.Size, t.ExchangeOrder.Price
	if !side.Valid() {
		side = t.ConfigStep.Side
	}
	if !size.IsPositive() {
		size = t.ConfigStep.Size
	}
	if !price.IsPositive() {
		price = t.ConfigStep.Price
	}
	return side, size, price
}
