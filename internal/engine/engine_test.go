package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ladder_go/internal/domain"
	"ladder_go/internal/event"
	"ladder_go/internal/execution"
	"ladder_go/internal/infra"

	"github.com/shopspring/decimal"
)

// memStore keeps the snapshot in memory and copies on every call.
type memStore struct {
	mu      sync.Mutex
	state   *domain.EngineState
	loadErr error
	saves   int
}

func (s *memStore) Save(st *domain.EngineState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st.Clone()
	s.saves++
	return nil
}

func (s *memStore) Load() (*domain.EngineState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	if s.state == nil {
		return nil, domain.ErrNoState
	}
	return s.state.Clone(), nil
}

func (s *memStore) snapshot() *domain.EngineState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

type countingCloser struct{ calls atomic.Int32 }

func (c *countingCloser) Close() { c.calls.Add(1) }

type journal struct{ rows []domain.Transition }

func (j *journal) Record(t domain.Transition) error {
	j.rows = append(j.rows, t)
	return nil
}

func (j *journal) count(kind domain.TransitionKind) int {
	n := 0
	for _, r := range j.rows {
		if r.Kind == kind {
			n++
		}
	}
	return n
}

type harness struct {
	engine  *Engine
	paper   *execution.PaperExecution
	store   *memStore
	closer  *countingCloser
	journal *journal
	metrics *infra.Metrics
}

func newHarness(ladder domain.Ladder, store *memStore, paper *execution.PaperExecution) *harness {
	if store == nil {
		store = &memStore{}
	}
	if paper == nil {
		paper = execution.NewPaperExecution("ETH-USD")
	}
	h := &harness{
		paper:   paper,
		store:   store,
		closer:  &countingCloser{},
		journal: &journal{},
		metrics: &infra.Metrics{},
	}
	h.engine = New(Config{
		Ladder:   ladder,
		Gateway:  paper,
		Store:    store,
		Recorder: h.journal,
		Metrics:  h.metrics,
	})
	h.engine.SetFeed(h.closer)
	return h
}

// deliver hands the exchange's view of one order to the engine.
func (h *harness) deliver(t *testing.T, o domain.ExchangeOrder) error {
	t.Helper()
	return h.engine.HandleEvent(context.Background(), &event.OrderUpdateEvent{
		BaseEvent: event.BaseEvent{Ts: time.Now()},
		Orders:    []domain.ExchangeOrder{o},
	})
}

func step(id domain.StepID, side domain.Side, size, price int64, next domain.StepID) domain.LadderStep {
	return domain.LadderStep{
		ID:    id,
		Side:  side,
		Size:  decimal.NewFromInt(size),
		Price: decimal.NewFromInt(price),
		Next:  next,
	}
}

func twoStepLadder() domain.Ladder {
	return domain.Ladder{
		step(0, domain.SideBuy, 10, 100, 1),
		step(1, domain.SideSell, 10, 110, domain.TerminalStep),
	}
}

func TestEngine_TwoStepLadder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(twoStepLadder(), nil, nil)

	if err := h.engine.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	st := h.store.snapshot()
	if st.CurrentStep != 0 || len(st.Orders) != 1 {
		t.Fatalf("Expected step 0 with 1 order, got step %d with %d", st.CurrentStep, len(st.Orders))
	}
	buy := st.Orders[0].ExchangeOrder
	if buy.Side != domain.SideBuy || !buy.Price.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Unexpected first order %s", buy)
	}

	filled, err := h.paper.Fill(buy.ID)
	if err != nil {
		t.Fatalf("Fill failed: %v", err)
	}
	if err := h.deliver(t, filled); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}

	st = h.store.snapshot()
	if st.CurrentStep != 1 || len(st.Orders) != 1 {
		t.Fatalf("Expected step 1 with 1 order, got step %d with %d", st.CurrentStep, len(st.Orders))
	}
	sell := st.Orders[0].ExchangeOrder
	if sell.Side != domain.SideSell || !sell.Price.Equal(decimal.NewFromInt(110)) {
		t.Errorf("Unexpected second order %s", sell)
	}

	filled, err = h.paper.Fill(sell.ID)
	if err != nil {
		t.Fatalf("Fill failed: %v", err)
	}
	if err := h.deliver(t, filled); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}

	st = h.store.snapshot()
	if !st.IsComplete() || len(st.Orders) != 0 {
		t.Errorf("Expected terminal state with no orders, got %+v", st)
	}
	if !h.engine.Done() {
		t.Error("Engine should be done")
	}
	if got := h.closer.calls.Load(); got != 1 {
		t.Errorf("Expected feed closed once, got %d", got)
	}
	if got := len(h.paper.Placed()); got != 2 {
		t.Errorf("Expected 2 placements, got %d", got)
	}

	// Late duplicates after completion change nothing.
	if err := h.deliver(t, filled); err != nil {
		t.Fatalf("HandleEvent after completion failed: %v", err)
	}
	if got := h.closer.calls.Load(); got != 1 {
		t.Errorf("Feed closed again: %d", got)
	}
	if h.journal.count(domain.TransitionCompleted) != 1 {
		t.Errorf("Expected one completed transition, got %d", h.journal.count(domain.TransitionCompleted))
	}
}

func TestEngine_RepairKeepsStep(t *testing.T) {
	ctx := context.Background()
	ladder := domain.Ladder{
		step(0, domain.SideBuy, 1, 100, domain.TerminalStep),
		step(0, domain.SideSell, 1, 110, domain.TerminalStep),
	}
	h := newHarness(ladder, nil, nil)
	if err := h.engine.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	before := h.store.snapshot()
	victim := before.Orders[0]
	canceled, err := h.paper.ExpireCancel(victim.ExchangeOrder.ID, "POST_ONLY_WOULD_CROSS")
	if err != nil {
		t.Fatalf("ExpireCancel failed: %v", err)
	}
	if err := h.deliver(t, canceled); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}

	after := h.store.snapshot()
	if after.CurrentStep != 0 || len(after.Orders) != 2 {
		t.Fatalf("Expected step 0 with 2 orders, got step %d with %d", after.CurrentStep, len(after.Orders))
	}
	replaced := after.Orders[0]
	if replaced.ExchangeOrder.ID == victim.ExchangeOrder.ID {
		t.Error("Repaired order should carry a new exchange id")
	}
	if replaced.ExchangeOrder.Status != domain.OrderStatusOpen {
		t.Errorf("Repaired order should be open, got %s", replaced.ExchangeOrder.Status)
	}
	if !replaced.ConfigStep.Equal(victim.ConfigStep) {
		t.Error("Repair must keep the ladder entry")
	}
	if !replaced.ExchangeOrder.Price.Equal(victim.ExchangeOrder.Price) || replaced.ExchangeOrder.Side != victim.ExchangeOrder.Side {
		t.Error("Repair must keep the order terms")
	}
	if !after.Orders[1].ExchangeOrder.Equal(before.Orders[1].ExchangeOrder) {
		t.Error("Sibling must be untouched by a repair")
	}
	if h.metrics.Snapshot().OrdersRepaired != 1 {
		t.Errorf("Expected 1 repair, got %d", h.metrics.Snapshot().OrdersRepaired)
	}
}

func TestEngine_DuplicateFillIsNoop(t *testing.T) {
	ctx := context.Background()
	h := newHarness(twoStepLadder(), nil, nil)
	if err := h.engine.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	buy := h.store.snapshot().Orders[0].ExchangeOrder
	filled, _ := h.paper.Fill(buy.ID)
	for i := 0; i < 2; i++ {
		if err := h.deliver(t, filled); err != nil {
			t.Fatalf("HandleEvent #%d failed: %v", i, err)
		}
	}

	st := h.store.snapshot()
	if st.CurrentStep != 1 || len(st.Orders) != 1 {
		t.Errorf("Expected step 1 with 1 order, got step %d with %d", st.CurrentStep, len(st.Orders))
	}
	if got := len(h.paper.Placed()); got != 2 {
		t.Errorf("Expected 2 placements, got %d", got)
	}
}

func TestEngine_UntrackedUpdateIsNoop(t *testing.T) {
	ctx := context.Background()
	h := newHarness(twoStepLadder(), nil, nil)
	if err := h.engine.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	saves := h.store.saves

	for _, status := range []domain.OrderStatus{domain.OrderStatusFilled, domain.OrderStatusCanceled, domain.OrderStatusOpen} {
		if err := h.deliver(t, domain.ExchangeOrder{ID: "someone-else", Status: status}); err != nil {
			t.Fatalf("HandleEvent(%s) failed: %v", status, err)
		}
	}
	if h.store.saves != saves {
		t.Errorf("Untracked updates should not persist, saves %d -> %d", saves, h.store.saves)
	}
	if got := len(h.paper.Placed()); got != 1 {
		t.Errorf("Expected 1 placement, got %d", got)
	}
}

func TestEngine_IgnoredEvent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(twoStepLadder(), nil, nil)
	if err := h.engine.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	before := h.engine.State()

	err := h.engine.HandleEvent(ctx, &event.IgnoredEvent{MsgType: "subscribed", Reason: "not channel_data"})
	if err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	if !h.engine.State().Equal(before) {
		t.Error("Ignored event changed the state")
	}
}

func TestEngine_SiblingsCanceledOnFill(t *testing.T) {
	ctx := context.Background()
	ladder := domain.Ladder{
		step(0, domain.SideBuy, 1, 90, 1),
		step(0, domain.SideBuy, 1, 95, 1),
		step(0, domain.SideSell, 1, 120, 1),
		step(1, domain.SideSell, 1, 130, domain.TerminalStep),
	}
	h := newHarness(ladder, nil, nil)
	if err := h.engine.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	cohort := h.store.snapshot().Orders
	filled, _ := h.paper.Fill(cohort[1].ExchangeOrder.ID)
	if err := h.deliver(t, filled); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}

	canceled := h.paper.Canceled()
	if len(canceled) != 2 {
		t.Fatalf("Expected 2 sibling cancels, got %d", len(canceled))
	}
	for _, id := range canceled {
		if id == cohort[1].ExchangeOrder.ID {
			t.Error("The filled order must not be canceled")
		}
	}
	st := h.store.snapshot()
	if st.CurrentStep != 1 || len(st.Orders) != 1 {
		t.Errorf("Expected step 1 with 1 order, got step %d with %d", st.CurrentStep, len(st.Orders))
	}
}

func TestEngine_SiblingCancelFailuresStillAdvance(t *testing.T) {
	ctx := context.Background()
	ladder := domain.Ladder{
		step(0, domain.SideBuy, 1, 90, 1),
		step(0, domain.SideBuy, 1, 95, 1),
		step(0, domain.SideSell, 1, 120, 1),
		step(1, domain.SideSell, 1, 130, domain.TerminalStep),
	}
	h := newHarness(ladder, nil, nil)
	if err := h.engine.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	h.paper.FailCancels(&domain.GatewayError{Op: "cancel", Status: 400, Msg: "order already filled"})
	filled, _ := h.paper.Fill(h.store.snapshot().Orders[0].ExchangeOrder.ID)
	if err := h.deliver(t, filled); err != nil {
		t.Fatalf("Cancel failures must not fail the event: %v", err)
	}

	st := h.store.snapshot()
	if st.CurrentStep != 1 || len(st.Orders) != 1 {
		t.Errorf("Expected step 1 with 1 order, got step %d with %d", st.CurrentStep, len(st.Orders))
	}
	if got := h.metrics.Snapshot().CancelFailures; got != 2 {
		t.Errorf("Expected 2 cancel failures, got %d", got)
	}
	if got := h.journal.count(domain.TransitionCancelFailed); got != 2 {
		t.Errorf("Expected 2 cancel_failed rows, got %d", got)
	}
}

func TestEngine_RepairFailurePropagates(t *testing.T) {
	ctx := context.Background()
	h := newHarness(twoStepLadder(), nil, nil)
	boom := errors.New("exchange unavailable")
	h.paper.FailNextPlace(nil, boom)

	if err := h.engine.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	victim := h.store.snapshot().Orders[0].ExchangeOrder
	canceled, _ := h.paper.ExpireCancel(victim.ID, "EXPIRED")

	err := h.deliver(t, canceled)
	if !errors.Is(err, boom) {
		t.Fatalf("Expected repair failure to wrap %v, got %v", boom, err)
	}
	if h.engine.Done() {
		t.Error("A failed repair must not complete the ladder")
	}
}

func TestEngine_AdvancePlacementFailurePersistsPartialCohort(t *testing.T) {
	ctx := context.Background()
	ladder := domain.Ladder{
		step(0, domain.SideBuy, 1, 100, 1),
		step(1, domain.SideSell, 1, 110, domain.TerminalStep),
		step(1, domain.SideSell, 1, 120, domain.TerminalStep),
	}
	h := newHarness(ladder, nil, nil)
	boom := errors.New("rate limited")
	h.paper.FailNextPlace(nil, nil, boom)

	if err := h.engine.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	filled, _ := h.paper.Fill(h.store.snapshot().Orders[0].ExchangeOrder.ID)
	if err := h.deliver(t, filled); !errors.Is(err, boom) {
		t.Fatalf("Expected %v, got %v", boom, err)
	}

	st := h.store.snapshot()
	if st.CurrentStep != 1 || len(st.Orders) != 1 {
		t.Fatalf("Expected step 1 with the one placed order saved, got step %d with %d", st.CurrentStep, len(st.Orders))
	}
	if missing := st.MissingSteps(ladder); len(missing) != 1 || !missing[0].Price.Equal(decimal.NewFromInt(120)) {
		t.Errorf("Expected the 120 entry missing, got %v", missing)
	}
}

func TestEngine_StartCorruptState(t *testing.T) {
	store := &memStore{loadErr: &domain.CorruptStateError{Path: "state.json", Err: errors.New("unexpected end of JSON input")}}
	h := newHarness(twoStepLadder(), store, nil)

	err := h.engine.Start(context.Background())
	if !errors.Is(err, domain.ErrCorruptState) {
		t.Fatalf("Expected ErrCorruptState, got %v", err)
	}
	if len(h.paper.Placed()) != 0 {
		t.Error("Nothing may be placed over a corrupt snapshot")
	}
}

func TestEngine_StartTerminalState(t *testing.T) {
	store := &memStore{state: &domain.EngineState{CurrentStep: domain.TerminalStep, Orders: []domain.TrackedOrder{}}}
	h := newHarness(twoStepLadder(), store, nil)

	if err := h.engine.Start(context.Background()); !errors.Is(err, domain.ErrLadderComplete) {
		t.Fatalf("Expected ErrLadderComplete, got %v", err)
	}
	if !h.engine.Done() {
		t.Error("Engine should report done")
	}
	if len(h.paper.Placed()) != 0 {
		t.Error("Nothing may be placed for a finished ladder")
	}
}

func TestEngine_StartUnknownStep(t *testing.T) {
	store := &memStore{state: &domain.EngineState{CurrentStep: 7, Orders: []domain.TrackedOrder{}}}
	h := newHarness(twoStepLadder(), store, nil)

	if err := h.engine.Start(context.Background()); !errors.Is(err, domain.ErrUnknownStep) {
		t.Fatalf("Expected ErrUnknownStep, got %v", err)
	}
}

func TestEngine_StartResumesSavedState(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	paper := execution.NewPaperExecution("ETH-USD")

	first := newHarness(twoStepLadder(), store, paper)
	if err := first.engine.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	second := newHarness(twoStepLadder(), store, paper)
	if err := second.engine.Start(ctx); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	if got := len(paper.Placed()); got != 1 {
		t.Errorf("Restart must not place again, got %d placements", got)
	}
	if !second.engine.State().Equal(store.snapshot()) {
		t.Error("Restarted engine should hold the saved snapshot")
	}
}

func TestEngine_ReconcileMissingSteps(t *testing.T) {
	ctx := context.Background()
	ladder := domain.Ladder{
		step(0, domain.SideBuy, 1, 100, domain.TerminalStep),
		step(0, domain.SideBuy, 1, 95, domain.TerminalStep),
	}
	store := &memStore{}
	paper := execution.NewPaperExecution("ETH-USD")
	paper.FailNextPlace(nil, errors.New("timeout"))

	first := newHarness(ladder, store, paper)
	if err := first.engine.Start(ctx); err == nil {
		t.Fatal("Expected Start to report the failed placement")
	}
	if got := len(store.snapshot().Orders); got != 1 {
		t.Fatalf("Expected the placed order to be saved, got %d", got)
	}

	second := newHarness(ladder, store, paper)
	if err := second.engine.Start(ctx); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	if err := second.engine.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	st := store.snapshot()
	if len(st.Orders) != 2 || len(st.MissingSteps(ladder)) != 0 {
		t.Errorf("Expected a full cohort after reconcile, got %d orders", len(st.Orders))
	}
}

func TestEngine_ReconcileOfflineFill(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	paper := execution.NewPaperExecution("ETH-USD")

	first := newHarness(twoStepLadder(), store, paper)
	if err := first.engine.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	// Filled while the process was down; no event was ever delivered.
	if _, err := paper.Fill(store.snapshot().Orders[0].ExchangeOrder.ID); err != nil {
		t.Fatalf("Fill failed: %v", err)
	}

	second := newHarness(twoStepLadder(), store, paper)
	if err := second.engine.Start(ctx); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	if err := second.engine.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	st := store.snapshot()
	if st.CurrentStep != 1 || len(st.Orders) != 1 {
		t.Fatalf("Expected step 1 with 1 order, got step %d with %d", st.CurrentStep, len(st.Orders))
	}
	if st.Orders[0].ExchangeOrder.Side != domain.SideSell {
		t.Errorf("Expected the sell order of step 1, got %s", st.Orders[0].ExchangeOrder.Side)
	}
}

func TestEngine_ReconcileEventCatchesMissedFill(t *testing.T) {
	ctx := context.Background()
	h := newHarness(twoStepLadder(), nil, nil)
	if err := h.engine.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Filled during a feed outage: the update never reached the engine.
	if _, err := h.paper.Fill(h.engine.State().Orders[0].ExchangeOrder.ID); err != nil {
		t.Fatalf("Fill failed: %v", err)
	}
	if h.engine.State().CurrentStep != 0 {
		t.Fatal("Engine must not see the fill without an event")
	}

	if err := h.engine.HandleEvent(ctx, event.NewReconcileEvent(1, "feed resubscribed")); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	st := h.store.snapshot()
	if st.CurrentStep != 1 || len(st.Orders) != 1 || st.Orders[0].ExchangeOrder.Side != domain.SideSell {
		t.Errorf("Expected step 1 with the sell order, got %+v", st)
	}

	// A second request finds nothing new.
	placed := len(h.paper.Placed())
	if err := h.engine.HandleEvent(ctx, event.NewReconcileEvent(2, "feed resubscribed")); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	if len(h.paper.Placed()) != placed {
		t.Errorf("Repeated reconcile placed orders: %d -> %d", placed, len(h.paper.Placed()))
	}
}

func TestSequencer_GapHalts(t *testing.T) {
	h := newHarness(twoStepLadder(), nil, nil)
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	seq := NewSequencer(4, h.engine)
	seq.metrics = h.metrics
	seq.Inbox() <- &event.IgnoredEvent{BaseEvent: event.BaseEvent{Seq: 2}}

	err := seq.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "SEQUENCE_GAP_DETECTED") {
		t.Fatalf("Expected sequence gap error, got %v", err)
	}
}

func TestSequencer_RunStopsOnCompletion(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h := newHarness(twoStepLadder(), nil, nil)
	if err := h.engine.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	seq := NewSequencer(4, h.engine)
	seq.metrics = h.metrics
	var counter uint64
	h.paper.Attach(seq.Inbox(), &counter)

	errCh := make(chan error, 1)
	go func() { errCh <- seq.Run(ctx) }()

	if _, err := h.paper.Fill(h.engine.State().Orders[0].ExchangeOrder.ID); err != nil {
		t.Fatalf("Fill failed: %v", err)
	}
	waitFor(t, func() bool { return h.engine.State().CurrentStep == 1 })

	if _, err := h.paper.Fill(h.engine.State().Orders[0].ExchangeOrder.ID); err != nil {
		t.Fatalf("Fill failed: %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-ctx.Done():
		t.Fatal("Sequencer did not stop after the ladder completed")
	}
	if got := h.closer.calls.Load(); got != 1 {
		t.Errorf("Expected feed closed once, got %d", got)
	}
	if got := h.metrics.Snapshot().EventsProcessed; got != 2 {
		t.Errorf("Expected 2 events processed, got %d", got)
	}
}

func TestSequencer_ContextCancel(t *testing.T) {
	h := newHarness(twoStepLadder(), nil, nil)
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	seq := NewSequencer(1, h.engine)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := seq.Run(ctx); err != nil {
		t.Errorf("Expected nil on cancel, got %v", err)
	}
}

func TestSequencer_DumpState(t *testing.T) {
	h := newHarness(twoStepLadder(), nil, nil)
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	seq := NewSequencer(1, h.engine)
	path := filepath.Join(t.TempDir(), "dump.json")

	seq.DumpState(path)

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Dump not written: %v", err)
	}
	if !strings.Contains(string(b), `"next_seq": 1`) || !strings.Contains(string(b), `"order_id": 0`) {
		t.Errorf("Unexpected dump: %s", b)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
