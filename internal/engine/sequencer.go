package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"ladder_go/internal/event"
	"ladder_go/internal/infra"
)

// Sequencer is the single consumer of feed events. Every event is handed to
// the Engine in arrival order, one at a time, and the next event is only
// taken once the previous one (including its state write) has finished.
type Sequencer struct {
	inbox   chan event.Event
	nextSeq uint64
	engine  *Engine
	metrics *infra.Metrics

	// DumpPath receives the engine state if the loop panics.
	DumpPath string
}

// NewSequencer creates a new sequencer instance.
func NewSequencer(inboxSize int, engine *Engine) *Sequencer {
	return &Sequencer{
		inbox:    make(chan event.Event, inboxSize),
		nextSeq:  1,
		engine:   engine,
		metrics:  engine.metrics,
		DumpPath: "panic_dump.json",
	}
}

// Inbox returns the event channel. External workers send events here.
func (s *Sequencer) Inbox() chan<- event.Event {
	return s.inbox
}

// Run starts the main event loop. This MUST be run in a single goroutine.
// It returns nil when the ladder completes or ctx is canceled, and an error
// when an event could not be applied safely.
func (s *Sequencer) Run(ctx context.Context) (err error) {
	slog.Info("Sequencer started (single consumer)")

	defer func() {
		if r := recover(); r != nil {
			slog.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r))
			s.DumpState(s.DumpPath)
			err = fmt.Errorf("HALTED: %v", r)
		}
	}()

	if s.engine.Done() {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("Sequencer stopping...")
			return nil
		case ev := <-s.inbox:
			if err := s.processEvent(ctx, ev); err != nil {
				s.metrics.RecordError()
				slog.Error("Sequencer halted", slog.Uint64("seq", ev.GetSeq()), slog.Any("error", err))
				return err
			}
			if s.engine.Done() {
				slog.Info("Ladder complete, sequencer stopping")
				return nil
			}
		}
	}
}

func (s *Sequencer) processEvent(ctx context.Context, ev event.Event) error {
	start := time.Now()

	// Sequence Gap Check (Halt Policy)
	if ev.GetSeq() != s.nextSeq {
		return fmt.Errorf("SEQUENCE_GAP_DETECTED: expected %d, got %d", s.nextSeq, ev.GetSeq())
	}

	if err := s.engine.HandleEvent(ctx, ev); err != nil {
		return err
	}

	s.nextSeq++
	s.metrics.RecordEvent(time.Since(start).Nanoseconds())
	return nil
}

// DumpState writes the engine state to a file (for post-mortem).
func (s *Sequencer) DumpState(filename string) {
	slog.Info("Dumping internal state...", slog.String("file", filename))

	data := struct {
		NextSeq uint64      `json:"next_seq"`
		State   interface{} `json:"state"`
	}{
		NextSeq: s.nextSeq,
		State:   s.engine.State(),
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		slog.Error("Failed to marshal state", slog.Any("error", err))
		return
	}

	err = os.WriteFile(filename, b, 0644)
	if err != nil {
		slog.Error("Failed to write state dump", slog.Any("error", err))
	}
}
