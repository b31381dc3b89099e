package event

import (
	"sync/atomic"
	"time"

	"ladder_go/internal/domain"
)

// Type defines the type of event.
type Type uint16

const (
	EvIgnored Type = iota + 1
	EvOrderUpdate
	EvReconcile
)

func (t Type) String() string {
	switch t {
	case EvIgnored:
		return "IGNORED"
	case EvOrderUpdate:
		return "ORDER_UPDATE"
	case EvReconcile:
		return "RECONCILE"
	default:
		return "UNKNOWN"
	}
}

// Event is the closed set of feed events the sequencer accepts.
// Only types in this package implement it.
type Event interface {
	GetSeq() uint64
	GetTs() time.Time
	GetType() Type
	isEvent()
}

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	Seq uint64    `json:"seq"`
	Ts  time.Time `json:"ts"`
}

func (e BaseEvent) GetSeq() uint64   { return e.Seq }
func (e BaseEvent) GetTs() time.Time { return e.Ts }
func (e BaseEvent) isEvent()         {}

// IgnoredEvent is a feed message that carries nothing actionable.
type IgnoredEvent struct {
	BaseEvent
	MsgType string `json:"msg_type"`
	Reason  string `json:"reason"`
}

func (e IgnoredEvent) GetType() Type { return EvIgnored }

// OrderUpdateEvent carries one or more exchange order records, in feed order.
type OrderUpdateEvent struct {
	BaseEvent
	Orders []domain.ExchangeOrder `json:"orders"`
}

func (e OrderUpdateEvent) GetType() Type { return EvOrderUpdate }

// ReconcileEvent asks the engine to re-check its tracked orders against the
// exchange, e.g. after the feed was down and may have missed updates.
type ReconcileEvent struct {
	BaseEvent
	Reason string `json:"reason"`
}

func (e ReconcileEvent) GetType() Type { return EvReconcile }

// NewReconcileEvent builds a reconcile request numbered seq.
func NewReconcileEvent(seq uint64, reason string) *ReconcileEvent {
	return &ReconcileEvent{BaseEvent: BaseEvent{Seq: seq, Ts: time.Now()}, Reason: reason}
}

// NextSeq atomically advances a shared sequence counter and returns the new value.
// Producers share one counter so the sequencer sees 1, 2, 3, ... with no gaps.
func NextSeq(counter *uint64) uint64 {
	return atomic.AddUint64(counter, 1)
}
