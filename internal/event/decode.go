package event

import (
	"encoding/json"
	"log/slog"
	"time"

	"ladder_go/internal/domain"
)

const (
	msgTypeChannelData = "channel_data"
)

// feedMessage is the envelope of every account-channel message.
type feedMessage struct {
	Type      string `json:"type"`
	Channel   string `json:"channel"`
	MessageID int64  `json:"message_id"`
	Contents  struct {
		Orders []json.RawMessage `json:"orders"`
	} `json:"contents"`
}

// Decode turns a raw feed message into an Event. It never fails: anything
// that is not a channel_data message with at least one well-formed order
// becomes an IgnoredEvent carrying the reason.
func Decode(seq uint64, raw []byte) Event {
	base := BaseEvent{Seq: seq, Ts: time.Now()}

	var msg feedMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return &IgnoredEvent{BaseEvent: base, Reason: "malformed: " + err.Error()}
	}
	if msg.Type != msgTypeChannelData {
		return &IgnoredEvent{BaseEvent: base, MsgType: msg.Type, Reason: "not channel data"}
	}
	if len(msg.Contents.Orders) == 0 {
		return &IgnoredEvent{BaseEvent: base, MsgType: msg.Type, Reason: "no orders"}
	}

	orders := make([]domain.ExchangeOrder, 0, len(msg.Contents.Orders))
	for _, item := range msg.Contents.Orders {
		var o domain.ExchangeOrder
		if err := json.Unmarshal(item, &o); err != nil {
			slog.Warn("Dropping malformed order in feed message",
				slog.Int64("message_id", msg.MessageID), slog.Any("error", err))
			continue
		}
		if o.ID == "" {
			continue
		}
		orders = append(orders, o)
	}
	if len(orders) == 0 {
		return &IgnoredEvent{BaseEvent: base, MsgType: msg.Type, Reason: "no well-formed orders"}
	}

	return &OrderUpdateEvent{BaseEvent: base, Orders: orders}
}
