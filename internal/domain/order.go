package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Side is the order side as the exchange spells it.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether s is BUY or SELL.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// UnmarshalText lets config files use "buy"/"sell".
func (s *Side) UnmarshalText(text []byte) error {
	side, err := ParseSide(string(text))
	if err != nil {
		return err
	}
	*s = side
	return nil
}

// OrderStatus is the exchange-reported order status.
type OrderStatus string

const (
	OrderStatusPending     OrderStatus = "PENDING"
	OrderStatusOpen        OrderStatus = "OPEN"
	OrderStatusFilled      OrderStatus = "FILLED"
	OrderStatusCanceled    OrderStatus = "CANCELED"
	OrderStatusUntriggered OrderStatus = "UNTRIGGERED"
)

// IsTerminal reports whether the exchange will never change the order again.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCanceled
}

const (
	OrderTypeLimit = "LIMIT"

	// TimeInForceGTT is good-till-time, the only mode used for ladder orders.
	TimeInForceGTT = "GTT"
)

// ExchangeOrder is the last-known exchange-side record of an order.
// Field names follow the exchange wire format so records persist as received.
type ExchangeOrder struct {
	ID            string          `json:"id"`
	ClientID      string          `json:"clientId,omitempty"`
	Market        string          `json:"market,omitempty"`
	Side          Side            `json:"side"`
	Size          decimal.Decimal `json:"size"`
	RemainingSize string          `json:"remainingSize,omitempty"`
	Price         decimal.Decimal `json:"price"`
	Type          string          `json:"type,omitempty"`
	Status        OrderStatus     `json:"status"`
	TimeInForce   string          `json:"timeInForce,omitempty"`
	PostOnly      bool            `json:"postOnly,omitempty"`
	CancelReason  string          `json:"cancelReason,omitempty"`
	CreatedAt     string          `json:"createdAt,omitempty"`
	ExpiresAt     string          `json:"expiresAt,omitempty"`
}

// Equal compares two records field by field, decimals by numeric value.
func (o ExchangeOrder) Equal(x ExchangeOrder) bool {
	return o.ID == x.ID &&
		o.ClientID == x.ClientID &&
		o.Market == x.Market &&
		o.Side == x.Side &&
		o.Size.Equal(x.Size) &&
		o.RemainingSize == x.RemainingSize &&
		o.Price.Equal(x.Price) &&
		o.Type == x.Type &&
		o.Status == x.Status &&
		o.TimeInForce == x.TimeInForce &&
		o.PostOnly == x.PostOnly &&
		o.CancelReason == x.CancelReason &&
		o.CreatedAt == x.CreatedAt &&
		o.ExpiresAt == x.ExpiresAt
}

func (o ExchangeOrder) String() string {
	return fmt.Sprintf("%s %s %s@%s [%s]", o.ID, o.Side, o.Size, o.Price, o.Status)
}

// IsOpen checks if the order is still live on the exchange.
func (o *ExchangeOrder) IsOpen() bool {
	return !o.Status.IsTerminal()
}
