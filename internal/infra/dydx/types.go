package dydx

import (
	"time"

	"ladder_go/internal/domain"
)

const (
	accountsChannel = "v3_accounts"
	wsAuthPath      = "/ws/accounts"
	writeWait       = 10 * time.Second
)

// placeOrderRequest is the body of POST /v3/orders.
type placeOrderRequest struct {
	Market      string `json:"market"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	TimeInForce string `json:"timeInForce"`
	PostOnly    bool   `json:"postOnly"`
	Size        string `json:"size"`
	Price       string `json:"price"`
	LimitFee    string `json:"limitFee"`
	Expiration  string `json:"expiration"`
	ClientID    string `json:"clientId"`
	Signature   string `json:"signature"`
}

type orderResponse struct {
	Order domain.ExchangeOrder `json:"order"`
}

type accountResponse struct {
	Account struct {
		ID             string `json:"id"`
		PositionID     string `json:"positionId"`
		Equity         string `json:"equity"`
		FreeCollateral string `json:"freeCollateral"`
	} `json:"account"`
}

type errorResponse struct {
	Errors []struct {
		Msg string `json:"msg"`
	} `json:"errors"`
}

// subscribeRequest authenticates the private accounts channel.
type subscribeRequest struct {
	Type          string `json:"type"`
	Channel       string `json:"channel"`
	AccountNumber string `json:"accountNumber"`
	APIKey        string `json:"apiKey"`
	Passphrase    string `json:"passphrase"`
	Timestamp     string `json:"timestamp"`
	Signature     string `json:"signature"`
}
