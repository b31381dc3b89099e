package dydx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"ladder_go/internal/domain"
	"ladder_go/internal/infra"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Client is the dYdX v3 REST API client (Boundary Layer).
// It implements domain.Gateway for one market of one account.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	signer      *Signer
	orderSigner OrderSigner
	logger      *slog.Logger

	market    string
	networkID int
	limitFee  decimal.Decimal
	goodTill  time.Duration
	accountID string

	mu         sync.RWMutex
	positionID string
}

// NewClient creates a new dYdX API client.
func NewClient(cfg *infra.Config, signer *Signer, orderSigner OrderSigner) *Client {
	timeout := time.Duration(cfg.Gateway.TimeoutSec) * time.Second

	return &Client{
		baseURL: strings.TrimRight(cfg.DYDX.Host, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		signer:      signer,
		orderSigner: orderSigner,
		logger:      slog.Default().With("module", "dydx_client"),
		market:      cfg.DYDX.Market,
		networkID:   cfg.DYDX.NetworkID,
		limitFee:    cfg.DYDX.LimitFee,
		goodTill:    time.Duration(cfg.DYDX.GoodTillSec) * time.Second,
		accountID:   AccountID(cfg.DYDX.EthereumAddress),
	}
}

// AccountID derives the v3 account id of account number 0 of an address.
func AccountID(ethAddress string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(strings.ToLower(ethAddress)+"0")).String()
}

// QueryAccount fetches the account and caches its position id.
// It doubles as the keep-alive call made on every feed heartbeat.
func (c *Client) QueryAccount(ctx context.Context) error {
	body, err := c.doRequest(ctx, "account", http.MethodGet, "/v3/accounts/"+c.accountID, nil)
	if err != nil {
		return err
	}

	var resp accountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("failed to parse account: %w", err)
	}
	if resp.Account.PositionID == "" {
		return &domain.GatewayError{Op: "account", Status: http.StatusOK, Msg: "account has no position id"}
	}

	c.mu.Lock()
	c.positionID = resp.Account.PositionID
	c.mu.Unlock()
	return nil
}

func (c *Client) position(ctx context.Context) (string, error) {
	c.mu.RLock()
	id := c.positionID
	c.mu.RUnlock()
	if id != "" {
		return id, nil
	}
	if err := c.QueryAccount(ctx); err != nil {
		return "", err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.positionID, nil
}

// PlaceOrder submits a post-only GTT limit order that expires after the
// configured good-till duration.
func (c *Client) PlaceOrder(ctx context.Context, side domain.Side, size, price decimal.Decimal) (domain.ExchangeOrder, error) {
	positionID, err := c.position(ctx)
	if err != nil {
		return domain.ExchangeOrder{}, fmt.Errorf("dydx place order: %w", err)
	}

	unsigned := OrderToSign{
		NetworkID:  c.networkID,
		PositionID: positionID,
		ClientID:   uuid.NewString(),
		Market:     c.market,
		Side:       string(side),
		Size:       size.String(),
		Price:      price.String(),
		LimitFee:   c.limitFee.String(),
		Expiration: time.Now().Add(c.goodTill).UTC().Format(isoLayout),
	}
	signature, err := c.orderSigner.SignOrder(ctx, unsigned)
	if err != nil {
		return domain.ExchangeOrder{}, fmt.Errorf("dydx sign order: %w", err)
	}

	reqBody := placeOrderRequest{
		Market:      unsigned.Market,
		Side:        unsigned.Side,
		Type:        domain.OrderTypeLimit,
		TimeInForce: domain.TimeInForceGTT,
		PostOnly:    true,
		Size:        unsigned.Size,
		Price:       unsigned.Price,
		LimitFee:    unsigned.LimitFee,
		Expiration:  unsigned.Expiration,
		ClientID:    unsigned.ClientID,
		Signature:   signature,
	}

	body, err := c.doRequest(ctx, "place", http.MethodPost, "/v3/orders", reqBody)
	if err != nil {
		return domain.ExchangeOrder{}, fmt.Errorf("dydx place order: %w", err)
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.ExchangeOrder{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if resp.Order.ID == "" {
		return domain.ExchangeOrder{}, &domain.GatewayError{Op: "place", Status: http.StatusOK, Msg: "response has no order id"}
	}

	c.logger.Info("Order Placed Successfully", "oid", resp.Order.ID, "client_id", unsigned.ClientID, "market", c.market)
	return resp.Order, nil
}

// CancelOrder sends a cancel request.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	_, err := c.doRequest(ctx, "cancel", http.MethodDelete, "/v3/orders/"+url.PathEscape(orderID), nil)
	if err != nil {
		return fmt.Errorf("dydx cancel order %s: %w", orderID, err)
	}
	return nil
}

// GetOrder fetches one order by exchange id.
func (c *Client) GetOrder(ctx context.Context, orderID string) (domain.ExchangeOrder, error) {
	body, err := c.doRequest(ctx, "order", http.MethodGet, "/v3/orders/"+url.PathEscape(orderID), nil)
	if err != nil {
		var gwErr *domain.GatewayError
		if errors.As(err, &gwErr) && gwErr.Status == http.StatusNotFound {
			return domain.ExchangeOrder{}, fmt.Errorf("order %s: %w", orderID, domain.ErrOrderNotFound)
		}
		return domain.ExchangeOrder{}, err
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.ExchangeOrder{}, fmt.Errorf("failed to parse response: %w", err)
	}
	return resp.Order, nil
}

// doRequest handles auth headers and serialization. Non-2xx answers come
// back as *domain.GatewayError, transport failures as *domain.NetworkError.
func (c *Client) doRequest(ctx context.Context, op, method, path string, body interface{}) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(jsonBytes)
		bodyStr = string(jsonBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		// A malformed host or path will not get better on retry.
		return nil, domain.NewFatalNetworkError(op, err)
	}

	// Sign Request
	headers := c.signer.GenerateHeaders(method, path, bodyStr)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewNetworkError(op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewNetworkError(op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &domain.GatewayError{Op: op, Status: resp.StatusCode, Msg: errorMessage(respBody)}
	}
	return respBody, nil
}

// errorMessage extracts {"errors":[{"msg":...}]} or falls back to the raw body.
func errorMessage(body []byte) string {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err == nil && len(e.Errors) > 0 {
		msgs := make([]string, 0, len(e.Errors))
		for _, m := range e.Errors {
			msgs = append(msgs, m.Msg)
		}
		return strings.Join(msgs, "; ")
	}
	return strings.TrimSpace(string(body))
}
