package dydx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ladder_go/internal/domain"
)

// OrderToSign carries every field covered by the STARK order signature.
type OrderToSign struct {
	NetworkID  int    `json:"networkId"`
	PositionID string `json:"positionId"`
	ClientID   string `json:"clientId"`
	Market     string `json:"market"`
	Side       string `json:"side"`
	Size       string `json:"size"`
	Price      string `json:"price"`
	LimitFee   string `json:"limitFee"`
	Expiration string `json:"expiration"`
}

// OrderSigner produces the exchange-level signature of an order.
type OrderSigner interface {
	SignOrder(ctx context.Context, o OrderToSign) (string, error)
}

// SidecarSigner asks a local signing service for order signatures,
// keeping the STARK private key out of this process.
type SidecarSigner struct {
	url        string
	httpClient *http.Client
}

// NewSidecarSigner creates a client for the signing service at baseURL.
func NewSidecarSigner(baseURL string, timeout time.Duration) *SidecarSigner {
	return &SidecarSigner{
		url:        baseURL + "/sign/order",
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SignOrder posts the order fields and returns the hex signature.
func (s *SidecarSigner) SignOrder(ctx context.Context, o OrderToSign) (string, error) {
	body, err := json.Marshal(o)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", domain.NewNetworkError("sign", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", &domain.GatewayError{Op: "sign", Status: resp.StatusCode, Msg: string(respBody)}
	}

	var out struct {
		Signature string `json:"signature"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("failed to parse signer response: %w", err)
	}
	if out.Signature == "" {
		return "", &domain.GatewayError{Op: "sign", Status: resp.StatusCode, Msg: "empty signature"}
	}
	return out.Signature, nil
}
