package dydx

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"time"
)

// isoLayout is the millisecond UTC timestamp format the API expects.
const isoLayout = "2006-01-02T15:04:05.000Z"

// Signer handles dYdX v3 API-key request signatures
type Signer struct {
	apiKey     string
	secret     string
	passphrase string
	now        func() time.Time
}

// NewSigner creates a new Signer instance
func NewSigner(apiKey, secret, passphrase string) *Signer {
	return &Signer{
		apiKey:     apiKey,
		secret:     secret,
		passphrase: passphrase,
		now:        time.Now,
	}
}

// Timestamp returns the current time in the API's ISO format.
func (s *Signer) Timestamp() string {
	return s.now().UTC().Format(isoLayout)
}

// Sign returns the signature of one request.
// path: /v3/orders (no host, query included if any)
// body: json string (empty if none)
func (s *Signer) Sign(timestamp, method, path, body string) string {
	return computeHmacSha256(timestamp+method+path+body, s.secret)
}

// GenerateHeaders creates the necessary headers for a private request
func (s *Signer) GenerateHeaders(method, path, body string) map[string]string {
	timestamp := s.Timestamp()

	return map[string]string{
		"DYDX-SIGNATURE":  s.Sign(timestamp, method, path, body),
		"DYDX-API-KEY":    s.apiKey,
		"DYDX-TIMESTAMP":  timestamp,
		"DYDX-PASSPHRASE": s.passphrase,
		"Content-Type":    "application/json",
	}
}

// computeHmacSha256 keys the MAC with the base64url-decoded secret and
// returns the base64url digest.
func computeHmacSha256(message string, secret string) string {
	h := hmac.New(sha256.New, decodeSecret(secret))
	h.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(h.Sum(nil))
}

func decodeSecret(secret string) []byte {
	if key, err := base64.URLEncoding.DecodeString(secret); err == nil {
		return key
	}
	if key, err := base64.RawURLEncoding.DecodeString(secret); err == nil {
		return key
	}
	return []byte(secret)
}
