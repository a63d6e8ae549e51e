package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/harborlane/storefront-api/internal/resilience"
)

// Statuses the processor reports for a charge. Anything other than succeeded
// blocks order finalization.
const (
	StatusSucceeded = "succeeded"
	StatusPending   = "pending"
	StatusFailed    = "failed"
)

// Confirmation is the processor's authoritative word on a charge: what was
// actually captured, in minor units. The charged amount is compared against
// the recomputed totals before any order row is written.
type Confirmation struct {
	Ref      string
	Status   string
	Amount   int64
	Currency string
}

// Succeeded reports whether the charge was captured.
func (c Confirmation) Succeeded() bool { return c.Status == StatusSucceeded }

// Processor confirms charges with the upstream payment provider.
type Processor interface {
	Confirm(ctx context.Context, ref string) (Confirmation, error)
}

// Client talks to the processor's REST API through the resilient HTTP
// wrapper. Confirm is a read: it never creates or captures anything, so
// retries are safe.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    resilience.HTTPClient
	Logger  zerolog.Logger
}

type chargeResponse struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// Confirm fetches the charge identified by ref and normalises its status.
func (c *Client) Confirm(ctx context.Context, ref string) (Confirmation, error) {
	if c == nil || strings.TrimSpace(c.BaseURL) == "" {
		return Confirmation{}, errors.New("payment client not configured")
	}
	if strings.TrimSpace(ref) == "" {
		return Confirmation{}, errors.New("payment: charge reference required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(c.BaseURL, "/")+"/v1/charges/"+ref, nil)
	if err != nil {
		return Confirmation{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		return Confirmation{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Confirmation{}, fmt.Errorf("payment: unexpected status %s", resp.Status)
	}
	var out chargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Confirmation{}, err
	}
	return Confirmation{
		Ref:      out.ID,
		Status:   strings.ToLower(out.Status),
		Amount:   out.Amount,
		Currency: strings.ToUpper(out.Currency),
	}, nil
}
