package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/harborlane/storefront-api/internal/resilience"
)

// DispatchRequest asks the carrier to actually send a courier after payment.
type DispatchRequest struct {
	OrderRef     string
	Pickup       Coord
	Dropoff      Coord
	DropoffName  string
	DropoffPhone string
	QuoteID      string
}

// DispatchResult is the carrier's acknowledgement of a created delivery.
type DispatchResult struct {
	DeliveryID  string
	TrackingURL string
	ETA         time.Time
}

// Carrier models the last-mile delivery provider: priced quotes before
// payment and courier dispatch after.
type Carrier interface {
	Quote(ctx context.Context, pickup, dropoff Coord) (Quote, error)
	Dispatch(ctx context.Context, req DispatchRequest) (DispatchResult, error)
}

// CourierClient talks to the carrier's REST API. Requests go through the
// resilient HTTP wrapper so quote calls time out quickly and trip the
// breaker instead of hanging checkout.
type CourierClient struct {
	BaseURL string
	APIKey  string
	HTTP    resilience.HTTPClient
	Logger  zerolog.Logger
}

type courierQuotePayload struct {
	PickupLat  float64 `json:"pickup_lat"`
	PickupLng  float64 `json:"pickup_lng"`
	DropoffLat float64 `json:"dropoff_lat"`
	DropoffLng float64 `json:"dropoff_lng"`
}

type courierQuoteResponse struct {
	ID       string `json:"id"`
	Fee      int64  `json:"fee"`
	Currency string `json:"currency"`
	Duration int    `json:"duration"`
	Expires  string `json:"expires"`
}

// Quote requests a live priced offer for the pickup/dropoff pair.
func (c *CourierClient) Quote(ctx context.Context, pickup, dropoff Coord) (Quote, error) {
	var out courierQuoteResponse
	err := c.post(ctx, "/v1/quotes", courierQuotePayload{
		PickupLat:  pickup.Lat,
		PickupLng:  pickup.Lng,
		DropoffLat: dropoff.Lat,
		DropoffLng: dropoff.Lng,
	}, &out)
	if err != nil {
		return Quote{}, err
	}
	expires, _ := time.Parse(time.RFC3339, out.Expires)
	return Quote{
		ID:              out.ID,
		FeeCents:        out.Fee,
		Currency:        strings.ToUpper(out.Currency),
		DurationMinutes: out.Duration,
		ExpiresAt:       expires,
		Dropoff:         dropoff,
	}, nil
}

type courierDispatchPayload struct {
	ExternalRef  string  `json:"external_ref"`
	QuoteID      string  `json:"quote_id,omitempty"`
	PickupLat    float64 `json:"pickup_lat"`
	PickupLng    float64 `json:"pickup_lng"`
	DropoffLat   float64 `json:"dropoff_lat"`
	DropoffLng   float64 `json:"dropoff_lng"`
	DropoffName  string  `json:"dropoff_name"`
	DropoffPhone string  `json:"dropoff_phone"`
}

type courierDispatchResponse struct {
	ID          string `json:"id"`
	TrackingURL string `json:"tracking_url"`
	ETA         string `json:"eta"`
}

// Dispatch creates the delivery with the carrier. Unlike Quote, failures
// here must surface: the caller alerts for manual courier dispatch.
func (c *CourierClient) Dispatch(ctx context.Context, req DispatchRequest) (DispatchResult, error) {
	var out courierDispatchResponse
	err := c.post(ctx, "/v1/deliveries", courierDispatchPayload{
		ExternalRef:  req.OrderRef,
		QuoteID:      req.QuoteID,
		PickupLat:    req.Pickup.Lat,
		PickupLng:    req.Pickup.Lng,
		DropoffLat:   req.Dropoff.Lat,
		DropoffLng:   req.Dropoff.Lng,
		DropoffName:  req.DropoffName,
		DropoffPhone: req.DropoffPhone,
	}, &out)
	if err != nil {
		return DispatchResult{}, err
	}
	eta, _ := time.Parse(time.RFC3339, out.ETA)
	return DispatchResult{DeliveryID: out.ID, TrackingURL: out.TrackingURL, ETA: eta}, nil
}

func (c *CourierClient) post(ctx context.Context, path string, payload any, out any) error {
	if c == nil || strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("carrier client not configured")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.BaseURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("carrier: unexpected status %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
