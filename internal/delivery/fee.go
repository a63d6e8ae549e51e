package delivery

import (
	"time"

	"github.com/harborlane/storefront-api/internal/pricing"
)

// Fulfillment selects how the order reaches the customer.
type Fulfillment string

const (
	// FulfillmentPickup means the customer collects the order; the delivery
	// fee is always zero.
	FulfillmentPickup Fulfillment = "pickup"
	// FulfillmentDelivery means a courier brings the order.
	FulfillmentDelivery Fulfillment = "delivery"
)

// FeeKind tags the variant a delivery fee came from. The totals compiler
// switches on the kind instead of probing loosely-typed payloads.
type FeeKind string

const (
	// FeePending means no fee could be determined yet (no address/quote);
	// the fee is zero as an interim placeholder, not an error.
	FeePending FeeKind = "pending"
	// FeeWaived means the fee is zero by rule (pickup or free-delivery
	// threshold).
	FeeWaived FeeKind = "waived"
	// FeeCarrier means the fee came verbatim from a live carrier quote.
	FeeCarrier FeeKind = "carrier"
	// FeeManual means the fee came from the distance/duration formula.
	FeeManual FeeKind = "manual"
)

// Fee is the tagged delivery-fee variant.
type Fee struct {
	Kind           FeeKind       `json:"kind"`
	Amount         pricing.Money `json:"amountCents"`
	QuoteID        string        `json:"quoteId,omitempty"`
	DrivingMiles   float64       `json:"drivingMiles,omitempty"`
	DrivingMinutes float64       `json:"drivingMinutes,omitempty"`
}

// Pending returns the zero-placeholder fee.
func Pending() Fee { return Fee{Kind: FeePending} }

// Waived returns the zero fee applied by rule.
func Waived() Fee { return Fee{Kind: FeeWaived} }

// Coord is a WGS84 coordinate pair.
type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Quote is a priced, time-bounded delivery offer from the carrier. It is
// ephemeral: requested just-in-time and only persisted as a snapshot inside
// a finalized order's delivery record.
type Quote struct {
	ID              string    `json:"id"`
	FeeCents        int64     `json:"feeCents"`
	Currency        string    `json:"currency"`
	DurationMinutes int       `json:"durationMinutes"`
	ExpiresAt       time.Time `json:"expiresAt"`
	Dropoff         Coord     `json:"dropoff"`
}
