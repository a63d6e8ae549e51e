package delivery

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/harborlane/storefront-api/internal/obs"
	"github.com/harborlane/storefront-api/internal/pricing"
)

// FormulaParams configure the manual fee formula and its approximations.
type FormulaParams struct {
	BaseFee        pricing.Money
	PerMileFee     pricing.Money
	PerMinuteFee   pricing.Money
	RoadFactor     float64 // straight-line -> driving miles multiplier
	MinutesPerMile float64 // driving miles -> minutes when no matrix data
}

// Estimator resolves delivery fees for both the totals path (never fails,
// degrades to a placeholder) and the explicit quote path (carrier first,
// formula fallback).
type Estimator struct {
	Carrier           Carrier
	Matrix            RouteMatrix
	Tiers             pricing.TierTable
	CarrierRangeMiles float64
	Formula           FormulaParams
	Now               func() time.Time
	Logger            zerolog.Logger
}

// ForTotals resolves the fee used inside the totals chain. Pickup and the
// free-delivery threshold short-circuit to a waiver; a supplied quote is
// used verbatim only when it is still fresh and was priced for the same
// dropoff; otherwise the fee stays a zero placeholder until the caller
// fetches a quote. The free-delivery check uses the pre-discount subtotal,
// so a discount can never drop an order below the threshold it already met.
func (e *Estimator) ForTotals(fulfillment Fulfillment, subtotal pricing.Money, quote *Quote, dropoff *Coord) Fee {
	if fulfillment != FulfillmentDelivery {
		return Waived()
	}
	if e.Tiers.FreeDelivery(subtotal) {
		return Waived()
	}
	if quote == nil {
		return Pending()
	}
	if !quote.ExpiresAt.IsZero() && e.now().After(quote.ExpiresAt) {
		e.Logger.Debug().Str("quote_id", quote.ID).Msg("delivery_quote_expired")
		return Pending()
	}
	if dropoff != nil && !coordsClose(quote.Dropoff, *dropoff) {
		// A quote priced for a different address must not be reused.
		e.Logger.Warn().Str("quote_id", quote.ID).Msg("delivery_quote_address_mismatch")
		return Pending()
	}
	if quote.FeeCents < 0 {
		return Pending()
	}
	return Fee{Kind: FeeCarrier, Amount: quote.FeeCents, QuoteID: quote.ID}
}

// ComputedFee prices a delivery for an explicit address. Within carrier
// range it asks for a live quote; beyond it, or on any carrier failure, it
// falls back to the driving-matrix formula, and past that to a straight-line
// approximation. It never returns an error: pricing preview must not fail
// checkout because a vendor is down.
func (e *Estimator) ComputedFee(ctx context.Context, pickup, dropoff Coord) Fee {
	straight := HaversineMiles(pickup, dropoff)

	if e.Carrier != nil && e.CarrierRangeMiles > 0 && straight <= e.CarrierRangeMiles {
		quote, err := e.Carrier.Quote(ctx, pickup, dropoff)
		if err == nil && quote.FeeCents >= 0 {
			return Fee{Kind: FeeCarrier, Amount: quote.FeeCents, QuoteID: quote.ID}
		}
		e.Logger.Warn().Err(err).Float64("miles", straight).Msg("carrier_quote_failed")
		if obs.CarrierQuoteFailTotal != nil {
			obs.CarrierQuoteFailTotal.Inc()
		}
	}

	var est RouteEstimate
	if e.Matrix != nil {
		var err error
		est, err = e.Matrix.Route(ctx, pickup, dropoff)
		if err != nil {
			e.Logger.Warn().Err(err).Msg("route_matrix_failed")
			est = RouteEstimate{}
		}
	}
	if est.Miles <= 0 {
		est.Miles = straight * e.roadFactor()
		est.Minutes = est.Miles * e.minutesPerMile()
	} else if est.Minutes <= 0 {
		est.Minutes = est.Miles * e.minutesPerMile()
	}

	cents := float64(e.Formula.BaseFee) +
		est.Miles*float64(e.Formula.PerMileFee) +
		est.Minutes*float64(e.Formula.PerMinuteFee)
	return Fee{
		Kind:           FeeManual,
		Amount:         pricing.CentsFromFloat(cents),
		DrivingMiles:   est.Miles,
		DrivingMinutes: est.Minutes,
	}
}

// LiveQuote exposes the raw carrier quote for callers that want to attach it
// to a later totals computation. Errors propagate so the handler can fall
// back to ComputedFee.
func (e *Estimator) LiveQuote(ctx context.Context, pickup, dropoff Coord) (Quote, error) {
	return e.Carrier.Quote(ctx, pickup, dropoff)
}

func (e *Estimator) roadFactor() float64 {
	if e.Formula.RoadFactor <= 0 {
		return 1.25
	}
	return e.Formula.RoadFactor
}

func (e *Estimator) minutesPerMile() float64 {
	if e.Formula.MinutesPerMile <= 0 {
		return 2.5
	}
	return e.Formula.MinutesPerMile
}

func (e *Estimator) now() time.Time {
	if e != nil && e.Now != nil {
		return e.Now()
	}
	return time.Now()
}
