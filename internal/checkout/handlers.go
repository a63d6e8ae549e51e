package checkout

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/harborlane/storefront-api/internal/common"
	"github.com/harborlane/storefront-api/internal/delivery"
	"github.com/harborlane/storefront-api/internal/pricing"
	"github.com/harborlane/storefront-api/internal/promo"
)

// Handler exposes the checkout endpoints: totals preview, promo validation,
// delivery quoting and order confirmation.
type Handler struct {
	Compiler  *Compiler
	Finalizer *Finalizer
	Estimator *delivery.Estimator
	Pickup    delivery.Coord
	Logger    zerolog.Logger
}

type totalsPayload struct {
	Fulfillment string          `json:"fulfillment"`
	PromoCode   string          `json:"promoCode"`
	Quote       *delivery.Quote `json:"quote"`
	Dropoff     *delivery.Coord `json:"dropoff"`
}

type nextTierView struct {
	Gap     string `json:"spendMore"`
	Percent int    `json:"percentBps"`
	Label   string `json:"label"`
}

type snapshotView struct {
	Subtotal       string        `json:"subtotal"`
	DiscountSource string        `json:"discountSource,omitempty"`
	DiscountCode   string        `json:"discountCode,omitempty"`
	TierLabel      string        `json:"tierLabel,omitempty"`
	Discount       string        `json:"discount"`
	NextTier       *nextTierView `json:"nextTier,omitempty"`
	DeliveryFee    string        `json:"deliveryFee"`
	DeliveryKind   string        `json:"deliveryFeeKind"`
	Tax            string        `json:"tax"`
	Total          string        `json:"total"`
	Cents          int64         `json:"cents"`
}

func toSnapshotView(s Snapshot) snapshotView {
	v := snapshotView{
		Subtotal:       pricing.FormatDollars(s.Subtotal),
		DiscountSource: string(s.DiscountSource),
		DiscountCode:   s.DiscountCode,
		TierLabel:      s.TierLabel,
		Discount:       pricing.FormatDollars(s.DiscountAmount),
		DeliveryFee:    pricing.FormatDollars(s.DeliveryFee.Amount),
		DeliveryKind:   string(s.DeliveryFee.Kind),
		Tax:            pricing.FormatDollars(s.Tax),
		Total:          pricing.FormatDollars(s.Total),
		Cents:          s.Cents,
	}
	if s.NextTier != nil {
		v.NextTier = &nextTierView{
			Gap:     pricing.FormatDollars(s.NextTier.Gap),
			Percent: s.NextTier.PercentBps,
			Label:   s.NextTier.Label,
		}
	}
	return v
}

func parseFulfillment(raw string) (delivery.Fulfillment, error) {
	switch delivery.Fulfillment(strings.ToLower(strings.TrimSpace(raw))) {
	case delivery.FulfillmentPickup, "":
		return delivery.FulfillmentPickup, nil
	case delivery.FulfillmentDelivery:
		return delivery.FulfillmentDelivery, nil
	default:
		return "", errors.New("fulfillment must be pickup or delivery")
	}
}

// Totals computes the preview snapshot for the current cart. It mutates
// nothing, so the client may call it after every cart or promo change.
func (h *Handler) Totals(w http.ResponseWriter, r *http.Request) {
	owner, ok := common.IdentityFrom(r.Context())
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "checkout owner could not be determined", nil)
		return
	}
	var payload totalsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	fulfillment, err := parseFulfillment(payload.Fulfillment)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	snap, err := h.Compiler.Compile(r.Context(), Input{
		Owner:       owner,
		Fulfillment: fulfillment,
		PromoCode:   payload.PromoCode,
		Quote:       payload.Quote,
		Dropoff:     payload.Dropoff,
	})
	if err != nil {
		h.Logger.Error().Err(err).Msg("totals_compile_failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "could not compute totals", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": toSnapshotView(snap)})
}

// ValidatePromo is the side-effect-free code check: it reports whether the
// code itself currently applies to the owner and cart, regardless of whether
// it would win arbitration against the automatic tier. A valid code that the
// tier currently beats is still valid; beatsTier tells the UI which one the
// shopper would actually get. All rejection reasons collapse into valid=false.
func (h *Handler) ValidatePromo(w http.ResponseWriter, r *http.Request) {
	owner, ok := common.IdentityFrom(r.Context())
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "checkout owner could not be determined", nil)
		return
	}
	code := r.URL.Query().Get("code")
	if strings.TrimSpace(code) == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "code is required", nil)
		return
	}
	lines, err := h.Compiler.Cart.Lines(r.Context(), owner)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "could not validate code", nil)
		return
	}
	var subtotal pricing.Money
	for _, l := range lines {
		subtotal += l.UnitPrice * pricing.Money(l.Qty)
	}
	applied, err := h.Compiler.Promo.Preview(r.Context(), code, owner, subtotal)
	if err != nil {
		if errors.Is(err, promo.ErrNotApplicable) {
			common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
				"valid":   false,
				"message": "code is not applicable",
			}})
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "could not validate code", nil)
		return
	}
	tier := h.Compiler.Tiers.Resolve(subtotal)
	chosen := pricing.Choose(pricing.ApplyBps(subtotal, tier.PercentBps), tier.Label, applied.Discount, applied.Code)
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"valid":     true,
		"code":      applied.Code,
		"discount":  pricing.FormatDollars(applied.Discount),
		"beatsTier": chosen.Source == pricing.SourceCode,
	}})
}

type quotePayload struct {
	Dropoff delivery.Coord `json:"dropoff"`
}

// DeliveryQuote prices a delivery for an explicit address: carrier quote in
// range, formula fallback beyond it or on carrier failure.
func (h *Handler) DeliveryQuote(w http.ResponseWriter, r *http.Request) {
	var payload quotePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if payload.Dropoff.Lat == 0 && payload.Dropoff.Lng == 0 {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "dropoff coordinates are required", nil)
		return
	}
	fee := h.Estimator.ComputedFee(r.Context(), h.Pickup, payload.Dropoff)
	common.JSON(w, http.StatusOK, map[string]any{"data": fee})
}

type confirmPayload struct {
	totalsPayload
	PaymentRef   string `json:"paymentRef"`
	DropoffName  string `json:"dropoffName"`
	DropoffPhone string `json:"dropoffPhone"`
}

// Confirm finalizes the order after the processor captured the charge.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	owner, ok := common.IdentityFrom(r.Context())
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "checkout owner could not be determined", nil)
		return
	}
	var payload confirmPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if strings.TrimSpace(payload.PaymentRef) == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "paymentRef is required", nil)
		return
	}
	fulfillment, err := parseFulfillment(payload.Fulfillment)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	res, err := h.Finalizer.Finalize(r.Context(), FinalizeInput{
		Input: Input{
			Owner:       owner,
			Fulfillment: fulfillment,
			PromoCode:   payload.PromoCode,
			Quote:       payload.Quote,
			Dropoff:     payload.Dropoff,
		},
		PaymentRef:   payload.PaymentRef,
		DropoffName:  payload.DropoffName,
		DropoffPhone: payload.DropoffPhone,
	})
	if err != nil {
		var appErr *common.AppError
		if errors.As(err, &appErr) {
			common.JSONError(w, appErr.HTTPStatus, appErr.Code, appErr.Message, nil)
			return
		}
		if errors.Is(err, promo.ErrNotApplicable) {
			common.JSONError(w, http.StatusConflict, "PROMO_NOT_APPLICABLE", "code is not applicable", nil)
			return
		}
		h.Logger.Error().Err(err).Msg("finalize_failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "could not finalize order", nil)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": map[string]any{
		"orderId": res.OrderID.String(),
		"totals":  toSnapshotView(res.Snapshot),
	}})
}
