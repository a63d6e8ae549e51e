package order

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/harborlane/storefront-api/internal/common"
	"github.com/harborlane/storefront-api/internal/pricing"
)

// Handler exposes read access to the owner's finalized orders.
type Handler struct {
	Store PGStore
}

type itemView struct {
	ProductID string  `json:"productId"`
	VariantID *string `json:"variantId,omitempty"`
	Title     string  `json:"title"`
	UnitPrice string  `json:"unitPrice"`
	Qty       int32   `json:"qty"`
}

type orderView struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	Currency       string     `json:"currency"`
	Fulfillment    string     `json:"fulfillment"`
	Subtotal       string     `json:"subtotal"`
	DiscountSource string     `json:"discountSource,omitempty"`
	DiscountCode   string     `json:"discountCode,omitempty"`
	Discount       string     `json:"discount"`
	DeliveryFee    string     `json:"deliveryFee"`
	Tax            string     `json:"tax"`
	Total          string     `json:"total"`
	Items          []itemView `json:"items,omitempty"`
}

// List returns the owner's recent orders.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	owner, ok := common.IdentityFrom(r.Context())
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "order owner could not be determined", nil)
		return
	}
	orders, err := h.Store.List(r.Context(), owner)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "could not load orders", nil)
		return
	}
	views := make([]orderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, toView(o))
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": views})
}

// Get returns one order with its items.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	owner, ok := common.IdentityFrom(r.Context())
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "order owner could not be determined", nil)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid order id", nil)
		return
	}
	o, err := h.Store.Get(r.Context(), owner, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "could not load order", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": toView(o)})
}

func toView(o Order) orderView {
	v := orderView{
		ID:             o.ID.String(),
		Status:         o.Status,
		Currency:       o.Currency,
		Fulfillment:    o.Fulfillment,
		Subtotal:       pricing.FormatDollars(o.Subtotal),
		DiscountSource: o.DiscountSource,
		DiscountCode:   o.DiscountCode,
		Discount:       pricing.FormatDollars(o.DiscountAmount),
		DeliveryFee:    pricing.FormatDollars(o.DeliveryFee),
		Tax:            pricing.FormatDollars(o.Tax),
		Total:          pricing.FormatDollars(o.Total),
	}
	for _, it := range o.Items {
		iv := itemView{
			ProductID: it.ProductID.String(),
			Title:     it.Title,
			UnitPrice: pricing.FormatDollars(it.UnitPrice),
			Qty:       it.Qty,
		}
		if it.VariantID != nil {
			id := it.VariantID.String()
			iv.VariantID = &id
		}
		v.Items = append(v.Items, iv)
	}
	return v
}
