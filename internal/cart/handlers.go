package cart

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/harborlane/storefront-api/internal/common"
	"github.com/harborlane/storefront-api/internal/pricing"
)

// Handler exposes the cart CRUD endpoints.
type Handler struct {
	Svc *Service
}

type itemPayload struct {
	ProductID string  `json:"productId"`
	VariantID *string `json:"variantId"`
	Qty       int32   `json:"qty"`
}

type lineView struct {
	ProductID string  `json:"productId"`
	VariantID *string `json:"variantId,omitempty"`
	Title     string  `json:"title"`
	UnitPrice string  `json:"unitPrice"`
	Qty       int32   `json:"qty"`
	LineTotal string  `json:"lineTotal"`
}

// Get returns the current cart contents with live prices.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	owner, ok := common.IdentityFrom(r.Context())
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "cart owner could not be determined", nil)
		return
	}
	lines, err := h.Svc.Lines(r.Context(), owner)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "could not load cart", nil)
		return
	}
	views := make([]lineView, 0, len(lines))
	for _, l := range lines {
		v := lineView{
			ProductID: l.ProductID.String(),
			Title:     l.Title,
			UnitPrice: pricing.FormatDollars(l.UnitPrice),
			Qty:       l.Qty,
			LineTotal: pricing.FormatDollars(l.UnitPrice * pricing.Money(l.Qty)),
		}
		if l.VariantID != nil {
			id := l.VariantID.String()
			v.VariantID = &id
		}
		views = append(views, v)
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"items": views}})
}

// SetItem adds a tuple or replaces its quantity.
func (h *Handler) SetItem(w http.ResponseWriter, r *http.Request) {
	owner, ok := common.IdentityFrom(r.Context())
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "cart owner could not be determined", nil)
		return
	}
	var payload itemPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	productID, variantID, err := parseIDs(payload.ProductID, payload.VariantID)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	if err := h.Svc.SetItem(r.Context(), owner, productID, variantID, payload.Qty); err != nil {
		if errors.Is(err, ErrInvalidQuantity) {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "quantity must be positive", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "could not update cart", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveItem deletes one tuple.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	owner, ok := common.IdentityFrom(r.Context())
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "cart owner could not be determined", nil)
		return
	}
	var variant *string
	if v := r.URL.Query().Get("variantId"); v != "" {
		variant = &v
	}
	productID, variantID, err := parseIDs(chi.URLParam(r, "productID"), variant)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	if err := h.Svc.RemoveItem(r.Context(), owner, productID, variantID); err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "could not update cart", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Clear empties the cart.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	owner, ok := common.IdentityFrom(r.Context())
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "cart owner could not be determined", nil)
		return
	}
	if err := h.Svc.Clear(r.Context(), owner); err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "could not clear cart", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseIDs(product string, variant *string) (uuid.UUID, *uuid.UUID, error) {
	productID, err := uuid.Parse(product)
	if err != nil {
		return uuid.Nil, nil, errors.New("invalid product id")
	}
	if variant == nil || *variant == "" {
		return productID, nil, nil
	}
	variantID, err := uuid.Parse(*variant)
	if err != nil {
		return uuid.Nil, nil, errors.New("invalid variant id")
	}
	return productID, &variantID, nil
}
