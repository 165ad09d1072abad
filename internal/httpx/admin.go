package httpx

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/safar/go-storefront/internal/store"
)

type adminStatusPayload struct {
	Status            string     `json:"status"`
	TrackingNumber    string     `json:"trackingNumber,omitempty"`
	EstimatedDelivery *time.Time `json:"estimatedDelivery,omitempty"`
}

func (h *Handler) adminUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order ID")
		return
	}

	var payload adminStatusPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Status == "" && payload.TrackingNumber == "" && payload.EstimatedDelivery == nil {
		respondError(w, http.StatusBadRequest, "nothing to update")
		return
	}

	change, err := store.UpdateOrderStatus(r.Context(), h.DB, id, store.StatusUpdateRequest{
		Status:            payload.Status,
		TrackingNumber:    payload.TrackingNumber,
		EstimatedDelivery: payload.EstimatedDelivery,
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}

	if change.StatusChanged {
		h.dispatchStatusChange(change, metaFromRequest(r, "admin"))
	} else {
		ctx, cancel := effectContext()
		h.invalidateOrderCache(ctx, change.Order.ID)
		cancel()
	}

	respondJSON(w, http.StatusOK, change.Order)
}
