package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/rl1809/stock-reservation/internal/core/domain"
	"github.com/rl1809/stock-reservation/internal/core/service"
	"github.com/rl1809/stock-reservation/internal/port"
)

type HTTPHandler struct {
	reservations *service.ReservationService
	catalog      port.Catalog
	validate     *validator.Validate
}

type PlaceOrderHTTPRequest struct {
	OrderID  string `json:"order_id" validate:"omitempty,max=64"`
	ItemID   string `json:"item_id" validate:"required,max=64"`
	Quantity int64  `json:"quantity" validate:"gt=0"`
}

type PlaceOrderHTTPResponse struct {
	OrderID  string `json:"order_id,omitempty"`
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
	Replayed bool   `json:"replayed,omitempty"`
	Message  string `json:"message,omitempty"`
}

type OrderHTTPResponse struct {
	OrderID   string    `json:"order_id"`
	ItemID    string    `json:"item_id"`
	Quantity  int64     `json:"quantity"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type PutItemHTTPRequest struct {
	Available *int64 `json:"available" validate:"required,gte=0"`
}

type StockItemHTTPResponse struct {
	ItemID    string    `json:"item_id"`
	Available int64     `json:"available"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

type errorResponse struct {
	Message string `json:"message"`
}

func NewHTTPHandler(reservations *service.ReservationService, catalog port.Catalog) *HTTPHandler {
	return &HTTPHandler{
		reservations: reservations,
		catalog:      catalog,
		validate:     validator.New(),
	}
}

// Register mounts the API routes on mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HealthCheck)
	mux.HandleFunc("POST /api/orders", h.PlaceOrder)
	mux.HandleFunc("GET /api/orders/{id}", h.GetOrder)
	mux.HandleFunc("GET /api/items/{id}", h.GetItem)
	mux.HandleFunc("PUT /api/items/{id}", h.PutItem)
}

func (h *HTTPHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid request body"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: err.Error()})
		return
	}

	out, err := h.reservations.PlaceOrder(r.Context(), domain.OrderRequest{
		OrderID:  req.OrderID,
		ItemID:   req.ItemID,
		Quantity: req.Quantity,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, outcomeStatus(out), PlaceOrderHTTPResponse{
		OrderID:  out.OrderID,
		Status:   string(out.Kind),
		Reason:   string(out.Reason),
		Replayed: out.Replayed,
	})
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	record, err := h.reservations.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OrderHTTPResponse{
		OrderID:   record.OrderID,
		ItemID:    record.ItemID,
		Quantity:  record.Quantity,
		Status:    string(record.Status),
		Reason:    string(record.Reason),
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	})
}

func (h *HTTPHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.catalog.GetItem(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stockItemResponse(item))
}

func (h *HTTPHandler) PutItem(w http.ResponseWriter, r *http.Request) {
	var req PutItemHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid request body"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: err.Error()})
		return
	}

	item, err := h.catalog.PutItem(r.Context(), r.PathValue("id"), *req.Available)
	if err != nil {
		writeError(w, err)
		return
	}
	log.Info().Str("item_id", item.ItemID).Int64("available", item.Available).Int64("version", item.Version).Msg("stock set")
	writeJSON(w, http.StatusOK, stockItemResponse(item))
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func stockItemResponse(item domain.StockItem) StockItemHTTPResponse {
	return StockItemHTTPResponse{
		ItemID:    item.ItemID,
		Available: item.Available,
		Version:   item.Version,
		UpdatedAt: item.UpdatedAt,
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := httpStatus(err)
	if code == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, code, errorResponse{Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
