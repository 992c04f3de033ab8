package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/example/ec-fulfillment/internal/api/middleware"
	"github.com/example/ec-fulfillment/internal/domain/inventory"
	"github.com/example/ec-fulfillment/internal/domain/order"
	"github.com/example/ec-fulfillment/internal/domain/product"
	"github.com/example/ec-fulfillment/internal/fulfillment"
	"github.com/example/ec-fulfillment/internal/infrastructure/store"
	"github.com/example/ec-fulfillment/internal/logging"
	"github.com/example/ec-fulfillment/internal/notification"
	"github.com/example/ec-fulfillment/internal/readmodel"
	"github.com/example/ec-fulfillment/internal/reconciliation"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type Deps struct {
	Catalog       *product.Service
	Ledger        *inventory.Service
	Orders        *order.Service
	Orchestrator  *fulfillment.Orchestrator
	ReadModels    store.OrderReadStore
	Reconciler    *reconciliation.Worker
	Notifications *notification.Service
}

type Handlers struct {
	Deps
	log zerolog.Logger
}

func NewHandlers(deps Deps) *Handlers {
	return &Handlers{Deps: deps, log: logging.Component("api")}
}

// Product Handlers

func (h *Handlers) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var params product.CreateParams
	if !h.decode(w, r, &params) {
		return
	}
	p, err := h.Catalog.Create(r.Context(), params)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

func (h *Handlers) SetPrice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Price decimal.Decimal `json:"price"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.Catalog.SetPrice(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "currency"), req.Price)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (h *Handlers) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Catalog.List(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, products)
}

// Inventory Handlers

func (h *Handlers) GetStock(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.Catalog.Get(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	stock, err := h.Ledger.CurrentStock(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"product_id": id, "stock": stock})
}

func (h *Handlers) RecordAdjustment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Delta  int    `json:"delta"`
		Reason string `json:"reason"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := h.Catalog.Get(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	event, err := h.Ledger.RecordAdjustment(r.Context(), id, req.Delta, req.Reason, middleware.ActorFrom(r.Context()))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, event)
}

func (h *Handlers) StockHistory(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	events, err := h.Ledger.History(r.Context(), chi.URLParam(r, "id"), inventory.HistoryQuery{
		Limit: q.limit, Offset: q.offset, From: q.from, To: q.to,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, events)
}

func (h *Handlers) ReconcileAll(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Reconciler.ReconcileAll(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (h *Handlers) ReconcileProduct(w http.ResponseWriter, r *http.Request) {
	res, err := h.Reconciler.ReconcileProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *Handlers) LowStockSweep(w http.ResponseWriter, r *http.Request) {
	res, err := h.Reconciler.LowStockSweep(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// Order Handlers

func (h *Handlers) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req fulfillment.PlaceOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.Actor = middleware.ActorFrom(r.Context())

	o, err := h.Orchestrator.PlaceOrder(r.Context(), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, o)
}

func (h *Handlers) ListOrders(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	filter := readmodel.OrderFilter{
		Limit:        q.limit,
		Offset:       q.offset,
		From:         q.from,
		To:           q.to,
		WithTracking: r.URL.Query().Get("tracking") == "true",
	}
	for _, raw := range splitList(r.URL.Query().Get("status")) {
		s, err := order.ParseStatus(raw)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		filter.Statuses = append(filter.Statuses, string(s))
	}

	orders, err := h.ReadModels.ListOrders(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if orders == nil {
		orders = []readmodel.OrderReadModel{}
	}
	respondJSON(w, http.StatusOK, orders)
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orchestrator.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (h *Handlers) OrderHistory(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	entries, err := h.Orders.History(r.Context(), chi.URLParam(r, "id"), order.Page{Limit: q.limit, Offset: q.offset})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

func (h *Handlers) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
		Note   string `json:"note"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	status, err := order.ParseStatus(req.Status)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	o, err := h.Orchestrator.UpdateStatus(r.Context(), chi.URLParam(r, "id"), status, middleware.ActorFrom(r.Context()), req.Note)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

// Shipment Handlers

func (h *Handlers) CreateShipment(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orchestrator.CreateShipmentForOrder(r.Context(), chi.URLParam(r, "id"), middleware.ActorFrom(r.Context()))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, o)
}

func (h *Handlers) SyncShipment(w http.ResponseWriter, r *http.Request) {
	res, err := h.Orchestrator.SyncShipmentStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *Handlers) SyncAllShipments(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Orchestrator.SyncAllActiveShipments(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// Notification Handlers

func (h *Handlers) ListNotifications(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	values := r.URL.Query()
	filter := readmodel.NotificationFilter{
		Status:    strings.ToUpper(values.Get("status")),
		Recipient: values.Get("recipient"),
		Limit:     q.limit,
		Offset:    q.offset,
		From:      q.from,
		To:        q.to,
	}
	if raw := values.Get("type"); raw != "" {
		ch, err := notification.ParseChannel(raw)
		if err != nil {
			h.respondError(w, r, fmt.Errorf("%w: %w", ErrBadRequest, err))
			return
		}
		filter.Type = string(ch)
	}

	list, err := h.Notifications.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if list == nil {
		list = []readmodel.Notification{}
	}
	respondJSON(w, http.StatusOK, list)
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Helper functions

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (h *Handlers) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	respondJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.respondError(w, r, fmt.Errorf("%w: invalid JSON body: %v", ErrBadRequest, err))
		return false
	}
	return true
}

type listQuery struct {
	limit  int
	offset int
	from   time.Time
	to     time.Time
}

func parseQuery(r *http.Request) (listQuery, error) {
	values := r.URL.Query()
	var q listQuery
	var err error
	if q.limit, err = parseInt(values.Get("limit"), "limit"); err != nil {
		return q, err
	}
	if q.offset, err = parseInt(values.Get("offset"), "offset"); err != nil {
		return q, err
	}
	if q.from, err = parseTime(values.Get("from"), "from"); err != nil {
		return q, err
	}
	if q.to, err = parseTime(values.Get("to"), "to"); err != nil {
		return q, err
	}
	return q, nil
}

func parseInt(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", ErrBadRequest, name)
	}
	return n, nil
}

// parseTime accepts RFC 3339 timestamps or plain dates.
func parseTime(raw, name string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %s must be RFC 3339 or YYYY-MM-DD", ErrBadRequest, name)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
