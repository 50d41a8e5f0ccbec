package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"

	"restohub/internal/domain"
	"restohub/internal/microservices/order/service"
	"restohub/internal/microservices/scheduler"
)

type OrderHandler struct {
	orders   service.OrderServiceInterface
	promoter scheduler.PromoterInterface
}

func NewOrderHandler(orders service.OrderServiceInterface, promoter scheduler.PromoterInterface) *OrderHandler {
	return &OrderHandler{orders: orders, promoter: promoter}
}

// Router wires the tenant-scoped order lifecycle routes.
func (h *OrderHandler) Router() http.Handler {
	r := chi.NewRouter()
	r.Route("/tenants/{tenant}", func(r chi.Router) {
		r.Post("/orders", h.CreateOrder)
		r.Get("/orders/{id}", h.GetOrder)
		r.Delete("/orders/{id}", h.DeleteOrder)
		r.Post("/orders/{id}/items", h.AddItems)
		r.Post("/orders/{id}/payments", h.RecordPayment)
		r.Post("/orders/{id}/discounts", h.ApplyDiscount)
		r.Post("/orders/{id}/items/{line}/status", h.SetItemStatus)
		r.Post("/orders/{id}/status", h.TransitionStatus)
		r.Post("/scheduled/promote", h.PromoteScheduled)
	})
	return r
}

func orderID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.FromString(chi.URLParam(r, "id"))
	return id, err == nil
}

func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req service.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	o, err := h.orders.CreateOrder(r.Context(), chi.URLParam(r, "tenant"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(r)
	if !ok {
		writeProblem(w, http.StatusBadRequest, "bad_id", "invalid order id")
		return
	}
	o, err := h.orders.GetOrder(r.Context(), chi.URLParam(r, "tenant"), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(r)
	if !ok {
		writeProblem(w, http.StatusBadRequest, "bad_id", "invalid order id")
		return
	}
	if err := h.orders.DeleteOrder(r.Context(), chi.URLParam(r, "tenant"), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrderHandler) AddItems(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(r)
	if !ok {
		writeProblem(w, http.StatusBadRequest, "bad_id", "invalid order id")
		return
	}
	var req struct {
		Items []service.ItemInput `json:"items"`
		Actor string              `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	o, err := h.orders.AddItems(r.Context(), chi.URLParam(r, "tenant"), id, req.Items, req.Actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(r)
	if !ok {
		writeProblem(w, http.StatusBadRequest, "bad_id", "invalid order id")
		return
	}
	var req service.PaymentInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	o, err := h.orders.RecordPayment(r.Context(), chi.URLParam(r, "tenant"), id, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) ApplyDiscount(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(r)
	if !ok {
		writeProblem(w, http.StatusBadRequest, "bad_id", "invalid order id")
		return
	}
	var req service.DiscountInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	o, err := h.orders.ApplyDiscount(r.Context(), chi.URLParam(r, "tenant"), id, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) SetItemStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(r)
	if !ok {
		writeProblem(w, http.StatusBadRequest, "bad_id", "invalid order id")
		return
	}
	var req struct {
		Status string `json:"status"`
		Actor  string `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	o, err := h.orders.SetItemStatus(r.Context(), chi.URLParam(r, "tenant"), id, chi.URLParam(r, "line"), req.Status, req.Actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) TransitionStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(r)
	if !ok {
		writeProblem(w, http.StatusBadRequest, "bad_id", "invalid order id")
		return
	}
	var req struct {
		Status string `json:"status"`
		Actor  string `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	target, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "bad_status", err.Error())
		return
	}
	o, err := h.orders.TransitionStatus(r.Context(), chi.URLParam(r, "tenant"), id, target, req.Actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// PromoteScheduled is the manual trigger for the promotion loop.
func (h *OrderHandler) PromoteScheduled(w http.ResponseWriter, r *http.Request) {
	res, err := h.promoter.PromoteDue(r.Context(), chi.URLParam(r, "tenant"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
