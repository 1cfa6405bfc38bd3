package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tabwise-pos/api/internal/service"
)

// PaymentServicer defines the service methods needed by payment handlers.
// Satisfied by *service.PaymentService; narrow interface for testability.
type PaymentServicer interface {
	Pay(ctx context.Context, req service.PayRequest) (*service.PayResult, error)
}

// PaymentHandler handles direct (order-level) payment endpoints.
type PaymentHandler struct {
	svc PaymentServicer
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(svc PaymentServicer) *PaymentHandler {
	return &PaymentHandler{svc: svc}
}

// RegisterRoutes registers payment endpoints on the given Chi router.
// Expected to be mounted inside an outlet-scoped subrouter: /outlets/{oid}/orders
func (h *PaymentHandler) RegisterRoutes(r chi.Router) {
	r.Post("/{id}/payments", h.Pay)
}

type payRequest struct {
	Method       string `json:"method"`
	Amount       string `json:"amount"`
	CashReceived string `json:"cash_received"`
	Reference    string `json:"reference"`
}

type payResponse struct {
	Payment     paymentResponse `json:"payment"`
	OrderStatus string          `json:"order_status"`
	TotalPaid   string          `json:"total_paid"`
	Remaining   string          `json:"remaining"`
	Change      string          `json:"change"`
}

// Pay handles POST /outlets/{oid}/orders/{id}/payments. A payment may cover
// the order partially; the order completes when payments reach the total.
func (h *PaymentHandler) Pay(w http.ResponseWriter, r *http.Request) {
	outletID, claims, ok := requireOutlet(w, r)
	if !ok {
		return
	}
	orderID, ok := parseIDParam(w, r, "id", "order")
	if !ok {
		return
	}

	var req payRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Method == "" || req.Amount == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "method and amount are required"})
		return
	}

	result, err := h.svc.Pay(r.Context(), service.PayRequest{
		OutletID:     outletID,
		OrderID:      orderID,
		ProcessedBy:  claims.UserID,
		Method:       req.Method,
		Amount:       req.Amount,
		CashReceived: req.CashReceived,
		Reference:    req.Reference,
	})
	if err != nil {
		writeServiceError(w, "pay order", err)
		return
	}

	writeJSON(w, http.StatusCreated, payResponse{
		Payment:     dbPaymentToResponse(result.Payment),
		OrderStatus: result.OrderStatus,
		TotalPaid:   result.TotalPaid.StringFixed(2),
		Remaining:   result.Remaining.StringFixed(2),
		Change:      result.Change.StringFixed(2),
	})
}
