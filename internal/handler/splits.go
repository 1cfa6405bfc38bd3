package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tabwise-pos/api/internal/database"
	"github.com/tabwise-pos/api/internal/service"
)

// SplitServicer defines the service methods needed by split handlers.
// Satisfied by *service.SplitService; narrow interface for testability.
type SplitServicer interface {
	SplitEqual(ctx context.Context, req service.SplitEqualRequest) ([]database.OrderSplit, error)
	SplitByItems(ctx context.Context, req service.SplitByItemsRequest) ([]database.OrderSplit, error)
	SplitCustom(ctx context.Context, req service.SplitCustomRequest) ([]database.OrderSplit, error)
	ListSplits(ctx context.Context, outletID, orderID uuid.UUID) (*service.SplitListResult, error)
	RemoveSplits(ctx context.Context, outletID, orderID uuid.UUID) (int64, error)
}

// SplitPaymentServicer records a payment against one split.
// Satisfied by *service.SplitPaymentService.
type SplitPaymentServicer interface {
	PaySplit(ctx context.Context, req service.PaySplitRequest) (*service.PaySplitResult, error)
}

// SplitHandler handles bill-splitting endpoints.
type SplitHandler struct {
	svc      SplitServicer
	payments SplitPaymentServicer
}

// NewSplitHandler creates a new SplitHandler.
func NewSplitHandler(svc SplitServicer, payments SplitPaymentServicer) *SplitHandler {
	return &SplitHandler{svc: svc, payments: payments}
}

// RegisterRoutes registers split endpoints on the given Chi router.
// Expected to be mounted inside an outlet-scoped subrouter: /outlets/{oid}/orders
func (h *SplitHandler) RegisterRoutes(r chi.Router) {
	r.Post("/{id}/splits/equal", h.SplitEqual)
	r.Post("/{id}/splits/by-items", h.SplitByItems)
	r.Post("/{id}/splits/custom", h.SplitCustom)
	r.Get("/{id}/splits", h.List)
	r.Delete("/{id}/splits", h.Remove)
	r.Post("/{id}/splits/{splitID}/payments", h.PaySplit)
}

// --- Request / Response types ---

type splitEqualRequest struct {
	NumberOfGuests int      `json:"number_of_guests"`
	GuestNames     []string `json:"guest_names"`
}

type splitAssignmentRequest struct {
	GuestIndex int      `json:"guest_index"`
	ItemIDs    []string `json:"item_ids"`
}

type splitByItemsRequest struct {
	NumberOfGuests int                      `json:"number_of_guests"`
	GuestNames     []string                 `json:"guest_names"`
	Assignments    []splitAssignmentRequest `json:"assignments"`
}

type customGuestRequest struct {
	Name   string `json:"name"`
	Amount string `json:"amount"`
}

type splitCustomRequest struct {
	Guests []customGuestRequest `json:"guests"`
}

type splitResponse struct {
	ID         uuid.UUID       `json:"id"`
	OrderID    uuid.UUID       `json:"order_id"`
	Label      string          `json:"label"`
	SplitType  string          `json:"split_type"`
	Amount     string          `json:"amount"`
	TaxAmount  string          `json:"tax_amount"`
	Total      string          `json:"total"`
	PaidAmount string          `json:"paid_amount"`
	Status     string          `json:"status"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

type splitListResponse struct {
	OrderTotal string          `json:"order_total"`
	SplitCount int             `json:"split_count"`
	AllPaid    bool            `json:"all_paid"`
	Splits     []splitResponse `json:"splits"`
}

type removeSplitsResponse struct {
	RemovedCount int64 `json:"removed_count"`
}

type paySplitResponse struct {
	Payment        paymentResponse `json:"payment"`
	Split          splitResponse   `json:"split"`
	OrderStatus    string          `json:"order_status"`
	SplitRemaining string          `json:"split_remaining"`
	Change         string          `json:"change"`
	OrderSettled   bool            `json:"order_settled"`
}

// --- Handlers ---

// SplitEqual handles POST /outlets/{oid}/orders/{id}/splits/equal.
func (h *SplitHandler) SplitEqual(w http.ResponseWriter, r *http.Request) {
	outletID, _, ok := requireOutlet(w, r)
	if !ok {
		return
	}
	orderID, ok := parseIDParam(w, r, "id", "order")
	if !ok {
		return
	}

	var req splitEqualRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.NumberOfGuests < 2 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "number_of_guests must be >= 2"})
		return
	}

	splits, err := h.svc.SplitEqual(r.Context(), service.SplitEqualRequest{
		OutletID:       outletID,
		OrderID:        orderID,
		NumberOfGuests: req.NumberOfGuests,
		GuestNames:     req.GuestNames,
	})
	if err != nil {
		writeServiceError(w, "split equal", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSplitResponses(splits))
}

// SplitByItems handles POST /outlets/{oid}/orders/{id}/splits/by-items.
func (h *SplitHandler) SplitByItems(w http.ResponseWriter, r *http.Request) {
	outletID, _, ok := requireOutlet(w, r)
	if !ok {
		return
	}
	orderID, ok := parseIDParam(w, r, "id", "order")
	if !ok {
		return
	}

	var req splitByItemsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.NumberOfGuests < 2 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "number_of_guests must be >= 2"})
		return
	}

	assignments := make([]service.SplitAssignment, len(req.Assignments))
	for i, a := range req.Assignments {
		itemIDs := make([]uuid.UUID, len(a.ItemIDs))
		for j, raw := range a.ItemIDs {
			id, err := uuid.Parse(raw)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid item ID: " + raw})
				return
			}
			itemIDs[j] = id
		}
		assignments[i] = service.SplitAssignment{
			GuestIndex: a.GuestIndex,
			ItemIDs:    itemIDs,
		}
	}

	splits, err := h.svc.SplitByItems(r.Context(), service.SplitByItemsRequest{
		OutletID:       outletID,
		OrderID:        orderID,
		NumberOfGuests: req.NumberOfGuests,
		GuestNames:     req.GuestNames,
		Assignments:    assignments,
	})
	if err != nil {
		writeServiceError(w, "split by items", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSplitResponses(splits))
}

// SplitCustom handles POST /outlets/{oid}/orders/{id}/splits/custom.
func (h *SplitHandler) SplitCustom(w http.ResponseWriter, r *http.Request) {
	outletID, _, ok := requireOutlet(w, r)
	if !ok {
		return
	}
	orderID, ok := parseIDParam(w, r, "id", "order")
	if !ok {
		return
	}

	var req splitCustomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if len(req.Guests) < 2 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "at least 2 guests are required"})
		return
	}

	guests := make([]service.CustomGuest, len(req.Guests))
	for i, g := range req.Guests {
		if g.Amount == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "guest amount is required"})
			return
		}
		guests[i] = service.CustomGuest{Name: g.Name, Amount: g.Amount}
	}

	splits, err := h.svc.SplitCustom(r.Context(), service.SplitCustomRequest{
		OutletID: outletID,
		OrderID:  orderID,
		Guests:   guests,
	})
	if err != nil {
		writeServiceError(w, "split custom", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSplitResponses(splits))
}

// List handles GET /outlets/{oid}/orders/{id}/splits.
func (h *SplitHandler) List(w http.ResponseWriter, r *http.Request) {
	outletID, _, ok := requireOutlet(w, r)
	if !ok {
		return
	}
	orderID, ok := parseIDParam(w, r, "id", "order")
	if !ok {
		return
	}

	result, err := h.svc.ListSplits(r.Context(), outletID, orderID)
	if err != nil {
		writeServiceError(w, "list splits", err)
		return
	}

	writeJSON(w, http.StatusOK, splitListResponse{
		OrderTotal: result.OrderTotal.StringFixed(2),
		SplitCount: result.SplitCount,
		AllPaid:    result.AllPaid,
		Splits:     toSplitResponses(result.Splits),
	})
}

// Remove handles DELETE /outlets/{oid}/orders/{id}/splits.
func (h *SplitHandler) Remove(w http.ResponseWriter, r *http.Request) {
	outletID, _, ok := requireOutlet(w, r)
	if !ok {
		return
	}
	orderID, ok := parseIDParam(w, r, "id", "order")
	if !ok {
		return
	}

	removed, err := h.svc.RemoveSplits(r.Context(), outletID, orderID)
	if err != nil {
		writeServiceError(w, "remove splits", err)
		return
	}
	writeJSON(w, http.StatusOK, removeSplitsResponse{RemovedCount: removed})
}

// PaySplit handles POST /outlets/{oid}/orders/{id}/splits/{splitID}/payments.
func (h *SplitHandler) PaySplit(w http.ResponseWriter, r *http.Request) {
	outletID, claims, ok := requireOutlet(w, r)
	if !ok {
		return
	}
	orderID, ok := parseIDParam(w, r, "id", "order")
	if !ok {
		return
	}
	splitID, ok := parseIDParam(w, r, "splitID", "split")
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

	result, err := h.payments.PaySplit(r.Context(), service.PaySplitRequest{
		OutletID:     outletID,
		OrderID:      orderID,
		SplitID:      splitID,
		ProcessedBy:  claims.UserID,
		Method:       req.Method,
		Amount:       req.Amount,
		CashReceived: req.CashReceived,
		Reference:    req.Reference,
	})
	if err != nil {
		writeServiceError(w, "pay split", err)
		return
	}

	writeJSON(w, http.StatusCreated, paySplitResponse{
		Payment:        dbPaymentToResponse(result.Payment),
		Split:          dbSplitToResponse(result.Split),
		OrderStatus:    result.OrderStatus,
		SplitRemaining: result.SplitRemaining.StringFixed(2),
		Change:         result.Change.StringFixed(2),
		OrderSettled:   result.OrderSettled,
	})
}

// --- Helpers ---

func toSplitResponses(splits []database.OrderSplit) []splitResponse {
	resp := make([]splitResponse, len(splits))
	for i, sp := range splits {
		resp[i] = dbSplitToResponse(sp)
	}
	return resp
}

// dbSplitToResponse converts a database.OrderSplit to a splitResponse.
func dbSplitToResponse(sp database.OrderSplit) splitResponse {
	return splitResponse{
		ID:         sp.ID,
		OrderID:    sp.OrderID,
		Label:      sp.Label,
		SplitType:  sp.SplitType,
		Amount:     numericToString(sp.Amount),
		TaxAmount:  numericToString(sp.TaxAmount),
		Total:      numericToString(sp.Total),
		PaidAmount: numericToString(sp.PaidAmount),
		Status:     sp.Status,
		Metadata:   json.RawMessage(sp.Metadata),
		CreatedAt:  sp.CreatedAt,
	}
}
