package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/tabwise-pos/api/internal/auth"
	"github.com/tabwise-pos/api/internal/database"
	"github.com/tabwise-pos/api/internal/enum"
	"github.com/tabwise-pos/api/internal/middleware"
	"github.com/tabwise-pos/api/internal/service"
)

// OrderServicer defines the service methods needed by order handlers.
// Satisfied by *service.OrderService; narrow interface for testability.
type OrderServicer interface {
	CreateOrder(ctx context.Context, req service.CreateOrderRequest) (*service.CreateOrderResult, error)
	AddItem(ctx context.Context, req service.AddItemRequest) (database.OrderItem, database.Order, error)
	VoidItem(ctx context.Context, outletID, orderID, itemID uuid.UUID) (database.Order, error)
	SetDiscount(ctx context.Context, outletID, orderID uuid.UUID, amount string) (database.Order, error)
}

// TotalsServicer re-derives the order's stored totals from its line items.
type TotalsServicer interface {
	Recompute(ctx context.Context, outletID, orderID uuid.UUID) (database.Order, error)
}

// OrderStore defines the database methods needed by order read handlers.
// Satisfied by *database.Queries; narrow interface for testability.
type OrderStore interface {
	GetOrder(ctx context.Context, arg database.GetOrderParams) (database.Order, error)
	ListOrders(ctx context.Context, arg database.ListOrdersParams) ([]database.Order, error)
	ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error)
	ListPaymentsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.Payment, error)
	ListSplitsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderSplit, error)
	CancelOrder(ctx context.Context, arg database.CancelOrderParams) (database.Order, error)
}

// OrderHandler handles order endpoints.
type OrderHandler struct {
	svc    OrderServicer
	totals TotalsServicer
	store  OrderStore
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(svc OrderServicer, totals TotalsServicer, store OrderStore) *OrderHandler {
	return &OrderHandler{svc: svc, totals: totals, store: store}
}

// RegisterRoutes registers order endpoints on the given Chi router.
// Expected to be mounted inside an outlet-scoped subrouter: /outlets/{oid}/orders
func (h *OrderHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Delete("/{id}", h.Cancel)
	r.Post("/{id}/items", h.AddItem)
	r.Delete("/{id}/items/{itemID}", h.VoidItem)
	r.Patch("/{id}/discount", h.SetDiscount)
	r.Post("/{id}/recalculate", h.Recalculate)
}

// --- Request / Response types ---

type createOrderRequest struct {
	Notes          string                   `json:"notes"`
	DiscountAmount string                   `json:"discount_amount"`
	Items          []createOrderItemRequest `json:"items"`
}

type createOrderItemRequest struct {
	Name           string `json:"name"`
	Quantity       int32  `json:"quantity"`
	UnitPrice      string `json:"unit_price"`
	DiscountAmount string `json:"discount_amount"`
}

type addItemRequest struct {
	Name           string `json:"name"`
	Quantity       int32  `json:"quantity"`
	UnitPrice      string `json:"unit_price"`
	DiscountAmount string `json:"discount_amount"`
}

type setDiscountRequest struct {
	DiscountAmount string `json:"discount_amount"`
}

type orderResponse struct {
	ID             uuid.UUID           `json:"id"`
	OutletID       uuid.UUID           `json:"outlet_id"`
	OrderNumber    string              `json:"order_number"`
	Status         string              `json:"status"`
	Subtotal       string              `json:"subtotal"`
	DiscountAmount string              `json:"discount_amount"`
	TaxAmount      string              `json:"tax_amount"`
	Total          string              `json:"total"`
	Notes          *string             `json:"notes"`
	CreatedBy      uuid.UUID           `json:"created_by"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
	ClosedAt       *time.Time          `json:"closed_at"`
	Items          []orderItemResponse `json:"items,omitempty"`
}

type orderItemResponse struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Quantity       int32     `json:"quantity"`
	UnitPrice      string    `json:"unit_price"`
	Subtotal       string    `json:"subtotal"`
	TaxAmount      string    `json:"tax_amount"`
	DiscountAmount string    `json:"discount_amount"`
	IsVoid         bool      `json:"is_void"`
}

type paymentResponse struct {
	ID           uuid.UUID `json:"id"`
	OrderID      uuid.UUID `json:"order_id"`
	SplitID      *string   `json:"split_id"`
	Method       string    `json:"method"`
	Amount       string    `json:"amount"`
	CashReceived *string   `json:"cash_received"`
	ChangeGiven  *string   `json:"change_given"`
	Reference    *string   `json:"reference"`
	ProcessedBy  uuid.UUID `json:"processed_by"`
	CreatedAt    time.Time `json:"created_at"`
}

// orderDetailResponse extends orderResponse with payments and splits for the
// GET detail endpoint.
type orderDetailResponse struct {
	orderResponse
	Payments []paymentResponse `json:"payments"`
	Splits   []splitResponse   `json:"splits"`
}

// orderListResponse wraps a list of orders with pagination metadata.
type orderListResponse struct {
	Orders []orderResponse `json:"orders"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

// --- Handlers ---

// Create handles POST /outlets/{oid}/orders.
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	outletID, claims, ok := requireOutlet(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if len(req.Items) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "items are required"})
		return
	}
	for i, item := range req.Items {
		if item.Name == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": formatItemError(i, "name is required"),
			})
			return
		}
		if item.Quantity <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": formatItemError(i, "quantity must be > 0"),
			})
			return
		}
	}

	svcItems := make([]service.CreateOrderItemRequest, len(req.Items))
	for i, item := range req.Items {
		svcItems[i] = service.CreateOrderItemRequest{
			Name:           item.Name,
			Quantity:       item.Quantity,
			UnitPrice:      item.UnitPrice,
			DiscountAmount: item.DiscountAmount,
		}
	}

	result, err := h.svc.CreateOrder(r.Context(), service.CreateOrderRequest{
		OutletID:       outletID,
		CreatedBy:      claims.UserID,
		Notes:          req.Notes,
		DiscountAmount: req.DiscountAmount,
		Items:          svcItems,
	})
	if err != nil {
		if isValidationError(err) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		log.Printf("ERROR: create order: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := dbOrderToResponse(result.Order)
	resp.Items = make([]orderItemResponse, len(result.Items))
	for i, item := range result.Items {
		resp.Items[i] = dbOrderItemToResponse(item)
	}
	writeJSON(w, http.StatusCreated, resp)
}

// List handles GET /outlets/{oid}/orders.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	outletID, _, ok := requireOutlet(w, r)
	if !ok {
		return
	}

	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > 100 {
		limit = 100
	}

	offset := 0
	if s := r.URL.Query().Get("offset"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v >= 0 {
			offset = v
		}
	}

	params := database.ListOrdersParams{
		OutletID: outletID,
		Limit:    int32(limit),
		Offset:   int32(offset),
	}
	if s := r.URL.Query().Get("status"); s != "" {
		if !isValidOrderStatus(s) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid status filter"})
			return
		}
		params.Status = pgtype.Text{String: s, Valid: true}
	}

	orders, err := h.store.ListOrders(r.Context(), params)
	if err != nil {
		log.Printf("ERROR: list orders: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := make([]orderResponse, len(orders))
	for i, o := range orders {
		resp[i] = dbOrderToResponse(o)
	}

	writeJSON(w, http.StatusOK, orderListResponse{
		Orders: resp,
		Limit:  limit,
		Offset: offset,
	})
}

// Get handles GET /outlets/{oid}/orders/{id}.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	outletID, _, ok := requireOutlet(w, r)
	if !ok {
		return
	}
	orderID, ok := parseIDParam(w, r, "id", "order")
	if !ok {
		return
	}

	order, err := h.store.GetOrder(r.Context(), database.GetOrderParams{
		ID:       orderID,
		OutletID: outletID,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
			return
		}
		log.Printf("ERROR: get order: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	items, err := h.store.ListOrderItemsByOrder(r.Context(), orderID)
	if err != nil {
		log.Printf("ERROR: list order items: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	payments, err := h.store.ListPaymentsByOrder(r.Context(), orderID)
	if err != nil {
		log.Printf("ERROR: list payments: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	splits, err := h.store.ListSplitsByOrder(r.Context(), orderID)
	if err != nil {
		log.Printf("ERROR: list splits: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := dbOrderToResponse(order)
	resp.Items = make([]orderItemResponse, len(items))
	for i, item := range items {
		resp.Items[i] = dbOrderItemToResponse(item)
	}

	paymentResps := make([]paymentResponse, len(payments))
	for i, p := range payments {
		paymentResps[i] = dbPaymentToResponse(p)
	}
	splitResps := make([]splitResponse, len(splits))
	for i, sp := range splits {
		splitResps[i] = dbSplitToResponse(sp)
	}

	writeJSON(w, http.StatusOK, orderDetailResponse{
		orderResponse: resp,
		Payments:      paymentResps,
		Splits:        splitResps,
	})
}

// AddItem handles POST /outlets/{oid}/orders/{id}/items.
func (h *OrderHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	outletID, _, ok := requireOutlet(w, r)
	if !ok {
		return
	}
	orderID, ok := parseIDParam(w, r, "id", "order")
	if !ok {
		return
	}

	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}

	item, order, err := h.svc.AddItem(r.Context(), service.AddItemRequest{
		OutletID:       outletID,
		OrderID:        orderID,
		Name:           req.Name,
		Quantity:       req.Quantity,
		UnitPrice:      req.UnitPrice,
		DiscountAmount: req.DiscountAmount,
	})
	if err != nil {
		writeServiceError(w, "add item", err)
		return
	}

	resp := dbOrderToResponse(order)
	resp.Items = []orderItemResponse{dbOrderItemToResponse(item)}
	writeJSON(w, http.StatusCreated, resp)
}

// VoidItem handles DELETE /outlets/{oid}/orders/{id}/items/{itemID}.
func (h *OrderHandler) VoidItem(w http.ResponseWriter, r *http.Request) {
	outletID, _, ok := requireOutlet(w, r)
	if !ok {
		return
	}
	orderID, ok := parseIDParam(w, r, "id", "order")
	if !ok {
		return
	}
	itemID, ok := parseIDParam(w, r, "itemID", "item")
	if !ok {
		return
	}

	order, err := h.svc.VoidItem(r.Context(), outletID, orderID, itemID)
	if err != nil {
		writeServiceError(w, "void item", err)
		return
	}
	writeJSON(w, http.StatusOK, dbOrderToResponse(order))
}

// SetDiscount handles PATCH /outlets/{oid}/orders/{id}/discount.
func (h *OrderHandler) SetDiscount(w http.ResponseWriter, r *http.Request) {
	outletID, _, ok := requireOutlet(w, r)
	if !ok {
		return
	}
	orderID, ok := parseIDParam(w, r, "id", "order")
	if !ok {
		return
	}

	var req setDiscountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.DiscountAmount == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "discount_amount is required"})
		return
	}

	order, err := h.svc.SetDiscount(r.Context(), outletID, orderID, req.DiscountAmount)
	if err != nil {
		writeServiceError(w, "set discount", err)
		return
	}
	writeJSON(w, http.StatusOK, dbOrderToResponse(order))
}

// Recalculate handles POST /outlets/{oid}/orders/{id}/recalculate. It
// re-derives the stored totals from the active line items; on an untouched
// order this is a no-op.
func (h *OrderHandler) Recalculate(w http.ResponseWriter, r *http.Request) {
	outletID, _, ok := requireOutlet(w, r)
	if !ok {
		return
	}
	orderID, ok := parseIDParam(w, r, "id", "order")
	if !ok {
		return
	}

	order, err := h.totals.Recompute(r.Context(), outletID, orderID)
	if err != nil {
		writeServiceError(w, "recalculate order", err)
		return
	}
	writeJSON(w, http.StatusOK, dbOrderToResponse(order))
}

// Cancel handles DELETE /outlets/{oid}/orders/{id}. The SQL enforces the
// precondition atomically: only OPEN or IN_PROGRESS orders update.
func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	outletID, _, ok := requireOutlet(w, r)
	if !ok {
		return
	}
	orderID, ok := parseIDParam(w, r, "id", "order")
	if !ok {
		return
	}

	cancelled, err := h.store.CancelOrder(r.Context(), database.CancelOrderParams{
		ID:       orderID,
		OutletID: outletID,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Either the order doesn't exist or it already settled.
			// Fetch to give a better error message.
			current, fetchErr := h.store.GetOrder(r.Context(), database.GetOrderParams{
				ID:       orderID,
				OutletID: outletID,
			})
			if fetchErr != nil {
				if errors.Is(fetchErr, pgx.ErrNoRows) {
					writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
					return
				}
				log.Printf("ERROR: get order for cancel: %v", fetchErr)
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
				return
			}
			switch current.Status {
			case enum.OrderStatusCompleted:
				writeJSON(w, http.StatusConflict, map[string]string{"error": "cannot cancel a completed order"})
			case enum.OrderStatusCancelled:
				writeJSON(w, http.StatusConflict, map[string]string{"error": "order is already cancelled"})
			default:
				writeJSON(w, http.StatusConflict, map[string]string{"error": "order cannot be cancelled"})
			}
			return
		}
		log.Printf("ERROR: cancel order: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, dbOrderToResponse(cancelled))
}

// --- Helpers ---

// requireOutlet parses the outlet URL param and the auth claims; it writes
// the error response itself when either is missing.
func requireOutlet(w http.ResponseWriter, r *http.Request) (uuid.UUID, *auth.Claims, bool) {
	outletID, err := uuid.Parse(chi.URLParam(r, "oid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid outlet ID"})
		return uuid.Nil, nil, false
	}
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return uuid.Nil, nil, false
	}
	return outletID, claims, true
}

func parseIDParam(w http.ResponseWriter, r *http.Request, param, noun string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid " + noun + " ID"})
		return uuid.Nil, false
	}
	return id, true
}

func formatItemError(idx int, msg string) string {
	return "items[" + strconv.Itoa(idx) + "]: " + msg
}

// isValidationError checks if the error is a known validation error
// from the service layer that should result in 400 Bad Request.
func isValidationError(err error) bool {
	return errors.Is(err, service.ErrEmptyItems) ||
		errors.Is(err, service.ErrInvalidQuantity) ||
		errors.Is(err, service.ErrInvalidPrice) ||
		errors.Is(err, service.ErrInvalidDiscount) ||
		errors.Is(err, service.ErrInvalidAmount) ||
		errors.Is(err, service.ErrInvalidMethod) ||
		errors.Is(err, service.ErrCashRequired) ||
		errors.Is(err, service.ErrCashTooLow) ||
		errors.Is(err, service.ErrInvalidGuestCount) ||
		errors.Is(err, service.ErrInvalidGuestIndex)
}

// isConflictError checks if the error is a state conflict from the service
// layer that should result in 409 Conflict.
func isConflictError(err error) bool {
	return errors.Is(err, service.ErrInvalidState) ||
		errors.Is(err, service.ErrAlreadySettled) ||
		errors.Is(err, service.ErrOverpayment) ||
		errors.Is(err, service.ErrHasPaidSplits) ||
		errors.Is(err, service.ErrHasSplits) ||
		errors.Is(err, service.ErrZeroTotal) ||
		errors.Is(err, service.ErrCustomSplitMismatch) ||
		errors.Is(err, service.ErrDuplicateItem) ||
		errors.Is(err, service.ErrUnknownItem)
}

// writeServiceError maps a service error to the right HTTP status. Unknown
// errors log and return 500 without leaking internals.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, service.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
	case errors.Is(err, service.ErrSplitNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "split not found"})
	case errors.Is(err, service.ErrItemNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "item not found"})
	case errors.Is(err, service.ErrNoSplits):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order has no splits"})
	case isValidationError(err):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case isConflictError(err):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		log.Printf("ERROR: %s: %v", op, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func isValidOrderStatus(s string) bool {
	switch s {
	case enum.OrderStatusOpen,
		enum.OrderStatusInProgress,
		enum.OrderStatusCompleted,
		enum.OrderStatusCancelled:
		return true
	}
	return false
}

func numericToString(n pgtype.Numeric) string {
	if !n.Valid {
		return "0.00"
	}
	val, err := n.Value()
	if err != nil || val == nil {
		return "0.00"
	}
	d, err := decimal.NewFromString(val.(string))
	if err != nil {
		return "0.00"
	}
	return d.StringFixed(2)
}

// dbOrderToResponse converts a database.Order to an orderResponse.
func dbOrderToResponse(o database.Order) orderResponse {
	resp := orderResponse{
		ID:             o.ID,
		OutletID:       o.OutletID,
		OrderNumber:    o.OrderNumber,
		Status:         o.Status,
		Subtotal:       numericToString(o.Subtotal),
		DiscountAmount: numericToString(o.DiscountAmount),
		TaxAmount:      numericToString(o.TaxAmount),
		Total:          numericToString(o.Total),
		CreatedBy:      o.CreatedBy,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
	if o.Notes.Valid {
		resp.Notes = &o.Notes.String
	}
	if o.ClosedAt.Valid {
		resp.ClosedAt = &o.ClosedAt.Time
	}
	return resp
}

func dbOrderItemToResponse(item database.OrderItem) orderItemResponse {
	return orderItemResponse{
		ID:             item.ID,
		Name:           item.Name,
		Quantity:       item.Quantity,
		UnitPrice:      numericToString(item.UnitPrice),
		Subtotal:       numericToString(item.Subtotal),
		TaxAmount:      numericToString(item.TaxAmount),
		DiscountAmount: numericToString(item.DiscountAmount),
		IsVoid:         item.IsVoid,
	}
}

// dbPaymentToResponse converts a database.Payment to a paymentResponse.
func dbPaymentToResponse(p database.Payment) paymentResponse {
	resp := paymentResponse{
		ID:          p.ID,
		OrderID:     p.OrderID,
		Method:      p.Method,
		Amount:      numericToString(p.Amount),
		ProcessedBy: p.ProcessedBy,
		CreatedAt:   p.CreatedAt,
	}
	if p.SplitID.Valid {
		s := uuid.UUID(p.SplitID.Bytes).String()
		resp.SplitID = &s
	}
	if p.CashReceived.Valid {
		s := numericToString(p.CashReceived)
		resp.CashReceived = &s
	}
	if p.ChangeGiven.Valid {
		s := numericToString(p.ChangeGiven)
		resp.ChangeGiven = &s
	}
	if p.Reference.Valid {
		resp.Reference = &p.Reference.String
	}
	return resp
}
