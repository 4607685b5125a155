package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/subscription-ordering/api/internal/domain"
	"github.com/subscription-ordering/api/internal/platform/auth"
	"github.com/subscription-ordering/api/internal/platform/httpx"
	"github.com/subscription-ordering/api/internal/platform/observability"
	"github.com/subscription-ordering/api/internal/services"
)

const maxOrderRequestBody = 32 * 1024

// OrderHandlers exposes recurring order CRUD to authenticated marketplace users.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	middlewares []func(http.Handler) http.Handler
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithOrderMiddlewares installs middleware (for example idempotency) after authentication.
func WithOrderMiddlewares(mw ...func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.middlewares = append(h.middlewares, mw...)
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth(auth.RoleAdmin, auth.RoleClient, auth.RoleSupplier))
	}
	for _, mw := range h.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Put("/{orderID}", h.updateOrder)
	r.Delete("/{orderID}", h.deleteOrder)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrderServiceUnavailable(ctx, w)
		return
	}

	var req createOrderRequest
	if !decodeJSONBody(ctx, w, r, maxOrderRequestBody, &req) {
		return
	}

	view, err := h.orders.Create(ctx, req.toCommand())
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, createOrderResponse{
		Status:  httpx.StatusSuccess,
		Message: "",
		Data:    createOrderData{Order: buildOrderPayload(view)},
	})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrderServiceUnavailable(ctx, w)
		return
	}

	filter, err := parseOrderListFilter(r.URL.Query())
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	result, err := h.orders.List(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(result.Items))
	for _, view := range result.Items {
		items = append(items, buildOrderPayload(view))
	}

	if !result.Paginated {
		writeJSONResponse(w, http.StatusOK, orderListResponse{
			Status:  httpx.StatusSuccess,
			Results: len(items),
			Data:    items,
		})
		return
	}
	writeJSONResponse(w, http.StatusOK, orderPageResponse{
		Status:     httpx.StatusSuccess,
		Page:       result.Page,
		Limit:      result.Limit,
		Total:      result.Total,
		TotalPages: result.TotalPages,
		Results:    len(items),
		Data:       items,
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrderServiceUnavailable(ctx, w)
		return
	}

	view, err := h.orders.Get(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Status: httpx.StatusSuccess, Data: buildOrderPayload(view)})
}

func (h *OrderHandlers) updateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrderServiceUnavailable(ctx, w)
		return
	}

	var req updateOrderRequest
	if !decodeJSONBody(ctx, w, r, maxOrderRequestBody, &req) {
		return
	}

	view, err := h.orders.Update(ctx, chi.URLParam(r, "orderID"), req.toCommand())
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Status: httpx.StatusSuccess, Data: buildOrderPayload(view)})
}

func (h *OrderHandlers) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrderServiceUnavailable(ctx, w)
		return
	}

	if err := h.orders.Delete(ctx, chi.URLParam(r, "orderID")); err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, messageResponse{Status: httpx.StatusSuccess, Message: "Order deleted successfully"})
}

func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, limit int64, dst any) bool {
	body, err := readLimitedBody(r, limit)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		}
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", decodeErrorMessage(err), http.StatusBadRequest))
		return false
	}
	return true
}

// decodeErrorMessage names the offending field when a value has the wrong JSON type.
func decodeErrorMessage(err error) string {
	var typeErr *json.UnmarshalTypeError
	if !errors.As(err, &typeErr) || typeErr.Field == "" || typeErr.Type == nil {
		return "Invalid request body"
	}
	expected := "a valid value"
	switch typeErr.Type.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		expected = "a whole number"
	case reflect.Float32, reflect.Float64:
		expected = "a number"
	case reflect.String:
		expected = "a string"
	case reflect.Bool:
		expected = "a boolean"
	}
	return fmt.Sprintf("%s must be %s", typeErr.Field, expected)
}

func writeOrderServiceUnavailable(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	message := services.ErrorMessage(err)
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", message, http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", message, http.StatusNotFound))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", message, http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable):
		observability.FromContext(ctx).Warn("order store unavailable", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("unavailable", message, http.StatusServiceUnavailable).WithCause(err))
	default:
		observability.FromContext(ctx).Error("order request failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.Internal("order_failed", err))
	}
}

func parseOrderListFilter(query url.Values) (services.OrderListFilter, error) {
	filter := services.OrderListFilter{
		CustomerID: strings.TrimSpace(query.Get("customer")),
		SupplierID: strings.TrimSpace(query.Get("supplier")),
		ProductID:  strings.TrimSpace(query.Get("product")),
		Status:     strings.TrimSpace(query.Get("status")),
		Sort:       strings.TrimSpace(query.Get("sort")),
		Upcoming:   strings.TrimSpace(query.Get("upcoming")) == "true",
	}

	var err error
	if filter.Price.From, err = floatParam(query, "minPrice"); err != nil {
		return filter, err
	}
	if filter.Price.To, err = floatParam(query, "maxPrice"); err != nil {
		return filter, err
	}
	if filter.Quantity.From, err = intParam(query, "minQty"); err != nil {
		return filter, err
	}
	if filter.Quantity.To, err = intParam(query, "maxQty"); err != nil {
		return filter, err
	}
	if filter.NextDelivery.From, err = timeParam(query, "nextFrom"); err != nil {
		return filter, err
	}
	if filter.NextDelivery.To, err = timeParam(query, "nextTo"); err != nil {
		return filter, err
	}
	if filter.Created.From, err = timeParam(query, "createdFrom"); err != nil {
		return filter, err
	}
	if filter.Created.To, err = timeParam(query, "createdTo"); err != nil {
		return filter, err
	}

	// Unparseable page/limit still switch pagination on and fall back to the defaults.
	if query.Has("page") {
		page := lenientInt(query.Get("page"))
		filter.Page = &page
	}
	if query.Has("limit") {
		limit := lenientInt(query.Get("limit"))
		filter.Limit = &limit
	}
	return filter, nil
}

func floatParam(query url.Values, key string) (*float64, error) {
	raw := strings.TrimSpace(query.Get(key))
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("%s must be a number", key)
	}
	return &value, nil
}

func intParam(query url.Values, key string) (*int, error) {
	raw := strings.TrimSpace(query.Get(key))
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be an integer", key)
	}
	return &value, nil
}

func timeParam(query url.Values, key string) (*time.Time, error) {
	raw := strings.TrimSpace(query.Get(key))
	if raw == "" {
		return nil, nil
	}
	ts, err := parseTimeParam(raw)
	if err != nil {
		return nil, fmt.Errorf("%s %v", key, err)
	}
	return &ts, nil
}

func parseTimeParam(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("timestamp is empty")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse("2006-01-02", value); err == nil {
		return ts.UTC(), nil
	}
	return time.Time{}, errors.New("must be an RFC3339 timestamp or YYYY-MM-DD date")
}

func lenientInt(raw string) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return value
}

type createOrderRequest struct {
	Product          string   `json:"product"`
	Customer         string   `json:"customer"`
	Supplier         string   `json:"supplier"`
	Quantity         *int     `json:"quantity"`
	Price            *float64 `json:"price"`
	DeliveryInterval *int     `json:"deliveryInterval"`
	DeliveryDay      *int     `json:"deliveryDay"`
	NextDeliveryDate string   `json:"nextDeliveryDate"`
	Status           string   `json:"status"`
}

func (req createOrderRequest) toCommand() services.CreateOrderCommand {
	return services.CreateOrderCommand{
		ProductID:        strings.TrimSpace(req.Product),
		CustomerID:       strings.TrimSpace(req.Customer),
		SupplierID:       strings.TrimSpace(req.Supplier),
		Quantity:         req.Quantity,
		Price:            req.Price,
		DeliveryInterval: req.DeliveryInterval,
		DeliveryDay:      req.DeliveryDay,
		NextDeliveryDate: strings.TrimSpace(req.NextDeliveryDate),
		Status:           strings.TrimSpace(req.Status),
	}
}

type updateOrderRequest struct {
	Product          *string  `json:"product"`
	Customer         *string  `json:"customer"`
	Supplier         *string  `json:"supplier"`
	Quantity         *int     `json:"quantity"`
	Price            *float64 `json:"price"`
	DeliveryInterval *int     `json:"deliveryInterval"`
	DeliveryDay      *int     `json:"deliveryDay"`
	NextDeliveryDate *string  `json:"nextDeliveryDate"`
	Status           *string  `json:"status"`
	AdvanceNext      bool     `json:"advanceNext"`
}

func (req updateOrderRequest) toCommand() services.UpdateOrderCommand {
	return services.UpdateOrderCommand{
		ProductID:        req.Product,
		CustomerID:       req.Customer,
		SupplierID:       req.Supplier,
		Quantity:         req.Quantity,
		Price:            req.Price,
		DeliveryInterval: req.DeliveryInterval,
		DeliveryDay:      req.DeliveryDay,
		NextDeliveryDate: req.NextDeliveryDate,
		Status:           req.Status,
		AdvanceNext:      req.AdvanceNext,
	}
}

type createOrderResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    createOrderData `json:"data"`
}

type createOrderData struct {
	Order orderPayload `json:"order"`
}

type orderResponse struct {
	Status string       `json:"status"`
	Data   orderPayload `json:"data"`
}

type orderListResponse struct {
	Status  string         `json:"status"`
	Results int            `json:"results"`
	Data    []orderPayload `json:"data"`
}

type orderPageResponse struct {
	Status     string         `json:"status"`
	Page       int            `json:"page"`
	Limit      int            `json:"limit"`
	Total      int            `json:"total"`
	TotalPages int            `json:"totalPages"`
	Results    int            `json:"results"`
	Data       []orderPayload `json:"data"`
}

type messageResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type orderPayload struct {
	ID                   string               `json:"id"`
	Product              *orderProductPayload `json:"product"`
	Customer             *orderPartyPayload   `json:"customer"`
	Supplier             *orderPartyPayload   `json:"supplier"`
	Quantity             int                  `json:"quantity"`
	Price                float64              `json:"price"`
	DeliveryInterval     int                  `json:"deliveryInterval"`
	DeliveryDay          int                  `json:"deliveryDay"`
	NextDeliveryDate     string               `json:"nextDeliveryDate,omitempty"`
	Status               string               `json:"status"`
	StripeSubscriptionID string               `json:"stripeSubscriptionId,omitempty"`
	CreatedAt            string               `json:"createdAt,omitempty"`
	UpdatedAt            string               `json:"updatedAt,omitempty"`
}

type orderProductPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type orderPartyPayload struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

func buildOrderPayload(view domain.OrderView) orderPayload {
	payload := orderPayload{
		ID:                   view.ID,
		Quantity:             view.Quantity,
		Price:                view.Price,
		DeliveryInterval:     view.DeliveryInterval,
		DeliveryDay:          view.DeliveryDay,
		NextDeliveryDate:     formatTime(view.NextDeliveryDate),
		Status:               string(view.Status),
		StripeSubscriptionID: view.StripeSubscriptionID,
		CreatedAt:            formatTime(view.CreatedAt),
		UpdatedAt:            formatTime(view.UpdatedAt),
	}
	if view.Product != nil {
		payload.Product = &orderProductPayload{ID: view.Product.ID, Name: view.Product.Name}
	}
	payload.Customer = partyPayload(view.Customer)
	payload.Supplier = partyPayload(view.Supplier)
	return payload
}

func partyPayload(party *domain.OrderParty) *orderPartyPayload {
	if party == nil {
		return nil
	}
	return &orderPartyPayload{
		ID:        party.ID,
		FirstName: party.FirstName,
		LastName:  party.LastName,
		Email:     party.Email,
	}
}
