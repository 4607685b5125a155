package services

import (
	"context"
	"time"

	domain "github.com/subscription-ordering/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order              = domain.Order
	OrderView          = domain.OrderView
	OrderStatus        = domain.OrderStatus
	SystemHealthReport = domain.SystemHealthReport
)

// OrderService covers the recurring order lifecycle exposed over HTTP.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (OrderView, error)
	List(ctx context.Context, filter OrderListFilter) (OrderListResult, error)
	Get(ctx context.Context, orderID string) (OrderView, error)
	Update(ctx context.Context, orderID string, cmd UpdateOrderCommand) (OrderView, error)
	Delete(ctx context.Context, orderID string) error
}

// SystemService exposes readiness information.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type             string    `json:"type"`
	OrderID          string    `json:"orderId"`
	CustomerID       string    `json:"customerId"`
	SupplierID       string    `json:"supplierId"`
	Status           string    `json:"status"`
	NextDeliveryDate time.Time `json:"nextDeliveryDate"`
	OccurredAt       time.Time `json:"occurredAt"`
}

// CreateOrderCommand carries the raw create payload. Nil pointers mean the field was omitted.
type CreateOrderCommand struct {
	ProductID        string
	CustomerID       string
	SupplierID       string
	Quantity         *int
	Price            *float64
	DeliveryInterval *int
	DeliveryDay      *int
	NextDeliveryDate string
	Status           string
}

// UpdateOrderCommand is a partial update. Nil pointers and empty strings leave fields untouched.
type UpdateOrderCommand struct {
	ProductID        *string
	CustomerID       *string
	SupplierID       *string
	Quantity         *int
	Price            *float64
	DeliveryInterval *int
	DeliveryDay      *int
	NextDeliveryDate *string
	Status           *string
	AdvanceNext      bool
}

// OrderListFilter narrows and orders order listings.
type OrderListFilter struct {
	CustomerID   string
	SupplierID   string
	ProductID    string
	Status       string
	Price        domain.RangeQuery[float64]
	Quantity     domain.RangeQuery[int]
	NextDelivery domain.RangeQuery[time.Time]
	Created      domain.RangeQuery[time.Time]
	Upcoming     bool
	// Sort uses the field:asc|desc form.
	Sort string
	// Page and Limit enable pagination when either is set.
	Page  *int
	Limit *int
}

// OrderListResult is a page (or the full set) of populated orders.
type OrderListResult struct {
	Items      []OrderView
	Total      int
	Paginated  bool
	Page       int
	Limit      int
	TotalPages int
}
