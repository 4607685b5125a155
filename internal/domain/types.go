package domain

import (
	"strings"
	"time"
)

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// UserRole identifies the marketplace side a user acts on.
type UserRole string

const (
	// UserRoleClient places recurring orders.
	UserRoleClient UserRole = "client"
	// UserRoleSupplier fulfils recurring orders.
	UserRoleSupplier UserRole = "supplier"
	// UserRoleAdmin operates the marketplace.
	UserRoleAdmin UserRole = "admin"
)

// UserStatus describes whether a user may take part in new orders.
type UserStatus string

const (
	// UserStatusActive marks an account in good standing.
	UserStatusActive UserStatus = "active"
	// UserStatusInactive marks an account that was deactivated.
	UserStatusInactive UserStatus = "inactive"
	// UserStatusSuspended marks an account blocked by an operator.
	UserStatusSuspended UserStatus = "suspended"
)

// User is a marketplace account (customer, supplier, or operator).
type User struct {
	ID               string
	FirstName        string
	LastName         string
	Email            string
	Role             UserRole
	Status           UserStatus
	CompanyName      string
	PhoneNumber      string
	StripeCustomerID string
	StripeAccountID  string
	DeviceTokens     []string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Active reports whether the user may take part in orders.
func (u User) Active() bool {
	return u.Status == UserStatusActive
}

// Product is a catalog entry sold by a supplier.
type Product struct {
	ID         string
	Name       string
	SupplierID string
	Category   string
	Price      float64
	Stock      int
	Status     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// OrderStatus tracks the lifecycle of a recurring order.
type OrderStatus string

const (
	// OrderStatusPending is the default state awaiting the next delivery.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusDelivered records that the current delivery was made.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCanceled stops the recurring schedule.
	OrderStatusCanceled OrderStatus = "canceled"
)

// OrderStatuses lists every accepted order status in display order.
var OrderStatuses = []OrderStatus{OrderStatusPending, OrderStatusDelivered, OrderStatusCanceled}

// ParseOrderStatus normalises raw input and reports whether it names a known status.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	for _, candidate := range OrderStatuses {
		if candidate == status {
			return status, true
		}
	}
	return "", false
}

// Order is a recurring delivery agreement between a customer and a supplier.
type Order struct {
	ID                   string
	ProductID            string
	CustomerID           string
	SupplierID           string
	Quantity             int
	Price                float64
	DeliveryInterval     int
	DeliveryDay          int
	NextDeliveryDate     time.Time
	Status               OrderStatus
	StripeSubscriptionID string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// OrderParty is the public projection of a user referenced by an order.
type OrderParty struct {
	ID        string
	FirstName string
	LastName  string
	Email     string
}

// OrderProduct is the public projection of a product referenced by an order.
type OrderProduct struct {
	ID   string
	Name string
}

// OrderView is an order with its references expanded for API responses.
type OrderView struct {
	Order
	Product  *OrderProduct
	Customer *OrderParty
	Supplier *OrderParty
}

// PartyFromUser projects a user onto the fields exposed next to orders.
func PartyFromUser(u User) *OrderParty {
	return &OrderParty{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Email:     u.Email,
	}
}

// PaymentAccount names the Stripe account an event was delivered for.
type PaymentAccount string

const (
	// PaymentAccountMain is the platform's own Stripe account.
	PaymentAccountMain PaymentAccount = "main"
	// PaymentAccountConnected is a supplier's connected Stripe account.
	PaymentAccountConnected PaymentAccount = "connected"
)

// PaymentRecord stores a settled invoice. The ID is the invoice id so replays overwrite in place.
type PaymentRecord struct {
	ID             string
	EventID        string
	Account        PaymentAccount
	StripeAccount  string
	InvoiceID      string
	SubscriptionID string
	CustomerID     string
	OrderID        string
	AmountPaid     int64
	Currency       string
	PaidAt         time.Time
	RecordedAt     time.Time
}

// ConnectedAccount mirrors the onboarding state of a supplier's Stripe account.
type ConnectedAccount struct {
	ID                 string
	ChargesEnabled     bool
	PayoutsEnabled     bool
	OnboardingComplete bool
	RequirementsDue    []string
	DisabledReason     string
	UpdatedAt          time.Time
}

const maxIDLength = 128

// ValidID reports whether id can address a document.
func ValidID(id string) bool {
	if id == "" || len(id) > maxIDLength {
		return false
	}
	if id == "." || id == ".." || strings.Contains(id, "/") {
		return false
	}
	if strings.HasPrefix(id, "__") && strings.HasSuffix(id, "__") {
		return false
	}
	return strings.TrimSpace(id) == id
}
