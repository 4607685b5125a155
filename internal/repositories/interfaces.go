package repositories

import (
	"context"

	domain "github.com/subscription-ordering/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UserRepository reads marketplace accounts.
type UserRepository interface {
	FindByID(ctx context.Context, userID string) (domain.User, error)
	// FindByEmail matches the lower-cased address. Returns a RepositoryError with IsNotFound when absent.
	FindByEmail(ctx context.Context, email string) (domain.User, error)
	Upsert(ctx context.Context, user domain.User) (domain.User, error)
}

// ProductRepository reads catalog products referenced by orders.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	Upsert(ctx context.Context, product domain.Product) (domain.Product, error)
}

// OrderQuery narrows order listings with equality filters the store can index.
type OrderQuery struct {
	CustomerID string
	SupplierID string
	ProductID  string
	Status     domain.OrderStatus
}

// OrderRepository persists recurring orders.
type OrderRepository interface {
	// Insert fails with a conflict error when the id is already taken.
	Insert(ctx context.Context, order domain.Order) error
	// Update overwrites an existing order and fails with NotFound when it was removed concurrently.
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	Delete(ctx context.Context, orderID string) error
	List(ctx context.Context, query OrderQuery) ([]domain.Order, error)
}

// PaymentRecordRepository stores settled invoices keyed by invoice id.
type PaymentRecordRepository interface {
	Upsert(ctx context.Context, record domain.PaymentRecord) error
	FindByID(ctx context.Context, invoiceID string) (domain.PaymentRecord, error)
}

// ConnectedAccountRepository stores the onboarding snapshot of connected Stripe accounts.
type ConnectedAccountRepository interface {
	Upsert(ctx context.Context, account domain.ConnectedAccount) error
	FindByID(ctx context.Context, accountID string) (domain.ConnectedAccount, error)
}

// HealthRepository aggregates dependency probes for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
