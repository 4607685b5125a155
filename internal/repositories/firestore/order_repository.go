package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/subscription-ordering/api/internal/domain"
	pfirestore "github.com/subscription-ordering/api/internal/platform/firestore"
	"github.com/subscription-ordering/api/internal/repositories"
)

const orderCollection = "orders"

// OrderRepository persists recurring orders in Firestore.
type OrderRepository struct {
	base *pfirestore.Collection[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewCollection[orderDocument](provider, orderCollection)
	return &OrderRepository{base: base}, nil
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// Insert creates the order document; an existing id yields a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order id is required")
	}
	_, err := r.base.Create(ctx, order.ID, fromDomainOrder(order))
	return err
}

// Update replaces every mutable field of an existing order.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order id is required")
	}
	doc := fromDomainOrder(order)
	updates := []firestore.Update{
		{Path: "productId", Value: doc.ProductID},
		{Path: "customerId", Value: doc.CustomerID},
		{Path: "supplierId", Value: doc.SupplierID},
		{Path: "quantity", Value: doc.Quantity},
		{Path: "price", Value: doc.Price},
		{Path: "deliveryInterval", Value: doc.DeliveryInterval},
		{Path: "deliveryDay", Value: doc.DeliveryDay},
		{Path: "nextDeliveryDate", Value: doc.NextDeliveryDate},
		{Path: "status", Value: doc.Status},
		{Path: "stripeSubscriptionId", Value: doc.StripeSubscriptionID},
		{Path: "updatedAt", Value: doc.UpdatedAt},
	}
	_, err := r.base.Update(ctx, order.ID, updates)
	return err
}

// FindByID loads an order by id.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	if strings.TrimSpace(orderID) == "" {
		return domain.Order{}, errors.New("order id is required")
	}
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return orderFromDocument(doc), nil
}

// Delete removes the order; a missing document yields NotFound.
func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(orderID) == "" {
		return errors.New("order id is required")
	}
	_, err := r.base.Delete(ctx, orderID, firestore.Exists)
	return err
}

// List returns every order matching the equality filters. Ordering is left to the caller.
func (r *OrderRepository) List(ctx context.Context, query repositories.OrderQuery) ([]domain.Order, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("order repository not initialised")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if id := strings.TrimSpace(query.CustomerID); id != "" {
			q = q.Where("customerId", "==", id)
		}
		if id := strings.TrimSpace(query.SupplierID); id != "" {
			q = q.Where("supplierId", "==", id)
		}
		if id := strings.TrimSpace(query.ProductID); id != "" {
			q = q.Where("productId", "==", id)
		}
		if query.Status != "" {
			q = q.Where("status", "==", string(query.Status))
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, orderFromDocument(doc))
	}
	return orders, nil
}

type orderDocument struct {
	ProductID            string    `firestore:"productId"`
	CustomerID           string    `firestore:"customerId"`
	SupplierID           string    `firestore:"supplierId"`
	Quantity             int       `firestore:"quantity"`
	Price                float64   `firestore:"price"`
	DeliveryInterval     int       `firestore:"deliveryInterval"`
	DeliveryDay          int       `firestore:"deliveryDay"`
	NextDeliveryDate     time.Time `firestore:"nextDeliveryDate"`
	Status               string    `firestore:"status"`
	StripeSubscriptionID string    `firestore:"stripeSubscriptionId,omitempty"`
	CreatedAt            time.Time `firestore:"createdAt"`
	UpdatedAt            time.Time `firestore:"updatedAt"`
}

func orderFromDocument(doc pfirestore.Document[orderDocument]) domain.Order {
	order := toDomainOrder(doc.Data)
	order.ID = doc.ID
	if order.CreatedAt.IsZero() {
		order.CreatedAt = doc.CreateTime
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = doc.UpdateTime
	}
	return order
}

func toDomainOrder(doc orderDocument) domain.Order {
	return domain.Order{
		ProductID:            doc.ProductID,
		CustomerID:           doc.CustomerID,
		SupplierID:           doc.SupplierID,
		Quantity:             doc.Quantity,
		Price:                doc.Price,
		DeliveryInterval:     doc.DeliveryInterval,
		DeliveryDay:          doc.DeliveryDay,
		NextDeliveryDate:     doc.NextDeliveryDate,
		Status:               domain.OrderStatus(doc.Status),
		StripeSubscriptionID: doc.StripeSubscriptionID,
		CreatedAt:            doc.CreatedAt,
		UpdatedAt:            doc.UpdatedAt,
	}
}

func fromDomainOrder(order domain.Order) orderDocument {
	return orderDocument{
		ProductID:            strings.TrimSpace(order.ProductID),
		CustomerID:           strings.TrimSpace(order.CustomerID),
		SupplierID:           strings.TrimSpace(order.SupplierID),
		Quantity:             order.Quantity,
		Price:                order.Price,
		DeliveryInterval:     order.DeliveryInterval,
		DeliveryDay:          order.DeliveryDay,
		NextDeliveryDate:     order.NextDeliveryDate,
		Status:               string(order.Status),
		StripeSubscriptionID: strings.TrimSpace(order.StripeSubscriptionID),
		CreatedAt:            order.CreatedAt,
		UpdatedAt:            order.UpdatedAt,
	}
}
