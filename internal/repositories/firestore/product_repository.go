package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/subscription-ordering/api/internal/domain"
	pfirestore "github.com/subscription-ordering/api/internal/platform/firestore"
	"github.com/subscription-ordering/api/internal/repositories"
)

const productCollection = "products"

// ProductRepository reads catalog products from Firestore.
type ProductRepository struct {
	base  *pfirestore.Collection[productDocument]
	clock func() time.Time
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	base := pfirestore.NewCollection[productDocument](provider, productCollection)
	return &ProductRepository{base: base, clock: time.Now}, nil
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// FindByID loads a product by document id.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	if strings.TrimSpace(productID) == "" {
		return domain.Product{}, errors.New("product id is required")
	}
	doc, err := r.base.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	product := toDomainProduct(doc.Data)
	product.ID = doc.ID
	if product.CreatedAt.IsZero() {
		product.CreatedAt = doc.CreateTime
	}
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = doc.UpdateTime
	}
	return product, nil
}

// Upsert writes the full product document.
func (r *ProductRepository) Upsert(ctx context.Context, product domain.Product) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	if strings.TrimSpace(product.ID) == "" {
		return domain.Product{}, errors.New("product id is required")
	}
	doc := fromDomainProduct(product, r.clock().UTC())
	if _, err := r.base.Set(ctx, product.ID, doc); err != nil {
		return domain.Product{}, err
	}
	saved := toDomainProduct(doc)
	saved.ID = product.ID
	return saved, nil
}

type productDocument struct {
	Name       string    `firestore:"name"`
	SupplierID string    `firestore:"supplierId"`
	Category   string    `firestore:"category,omitempty"`
	Price      float64   `firestore:"price"`
	Stock      int       `firestore:"stock"`
	Status     string    `firestore:"status,omitempty"`
	CreatedAt  time.Time `firestore:"createdAt"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
}

func toDomainProduct(doc productDocument) domain.Product {
	return domain.Product{
		Name:       strings.TrimSpace(doc.Name),
		SupplierID: strings.TrimSpace(doc.SupplierID),
		Category:   strings.TrimSpace(doc.Category),
		Price:      doc.Price,
		Stock:      doc.Stock,
		Status:     strings.TrimSpace(doc.Status),
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
	}
}

func fromDomainProduct(product domain.Product, now time.Time) productDocument {
	doc := productDocument{
		Name:       strings.TrimSpace(product.Name),
		SupplierID: strings.TrimSpace(product.SupplierID),
		Category:   strings.TrimSpace(product.Category),
		Price:      product.Price,
		Stock:      product.Stock,
		Status:     strings.TrimSpace(product.Status),
		CreatedAt:  product.CreatedAt,
		UpdatedAt:  now,
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	return doc
}
