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

const paymentRecordCollection = "payment_records"

// PaymentRecordRepository stores settled invoices keyed by invoice id.
type PaymentRecordRepository struct {
	base *pfirestore.Collection[paymentRecordDocument]
}

// NewPaymentRecordRepository constructs a Firestore-backed payment record repository.
func NewPaymentRecordRepository(provider *pfirestore.Provider) (*PaymentRecordRepository, error) {
	if provider == nil {
		return nil, errors.New("payment record repository requires firestore provider")
	}
	base := pfirestore.NewCollection[paymentRecordDocument](provider, paymentRecordCollection)
	return &PaymentRecordRepository{base: base}, nil
}

var _ repositories.PaymentRecordRepository = (*PaymentRecordRepository)(nil)

// Upsert writes the record under its invoice id, overwriting earlier deliveries of the same invoice.
func (r *PaymentRecordRepository) Upsert(ctx context.Context, record domain.PaymentRecord) error {
	if r == nil || r.base == nil {
		return errors.New("payment record repository not initialised")
	}
	id := strings.TrimSpace(record.ID)
	if id == "" {
		id = strings.TrimSpace(record.InvoiceID)
	}
	if id == "" {
		return errors.New("payment record id is required")
	}
	_, err := r.base.Set(ctx, id, fromDomainPaymentRecord(record))
	return err
}

// FindByID loads the record stored for an invoice.
func (r *PaymentRecordRepository) FindByID(ctx context.Context, invoiceID string) (domain.PaymentRecord, error) {
	if r == nil || r.base == nil {
		return domain.PaymentRecord{}, errors.New("payment record repository not initialised")
	}
	if strings.TrimSpace(invoiceID) == "" {
		return domain.PaymentRecord{}, errors.New("invoice id is required")
	}
	doc, err := r.base.Get(ctx, invoiceID)
	if err != nil {
		return domain.PaymentRecord{}, err
	}
	record := toDomainPaymentRecord(doc.Data)
	record.ID = doc.ID
	return record, nil
}

type paymentRecordDocument struct {
	EventID        string    `firestore:"eventId"`
	Account        string    `firestore:"account"`
	StripeAccount  string    `firestore:"stripeAccount,omitempty"`
	InvoiceID      string    `firestore:"invoiceId"`
	SubscriptionID string    `firestore:"subscriptionId"`
	CustomerID     string    `firestore:"customerId,omitempty"`
	OrderID        string    `firestore:"orderId,omitempty"`
	AmountPaid     int64     `firestore:"amountPaid"`
	Currency       string    `firestore:"currency"`
	PaidAt         time.Time `firestore:"paidAt"`
	RecordedAt     time.Time `firestore:"recordedAt"`
}

func toDomainPaymentRecord(doc paymentRecordDocument) domain.PaymentRecord {
	return domain.PaymentRecord{
		EventID:        doc.EventID,
		Account:        domain.PaymentAccount(doc.Account),
		StripeAccount:  doc.StripeAccount,
		InvoiceID:      doc.InvoiceID,
		SubscriptionID: doc.SubscriptionID,
		CustomerID:     doc.CustomerID,
		OrderID:        doc.OrderID,
		AmountPaid:     doc.AmountPaid,
		Currency:       doc.Currency,
		PaidAt:         doc.PaidAt,
		RecordedAt:     doc.RecordedAt,
	}
}

func fromDomainPaymentRecord(record domain.PaymentRecord) paymentRecordDocument {
	return paymentRecordDocument{
		EventID:        strings.TrimSpace(record.EventID),
		Account:        string(record.Account),
		StripeAccount:  strings.TrimSpace(record.StripeAccount),
		InvoiceID:      strings.TrimSpace(record.InvoiceID),
		SubscriptionID: strings.TrimSpace(record.SubscriptionID),
		CustomerID:     strings.TrimSpace(record.CustomerID),
		OrderID:        strings.TrimSpace(record.OrderID),
		AmountPaid:     record.AmountPaid,
		Currency:       strings.ToLower(strings.TrimSpace(record.Currency)),
		PaidAt:         record.PaidAt.UTC(),
		RecordedAt:     record.RecordedAt.UTC(),
	}
}
