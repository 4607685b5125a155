package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"go.uber.org/zap"

	domain "github.com/subscription-ordering/api/internal/domain"
	"github.com/subscription-ordering/api/internal/payments"
	"github.com/subscription-ordering/api/internal/platform/messaging"
)

// InvoicePaymentSucceeded records a paid subscription invoice and notifies the ordering customer.
type InvoicePaymentSucceeded struct {
	event stripe.Event
	deps  Dependencies
}

// NewInvoicePaymentSucceeded is the CommandFactory for invoice.payment_succeeded.
func NewInvoicePaymentSucceeded(event stripe.Event, deps Dependencies) Command {
	return &InvoicePaymentSucceeded{event: event, deps: deps}
}

// Execute implements Command.
func (c *InvoicePaymentSucceeded) Execute(ctx context.Context) error {
	invoice, err := decodeObject[stripe.Invoice](c.event)
	if err != nil {
		return err
	}
	logger := c.deps.logger().With(
		zap.String("event_id", c.event.ID),
		zap.String("invoice_id", invoice.ID),
	)

	subscriptionID := invoiceSubscriptionID(invoice)
	if subscriptionID == "" {
		logger.Info("no subscription found for invoice")
		return nil
	}

	orderID, err := c.resolveOrderID(ctx, invoice, subscriptionID, logger)
	if err != nil {
		return err
	}

	record := domain.PaymentRecord{
		ID:             invoice.ID,
		EventID:        c.event.ID,
		Account:        c.deps.Account,
		StripeAccount:  c.event.Account,
		InvoiceID:      invoice.ID,
		SubscriptionID: subscriptionID,
		OrderID:        orderID,
		AmountPaid:     invoice.AmountPaid,
		Currency:       strings.ToLower(string(invoice.Currency)),
		PaidAt:         invoicePaidAt(invoice),
		RecordedAt:     c.deps.now(),
	}
	if invoice.Customer != nil {
		record.CustomerID = invoice.Customer.ID
	}

	logger.Info("invoice payment succeeded",
		zap.String("subscription_id", subscriptionID),
		zap.String("order_id", orderID),
		zap.Int64("amount_paid", record.AmountPaid),
		zap.String("currency", record.Currency),
	)

	if c.deps.Payments == nil {
		return errors.New("webhooks: payment record store not configured")
	}
	if err := c.deps.Payments.Upsert(ctx, record); err != nil {
		return fmt.Errorf("record payment for invoice %s: %w", invoice.ID, err)
	}

	c.notifyCustomer(ctx, record, logger)
	return nil
}

func (c *InvoicePaymentSucceeded) resolveOrderID(ctx context.Context, invoice *stripe.Invoice, subscriptionID string, logger *zap.Logger) (string, error) {
	if invoice.SubscriptionDetails != nil {
		if id := payments.MetadataOrderID(invoice.SubscriptionDetails.Metadata); id != "" {
			return id, nil
		}
	}
	if invoice.Subscription != nil {
		if id := payments.MetadataOrderID(invoice.Subscription.Metadata); id != "" {
			return id, nil
		}
	}
	if c.deps.Subscriptions == nil {
		return "", nil
	}
	sub, err := c.deps.Subscriptions.Subscription(ctx, subscriptionID, c.event.Account)
	if err != nil {
		if errors.Is(err, payments.ErrSubscriptionNotFound) {
			logger.Warn("subscription not found for invoice", zap.String("subscription_id", subscriptionID))
			return "", nil
		}
		return "", fmt.Errorf("lookup subscription %s: %w", subscriptionID, err)
	}
	return sub.OrderID(), nil
}

func (c *InvoicePaymentSucceeded) notifyCustomer(ctx context.Context, record domain.PaymentRecord, logger *zap.Logger) {
	if record.OrderID == "" || c.deps.Orders == nil || c.deps.Users == nil || c.deps.Notifier == nil {
		return
	}
	order, err := c.deps.Orders.FindByID(ctx, record.OrderID)
	if err != nil {
		logger.Warn("order lookup for payment notification failed", zap.String("order_id", record.OrderID), zap.Error(err))
		return
	}
	customer, err := c.deps.Users.FindByID(ctx, order.CustomerID)
	if err != nil {
		logger.Warn("customer lookup for payment notification failed", zap.String("customer_id", order.CustomerID), zap.Error(err))
		return
	}
	if len(customer.DeviceTokens) == 0 {
		return
	}

	notification := messaging.Notification{
		Title: "Payment received",
		Body:  fmt.Sprintf("%s for your subscription", messaging.FormatAmount(record.AmountPaid, record.Currency)),
		Data: map[string]string{
			"type":      "invoice.payment_succeeded",
			"orderId":   record.OrderID,
			"invoiceId": record.InvoiceID,
		},
	}
	for _, token := range customer.DeviceTokens {
		if _, err := c.deps.Notifier.SendToDevice(ctx, token, notification); err != nil {
			logger.Warn("payment notification failed", zap.String("customer_id", customer.ID), zap.Error(err))
		}
	}
}

func invoiceSubscriptionID(invoice *stripe.Invoice) string {
	if invoice == nil || invoice.Subscription == nil {
		return ""
	}
	return strings.TrimSpace(invoice.Subscription.ID)
}

func invoicePaidAt(invoice *stripe.Invoice) time.Time {
	if invoice.StatusTransitions != nil && invoice.StatusTransitions.PaidAt > 0 {
		return time.Unix(invoice.StatusTransitions.PaidAt, 0).UTC()
	}
	if invoice.Created > 0 {
		return time.Unix(invoice.Created, 0).UTC()
	}
	return time.Time{}
}

func decodeObject[T any](event stripe.Event) (*T, error) {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, fmt.Errorf("event %s has no data object", event.ID)
	}
	var out T
	if err := json.Unmarshal(event.Data.Raw, &out); err != nil {
		return nil, fmt.Errorf("decode %s object: %w", event.Type, err)
	}
	return &out, nil
}
