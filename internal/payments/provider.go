package payments

import (
	"context"
	"errors"
	"time"
)

// ErrSubscriptionNotFound is returned when Stripe reports no such subscription.
var ErrSubscriptionNotFound = errors.New("payments: subscription not found")

// Subscription is the subset of a Stripe subscription the webhooks rely on.
type Subscription struct {
	ID               string
	CustomerID       string
	Status           string
	Metadata         map[string]string
	CurrentPeriodEnd time.Time
}

// OrderID returns the order reference stored in the subscription metadata, if any.
func (s Subscription) OrderID() string {
	return MetadataOrderID(s.Metadata)
}

// SubscriptionLookup retrieves subscriptions, optionally on behalf of a connected account.
type SubscriptionLookup interface {
	Subscription(ctx context.Context, id, account string) (Subscription, error)
}

// MetadataOrderID reads the order id from Stripe metadata, accepting the key spellings used by checkout flows.
func MetadataOrderID(metadata map[string]string) string {
	for _, key := range []string{"orderId", "order_id", "orderID"} {
		if v, ok := metadata[key]; ok && v != "" {
			return v
		}
	}
	return ""
}
