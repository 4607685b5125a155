package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeLogger defines the logging contract for Stripe client operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSubscriptionAPI interface {
	Get(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
}

// StripeClients carries per-resource Stripe APIs; tests substitute stubs.
type StripeClients struct {
	Subscriptions stripeSubscriptionAPI
}

// StripeConfig configures the StripeClient.
type StripeConfig struct {
	APIKey   string
	Backends *stripe.Backends
	Logger   StripeLogger
	Clock    func() time.Time
	Clients  *StripeClients
}

// StripeClient wraps the Stripe SDK behind the narrow interfaces the API consumes.
type StripeClient struct {
	api    StripeClients
	clock  func() time.Time
	logger StripeLogger
}

var _ SubscriptionLookup = (*StripeClient)(nil)

// NewStripeClient constructs a Stripe client using the given configuration.
func NewStripeClient(cfg StripeConfig) (*StripeClient, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients StripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = StripeClients{
			Subscriptions: sc.Subscriptions,
		}
	}

	if clients.Subscriptions == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeClient{
		api: clients,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Subscription retrieves a subscription. account is the connected account id for Stripe-Account scoped calls.
func (c *StripeClient) Subscription(ctx context.Context, id, account string) (Subscription, error) {
	if c == nil {
		return Subscription{}, errors.New("stripe: client is nil")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Subscription{}, errors.New("stripe: subscription id is required")
	}

	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	if account = strings.TrimSpace(account); account != "" {
		params.SetStripeAccount(account)
	}

	start := c.clock()
	sub, err := c.api.Subscriptions.Get(id, params)
	if err != nil {
		if isStripeNotFound(err) {
			return Subscription{}, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, id)
		}
		return Subscription{}, fmt.Errorf("stripe: get subscription: %w", err)
	}

	c.logger(ctx, "payments.stripe.subscription.fetched", map[string]any{
		"subscriptionId": sub.ID,
		"account":        account,
		"status":         sub.Status,
		"latency":        c.clock().Sub(start).String(),
	})

	return subscriptionFromStripe(sub), nil
}

func subscriptionFromStripe(sub *stripe.Subscription) Subscription {
	out := Subscription{
		ID:     sub.ID,
		Status: string(sub.Status),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if len(sub.Metadata) > 0 {
		out.Metadata = make(map[string]string, len(sub.Metadata))
		for k, v := range sub.Metadata {
			out.Metadata[k] = v
		}
	}
	if sub.CurrentPeriodEnd > 0 {
		out.CurrentPeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}
	return out
}

func isStripeNotFound(err error) bool {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return false
	}
	return stripeErr.HTTPStatusCode == http.StatusNotFound || stripeErr.Code == stripe.ErrorCodeResourceMissing
}
