package webhooks

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v78"
	"go.uber.org/zap"

	domain "github.com/subscription-ordering/api/internal/domain"
)

// AccountUpdated mirrors connected account onboarding state.
type AccountUpdated struct {
	event stripe.Event
	deps  Dependencies
}

// NewAccountUpdated is the CommandFactory for account.updated.
func NewAccountUpdated(event stripe.Event, deps Dependencies) Command {
	return &AccountUpdated{event: event, deps: deps}
}

// Execute implements Command.
func (c *AccountUpdated) Execute(ctx context.Context) error {
	account, err := decodeObject[stripe.Account](c.event)
	if err != nil {
		return err
	}
	if account.ID == "" {
		account.ID = c.event.Account
	}
	if account.ID == "" {
		return errors.New("account.updated event carries no account id")
	}

	var due []string
	var reason string
	if account.Requirements != nil {
		due = account.Requirements.CurrentlyDue
		reason = string(account.Requirements.DisabledReason)
	}

	snapshot := domain.ConnectedAccount{
		ID:                 account.ID,
		ChargesEnabled:     account.ChargesEnabled,
		PayoutsEnabled:     account.PayoutsEnabled,
		OnboardingComplete: domain.OnboardingComplete(account.ChargesEnabled, account.PayoutsEnabled, due, reason),
		RequirementsDue:    due,
		DisabledReason:     reason,
		UpdatedAt:          c.deps.now(),
	}

	c.deps.logger().Info("connected account updated",
		zap.String("event_id", c.event.ID),
		zap.String("account_id", snapshot.ID),
		zap.Bool("onboarding_complete", snapshot.OnboardingComplete),
		zap.Strings("requirements_due", due),
	)

	if c.deps.Accounts == nil {
		return errors.New("webhooks: connected account store not configured")
	}
	if err := c.deps.Accounts.Upsert(ctx, snapshot); err != nil {
		return fmt.Errorf("store connected account %s: %w", snapshot.ID, err)
	}
	return nil
}
