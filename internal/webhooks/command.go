package webhooks

import (
	"context"
	"errors"
	"time"

	"github.com/stripe/stripe-go/v78"
	"go.uber.org/zap"

	domain "github.com/subscription-ordering/api/internal/domain"
	"github.com/subscription-ordering/api/internal/payments"
	"github.com/subscription-ordering/api/internal/platform/messaging"
)

// ErrCommandNotImplemented is returned by commands registered without a behaviour.
var ErrCommandNotImplemented = errors.New("webhooks: unimplemented command")

// Command handles exactly one verified event delivery.
type Command interface {
	Execute(ctx context.Context) error
}

// CommandFactory builds a fresh command for each delivery.
type CommandFactory func(event stripe.Event, deps Dependencies) Command

// UnimplementedCommand is the default command; executing it is a programming error.
type UnimplementedCommand struct {
	EventType stripe.EventType
}

// Execute implements Command.
func (c UnimplementedCommand) Execute(context.Context) error {
	if c.EventType != "" {
		return errors.Join(ErrCommandNotImplemented, errors.New(string(c.EventType)))
	}
	return ErrCommandNotImplemented
}

// PaymentRecordStore persists payment records keyed by invoice id.
type PaymentRecordStore interface {
	Upsert(ctx context.Context, record domain.PaymentRecord) error
}

// ConnectedAccountStore persists connected account onboarding snapshots.
type ConnectedAccountStore interface {
	Upsert(ctx context.Context, account domain.ConnectedAccount) error
}

// OrderLookup loads orders referenced by subscription metadata.
type OrderLookup interface {
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
}

// UserLookup loads the users notified about payments.
type UserLookup interface {
	FindByID(ctx context.Context, userID string) (domain.User, error)
}

// Notifier delivers push notifications to a device.
type Notifier interface {
	SendToDevice(ctx context.Context, token string, notification messaging.Notification) (string, error)
}

// Dependencies are the collaborators handed to every command.
type Dependencies struct {
	Account       domain.PaymentAccount
	Subscriptions payments.SubscriptionLookup
	Payments      PaymentRecordStore
	Accounts      ConnectedAccountStore
	Orders        OrderLookup
	Users         UserLookup
	Notifier      Notifier
	Clock         func() time.Time
	Logger        *zap.Logger
}

func (d Dependencies) now() time.Time {
	if d.Clock != nil {
		return d.Clock().UTC()
	}
	return time.Now().UTC()
}

func (d Dependencies) logger() *zap.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return zap.NewNop()
}
