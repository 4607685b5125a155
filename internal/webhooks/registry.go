package webhooks

import (
	"sort"

	"github.com/stripe/stripe-go/v78"
)

// Registry maps event types to command factories. It is immutable once built.
type Registry struct {
	factories map[stripe.EventType]CommandFactory
}

// NewRegistry copies the provided mapping; nil factories are dropped.
func NewRegistry(factories map[stripe.EventType]CommandFactory) *Registry {
	copied := make(map[stripe.EventType]CommandFactory, len(factories))
	for eventType, factory := range factories {
		if eventType == "" || factory == nil {
			continue
		}
		copied[eventType] = factory
	}
	return &Registry{factories: copied}
}

// Lookup returns the factory registered for the event type.
func (r *Registry) Lookup(eventType stripe.EventType) (CommandFactory, bool) {
	if r == nil {
		return nil, false
	}
	factory, ok := r.factories[eventType]
	return factory, ok
}

// Types lists the registered event types in sorted order.
func (r *Registry) Types() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.factories))
	for eventType := range r.factories {
		out = append(out, string(eventType))
	}
	sort.Strings(out)
	return out
}

// MainAccountRegistry lists the events handled on the platform account endpoint.
func MainAccountRegistry() *Registry {
	return NewRegistry(map[stripe.EventType]CommandFactory{
		stripe.EventTypeInvoicePaymentSucceeded: NewInvoicePaymentSucceeded,
	})
}

// ConnectedAccountRegistry lists the events handled on the connected account endpoint.
func ConnectedAccountRegistry() *Registry {
	return NewRegistry(map[stripe.EventType]CommandFactory{
		stripe.EventTypeInvoicePaymentSucceeded: NewInvoicePaymentSucceeded,
		stripe.EventTypeAccountUpdated:          NewAccountUpdated,
	})
}
