package webhooks

import (
	"reflect"
	"testing"

	"github.com/stripe/stripe-go/v78"
)

func TestRegistries(t *testing.T) {
	if got := MainAccountRegistry().Types(); !reflect.DeepEqual(got, []string{"invoice.payment_succeeded"}) {
		t.Fatalf("unexpected main account types %v", got)
	}
	if got := ConnectedAccountRegistry().Types(); !reflect.DeepEqual(got, []string{"account.updated", "invoice.payment_succeeded"}) {
		t.Fatalf("unexpected connected account types %v", got)
	}
	if _, ok := MainAccountRegistry().Lookup(stripe.EventTypeAccountUpdated); ok {
		t.Fatalf("main account endpoint must not handle account.updated")
	}
}

func TestNewRegistryCopiesAndDropsNil(t *testing.T) {
	source := map[stripe.EventType]CommandFactory{
		"invoice.paid":  NewInvoicePaymentSucceeded,
		"charge.failed": nil,
	}
	registry := NewRegistry(source)
	source["account.updated"] = NewAccountUpdated

	if got := registry.Types(); !reflect.DeepEqual(got, []string{"invoice.paid"}) {
		t.Fatalf("unexpected types %v", got)
	}
	var nilRegistry *Registry
	if _, ok := nilRegistry.Lookup("invoice.paid"); ok {
		t.Fatalf("nil registry must not resolve commands")
	}
}
