package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	domain "github.com/subscription-ordering/api/internal/domain"
	"github.com/subscription-ordering/api/internal/payments"
)

func testEvent(t *testing.T, id string, eventType stripe.EventType, account string, object string) stripe.Event {
	t.Helper()
	var event stripe.Event
	if err := json.Unmarshal(eventPayload(id, string(eventType), object), &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	event.Account = account
	return event
}

func TestInvoicePaymentSucceededWithoutSubscriptionIsNoop(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	store := &memoryPaymentStore{}
	subs := &stubSubscriptions{}
	event := testEvent(t, "evt_1", stripe.EventTypeInvoicePaymentSucceeded, "", `{"id":"in_1","object":"invoice","amount_paid":500,"currency":"usd"}`)

	cmd := NewInvoicePaymentSucceeded(event, Dependencies{
		Payments:      store,
		Subscriptions: subs,
		Logger:        zap.New(core),
	})
	if err := cmd.Execute(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(store.records) != 0 {
		t.Fatalf("expected no payment record, got %v", store.records)
	}
	if subs.calls != 0 {
		t.Fatalf("expected no subscription lookup")
	}
	if logs.FilterMessage("no subscription found for invoice").Len() != 1 {
		t.Fatalf("expected informational log, got %v", logs.All())
	}
}

func TestInvoicePaymentSucceededRecordsPaymentFromMetadata(t *testing.T) {
	store := &memoryPaymentStore{}
	subs := &stubSubscriptions{}
	event := testEvent(t, "evt_2", stripe.EventTypeInvoicePaymentSucceeded, "", `{
		"id":"in_2","object":"invoice","subscription":"sub_1","customer":"cus_9",
		"amount_paid":1250,"currency":"USD",
		"subscription_details":{"metadata":{"orderId":"ord_1"}},
		"status_transitions":{"paid_at":1704067200}
	}`)

	cmd := NewInvoicePaymentSucceeded(event, Dependencies{
		Account:       domain.PaymentAccountMain,
		Payments:      store,
		Subscriptions: subs,
		Clock:         func() time.Time { return testNow },
	})
	if err := cmd.Execute(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if subs.calls != 0 {
		t.Fatalf("metadata on the invoice must avoid a subscription lookup")
	}
	record, ok := store.records["in_2"]
	if !ok {
		t.Fatalf("expected record keyed by invoice id, got %v", store.records)
	}
	if record.OrderID != "ord_1" || record.SubscriptionID != "sub_1" || record.CustomerID != "cus_9" {
		t.Fatalf("unexpected record %+v", record)
	}
	if record.AmountPaid != 1250 || record.Currency != "usd" {
		t.Fatalf("unexpected amount %+v", record)
	}
	if record.Account != domain.PaymentAccountMain || record.EventID != "evt_2" {
		t.Fatalf("unexpected provenance %+v", record)
	}
	if !record.PaidAt.Equal(time.Unix(1704067200, 0)) || !record.RecordedAt.Equal(testNow) {
		t.Fatalf("unexpected timestamps %+v", record)
	}
}

func TestInvoicePaymentSucceededFallsBackToSubscriptionLookup(t *testing.T) {
	store := &memoryPaymentStore{}
	subs := &stubSubscriptions{subs: map[string]payments.Subscription{
		"sub_2": {ID: "sub_2", Metadata: map[string]string{"order_id": "ord_7"}},
	}}
	event := testEvent(t, "evt_3", stripe.EventTypeInvoicePaymentSucceeded, "acct_42", `{"id":"in_3","object":"invoice","subscription":"sub_2","amount_paid":900,"currency":"eur"}`)

	cmd := NewInvoicePaymentSucceeded(event, Dependencies{
		Account:       domain.PaymentAccountConnected,
		Payments:      store,
		Subscriptions: subs,
	})
	if err := cmd.Execute(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if subs.calls != 1 || subs.lastAccount != "acct_42" {
		t.Fatalf("expected lookup on connected account, got calls=%d account=%q", subs.calls, subs.lastAccount)
	}
	record := store.records["in_3"]
	if record.OrderID != "ord_7" || record.StripeAccount != "acct_42" {
		t.Fatalf("unexpected record %+v", record)
	}
}

func TestInvoicePaymentSucceededMissingSubscriptionStillRecords(t *testing.T) {
	store := &memoryPaymentStore{}
	event := testEvent(t, "evt_4", stripe.EventTypeInvoicePaymentSucceeded, "", `{"id":"in_4","object":"invoice","subscription":"sub_gone","amount_paid":100,"currency":"usd"}`)

	cmd := NewInvoicePaymentSucceeded(event, Dependencies{Payments: store, Subscriptions: &stubSubscriptions{}})
	if err := cmd.Execute(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if record := store.records["in_4"]; record.OrderID != "" || record.SubscriptionID != "sub_gone" {
		t.Fatalf("unexpected record %+v", record)
	}
}

func TestInvoicePaymentSucceededPropagatesFailures(t *testing.T) {
	event := testEvent(t, "evt_5", stripe.EventTypeInvoicePaymentSucceeded, "", `{"id":"in_5","object":"invoice","subscription":"sub_1","amount_paid":100,"currency":"usd"}`)

	lookupErr := errors.New("stripe unavailable")
	cmd := NewInvoicePaymentSucceeded(event, Dependencies{
		Payments:      &memoryPaymentStore{},
		Subscriptions: &stubSubscriptions{err: lookupErr},
	})
	if err := cmd.Execute(context.Background()); !errors.Is(err, lookupErr) {
		t.Fatalf("expected lookup error, got %v", err)
	}

	storeErr := errors.New("firestore unavailable")
	cmd = NewInvoicePaymentSucceeded(event, Dependencies{
		Payments:      &memoryPaymentStore{err: storeErr},
		Subscriptions: &stubSubscriptions{subs: map[string]payments.Subscription{"sub_1": {ID: "sub_1"}}},
	})
	if err := cmd.Execute(context.Background()); !errors.Is(err, storeErr) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestInvoicePaymentSucceededRejectsMalformedObject(t *testing.T) {
	event := testEvent(t, "evt_6", stripe.EventTypeInvoicePaymentSucceeded, "", `{"id":"in_6","amount_paid":"lots"}`)
	cmd := NewInvoicePaymentSucceeded(event, Dependencies{Payments: &memoryPaymentStore{}})
	if err := cmd.Execute(context.Background()); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestInvoicePaymentSucceededNotifiesCustomerDevices(t *testing.T) {
	notifier := &recordingNotifier{}
	deps := Dependencies{
		Payments:      &memoryPaymentStore{},
		Subscriptions: &stubSubscriptions{},
		Orders: &stubOrders{orders: map[string]domain.Order{
			"ord_1": {ID: "ord_1", CustomerID: "user_1"},
		}},
		Users: &stubUsers{users: map[string]domain.User{
			"user_1": {ID: "user_1", DeviceTokens: []string{"token-a", "token-b"}},
		}},
		Notifier: notifier,
	}
	event := testEvent(t, "evt_7", stripe.EventTypeInvoicePaymentSucceeded, "", `{
		"id":"in_7","object":"invoice","subscription":"sub_1","amount_paid":1250,"currency":"usd",
		"subscription_details":{"metadata":{"orderId":"ord_1"}}
	}`)

	if err := NewInvoicePaymentSucceeded(event, deps).Execute(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(notifier.sent) != 2 || notifier.tokens[0] != "token-a" || notifier.tokens[1] != "token-b" {
		t.Fatalf("expected a notification per device, got %v", notifier.tokens)
	}
	n := notifier.sent[0]
	if n.Title != "Payment received" || !strings.HasSuffix(n.Body, "for your subscription") {
		t.Fatalf("unexpected notification %+v", n)
	}
	if n.Data["orderId"] != "ord_1" || n.Data["invoiceId"] != "in_7" {
		t.Fatalf("unexpected notification data %v", n.Data)
	}
}

func TestInvoicePaymentSucceededNotificationFailureIsNotFatal(t *testing.T) {
	store := &memoryPaymentStore{}
	deps := Dependencies{
		Payments:      store,
		Subscriptions: &stubSubscriptions{},
		Orders:        &stubOrders{orders: map[string]domain.Order{"ord_1": {ID: "ord_1", CustomerID: "user_1"}}},
		Users:         &stubUsers{users: map[string]domain.User{"user_1": {ID: "user_1", DeviceTokens: []string{"token-a"}}}},
		Notifier:      &recordingNotifier{err: errors.New("fcm down")},
	}
	event := testEvent(t, "evt_8", stripe.EventTypeInvoicePaymentSucceeded, "", `{
		"id":"in_8","object":"invoice","subscription":"sub_1","amount_paid":100,"currency":"usd",
		"subscription_details":{"metadata":{"orderId":"ord_1"}}
	}`)

	if err := NewInvoicePaymentSucceeded(event, deps).Execute(context.Background()); err != nil {
		t.Fatalf("notification failures must not fail the command: %v", err)
	}
	if _, ok := store.records["in_8"]; !ok {
		t.Fatalf("expected payment to be recorded")
	}
}

func TestAccountUpdatedStoresOnboardingState(t *testing.T) {
	cases := []struct {
		name     string
		object   string
		complete bool
		due      int
	}{
		{
			name:     "fully onboarded",
			object:   `{"id":"acct_1","object":"account","charges_enabled":true,"payouts_enabled":true,"requirements":{"currently_due":[]}}`,
			complete: true,
		},
		{
			name:   "requirements outstanding",
			object: `{"id":"acct_1","object":"account","charges_enabled":true,"payouts_enabled":false,"requirements":{"currently_due":["external_account"],"disabled_reason":"requirements.past_due"}}`,
			due:    1,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &memoryAccountStore{}
			event := testEvent(t, "evt_acct", stripe.EventTypeAccountUpdated, "acct_1", tc.object)
			cmd := NewAccountUpdated(event, Dependencies{Accounts: store, Clock: func() time.Time { return testNow }})
			if err := cmd.Execute(context.Background()); err != nil {
				t.Fatalf("execute: %v", err)
			}
			account, ok := store.accounts["acct_1"]
			if !ok {
				t.Fatalf("expected account snapshot, got %v", store.accounts)
			}
			if account.OnboardingComplete != tc.complete || len(account.RequirementsDue) != tc.due {
				t.Fatalf("unexpected snapshot %+v", account)
			}
			if !account.UpdatedAt.Equal(testNow) {
				t.Fatalf("unexpected updated at %v", account.UpdatedAt)
			}
		})
	}
}

func TestAccountUpdatedFallsBackToEventAccount(t *testing.T) {
	store := &memoryAccountStore{}
	event := testEvent(t, "evt_acct", stripe.EventTypeAccountUpdated, "acct_from_header", `{"object":"account","charges_enabled":false}`)
	if err := NewAccountUpdated(event, Dependencies{Accounts: store}).Execute(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if _, ok := store.accounts["acct_from_header"]; !ok {
		t.Fatalf("expected snapshot keyed by event account, got %v", store.accounts)
	}
}

func TestUnimplementedCommand(t *testing.T) {
	err := UnimplementedCommand{EventType: "charge.refunded"}.Execute(context.Background())
	if !errors.Is(err, ErrCommandNotImplemented) || !strings.Contains(err.Error(), "charge.refunded") {
		t.Fatalf("unexpected error %v", err)
	}
}
