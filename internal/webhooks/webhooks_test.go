package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	domain "github.com/subscription-ordering/api/internal/domain"
	"github.com/subscription-ordering/api/internal/payments"
	"github.com/subscription-ordering/api/internal/platform/messaging"
)

const testSecret = "whsec_test_secret"

var testNow = time.Date(2024, time.January, 3, 10, 30, 0, 0, time.UTC)

// signPayload builds a Stripe-Signature header for payload signed at the current time.
func signPayload(payload []byte, secret string) string {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func eventPayload(id, eventType, object string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"object":"event","api_version":"2020-08-27","type":%q,"data":{"object":%s}}`, id, eventType, object))
}

type memoryPaymentStore struct {
	mu      sync.Mutex
	records map[string]domain.PaymentRecord
	err     error
}

func (s *memoryPaymentStore) Upsert(_ context.Context, record domain.PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.records == nil {
		s.records = make(map[string]domain.PaymentRecord)
	}
	s.records[record.ID] = record
	return nil
}

type memoryAccountStore struct {
	accounts map[string]domain.ConnectedAccount
}

func (s *memoryAccountStore) Upsert(_ context.Context, account domain.ConnectedAccount) error {
	if s.accounts == nil {
		s.accounts = make(map[string]domain.ConnectedAccount)
	}
	s.accounts[account.ID] = account
	return nil
}

type stubSubscriptions struct {
	subs        map[string]payments.Subscription
	err         error
	lastAccount string
	calls       int
}

func (s *stubSubscriptions) Subscription(_ context.Context, id, account string) (payments.Subscription, error) {
	s.calls++
	s.lastAccount = account
	if s.err != nil {
		return payments.Subscription{}, s.err
	}
	sub, ok := s.subs[id]
	if !ok {
		return payments.Subscription{}, payments.ErrSubscriptionNotFound
	}
	return sub, nil
}

type stubOrders struct {
	orders map[string]domain.Order
}

func (s *stubOrders) FindByID(_ context.Context, id string) (domain.Order, error) {
	order, ok := s.orders[id]
	if !ok {
		return domain.Order{}, errors.New("order not found")
	}
	return order, nil
}

type stubUsers struct {
	users map[string]domain.User
}

func (s *stubUsers) FindByID(_ context.Context, id string) (domain.User, error) {
	user, ok := s.users[id]
	if !ok {
		return domain.User{}, errors.New("user not found")
	}
	return user, nil
}

type recordingNotifier struct {
	sent   []messaging.Notification
	tokens []string
	err    error
}

func (n *recordingNotifier) SendToDevice(_ context.Context, token string, notification messaging.Notification) (string, error) {
	if n.err != nil {
		return "", n.err
	}
	n.tokens = append(n.tokens, token)
	n.sent = append(n.sent, notification)
	return "msg-" + token, nil
}

type recordingArchive struct {
	objects map[string][]byte
	err     error
}

func (a *recordingArchive) Put(_ context.Context, object string, data []byte, _ string) error {
	if a.err != nil {
		return a.err
	}
	if a.objects == nil {
		a.objects = make(map[string][]byte)
	}
	a.objects[object] = append([]byte(nil), data...)
	return nil
}
