package messaging

import (
	"context"
	"errors"
	"strings"
	"testing"

	fcm "firebase.google.com/go/v4/messaging"
)

type stubSender struct {
	sent []*fcm.Message
	err  error
}

func (s *stubSender) Send(_ context.Context, message *fcm.Message) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.sent = append(s.sent, message)
	return "projects/test/messages/1", nil
}

func TestSendToDeviceSanitisesContent(t *testing.T) {
	sender := &stubSender{}
	notifier := NewNotifier(sender)

	id, err := notifier.SendToDevice(context.Background(), " token-1 ", Notification{
		Title: "<b>Payment</b> received",
		Body:  "Tom &amp; Jerry <script>alert(1)</script> paid",
		Data:  map[string]string{"orderId": "ord_1"},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id != "projects/test/messages/1" {
		t.Fatalf("unexpected id %q", id)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(sender.sent))
	}
	msg := sender.sent[0]
	if msg.Token != "token-1" {
		t.Fatalf("expected trimmed token, got %q", msg.Token)
	}
	if msg.Notification.Title != "Payment received" {
		t.Fatalf("unexpected title %q", msg.Notification.Title)
	}
	if strings.Contains(msg.Notification.Body, "<") || !strings.Contains(msg.Notification.Body, "Tom & Jerry") {
		t.Fatalf("unexpected body %q", msg.Notification.Body)
	}
	if msg.Data["orderId"] != "ord_1" {
		t.Fatalf("expected data to be forwarded, got %v", msg.Data)
	}
}

func TestSendToDeviceValidation(t *testing.T) {
	notifier := NewNotifier(&stubSender{})
	if _, err := notifier.SendToDevice(context.Background(), "", Notification{Title: "hi"}); !errors.Is(err, ErrInvalidNotification) {
		t.Fatalf("expected invalid notification for missing token, got %v", err)
	}
	if _, err := notifier.SendToDevice(context.Background(), "token", Notification{Title: "<p></p>"}); !errors.Is(err, ErrInvalidNotification) {
		t.Fatalf("expected invalid notification for empty content, got %v", err)
	}
}

func TestSendToDeviceWrapsSenderError(t *testing.T) {
	boom := errors.New("unavailable")
	notifier := NewNotifier(&stubSender{err: boom})
	if _, err := notifier.SendToDevice(context.Background(), "token", Notification{Title: "hi"}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped sender error, got %v", err)
	}
}

func TestFormatAmount(t *testing.T) {
	usd := FormatAmount(1250, "usd")
	if !strings.Contains(usd, "12.50") || !strings.Contains(usd, "$") {
		t.Fatalf("unexpected usd format %q", usd)
	}
	jpy := FormatAmount(1200, "JPY")
	if !strings.Contains(jpy, "1,200") {
		t.Fatalf("unexpected jpy format %q", jpy)
	}
	if got := FormatAmount(42, "???"); got != "42 ???" {
		t.Fatalf("unexpected fallback %q", got)
	}
}
