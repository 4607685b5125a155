package messaging

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	fcm "firebase.google.com/go/v4/messaging"
	"github.com/microcosm-cc/bluemonday"
	"google.golang.org/api/option"

	"github.com/subscription-ordering/api/internal/platform/config"
)

const (
	defaultSendTimeout = 10 * time.Second
	maxTitleLength     = 120
	maxBodyLength      = 512
)

// ErrInvalidNotification is returned when the message is missing a device token or content.
var ErrInvalidNotification = errors.New("messaging: invalid notification")

// Notification is a push message addressed to a single device.
type Notification struct {
	Title string
	Body  string
	Data  map[string]string
}

// Sender abstracts the Firebase Cloud Messaging client for testing.
type Sender interface {
	Send(ctx context.Context, message *fcm.Message) (string, error)
}

// FirebaseNotifier delivers push notifications through Firebase Cloud Messaging.
type FirebaseNotifier struct {
	sender  Sender
	policy  *bluemonday.Policy
	timeout time.Duration
}

// Option customises FirebaseNotifier instances.
type Option func(*FirebaseNotifier)

// WithSendTimeout overrides the timeout applied to each send.
func WithSendTimeout(d time.Duration) Option {
	return func(n *FirebaseNotifier) {
		if d > 0 {
			n.timeout = d
		}
	}
}

// NewFirebaseNotifier initialises the Firebase app and its messaging client.
func NewFirebaseNotifier(ctx context.Context, cfg config.FirebaseConfig, opts ...Option) (*FirebaseNotifier, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, errors.New("firebase project id is required")
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase messaging client: %w", err)
	}

	return NewNotifier(client, opts...), nil
}

// NewNotifier wraps an existing sender.
func NewNotifier(sender Sender, opts ...Option) *FirebaseNotifier {
	n := &FirebaseNotifier{
		sender:  sender,
		policy:  bluemonday.StrictPolicy(),
		timeout: defaultSendTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	return n
}

// SendToDevice sends the notification to one registration token and returns the FCM message id.
func (n *FirebaseNotifier) SendToDevice(ctx context.Context, token string, notification Notification) (string, error) {
	if n == nil || n.sender == nil {
		return "", errors.New("messaging: notifier not initialised")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("%w: device token is required", ErrInvalidNotification)
	}

	title := n.plainText(notification.Title, maxTitleLength)
	body := n.plainText(notification.Body, maxBodyLength)
	if title == "" && body == "" {
		return "", fmt.Errorf("%w: title or body is required", ErrInvalidNotification)
	}

	message := &fcm.Message{
		Token: token,
		Notification: &fcm.Notification{
			Title: title,
			Body:  body,
		},
	}
	if len(notification.Data) > 0 {
		message.Data = make(map[string]string, len(notification.Data))
		for k, v := range notification.Data {
			message.Data[k] = v
		}
	}

	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	id, err := n.sender.Send(ctx, message)
	if err != nil {
		return "", fmt.Errorf("messaging: send to device: %w", err)
	}
	return id, nil
}

// plainText strips markup and collapses whitespace; the strict policy escapes entities so they are decoded afterwards.
func (n *FirebaseNotifier) plainText(value string, limit int) string {
	cleaned := html.UnescapeString(n.policy.Sanitize(value))
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if limit > 0 && len([]rune(cleaned)) > limit {
		cleaned = string([]rune(cleaned)[:limit])
	}
	return cleaned
}
