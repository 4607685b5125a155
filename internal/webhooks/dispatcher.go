package webhooks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/subscription-ordering/api/internal/platform/idempotency"
	"github.com/subscription-ordering/api/internal/platform/storage"
)

const (
	metricNamespace  = "github.com/subscription-ordering/api/internal/webhooks"
	defaultTolerance = webhook.DefaultTolerance
	defaultDedupeTTL = 72 * time.Hour
	defaultLease     = 10 * time.Minute
	errorBodyPrefix  = "Webhook Error: "
)

// Outcome classifies how a delivery was handled.
type Outcome string

const (
	// OutcomeRejected marks deliveries that failed verification or reused an event id.
	OutcomeRejected Outcome = "rejected"
	// OutcomeIgnored marks verified events whose type has no registered command.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeDuplicate marks redeliveries of an event that already completed.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeInProgress marks redeliveries that arrive while the first attempt still holds the lease.
	OutcomeInProgress Outcome = "in_progress"
	// OutcomeHandled marks events whose command completed.
	OutcomeHandled Outcome = "handled"
	// OutcomeFailed marks events whose command returned an error or panicked.
	OutcomeFailed Outcome = "failed"
)

// Result is the plain-text HTTP answer for a delivery.
type Result struct {
	Status    int
	Body      string
	EventID   string
	EventType string
	Outcome   Outcome
}

// EventArchive stores verified payloads for later inspection.
type EventArchive interface {
	Put(ctx context.Context, object string, data []byte, contentType string) error
}

// DispatcherConfig configures one webhook endpoint.
type DispatcherConfig struct {
	Name         string
	Secret       string
	Registry     *Registry
	Dependencies Dependencies
	Dedupe       idempotency.Store
	DedupeTTL    time.Duration
	// PendingLease bounds how long an unfinished delivery blocks retries of the same event.
	PendingLease time.Duration
	Archive      EventArchive
	Clock        func() time.Time
	Tolerance    time.Duration
	Logger       *zap.Logger
	Meter        metric.Meter
}

// Dispatcher verifies, routes and executes deliveries for one endpoint.
type Dispatcher struct {
	name      string
	secret    string
	registry  *Registry
	deps      Dependencies
	dedupe    idempotency.Store
	dedupeTTL time.Duration
	lease     time.Duration
	archive   EventArchive
	clock     func() time.Time
	tolerance time.Duration
	logger    *zap.Logger
	events    metric.Int64Counter
}

// NewDispatcher validates the configuration and builds a dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return nil, errors.New("webhooks: dispatcher name is required")
	}
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, fmt.Errorf("webhooks: signing secret for %s is required", name)
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("webhooks: registry for %s is required", name)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("endpoint", name))

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = defaultTolerance
	}
	ttl := cfg.DedupeTTL
	if ttl <= 0 {
		ttl = defaultDedupeTTL
	}
	lease := cfg.PendingLease
	if lease <= 0 || lease > ttl {
		lease = min(defaultLease, ttl)
	}

	deps := cfg.Dependencies
	if deps.Logger == nil {
		deps.Logger = logger
	}
	if deps.Clock == nil {
		deps.Clock = clock
	}

	meter := cfg.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(metricNamespace)
	}
	events, err := meter.Int64Counter(
		"webhooks.events",
		metric.WithDescription("Count of webhook deliveries by endpoint, type and outcome"),
	)
	if err != nil {
		logger.Warn("webhooks: unable to register event counter", zap.Error(err))
		events = nil
	}

	return &Dispatcher{
		name:      name,
		secret:    cfg.Secret,
		registry:  cfg.Registry,
		deps:      deps,
		dedupe:    cfg.Dedupe,
		dedupeTTL: ttl,
		lease:     lease,
		archive:   cfg.Archive,
		clock:     clock,
		tolerance: tolerance,
		logger:    logger,
		events:    events,
	}, nil
}

// Name returns the endpoint name.
func (d *Dispatcher) Name() string {
	return d.name
}

// Dispatch handles a raw delivery: payload is the unmodified request body.
func (d *Dispatcher) Dispatch(ctx context.Context, payload []byte, signature string) Result {
	event, err := webhook.ConstructEventWithOptions(payload, signature, d.secret, webhook.ConstructEventOptions{
		Tolerance:                d.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		d.logger.Warn("webhook signature verification failed", zap.Error(err))
		return d.finish(ctx, Result{
			Status:  http.StatusBadRequest,
			Body:    errorBodyPrefix + err.Error(),
			Outcome: OutcomeRejected,
		})
	}

	result := Result{EventID: event.ID, EventType: string(event.Type)}
	logger := d.logger.With(zap.String("event_id", event.ID), zap.String("event_type", string(event.Type)))

	d.archivePayload(ctx, event, payload, logger)

	factory, ok := d.registry.Lookup(event.Type)
	if !ok {
		logger.Debug("unhandled webhook event type")
		result.Status = http.StatusOK
		result.Outcome = OutcomeIgnored
		return d.finish(ctx, result)
	}

	key, fingerprint := d.dedupeKey(event)
	reserved := false
	if d.dedupe != nil && event.ID != "" {
		reservation, err := d.dedupe.Reserve(ctx, key, fingerprint, d.clock().UTC(), d.lease)
		switch {
		case errors.Is(err, idempotency.ErrFingerprintMismatch):
			logger.Warn("webhook event id reused for a different event type")
			result.Status = http.StatusConflict
			result.Body = fmt.Sprintf("%sevent %s conflicts with a previous delivery", errorBodyPrefix, event.ID)
			result.Outcome = OutcomeRejected
			return d.finish(ctx, result)
		case err != nil:
			logger.Warn("webhook dedupe reservation failed; executing without dedupe", zap.Error(err))
		case reservation.State == idempotency.ReservationStateCompleted:
			logger.Info("duplicate webhook delivery acknowledged")
			result.Status = http.StatusOK
			result.Outcome = OutcomeDuplicate
			return d.finish(ctx, result)
		case reservation.State == idempotency.ReservationStatePending:
			result.Status = http.StatusConflict
			result.Body = fmt.Sprintf("%sevent %s is already being processed", errorBodyPrefix, event.ID)
			result.Outcome = OutcomeInProgress
			return d.finish(ctx, result)
		default:
			reserved = true
		}
	}

	cmd := factory(event, d.deps)
	if cmd == nil {
		cmd = UnimplementedCommand{EventType: event.Type}
	}
	if err := execute(ctx, cmd); err != nil {
		logger.Error("webhook command failed", zap.Error(err))
		if reserved {
			if releaseErr := d.dedupe.Release(ctx, key, fingerprint); releaseErr != nil {
				logger.Warn("webhook dedupe release failed", zap.Error(releaseErr))
			}
		}
		result.Status = http.StatusInternalServerError
		result.Body = errorBodyPrefix + err.Error()
		result.Outcome = OutcomeFailed
		return d.finish(ctx, result)
	}

	if reserved {
		resp := idempotency.Response{Status: http.StatusOK}
		if err := d.dedupe.SaveResponse(ctx, key, fingerprint, resp, d.clock().UTC(), d.dedupeTTL); err != nil {
			logger.Warn("webhook dedupe save failed", zap.Error(err))
		}
	}

	result.Status = http.StatusOK
	result.Outcome = OutcomeHandled
	return d.finish(ctx, result)
}

// execute runs cmd and turns a panic into an error so the failure path still
// releases the reservation and answers with a plain-text 500.
func execute(ctx context.Context, cmd Command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return cmd.Execute(ctx)
}

func (d *Dispatcher) dedupeKey(event stripe.Event) (string, string) {
	return "webhook:" + d.name + ":" + event.ID, d.name + "|" + string(event.Type)
}

func (d *Dispatcher) archivePayload(ctx context.Context, event stripe.Event, payload []byte, logger *zap.Logger) {
	if d.archive == nil || event.ID == "" {
		return
	}
	object, err := storage.WebhookPayloadPath(d.name, event.ID, d.clock())
	if err != nil {
		logger.Warn("webhook archive path invalid", zap.Error(err))
		return
	}
	if err := d.archive.Put(ctx, object, payload, "application/json"); err != nil {
		logger.Warn("webhook archive write failed", zap.String("object", object), zap.Error(err))
	}
}

func (d *Dispatcher) finish(ctx context.Context, result Result) Result {
	if d.events != nil {
		eventType := result.EventType
		if eventType == "" {
			eventType = "unknown"
		}
		d.events.Add(ctx, 1, metric.WithAttributes(
			attribute.String("endpoint", d.name),
			attribute.String("type", eventType),
			attribute.String("outcome", string(result.Outcome)),
		))
	}
	return result
}
