// Package config assembles runtime settings from a .env file, the process
// environment and Secret Manager references.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultEnvironment          = "local"
	defaultWebhookTolerance     = 5 * time.Minute
	defaultJWTTTL               = 90 * 24 * time.Hour
	defaultGoogleJWKSURL        = "https://www.googleapis.com/oauth2/v3/certs"
	defaultScheduleTimezone     = "UTC"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 72 * time.Hour
	defaultIdempotencyInterval  = 10 * time.Minute
	defaultIdempotencyBatchSize = 200
)

type Config struct {
	Server      ServerConfig
	Environment string
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Stripe      StripeConfig
	Auth        AuthConfig
	Schedule    ScheduleConfig
	PubSub      PubSubConfig
	Storage     StorageConfig
	Idempotency IdempotencyConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig defaults ProjectID to the Firebase project.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StripeConfig holds the API key and one signing secret per webhook endpoint.
type StripeConfig struct {
	SecretKey              string
	MainAccountSecret      string
	ConnectedAccountSecret string
	WebhookTolerance       time.Duration
}

type AuthConfig struct {
	JWTSecret      string
	JWTTTL         time.Duration
	GoogleClientID string
	GoogleJWKSURL  string
}

// ScheduleConfig is the calendar delivery dates are computed in.
type ScheduleConfig struct {
	Timezone string
	Location *time.Location
}

// PubSubConfig: an empty topic disables order event publishing.
type PubSubConfig struct {
	OrderEventsTopic string
}

// StorageConfig: an empty bucket disables webhook archiving.
type StorageConfig struct {
	WebhookArchiveBucket string
}

type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// IsDevelopment gates exposing error details in responses.
func (c Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Load reads configuration with precedence WithEnvMap > process env > .env
// file, then resolves secret:// and sm:// references. Required secrets are
// checked before field validation so a missing secret is reported as such.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	o := newLoaderOptions(opts)
	src, err := o.source()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Environment: strings.ToLower(src.str(defaultEnvironment, "API_ENVIRONMENT", "NODE_ENV")),
		Server: ServerConfig{
			Port:         src.str(defaultPort, "API_SERVER_PORT", "PORT"),
			ReadTimeout:  src.duration("Server.ReadTimeout", defaultReadTimeout, "API_SERVER_READ_TIMEOUT"),
			WriteTimeout: src.duration("Server.WriteTimeout", defaultWriteTimeout, "API_SERVER_WRITE_TIMEOUT"),
			IdleTimeout:  src.duration("Server.IdleTimeout", defaultIdleTimeout, "API_SERVER_IDLE_TIMEOUT"),
		},
		Firebase: FirebaseConfig{
			ProjectID:       src.str("", "API_FIREBASE_PROJECT_ID"),
			CredentialsFile: src.str("", "API_FIREBASE_CREDENTIALS_FILE"),
		},
		Firestore: FirestoreConfig{
			ProjectID:    src.str("", "API_FIRESTORE_PROJECT_ID"),
			EmulatorHost: src.str("", "API_FIRESTORE_EMULATOR_HOST"),
		},
		Stripe: StripeConfig{
			SecretKey:              src.str("", "STRIPE_SECRET_KEY"),
			MainAccountSecret:      src.str("", "END_POINT_SECRET_MAIN_ACCOUNT"),
			ConnectedAccountSecret: src.str("", "END_POINT_SECRET_CONNECTED_ACCOUNT"),
			WebhookTolerance:       src.duration("Stripe.WebhookTolerance", defaultWebhookTolerance, "API_STRIPE_WEBHOOK_TOLERANCE"),
		},
		Auth: AuthConfig{
			JWTSecret:      src.str("", "JWT_SECRET"),
			JWTTTL:         src.ttl("Auth.JWTTTL", defaultJWTTTL, "JWT_EXPIRES_IN"),
			GoogleClientID: src.str("", "GOOGLE_CLIENT_ID"),
			GoogleJWKSURL:  src.str(defaultGoogleJWKSURL, "API_AUTH_GOOGLE_JWKS_URL"),
		},
		Schedule: ScheduleConfig{
			Timezone: src.str(defaultScheduleTimezone, "API_SCHEDULE_TIMEZONE"),
		},
		PubSub: PubSubConfig{
			OrderEventsTopic: src.str("", "API_PUBSUB_ORDER_EVENTS_TOPIC"),
		},
		Storage: StorageConfig{
			WebhookArchiveBucket: src.str("", "API_STORAGE_WEBHOOK_ARCHIVE_BUCKET"),
		},
		Idempotency: IdempotencyConfig{
			Header:           src.str(defaultIdempotencyHeader, "API_IDEMPOTENCY_HEADER"),
			TTL:              src.duration("Idempotency.TTL", defaultIdempotencyTTL, "API_IDEMPOTENCY_TTL"),
			CleanupInterval:  src.duration("Idempotency.CleanupInterval", defaultIdempotencyInterval, "API_IDEMPOTENCY_CLEANUP_INTERVAL"),
			CleanupBatchSize: src.integer("Idempotency.CleanupBatchSize", defaultIdempotencyBatchSize, "API_IDEMPOTENCY_CLEANUP_BATCH"),
		},
	}
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if loc, err := time.LoadLocation(cfg.Schedule.Timezone); err == nil {
		cfg.Schedule.Location = loc
	}

	secretFields := []struct {
		name  string
		value *string
	}{
		{"Stripe.SecretKey", &cfg.Stripe.SecretKey},
		{"Stripe.MainAccountSecret", &cfg.Stripe.MainAccountSecret},
		{"Stripe.ConnectedAccountSecret", &cfg.Stripe.ConnectedAccountSecret},
		{"Auth.JWTSecret", &cfg.Auth.JWTSecret},
	}
	present := make(map[string]bool, len(secretFields))
	for _, f := range secretFields {
		resolved, err := resolveSecret(ctx, *f.value, o.resolver)
		if err != nil {
			return Config{}, err
		}
		*f.value = resolved
		present[f.name] = strings.TrimSpace(resolved) != ""
	}

	if missing := missingSecrets(o.requiredSecrets, present); missing != nil {
		if o.panicOnMissing {
			fmt.Fprintf(os.Stderr, "config: %v\n", missing)
			panic(missing)
		}
		return Config{}, missing
	}

	if invalid := validate(cfg, src.invalid); len(invalid) > 0 {
		return Config{}, &ValidationError{fields: invalid}
	}
	return cfg, nil
}

func validate(cfg Config, invalid []string) []string {
	checks := []struct {
		field string
		ok    bool
	}{
		{"Server.Port", cfg.Server.Port != ""},
		{"Firebase.ProjectID", cfg.Firebase.ProjectID != ""},
		{"Firestore.ProjectID", cfg.Firestore.ProjectID != ""},
		{"Stripe.MainAccountSecret", strings.TrimSpace(cfg.Stripe.MainAccountSecret) != ""},
		{"Stripe.ConnectedAccountSecret", strings.TrimSpace(cfg.Stripe.ConnectedAccountSecret) != ""},
		{"Stripe.WebhookTolerance", cfg.Stripe.WebhookTolerance > 0},
		{"Auth.JWTSecret", strings.TrimSpace(cfg.Auth.JWTSecret) != ""},
		{"Auth.JWTTTL", cfg.Auth.JWTTTL > 0},
		{"Schedule.Timezone", cfg.Schedule.Location != nil},
		{"Idempotency.Header", strings.TrimSpace(cfg.Idempotency.Header) != ""},
		{"Idempotency.TTL", cfg.Idempotency.TTL > 0},
		{"Idempotency.CleanupInterval", cfg.Idempotency.CleanupInterval > 0},
		{"Idempotency.CleanupBatchSize", cfg.Idempotency.CleanupBatchSize > 0},
	}
	seen := make(map[string]bool, len(invalid))
	out := append([]string(nil), invalid...)
	for _, field := range invalid {
		seen[field] = true
	}
	for _, c := range checks {
		if !c.ok && !seen[c.field] {
			out = append(out, c.field)
		}
	}
	return out
}
