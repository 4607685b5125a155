package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	domain "github.com/subscription-ordering/api/internal/domain"
	"github.com/subscription-ordering/api/internal/handlers"
	"github.com/subscription-ordering/api/internal/payments"
	"github.com/subscription-ordering/api/internal/platform/auth"
	"github.com/subscription-ordering/api/internal/platform/config"
	pfirestore "github.com/subscription-ordering/api/internal/platform/firestore"
	"github.com/subscription-ordering/api/internal/platform/httpx"
	"github.com/subscription-ordering/api/internal/platform/idempotency"
	"github.com/subscription-ordering/api/internal/platform/jobs"
	"github.com/subscription-ordering/api/internal/platform/messaging"
	"github.com/subscription-ordering/api/internal/platform/observability"
	"github.com/subscription-ordering/api/internal/platform/secrets"
	platformstorage "github.com/subscription-ordering/api/internal/platform/storage"
	"github.com/subscription-ordering/api/internal/repositories"
	firestoreRepo "github.com/subscription-ordering/api/internal/repositories/firestore"
	"github.com/subscription-ordering/api/internal/services"
	"github.com/subscription-ordering/api/internal/webhooks"
)

var requiredSecrets = []string{
	"Stripe.SecretKey",
	"Stripe.MainAccountSecret",
	"Stripe.ConnectedAccountSecret",
	"Auth.JWTSecret",
}

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets(requiredSecrets...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	httpx.ExposeErrorDetails(cfg.IsDevelopment())
	logger.Info("configuration loaded",
		zap.String("environment", cfg.Environment),
		zap.String("secrets_mode", fetcher.Mode()),
		zap.String("schedule_timezone", cfg.Schedule.Location.String()),
	)

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	userRepo, err := firestoreRepo.NewUserRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise user repository", zap.Error(err))
	}
	productRepo, err := firestoreRepo.NewProductRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise product repository", zap.Error(err))
	}
	orderRepo, err := firestoreRepo.NewOrderRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise order repository", zap.Error(err))
	}
	paymentRepo, err := firestoreRepo.NewPaymentRecordRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise payment record repository", zap.Error(err))
	}
	accountRepo, err := firestoreRepo.NewConnectedAccountRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise connected account repository", zap.Error(err))
	}

	paymentsLogger := logger.Named("payments")
	stripeClient, err := payments.NewStripeClient(payments.StripeConfig{
		APIKey: cfg.Stripe.SecretKey,
		Logger: zapHook(paymentsLogger, "stripe log"),
		Clock:  time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise stripe client", zap.Error(err))
	}

	notifier, err := messaging.NewFirebaseNotifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase messaging", zap.Error(err))
	}

	var (
		orderEvents services.OrderEventPublisher = jobs.NoopOrderEventPublisher{}
		eventTopic  *pubsub.Topic
	)
	if topicName := strings.TrimSpace(cfg.PubSub.OrderEventsTopic); topicName != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.Firebase.ProjectID, clientOptions(cfg)...)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer pubsubClient.Close()
		eventTopic = pubsubClient.Topic(topicName)
		defer eventTopic.Stop()
		publisher, err := jobs.NewPubSubOrderEventPublisher(eventTopic)
		if err != nil {
			logger.Fatal("failed to initialise order event publisher", zap.Error(err))
		}
		orderEvents = publisher
	}

	var (
		archive       webhooks.EventArchive
		archiveBucket *cloudstorage.BucketHandle
	)
	if bucket := strings.TrimSpace(cfg.Storage.WebhookArchiveBucket); bucket != "" {
		storageClient, err := cloudstorage.NewClient(ctx, clientOptions(cfg)...)
		if err != nil {
			logger.Fatal("failed to initialise storage client", zap.Error(err))
		}
		defer func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("storage close error", zap.Error(err))
			}
		}()
		gcsArchive, err := platformstorage.NewArchive(storageClient, bucket)
		if err != nil {
			logger.Fatal("failed to initialise webhook archive", zap.Error(err))
		}
		archive = gcsArchive
		archiveBucket = storageClient.Bucket(bucket)
	}

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:   orderRepo,
		Users:    userRepo,
		Products: productRepo,
		Events:   orderEvents,
		Location: cfg.Schedule.Location,
		Clock:    time.Now,
		Logger:   zapHook(logger.Named("orders"), "order log"),
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	systemService, err := newSystemService(firestoreClient, eventTopic, archiveBucket, buildInfo)
	if err != nil {
		logger.Warn("health: system service init failed", zap.Error(err))
	}

	authLogger := observability.NewPrintfAdapter(logger.Named("auth"))
	sessions, err := auth.NewSessionTokens(cfg.Auth.JWTSecret, auth.WithSessionTTL(cfg.Auth.JWTTTL))
	if err != nil {
		logger.Fatal("failed to initialise session tokens", zap.Error(err))
	}
	authOpts := []auth.Option{auth.WithAuthLogger(authLogger)}
	if clientID := strings.TrimSpace(cfg.Auth.GoogleClientID); clientID != "" {
		jwks := auth.NewJWKSCache(cfg.Auth.GoogleJWKSURL, auth.WithJWKSLogger(authLogger))
		authOpts = append(authOpts, auth.WithGoogleVerifier(
			auth.NewGoogleIDTokenVerifier(jwks, clientID, auth.WithGoogleLogger(authLogger)),
		))
	}
	authenticator := auth.NewAuthenticator(sessions, userPrincipals{users: userRepo}, authOpts...)

	webhookLogger := logger.Named("webhooks")
	baseDeps := webhooks.Dependencies{
		Subscriptions: stripeClient,
		Payments:      paymentRepo,
		Accounts:      accountRepo,
		Orders:        orderRepo,
		Users:         userRepo,
		Notifier:      notifier,
		Clock:         time.Now,
	}
	endpoints := []struct {
		name     string
		secret   string
		registry *webhooks.Registry
		account  domain.PaymentAccount
	}{
		{"main-account", cfg.Stripe.MainAccountSecret, webhooks.MainAccountRegistry(), domain.PaymentAccountMain},
		{"connected-account", cfg.Stripe.ConnectedAccountSecret, webhooks.ConnectedAccountRegistry(), domain.PaymentAccountConnected},
	}
	dispatchers := make([]handlers.WebhookDispatcher, 0, len(endpoints))
	for _, endpoint := range endpoints {
		deps := baseDeps
		deps.Account = endpoint.account
		deps.Logger = webhookLogger.With(zap.String("endpoint", endpoint.name))
		dispatcher, err := webhooks.NewDispatcher(webhooks.DispatcherConfig{
			Name:         endpoint.name,
			Secret:       endpoint.secret,
			Registry:     endpoint.registry,
			Dependencies: deps,
			Dedupe:       idempotencyStore,
			DedupeTTL:    cfg.Idempotency.TTL,
			Archive:      archive,
			Clock:        time.Now,
			Tolerance:    cfg.Stripe.WebhookTolerance,
			Logger:       deps.Logger,
		})
		if err != nil {
			logger.Fatal("failed to initialise webhook dispatcher", zap.String("endpoint", endpoint.name), zap.Error(err))
		}
		webhookLogger.Info("webhook endpoint registered",
			zap.String("endpoint", endpoint.name),
			zap.Strings("event_types", endpoint.registry.Types()),
		)
		dispatchers = append(dispatchers, dispatcher)
	}

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	cleanupTicker := time.NewTicker(cfg.Idempotency.CleanupInterval)
	cleanupWG.Add(1)
	go func() {
		defer cleanupWG.Done()
		cleanupLogger := logger.Named("idempotency")
		for {
			select {
			case <-cleanupTicker.C:
				runCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
				removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
				cancel()
				if err != nil {
					cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
					continue
				}
				if removed > 0 {
					cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
				}
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	orderHandlers := handlers.NewOrderHandlers(authenticator, orderService,
		handlers.WithOrderMiddlewares(idempotency.Middleware(
			idempotencyStore,
			idempotency.WithHeader(cfg.Idempotency.Header),
			idempotency.WithTTL(cfg.Idempotency.TTL),
			idempotency.WithOptionalKey(),
			idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
		)),
	)
	webhookHandlers := handlers.NewWebhookHandlers(dispatchers...)

	projectID := traceProjectID(cfg)

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(systemService),
	)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(observability.Middleware(logger.Named("http"), projectID)),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithAuthRoutes(handlers.NewAuthHandlers(authenticator).Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
	)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("subscription-ordering api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupTicker.Stop()
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: cfg.Environment,
		StartedAt:   started,
	}
}

func newSystemService(client *firestore.Client, topic *pubsub.Topic, bucket *cloudstorage.BucketHandle, build services.BuildInfo) (services.SystemService, error) {
	checks := make([]repositories.DependencyCheck, 0, 3)
	if client != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:     "firestore",
			Critical: true,
			Timeout:  1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				_, err := client.Collections(ctx).Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		})
	}
	if topic != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name: "pubsub",
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %s does not exist", topic.ID())
				}
				return nil
			},
		})
	}
	if bucket != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name: "webhookArchive",
			Check: func(ctx context.Context) error {
				_, err := bucket.Attrs(ctx)
				return err
			},
		})
	}
	if len(checks) == 0 {
		return nil, errors.New("health: no dependency checks configured")
	}
	repo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}
	return services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: repo,
		Clock:            time.Now,
		Build:            build,
		CacheFor:         2 * time.Second,
	})
}

// userPrincipals adapts the user repository to the authenticator's lookup contract.
type userPrincipals struct {
	users repositories.UserRepository
}

func (p userPrincipals) UserByID(ctx context.Context, id string) (auth.Principal, error) {
	user, err := p.users.FindByID(ctx, id)
	return principalFrom(user, err)
}

func (p userPrincipals) UserByEmail(ctx context.Context, email string) (auth.Principal, error) {
	user, err := p.users.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	return principalFrom(user, err)
}

func principalFrom(user domain.User, err error) (auth.Principal, error) {
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return auth.Principal{}, auth.ErrUserNotFound
		}
		return auth.Principal{}, err
	}
	return auth.Principal{
		ID:     user.ID,
		Email:  user.Email,
		Role:   string(user.Role),
		Active: user.Active(),
	}, nil
}

// zapHook turns the func(ctx, event, fields) logging hooks used by services into zap debug lines.
func zapHook(logger *zap.Logger, msg string) func(context.Context, string, map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Debug(msg, zFields...)
	}
}

func clientOptions(cfg config.Config) []option.ClientOption {
	if file := strings.TrimSpace(cfg.Firebase.CredentialsFile); file != "" {
		return []option.ClientOption{option.WithCredentialsFile(file)}
	}
	return nil
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("API_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = strings.ToLower(lookup("NODE_ENV"))
	}
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
		secrets.WithDefaultProject(defaultProject),
		secrets.WithProjectMap(parsePairs(lookup("API_SECRET_PROJECT_IDS"), strings.ToLower)),
		secrets.WithVersionPins(parsePairs(lookup("API_SECRET_VERSION_PINS"), normalizePinKey)),
	}
	if ttl := lookup("API_SECRET_CACHE_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil {
			opts = append(opts, secrets.WithCacheTTL(d))
		}
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// parsePairs reads "k=v,k2=v2" lists. Keys are passed through normalize.
func parsePairs(raw string, normalize func(string) string) map[string]string {
	out := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			continue
		}
		key = normalize(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	return out
}

// normalizePinKey accepts "[env:]name", "[env:]sm://name" or "[env:]secret://name".
func normalizePinKey(key string) string {
	var prefix string
	if idx := strings.Index(key, ":"); idx > 0 && !strings.HasPrefix(key[idx:], "://") {
		prefix = strings.ToLower(key[:idx]) + ":"
		key = key[idx+1:]
	}
	switch {
	case strings.HasPrefix(key, "sm://"):
		key = "secret://" + strings.TrimPrefix(key, "sm://")
	case !strings.HasPrefix(key, "secret://"):
		key = "secret://" + key
	}
	return prefix + key
}
