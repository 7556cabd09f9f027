package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/joho/godotenv/autoload"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"reconciler/internal/app/orderstatus"
	"reconciler/internal/app/reconcile"
	"reconciler/internal/app/recovery"
	"reconciler/internal/app/verification"
	"reconciler/internal/config"
	payments_http "reconciler/internal/handler/http/payments"
	kafka_handler "reconciler/internal/handler/kafka"
	"reconciler/internal/infrastructure/database"
	"reconciler/internal/infrastructure/functions"
	kafka_infra "reconciler/internal/infrastructure/kafka"
	"reconciler/internal/kvstore"
	"reconciler/internal/outbox"
	"reconciler/internal/repository/inbox_repo"
	"reconciler/internal/repository/orders_repo"
	"reconciler/internal/repository/outbox_repo"
	"reconciler/internal/repository/transactions_repo"
	"reconciler/internal/retry"
)

const inboxRedeliveryBatch = 20

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapConfig.EncoderConfig.TimeKey = "timestamp"

	appLogger, err := zapConfig.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create zap logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()
	appLogger.Info("Reconciler service starting...")

	appLogger.Info("Waiting for database to be available...")
	dbConfig := database.DBConfig{
		Host:     cfg.DBConfig.Host,
		Port:     cfg.DBConfig.Port,
		User:     cfg.DBConfig.User,
		Password: cfg.DBConfig.Password,
		DBName:   cfg.DBConfig.Name,
		SSLMode:  cfg.DBConfig.SSLMode,
	}

	var db *sql.DB
	maxRetries := 10
	retryDelay := 5 * time.Second

	for i := 0; i < maxRetries; i++ {
		db, err = database.NewPostgresDB(dbConfig)
		if err == nil {
			appLogger.Info("Connected to PostgreSQL")
			break
		}
		appLogger.Warn("Failed to connect to database, retrying",
			zap.Int("attempt", i+1), zap.Int("max_attempts", maxRetries), zap.Duration("delay", retryDelay), zap.Error(err))
		time.Sleep(retryDelay)
	}
	if db == nil {
		appLogger.Fatal("Could not connect to database after multiple retries", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			appLogger.Error("Error closing database connection", zap.Error(err))
		}
	}()

	appLogger.Info("Running database migrations...", zap.String("source", cfg.MigrationsPath))
	m, err := migrate.New(cfg.MigrationsPath, cfg.GetDBMigrationConnectionString())
	if err != nil {
		appLogger.Fatal("Failed to create migrate instance", zap.Error(err))
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		appLogger.Fatal("Failed to run database migrations", zap.Error(err))
	}
	appLogger.Info("Database migrations completed")

	kafkaBrokers := cfg.GetKafkaBrokers()
	topicsCtx, cancelTopics := context.WithTimeout(context.Background(), 10*time.Second)
	err = kafka_infra.EnsureTopics(topicsCtx, kafkaBrokers,
		[]string{cfg.KafkaPaymentEventsTopic, cfg.KafkaNotificationsTopic},
		appLogger.With(zap.String("component", "kafka_admin")))
	cancelTopics()
	if err != nil {
		appLogger.Fatal("Failed to ensure Kafka topics", zap.Error(err))
	}

	ctxMain, cancelMain := context.WithCancel(context.Background())
	defer cancelMain()

	store, closeStore := buildStore(ctxMain, cfg, appLogger)
	defer closeStore()
	go store.RunJanitor(ctxMain, cfg.JanitorInterval)

	policy := retry.Policy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
		Jitter:      cfg.RetryBaseDelay / 2,
	}

	transactionRepository := transactions_repo.NewTransactionRepository(db)
	orderRepository := orders_repo.NewOrderRepository(db)
	inboxRepository := inbox_repo.NewInboxRepository()
	outboxRepository := outbox_repo.NewOutboxRepository()

	functionsClient := functions.NewClient(cfg.FunctionsBaseURL, cfg.FunctionsAPIKey, cfg.FunctionsTimeout,
		appLogger.With(zap.String("component", "functions_client")))
	recoveryEngine := recovery.NewEngine(transactionRepository, orderRepository, policy, appLogger)
	orchestrator := verification.NewOrchestrator(functionsClient, recoveryEngine, cfg.VerifyDeadline, policy, appLogger)
	mutator := orderstatus.NewMutator(orderRepository, policy, orderstatus.DefaultMaxRetryAfter, appLogger)

	reconcileService := reconcile.NewService(
		reconcile.NewSQLTxBeginner(db),
		store,
		orchestrator,
		recoveryEngine,
		mutator,
		inboxRepository,
		appLogger,
	)
	appLogger.Info("Reconcile service initialized")

	limiter := payments_http.NewSessionLimiter(cfg.SessionRateRPS, cfg.SessionRateBurst,
		appLogger.With(zap.String("component", "rate_limiter")))
	go limiter.RunCleanup(ctxMain, 5*time.Minute, 30*time.Minute)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	payments_http.RegisterRoutes(router, reconcileService, limiter, appLogger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	kafkaProducer := kafka_infra.NewProducer(kafkaBrokers, appLogger.With(zap.String("component", "kafka_producer")))
	defer func() {
		if err := kafkaProducer.Close(); err != nil {
			appLogger.Error("Error closing Kafka producer", zap.Error(err))
		}
	}()

	outboxProcessor := outbox.NewProcessor(
		db,
		outboxRepository,
		kafkaProducer,
		cfg.KafkaNotificationsTopic,
		cfg.OutboxPollInterval,
		cfg.OutboxPollTimeout,
		appLogger.With(zap.String("component", "outbox_processor")),
	)

	paymentEventsConsumer := kafka_infra.NewConsumer(
		kafkaBrokers,
		cfg.KafkaConsumerGroup,
		cfg.KafkaPaymentEventsTopic,
		policy,
		appLogger.With(zap.String("component", "payment_events_consumer")),
	)
	paymentEventHandler := kafka_handler.PaymentEventMessageHandler(
		reconcileService,
		appLogger.With(zap.String("component", "payment_event_handler")),
	)

	go func() {
		appLogger.Info("Starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	outboxDone := make(chan struct{})
	go func() {
		defer close(outboxDone)
		outboxProcessor.Start(ctxMain)
	}()

	go reconcile.RunRedelivery(ctxMain, reconcileService, cfg.InboxRedeliveryInterval, cfg.InboxMaxAttempts,
		inboxRedeliveryBatch, appLogger.With(zap.String("component", "inbox_redelivery")))

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := paymentEventsConsumer.Start(ctxMain, paymentEventHandler); err != nil {
			appLogger.Error("Payment events consumer failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	appLogger.Info("Shutting down application...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("HTTP server graceful shutdown failed", zap.Error(err))
	}

	cancelMain()
	paymentEventsConsumer.Stop()
	outboxProcessor.Stop()

	for name, done := range map[string]chan struct{}{"payment events consumer": consumerDone, "outbox processor": outboxDone} {
		select {
		case <-done:
		case <-shutdownCtx.Done():
			appLogger.Warn("Component did not stop in time", zap.String("component", name))
		}
	}

	appLogger.Info("Application gracefully shut down")
}

// buildStore assembles the session store tiers in priority order. A tier that
// cannot be initialised is skipped; the memory tier is always present.
func buildStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*kvstore.Store, func()) {
	storeLogger := logger.With(zap.String("component", "kvstore"))
	var (
		providers []kvstore.Provider
		closers   []func() error
	)

	ddb, err := database.NewDynamoDBClient(ctx, database.DynamoDBConfig{
		Region:          cfg.AWSRegion,
		Endpoint:        cfg.DynamoEndpoint,
		AccessKeyID:     cfg.AWSAccessKey,
		SecretAccessKey: cfg.AWSSecretKey,
	})
	if err != nil {
		storeLogger.Warn("DynamoDB session tier disabled", zap.Error(err))
	} else {
		if cfg.DynamoEndpoint != "" {
			if err := database.EnsureSessionTable(ctx, ddb, cfg.SessionTable); err != nil {
				storeLogger.Warn("Failed to ensure session table", zap.String("table", cfg.SessionTable), zap.Error(err))
			}
		}
		providers = append(providers, kvstore.NewDynamoDBProvider(ddb, cfg.SessionTable, cfg.SessionTTL))
	}

	sqliteProvider, err := kvstore.NewSQLiteProvider(cfg.SQLitePath, cfg.SessionTTL)
	if err != nil {
		storeLogger.Warn("SQLite session tier disabled", zap.String("path", cfg.SQLitePath), zap.Error(err))
	} else {
		providers = append(providers, sqliteProvider)
		closers = append(closers, sqliteProvider.Close)
	}

	providers = append(providers, kvstore.NewMemoryProvider(cfg.SessionTTL))

	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = p.Name()
	}
	storeLogger.Info("Session store tiers ready", zap.Strings("tiers", names))

	return kvstore.New(storeLogger, providers...), func() {
		for _, c := range closers {
			if err := c(); err != nil {
				storeLogger.Error("Error closing session tier", zap.Error(err))
			}
		}
	}
}
