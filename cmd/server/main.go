package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-engine/internal/cache"
	"github.com/smarttransit/booking-engine/internal/config"
	"github.com/smarttransit/booking-engine/internal/database"
	"github.com/smarttransit/booking-engine/internal/database/memory"
	"github.com/smarttransit/booking-engine/internal/gateway"
	"github.com/smarttransit/booking-engine/internal/handlers"
	"github.com/smarttransit/booking-engine/internal/messaging"
	"github.com/smarttransit/booking-engine/internal/middleware"
	"github.com/smarttransit/booking-engine/internal/providers"
	"github.com/smarttransit/booking-engine/internal/services"
	"github.com/smarttransit/booking-engine/internal/utils"
	"github.com/smarttransit/booking-engine/pkg/jwt"
	"github.com/smarttransit/booking-engine/pkg/sms"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

// stores bundles the persistence backend chosen at startup
type stores struct {
	inventory database.InventoryStore
	bookings  database.BookingStore
	attempts  database.PaymentAttemptStore
	events    database.PaymentEventStore
	db        *database.PostgresDB // nil for the in-memory backend
}

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting SmartTransit booking engine")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	ctx := context.Background()
	clock := utils.SystemClock{}

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to open stores: %v", err)
	}
	if st.db != nil {
		defer st.db.Close()
	}

	// Redis backs cross-instance locks and the trip cache when configured
	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisClient, err = cache.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			logger.Fatalf("Failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
		logger.Info("Redis connection established")
	}

	var locker utils.Locker = utils.NewKeyedMutex()
	if cfg.Inventory.LockBackend == "redis" {
		locker = cache.NewRedisLocker(redisClient, cfg.Inventory.LockTTL, logger)
		logger.Info("Using redis locks for inventory and payments")
	}

	var trips cache.TripCache
	if redisClient != nil {
		trips = cache.NewRedisTripCache(redisClient, cfg.Search.TripTTL, cfg.Search.CacheTTL)
	} else {
		trips = cache.NewMemoryTripCache(clock, cfg.Search.TripTTL, cfg.Search.CacheTTL)
	}

	// Domain events
	publisher, err := messaging.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.MockMode, logger)
	if err != nil {
		logger.Fatalf("Failed to create Kafka publisher: %v", err)
	}
	defer publisher.Close()

	// SMS confirmations
	var notifier services.Notifier
	if cfg.SMS.Enabled {
		var sender sms.Sender = sms.NewLogSender(logger)
		if cfg.SMS.Mode == "production" {
			sender = sms.NewDialogURLGateway(cfg.SMS.APIURL, cfg.SMS.ESMSQK, cfg.SMS.Mask, logger)
		}
		notifier = services.NewSMSNotifier(sender, logger)
		logger.WithField("sender", sender.Name()).Info("SMS confirmations enabled")
	}

	// Core services
	logger.Info("Initializing services...")
	inventoryCfg := services.DefaultSeatInventoryConfig()
	inventoryCfg.HoldWindow = cfg.Inventory.HoldWindow
	inventory := services.NewSeatInventoryService(st.inventory, locker, clock, inventoryCfg, logger)

	bookings := services.NewBookingService(st.bookings, inventory, locker, clock, publisher, notifier,
		services.BookingConfig{MaxSeatsPerBooking: cfg.Booking.MaxSeatsPerBooking}, logger)

	adapters, err := providers.NewRegistry(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to build travel providers: %v", err)
	}
	aggregator := services.NewSearchAggregator(adapters, trips, services.SearchAggregatorConfig{
		AdapterTimeout:  cfg.Search.AdapterTimeout,
		AdapterAttempts: cfg.Search.AdapterAttempts,
	}, logger)

	gateways := gateway.NewRegistry(
		gateway.NewMobileMoneyAdapter(&cfg.Payment.MobileMoney, logger),
		gateway.NewStripeCardAdapter(&cfg.Payment.Stripe, nil, logger),
		gateway.NewWalletAdapter(&cfg.Payment.Wallet, "", logger),
	)

	paymentCfg := services.DefaultPaymentOrchestratorConfig()
	paymentCfg.MaxRetries = cfg.Payment.MaxRetries
	paymentCfg.StartAttempts = cfg.Payment.StartAttempts
	paymentCfg.MobileMoneyTimeout = cfg.Payment.MobileMoneyTimeout
	paymentCfg.RedirectTimeout = cfg.Payment.RedirectTimeout
	paymentCfg.CardTimeout = cfg.Payment.CardTimeout
	payments := services.NewPaymentOrchestrator(st.attempts, st.events, bookings, inventory, gateways,
		locker, clock, publisher, paymentCfg, logger)

	expiration := services.NewExpirationService(inventory, bookings, payments, logger)
	tickets := services.NewTicketService(bookings, logger)

	// Callbacks are queued durably in Postgres when available
	var cbPublisher message.Publisher
	var cbSubscriber message.Subscriber
	if st.db != nil {
		cbPublisher, cbSubscriber, err = messaging.NewSQLPubSub(st.db.DB, messaging.NewLogrusAdapter(logger))
		if err != nil {
			logger.Fatalf("Failed to create callback queue: %v", err)
		}
	} else {
		pubSub := messaging.NewGoChannelPubSub(messaging.NewLogrusAdapter(logger))
		cbPublisher, cbSubscriber = pubSub, pubSub
	}
	callbacks, err := messaging.NewCallbackRouter(cbPublisher, cbSubscriber, payments, messaging.DefaultRetryPolicy(), logger)
	if err != nil {
		logger.Fatalf("Failed to create callback router: %v", err)
	}

	routerCtx, stopRouter := context.WithCancel(ctx)
	defer stopRouter()
	go func() {
		if err := callbacks.Run(routerCtx); err != nil {
			logger.WithError(err).Error("Callback router stopped")
		}
	}()
	<-callbacks.Running()

	// Holds left over from a previous run are checked before traffic arrives
	if corrected, err := inventory.Reconcile(ctx); err != nil {
		logger.WithError(err).Error("Startup inventory reconciliation failed")
	} else {
		logger.WithField("corrected", corrected).Info("Startup inventory reconciliation complete")
	}

	cronService := services.NewCronService(expiration, inventory, services.CronConfig{
		ReservationSweepInterval: cfg.Inventory.SweepInterval,
		PaymentSweepInterval:     cfg.Payment.TimeoutSweepInterval,
		ReconcileSchedule:        "0 30 3 * * *",
		JobTimeout:               time.Minute,
	}, logger)
	if err := cronService.Start(); err != nil {
		logger.Fatalf("Failed to start cron service: %v", err)
	}

	// HTTP
	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.Issuer, time.Hour)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RequestLogger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length", middleware.CorrelationIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	if cfg.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, logger)
		router.Use(limiter.Middleware())
		go func() {
			ticker := time.NewTicker(5 * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case now := <-ticker.C:
					limiter.Cleanup(now)
				case <-routerCtx.Done():
					return
				}
			}
		}()
	}

	storeName := "memory"
	var pinger handlers.Pinger
	if st.db != nil {
		storeName = "postgres"
		pinger = st.db
	}

	handlers.RegisterRoutes(router, handlers.Handlers{
		Search:  handlers.NewSearchHandler(aggregator, logger),
		Booking: handlers.NewBookingHandler(bookings, payments, tickets, trips, logger),
		Webhook: handlers.NewWebhookHandler(gateways, callbacks, logger),
		Admin:   handlers.NewAdminHandler(inventory, payments, expiration, logger),
		Health:  handlers.NewHealthHandler(pinger, storeName, version, logger),
	}, jwtService)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Stopping cron service...")
	cronService.Stop()

	stopRouter()
	if err := callbacks.Close(); err != nil {
		logger.WithError(err).Warn("Callback router did not close cleanly")
	}

	logger.Info("Server exited successfully")
}

// openStores connects to Postgres when DATABASE_URL is set, otherwise keeps
// everything in memory for development
func openStores(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*stores, error) {
	if cfg.Database.URL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory stores (data is lost on restart)")
		return &stores{
			inventory: memory.NewInventoryStore(),
			bookings:  memory.NewBookingStore(),
			attempts:  memory.NewPaymentAttemptStore(),
			events:    memory.NewPaymentEventStore(),
		}, nil
	}

	logger.Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		return nil, err
	}
	logger.Info("Database connection established")

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		logger.Info("Database schema is up to date")
	}

	return &stores{
		inventory: database.NewInventoryRepository(db.DB),
		bookings:  database.NewBookingRepository(db.DB),
		attempts:  database.NewPaymentAttemptRepository(db.DB),
		events:    database.NewPaymentEventRepository(db.DB, logger),
		db:        db,
	}, nil
}
