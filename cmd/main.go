package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/paymux/paymux/billing"
	"github.com/paymux/paymux/event"
	"github.com/paymux/paymux/handler"
	"github.com/paymux/paymux/idempotency"
	"github.com/paymux/paymux/infra/config"
	"github.com/paymux/paymux/infra/logger"
	"github.com/paymux/paymux/infra/metrics"
	"github.com/paymux/paymux/infra/middle"
	"github.com/paymux/paymux/infra/opensearch"
	"github.com/paymux/paymux/infra/validate"
	"github.com/paymux/paymux/plugin"
	"github.com/paymux/paymux/provider"
	"github.com/paymux/paymux/router"
	"github.com/paymux/paymux/webhook"

	// Adapter registration
	_ "github.com/paymux/paymux/provider/paypal"
	_ "github.com/paymux/paymux/provider/sandbox"
	_ "github.com/paymux/paymux/provider/stripe"
)

var (
	appConfig        *config.AppConfig
	openSearchLogger *opensearch.Logger
)

func init() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}
	if config.GetEnv("API_KEY", "") == "" {
		log.Printf("API_KEY not set, generated key for this run: %s", config.App().APIKey)
	}
	appConfig = config.GetAppConfig()

	if appConfig.EnableLogging {
		osClient, err := opensearch.NewClient(appConfig)
		if err != nil {
			log.Printf("Failed to initialize OpenSearch client: %v", err)
			log.Println("Continuing without OpenSearch logging...")
		} else {
			openSearchLogger = opensearch.NewLogger(osClient)
			log.Println("OpenSearch logging initialized")
		}
	}
	logger.InitGlobalLogger(openSearchLogger)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := config.OpenSQLite(appConfig.DBPath)
	if err != nil {
		logger.Fatal("failed to open database", err)
	}
	defer db.Close()

	storage, err := config.NewSQLiteStorage(db)
	if err != nil {
		logger.Fatal("failed to initialize config storage", err)
	}
	providerConfig, err := config.NewProviderConfigWithStorage(storage)
	if err != nil {
		logger.Fatal("failed to load provider configs", err)
	}
	providerConfig.LoadFromEnv(provider.DefaultRegistry.GetProviderNames())

	claims, redisClient := newClaimStore(appConfig)
	m := metrics.Default()
	bus := event.NewBus(m)

	invoices, err := billing.NewSQLiteInvoiceStore(db)
	if err != nil {
		logger.Fatal("failed to initialize invoice store", err)
	}
	subscriptions, err := billing.NewSQLiteSubscriptionStore(db)
	if err != nil {
		logger.Fatal("failed to initialize subscription store", err)
	}
	plans := billing.NewCatalog(billing.DefaultPlans())
	billing.NewReconciler(invoices, subscriptions, plans).RegisterHandlers(bus)

	deliveries, err := webhook.NewSQLiteDeliveryStore(db)
	if err != nil {
		logger.Fatal("failed to initialize delivery store", err)
	}

	host := plugin.NewHost(provider.DefaultRegistry, providerConfig, nil)
	activateConfigured(host)

	paymentService := provider.NewService(host, claims, m, openSearchLogger, provider.ServiceConfig{
		OperationTTL: appConfig.OperationTTL,
	})
	ingestor := webhook.NewIngestor(host, claims, bus, deliveries, m, openSearchLogger, webhook.IngestorConfig{
		DedupTTL: appConfig.DedupTTL,
	})

	sweeper := billing.NewSweeper(invoices, subscriptions, bus, m, appConfig.SweepInterval)
	go sweeper.Run(ctx)

	r := router.New(router.Deps{
		Payments:    handler.NewPaymentHandler(paymentService, invoices, subscriptions, plans, bus, validate.New(), appConfig.CheckoutTTL),
		Webhooks:    handler.NewWebhookHandler(ingestor, deliveries),
		Plugins:     handler.NewPluginHandler(host),
		Health:      handler.NewHealthHandler(db, redisClient, host),
		RateLimiter: middle.NewRateLimiter(),
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", appConfig.Port),
		Handler:           r,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("API is running on " + appConfig.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", err)
	}
}

// newClaimStore picks Redis when an address is configured, the in-process
// store otherwise. Memory claims do not survive a restart, so redeliveries
// during that window dispatch again; the billing CAS guards absorb them.
// The returned client is nil for the memory store and feeds the readiness
// probe otherwise.
func newClaimStore(cfg *config.AppConfig) (idempotency.Store, idempotency.RedisClient) {
	if cfg.RedisAddr == "" {
		logger.Warn("REDIS_ADDR not set, using in-memory idempotency store")
		return idempotency.NewMemory(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Fatal("redis is configured but unreachable", err)
	}

	logger.Info("using Redis idempotency store at " + cfg.RedisAddr)
	return idempotency.NewRedis(client), client
}

// activateConfigured brings every provider with a stored configuration into
// traffic. A provider whose credentials fail activation stays configured and
// can be fixed over the plugin API.
func activateConfigured(host *plugin.Host) {
	for _, desc := range host.Discover() {
		if desc.State != plugin.StateConfigured {
			continue
		}
		if err := host.Activate(desc.Name); err != nil {
			logger.Error("failed to activate provider "+desc.Name, err)
			continue
		}
		logger.Info("provider " + desc.Name + " activated")
	}
}
