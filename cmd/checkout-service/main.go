package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"ms-boxoffice/internal/checkout"
	checkoutapi "ms-boxoffice/internal/checkout/api"
	"ms-boxoffice/internal/config"
	"ms-boxoffice/internal/database/migrations"
	"ms-boxoffice/internal/hold"
	holdapi "ms-boxoffice/internal/hold/api"
	"ms-boxoffice/internal/idempotency"
	"ms-boxoffice/internal/kafka"
	"ms-boxoffice/internal/keyring"
	"ms-boxoffice/internal/logger"
	"ms-boxoffice/internal/payment"
	"ms-boxoffice/internal/ticket"
	"ms-boxoffice/internal/webhook"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.NewLogger()
	defer log.Close()

	ctx := context.Background()

	// --- PostgreSQL ---
	connector := pgdriver.NewConnector(pgdriver.WithDSN(cfg.Database.DSN))
	sqldb := sql.OpenDB(connector)
	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)
	defer sqldb.Close()

	if err := sqldb.Ping(); err != nil {
		log.Fatal("STARTUP", "failed to connect to Postgres: "+err.Error())
	}
	bunDB := bun.NewDB(sqldb, pgdialect.New())

	if err := migrations.CreateTables(ctx, bunDB); err != nil {
		log.Fatal("STARTUP", "failed to create tables: "+err.Error())
	}

	// --- Redis ---
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("STARTUP", "failed to connect to Redis: "+err.Error())
	}

	// --- Keyring ---
	ring, err := keyring.LoadOrGenerate(cfg.Keyring.Path)
	if err != nil {
		log.Fatal("STARTUP", "failed to load keyring: "+err.Error())
	}
	ring.ClockSkew = cfg.Keyring.ClockSkew
	log.Info("STARTUP", "keyring active kid: "+ring.ActiveKid())

	// --- Payments ---
	payment.InitStripe(cfg.Payment.StripeSecretKey)
	payments := payment.NewStripeProvider(log)

	// --- Kafka ---
	producer := kafka.NewDisabledProducer(log)
	if cfg.Kafka.Enabled {
		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
	}
	defer producer.Close()

	// --- Services ---
	holdStore := hold.NewRedisStore(redisClient, cfg.Hold, log)
	verifier := hold.NewVerifier(holdStore)
	idemStore := idempotency.NewRedisStore(redisClient)
	issuer := ticket.NewIssuer(ring, cfg.Keyring.TicketTTL, log)

	checkoutSvc := checkout.NewService(bunDB, idemStore, verifier, payments, producer,
		cfg.Idempotency, cfg.Payment.Currency, log)
	reconciler := webhook.NewReconciler(bunDB, cfg.Payment.WebhookSecret,
		cfg.Payment.WebhookTolerance, issuer, producer, log)

	holdHandler := holdapi.NewHandler(holdStore, log)
	checkoutHandler := checkoutapi.NewHandler(checkoutSvc, reconciler, log)

	// --- Router ---
	r := chi.NewRouter()
	r.Post("/api/v1/holds", holdHandler.Acquire)
	r.Post("/api/v1/holds/extend", holdHandler.Extend)
	r.Post("/api/v1/holds/release", holdHandler.Release)
	r.Post("/api/v1/checkout", checkoutHandler.CreateCheckout)
	r.Get("/api/v1/orders/{orderId}", checkoutHandler.GetOrder)
	r.Post("/api/v1/webhooks/stripe", checkoutHandler.StripeWebhook)

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("STARTUP", "checkout service listening on "+cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("SERVER", err.Error())
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("SHUTDOWN", "signal received, draining")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer cancel()
	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("SHUTDOWN", "forced shutdown: "+err.Error())
	}
	log.Info("SHUTDOWN", "server exited")
}
