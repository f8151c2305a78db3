package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"ms-boxoffice/internal/config"
	"ms-boxoffice/internal/keyring"
	"ms-boxoffice/internal/logger"
	"ms-boxoffice/internal/ticket"
	ticketapi "ms-boxoffice/internal/ticket/api"
)

// gate-service verifies and redeems tickets at the venue. It shares
// the database and keyring file with checkout-service but needs no
// Redis and no payment provider.
func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.NewLogger()
	defer log.Close()

	connector := pgdriver.NewConnector(pgdriver.WithDSN(cfg.Database.DSN))
	sqldb := sql.OpenDB(connector)
	defer sqldb.Close()

	if err := sqldb.Ping(); err != nil {
		log.Fatal("STARTUP", "failed to connect to Postgres: "+err.Error())
	}
	bunDB := bun.NewDB(sqldb, pgdialect.New())

	ring, err := keyring.LoadOrGenerate(cfg.Keyring.Path)
	if err != nil {
		log.Fatal("STARTUP", "failed to load keyring: "+err.Error())
	}
	ring.ClockSkew = cfg.Keyring.ClockSkew

	redeemer := ticket.NewRedeemer(bunDB, ring, log)
	handler := ticketapi.NewHandler(redeemer, ring, log)

	r := chi.NewRouter()
	r.Post("/api/v1/tickets/redeem", handler.Redeem)
	r.Get("/api/v1/tickets/keys", handler.KeySet)
	r.Post("/api/v1/keyring/rotate", handler.Rotate)

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("STARTUP", "gate service listening on "+cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("SERVER", err.Error())
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctxShutdown, cancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer cancel()
	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("SHUTDOWN", "forced shutdown: "+err.Error())
	}
	log.Info("SHUTDOWN", "server exited")
}
