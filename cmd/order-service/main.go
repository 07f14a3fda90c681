package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/mercato/orderflow/internal/httpx"
	"github.com/mercato/orderflow/internal/inventory"
	"github.com/mercato/orderflow/internal/order/adapters/postgres"
	"github.com/mercato/orderflow/internal/order/adapters/stripegw"
	"github.com/mercato/orderflow/internal/order/app"
	"github.com/mercato/orderflow/internal/order/domain"
	"github.com/mercato/orderflow/internal/pkg/bus"
	"github.com/mercato/orderflow/internal/pkg/cache"
	"github.com/mercato/orderflow/internal/pkg/config"
	"github.com/mercato/orderflow/internal/pkg/telemetry"
	"github.com/mercato/orderflow/internal/saga/sagalog/sqlite"
)

func main() {
	telemetry.InitLogger("order-service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("order service exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	shutdownTracer, err := telemetry.SetupTracer(ctx, "order-service")
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(flushCtx); err != nil {
			slog.Error("tracer shutdown error", "error", err)
		}
	}()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return err
	}

	pricing := domain.Pricing{
		TaxRate:               cfg.TaxRate,
		FreeDeliveryThreshold: cfg.FreeDeliveryThreshold,
		StandardDeliveryFee:   cfg.StandardDeliveryFee,
	}

	orders := postgres.NewRepository(db, pricing)
	if err := orders.EnsureSchema(ctx); err != nil {
		return err
	}
	carts := postgres.NewCartStore(db)
	if err := carts.EnsureSchema(ctx); err != nil {
		return err
	}
	addresses := postgres.NewAddressStore(db)

	journal, err := sqlite.Open(cfg.SagaLogPath)
	if err != nil {
		return err
	}
	defer journal.Close()

	broker, err := bus.Connect(bus.Config{URL: cfg.AMQPURL, Exchange: cfg.Exchange})
	if err != nil {
		return err
	}
	defer broker.Close()

	reserver := inventory.New(broker, cfg.ReservationTimeout)
	if err := broker.ConsumeReplies(reserver.HandleReply); err != nil {
		return err
	}

	gateway := stripegw.New(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
	seen := cache.NewRedisCache(cfg.RedisAddr, "orders")

	placement := app.NewPlacementService(carts, addresses, reserver, gateway, orders, broker, journal, pricing, cfg.Currency)
	reconciler := app.NewReconciler(orders, gateway, broker, seen)
	fulfillment := app.NewFulfillmentService(orders, broker)

	handler := httpx.NewHandler(placement, fulfillment, reconciler, orders, journal, gateway)
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpx.NewRouter(handler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("order service listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
