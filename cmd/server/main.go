package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paygate-be/internal/cart"
	"paygate-be/internal/checkout"
	"paygate-be/internal/config"
	"paygate-be/internal/db"
	"paygate-be/internal/fiscal"
	"paygate-be/internal/logger"
	"paygate-be/internal/middleware"
	"paygate-be/internal/order"
	"paygate-be/internal/payment"
	"paygate-be/internal/payment/bankcard"
	"paygate-be/internal/payment/delivery"
	"paygate-be/internal/payment/mobilemoney"
	"paygate-be/internal/payment/wallet"
	"paygate-be/internal/payment/webhook"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	requestTimeout  = 30 * time.Second
	shutdownTimeout = 15 * time.Second
)

var (
	initDBFunc      = db.InitDB
	startServerFunc = serve
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger.L().Fatal("server exited", zap.Error(err))
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger.Init(cfg.AppEnv)
	defer logger.Sync()

	database := initDBFunc(cfg)
	defer database.Close()

	app := newServer(cfg, database)

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           app.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.L().Info("http server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.AppEnv))
	err = startServerFunc(ctx, srv)

	// Receipts already handed to the fiscal service must get recorded.
	app.receipts.Wait()
	logger.L().Info("http server stopped")
	return err
}

// serve runs srv until ctx is cancelled, then drains in-flight requests.
func serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type application struct {
	router   http.Handler
	receipts fiscal.Service
}

func newServer(cfg *config.Config, database *sql.DB) *application {
	orderSvc := order.NewService(order.NewRepository(database))
	cartSvc := cart.NewService(cart.NewRepository(database))
	paymentRepo := payment.NewRepository(database)

	var fiscalClient fiscal.Client
	if cfg.Fiscal.Enabled {
		c, err := fiscal.NewClient(cfg.Fiscal)
		if err != nil {
			logger.L().Error("fiscal client unavailable, receipts disabled", zap.Error(err))
		} else {
			fiscalClient = c
		}
	}
	receiptSvc := fiscal.NewService(
		cfg.Fiscal,
		orderSvc,
		fiscal.NewRepository(database),
		fiscal.NewAllocator(database, cfg.Fiscal.InitialSeq),
		fiscalClient,
	)

	registry := payment.NewRegistry(
		bankcard.New(cfg.BankCard, bankcard.NewClient(cfg.BankCard)),
		wallet.New(cfg.Wallet),
		mobilemoney.New(cfg.MobileMoney),
		delivery.New(cfg.Delivery),
	)

	ingestor := webhook.NewIngestor(registry, paymentRepo, orderSvc, cartSvc, receiptSvc)

	router := setupRouter(cfg, handlers{
		checkout: checkout.NewHandler(checkout.NewService(orderSvc, paymentRepo, registry)),
		webhook:  webhook.NewHandler(ingestor, cfg.SuccessURL, cfg.FailureURL),
		fiscal:   fiscal.NewHandler(receiptSvc),
	})

	return &application{router: router, receipts: receiptSvc}
}

type handlers struct {
	checkout *checkout.Handler
	webhook  *webhook.Handler
	fiscal   *fiscal.Handler
}

func setupRouter(cfg *config.Config, h handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(logger.RequestIDMiddleware)
	r.Use(logger.LoggingMiddleware)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(requestTimeout))
	r.Use(middleware.Metrics)

	limiter := middleware.NewRateLimiter(cfg.InternalKey)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Use(middleware.Auth([]byte(cfg.JWTSecret)))
		r.Use(middleware.RequireUser)
		r.Use(limiter.Middleware)

		r.Post("/orders/{orderID}/payments", h.checkout.InitiatePayment)
	})

	r.Route("/callbacks", func(r chi.Router) {
		r.Use(limiter.Middleware)

		r.Post("/wallet", h.webhook.Wallet)
		r.Get("/bankcard/return", h.webhook.BankCardReturn)
		r.Post("/mobilemoney", h.webhook.MobileMoney)
		r.Post("/delivery", h.webhook.Delivery)
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Use(limiter.Middleware)
		r.Use(middleware.InternalOnly(cfg.InternalKey))

		r.Post("/orders/{orderID}/fiscal-receipt", h.fiscal.Issue)
	})

	return r
}
