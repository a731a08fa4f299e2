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

	"marketplace-be/internal/catalog"
	"marketplace-be/internal/config"
	"marketplace-be/internal/db"
	"marketplace-be/internal/events"
	"marketplace-be/internal/logger"
	"marketplace-be/internal/metrics"
	"marketplace-be/internal/middleware"
	"marketplace-be/internal/order"
	"marketplace-be/internal/payment"
	"marketplace-be/internal/payment/webhook"
	"marketplace-be/internal/tracing"
	"marketplace-be/internal/user"
	"marketplace-be/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

var (
	initDBFunc      = db.NewDatabase
	startServerFunc = func(srv *http.Server) error { return srv.ListenAndServe() }
)

func main() {
	if err := run(); err != nil {
		logger.L().Fatal("server stopped", zap.Error(err))
	}
}

type routerDeps struct {
	authn       *middleware.Authenticator
	limiter     *middleware.RateLimiter
	corsOrigins []string
	orders      *order.Handler
	webhook     http.Handler
	metrics     http.Handler
	db          *sql.DB
}

func setupRouter(d routerDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(tracing.Middleware)
	r.Use(logger.RequestIDMiddleware)
	r.Use(logger.LoggingMiddleware)
	r.Use(metrics.Middleware)
	r.Use(middleware.CORS(d.corsOrigins))
	r.Use(d.authn.Middleware)
	r.Use(d.limiter.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if d.db != nil {
			if err := d.db.PingContext(r.Context()); err != nil {
				utils.WriteJSONError(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "OK"})
	})
	r.Handle("/metrics", d.metrics)
	r.Method(http.MethodPost, webhook.Path, d.webhook)

	r.Route("/api/v1/orders", func(r chi.Router) {
		r.Use(middleware.RequireUser)
		d.orders.Routes(r)
	})
	return r
}

func newServer(ctx context.Context, cfg *config.Config, database *sql.DB) (http.Handler, func(), error) {
	_, shutdownTracing, err := tracing.Init(tracing.Options{
		ServiceName: cfg.ServiceName,
		Exporter:    cfg.TracingExporter,
		SampleRatio: cfg.TracingSampleRatio,
	})
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.L().Warn("failed to flush traces", zap.Error(err))
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := metrics.Register(reg); err != nil {
		cleanup()
		return nil, nil, err
	}

	gateway, err := payment.NewStripeGateway(payment.StripeConfig{
		APIKey:     cfg.StripeSecretKey,
		SuccessURL: cfg.PaymentSuccessURL,
		CancelURL:  cfg.PaymentCancelURL,
		Currency:   cfg.PaymentCurrency,
		Timeout:    cfg.StripeTimeout,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	var notifier order.StatusNotifier = order.NopNotifier{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher := events.NewPublisher(cfg.KafkaBrokers, cfg.KafkaOrderTopic)
		notifier = publisher
		flushTraces := cleanup
		cleanup = func() {
			if err := publisher.Close(); err != nil {
				logger.L().Warn("failed to close publisher", zap.Error(err))
			}
			flushTraces()
		}
	}

	orderSvc := order.NewService(
		order.NewRepository(database),
		user.NewRepository(database),
		catalog.NewHTTPClient(cfg.CatalogBaseURL, cfg.CatalogTimeout),
		gateway,
		notifier,
	)

	if len(cfg.KafkaBrokers) > 0 {
		consumer := events.NewConsumer(cfg.KafkaBrokers, cfg.KafkaCatalogTopic, cfg.KafkaGroupID, orderSvc)
		go func() {
			if err := consumer.Run(ctx); err != nil {
				logger.L().Error("catalog consumer stopped", zap.Error(err))
			}
		}()
	}

	webhookSvc := webhook.NewService(
		webhook.NewStripeVerifier(cfg.StripeWebhookSecret),
		payment.NewRepository(database),
		webhook.NewDispatcher(
			webhook.NewSuccessHandler(orderSvc),
			webhook.NewCancelHandler(orderSvc),
		),
	)

	router := setupRouter(routerDeps{
		authn:       middleware.NewAuthenticator(cfg.JWTSecret),
		limiter:     middleware.NewRateLimiter(ctx, cfg.InternalSecretKey,
			middleware.StrictPaths("/api/v1/orders"),
			middleware.WebhookPaths(webhook.Path),
		),
		corsOrigins: cfg.CORSAllowedOrigins,
		orders:      order.NewHandler(orderSvc),
		webhook:     webhook.NewHandler(webhookSvc, cfg.WebhookMaxBytes),
		metrics:     metrics.Handler(reg),
		db:          database,
	})
	return router, cleanup, nil
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger.Init(cfg.AppEnv)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := initDBFunc(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	router, cleanup, err := newServer(ctx, cfg, database)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.L().Info("http server listening", zap.String("addr", srv.Addr))
		errCh <- startServerFunc(srv)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.L().Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
