package main

import (
	"database/sql"
	"net/http"
	"os"
	"time"

	"github.com/arubinofaux/woocommerce-bitpay/internal/config"
	"github.com/arubinofaux/woocommerce-bitpay/internal/db"
	"github.com/arubinofaux/woocommerce-bitpay/internal/logger"
	"github.com/arubinofaux/woocommerce-bitpay/internal/metrics"
	"github.com/arubinofaux/woocommerce-bitpay/internal/middleware"
	"github.com/arubinofaux/woocommerce-bitpay/internal/order"
	"github.com/arubinofaux/woocommerce-bitpay/internal/payment"
	"github.com/arubinofaux/woocommerce-bitpay/internal/payment/checkout"
	"github.com/arubinofaux/woocommerce-bitpay/internal/payment/webhook"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

var (
	initDBFunc = db.InitDB

	startServerFunc = func(srv *http.Server, certFile, keyFile string) error {
		if certFile != "" && keyFile != "" {
			return srv.ListenAndServeTLS(certFile, keyFile)
		}
		return srv.ListenAndServe()
	}
)

func main() {
	if err := run(); err != nil {
		logger.L().Error("server stopped", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger.Init(cfg.AppEnv, cfg.Gateway.Debug)
	defer logger.Sync()

	database := initDBFunc(cfg)
	defer database.Close()

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           newServer(cfg, database),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Gateway.Timeout + 15*time.Second,
	}

	logger.L().Info("bitpay gateway listening",
		zap.String("addr", srv.Addr),
		zap.Bool("tls", cfg.TLSCertFile != ""),
		zap.Bool("gateway_available", cfg.Gateway.Enabled && cfg.Gateway.Validate() == nil),
	)
	err = startServerFunc(srv, cfg.TLSCertFile, cfg.TLSKeyFile)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// newServer wires the stores, the BitPay gateway and the order service into
// the HTTP router.
func newServer(cfg *config.Config, database *sql.DB) http.Handler {
	gateway := payment.NewBitPayGateway(cfg.Gateway)
	orderSvc := order.NewService(
		order.NewRepository(database),
		payment.NewRepository(database),
		gateway,
		cfg.Gateway,
	)

	limiter := middleware.NewLimiter(3 * time.Minute)
	go limiter.Run(time.Minute, nil)

	return setupRouter(
		checkout.NewHandler(orderSvc, cfg.TrustProxy),
		webhook.NewWebhookHandler(orderSvc, cfg.TrustProxy).PaymentWebhookHandler,
		limiter,
		[]byte(cfg.SecretKey),
	)
}

func setupRouter(api *checkout.Handler, webhookHandler http.HandlerFunc, limiter *middleware.Limiter, secret []byte) chi.Router {
	r := chi.NewRouter()
	r.Use(logger.RequestIDMiddleware)
	r.Use(middleware.LoggingMiddleware)

	// Public routes are limited per IP.
	r.Group(func(r chi.Router) {
		r.Use(limiter.Middleware)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		})
		r.Post(middleware.WebhookPath, webhookHandler)
	})

	// Host API buckets are keyed by the token's user once auth has run.
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(secret))
		r.Use(limiter.Middleware)
		api.Routes(r)
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	})

	return r
}
