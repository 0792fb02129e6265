package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/xenking/kart-storefront/internal/domain/cart"
	"github.com/xenking/kart-storefront/internal/domain/checkout"
	"github.com/xenking/kart-storefront/internal/domain/notify"
	"github.com/xenking/kart-storefront/internal/domain/payment"
	"github.com/xenking/kart-storefront/internal/domain/pricing"
	"github.com/xenking/kart-storefront/internal/gateway/fake"
	"github.com/xenking/kart-storefront/internal/gateway/paypal"
	"github.com/xenking/kart-storefront/internal/handler"
	"github.com/xenking/kart-storefront/internal/notify/kafka"
	"github.com/xenking/kart-storefront/internal/storage/postgres"
	"github.com/xenking/kart-storefront/internal/storage/redis"
	"github.com/xenking/kart-storefront/pkg/health"
	"github.com/xenking/kart-storefront/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("gateway", cfg.Gateway.Provider),
	)

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Redis holds carts and rate limit counters.
	rdb, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		return errors.Wrap(err, "create redis client")
	}
	defer func() { _ = rdb.Close() }()

	healthSvc := health.New()
	healthSvc.Register(health.Check{Name: "postgres", Probe: health.Readiness, Timeout: 5 * time.Second, Func: health.PingCheck(pool)})
	healthSvc.Register(health.Check{Name: "redis", Probe: health.Readiness, Timeout: 2 * time.Second, Func: health.RedisCheck(rdb)})
	healthSvc.Register(health.Check{Name: "goroutines", Probe: health.Liveness, Func: health.GoroutineCountCheck(10000)})
	healthSvc.Start(ctx, 10*time.Second)

	// Repositories.
	menuRepo := postgres.NewMenuRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)
	giftCardRepo := postgres.NewGiftCardRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	addressRepo := postgres.NewAddressRepository(pool)
	carts := cart.NewAggregator(redis.NewCartStore(rdb, cfg.CartTTL), menuRepo)

	gateway, err := newGateway(cfg, m)
	if err != nil {
		return err
	}

	notifier, closeNotifier := newNotifier(lg, cfg.Kafka)
	defer closeNotifier()

	checkoutSvc, err := checkout.NewService(checkout.Config{
		Currency:         cfg.Checkout.Currency,
		ReturnURL:        cfg.Checkout.ReturnURL,
		CancelURL:        cfg.Checkout.CancelURL,
		GiftCardValidity: cfg.Checkout.GiftCardValidity,
		QRSize:           cfg.Checkout.QRSize,
	}, checkout.Deps{
		Tx:        postgres.NewTransactor(pool),
		Carts:     carts,
		Pricer:    pricing.NewResolver(couponRepo, giftCardRepo),
		Orders:    orderRepo,
		GiftCards: giftCardRepo,
		Addresses: addressRepo,
		Gateway:   gateway,
		Notifier:  notifier,
	},
		checkout.WithTracerProvider(m.TracerProvider()),
		checkout.WithMeterProvider(m.MeterProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create checkout service")
	}

	h := handler.NewHandler(checkoutSvc, carts, handler.NewAuthenticator(cfg.JWT.Secret, cfg.JWT.Issuer))

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.Recovery(),
		httpmiddleware.LogRequests(),
		cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORS.Origins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader},
			ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
	)
	r.Get("/livez", healthSvc.LiveEndpoint)
	r.Get("/readyz", healthSvc.ReadyEndpoint)
	r.With(httpmiddleware.RateLimit(rdb, httpmiddleware.RateLimitConfig{
		Max:    cfg.RateLimit.Max,
		Window: cfg.RateLimit.Window,
	})).Mount("/api", h.Routes())

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		// Covers one provider round trip plus the store writes around it.
		WriteTimeout:   cfg.Gateway.Timeout + 10*time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Addr:           cfg.Addr,
		Handler: otelhttp.NewHandler(r, "kart-api",
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
		),
	}
	healthSvc.SetReady(true)

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

func newGateway(cfg *Config, m *app.Telemetry) (payment.Gateway, error) {
	var gw payment.Gateway
	switch cfg.Gateway.Provider {
	case "paypal":
		gw = paypal.New(paypal.Config{
			BaseURL:  cfg.Gateway.BaseURL,
			ClientID: cfg.Gateway.ClientID,
			Secret:   cfg.Gateway.Secret,
		}, paypal.WithTracerProvider(m.TracerProvider()))
	case "fake":
		gw = fake.New(cfg.Checkout.ReturnURL)
	default:
		return nil, errors.Errorf("unknown gateway provider %q", cfg.Gateway.Provider)
	}
	return payment.WithTimeout(gw, cfg.Gateway.Timeout), nil
}

// newNotifier publishes to Kafka when brokers are configured and drops
// messages otherwise.
func newNotifier(lg *zap.Logger, cfg KafkaConfig) (notify.Dispatcher, func()) {
	if len(cfg.Brokers) == 0 {
		lg.Info("No Kafka brokers configured, notifications are dropped")
		return notify.Discard{}, func() {}
	}
	w := kafka.NewWriter(cfg.Brokers, cfg.Topic, func(err error) {
		lg.Warn("Notification delivery failed", zap.Error(err))
	})
	pub := kafka.NewPublisher(w)
	return pub, func() {
		if err := pub.Close(); err != nil {
			lg.Warn("Close notification writer", zap.Error(err))
		}
	}
}
