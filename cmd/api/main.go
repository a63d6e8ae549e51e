package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"

	"github.com/harborlane/storefront-api/internal/alert"
	"github.com/harborlane/storefront-api/internal/cart"
	"github.com/harborlane/storefront-api/internal/catalog"
	"github.com/harborlane/storefront-api/internal/checkout"
	"github.com/harborlane/storefront-api/internal/common"
	"github.com/harborlane/storefront-api/internal/config"
	"github.com/harborlane/storefront-api/internal/delivery"
	"github.com/harborlane/storefront-api/internal/events"
	"github.com/harborlane/storefront-api/internal/health"
	"github.com/harborlane/storefront-api/internal/identity"
	"github.com/harborlane/storefront-api/internal/lock"
	"github.com/harborlane/storefront-api/internal/obs"
	"github.com/harborlane/storefront-api/internal/order"
	"github.com/harborlane/storefront-api/internal/payment"
	"github.com/harborlane/storefront-api/internal/promo"
	"github.com/harborlane/storefront-api/internal/ratelimit"
	"github.com/harborlane/storefront-api/internal/repo"
	"github.com/harborlane/storefront-api/internal/resilience"
	"github.com/harborlane/storefront-api/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "storefront")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		sampling := envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0)
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "storefront-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: sampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				ctx := context.Background()
				if err := shutdown(ctx); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pool, err := repo.Connect(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	outbound := func(target string) resilience.HTTPClient {
		return resilience.HTTPClient{
			Client:      &http.Client{},
			Breaker:     resilience.NewBreaker(5, 0.5, 30*time.Second).WithTarget(target).WithLogger(logger),
			BaseBackoff: 100 * time.Millisecond,
			MaxAttempts: 2,
			Jitter:      0.2,
			Timeout:     cfg.OutboundTimeout,
		}
	}

	catalogSvc := &catalog.Service{Pool: pool}

	cartSvc := &cart.Service{
		Users:  cart.PGStore{Pool: pool},
		Guests: cart.GuestStore{R: redisClient, Catalog: catalogSvc, TTL: cfg.GuestCartTTL},
	}
	cartHandler := &cart.Handler{Svc: cartSvc}

	bus := &events.Bus{Logger: logger}
	if strings.TrimSpace(cfg.AlertWebhookURL) != "" {
		bus.Notifiers = append(bus.Notifiers, &alert.WebhookNotifier{
			URL:    cfg.AlertWebhookURL,
			Topics: events.AlertTopics(),
			HTTP:   outbound("alert_webhook"),
			Logger: logger,
		})
	}

	promoSvc := &promo.Service{
		Store:  promo.PGStore{Pool: pool},
		Logger: logger,
	}
	recorder := &promo.Recorder{DB: pool, Logger: logger}

	carrier := &delivery.CourierClient{
		BaseURL: cfg.CarrierBaseURL,
		APIKey:  cfg.CarrierAPIKey,
		HTTP:    outbound("carrier"),
		Logger:  logger,
	}
	matrix := &delivery.MatrixClient{
		BaseURL: cfg.MatrixBaseURL,
		APIKey:  cfg.MatrixAPIKey,
		HTTP:    outbound("route_matrix"),
	}
	estimator := &delivery.Estimator{
		Carrier:           carrier,
		Matrix:            matrix,
		Tiers:             cfg.TierTable(),
		CarrierRangeMiles: cfg.CarrierRangeMiles,
		Formula:           cfg.FeeFormula(),
		Logger:            logger,
	}
	dispatcher := &delivery.Dispatcher{
		Carrier: carrier,
		Pickup:  cfg.StoreCoord(),
		Bus:     bus,
		Logger:  logger,
	}

	processor := &payment.Client{
		BaseURL: cfg.PaymentBaseURL,
		APIKey:  cfg.PaymentAPIKey,
		HTTP:    outbound("payment"),
		Logger:  logger,
	}

	compiler := &checkout.Compiler{
		Cart:   cartSvc,
		Promo:  promoSvc,
		Tiers:  cfg.TierTable(),
		Fees:   estimator,
		TaxBps: cfg.TaxBps,
		Logger: logger,
	}
	finalizer := &checkout.Finalizer{
		Compiler:    compiler,
		Payments:    processor,
		Orders:      order.PGStore{Pool: pool},
		Redemptions: recorder,
		Carts:       cartSvc,
		Dispatcher:  dispatcher,
		Locks:       &lock.Locker{R: redisClient},
		Bus:         bus,
		Currency:    cfg.Currency,
		Logger:      logger,
	}
	checkoutHandler := &checkout.Handler{
		Compiler:  compiler,
		Finalizer: finalizer,
		Estimator: estimator,
		Pickup:    cfg.StoreCoord(),
		Logger:    logger,
	}

	orderHandler := &order.Handler{Store: order.PGStore{Pool: pool}}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	confirmLimiter := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: redisClient},
		Config: ratelimit.Config{
			Key:    func(r *http.Request) string { return "rl:confirm:" + ownerKey(r) },
			Window: time.Minute,
			Max:    envInt("RATE_LIMIT_CONFIRM_PER_MIN", 10),
		},
		OnError: func(err error) { logger.Warn().Err(err).Msg("rate limit check failed") },
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(identity.Middleware{CookieSecure: cfg.AppEnv == "production"}.Handler)
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{Enable: true, EnableHSTS: cfg.AppEnv == "production", HSTSMaxAge: 31536000}.Middleware)
	r.Use(security.BodyLimit{Max: 1 << 20}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-User-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if envBool("OBS_ENABLE_PPROF", false) {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	healthHandler := health.Handler{
		Checker:      readinessChecker{db: pool, redis: redisClient},
		DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Route("/cart", func(c chi.Router) {
			c.Get("/", cartHandler.Get)
			c.Put("/items", cartHandler.SetItem)
			c.Delete("/items/{productID}", cartHandler.RemoveItem)
			c.Delete("/", cartHandler.Clear)
		})

		v.Route("/checkout", func(c chi.Router) {
			c.Post("/totals", checkoutHandler.Totals)
			c.Get("/promo/validate", checkoutHandler.ValidatePromo)
			c.Post("/delivery/quote", checkoutHandler.DeliveryQuote)
			c.With(confirmLimiter.Middleware).Post("/confirm", checkoutHandler.Confirm)
		})

		v.Get("/orders", orderHandler.List)
		v.Get("/orders/{orderID}", orderHandler.Get)
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	health.SetReady(false)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("server stopped")
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func ownerKey(r *http.Request) string {
	if owner, ok := common.IdentityFrom(r.Context()); ok {
		return owner.Key()
	}
	return common.ClientIP(r)
}

type readinessChecker struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func (c readinessChecker) PingDB(ctx context.Context, timeout time.Duration) error {
	if c.db == nil {
		return errors.New("db not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.db.Ping(ctx)
}

func (c readinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.redis.Ping(ctx).Err()
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/block", pprof.Handler("block"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	mux.Handle("/mutex", pprof.Handler("mutex"))
	mux.Handle("/threadcreate", pprof.Handler("threadcreate"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
