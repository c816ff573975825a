package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/pushpay-backend/api/controllers"
	"github.com/angelmondragon/pushpay-backend/api/middleware"
	"github.com/angelmondragon/pushpay-backend/internal/payments"
	"github.com/angelmondragon/pushpay-backend/pkg/config"
	"github.com/angelmondragon/pushpay-backend/pkg/logger"
	"github.com/angelmondragon/pushpay-backend/pkg/metrics"
	pkgredis "github.com/angelmondragon/pushpay-backend/pkg/redis"
)

// RedisStore is the slice of the redis client the HTTP surface needs.
type RedisStore interface {
	pkgredis.ResponseStore
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Ping(ctx context.Context) error
}

// RouterParams collects the dependencies of the HTTP surface.
type RouterParams struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       controllers.Pinger
	Redis    RedisStore
	Payments payments.Service
	Gatherer prometheus.Gatherer
	HTTP     *metrics.HTTPMetrics
}

func NewRouter(p RouterParams) http.Handler {
	cfg, logg := p.Config, p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Metrics(p.HTTP),
		middleware.CORS(cfg.HTTP.CORSAllowedOrigins),
	)

	createLinkPolicy := middleware.NewRateLimitPolicy(
		"create-link",
		cfg.RateLimit.Window,
		cfg.RateLimit.CreateLinkIPLimit,
		0,
	)
	processPolicy := middleware.NewRateLimitPolicy(
		"process",
		cfg.RateLimit.Window,
		cfg.RateLimit.ProcessIPLimit,
		cfg.RateLimit.ProcessPaymentLimit,
	)

	var redisPinger controllers.Pinger
	if p.Redis != nil {
		redisPinger = p.Redis
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.DB, redisPinger))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler(p.Gatherer))

	r.Get("/api/public/ping", controllers.PublicPing())

	// Route-level middleware runs after routing so idempotency sees the full pattern.
	r.Route("/api/v1/payments", func(r chi.Router) {
		r.With(
			middleware.RateLimit(createLinkPolicy, p.Redis, logg),
			middleware.Idempotency(p.Redis, logg),
		).Post("/create-link", controllers.PaymentCreateLink(p.Payments, logg))
		r.With(
			middleware.RateLimit(processPolicy, p.Redis, logg),
			middleware.Idempotency(p.Redis, logg),
		).Post("/process", controllers.PaymentProcess(p.Payments, logg))

		r.Get("/invoice/{paymentId}", controllers.PaymentInvoice(p.Payments, logg))
		r.Get("/status/{paymentId}", controllers.PaymentStatus(p.Payments, logg))

		r.With(middleware.Auth(cfg.JWT, logg)).Get("/merchant/payments", controllers.MerchantPayments(p.Payments, logg))

		r.Get("/{paymentId}", controllers.PaymentDetails(p.Payments, logg))
	})

	r.With(middleware.Auth(cfg.JWT, logg)).Get("/api/v1/merchant/ping", controllers.MerchantPing())

	return r
}
