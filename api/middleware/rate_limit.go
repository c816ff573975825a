package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/pushpay-backend/api/responses"
	pkgerrors "github.com/angelmondragon/pushpay-backend/pkg/errors"
	"github.com/angelmondragon/pushpay-backend/pkg/logger"
)

// maxPeekBody caps how much of the body is buffered to find the paymentId.
const maxPeekBody = 1 << 20

type rateLimiterStore interface {
	IncrWithTTL(context.Context, string, time.Duration) (int64, error)
}

// RateLimitPolicy defines the throttling parameters for a traffic surface.
type RateLimitPolicy struct {
	name         string
	window       time.Duration
	ipLimit      int
	paymentLimit int
}

// NewRateLimitPolicy builds a policy with the supplied window and limits.
// paymentLimit counts attempts against the paymentId carried in the JSON body.
func NewRateLimitPolicy(name string, window time.Duration, ipLimit, paymentLimit int) RateLimitPolicy {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "default"
	}
	return RateLimitPolicy{name: name, window: window, ipLimit: ipLimit, paymentLimit: paymentLimit}
}

func (p RateLimitPolicy) enabled() bool {
	return p.window > 0 && (p.ipLimit > 0 || p.paymentLimit > 0)
}

// counter is one fixed-window budget a request draws from.
type counter struct {
	scope   string
	subject string
	limit   int
}

func (p RateLimitPolicy) key(c counter) string {
	return "rl:" + c.scope + ":" + p.name + ":" + c.subject
}

func (p RateLimitPolicy) retryAfter() string {
	return strconv.Itoa(max(int(p.window.Seconds()), 1))
}

// RateLimit enforces per-IP and per-payment fixed-window counters. Store
// failures fail closed with DEPENDENCY_ERROR.
func RateLimit(policy RateLimitPolicy, store rateLimiterStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() || store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			counters, err := policy.countersFor(r)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "request body could not be read"))
				return
			}
			for _, c := range counters {
				n, err := store.IncrWithTTL(ctx, policy.key(c), policy.window)
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
					return
				}
				if n > int64(c.limit) {
					policy.reject(ctx, logg, w, c, n)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// countersFor lists the budgets r is charged against. Reading the paymentId
// consumes the body, so it is replaced with a buffered copy.
func (p RateLimitPolicy) countersFor(r *http.Request) ([]counter, error) {
	var out []counter
	if ip := clientIP(r); p.ipLimit > 0 && ip != "" {
		out = append(out, counter{scope: "ip", subject: ip, limit: p.ipLimit})
	}
	if p.paymentLimit <= 0 || r.Body == nil {
		return out, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPeekBody))
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	if id := paymentIDFrom(body); id != "" {
		out = append(out, counter{scope: "payment", subject: id, limit: p.paymentLimit})
	}
	return out, nil
}

func (p RateLimitPolicy) reject(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, c counter, attempts int64) {
	if logg != nil {
		subjectField := "ip"
		if c.scope == "payment" {
			subjectField = "payment_id"
		}
		ctx = logg.WithFields(ctx, map[string]any{
			"scope":          c.scope,
			"policy":         p.name,
			subjectField:     c.subject,
			"attempts":       attempts,
			"limit":          c.limit,
			"window_seconds": int(p.window.Seconds()),
		})
		logg.Warn(ctx, "rate_limit.blocked")
	}
	w.Header().Set("Retry-After", p.retryAfter())
	responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded"))
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// connection address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		for hop := range strings.SplitSeq(fwd, ",") {
			if ip := strings.TrimSpace(hop); ip != "" {
				return ip
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

func paymentIDFrom(body []byte) string {
	var probe struct {
		PaymentID string `json:"paymentId"`
	}
	if json.Unmarshal(body, &probe) != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(probe.PaymentID))
}
