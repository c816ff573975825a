package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/pushpay-backend/api/responses"
	pkgAuth "github.com/angelmondragon/pushpay-backend/pkg/auth"
	"github.com/angelmondragon/pushpay-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/pushpay-backend/pkg/errors"
	"github.com/angelmondragon/pushpay-backend/pkg/logger"
)

// bearerToken returns the Authorization value with an optional case-insensitive
// "Bearer " prefix removed.
func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(raw) >= 7 && strings.EqualFold(raw[:7], "bearer ") {
		raw = raw[7:]
	}
	return strings.TrimSpace(raw)
}

// Auth requires a merchant token and puts the merchant identity on the context
// and on the request logger.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseMerchantToken(cfg, token)
			if err != nil {
				msg := "invalid token"
				if pkgAuth.IsExpired(err) {
					msg = "token expired"
				}
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, msg))
				return
			}

			ctx := WithMerchant(r.Context(), claims.Subject, claims.MerchantName)
			if logg != nil {
				ctx = logg.WithMerchant(ctx, claims.MerchantName)
				if claims.Subject != "" {
					ctx = logg.WithField(ctx, "merchant_id", claims.Subject)
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
