package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/pushpay-backend/pkg/config"
)

var signingMethod = jwt.SigningMethodHS256

var (
	ErrMissingSecret       = errors.New("jwt secret is required")
	ErrMissingIssuer       = errors.New("jwt issuer is required")
	ErrInvalidTTL          = errors.New("jwt expiration minutes must be positive")
	ErrMissingMerchantName = errors.New("merchant name is required")
)

func tokenTTL(cfg config.JWTConfig) time.Duration {
	return time.Duration(cfg.ExpirationMinutes) * time.Minute
}

func checkMintConfig(cfg config.JWTConfig) error {
	switch {
	case cfg.Secret == "":
		return ErrMissingSecret
	case cfg.Issuer == "":
		return ErrMissingIssuer
	case cfg.ExpirationMinutes <= 0:
		return ErrInvalidTTL
	}
	return nil
}

// MintMerchantToken signs an HS256 token for the merchant, valid for the
// configured number of minutes from now. A blank JTI gets a random one.
func MintMerchantToken(cfg config.JWTConfig, now time.Time, payload MerchantTokenPayload) (string, error) {
	if err := checkMintConfig(cfg); err != nil {
		return "", err
	}
	name := strings.TrimSpace(payload.MerchantName)
	if name == "" {
		return "", ErrMissingMerchantName
	}
	jti := strings.TrimSpace(payload.JTI)
	if jti == "" {
		jti = uuid.NewString()
	}

	token := jwt.NewWithClaims(signingMethod, MerchantClaims{
		MerchantName: name,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   payload.MerchantID,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL(cfg))),
		},
	})
	signed, err := token.SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("sign merchant token: %w", err)
	}
	return signed, nil
}

// ParseMerchantToken verifies signature, issuer and expiry. The token must
// carry a merchant name.
func ParseMerchantToken(cfg config.JWTConfig, raw string) (*MerchantClaims, error) {
	if cfg.Secret == "" {
		return nil, ErrMissingSecret
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
	)
	claims := new(MerchantClaims)
	if _, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(cfg.Secret), nil
	}); err != nil {
		return nil, err
	}
	if strings.TrimSpace(claims.MerchantName) == "" {
		return nil, errors.New("token has no merchant_name claim")
	}
	return claims, nil
}

// IsExpired reports whether err came from an otherwise valid but expired token.
func IsExpired(err error) bool {
	return errors.Is(err, jwt.ErrTokenExpired)
}
