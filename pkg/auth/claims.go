package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// MerchantTokenPayload captures the data available when minting a merchant JWT.
type MerchantTokenPayload struct {
	MerchantID   string
	MerchantName string
	JTI          string
}

// MerchantClaims is the typed JWT the dashboard presents. MerchantName matches the
// cardholder name payment links were created under.
type MerchantClaims struct {
	MerchantName string `json:"merchant_name"`
	jwt.RegisteredClaims
}
