package controllers

import (
	"net/http"

	"github.com/angelmondragon/pushpay-backend/api/middleware"
	"github.com/angelmondragon/pushpay-backend/api/responses"
)

func PublicPing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, map[string]string{"scope": "public", "status": "ok"})
	}
}

// MerchantPing lets the dashboard confirm its token is accepted and see which merchant it resolves to.
func MerchantPing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, map[string]string{
			"scope":        "merchant",
			"status":       "ok",
			"merchantName": middleware.MerchantNameFromContext(r.Context()),
		})
	}
}
