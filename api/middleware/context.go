package middleware

import "context"

type contextKey string

const (
	ctxMerchantName contextKey = "merchant_name"
	ctxMerchantID   contextKey = "merchant_id"
	ctxRequestID    contextKey = "request_id"
)

// MerchantNameFromContext returns the authenticated merchant's display name.
func MerchantNameFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxMerchantName).(string); ok {
		return v
	}
	return ""
}

func MerchantIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxMerchantID).(string); ok {
		return v
	}
	return ""
}

// WithMerchant injects the merchant identity into the context.
func WithMerchant(ctx context.Context, merchantID, merchantName string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxMerchantID, merchantID)
	return context.WithValue(ctx, ctxMerchantName, merchantName)
}
