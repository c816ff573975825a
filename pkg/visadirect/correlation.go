package visadirect

import (
	"context"
	"strings"
)

type correlationKey struct{}

// WithCorrelationID makes Transfer submit under id instead of generating one, so
// a caller can record the id before any funds move.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, strings.TrimSpace(id))
}

// CorrelationIDFrom returns the id set by WithCorrelationID, or "".
func CorrelationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
