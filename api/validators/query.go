package validators

import (
	"net/http"
	"strconv"
	"strings"
	"unicode"

	pkgerrors "github.com/angelmondragon/pushpay-backend/pkg/errors"
)

// ParseQueryInt reads key as an integer in [min, max], falling back to defaultVal when absent.
func ParseQueryInt(r *http.Request, key string, defaultVal, min, max int) (int, error) {
	raw, present, err := ParseQueryString(r, key, 12)
	if err != nil || !present {
		return defaultVal, err
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, queryError(key, "must be an integer")
	}
	if value < min || value > max {
		return 0, queryError(key, "out of range").WithDetails(map[string]any{
			"field": key,
			"min":   min,
			"max":   max,
		})
	}
	return value, nil
}

// ParseQueryString returns the trimmed value of key and whether it was supplied.
// Values longer than maxLen or containing control characters are rejected.
func ParseQueryString(r *http.Request, key string, maxLen int) (string, bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return "", false, nil
	}
	if maxLen > 0 && len(raw) > maxLen {
		return "", true, queryError(key, "too long")
	}
	if strings.IndexFunc(raw, unicode.IsControl) >= 0 {
		return "", true, queryError(key, "contains control characters")
	}
	return raw, true, nil
}

func queryError(key, reason string) *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeValidation, "invalid query parameter "+key).
		WithDetails(map[string]any{"field": key, "reason": reason})
}
