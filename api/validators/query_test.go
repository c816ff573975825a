package validators

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/pushpay-backend/pkg/errors"
)

func queryRequest(values url.Values) *http.Request {
	return httptest.NewRequest(http.MethodGet, "/api/v1/payments/merchant/payments?"+values.Encode(), nil)
}

func TestParseQueryInt(t *testing.T) {
	v, err := ParseQueryInt(queryRequest(nil), "limit", 25, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 25, v)

	v, err = ParseQueryInt(queryRequest(url.Values{"limit": {" 40 "}}), "limit", 25, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 40, v)

	for _, raw := range []string{"ten", "0", "101", "99999999999999"} {
		_, err := ParseQueryInt(queryRequest(url.Values{"limit": {raw}}), "limit", 25, 1, 100)
		typed := pkgerrors.As(err)
		require.NotNil(t, typed, raw)
		assert.Equal(t, pkgerrors.CodeValidation, typed.Code(), raw)
	}
}

func TestParseQueryString(t *testing.T) {
	value, present, err := ParseQueryString(queryRequest(url.Values{"status": {" completed "}}), "status", 16)
	require.NoError(t, err)
	assert.True(t, present)
	assert.Equal(t, "completed", value)

	_, present, err = ParseQueryString(queryRequest(nil), "status", 16)
	require.NoError(t, err)
	assert.False(t, present)

	_, _, err = ParseQueryString(queryRequest(url.Values{"cursor": {strings.Repeat("a", 300)}}), "cursor", 256)
	assert.Error(t, err)

	_, _, err = ParseQueryString(queryRequest(url.Values{"cursor": {"abc\x00def"}}), "cursor", 256)
	assert.Error(t, err)
}
