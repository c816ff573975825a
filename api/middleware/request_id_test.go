package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestRequestIDPropagatesOrMints(t *testing.T) {
	cases := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{name: "missing", incoming: "", keep: false},
		{name: "well formed", incoming: "lb-7f3a9c21.0001", keep: true},
		{name: "too short", incoming: "abc", keep: false},
		{name: "header injection", incoming: "abcdefgh\r\nX-Admin: 1", keep: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var seen string
			handler := RequestID(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = RequestIDFromContext(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
			if tc.incoming != "" {
				req.Header[requestIDHeader] = []string{tc.incoming}
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, seen, rec.Header().Get(requestIDHeader))
			if tc.keep {
				assert.Equal(t, tc.incoming, seen)
				return
			}
			_, err := uuid.Parse(seen)
			assert.NoError(t, err)
		})
	}
}
