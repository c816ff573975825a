// Package types holds the JSON shapes shared by every HTTP response.
package types

// SuccessEnvelope wraps a 2xx body as {"data": ...}.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the public part of a failure. RequestID echoes X-Request-Id so a
// caller can quote it to support; Retryable tells clients whether resending the
// same request may succeed.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	RequestID string `json:"requestId,omitempty"`
	Details   any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
