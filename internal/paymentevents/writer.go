package paymentevents

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RetryPolicy bounds how long one row may be retried before the message is
// nacked back to Pub/Sub.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaximumBackoff time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = 250 * time.Millisecond
	}
	if p.MaximumBackoff <= 0 {
		p.MaximumBackoff = 2 * time.Second
	}
	p.MaximumBackoff = max(p.MaximumBackoff, p.InitialBackoff)
	return p
}

type tableInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

// BigQueryWriter streams one row per event. The event id is the insert id,
// so a retried insert does not duplicate the row.
type BigQueryWriter struct {
	client tableInserter
	table  string
	retry  RetryPolicy
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewBigQueryWriter(client tableInserter, table string, retry RetryPolicy) (*BigQueryWriter, error) {
	if client == nil {
		return nil, errors.New("bigquery client required")
	}
	table = strings.TrimSpace(table)
	if table == "" {
		return nil, errors.New("payment events table is required")
	}
	return &BigQueryWriter{client: client, table: table, retry: retry.withDefaults(), sleep: sleepContext}, nil
}

func (w *BigQueryWriter) Insert(ctx context.Context, row *PaymentEventRow) error {
	if row == nil {
		return nil
	}
	rows := []any{row}
	backoff := w.retry.InitialBackoff
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := w.client.InsertRows(ctx, w.table, rows)
		if err == nil {
			return nil
		}
		if attempt >= w.retry.MaxAttempts || !transientInsertError(err) {
			return fmt.Errorf("insert into %s after %d attempt(s): %w", w.table, attempt, err)
		}
		if err := w.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff = min(backoff*2, w.retry.MaximumBackoff)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// transientInsertError reports whether every failure inside err is worth
// another attempt. Row-level errors arrive as *bigquery.Error reasons,
// request-level ones as HTTP or gRPC status codes.
func transientInsertError(err error) bool {
	var (
		multi  cbigquery.MultiError
		rows   cbigquery.PutMultiError
		bqErr  *cbigquery.Error
		apiErr *googleapi.Error
		grpc   interface{ GRPCStatus() *status.Status }
	)
	switch {
	case err == nil:
		return false
	case errors.As(err, &rows):
		return allTransient(len(rows), func(i int) error { return rows[i].Errors })
	case errors.As(err, &multi):
		return allTransient(len(multi), func(i int) error { return multi[i] })
	case errors.As(err, &bqErr):
		return transientReason(bqErr.Reason)
	case errors.As(err, &apiErr):
		return transientHTTPStatus(apiErr.Code)
	case errors.As(err, &grpc):
		return grpc.GRPCStatus() != nil && transientGRPCCode(grpc.GRPCStatus().Code())
	}
	return false
}

func allTransient(n int, at func(int) error) bool {
	if n == 0 {
		return false
	}
	for i := range n {
		if !transientInsertError(at(i)) {
			return false
		}
	}
	return true
}

// transientReason covers the BigQuery error reasons documented as retryable.
func transientReason(reason string) bool {
	switch reason {
	case "backendError", "internalError", "rateLimitExceeded", "timeout":
		return true
	}
	return false
}

func transientHTTPStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusRequestTimeout,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func transientGRPCCode(code codes.Code) bool {
	switch code {
	case codes.Aborted, codes.DeadlineExceeded, codes.Internal, codes.ResourceExhausted, codes.Unavailable:
		return true
	}
	return false
}
