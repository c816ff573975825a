package paymentevents

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestNewBigQueryWriterValidation(t *testing.T) {
	_, err := NewBigQueryWriter(nil, "payment_events", RetryPolicy{})
	assert.Error(t, err)
	_, err = NewBigQueryWriter(&fakeInserter{}, "  ", RetryPolicy{})
	assert.Error(t, err)
}

func TestWriterRetriesOnTransientError(t *testing.T) {
	writer, fake := newTestWriter(t)
	fake.responses = []error{&googleapi.Error{Code: http.StatusServiceUnavailable}, nil}

	require.NoError(t, writer.Insert(context.Background(), &PaymentEventRow{EventID: "1"}))
	require.Len(t, fake.calls, 2)
	assert.Equal(t, "payment_events", fake.calls[1])
}

func TestWriterStopsOnPermanentError(t *testing.T) {
	writer, fake := newTestWriter(t)
	fake.responses = []error{&googleapi.Error{Code: http.StatusBadRequest}}

	assert.Error(t, writer.Insert(context.Background(), &PaymentEventRow{EventID: "1"}))
	assert.Len(t, fake.calls, 1)
}

func TestWriterGivesUpAfterMaxAttempts(t *testing.T) {
	writer, fake := newTestWriter(t)
	fake.responses = []error{
		status.Error(codes.Unavailable, "unavailable"),
		status.Error(codes.Unavailable, "unavailable"),
		status.Error(codes.Unavailable, "unavailable"),
	}

	assert.Error(t, writer.Insert(context.Background(), &PaymentEventRow{EventID: "1"}))
	assert.Len(t, fake.calls, 3)
}

func TestTransientInsertError(t *testing.T) {
	rowErr := func(reasons ...string) cbigquery.PutMultiError {
		var multi cbigquery.MultiError
		for _, r := range reasons {
			multi = append(multi, &cbigquery.Error{Reason: r})
		}
		return cbigquery.PutMultiError{{InsertID: "evt-1", Errors: multi}}
	}
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("plain"), false},
		{"http 429", &googleapi.Error{Code: http.StatusTooManyRequests}, true},
		{"http 400", &googleapi.Error{Code: http.StatusBadRequest}, false},
		{"grpc deadline", status.Error(codes.DeadlineExceeded, "slow"), true},
		{"grpc invalid", status.Error(codes.InvalidArgument, "bad"), false},
		{"row backend error", rowErr("backendError"), true},
		{"row invalid", rowErr("invalid"), false},
		{"row mixed", rowErr("timeout", "invalid"), false},
		{"wrapped row error", fmt.Errorf("put: %w", rowErr("rateLimitExceeded")), true},
		{"empty row errors", cbigquery.PutMultiError{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, transientInsertError(tc.err))
		})
	}
}

func TestWriterRetriesRowBackendErrors(t *testing.T) {
	writer, fake := newTestWriter(t)
	fake.responses = []error{
		cbigquery.PutMultiError{{InsertID: "1", Errors: cbigquery.MultiError{&cbigquery.Error{Reason: "backendError"}}}},
		nil,
	}

	require.NoError(t, writer.Insert(context.Background(), &PaymentEventRow{EventID: "1"}))
	assert.Len(t, fake.calls, 2)
}

func TestPaymentEventRowSave(t *testing.T) {
	amount := decimal.RequireFromString("42.10")
	row := &PaymentEventRow{
		EventID:    "evt-1",
		EventType:  "payment_link_created",
		PaymentID:  "pay-1",
		Amount:     &amount,
		Currency:   "USD",
		OccurredAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	values, insertID, err := row.Save()
	require.NoError(t, err)
	assert.Equal(t, "evt-1", insertID)
	numeric, ok := values["amount"].(string)
	require.True(t, ok)
	assert.True(t, decimal.RequireFromString(numeric).Equal(amount))
	assert.NotNil(t, values["currency"])
	assert.False(t, nullString("").Valid)

	row.Amount = nil
	values, _, err = row.Save()
	require.NoError(t, err)
	assert.Nil(t, values["amount"])
}

func TestRowSchemaMatchesSavedColumns(t *testing.T) {
	values, _, err := (&PaymentEventRow{EventID: "evt-1"}).Save()
	require.NoError(t, err)

	schema := RowSchema()
	columns := make(map[string]bool, len(schema))
	for _, field := range schema {
		columns[field.Name] = true
	}
	assert.Len(t, columns, len(values))
	for name := range values {
		assert.True(t, columns[name], "column %s missing from schema", name)
	}
	assert.True(t, columns[RowPartitionField])
}

func newTestWriter(t *testing.T) (*BigQueryWriter, *fakeInserter) {
	t.Helper()
	fake := &fakeInserter{}
	writer, err := NewBigQueryWriter(fake, " payment_events ", RetryPolicy{MaxAttempts: 3})
	require.NoError(t, err)
	writer.sleep = func(context.Context, time.Duration) error { return nil }
	return writer, fake
}

type fakeInserter struct {
	responses []error
	calls     []string
}

func (f *fakeInserter) InsertRows(ctx context.Context, table string, rows []any) error {
	f.calls = append(f.calls, table)
	if len(f.responses) == 0 {
		return nil
	}
	err := f.responses[0]
	f.responses = f.responses[1:]
	return err
}
