package paymentevents

import (
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/shopspring/decimal"
)

// PaymentEventRow is one row of the payment events table.
type PaymentEventRow struct {
	EventID          string
	EventType        string
	PaymentID        string
	MerchantName     string
	Amount           *decimal.Decimal
	Currency         string
	Status           string
	TransactionID    string
	FailureKind      string
	NetworkReference string
	Actor            string
	OccurredAt       time.Time
	IngestedAt       time.Time
	Payload          bigquery.NullJSON
}

// Save implements bigquery.ValueSaver. The event id doubles as the streaming insert id.
func (r *PaymentEventRow) Save() (map[string]bigquery.Value, string, error) {
	values := map[string]bigquery.Value{
		"event_id":          r.EventID,
		"event_type":        r.EventType,
		"payment_id":        r.PaymentID,
		"merchant_name":     nullString(r.MerchantName),
		"amount":            nil,
		"currency":          nullString(r.Currency),
		"status":            nullString(r.Status),
		"transaction_id":    nullString(r.TransactionID),
		"failure_kind":      nullString(r.FailureKind),
		"network_reference": nullString(r.NetworkReference),
		"actor":             nullString(r.Actor),
		"occurred_at":       r.OccurredAt.UTC(),
		"ingested_at":       r.IngestedAt.UTC(),
		"payload":           r.Payload,
	}
	if r.Amount != nil {
		values["amount"] = bigquery.NumericString(r.Amount.Rat())
	}
	return values, r.EventID, nil
}

func nullString(value string) bigquery.NullString {
	if value == "" {
		return bigquery.NullString{}
	}
	return bigquery.NullString{StringVal: value, Valid: true}
}

// RowSchema is the payment events table layout; column names match Save.
func RowSchema() bigquery.Schema {
	str := func(name string, required bool) *bigquery.FieldSchema {
		return &bigquery.FieldSchema{Name: name, Type: bigquery.StringFieldType, Required: required}
	}
	return bigquery.Schema{
		str("event_id", true),
		str("event_type", true),
		str("payment_id", true),
		str("merchant_name", false),
		{Name: "amount", Type: bigquery.NumericFieldType},
		str("currency", false),
		str("status", false),
		str("transaction_id", false),
		str("failure_kind", false),
		str("network_reference", false),
		str("actor", false),
		{Name: "occurred_at", Type: bigquery.TimestampFieldType, Required: true},
		{Name: "ingested_at", Type: bigquery.TimestampFieldType, Required: true},
		{Name: "payload", Type: bigquery.JSONFieldType},
	}
}

// RowPartitionField partitions the table by event time.
const RowPartitionField = "occurred_at"
