package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/pushpay-backend/pkg/cards"
)

// ErrorDump is the log-side view of an error chain. Card numbers are masked
// in every message it carries.
type ErrorDump struct {
	TopMessage string   `json:"top_message"`
	Code       Code     `json:"code,omitempty"`
	Chain      []string `json:"chain,omitempty"`

	DB  *DBErrorInfo  `json:"db,omitempty"`
	GCP *GCPErrorInfo `json:"gcp,omitempty"`
}

// DBErrorInfo is the Postgres diagnostic carried by pgx or lib/pq errors.
type DBErrorInfo struct {
	Code       string `json:"code,omitempty"`
	Constraint string `json:"constraint,omitempty"`
	Table      string `json:"table,omitempty"`
	Column     string `json:"column,omitempty"`
	Detail     string `json:"detail,omitempty"`
	Message    string `json:"message,omitempty"`
}

// GCPErrorInfo is the status of a failed Pub/Sub or BigQuery call.
type GCPErrorInfo struct {
	HTTPStatus int    `json:"http_status,omitempty"`
	GRPCCode   string `json:"grpc_code,omitempty"`
	Message    string `json:"message,omitempty"`
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}

	d := ErrorDump{TopMessage: cards.Redact(err.Error())}
	if typed := As(err); typed != nil {
		d.Code = typed.Code()
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, cards.Redact(fmt.Sprintf("%T: %v", e, e)))
	}
	d.DB = dbInfo(err)
	d.GCP = gcpInfo(err)
	return d
}

// Fields flattens the dump into structured log fields, skipping empty parts.
func (d ErrorDump) Fields() map[string]any {
	fields := map[string]any{"error": d.TopMessage}
	if d.Code != "" {
		fields["error_code"] = d.Code
	}
	if len(d.Chain) > 1 {
		fields["error_chain"] = d.Chain
	}
	if d.DB != nil {
		fields["pg_code"] = d.DB.Code
		fields["pg_constraint"] = d.DB.Constraint
		fields["pg_table"] = d.DB.Table
		fields["pg_column"] = d.DB.Column
		fields["pg_detail"] = d.DB.Detail
		fields["pg_message"] = d.DB.Message
	}
	if d.GCP != nil {
		if d.GCP.HTTPStatus != 0 {
			fields["gcp_http_status"] = d.GCP.HTTPStatus
		}
		if d.GCP.GRPCCode != "" {
			fields["gcp_grpc_code"] = d.GCP.GRPCCode
		}
		fields["gcp_message"] = d.GCP.Message
	}
	return fields
}

func dbInfo(err error) *DBErrorInfo {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return &DBErrorInfo{
			Code:       pgxErr.Code,
			Constraint: pgxErr.ConstraintName,
			Table:      pgxErr.TableName,
			Column:     pgxErr.ColumnName,
			Detail:     cards.Redact(pgxErr.Detail),
			Message:    pgxErr.Message,
		}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &DBErrorInfo{
			Code:       string(pqErr.Code),
			Constraint: pqErr.Constraint,
			Table:      pqErr.Table,
			Column:     pqErr.Column,
			Detail:     cards.Redact(pqErr.Detail),
			Message:    pqErr.Message,
		}
	}
	return nil
}

func gcpInfo(err error) *GCPErrorInfo {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return &GCPErrorInfo{HTTPStatus: apiErr.Code, Message: apiErr.Message}
	}
	var grpcErr interface{ GRPCStatus() *status.Status }
	if errors.As(err, &grpcErr) {
		st := grpcErr.GRPCStatus()
		return &GCPErrorInfo{GRPCCode: st.Code().String(), Message: st.Message()}
	}
	return nil
}
