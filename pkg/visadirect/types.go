package visadirect

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/pushpay-backend/pkg/cards"
	"github.com/angelmondragon/pushpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pushpay-backend/pkg/errors"
)

const (
	actionCodeApproved    = "00"
	localDateTimeLayout   = "2006-01-02T15:04:05"
	transactionCurrency   = "USD"
	senderCountryCode     = "USA"
	acceptorCountryCode   = "840"
	acceptorCountyCode    = "00"
	feeProgramIndicator   = "123"
	sourceOfFundsCode     = "01"
	settlementServiceCode = 9
)

// TransferRequest is one push-funds attempt. Reference numbers are generated per attempt and never reused.
type TransferRequest struct {
	CorrelationID            string
	Sender                   cards.Card
	Recipient                cards.Card
	Amount                   decimal.Decimal
	SystemsTraceAuditNumber  int
	RetrievalReferenceNumber string
	TransactionIdentifier    int64
	LocalTransactionTime     time.Time
}

// StatusDetail is the normalized final status reported by the network.
type StatusDetail struct {
	ActionCode               string `json:"actionCode"`
	ApprovalCode             string `json:"approvalCode,omitempty"`
	ResponseCode             string `json:"responseCode,omitempty"`
	Status                   string `json:"status,omitempty"`
	TransactionIdentifier    string `json:"transactionIdentifier,omitempty"`
	SystemsTraceAuditNumber  string `json:"systemsTraceAuditNumber,omitempty"`
	AcquiringBIN             string `json:"acquiringBin,omitempty"`
	LocalTransactionDateTime string `json:"localTransactionDateTime,omitempty"`
}

// Approved reports whether the network accepted the transfer.
func (d StatusDetail) Approved() bool {
	return d.ActionCode == actionCodeApproved
}

// TransferResult is the outcome of Transfer. Failures are values, never errors.
type TransferResult struct {
	Success          bool
	TransactionID    string
	StatusIdentifier string
	CorrelationID    string
	Status           *StatusDetail
	FailureKind      enums.FailureKind
	Error            string
	Details          string
	PollAttempts     int
}

// NetworkReference returns the identifier the network knows this attempt by, if any.
func (r TransferResult) NetworkReference() string {
	if r.StatusIdentifier != "" {
		return r.StatusIdentifier
	}
	return r.TransactionID
}

// Outcome is a short label for logs and metrics.
func (r TransferResult) Outcome() string {
	if r.Success {
		return "success"
	}
	if r.FailureKind == "" {
		return string(enums.FailureKindNetwork)
	}
	return string(r.FailureKind)
}

// Err maps an unsuccessful result onto the error taxonomy. It returns nil on success.
func (r TransferResult) Err() error {
	if r.Success {
		return nil
	}
	code := pkgerrors.CodeTransferNetwork
	switch r.FailureKind {
	case enums.FailureKindTimeout:
		code = pkgerrors.CodeTransferTimeout
	case enums.FailureKindDeclined:
		code = pkgerrors.CodeTransferDecline
	case enums.FailureKindInvalidRequest:
		code = pkgerrors.CodeValidation
	}
	msg := r.Error
	if msg == "" {
		msg = "transfer failed"
	}
	return pkgerrors.New(code, msg).WithDetails(map[string]any{
		"failureKind": r.Outcome(),
	})
}

// pollOutcome is either pending with the raw placeholder, or resolved with a final status.
type pollOutcome struct {
	raw      string
	resolved *StatusDetail
}

func pending(raw string) pollOutcome {
	return pollOutcome{raw: raw}
}

func resolved(detail StatusDetail) pollOutcome {
	return pollOutcome{resolved: &detail}
}

func (o pollOutcome) isResolved() bool {
	return o.resolved != nil
}

type pushFundsRequest struct {
	AcquiringBIN             string          `json:"acquiringBin"`
	AcquirerCountryCode      int             `json:"acquirerCountryCode"`
	BusinessApplicationID    string          `json:"businessApplicationId"`
	LocalTransactionDateTime string          `json:"localTransactionDateTime"`
	MerchantCategoryCode     int             `json:"merchantCategoryCode"`
	Request                  []pushFundsItem `json:"request"`
}

type pushFundsItem struct {
	Amount                        string            `json:"amount"`
	CardAcceptor                  cardAcceptorBlock `json:"cardAcceptor"`
	FeeProgramIndicator           string            `json:"feeProgramIndicator"`
	LocalTransactionDateTime      string            `json:"localTransactionDateTime"`
	RecipientName                 string            `json:"recipientName"`
	RecipientPrimaryAccountNumber string            `json:"recipientPrimaryAccountNumber"`
	RetrievalReferenceNumber      string            `json:"retrievalReferenceNumber"`
	SenderAccountNumber           string            `json:"senderAccountNumber"`
	SenderAddress                 string            `json:"senderAddress"`
	SenderCity                    string            `json:"senderCity"`
	SenderCountryCode             string            `json:"senderCountryCode"`
	SenderName                    string            `json:"senderName"`
	SenderStateCode               string            `json:"senderStateCode"`
	SourceOfFundsCode             string            `json:"sourceOfFundsCode"`
	SystemsTraceAuditNumber       int               `json:"systemsTraceAuditNumber"`
	TransactionCurrencyCode       string            `json:"transactionCurrencyCode"`
	TransactionIdentifier         int64             `json:"transactionIdentifier"`
	SettlementServiceIndicator    int               `json:"settlementServiceIndicator"`
}

type cardAcceptorBlock struct {
	Name       string          `json:"name"`
	TerminalID string          `json:"terminalId"`
	IDCode     string          `json:"idCode"`
	Address    acceptorAddress `json:"address"`
}

type acceptorAddress struct {
	City    string `json:"city"`
	State   string `json:"state"`
	County  string `json:"county"`
	Country string `json:"country"`
	ZipCode string `json:"zipCode"`
}

// flexString accepts a JSON string or number; the network is not consistent about which.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	*f = flexString(string(b))
	return nil
}

type statusBody struct {
	StatusIdentifier         flexString   `json:"statusIdentifier"`
	TransactionIdentifier    flexString   `json:"transactionIdentifier"`
	ActionCode               flexString   `json:"actionCode"`
	ApprovalCode             flexString   `json:"approvalCode"`
	ResponseCode             flexString   `json:"responseCode"`
	Status                   flexString   `json:"status"`
	AcquiringBIN             flexString   `json:"acquiringBin"`
	LocalTransactionDateTime flexString   `json:"localTransactionDateTime"`
	Response                 []statusItem `json:"response"`
}

type statusItem struct {
	SystemsTraceAuditNumber flexString `json:"systemsTraceAuditNumber"`
	TransactionIdentifier   flexString `json:"transactionIdentifier"`
	ActionCode              flexString `json:"actionCode"`
	ApprovalCode            flexString `json:"approvalCode"`
	ResponseCode            flexString `json:"responseCode"`
	Status                  flexString `json:"status"`
}

func (b statusBody) detail() StatusDetail {
	d := StatusDetail{
		ActionCode:               string(b.ActionCode),
		ApprovalCode:             string(b.ApprovalCode),
		ResponseCode:             string(b.ResponseCode),
		Status:                   string(b.Status),
		TransactionIdentifier:    string(b.TransactionIdentifier),
		AcquiringBIN:             string(b.AcquiringBIN),
		LocalTransactionDateTime: string(b.LocalTransactionDateTime),
	}
	if len(b.Response) > 0 {
		item := b.Response[0]
		d.SystemsTraceAuditNumber = string(item.SystemsTraceAuditNumber)
		if item.ActionCode != "" {
			d.ActionCode = string(item.ActionCode)
		}
		if item.ApprovalCode != "" {
			d.ApprovalCode = string(item.ApprovalCode)
		}
		if item.ResponseCode != "" {
			d.ResponseCode = string(item.ResponseCode)
		}
		if item.Status != "" {
			d.Status = string(item.Status)
		}
		if item.TransactionIdentifier != "" {
			d.TransactionIdentifier = string(item.TransactionIdentifier)
		}
	}
	return d
}

func (b statusBody) identifier() string {
	if b.StatusIdentifier != "" {
		return string(b.StatusIdentifier)
	}
	return string(b.TransactionIdentifier)
}

// isInFlight reports statuses the network uses while settlement is still running.
func isInFlight(status string) bool {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "PENDING", "PROCESSING", "IN_PROGRESS":
		return true
	}
	return false
}

// classifyStatus turns a status response body into a pollOutcome.
// ambiguous is set when the body was JSON but carried no usable final status.
func classifyStatus(body []byte) (outcome pollOutcome, parsed *statusBody, ambiguous bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return pending(""), nil, false
	}

	switch trimmed[0] {
	case '{':
		var sb statusBody
		if err := json.Unmarshal(trimmed, &sb); err != nil {
			return pending(string(trimmed)), nil, true
		}
		detail := sb.detail()
		if detail.ActionCode == "" || isInFlight(detail.Status) {
			return pending(string(trimmed)), &sb, true
		}
		return resolved(detail), &sb, false
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return pending(strings.TrimSpace(s)), nil, false
		}
	}
	return pending(string(trimmed)), nil, false
}
