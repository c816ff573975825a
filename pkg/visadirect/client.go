package visadirect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/pushpay-backend/pkg/cards"
	"github.com/angelmondragon/pushpay-backend/pkg/config"
	"github.com/angelmondragon/pushpay-backend/pkg/enums"
	"github.com/angelmondragon/pushpay-backend/pkg/logger"
)

const (
	pushFundsPath             = "/visadirect/fundstransfer/v1/multipushfundstransactions"
	responseBodyReadLimit     = 64 * 1024
	transactionIDHeader       = "x-client-transaction-id"
	submitTransactionIDPrefix = "txn-"
	queryTransactionIDPrefix  = "query-"
)

type transferRecorder interface {
	ObserveTransfer(outcome string, pollAttempts int, duration time.Duration)
}

// Client performs push-funds transfers against Visa Direct and resolves their final status.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logg       *logger.Logger
	metrics    transferRecorder
	now        func() time.Time
	sleep      func(context.Context, time.Duration) error
	newID      func() string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client. Production clients carry the mutual TLS identity.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithLogger(logg *logger.Logger) Option {
	return func(c *Client) {
		if logg != nil {
			c.logg = logg
		}
	}
}

func WithMetrics(m transferRecorder) Option {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithClock replaces the wall clock and the delay between status polls.
func WithClock(now func() time.Time, sleep func(context.Context, time.Duration) error) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// NewClient builds a client from an already loaded Config.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	client := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logg:       logger.New(logger.Options{ServiceName: "visadirect", Output: io.Discard}),
		now:        time.Now,
		sleep:      sleepContext,
		newID:      func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// NewFromConfig loads the mutual TLS identity and builds a ready client.
// Any certificate error is returned so the caller can refuse to start.
func NewFromConfig(appCfg config.VisaDirectConfig, opts ...Option) (*Client, error) {
	cfg, err := ConfigFrom(appCfg)
	if err != nil {
		return nil, err
	}
	tlsCfg, err := LoadTLSConfig(appCfg.CertPath, appCfg.KeyPath, appCfg.CAPath)
	if err != nil {
		return nil, err
	}
	opts = append([]Option{WithHTTPClient(NewHTTPClient(tlsCfg, appCfg.RequestTimeout))}, opts...)
	return NewClient(cfg, opts...)
}

// Transfer pushes amount from source to destination and blocks until the network reports a
// final status or the poll budget runs out. It never returns an error; failures are results.
func (c *Client) Transfer(ctx context.Context, source, destination cards.Card, amount decimal.Decimal) TransferResult {
	start := c.now()
	result := c.transfer(ctx, source, destination, amount)
	if c.metrics != nil {
		c.metrics.ObserveTransfer(result.Outcome(), result.PollAttempts, c.now().Sub(start))
	}
	return result
}

func (c *Client) transfer(ctx context.Context, source, destination cards.Card, amount decimal.Decimal) TransferResult {
	correlationID := CorrelationIDFrom(ctx)
	if correlationID == "" {
		correlationID = c.newID()
	}
	if !amount.IsPositive() {
		return failure(enums.FailureKindInvalidRequest, correlationID, "amount must be greater than zero", "")
	}
	source = source.Normalized()
	destination = destination.Normalized()
	if !source.IsStructurallyValid() {
		return failure(enums.FailureKindInvalidRequest, correlationID, "source card requires a number and holder name", "")
	}
	if !destination.IsStructurallyValid() {
		return failure(enums.FailureKindInvalidRequest, correlationID, "destination card requires a number and holder name", "")
	}

	req := c.newRequest(correlationID, source, destination, amount)
	ctx = c.logg.WithFields(ctx, map[string]any{
		"correlation_id":  req.CorrelationID,
		"stan":            req.SystemsTraceAuditNumber,
		"rrn":             req.RetrievalReferenceNumber,
		"sender_card":     source.Masked(),
		"recipient_card":  destination.Masked(),
		"transfer_amount": amount.StringFixed(2),
	})
	c.logg.Info(ctx, "visadirect.transfer.submit")

	ack, err := c.submit(ctx, req)
	if err != nil {
		c.logg.Error(ctx, "visadirect.transfer.submit_failed", err)
		return failure(enums.FailureKindNetwork, req.CorrelationID, "transfer submission failed", err.Error())
	}
	if ack.isResolved() {
		return c.resolve(ctx, req.CorrelationID, "", *ack.resolved, 0)
	}

	statusID := ack.raw
	if statusID == "" {
		c.logg.Warn(ctx, "visadirect.transfer.empty_acknowledgement")
		return failure(enums.FailureKindNetwork, req.CorrelationID, "transfer acknowledgement carried no identifier", "")
	}
	ctx = c.logg.WithField(ctx, "status_identifier", statusID)
	return c.poll(ctx, req.CorrelationID, statusID)
}

func (c *Client) newRequest(correlationID string, source, destination cards.Card, amount decimal.Decimal) TransferRequest {
	now := c.now().UTC()
	stan := rand.IntN(1_000_000)
	return TransferRequest{
		CorrelationID:            correlationID,
		Sender:                   source,
		Recipient:                destination,
		Amount:                   amount.Round(2),
		SystemsTraceAuditNumber:  stan,
		RetrievalReferenceNumber: retrievalReference(now, stan),
		TransactionIdentifier:    transactionIdentifier(),
		LocalTransactionTime:     now,
	}
}

// retrievalReference is the 12 digit RRN: last year digit, day of year, hour, STAN.
func retrievalReference(now time.Time, stan int) string {
	return fmt.Sprintf("%d%03d%02d%06d", now.Year()%10, now.YearDay(), now.Hour(), stan)
}

func transactionIdentifier() int64 {
	const low = 100_000_000_000_000
	return low + rand.Int64N(9*low)
}

func (c *Client) payload(req TransferRequest) pushFundsRequest {
	localTime := req.LocalTransactionTime.Format(localDateTimeLayout)
	stan := fmt.Sprintf("%06d", req.SystemsTraceAuditNumber)
	acceptor := c.cfg.CardAcceptor
	return pushFundsRequest{
		AcquiringBIN:             c.cfg.AcquiringBIN,
		AcquirerCountryCode:      c.cfg.AcquirerCountryCode,
		BusinessApplicationID:    c.cfg.BusinessApplicationID,
		LocalTransactionDateTime: localTime,
		MerchantCategoryCode:     c.cfg.MerchantCategoryCode,
		Request: []pushFundsItem{{
			Amount: req.Amount.StringFixed(2),
			CardAcceptor: cardAcceptorBlock{
				Name:       acceptor.Name,
				TerminalID: stan,
				IDCode:     req.RetrievalReferenceNumber[:4],
				Address: acceptorAddress{
					City:    acceptor.City,
					State:   acceptor.State,
					County:  acceptorCountyCode,
					Country: acceptorCountryCode,
					ZipCode: acceptor.ZipCode,
				},
			},
			FeeProgramIndicator:           feeProgramIndicator,
			LocalTransactionDateTime:      localTime,
			RecipientName:                 req.Recipient.HolderName,
			RecipientPrimaryAccountNumber: req.Recipient.Number,
			RetrievalReferenceNumber:      req.RetrievalReferenceNumber,
			SenderAccountNumber:           req.Sender.Number,
			SenderAddress:                 acceptor.Address,
			SenderCity:                    acceptor.City,
			SenderCountryCode:             senderCountryCode,
			SenderName:                    req.Sender.HolderName,
			SenderStateCode:               acceptor.State,
			SourceOfFundsCode:             sourceOfFundsCode,
			SystemsTraceAuditNumber:       req.SystemsTraceAuditNumber,
			TransactionCurrencyCode:       transactionCurrency,
			TransactionIdentifier:         req.TransactionIdentifier,
			SettlementServiceIndicator:    settlementServiceCode,
		}},
	}
}

// submit posts the transfer. It is never retried.
func (c *Client) submit(ctx context.Context, req TransferRequest) (pollOutcome, error) {
	body, err := json.Marshal(c.payload(req))
	if err != nil {
		return pollOutcome{}, fmt.Errorf("marshal transfer request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+pushFundsPath, bytes.NewReader(body))
	if err != nil {
		return pollOutcome{}, fmt.Errorf("build transfer request: %w", err)
	}
	c.authorize(httpReq, submitTransactionIDPrefix+req.CorrelationID)
	httpReq.Header.Set("Content-Type", "application/json")

	raw, err := c.do(httpReq)
	if err != nil {
		return pollOutcome{}, err
	}
	return parseAcknowledgement(raw), nil
}

// parseAcknowledgement returns the immediately resolved status, or the identifier to poll.
func parseAcknowledgement(raw []byte) pollOutcome {
	outcome, parsed, _ := classifyStatus(raw)
	if outcome.isResolved() {
		if outcome.resolved.TransactionIdentifier == "" && parsed != nil {
			outcome.resolved.TransactionIdentifier = parsed.identifier()
		}
		return outcome
	}
	if parsed != nil {
		return pending(parsed.identifier())
	}
	return outcome
}

func (c *Client) poll(ctx context.Context, correlationID, statusID string) TransferResult {
	attempts := c.cfg.PollAttempts
	var lastErr string
	for attempt := 1; attempt <= attempts; attempt++ {
		attemptCtx := c.logg.WithField(ctx, "poll_attempt", attempt)

		outcome, err := c.queryStatus(attemptCtx, statusID)
		switch {
		case err != nil:
			var se *statusError
			if errors.As(err, &se) && se.clientError() {
				c.logg.Error(attemptCtx, "visadirect.status.rejected", err)
				res := failure(enums.FailureKindNetwork, correlationID, "transfer status query rejected", err.Error())
				res.StatusIdentifier = statusID
				res.PollAttempts = attempt
				return res
			}
			lastErr = err.Error()
			c.logg.Warn(c.logg.WithField(attemptCtx, "error", lastErr), "visadirect.status.retry")
		case outcome.isResolved():
			return c.resolve(ctx, correlationID, statusID, *outcome.resolved, attempt)
		default:
			lastErr = ""
			c.logg.Debug(c.logg.WithField(attemptCtx, "placeholder", truncate(outcome.raw, 128)), "visadirect.status.pending")
		}

		if attempt == attempts {
			break
		}
		if err := c.sleep(ctx, c.cfg.PollInterval); err != nil {
			res := failure(enums.FailureKindTimeout, correlationID, "transfer status polling cancelled", err.Error())
			res.StatusIdentifier = statusID
			res.PollAttempts = attempt
			return res
		}
	}

	c.logg.Warn(c.logg.WithField(ctx, "poll_attempts", attempts), "visadirect.status.exhausted")
	details := "no final status after poll budget"
	if lastErr != "" {
		details = lastErr
	}
	res := failure(enums.FailureKindTimeout, correlationID, "transfer status did not resolve in time", details)
	res.StatusIdentifier = statusID
	res.PollAttempts = attempts
	return res
}

func (c *Client) queryStatus(ctx context.Context, statusID string) (pollOutcome, error) {
	endpoint := c.cfg.BaseURL + pushFundsPath + "/" + url.PathEscape(statusID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return pollOutcome{}, fmt.Errorf("build status request: %w", err)
	}
	c.authorize(httpReq, queryTransactionIDPrefix+c.newID())

	raw, err := c.do(httpReq)
	if err != nil {
		return pollOutcome{}, err
	}
	outcome, _, _ := classifyStatus(raw)
	return outcome, nil
}

func (c *Client) authorize(req *http.Request, transactionID string) {
	req.SetBasicAuth(c.cfg.UserID, c.cfg.Password)
	req.Header.Set("Accept", "application/json")
	req.Header.Set(transactionIDHeader, transactionID)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &statusError{code: resp.StatusCode, body: truncate(strings.TrimSpace(string(body)), 512)}
	}
	return body, nil
}

func (c *Client) resolve(ctx context.Context, correlationID, statusID string, detail StatusDetail, attempts int) TransferResult {
	res := TransferResult{
		CorrelationID:    correlationID,
		StatusIdentifier: statusID,
		Status:           &detail,
		PollAttempts:     attempts,
	}
	res.TransactionID = firstNonEmpty(detail.TransactionIdentifier, statusID, correlationID)

	ctx = c.logg.WithFields(ctx, map[string]any{
		"action_code":    detail.ActionCode,
		"transaction_id": res.TransactionID,
	})
	if !detail.Approved() {
		res.FailureKind = enums.FailureKindDeclined
		res.Error = "transfer declined by network"
		res.Details = "action code " + detail.ActionCode
		c.logg.Warn(ctx, "visadirect.transfer.declined")
		return res
	}
	res.Success = true
	c.logg.Info(ctx, "visadirect.transfer.completed")
	return res
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return "visa direct status " + strconv.Itoa(e.code)
	}
	return fmt.Sprintf("visa direct status %d: %s", e.code, e.body)
}

func (e *statusError) clientError() bool {
	return e.code >= 400 && e.code < 500
}

func failure(kind enums.FailureKind, correlationID, msg, details string) TransferResult {
	return TransferResult{
		CorrelationID: correlationID,
		FailureKind:   kind,
		Error:         msg,
		Details:       details,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
