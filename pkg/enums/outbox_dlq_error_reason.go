package enums

// OutboxDLQErrorReason records why an outbox row stopped being retried.
type OutboxDLQErrorReason string

const (
	// OutboxDLQReasonMaxAttempts: transient publish errors exhausted the attempt budget.
	OutboxDLQReasonMaxAttempts OutboxDLQErrorReason = "max_attempts"
	// OutboxDLQReasonNonRetryable: the row itself cannot be decoded or routed.
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
	// OutboxDLQReasonRejected: Pub/Sub refused the message with a permanent status.
	OutboxDLQReasonRejected OutboxDLQErrorReason = "rejected"
)

// String implements fmt.Stringer.
func (r OutboxDLQErrorReason) String() string {
	return string(r)
}

// IsValid reports whether the reason is one the DLQ table accepts.
func (r OutboxDLQErrorReason) IsValid() bool {
	switch r {
	case OutboxDLQReasonMaxAttempts, OutboxDLQReasonNonRetryable, OutboxDLQReasonRejected:
		return true
	}
	return false
}
