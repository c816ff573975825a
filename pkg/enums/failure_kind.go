package enums

import "slices"

// FailureKind classifies why a payment attempt ended in FAILED.
type FailureKind string

const (
	FailureKindNetwork        FailureKind = "network"
	FailureKindTimeout        FailureKind = "timeout"
	FailureKindDeclined       FailureKind = "declined"
	FailureKindAbandoned      FailureKind = "abandoned"
	FailureKindInvalidRequest FailureKind = "invalid_request"
)

var validFailureKinds = []FailureKind{
	FailureKindNetwork,
	FailureKindTimeout,
	FailureKindDeclined,
	FailureKindAbandoned,
	FailureKindInvalidRequest,
}

func (f FailureKind) String() string { return string(f) }

func (f FailureKind) IsValid() bool { return slices.Contains(validFailureKinds, f) }

func ParseFailureKind(value string) (FailureKind, error) {
	return parse("failure kind", value, validFailureKinds)
}
