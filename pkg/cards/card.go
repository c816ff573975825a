package cards

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type Brand string

const (
	BrandVisa       Brand = "VISA"
	BrandMastercard Brand = "MASTERCARD"
	BrandUnknown    Brand = "UNKNOWN"
)

var (
	visaPattern       = regexp.MustCompile(`^4[0-9]{12}(?:[0-9]{3})?$`)
	mastercardPattern = regexp.MustCompile(`^5[1-5][0-9]{14}$`)
	expiryPattern     = regexp.MustCompile(`^(0[1-9]|1[0-2])/([0-9]{2})$`)
	cvvPattern        = regexp.MustCompile(`^[0-9]{3,4}$`)
)

// Card is a payment card as supplied by a merchant or a payer.
// CVV is only present on payer cards and is never persisted.
type Card struct {
	Number     string `json:"cardNumber"`
	Expiry     string `json:"expiryDate"`
	HolderName string `json:"cardholderName"`
	CVV        string `json:"cvv,omitempty"`
}

// New builds a normalized card.
func New(number, expiry, holderName, cvv string) Card {
	return Card{
		Number:     NormalizeNumber(number),
		Expiry:     strings.TrimSpace(expiry),
		HolderName: strings.TrimSpace(holderName),
		CVV:        strings.TrimSpace(cvv),
	}
}

// Normalized returns a copy with whitespace trimmed and the number compacted.
func (c Card) Normalized() Card {
	return New(c.Number, c.Expiry, c.HolderName, c.CVV)
}

// IsStructurallyValid reports whether the card carries the minimum needed to address a transfer.
func (c Card) IsStructurallyValid() bool {
	return NormalizeNumber(c.Number) != "" && strings.TrimSpace(c.HolderName) != ""
}

// Masked returns the number with every digit but the last four hidden.
func (c Card) Masked() string {
	return MaskNumber(c.Number)
}

// NormalizeNumber strips spaces and dashes.
func NormalizeNumber(number string) string {
	number = strings.ReplaceAll(number, " ", "")
	return strings.ReplaceAll(number, "-", "")
}

// MaskNumber renders a card number as "**** **** **** 1234".
func MaskNumber(number string) string {
	clean := NormalizeNumber(number)
	if len(clean) <= 4 {
		return strings.Repeat("*", len(clean))
	}
	return "**** **** **** " + clean[len(clean)-4:]
}

var panCandidateRe = regexp.MustCompile(`\d(?:[ -]?\d){12,18}`)

// Redact masks every Luhn-valid 13 to 19 digit run in text, such as a card number
// echoed back inside an upstream error body.
func Redact(text string) string {
	return panCandidateRe.ReplaceAllStringFunc(text, func(candidate string) string {
		if !PassesLuhn(NormalizeNumber(candidate)) {
			return candidate
		}
		return MaskNumber(candidate)
	})
}

// DetectBrand classifies a number that passes the Luhn check.
func DetectBrand(number string) Brand {
	clean := NormalizeNumber(number)
	if !PassesLuhn(clean) {
		return BrandUnknown
	}
	switch {
	case visaPattern.MatchString(clean):
		return BrandVisa
	case mastercardPattern.MatchString(clean):
		return BrandMastercard
	default:
		return BrandUnknown
	}
}

// IsVisa reports whether number is a 13 or 16 digit Visa PAN passing the Luhn check.
func IsVisa(number string) bool {
	return DetectBrand(number) == BrandVisa
}

// PassesLuhn implements the mod 10 check digit algorithm.
func PassesLuhn(number string) bool {
	if number == "" {
		return false
	}
	sum := 0
	alternate := false
	for i := len(number) - 1; i >= 0; i-- {
		n, err := strconv.Atoi(string(number[i]))
		if err != nil {
			return false
		}
		if alternate {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		alternate = !alternate
	}
	return sum%10 == 0
}

// ParseExpiry parses an MM/YY expiry into month and four-digit year.
func ParseExpiry(expiry string) (time.Month, int, error) {
	matches := expiryPattern.FindStringSubmatch(strings.TrimSpace(expiry))
	if matches == nil {
		return 0, 0, fmt.Errorf("invalid expiry %q: expected MM/YY", expiry)
	}
	month, _ := strconv.Atoi(matches[1])
	year, _ := strconv.Atoi(matches[2])
	return time.Month(month), 2000 + year, nil
}

// IsExpired reports whether the card can no longer be used at now.
// A card stays valid through the last day of its expiry month.
func IsExpired(expiry string, now time.Time) (bool, error) {
	month, year, err := ParseExpiry(expiry)
	if err != nil {
		return false, err
	}
	firstOfNext := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC)
	return !now.UTC().Before(firstOfNext), nil
}

// IsValidCVV reports whether cvv is three or four digits.
func IsValidCVV(cvv string) bool {
	return cvvPattern.MatchString(cvv)
}
