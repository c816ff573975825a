package payments

import (
	"time"
	"unicode/utf8"

	"github.com/angelmondragon/pushpay-backend/pkg/cards"
	pkgerrors "github.com/angelmondragon/pushpay-backend/pkg/errors"
)

const (
	minHolderNameLen = 2
	maxHolderNameLen = 50
)

// validateCard applies the acceptance rules for cards entering the system.
// field prefixes the keys of the returned details map.
func validateCard(field string, card cards.Card, requireCVV bool, now time.Time) error {
	problems := map[string]string{}

	if !cards.IsVisa(card.Number) {
		problems[field+".cardNumber"] = "must be a valid Visa card number"
	}
	if expired, err := cards.IsExpired(card.Expiry, now); err != nil {
		problems[field+".expiryDate"] = "must be MM/YY"
	} else if expired {
		problems[field+".expiryDate"] = "card has expired"
	}
	if n := utf8.RuneCountInString(card.HolderName); n < minHolderNameLen || n > maxHolderNameLen {
		problems[field+".cardholderName"] = "must be between 2 and 50 characters"
	}
	if requireCVV && !cards.IsValidCVV(card.CVV) {
		problems[field+".cvv"] = "must be 3 or 4 digits"
	}

	if len(problems) == 0 {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "invalid "+field).WithDetails(problems)
}
