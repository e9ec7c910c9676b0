package base

import (
	"fmt"
	"regexp"
	"strings"

	"obgateway/internal/domain/account"
	"obgateway/internal/provider"
)

// Open Banking account identification schemes
const (
	SchemeSortCodeAccountNumber = "UK.OBIE.SortCodeAccountNumber"
	SchemeIBAN                  = "UK.OBIE.IBAN"
	SchemePAN                   = "UK.OBIE.PAN"
)

var schemePatterns = map[string]*regexp.Regexp{
	SchemeSortCodeAccountNumber: regexp.MustCompile(`^\d{14}$`),
	SchemeIBAN:                  regexp.MustCompile(`^[A-Z]{2}\d{2}[A-Z0-9]{11,30}$`),
	SchemePAN:                   regexp.MustCompile(`^\d{12,19}$`),
}

// AccountValidator checks scheme-specific identification formats before an
// account is sent to an ASPSP.
type AccountValidator struct {
	patterns map[string]*regexp.Regexp
}

// NewAccountValidator creates a validator for the known UK schemes.
func NewAccountValidator() *AccountValidator {
	return &AccountValidator{patterns: schemePatterns}
}

// Normalize strips formatting and validates the identification against its scheme.
// Unknown schemes are passed through for the ASPSP to judge.
func (v *AccountValidator) Normalize(a account.CashAccount) (account.CashAccount, error) {
	id := strings.ToUpper(strings.NewReplacer(" ", "", "-", "").Replace(a.Identification))
	pattern, known := v.patterns[a.SchemeName]
	if known && !pattern.MatchString(id) {
		return a, &provider.ProviderError{
			Code:    provider.ErrInvalidAccount,
			Message: fmt.Sprintf("identification is not a valid %s", a.SchemeName),
		}
	}
	a.Identification = id
	return a, nil
}

// SortCode returns the first six digits of a sort code/account number identification.
func SortCode(a account.CashAccount) string {
	if a.SchemeName != SchemeSortCodeAccountNumber || len(a.Identification) < 6 {
		return ""
	}
	return a.Identification[:6]
}
