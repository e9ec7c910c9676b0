package money

import (
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"
)

var (
	amountPattern   = regexp.MustCompile(`^\d{1,13}$|^\d{1,13}\.\d{1,5}$`)
	currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)
)

// Amount is an Open Banking ActiveOrHistoricCurrencyAndAmount.
type Amount struct {
	Amount   string `json:"Amount"`
	Currency string `json:"Currency"`
}

// Validate checks the amount string and ISO-4217 currency shape.
func (a Amount) Validate() error {
	if !amountPattern.MatchString(a.Amount) {
		return fmt.Errorf("amount %q does not match the amount pattern", a.Amount)
	}
	if !currencyPattern.MatchString(a.Currency) {
		return fmt.Errorf("currency %q must be a 3-letter ISO-4217 code", a.Currency)
	}
	return nil
}

// Decimal returns the numeric value. Call Validate first.
func (a Amount) Decimal() (decimal.Decimal, error) {
	return decimal.NewFromString(a.Amount)
}

// Covers reports whether balance is at least a in the same currency.
func (a Amount) Covers(balance Amount) (bool, error) {
	if a.Currency != balance.Currency {
		return false, nil
	}
	want, err := a.Decimal()
	if err != nil {
		return false, err
	}
	have, err := balance.Decimal()
	if err != nil {
		return false, err
	}
	return have.GreaterThanOrEqual(want), nil
}

func (a Amount) String() string {
	return a.Currency + " " + a.Amount
}
