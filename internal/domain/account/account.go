package account

import (
	"fmt"
	"strings"
	"time"

	"obgateway/internal/domain/money"
)

// CashAccount identifies an account at an ASPSP.
type CashAccount struct {
	SchemeName              string `json:"SchemeName"`
	Identification          string `json:"Identification"`
	Name                    string `json:"Name,omitempty"`
	SecondaryIdentification string `json:"SecondaryIdentification,omitempty"`
}

// Validate checks the mandatory identification fields.
func (a CashAccount) Validate() error {
	if strings.TrimSpace(a.SchemeName) == "" {
		return fmt.Errorf("SchemeName is required")
	}
	if strings.TrimSpace(a.Identification) == "" {
		return fmt.Errorf("Identification is required")
	}
	if len(a.Identification) > 256 {
		return fmt.Errorf("Identification must be at most 256 characters")
	}
	if len(a.Name) > 350 {
		return fmt.Errorf("Name must be at most 350 characters")
	}
	return nil
}

// Account is an account visible under an account-access consent.
type Account struct {
	AccountID      string        `json:"AccountId"`
	Currency       string        `json:"Currency"`
	AccountType    string        `json:"AccountType,omitempty"`
	AccountSubType string        `json:"AccountSubType,omitempty"`
	Nickname       string        `json:"Nickname,omitempty"`
	Account        []CashAccount `json:"Account,omitempty"`
}

// Balance is one balance line of an account.
type Balance struct {
	AccountID            string       `json:"AccountId"`
	CreditDebitIndicator string       `json:"CreditDebitIndicator"`
	Type                 string       `json:"Type"`
	DateTime             time.Time    `json:"DateTime"`
	Amount               money.Amount `json:"Amount"`
}

const (
	Credit = "Credit"
	Debit  = "Debit"
)

// Transaction is a booked or pending account entry.
type Transaction struct {
	AccountID            string       `json:"AccountId"`
	TransactionID        string       `json:"TransactionId"`
	TransactionReference string       `json:"TransactionReference,omitempty"`
	CreditDebitIndicator string       `json:"CreditDebitIndicator"`
	Status               string       `json:"Status"`
	BookingDateTime      time.Time    `json:"BookingDateTime"`
	Amount               money.Amount `json:"Amount"`
	// Information is only exposed with ReadTransactionsDetail.
	Information string `json:"TransactionInformation,omitempty"`
}

// NameVerificationRequest is a confirmation-of-payee check.
type NameVerificationRequest struct {
	SchemeName              string `json:"SchemeName"`
	Identification          string `json:"Identification"`
	Name                    string `json:"Name"`
	SecondaryIdentification string `json:"SecondaryIdentification,omitempty"`
	AccountType             string `json:"AccountType,omitempty"`
}

func (r NameVerificationRequest) Validate() error {
	if err := (CashAccount{SchemeName: r.SchemeName, Identification: r.Identification}).Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("Name is required")
	}
	if r.AccountType != "" && r.AccountType != "Personal" && r.AccountType != "Business" {
		return fmt.Errorf("AccountType must be Personal or Business")
	}
	return nil
}

// MatchResult is the outcome of a name verification.
type MatchResult string

const (
	MatchFull        MatchResult = "FullMatch"
	MatchClose       MatchResult = "CloseMatch"
	MatchNone        MatchResult = "NoMatch"
	MatchUnavailable MatchResult = "Unavailable"
)

type NameVerificationResult struct {
	Result MatchResult `json:"Result"`
	// Name is returned on a close match so the PSU can correct the payee.
	Name string `json:"Name,omitempty"`
}
