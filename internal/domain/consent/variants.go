package consent

import (
	"strings"
	"time"

	"obgateway/internal/apperr"
	"obgateway/internal/domain/account"
	"obgateway/internal/domain/money"
)

// AccountAccess grants read access to account information.
type AccountAccess struct {
	Base
	Permissions             []Permission `json:"Permissions"`
	ExpirationDateTime      *time.Time   `json:"ExpirationDateTime,omitempty"`
	TransactionFromDateTime *time.Time   `json:"TransactionFromDateTime,omitempty"`
	TransactionToDateTime   *time.Time   `json:"TransactionToDateTime,omitempty"`
}

func (c *AccountAccess) Type() Type { return TypeAccountAccess }

func (c *AccountAccess) Validate() error {
	if err := ValidatePermissions(c.Permissions); err != nil {
		return err
	}
	if c.TransactionFromDateTime != nil && c.TransactionToDateTime != nil &&
		c.TransactionFromDateTime.After(*c.TransactionToDateTime) {
		return apperr.Validation("consent.validate", "TransactionFromDateTime must not be after TransactionToDateTime")
	}
	return nil
}

// Expired reports whether the consent's ExpirationDateTime has passed.
func (c *AccountAccess) Expired(now time.Time) bool {
	return c.ExpirationDateTime != nil && !now.Before(*c.ExpirationDateTime)
}

// Grants reports whether any of the given permissions was granted.
func (c *AccountAccess) Grants(perms ...Permission) bool {
	for _, have := range c.Permissions {
		for _, want := range perms {
			if have == want {
				return true
			}
		}
	}
	return false
}

func (c *AccountAccess) open(time.Time) {}

func (c *AccountAccess) clone() Consent {
	cp := *c
	cp.Base = cloneBase(c.Base)
	cp.Permissions = append([]Permission(nil), c.Permissions...)
	cp.ExpirationDateTime = cloneTime(c.ExpirationDateTime)
	cp.TransactionFromDateTime = cloneTime(c.TransactionFromDateTime)
	cp.TransactionToDateTime = cloneTime(c.TransactionToDateTime)
	return &cp
}

// Initiation describes the single domestic credit transfer a payment consent covers.
type Initiation struct {
	InstructionIdentification string                 `json:"InstructionIdentification"`
	EndToEndIdentification    string                 `json:"EndToEndIdentification"`
	InstructedAmount          money.Amount           `json:"InstructedAmount"`
	CreditorAccount           account.CashAccount    `json:"CreditorAccount"`
	DebtorAccount             *account.CashAccount   `json:"DebtorAccount,omitempty"`
	RemittanceInformation     *RemittanceInformation `json:"RemittanceInformation,omitempty"`
}

type RemittanceInformation struct {
	Unstructured string `json:"Unstructured,omitempty"`
	Reference    string `json:"Reference,omitempty"`
}

func (i Initiation) Validate() error {
	if n := len(strings.TrimSpace(i.InstructionIdentification)); n == 0 || n > 35 {
		return apperr.Validation("consent.validate", "Initiation.InstructionIdentification must be 1-35 characters")
	}
	if n := len(strings.TrimSpace(i.EndToEndIdentification)); n == 0 || n > 35 {
		return apperr.Validation("consent.validate", "Initiation.EndToEndIdentification must be 1-35 characters")
	}
	if err := i.InstructedAmount.Validate(); err != nil {
		return apperr.Validation("consent.validate", "Initiation.InstructedAmount: %v", err)
	}
	if err := i.CreditorAccount.Validate(); err != nil {
		return apperr.Validation("consent.validate", "Initiation.CreditorAccount: %v", err)
	}
	if i.DebtorAccount != nil {
		if err := i.DebtorAccount.Validate(); err != nil {
			return apperr.Validation("consent.validate", "Initiation.DebtorAccount: %v", err)
		}
	}
	if r := i.RemittanceInformation; r != nil && (len(r.Unstructured) > 140 || len(r.Reference) > 35) {
		return apperr.Validation("consent.validate", "Initiation.RemittanceInformation is too long")
	}
	return nil
}

// Clone returns a deep copy of the initiation.
func (i Initiation) Clone() Initiation {
	if i.DebtorAccount != nil {
		d := *i.DebtorAccount
		i.DebtorAccount = &d
	}
	if i.RemittanceInformation != nil {
		r := *i.RemittanceInformation
		i.RemittanceInformation = &r
	}
	return i
}

type AuthorisationType string

const (
	AuthorisationSingle AuthorisationType = "Single"
	AuthorisationAny    AuthorisationType = "Any"
)

// Authorisation is the PSU-side approval policy requested by the TPP.
type Authorisation struct {
	AuthorisationType  AuthorisationType `json:"AuthorisationType"`
	CompletionDateTime *time.Time        `json:"CompletionDateTime,omitempty"`
	// NumberRequired > 1 enables multi-authorisation.
	NumberRequired int `json:"NumberRequired,omitempty"`
}

type Risk struct {
	PaymentContextCode             string `json:"PaymentContextCode,omitempty"`
	MerchantCategoryCode           string `json:"MerchantCategoryCode,omitempty"`
	MerchantCustomerIdentification string `json:"MerchantCustomerIdentification,omitempty"`
}

// DomesticPayment authorises exactly one domestic payment.
type DomesticPayment struct {
	Base
	Initiation         Initiation          `json:"Initiation"`
	Authorisation      *Authorisation      `json:"Authorisation,omitempty"`
	Risk               Risk                `json:"Risk"`
	MultiAuthorisation *MultiAuthorisation `json:"MultiAuthorisation,omitempty"`
}

func (c *DomesticPayment) Type() Type { return TypeDomesticPayment }

func (c *DomesticPayment) Validate() error {
	if err := c.Initiation.Validate(); err != nil {
		return err
	}
	if a := c.Authorisation; a != nil {
		if a.AuthorisationType != AuthorisationSingle && a.AuthorisationType != AuthorisationAny {
			return apperr.Validation("consent.validate", "Authorisation.AuthorisationType must be Single or Any")
		}
		if a.NumberRequired < 0 || a.NumberRequired > 10 {
			return apperr.Validation("consent.validate", "Authorisation.NumberRequired must be between 0 and 10")
		}
		if a.AuthorisationType == AuthorisationSingle && a.NumberRequired > 1 {
			return apperr.Validation("consent.validate", "Authorisation.NumberRequired above 1 needs AuthorisationType Any")
		}
	}
	return nil
}

func (c *DomesticPayment) open(now time.Time) {
	c.MultiAuthorisation = nil
	if a := c.Authorisation; a != nil && a.NumberRequired > 1 {
		c.MultiAuthorisation = &MultiAuthorisation{
			Status:             MultiAuthAwaitingFurther,
			NumberRequired:     a.NumberRequired,
			LastUpdateDateTime: &now,
			ExpirationDateTime: cloneTime(a.CompletionDateTime),
		}
	}
}

// MultiAuthorisationComplete reports whether the payment may be submitted.
func (c *DomesticPayment) MultiAuthorisationComplete() bool {
	return c.MultiAuthorisation == nil || c.MultiAuthorisation.Complete()
}

func (c *DomesticPayment) clone() Consent {
	cp := *c
	cp.Base = cloneBase(c.Base)
	cp.Initiation = c.Initiation.Clone()
	if c.Authorisation != nil {
		a := *c.Authorisation
		a.CompletionDateTime = cloneTime(c.Authorisation.CompletionDateTime)
		cp.Authorisation = &a
	}
	cp.MultiAuthorisation = c.MultiAuthorisation.Clone()
	return &cp
}

// FundsConfirmation lets a card-based instrument issuer ask whether funds are available.
type FundsConfirmation struct {
	Base
	DebtorAccount      account.CashAccount `json:"DebtorAccount"`
	ExpirationDateTime *time.Time          `json:"ExpirationDateTime,omitempty"`
}

func (c *FundsConfirmation) Type() Type { return TypeFundsConfirmation }

func (c *FundsConfirmation) Validate() error {
	if err := c.DebtorAccount.Validate(); err != nil {
		return apperr.Validation("consent.validate", "DebtorAccount: %v", err)
	}
	return nil
}

// Expired reports whether the consent's ExpirationDateTime has passed.
func (c *FundsConfirmation) Expired(now time.Time) bool {
	return c.ExpirationDateTime != nil && !now.Before(*c.ExpirationDateTime)
}

func (c *FundsConfirmation) open(time.Time) {}

func (c *FundsConfirmation) clone() Consent {
	cp := *c
	cp.Base = cloneBase(c.Base)
	cp.ExpirationDateTime = cloneTime(c.ExpirationDateTime)
	return &cp
}
