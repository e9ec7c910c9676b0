package provider

import (
	"context"
	"time"

	"obgateway/internal/domain/account"
	"obgateway/internal/domain/consent"
	"obgateway/internal/domain/money"
	"obgateway/internal/domain/payment"
)

// ProviderType identifies an ASPSP adapter implementation.
type ProviderType string

const (
	ProviderOpenBanking ProviderType = "openbanking"
	ProviderSandbox     ProviderType = "sandbox"
)

// OperationType is one capability an adapter may offer.
type OperationType string

const (
	OpAuthorise        OperationType = "authorise"
	OpAccounts         OperationType = "accounts"
	OpPayments         OperationType = "payments"
	OpFunds            OperationType = "funds"
	OpNameVerification OperationType = "name_verification"
)

// Provider is an ASPSP adapter. Implementations must honour ctx deadlines.
type Provider interface {
	Name() string
	SupportedOperations() []OperationType

	// AuthURL builds the PSU redirect for a consent awaiting authorisation.
	AuthURL(ctx context.Context, req AuthURLRequest) (string, error)
	// ExchangeCode turns a single-use authorisation code into a decision.
	ExchangeCode(ctx context.Context, req ExchangeRequest) (*AuthDecision, error)

	Accounts(ctx context.Context, g Grant) ([]account.Account, error)
	Balances(ctx context.Context, g Grant, accountID string) ([]account.Balance, error)
	Transactions(ctx context.Context, g Grant, accountID string, from, to *time.Time) ([]account.Transaction, error)

	// SubmitPayment must treat IdempotencyKey as the rail's deduplication key.
	SubmitPayment(ctx context.Context, req PaymentSubmission) (*PaymentReceipt, error)
	PaymentStatus(ctx context.Context, g Grant, reference string) (payment.Status, error)

	CheckFunds(ctx context.Context, req FundsCheck) (bool, error)
	VerifyName(ctx context.Context, req account.NameVerificationRequest) (*account.NameVerificationResult, error)
}

type AuthURLRequest struct {
	ConsentID   string
	ConsentType consent.Type
	State       string
	RedirectURI string
}

type ExchangeRequest struct {
	ConsentID   string
	Code        string
	RedirectURI string
}

// Grant is the PSU access granted for one consent.
type Grant struct {
	ConsentID    string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// AuthDecision is the outcome of a code exchange. Grant is set only when approved.
type AuthDecision struct {
	Approved bool
	Grant    *Grant
}

type PaymentSubmission struct {
	IdempotencyKey string
	ConsentID      string
	Initiation     consent.Initiation
	Risk           consent.Risk
	Grant          Grant
}

type PaymentReceipt struct {
	Reference string
	Status    payment.Status
}

type FundsCheck struct {
	ConsentID     string
	Reference     string
	DebtorAccount *account.CashAccount
	Amount        money.Amount
	Grant         Grant
}

// ProviderError is a failure reported by an adapter or the ASPSP behind it.
type ProviderError struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	ProviderErr string `json:"provider_error,omitempty"`
}

func (e *ProviderError) Error() string {
	if e.ProviderErr != "" {
		return e.Message + ": " + e.ProviderErr
	}
	return e.Message
}

// ClientFault reports whether the failure was caused by the caller's input.
func (e *ProviderError) ClientFault() bool {
	switch e.Code {
	case ErrInvalidGrant, ErrInvalidRequest, ErrInvalidAccount:
		return true
	}
	return false
}

// Error codes
const (
	ErrInvalidGrant       = "invalid_grant"
	ErrInvalidRequest     = "invalid_request"
	ErrInvalidAccount     = "invalid_account"
	ErrProviderNotFound   = "provider_not_found"
	ErrUnsupported        = "operation_not_supported"
	ErrProviderDown       = "provider_down"
	ErrUnexpectedResponse = "unexpected_response"
)
