// Package sandbox is a deterministic in-process ASPSP for local runs and tests.
package sandbox

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	"obgateway/internal/clock"
	"obgateway/internal/domain/account"
	"obgateway/internal/domain/money"
	"obgateway/internal/domain/payment"
	"obgateway/internal/provider"
	"obgateway/internal/provider/base"
)

// Codes the sandbox understands at the token endpoint.
const (
	CodeApprove = "valid-code"
	CodeDeny    = "denied"
	CodeInvalid = "invalid-code"
)

type Options struct {
	AuthBaseURL string
	// Balance is the available balance of every sandbox account.
	Balance money.Amount
	// SettleAfter is how long a submitted payment stays Pending.
	SettleAfter time.Duration
	// Holders maps account identifications to account holder names for name verification.
	Holders map[string]string
}

type submitted struct {
	reference string
	status    payment.Status
	at        time.Time
}

type Provider struct {
	opts      Options
	clk       clock.Clock
	validator *base.AccountValidator

	mu       sync.Mutex
	payments map[string]*submitted // by idempotency key
	byRef    map[string]*submitted
	// Submissions counts rail calls, including deduplicated ones.
	submissions int
}

func New(opts Options, clk clock.Clock) *Provider {
	if opts.AuthBaseURL == "" {
		opts.AuthBaseURL = "https://sandbox.obgateway.local/authorize"
	}
	if opts.Balance.Currency == "" {
		opts.Balance = money.Amount{Amount: "1000.00", Currency: "GBP"}
	}
	return &Provider{
		opts:      opts,
		clk:       clk,
		validator: base.NewAccountValidator(),
		payments:  map[string]*submitted{},
		byRef:     map[string]*submitted{},
	}
}

func (p *Provider) Name() string { return "Sandbox ASPSP" }

func (p *Provider) SupportedOperations() []provider.OperationType {
	return []provider.OperationType{
		provider.OpAuthorise, provider.OpAccounts, provider.OpPayments,
		provider.OpFunds, provider.OpNameVerification,
	}
}

func (p *Provider) AuthURL(_ context.Context, req provider.AuthURLRequest) (string, error) {
	q := url.Values{}
	q.Set("consent_id", req.ConsentID)
	q.Set("state", req.State)
	q.Set("redirect_uri", req.RedirectURI)
	return p.opts.AuthBaseURL + "?" + q.Encode(), nil
}

func (p *Provider) ExchangeCode(ctx context.Context, req provider.ExchangeRequest) (*provider.AuthDecision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch req.Code {
	case CodeDeny:
		return &provider.AuthDecision{Approved: false}, nil
	case CodeInvalid:
		return nil, &provider.ProviderError{Code: provider.ErrInvalidGrant, Message: "authorisation code rejected"}
	}
	return &provider.AuthDecision{
		Approved: true,
		Grant: &provider.Grant{
			ConsentID:   req.ConsentID,
			AccessToken: "sandbox-" + uuid.NewString(),
			Expiry:      p.clk.Now().Add(90 * 24 * time.Hour),
		},
	}, nil
}

func (p *Provider) Accounts(ctx context.Context, g provider.Grant) ([]account.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []account.Account{
		{
			AccountID: "acc-current", Currency: p.opts.Balance.Currency,
			AccountType: "Personal", AccountSubType: "CurrentAccount", Nickname: "Bills",
			Account: []account.CashAccount{{SchemeName: base.SchemeSortCodeAccountNumber, Identification: "80200110203345", Name: "Mr Kevin"}},
		},
		{
			AccountID: "acc-savings", Currency: p.opts.Balance.Currency,
			AccountType: "Personal", AccountSubType: "Savings", Nickname: "Rainy day",
			Account: []account.CashAccount{{SchemeName: base.SchemeSortCodeAccountNumber, Identification: "80200110203348", Name: "Mr Kevin"}},
		},
	}, nil
}

func (p *Provider) Balances(ctx context.Context, g provider.Grant, accountID string) ([]account.Balance, error) {
	if err := p.knownAccount(ctx, g, accountID); err != nil {
		return nil, err
	}
	now := p.clk.Now()
	return []account.Balance{
		{AccountID: accountID, CreditDebitIndicator: account.Credit, Type: "InterimAvailable", DateTime: now, Amount: p.opts.Balance},
		{AccountID: accountID, CreditDebitIndicator: account.Credit, Type: "InterimBooked", DateTime: now, Amount: p.opts.Balance},
	}, nil
}

// Transactions returns one entry per day for the last ten days, alternating credit and debit.
func (p *Provider) Transactions(ctx context.Context, g provider.Grant, accountID string, from, to *time.Time) ([]account.Transaction, error) {
	if err := p.knownAccount(ctx, g, accountID); err != nil {
		return nil, err
	}
	day := p.clk.Now().Truncate(24 * time.Hour)
	var out []account.Transaction
	for i := 10; i >= 1; i-- {
		booked := day.Add(-time.Duration(i) * 24 * time.Hour)
		if (from != nil && booked.Before(*from)) || (to != nil && booked.After(*to)) {
			continue
		}
		indicator := account.Credit
		if i%2 == 0 {
			indicator = account.Debit
		}
		out = append(out, account.Transaction{
			AccountID:            accountID,
			TransactionID:        fmt.Sprintf("%s-tx-%02d", accountID, i),
			TransactionReference: fmt.Sprintf("REF%02d", i),
			CreditDebitIndicator: indicator,
			Status:               "Booked",
			BookingDateTime:      booked,
			Amount:               money.Amount{Amount: fmt.Sprintf("%d.00", 10*i), Currency: p.opts.Balance.Currency},
			Information:          "Sandbox transaction",
		})
	}
	return out, nil
}

func (p *Provider) knownAccount(ctx context.Context, g provider.Grant, accountID string) error {
	accounts, err := p.Accounts(ctx, g)
	if err != nil {
		return err
	}
	for _, a := range accounts {
		if a.AccountID == accountID {
			return nil
		}
	}
	return &provider.ProviderError{Code: provider.ErrInvalidAccount, Message: fmt.Sprintf("account %s is not visible under this consent", accountID)}
}

// SubmitPayment deduplicates on the idempotency key. Payments in a currency other
// than the sandbox balance currency are rejected by the rail.
func (p *Provider) SubmitPayment(ctx context.Context, req provider.PaymentSubmission) (*provider.PaymentReceipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := p.validator.Normalize(req.Initiation.CreditorAccount); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submissions++
	if prev, ok := p.payments[req.IdempotencyKey]; ok {
		return &provider.PaymentReceipt{Reference: prev.reference, Status: prev.status}, nil
	}
	s := &submitted{reference: "SBX-" + uuid.NewString(), status: payment.StatusPending, at: p.clk.Now()}
	if req.Initiation.InstructedAmount.Currency != p.opts.Balance.Currency {
		s.status = payment.StatusRejected
	}
	p.payments[req.IdempotencyKey] = s
	p.byRef[s.reference] = s
	return &provider.PaymentReceipt{Reference: s.reference, Status: s.status}, nil
}

// PaymentStatus reports AcceptedSettlementCompleted once SettleAfter has elapsed.
func (p *Provider) PaymentStatus(ctx context.Context, _ provider.Grant, reference string) (payment.Status, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.byRef[reference]
	if !ok {
		return "", &provider.ProviderError{Code: provider.ErrInvalidRequest, Message: "unknown payment reference " + reference}
	}
	if s.status == payment.StatusPending && !p.clk.Now().Before(s.at.Add(p.opts.SettleAfter)) {
		s.status = payment.StatusAcceptedSettlementCompleted
	}
	return s.status, nil
}

// Submissions is the number of rail submissions received.
func (p *Provider) Submissions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submissions
}

func (p *Provider) CheckFunds(ctx context.Context, req provider.FundsCheck) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return req.Amount.Covers(p.opts.Balance)
}

func (p *Provider) VerifyName(ctx context.Context, req account.NameVerificationRequest) (*account.NameVerificationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	acc, err := p.validator.Normalize(account.CashAccount{SchemeName: req.SchemeName, Identification: req.Identification})
	if err != nil {
		return nil, err
	}
	holder, ok := p.opts.Holders[acc.Identification]
	if !ok {
		return &account.NameVerificationResult{Result: account.MatchUnavailable}, nil
	}
	return &account.NameVerificationResult{Result: matchName(req.Name, holder), Name: closeName(req.Name, holder)}, nil
}

func matchName(given, holder string) account.MatchResult {
	g, h := fold(given), fold(holder)
	switch {
	case g == h:
		return account.MatchFull
	case g != "" && (strings.Contains(h, g) || strings.Contains(g, h) || lastWord(given) == lastWord(holder)):
		return account.MatchClose
	default:
		return account.MatchNone
	}
}

// closeName discloses the holder name only for a close match.
func closeName(given, holder string) string {
	if matchName(given, holder) == account.MatchClose {
		return holder
	}
	return ""
}

func fold(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func lastWord(s string) string {
	f := strings.Fields(s)
	if len(f) == 0 {
		return ""
	}
	return fold(f[len(f)-1])
}
