package accounts

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"obgateway/internal/apperr"
	"obgateway/internal/clock"
	"obgateway/internal/domain/account"
	"obgateway/internal/domain/consent"
	"obgateway/internal/domain/partnership"
	"obgateway/internal/metrics"
	"obgateway/internal/pagination"
	"obgateway/internal/provider"
	"obgateway/internal/services/vault"
	"obgateway/internal/store/repositories"
)

// Service serves account information under authorised account-access consents
// and confirmation-of-payee checks.
type Service struct {
	store    repositories.Store
	cache    repositories.AccountCache
	registry *provider.Registry
	vault    *vault.Vault
	clk      clock.Clock
	timeout  time.Duration
	cacheTTL time.Duration
}

func NewService(store repositories.Store, cache repositories.AccountCache, registry *provider.Registry, v *vault.Vault, clk clock.Clock, timeout, cacheTTL time.Duration) *Service {
	return &Service{
		store:    store,
		cache:    cache,
		registry: registry,
		vault:    v,
		clk:      clk,
		timeout:  timeout,
		cacheTTL: cacheTTL,
	}
}

// Accounts lists the accounts visible under a consent. Account identifications
// are only returned with ReadAccountsDetail.
func (s *Service) Accounts(ctx context.Context, consentID string) ([]account.Account, error) {
	const op = "accounts.list"
	aa, err := s.access(ctx, op, consentID, consent.ReadAccountsBasic, consent.ReadAccountsDetail)
	if err != nil {
		return nil, err
	}
	accounts, err := s.accounts(ctx, op, aa)
	if err != nil {
		return nil, err
	}
	if !aa.Grants(consent.ReadAccountsDetail) {
		for i := range accounts {
			accounts[i].Account = nil
		}
	}
	return accounts, nil
}

func (s *Service) Balances(ctx context.Context, consentID, accountID string) ([]account.Balance, error) {
	const op = "accounts.balances"
	aa, err := s.access(ctx, op, consentID, consent.ReadBalances)
	if err != nil {
		return nil, err
	}
	if err := s.visible(ctx, op, aa, accountID); err != nil {
		return nil, err
	}
	bank, grant, err := s.bank(ctx, op, aa)
	if err != nil {
		return nil, err
	}
	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	balances, err := bank.Balances(callCtx, grant, accountID)
	if err != nil {
		return nil, provider.AsAppError(op, err, false)
	}
	return balances, nil
}

// Transactions lists account entries booked in [from, to], narrowed to the
// consent's transaction window and to the credit/debit directions it grants.
func (s *Service) Transactions(ctx context.Context, consentID, accountID string, from, to *time.Time) ([]account.Transaction, error) {
	const op = "accounts.transactions"
	if from != nil && to != nil && from.After(*to) {
		return nil, apperr.Validation(op, "fromBookingDateTime must not be after toBookingDateTime")
	}
	aa, err := s.access(ctx, op, consentID, consent.ReadTransactionsBasic, consent.ReadTransactionsDetail)
	if err != nil {
		return nil, err
	}
	from, to = clamp(from, to, aa.TransactionFromDateTime, aa.TransactionToDateTime)
	if from != nil && to != nil && from.After(*to) {
		return []account.Transaction{}, nil
	}
	if err := s.visible(ctx, op, aa, accountID); err != nil {
		return nil, err
	}
	bank, grant, err := s.bank(ctx, op, aa)
	if err != nil {
		return nil, err
	}
	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	txs, err := bank.Transactions(callCtx, grant, accountID, from, to)
	if err != nil {
		return nil, provider.AsAppError(op, err, false)
	}

	credits, debits := aa.Grants(consent.ReadTransactionsCredits), aa.Grants(consent.ReadTransactionsDebits)
	detail := aa.Grants(consent.ReadTransactionsDetail)
	out := make([]account.Transaction, 0, len(txs))
	for _, tx := range txs {
		switch tx.CreditDebitIndicator {
		case account.Credit:
			if !credits {
				continue
			}
		case account.Debit:
			if !debits {
				continue
			}
		}
		if !detail {
			tx.Information = ""
		}
		out = append(out, tx)
	}
	return out, nil
}

// VerifyName runs a confirmation-of-payee check through the partnership's
// ASPSP, or the default one when partnershipID is empty.
func (s *Service) VerifyName(ctx context.Context, partnershipID string, req account.NameVerificationRequest) (*account.NameVerificationResult, error) {
	const op = "accounts.verify_name"
	if err := req.Validate(); err != nil {
		return nil, apperr.Validation(op, "%v", err)
	}
	var pt *partnership.Partnership
	if partnershipID = strings.TrimSpace(partnershipID); partnershipID != "" {
		p, err := s.store.Partnerships().Get(ctx, partnershipID)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return nil, apperr.Validation(op, "partnership %s does not exist", partnershipID)
			}
			return nil, apperr.Internal(op, err)
		}
		if !p.Supports(partnership.ModuleCOP) {
			return nil, apperr.Validation(op, "partnership %s does not support %s", partnershipID, partnership.ModuleCOP)
		}
		pt = p
	}
	bank, err := s.registry.ForOperation(pt, provider.OpNameVerification)
	if err != nil {
		return nil, provider.AsAppError(op, err, false)
	}
	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	began := time.Now()
	res, err := bank.VerifyName(callCtx, req)
	metrics.UpstreamDuration.WithLabelValues(string(provider.OpNameVerification)).Observe(time.Since(began).Seconds())
	if err != nil {
		return nil, provider.AsAppError(op, err, false)
	}
	log.Info().Str("result", string(res.Result)).Msg("name verification completed")
	return res, nil
}

// RefreshAccounts re-reads the accounts of every authorised, unexpired
// account-access consent into the cache.
func (s *Service) RefreshAccounts(ctx context.Context, logf func(format string, args ...any)) (refreshed, failed int, err error) {
	const op = "accounts.refresh"
	page := pagination.Request{Page: 1, PageSize: 100}.Pin(s.clk.Now())
	filter := repositories.ConsentFilter{Type: consent.TypeAccountAccess, Statuses: []consent.Status{consent.StatusAuthorised}}
	for {
		items, total, err := s.store.Consents().List(ctx, filter, page)
		if err != nil {
			return refreshed, failed, apperr.Internal(op, err)
		}
		for _, c := range items {
			if ctx.Err() != nil {
				return refreshed, failed, ctx.Err()
			}
			aa, ok := c.(*consent.AccountAccess)
			if !ok || aa.Expired(s.clk.Now()) {
				continue
			}
			accounts, err := s.fetch(ctx, op, aa)
			if err != nil {
				failed++
				logf("consent %s: %v", aa.ConsentID, err)
				log.Warn().Err(err).Str("consent_id", aa.ConsentID).Msg("account refresh failed")
				continue
			}
			refreshed++
			logf("consent %s: %d accounts", aa.ConsentID, len(accounts))
		}
		if len(items) == 0 || page.Served()+len(items) >= total {
			return refreshed, failed, nil
		}
		last := items[len(items)-1].PageKey()
		page.Page, page.After = page.Page+1, &last
	}
}

// access loads an account-access consent that is usable now and grants at
// least one of perms.
func (s *Service) access(ctx context.Context, op, consentID string, perms ...consent.Permission) (*consent.AccountAccess, error) {
	c, err := s.store.Consents().Get(ctx, consentID)
	if err != nil {
		return nil, repositories.AsAppError(op, "consent "+consentID, err)
	}
	aa, ok := c.(*consent.AccountAccess)
	if !ok {
		return nil, apperr.Validation(op, "consent %s is not an account access consent", consentID)
	}
	if aa.Status != consent.StatusAuthorised {
		return nil, apperr.Conflict(op, "consent %s is %s", consentID, aa.Status)
	}
	if aa.Expired(s.clk.Now()) {
		return nil, apperr.Expired(op, "consent %s has expired", consentID)
	}
	if !aa.Grants(perms...) {
		return nil, apperr.Validation(op, "consent %s does not grant %s", consentID, perms[0])
	}
	return aa, nil
}

// accounts reads through the cache.
func (s *Service) accounts(ctx context.Context, op string, aa *consent.AccountAccess) ([]account.Account, error) {
	cached, ok, err := s.cache.GetAccounts(ctx, aa.ConsentID)
	if err != nil {
		log.Warn().Err(err).Str("consent_id", aa.ConsentID).Msg("account cache read failed")
	}
	if ok {
		return cached, nil
	}
	return s.fetch(ctx, op, aa)
}

func (s *Service) fetch(ctx context.Context, op string, aa *consent.AccountAccess) ([]account.Account, error) {
	bank, grant, err := s.bank(ctx, op, aa)
	if err != nil {
		return nil, err
	}
	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	began := time.Now()
	accounts, err := bank.Accounts(callCtx, grant)
	metrics.UpstreamDuration.WithLabelValues(string(provider.OpAccounts)).Observe(time.Since(began).Seconds())
	if err != nil {
		return nil, provider.AsAppError(op, err, false)
	}
	if err := s.cache.PutAccounts(ctx, aa.ConsentID, accounts, s.cacheTTL); err != nil {
		log.Warn().Err(err).Str("consent_id", aa.ConsentID).Msg("account cache write failed")
	}
	return accounts, nil
}

func (s *Service) visible(ctx context.Context, op string, aa *consent.AccountAccess, accountID string) error {
	accounts, err := s.accounts(ctx, op, aa)
	if err != nil {
		return err
	}
	for _, a := range accounts {
		if a.AccountID == accountID {
			return nil
		}
	}
	return apperr.NotFound(op, "account %s not found", accountID)
}

func (s *Service) bank(ctx context.Context, op string, aa *consent.AccountAccess) (provider.Provider, provider.Grant, error) {
	var pt *partnership.Partnership
	if aa.PartnershipID != "" {
		p, err := s.store.Partnerships().Get(ctx, aa.PartnershipID)
		if err != nil {
			return nil, provider.Grant{}, apperr.Internal(op, err)
		}
		pt = p
	}
	bank, err := s.registry.ForOperation(pt, provider.OpAccounts)
	if err != nil {
		return nil, provider.Grant{}, provider.AsAppError(op, err, false)
	}
	grant, err := s.vault.Load(ctx, s.store.Grants(), aa.ConsentID)
	if err != nil {
		return nil, provider.Grant{}, apperr.Internal(op, err)
	}
	return bank, grant, nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// clamp narrows [from, to] to the consent window [lo, hi]; nil means unbounded.
func clamp(from, to, lo, hi *time.Time) (*time.Time, *time.Time) {
	if lo != nil && (from == nil || from.Before(*lo)) {
		from = lo
	}
	if hi != nil && (to == nil || to.After(*hi)) {
		to = hi
	}
	return from, to
}
