package funds

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"obgateway/internal/apperr"
	"obgateway/internal/clock"
	"obgateway/internal/domain/consent"
	"obgateway/internal/domain/funds"
	"obgateway/internal/domain/money"
	"obgateway/internal/domain/partnership"
	"obgateway/internal/metrics"
	"obgateway/internal/pagination"
	"obgateway/internal/provider"
	"obgateway/internal/services/vault"
	"obgateway/internal/store/repositories"
)

// Service answers funds confirmation requests against authorised CBPII consents.
type Service struct {
	store    repositories.Store
	registry *provider.Registry
	vault    *vault.Vault
	clk      clock.Clock
	timeout  time.Duration
	newID    func() string
}

// NewService creates a funds confirmation service. timeout bounds the ASPSP call.
func NewService(store repositories.Store, registry *provider.Registry, v *vault.Vault, clk clock.Clock, timeout time.Duration) *Service {
	return &Service{
		store:    store,
		registry: registry,
		vault:    v,
		clk:      clk,
		timeout:  timeout,
		newID:    uuid.NewString,
	}
}

// Confirm asks the ASPSP whether the consent's debtor account covers amount and
// stores the answer. The consent itself is left untouched.
func (s *Service) Confirm(ctx context.Context, consentID, reference string, amount money.Amount) (*funds.Result, error) {
	const op = "funds.confirm"
	reference = strings.TrimSpace(reference)
	if err := funds.ValidateRequest(reference, amount); err != nil {
		return nil, apperr.Validation(op, "%v", err)
	}

	c, err := s.store.Consents().Get(ctx, consentID)
	if err != nil {
		return nil, repositories.AsAppError(op, "consent "+consentID, err)
	}
	fc, ok := c.(*consent.FundsConfirmation)
	if !ok {
		return nil, apperr.Validation(op, "consent %s is not a funds confirmation consent", consentID)
	}
	if fc.Status != consent.StatusAuthorised {
		return nil, apperr.Conflict(op, "consent %s is %s", consentID, fc.Status)
	}
	now := s.clk.Now()
	if fc.Expired(now) {
		return nil, apperr.Expired(op, "consent %s expired at %s", consentID, fc.ExpirationDateTime.Format(time.RFC3339))
	}

	var pt *partnership.Partnership
	if fc.PartnershipID != "" {
		if pt, err = s.store.Partnerships().Get(ctx, fc.PartnershipID); err != nil {
			return nil, apperr.Internal(op, err)
		}
	}
	bank, err := s.registry.ForOperation(pt, provider.OpFunds)
	if err != nil {
		return nil, provider.AsAppError(op, err, false)
	}
	grant, err := s.vault.Load(ctx, s.store.Grants(), consentID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}

	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	debtor := fc.DebtorAccount
	began := time.Now()
	available, err := bank.CheckFunds(callCtx, provider.FundsCheck{
		ConsentID:     consentID,
		Reference:     reference,
		DebtorAccount: &debtor,
		Amount:        amount,
		Grant:         grant,
	})
	metrics.UpstreamDuration.WithLabelValues(string(provider.OpFunds)).Observe(time.Since(began).Seconds())
	if err != nil {
		log.Warn().Err(err).Str("consent_id", consentID).Msg("funds check failed")
		return nil, provider.AsAppError(op, err, false)
	}

	res := &funds.Result{
		FundsConfirmationID: s.newID(),
		ConsentID:           consentID,
		Reference:           reference,
		InstructedAmount:    amount,
		FundsAvailable:      available,
		CreationDateTime:    s.clk.Now(),
	}
	if err := s.store.Funds().Insert(ctx, res); err != nil {
		return nil, repositories.AsAppError(op, "funds confirmation", err)
	}
	metrics.FundsConfirmations.WithLabelValues(strconv.FormatBool(available)).Inc()
	log.Info().
		Str("funds_confirmation_id", res.FundsConfirmationID).
		Str("consent_id", consentID).
		Bool("available", available).
		Msg("funds confirmed")
	return res, nil
}

func (s *Service) Get(ctx context.Context, id string) (*funds.Result, error) {
	res, err := s.store.Funds().Get(ctx, id)
	if err != nil {
		return nil, repositories.AsAppError("funds.get", "funds confirmation "+id, err)
	}
	return res, nil
}

// List returns stored confirmations, all of them when consentID is empty.
func (s *Service) List(ctx context.Context, consentID string, page pagination.Request) ([]*funds.Result, int, error) {
	items, total, err := s.store.Funds().List(ctx, consentID, page)
	if err != nil {
		return nil, 0, repositories.AsAppError("funds.list", "funds confirmation", err)
	}
	return items, total, nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}
