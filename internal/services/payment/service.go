package payment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"obgateway/internal/apperr"
	"obgateway/internal/clock"
	"obgateway/internal/domain/consent"
	"obgateway/internal/domain/funds"
	"obgateway/internal/domain/partnership"
	"obgateway/internal/domain/payment"
	"obgateway/internal/metrics"
	"obgateway/internal/pagination"
	"obgateway/internal/provider"
	"obgateway/internal/services/vault"
	"obgateway/internal/store/repositories"
)

// Service creates domestic payments from authorised consents exactly once and
// tracks their settlement.
type Service struct {
	store    repositories.Store
	locker   repositories.Locker
	registry *provider.Registry
	vault    *vault.Vault
	clk      clock.Clock
	timeout  time.Duration
	newID    func() string
}

// NewService creates a new payment service. timeout bounds every rail call.
func NewService(store repositories.Store, locker repositories.Locker, registry *provider.Registry, v *vault.Vault, clk clock.Clock, timeout time.Duration) *Service {
	return &Service{
		store:    store,
		locker:   locker,
		registry: registry,
		vault:    v,
		clk:      clk,
		timeout:  timeout,
		newID:    uuid.NewString,
	}
}

// Create submits the payment a consent authorises. A consent that already
// produced a payment returns that payment unchanged; created reports whether
// this call made it.
func (s *Service) Create(ctx context.Context, consentID string) (p *payment.DomesticPayment, created bool, err error) {
	const op = "payment.create"
	err = repositories.WithLock(ctx, s.locker, repositories.ConsentKey(consentID), func() error {
		existing, err := s.store.Payments().GetByConsent(ctx, consentID)
		if err == nil {
			p = existing
			return nil
		}
		if !errors.Is(err, repositories.ErrNotFound) {
			return apperr.Internal(op, err)
		}

		dp, err := s.paymentConsent(ctx, op, consentID)
		if err != nil {
			return err
		}
		if dp.Status != consent.StatusAuthorised {
			return apperr.Conflict(op, "consent %s is %s", consentID, dp.Status)
		}
		if !dp.MultiAuthorisationComplete() {
			ma := dp.MultiAuthorisation
			return apperr.PreconditionFailed(op, "%d of %d authorisations received", ma.NumberReceived, ma.NumberRequired)
		}

		rail, grant, err := s.rail(ctx, op, dp.PartnershipID, consentID, provider.OpPayments)
		if err != nil {
			return err
		}
		railCtx, cancel := s.withTimeout(ctx)
		defer cancel()
		began := time.Now()
		receipt, err := rail.SubmitPayment(railCtx, provider.PaymentSubmission{
			IdempotencyKey: consentID,
			ConsentID:      consentID,
			Initiation:     dp.Initiation.Clone(),
			Risk:           dp.Risk,
			Grant:          grant,
		})
		metrics.UpstreamDuration.WithLabelValues(string(provider.OpPayments)).Observe(time.Since(began).Seconds())
		if err != nil {
			log.Warn().Err(err).Str("consent_id", consentID).Msg("payment submission failed")
			return provider.AsAppError(op, err, false)
		}

		now := s.clk.Now()
		np := payment.New(s.newID(), dp, receipt.Status, receipt.Reference, now)
		if err := consent.Transition(dp, consent.StatusConsumed, now); err != nil {
			return err
		}
		if err := s.commit(ctx, op, np, dp); err != nil {
			if errors.Is(err, repositories.ErrDuplicate) {
				// another process won the race; the rail deduplicated on the consent id
				existing, gerr := s.store.Payments().GetByConsent(ctx, consentID)
				if gerr != nil {
					return apperr.Internal(op, gerr)
				}
				p = existing
				return nil
			}
			return repositories.AsAppError(op, "payment", err)
		}

		metrics.PaymentsCreated.WithLabelValues(string(np.Status)).Inc()
		metrics.ConsentTransitions.WithLabelValues(string(consent.TypeDomesticPayment), string(consent.StatusConsumed)).Inc()
		log.Info().
			Str("payment_id", np.DomesticPaymentID).
			Str("consent_id", consentID).
			Str("status", string(np.Status)).
			Msg("domestic payment created")
		p, created = np, true
		return nil
	})
	return p, created, err
}

// commit stores the payment and consumes the consent atomically.
func (s *Service) commit(ctx context.Context, op string, p *payment.DomesticPayment, dp *consent.DomesticPayment) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return apperr.Internal(op, err)
	}
	defer tx.Rollback(ctx)
	if err := tx.Payments().Insert(ctx, p); err != nil {
		return err
	}
	if err := tx.Consents().Update(ctx, dp); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (*payment.DomesticPayment, error) {
	p, err := s.store.Payments().Get(ctx, id)
	if err != nil {
		return nil, repositories.AsAppError("payment.get", "payment "+id, err)
	}
	return p, nil
}

func (s *Service) List(ctx context.Context, f repositories.PaymentFilter, page pagination.Request) ([]*payment.DomesticPayment, int, error) {
	items, total, err := s.store.Payments().List(ctx, f, page)
	if err != nil {
		return nil, 0, repositories.AsAppError("payment.list", "payment", err)
	}
	return items, total, nil
}

// RecordAuthorisation counts one approver towards a multi-authorisation.
// Approver tokens are kept only as SHA-256 digests.
func (s *Service) RecordAuthorisation(ctx context.Context, consentID, approverToken string) (*consent.MultiAuthorisation, error) {
	const op = "payment.record_authorisation"
	approverToken = strings.TrimSpace(approverToken)
	if approverToken == "" {
		return nil, apperr.Validation(op, "approver token is required")
	}
	var out *consent.MultiAuthorisation
	err := repositories.WithLock(ctx, s.locker, repositories.ConsentKey(consentID), func() error {
		dp, err := s.paymentConsent(ctx, op, consentID)
		if err != nil {
			return err
		}
		if dp.Status.Terminal() {
			return apperr.Conflict(op, "consent %s is %s", consentID, dp.Status)
		}
		ma := dp.MultiAuthorisation
		if ma == nil {
			return apperr.Validation(op, "consent %s does not require multiple authorisations", consentID)
		}

		digest := sha256.Sum256([]byte(approverToken))
		before := ma.Status
		recErr := ma.Record(hex.EncodeToString(digest[:]), s.clk.Now())
		if recErr != nil && ma.Status == before {
			return recErr
		}
		if err := s.store.Consents().Update(ctx, dp); err != nil {
			return repositories.AsAppError(op, "consent", err)
		}
		log.Info().
			Str("consent_id", consentID).
			Int("received", ma.NumberReceived).
			Int("required", ma.NumberRequired).
			Str("status", string(ma.Status)).
			Msg("payment authorisation recorded")
		if recErr != nil {
			return recErr
		}
		out = ma.Clone()
		return nil
	})
	return out, err
}

// FundsAvailability asks the ASPSP whether the debtor can cover an authorised payment consent.
func (s *Service) FundsAvailability(ctx context.Context, consentID string) (*funds.Availability, error) {
	const op = "payment.funds_availability"
	dp, err := s.paymentConsent(ctx, op, consentID)
	if err != nil {
		return nil, err
	}
	if dp.Status != consent.StatusAuthorised {
		return nil, apperr.Conflict(op, "consent %s is %s", consentID, dp.Status)
	}
	rail, grant, err := s.rail(ctx, op, dp.PartnershipID, consentID, provider.OpFunds)
	if err != nil {
		return nil, err
	}
	railCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	ok, err := rail.CheckFunds(railCtx, provider.FundsCheck{
		ConsentID:     consentID,
		Reference:     dp.Initiation.InstructionIdentification,
		DebtorAccount: dp.Initiation.DebtorAccount,
		Amount:        dp.Initiation.InstructedAmount,
		Grant:         grant,
	})
	if err != nil {
		return nil, provider.AsAppError(op, err, false)
	}
	return &funds.Availability{FundsAvailable: ok, FundsAvailableAt: s.clk.Now()}, nil
}

// ApplySettlement records progress reported by the settlement rail.
func (s *Service) ApplySettlement(ctx context.Context, paymentID string, to payment.Status) (*payment.DomesticPayment, error) {
	const op = "payment.apply_settlement"
	var out *payment.DomesticPayment
	err := repositories.WithLock(ctx, s.locker, repositories.PaymentKey(paymentID), func() error {
		p, err := s.store.Payments().Get(ctx, paymentID)
		if err != nil {
			return repositories.AsAppError(op, "payment "+paymentID, err)
		}
		if p.Status == to {
			out = p
			return nil
		}
		from := p.Status
		if err := p.Advance(to, s.clk.Now()); err != nil {
			return apperr.Conflict(op, "%v", err)
		}
		if err := s.store.Payments().Update(ctx, p); err != nil {
			return repositories.AsAppError(op, "payment", err)
		}
		log.Info().
			Str("payment_id", paymentID).
			Str("from", string(from)).
			Str("to", string(to)).
			Msg("payment settlement advanced")
		out = p
		return nil
	})
	return out, err
}

// RefreshStatuses polls the rail for every payment that may still move and
// applies what it reports. Failures are logged per payment and counted.
func (s *Service) RefreshStatuses(ctx context.Context, logf func(format string, args ...any)) (checked, failed int, err error) {
	const op = "payment.refresh_statuses"
	pending, err := s.store.Payments().ListUnsettled(ctx, 500)
	if err != nil {
		return 0, 0, apperr.Internal(op, err)
	}
	for _, p := range pending {
		if ctx.Err() != nil {
			return checked, failed, ctx.Err()
		}
		checked++
		rail, grant, err := s.rail(ctx, op, p.PartnershipID, p.ConsentID, provider.OpPayments)
		if err == nil {
			var status payment.Status
			railCtx, cancel := s.withTimeout(ctx)
			status, err = rail.PaymentStatus(railCtx, grant, p.RailReference)
			cancel()
			if err == nil && status != p.Status {
				_, err = s.ApplySettlement(ctx, p.DomesticPaymentID, status)
				if err == nil {
					logf("payment %s: %s -> %s", p.DomesticPaymentID, p.Status, status)
				}
			}
		}
		if err != nil {
			failed++
			logf("payment %s: %v", p.DomesticPaymentID, err)
			log.Warn().Err(err).Str("payment_id", p.DomesticPaymentID).Msg("payment status refresh failed")
		}
	}
	return checked, failed, nil
}

func (s *Service) paymentConsent(ctx context.Context, op, consentID string) (*consent.DomesticPayment, error) {
	c, err := s.store.Consents().Get(ctx, consentID)
	if err != nil {
		return nil, repositories.AsAppError(op, "consent "+consentID, err)
	}
	// a consent of another type is the wrong resource whatever its status
	dp, ok := c.(*consent.DomesticPayment)
	if !ok {
		return nil, apperr.Validation(op, "consent %s is not a domestic payment consent", consentID)
	}
	return dp, nil
}

func (s *Service) rail(ctx context.Context, op, partnershipID, consentID string, opType provider.OperationType) (provider.Provider, provider.Grant, error) {
	var pt *partnership.Partnership
	if partnershipID != "" {
		p, err := s.store.Partnerships().Get(ctx, partnershipID)
		if err != nil {
			return nil, provider.Grant{}, apperr.Internal(op, err)
		}
		pt = p
	}
	rail, err := s.registry.ForOperation(pt, opType)
	if err != nil {
		return nil, provider.Grant{}, provider.AsAppError(op, err, false)
	}
	grant, err := s.vault.Load(ctx, s.store.Grants(), consentID)
	if err != nil {
		return nil, provider.Grant{}, apperr.Internal(op, err)
	}
	return rail, grant, nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}
