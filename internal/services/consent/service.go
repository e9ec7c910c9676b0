package consent

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"obgateway/internal/apperr"
	"obgateway/internal/clock"
	"obgateway/internal/domain/consent"
	"obgateway/internal/domain/partnership"
	"obgateway/internal/metrics"
	"obgateway/internal/pagination"
	"obgateway/internal/store/repositories"
)

// Service owns the consent lifecycle: creation, partnership binding, listing and deletion.
type Service struct {
	store  repositories.Store
	locker repositories.Locker
	clk    clock.Clock
	newID  func() string
}

// NewService creates a new consent service
func NewService(store repositories.Store, locker repositories.Locker, clk clock.Clock) *Service {
	return &Service{store: store, locker: locker, clk: clk, newID: uuid.NewString}
}

// Create validates c, binds it to an optional partnership and stores it as AwaitingAuthorisation.
func (s *Service) Create(ctx context.Context, c consent.Consent, tags []string, partnershipID string) (consent.Consent, error) {
	const op = "consent.create"
	partnershipID = strings.TrimSpace(partnershipID)
	if partnershipID != "" {
		if _, err := s.partnershipFor(ctx, op, partnershipID, c.Type()); err != nil {
			return nil, err
		}
	}
	if err := consent.Open(c, s.newID(), tags, partnershipID, s.clk.Now()); err != nil {
		return nil, err
	}
	if err := s.store.Consents().Insert(ctx, c); err != nil {
		return nil, repositories.AsAppError(op, "consent", err)
	}
	b := c.Header()
	metrics.ConsentTransitions.WithLabelValues(string(c.Type()), string(b.Status)).Inc()
	log.Info().
		Str("consent_id", b.ConsentID).
		Str("type", string(c.Type())).
		Str("partnership_id", b.PartnershipID).
		Msg("consent created")
	return consent.Clone(c), nil
}

// Get returns a consent of type t; a consent of another type is reported as not found.
// An empty t matches any type.
func (s *Service) Get(ctx context.Context, id string, t consent.Type) (consent.Consent, error) {
	return load(ctx, s.store, "consent.get", id, t)
}

// Initialize binds a consent to a partnership after creation. Binding the same
// partnership again is a no-op.
func (s *Service) Initialize(ctx context.Context, id string, t consent.Type, partnershipID string) (consent.Consent, error) {
	const op = "consent.initialize"
	partnershipID = strings.TrimSpace(partnershipID)
	if partnershipID == "" {
		return nil, apperr.Validation(op, "PartnershipId is required")
	}
	var out consent.Consent
	err := repositories.WithLock(ctx, s.locker, repositories.ConsentKey(id), func() error {
		c, err := load(ctx, s.store, op, id, t)
		if err != nil {
			return err
		}
		if c.Type() == consent.TypeFundsConfirmation {
			return apperr.Validation(op, "funds confirmation consents cannot be initialized")
		}
		if _, err := s.partnershipFor(ctx, op, partnershipID, c.Type()); err != nil {
			return err
		}
		b := c.Header()
		switch {
		case b.PartnershipID == partnershipID:
			out = c
			return nil
		case b.PartnershipID != "":
			return apperr.Conflict(op, "consent %s is bound to another partnership", id)
		case b.Status.Terminal():
			return apperr.Conflict(op, "consent %s is %s", id, b.Status)
		}
		b.PartnershipID = partnershipID
		if err := s.store.Consents().Update(ctx, c); err != nil {
			return repositories.AsAppError(op, "consent", err)
		}
		log.Info().Str("consent_id", id).Str("partnership_id", partnershipID).Msg("consent bound to partnership")
		out = c
		return nil
	})
	return out, err
}

// Filter narrows List. Every tag must be present on a listed consent.
type Filter struct {
	PartnershipID string
	Tags          []string
}

func (s *Service) List(ctx context.Context, t consent.Type, f Filter, page pagination.Request) ([]consent.Consent, int, error) {
	items, total, err := s.store.Consents().List(ctx, repositories.ConsentFilter{
		Type:          t,
		PartnershipID: f.PartnershipID,
		Tags:          f.Tags,
	}, page)
	if err != nil {
		return nil, 0, repositories.AsAppError("consent.list", "consent", err)
	}
	return items, total, nil
}

// Delete revokes an account access or funds confirmation consent and rejects a
// payment consent. It discards any in-flight authorisation and stored grant.
func (s *Service) Delete(ctx context.Context, id string, t consent.Type) error {
	const op = "consent.delete"
	return repositories.WithLock(ctx, s.locker, repositories.ConsentKey(id), func() error {
		c, err := load(ctx, s.store, op, id, t)
		if err != nil {
			return err
		}
		b := c.Header()
		if b.Status.Terminal() {
			return apperr.Conflict(op, "consent %s is already %s", id, b.Status)
		}
		to := consent.StatusRevoked
		if c.Type() == consent.TypeDomesticPayment {
			to = consent.StatusRejected
		}
		if err := consent.Transition(c, to, s.clk.Now()); err != nil {
			return err
		}

		tx, err := s.store.Begin(ctx)
		if err != nil {
			return apperr.Internal(op, err)
		}
		defer tx.Rollback(ctx)
		if err := tx.Consents().Update(ctx, c); err != nil {
			return repositories.AsAppError(op, "consent", err)
		}
		if err := tx.AuthRequests().Delete(ctx, id); err != nil {
			return apperr.Internal(op, err)
		}
		if err := tx.Grants().Delete(ctx, id); err != nil {
			return apperr.Internal(op, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return apperr.Internal(op, err)
		}

		metrics.ConsentTransitions.WithLabelValues(string(c.Type()), string(to)).Inc()
		log.Info().Str("consent_id", id).Str("status", string(to)).Msg("consent deleted")
		return nil
	})
}

func (s *Service) partnershipFor(ctx context.Context, op, id string, t consent.Type) (*partnership.Partnership, error) {
	p, err := s.store.Partnerships().Get(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, apperr.Validation(op, "unknown partnership %s", id)
		}
		return nil, apperr.Internal(op, err)
	}
	if !p.Supports(t.Module()) {
		return nil, apperr.Validation(op, "partnership %s does not support %s", id, t.Module())
	}
	return p, nil
}

// load reads a consent and hides consents of another type than t.
func load(ctx context.Context, repos repositories.Repositories, op, id string, t consent.Type) (consent.Consent, error) {
	c, err := repos.Consents().Get(ctx, id)
	if err != nil {
		return nil, repositories.AsAppError(op, "consent "+id, err)
	}
	if t != "" && c.Type() != t {
		return nil, apperr.NotFound(op, "consent %s not found", id)
	}
	return c, nil
}
