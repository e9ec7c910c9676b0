// Package authflow drives the redirect based PSU authorisation of consents.
package authflow

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/url"
	"regexp"
	"time"

	"github.com/rs/zerolog/log"

	"obgateway/internal/apperr"
	"obgateway/internal/clock"
	"obgateway/internal/domain/consent"
	"obgateway/internal/domain/partnership"
	"obgateway/internal/metrics"
	"obgateway/internal/provider"
	"obgateway/internal/services/vault"
	"obgateway/internal/store/repositories"
)

// codePattern accepts visible ASCII only, as issued by OAuth authorisation servers.
var codePattern = regexp.MustCompile(`^[\x21-\x7E]+$`)

const maxCodeLen = 2048

type Service struct {
	store    repositories.Store
	locker   repositories.Locker
	registry *provider.Registry
	vault    *vault.Vault
	clk      clock.Clock
	timeout  time.Duration
}

// NewService creates the flow controller. timeout bounds each code exchange; zero means none.
func NewService(store repositories.Store, locker repositories.Locker, registry *provider.Registry, v *vault.Vault, clk clock.Clock, timeout time.Duration) *Service {
	return &Service{store: store, locker: locker, registry: registry, vault: v, clk: clk, timeout: timeout}
}

// Initiate starts an authorisation for a consent awaiting it, superseding any
// earlier request for the same consent.
func (s *Service) Initiate(ctx context.Context, consentID string, t consent.Type, redirectURI string) (*consent.AuthorisationRequest, error) {
	const op = "authflow.initiate"
	if err := validateRedirect(redirectURI); err != nil {
		return nil, apperr.Validation(op, "%v", err)
	}
	var out *consent.AuthorisationRequest
	err := repositories.WithLock(ctx, s.locker, repositories.ConsentKey(consentID), func() error {
		c, err := s.load(ctx, op, consentID, t)
		if err != nil {
			return err
		}
		if st := c.Header().Status; st != consent.StatusAwaitingAuthorisation {
			return apperr.Conflict(op, "consent %s is %s", consentID, st)
		}
		p, err := s.provider(ctx, op, c)
		if err != nil {
			return err
		}
		state, err := newState()
		if err != nil {
			return apperr.Internal(op, err)
		}
		authURL, err := p.AuthURL(ctx, provider.AuthURLRequest{
			ConsentID:   consentID,
			ConsentType: c.Type(),
			State:       state,
			RedirectURI: redirectURI,
		})
		if err != nil {
			return provider.AsAppError(op, err, false)
		}
		req := &consent.AuthorisationRequest{
			ConsentID:        consentID,
			AuthURL:          authURL,
			AuthState:        state,
			RedirectURI:      redirectURI,
			CreationDateTime: s.clk.Now(),
		}
		if err := s.store.AuthRequests().Put(ctx, req); err != nil {
			return apperr.Internal(op, err)
		}
		log.Info().Str("consent_id", consentID).Str("provider", p.Name()).Msg("authorisation initiated")
		out = req
		return nil
	})
	return out, err
}

// Complete redeems the authorisation code of the outstanding request. The
// request is consumed before the exchange, so a code is never tried twice;
// state is optional and, when given, must match the issued AuthState.
func (s *Service) Complete(ctx context.Context, consentID string, t consent.Type, code, state string) (consent.Consent, error) {
	const op = "authflow.complete"
	var out consent.Consent
	err := repositories.WithLock(ctx, s.locker, repositories.ConsentKey(consentID), func() error {
		c, err := s.load(ctx, op, consentID, t)
		if err != nil {
			return err
		}
		b := c.Header()
		if b.Status.Terminal() || b.Status == consent.StatusAuthorised {
			return apperr.Conflict(op, "consent %s is already %s", consentID, b.Status)
		}

		p, err := s.provider(ctx, op, c)
		if err != nil {
			return err
		}
		req, err := s.take(ctx, op, consentID, code, state)
		if err != nil {
			return err
		}

		exCtx, cancel := s.withTimeout(ctx)
		defer cancel()
		began := time.Now()
		decision, err := p.ExchangeCode(exCtx, provider.ExchangeRequest{
			ConsentID:   consentID,
			Code:        code,
			RedirectURI: req.RedirectURI,
		})
		metrics.UpstreamDuration.WithLabelValues(string(provider.OpAuthorise)).Observe(time.Since(began).Seconds())
		if err != nil {
			log.Warn().Err(err).Str("consent_id", consentID).Msg("authorisation exchange failed")
			return provider.AsAppError(op, err, true)
		}

		to := consent.StatusRejected
		if decision.Approved {
			to = consent.StatusAuthorised
		}
		if err := consent.Transition(c, to, s.clk.Now()); err != nil {
			return err
		}
		if err := s.persist(ctx, op, c, decision); err != nil {
			return err
		}
		metrics.ConsentTransitions.WithLabelValues(string(c.Type()), string(to)).Inc()
		log.Info().Str("consent_id", consentID).Str("status", string(to)).Msg("authorisation completed")
		out = c
		return nil
	})
	return out, err
}

// take consumes the outstanding request. Malformed input leaves it in place.
func (s *Service) take(ctx context.Context, op, consentID, code, state string) (*consent.AuthorisationRequest, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	defer tx.Rollback(ctx)

	req, err := tx.AuthRequests().Take(ctx, consentID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, apperr.NotFound(op, "no authorisation is in flight for consent %s", consentID)
	}
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if len(code) > maxCodeLen || !codePattern.MatchString(code) {
		return nil, apperr.Validation(op, "code is malformed")
	}
	if state != "" && subtle.ConstantTimeCompare([]byte(state), []byte(req.AuthState)) != 1 {
		return nil, apperr.Validation(op, "state does not match the outstanding authorisation")
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Internal(op, err)
	}
	return req, nil
}

func (s *Service) persist(ctx context.Context, op string, c consent.Consent, d *provider.AuthDecision) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return apperr.Internal(op, err)
	}
	defer tx.Rollback(ctx)
	if err := tx.Consents().Update(ctx, c); err != nil {
		return repositories.AsAppError(op, "consent", err)
	}
	if d.Approved && d.Grant != nil {
		g := *d.Grant
		g.ConsentID = c.Header().ConsentID
		if err := s.vault.Save(ctx, tx.Grants(), g); err != nil {
			return apperr.Internal(op, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Internal(op, err)
	}
	return nil
}

func (s *Service) load(ctx context.Context, op, id string, t consent.Type) (consent.Consent, error) {
	c, err := s.store.Consents().Get(ctx, id)
	if err != nil {
		return nil, repositories.AsAppError(op, "consent "+id, err)
	}
	if t != "" && c.Type() != t {
		return nil, apperr.NotFound(op, "consent %s not found", id)
	}
	return c, nil
}

func (s *Service) provider(ctx context.Context, op string, c consent.Consent) (provider.Provider, error) {
	var pt *partnership.Partnership
	if id := c.Header().PartnershipID; id != "" {
		p, err := s.store.Partnerships().Get(ctx, id)
		if err != nil {
			return nil, apperr.Internal(op, err)
		}
		pt = p
	}
	p, err := s.registry.ForOperation(pt, provider.OpAuthorise)
	if err != nil {
		return nil, provider.AsAppError(op, err, false)
	}
	return p, nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func validateRedirect(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return errors.New("RedirectUri must be an absolute http(s) URL")
	}
	if u.Fragment != "" {
		return errors.New("RedirectUri must not contain a fragment")
	}
	return nil
}

// newState returns 32 random bytes, base64url encoded.
func newState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
