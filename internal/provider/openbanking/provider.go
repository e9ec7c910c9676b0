// Package openbanking adapts an ASPSP exposing the UK Open Banking read/write APIs.
package openbanking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"obgateway/internal/domain/consent"
	"obgateway/internal/provider"
	"obgateway/internal/provider/base"
)

// Config holds the ASPSP endpoints and the TPP's client registration.
type Config struct {
	BaseURL      string
	AuthURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

type Provider struct {
	cfg       Config
	http      *base.HTTPClient
	validator *base.AccountValidator
}

func New(cfg Config) *Provider {
	c := base.NewHTTPClient("openbanking", cfg.Timeout)
	c.SetBaseURL(cfg.BaseURL)
	return &Provider{cfg: cfg, http: c, validator: base.NewAccountValidator()}
}

func (p *Provider) Name() string { return "Open Banking ASPSP" }

func (p *Provider) SupportedOperations() []provider.OperationType {
	return []provider.OperationType{
		provider.OpAuthorise, provider.OpAccounts, provider.OpPayments,
		provider.OpFunds, provider.OpNameVerification,
	}
}

var scopes = map[consent.Type]string{
	consent.TypeAccountAccess:     "accounts",
	consent.TypeDomesticPayment:   "payments",
	consent.TypeFundsConfirmation: "fundsconfirmations",
}

func (p *Provider) oauth(redirectURI string, t consent.Type) *oauth2.Config {
	cfg := &oauth2.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   p.cfg.AuthURL,
			TokenURL:  p.cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: redirectURI,
		Scopes:      []string{"openid"},
	}
	if s, ok := scopes[t]; ok {
		cfg.Scopes = append(cfg.Scopes, s)
	}
	return cfg
}

// AuthURL builds the PSU redirect; the consent id travels as the intent id.
func (p *Provider) AuthURL(_ context.Context, req provider.AuthURLRequest) (string, error) {
	return p.oauth(req.RedirectURI, req.ConsentType).AuthCodeURL(req.State,
		oauth2.SetAuthURLParam("request", req.ConsentID),
		oauth2.SetAuthURLParam("nonce", req.State),
	), nil
}

// ExchangeCode redeems the code at the token endpoint. An access_denied answer
// is a PSU denial; an id_token bound to another consent is an invalid grant.
func (p *Provider) ExchangeCode(ctx context.Context, req provider.ExchangeRequest) (*provider.AuthDecision, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.http.Client())
	tok, err := p.oauth(req.RedirectURI, "").Exchange(ctx, req.Code)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			switch re.ErrorCode {
			case "access_denied":
				log.Info().Str("consent_id", req.ConsentID).Msg("psu denied consent")
				return &provider.AuthDecision{Approved: false}, nil
			case "invalid_grant", "invalid_request":
				return nil, &provider.ProviderError{Code: provider.ErrInvalidGrant, Message: "authorisation code rejected", ProviderErr: re.ErrorDescription}
			}
			return nil, &provider.ProviderError{Code: provider.ErrProviderDown, Message: "token endpoint failed", ProviderErr: re.Error()}
		}
		return nil, fmt.Errorf("exchange code: %w", err)
	}

	if raw, ok := tok.Extra("id_token").(string); ok && raw != "" {
		if err := checkIntent(raw, req.ConsentID); err != nil {
			return nil, err
		}
	}

	return &provider.AuthDecision{
		Approved: true,
		Grant: &provider.Grant{
			ConsentID:    req.ConsentID,
			AccessToken:  tok.AccessToken,
			RefreshToken: tok.RefreshToken,
			Expiry:       tok.Expiry,
		},
	}, nil
}

// checkIntent reads the openbanking_intent_id claim. The token was received
// directly from the token endpoint, so its signature is not re-verified here.
func checkIntent(raw, consentID string) error {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return &provider.ProviderError{Code: provider.ErrUnexpectedResponse, Message: "malformed id_token", ProviderErr: err.Error()}
	}
	intent, _ := claims["openbanking_intent_id"].(string)
	if intent != consentID {
		return &provider.ProviderError{
			Code:    provider.ErrInvalidGrant,
			Message: fmt.Sprintf("id_token was issued for intent %q", intent),
		}
	}
	return nil
}

// clientToken obtains a client-credentials token for calls made outside any consent.
func (p *Provider) clientToken(ctx context.Context) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.http.Client())
	cc := &clientcredentials.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		TokenURL:     p.cfg.TokenURL,
		Scopes:       []string{"name-verification"},
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	tok, err := cc.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("client credentials: %w", err)
	}
	return tok.AccessToken, nil
}
