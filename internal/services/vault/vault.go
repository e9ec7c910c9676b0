// Package vault seals ASPSP grants before they reach the store.
package vault

import (
	"context"
	"errors"
	"fmt"

	"obgateway/internal/crypto"
	"obgateway/internal/provider"
	"obgateway/internal/store/repositories"
)

type Vault struct {
	key []byte
}

func New(key []byte) *Vault {
	return &Vault{key: key}
}

// Save encrypts and stores g, replacing an earlier grant for the same consent.
func (v *Vault) Save(ctx context.Context, repo repositories.GrantRepository, g provider.Grant) error {
	access, err := crypto.EncryptString(v.key, g.AccessToken)
	if err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}
	refresh, err := crypto.EncryptString(v.key, g.RefreshToken)
	if err != nil {
		return fmt.Errorf("seal refresh token: %w", err)
	}
	return repo.Put(ctx, &repositories.SealedGrant{
		ConsentID:    g.ConsentID,
		AccessToken:  access,
		RefreshToken: refresh,
		Expiry:       g.Expiry,
	})
}

// Load returns the grant for a consent. A consent without a stored grant yields
// an empty grant; the ASPSP decides whether the call needs one.
func (v *Vault) Load(ctx context.Context, repo repositories.GrantRepository, consentID string) (provider.Grant, error) {
	sealed, err := repo.Get(ctx, consentID)
	if errors.Is(err, repositories.ErrNotFound) {
		return provider.Grant{ConsentID: consentID}, nil
	}
	if err != nil {
		return provider.Grant{}, err
	}
	access, err := crypto.DecryptString(v.key, sealed.AccessToken)
	if err != nil {
		return provider.Grant{}, fmt.Errorf("open access token: %w", err)
	}
	refresh, err := crypto.DecryptString(v.key, sealed.RefreshToken)
	if err != nil {
		return provider.Grant{}, fmt.Errorf("open refresh token: %w", err)
	}
	return provider.Grant{
		ConsentID:    consentID,
		AccessToken:  access,
		RefreshToken: refresh,
		Expiry:       sealed.Expiry,
	}, nil
}
