package postgres

import (
	"context"
	"time"

	"obgateway/internal/store/repositories"
)

type grantRepository struct {
	db dbtx
}

func NewGrantRepository(db dbtx) repositories.GrantRepository {
	return &grantRepository{db: db}
}

func (r *grantRepository) Put(ctx context.Context, g *repositories.SealedGrant) error {
	var expiry *time.Time
	if !g.Expiry.IsZero() {
		expiry = &g.Expiry
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO consent_grants (consent_id, access_token, refresh_token, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (consent_id) DO UPDATE SET
		    access_token = EXCLUDED.access_token,
		    refresh_token = EXCLUDED.refresh_token,
		    expires_at = EXCLUDED.expires_at`,
		g.ConsentID, g.AccessToken, g.RefreshToken, expiry)
	return translate(err, "put grant")
}

func (r *grantRepository) Get(ctx context.Context, consentID string) (*repositories.SealedGrant, error) {
	var (
		g      repositories.SealedGrant
		expiry *time.Time
	)
	err := r.db.QueryRow(ctx, `
		SELECT consent_id, access_token, refresh_token, expires_at
		FROM consent_grants WHERE consent_id = $1`, consentID).
		Scan(&g.ConsentID, &g.AccessToken, &g.RefreshToken, &expiry)
	if err != nil {
		return nil, translate(err, "get grant")
	}
	if expiry != nil {
		g.Expiry = expiry.UTC()
	}
	return &g, nil
}

func (r *grantRepository) Delete(ctx context.Context, consentID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM consent_grants WHERE consent_id = $1`, consentID)
	return translate(err, "delete grant")
}
