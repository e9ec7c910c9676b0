package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"obgateway/internal/domain/consent"
	"obgateway/internal/pagination"
	"obgateway/internal/store/repositories"
)

// consentRepository stores every consent variant in one table; the variant body is JSONB.
type consentRepository struct {
	db dbtx
}

func NewConsentRepository(db dbtx) repositories.ConsentRepository {
	return &consentRepository{db: db}
}

const consentColumns = `consent_type, payload, approvers, version`

func (r *consentRepository) Insert(ctx context.Context, c consent.Consent) error {
	h := c.Header()
	payload, err := json.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "encode consent")
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO consents (consent_id, consent_type, status, partnership_id, tags, payload, approvers, version, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10)`,
		h.ConsentID, string(c.Type()), string(h.Status), h.PartnershipID, tagsOf(h), payload,
		approversOf(c), h.Version, h.CreationDateTime, h.StatusUpdateDateTime)
	return translate(err, "insert consent")
}

func (r *consentRepository) Get(ctx context.Context, id string) (consent.Consent, error) {
	row := r.db.QueryRow(ctx, `SELECT `+consentColumns+` FROM consents WHERE consent_id = $1`, id)
	c, err := scanConsent(row)
	if err != nil {
		return nil, translate(err, "get consent")
	}
	return c, nil
}

func (r *consentRepository) Update(ctx context.Context, c consent.Consent) error {
	h := c.Header()
	version := h.Version + 1
	payload, err := json.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "encode consent")
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE consents
		SET status = $1, partnership_id = NULLIF($2, ''), tags = $3, payload = $4, approvers = $5,
		    version = $6, updated_at = $7
		WHERE consent_id = $8 AND version = $9`,
		string(h.Status), h.PartnershipID, tagsOf(h), payload, approversOf(c),
		version, h.StatusUpdateDateTime, h.ConsentID, h.Version)
	if err != nil {
		return translate(err, "update consent")
	}
	if tag.RowsAffected() == 0 {
		return casMiss(ctx, r.db, "consents", "consent_id", h.ConsentID)
	}
	h.Version = version
	return nil
}

func (r *consentRepository) List(ctx context.Context, f repositories.ConsentFilter, page pagination.Request) ([]consent.Consent, int, error) {
	var w where
	if f.Type != "" {
		w.add("consent_type = ?", string(f.Type))
	}
	if f.PartnershipID != "" {
		w.add("partnership_id = ?", f.PartnershipID)
	}
	if len(f.Tags) > 0 {
		w.add("tags @> ?", f.Tags)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		w.add("status = ANY(?)", statuses)
	}
	if !page.Snapshot.IsZero() {
		w.add("created_at <= ?", page.Snapshot)
	}

	w.after("created_at", "consent_id", page)
	var total int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM consents`+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, translate(err, "count consents")
	}
	total += page.Served()
	query, args := w.paged("created_at", "consent_id", page)
	rows, err := r.db.Query(ctx, `SELECT `+consentColumns+` FROM consents`+query, args...)
	if err != nil {
		return nil, 0, translate(err, "list consents")
	}
	defer rows.Close()

	var out []consent.Consent
	for rows.Next() {
		c, err := scanConsent(rows)
		if err != nil {
			return nil, 0, translate(err, "scan consent")
		}
		out = append(out, c)
	}
	return forward(out, page), total, translate(rows.Err(), "list consents")
}

func scanConsent(row pgx.Row) (consent.Consent, error) {
	var (
		typ       string
		payload   []byte
		approvers []string
		version   int64
	)
	if err := row.Scan(&typ, &payload, &approvers, &version); err != nil {
		return nil, err
	}
	var c consent.Consent
	switch consent.Type(typ) {
	case consent.TypeAccountAccess:
		c = &consent.AccountAccess{}
	case consent.TypeDomesticPayment:
		c = &consent.DomesticPayment{}
	case consent.TypeFundsConfirmation:
		c = &consent.FundsConfirmation{}
	default:
		return nil, errors.Errorf("unknown consent type %q", typ)
	}
	if err := json.Unmarshal(payload, c); err != nil {
		return nil, errors.Wrap(err, "decode consent")
	}
	c.Header().Version = version
	if dp, ok := c.(*consent.DomesticPayment); ok && dp.MultiAuthorisation != nil {
		dp.MultiAuthorisation.Approvers = approvers
	}
	normaliseTimes(c.Header())
	return c, nil
}

func normaliseTimes(h *consent.Base) {
	h.CreationDateTime = h.CreationDateTime.UTC()
	h.StatusUpdateDateTime = h.StatusUpdateDateTime.UTC()
}

func tagsOf(h *consent.Base) []string {
	if h.Tags == nil {
		return []string{}
	}
	return h.Tags
}

func approversOf(c consent.Consent) []string {
	if dp, ok := c.(*consent.DomesticPayment); ok && dp.MultiAuthorisation != nil {
		return append([]string{}, dp.MultiAuthorisation.Approvers...)
	}
	return []string{}
}

type authRequestRepository struct {
	db dbtx
}

func NewAuthRequestRepository(db dbtx) repositories.AuthRequestRepository {
	return &authRequestRepository{db: db}
}

func (r *authRequestRepository) Put(ctx context.Context, req *consent.AuthorisationRequest) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO authorisation_requests (consent_id, auth_url, auth_state, redirect_uri, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (consent_id) DO UPDATE SET
		    auth_url = EXCLUDED.auth_url,
		    auth_state = EXCLUDED.auth_state,
		    redirect_uri = EXCLUDED.redirect_uri,
		    created_at = EXCLUDED.created_at`,
		req.ConsentID, req.AuthURL, req.AuthState, req.RedirectURI, req.CreationDateTime)
	return translate(err, "put authorisation request")
}

// Take deletes and returns the request in one statement, so only one caller can consume it.
func (r *authRequestRepository) Take(ctx context.Context, consentID string) (*consent.AuthorisationRequest, error) {
	var (
		req     consent.AuthorisationRequest
		created time.Time
	)
	err := r.db.QueryRow(ctx, `
		DELETE FROM authorisation_requests WHERE consent_id = $1
		RETURNING consent_id, auth_url, auth_state, redirect_uri, created_at`, consentID).
		Scan(&req.ConsentID, &req.AuthURL, &req.AuthState, &req.RedirectURI, &created)
	if err != nil {
		return nil, translate(err, "take authorisation request")
	}
	req.CreationDateTime = created.UTC()
	return &req, nil
}

func (r *authRequestRepository) Delete(ctx context.Context, consentID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM authorisation_requests WHERE consent_id = $1`, consentID)
	return translate(err, "delete authorisation request")
}
