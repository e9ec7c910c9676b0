package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"obgateway/internal/domain/funds"
	"obgateway/internal/domain/payment"
	"obgateway/internal/pagination"
	"obgateway/internal/store/repositories"
)

// paymentRepository implements PaymentRepository; consent_id is UNIQUE so a
// consent can never yield a second payment.
type paymentRepository struct {
	db dbtx
}

func NewPaymentRepository(db dbtx) repositories.PaymentRepository {
	return &paymentRepository{db: db}
}

const paymentColumns = `payload, rail_reference, version`

func (r *paymentRepository) Insert(ctx context.Context, p *payment.DomesticPayment) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "encode payment")
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO domestic_payments (payment_id, consent_id, partnership_id, status, rail_reference, payload, version, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9)`,
		p.DomesticPaymentID, p.ConsentID, p.PartnershipID, string(p.Status), p.RailReference,
		payload, p.Version, p.CreationDateTime, p.StatusUpdateDateTime)
	return translate(err, "insert payment")
}

func (r *paymentRepository) Get(ctx context.Context, id string) (*payment.DomesticPayment, error) {
	row := r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM domestic_payments WHERE payment_id = $1`, id)
	p, err := scanPayment(row)
	return p, translate(err, "get payment")
}

func (r *paymentRepository) GetByConsent(ctx context.Context, consentID string) (*payment.DomesticPayment, error) {
	row := r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM domestic_payments WHERE consent_id = $1`, consentID)
	p, err := scanPayment(row)
	return p, translate(err, "get payment by consent")
}

func (r *paymentRepository) Update(ctx context.Context, p *payment.DomesticPayment) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "encode payment")
	}
	version := p.Version + 1
	tag, err := r.db.Exec(ctx, `
		UPDATE domestic_payments
		SET status = $1, rail_reference = $2, payload = $3, version = $4, updated_at = $5
		WHERE payment_id = $6 AND version = $7`,
		string(p.Status), p.RailReference, payload, version, p.StatusUpdateDateTime,
		p.DomesticPaymentID, p.Version)
	if err != nil {
		return translate(err, "update payment")
	}
	if tag.RowsAffected() == 0 {
		return casMiss(ctx, r.db, "domestic_payments", "payment_id", p.DomesticPaymentID)
	}
	p.Version = version
	return nil
}

func (r *paymentRepository) List(ctx context.Context, f repositories.PaymentFilter, page pagination.Request) ([]*payment.DomesticPayment, int, error) {
	var w where
	if f.PartnershipID != "" {
		w.add("partnership_id = ?", f.PartnershipID)
	}
	if f.ConsentID != "" {
		w.add("consent_id = ?", f.ConsentID)
	}
	if f.Status != "" {
		w.add("status = ?", string(f.Status))
	}
	if !page.Snapshot.IsZero() {
		w.add("created_at <= ?", page.Snapshot)
	}
	w.after("created_at", "payment_id", page)
	var total int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM domestic_payments`+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, translate(err, "count payments")
	}
	total += page.Served()
	query, args := w.paged("created_at", "payment_id", page)
	out, err := r.query(ctx, `SELECT `+paymentColumns+` FROM domestic_payments`+query, args...)
	return forward(out, page), total, err
}

func (r *paymentRepository) ListUnsettled(ctx context.Context, limit int) ([]*payment.DomesticPayment, error) {
	return r.query(ctx, `
		SELECT `+paymentColumns+` FROM domestic_payments
		WHERE status = ANY($1)
		ORDER BY created_at, payment_id
		LIMIT $2`,
		[]string{string(payment.StatusPending), string(payment.StatusAcceptedSettlementInProcess), string(payment.StatusAcceptedSettlementCompleted)},
		limit)
}

func (r *paymentRepository) query(ctx context.Context, sql string, args ...any) ([]*payment.DomesticPayment, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, translate(err, "list payments")
	}
	defer rows.Close()
	var out []*payment.DomesticPayment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, translate(err, "scan payment")
		}
		out = append(out, p)
	}
	return out, translate(rows.Err(), "list payments")
}

func scanPayment(row pgx.Row) (*payment.DomesticPayment, error) {
	var (
		payload []byte
		p       payment.DomesticPayment
	)
	if err := row.Scan(&payload, &p.RailReference, &p.Version); err != nil {
		return nil, err
	}
	rail, version := p.RailReference, p.Version
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, errors.Wrap(err, "decode payment")
	}
	p.RailReference, p.Version = rail, version
	return &p, nil
}

type fundsRepository struct {
	db dbtx
}

func NewFundsRepository(db dbtx) repositories.FundsRepository {
	return &fundsRepository{db: db}
}

func (r *fundsRepository) Insert(ctx context.Context, res *funds.Result) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return errors.Wrap(err, "encode funds confirmation")
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO funds_confirmations (funds_confirmation_id, consent_id, payload, created_at)
		VALUES ($1, $2, $3, $4)`,
		res.FundsConfirmationID, res.ConsentID, payload, res.CreationDateTime)
	return translate(err, "insert funds confirmation")
}

func (r *fundsRepository) Get(ctx context.Context, id string) (*funds.Result, error) {
	var payload []byte
	err := r.db.QueryRow(ctx, `SELECT payload FROM funds_confirmations WHERE funds_confirmation_id = $1`, id).Scan(&payload)
	if err != nil {
		return nil, translate(err, "get funds confirmation")
	}
	var res funds.Result
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, errors.Wrap(err, "decode funds confirmation")
	}
	return &res, nil
}

func (r *fundsRepository) List(ctx context.Context, consentID string, page pagination.Request) ([]*funds.Result, int, error) {
	var w where
	if consentID != "" {
		w.add("consent_id = ?", consentID)
	}
	if !page.Snapshot.IsZero() {
		w.add("created_at <= ?", page.Snapshot)
	}
	w.after("created_at", "funds_confirmation_id", page)
	var total int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM funds_confirmations`+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, translate(err, "count funds confirmations")
	}
	total += page.Served()
	query, args := w.paged("created_at", "funds_confirmation_id", page)
	rows, err := r.db.Query(ctx, `SELECT payload FROM funds_confirmations`+query, args...)
	if err != nil {
		return nil, 0, translate(err, "list funds confirmations")
	}
	defer rows.Close()
	var out []*funds.Result
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, 0, translate(err, "scan funds confirmation")
		}
		var res funds.Result
		if err := json.Unmarshal(payload, &res); err != nil {
			return nil, 0, errors.Wrap(err, "decode funds confirmation")
		}
		out = append(out, &res)
	}
	return forward(out, page), total, translate(rows.Err(), "list funds confirmations")
}
