package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"obgateway/internal/domain/partnership"
	"obgateway/internal/pagination"
	"obgateway/internal/store/repositories"
)

type partnershipRepository struct {
	db dbtx
}

func NewPartnershipRepository(db dbtx) repositories.PartnershipRepository {
	return &partnershipRepository{db: db}
}

func (r *partnershipRepository) Insert(ctx context.Context, p *partnership.Partnership) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO partnerships (partnership_id, name, provider, modules, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		p.PartnershipID, p.Name, p.Provider, moduleStrings(p.Modules), p.CreationDateTime)
	return translate(err, "insert partnership")
}

func (r *partnershipRepository) Get(ctx context.Context, id string) (*partnership.Partnership, error) {
	row := r.db.QueryRow(ctx, `
		SELECT partnership_id, name, provider, modules, created_at
		FROM partnerships WHERE partnership_id = $1`, id)
	p, err := scanPartnership(row)
	return p, translate(err, "get partnership")
}

func (r *partnershipRepository) List(ctx context.Context, m partnership.Module, page pagination.Request) ([]*partnership.Partnership, int, error) {
	var w where
	if m != "" {
		w.add("? = ANY(modules)", string(m))
	}
	if !page.Snapshot.IsZero() {
		w.add("created_at <= ?", page.Snapshot)
	}
	w.after("created_at", "partnership_id", page)
	var total int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM partnerships`+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, translate(err, "count partnerships")
	}
	total += page.Served()
	query, args := w.paged("created_at", "partnership_id", page)
	rows, err := r.db.Query(ctx, `SELECT partnership_id, name, provider, modules, created_at FROM partnerships`+query, args...)
	if err != nil {
		return nil, 0, translate(err, "list partnerships")
	}
	defer rows.Close()
	var out []*partnership.Partnership
	for rows.Next() {
		p, err := scanPartnership(rows)
		if err != nil {
			return nil, 0, translate(err, "scan partnership")
		}
		out = append(out, p)
	}
	return forward(out, page), total, translate(rows.Err(), "list partnerships")
}

func scanPartnership(row pgx.Row) (*partnership.Partnership, error) {
	var (
		p       partnership.Partnership
		modules []string
	)
	if err := row.Scan(&p.PartnershipID, &p.Name, &p.Provider, &modules, &p.CreationDateTime); err != nil {
		return nil, err
	}
	for _, m := range modules {
		p.Modules = append(p.Modules, partnership.Module(m))
	}
	p.CreationDateTime = p.CreationDateTime.UTC()
	return &p, nil
}

func moduleStrings(ms []partnership.Module) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = string(m)
	}
	return out
}
