package terminology

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/radiology/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const sourceCols = `concept_source_id, uuid::text, name, COALESCE(hl7_code,''), COALESCE(description,''), created_at`

func scanSource(row pgx.Row) (*ConceptSource, error) {
	var s ConceptSource
	if err := row.Scan(&s.ID, &s.UUID, &s.Name, &s.HL7Code, &s.Description, &s.CreatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *repoPG) CreateSource(ctx context.Context, s *ConceptSource) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO concept_source (name, hl7_code, description)
		VALUES ($1, NULLIF($2,''), NULLIF($3,''))
		RETURNING concept_source_id, uuid::text, created_at`,
		s.Name, s.HL7Code, s.Description).Scan(&s.ID, &s.UUID, &s.CreatedAt)
	if err != nil {
		return fmt.Errorf("create concept source: %w", err)
	}
	return nil
}

func (r *repoPG) GetSourceByName(ctx context.Context, name string) (*ConceptSource, error) {
	s, err := scanSource(r.conn(ctx).QueryRow(ctx,
		`SELECT `+sourceCols+` FROM concept_source WHERE name = $1`, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get concept source: %w", err)
	}
	return s, nil
}

func (r *repoPG) ListSources(ctx context.Context) ([]*ConceptSource, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+sourceCols+` FROM concept_source ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list concept sources: %w", err)
	}
	defer rows.Close()
	var items []*ConceptSource
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

const termCols = `t.concept_reference_term_id, t.uuid::text, t.concept_source_id, s.name, t.code,
	COALESCE(t.name,''), COALESCE(t.description,''), t.retired, t.created_at`

const termFrom = ` FROM concept_reference_term t JOIN concept_source s ON s.concept_source_id = t.concept_source_id`

func scanTerm(row pgx.Row) (*ReferenceTerm, error) {
	var t ReferenceTerm
	if err := row.Scan(&t.ID, &t.UUID, &t.SourceID, &t.SourceName, &t.Code,
		&t.Name, &t.Description, &t.Retired, &t.CreatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *repoPG) CreateTerm(ctx context.Context, t *ReferenceTerm) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO concept_reference_term (concept_source_id, code, name, description)
		VALUES ($1, $2, NULLIF($3,''), NULLIF($4,''))
		RETURNING concept_reference_term_id, uuid::text, created_at`,
		t.SourceID, t.Code, t.Name, t.Description).Scan(&t.ID, &t.UUID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("create reference term: %w", err)
	}
	return nil
}

func (r *repoPG) GetTermByID(ctx context.Context, id int64) (*ReferenceTerm, error) {
	t, err := scanTerm(r.conn(ctx).QueryRow(ctx,
		`SELECT `+termCols+termFrom+` WHERE t.concept_reference_term_id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reference term: %w", err)
	}
	return t, nil
}

func (r *repoPG) GetTermByCode(ctx context.Context, source, code string) (*ReferenceTerm, error) {
	t, err := scanTerm(r.conn(ctx).QueryRow(ctx,
		`SELECT `+termCols+termFrom+` WHERE s.name = $1 AND t.code = $2`, source, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reference term by code: %w", err)
	}
	return t, nil
}

func (r *repoPG) SearchTerms(ctx context.Context, query string, limit int) ([]*ReferenceTerm, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + query + "%"
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+termCols+termFrom+`
		 WHERE t.code ILIKE $1 OR t.name ILIKE $1
		 ORDER BY s.name, t.code LIMIT $2`, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("reference term search: %w", err)
	}
	defer rows.Close()
	var results []*ReferenceTerm
	for rows.Next() {
		t, err := scanTerm(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, t)
	}
	return results, rows.Err()
}
