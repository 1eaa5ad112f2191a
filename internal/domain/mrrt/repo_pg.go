package mrrt

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/radiology/internal/domain/terminology"
	"github.com/ehr/radiology/internal/platform/apperr"
	"github.com/ehr/radiology/internal/platform/db"
)

const (
	uniqueViolation            = "23505"
	identifierUniqueConstraint = "mrrt_report_template_dcterms_identifier_key"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type templateRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &templateRepoPG{pool: pool}
}

func (r *templateRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const templateCols = `template_id, uuid, dcterms_identifier, COALESCE(charset,''),
	COALESCE(dcterms_title,''), COALESCE(dcterms_description,''), COALESCE(dcterms_language,''),
	COALESCE(dcterms_type,''), COALESCE(dcterms_publisher,''), COALESCE(dcterms_rights,''),
	COALESCE(dcterms_license,''), COALESCE(dcterms_date,''), COALESCE(dcterms_creator,''),
	COALESCE(path,''), created_at, updated_at`

func scanTemplate(row pgx.Row) (*ReportTemplate, error) {
	var t ReportTemplate
	err := row.Scan(&t.TemplateID, &t.UUID, &t.DCTermsIdentifier, &t.Charset,
		&t.DCTermsTitle, &t.DCTermsDescription, &t.DCTermsLanguage,
		&t.DCTermsType, &t.DCTermsPublisher, &t.DCTermsRights,
		&t.DCTermsLicense, &t.DCTermsDate, &t.DCTermsCreator,
		&t.Path, &t.CreatedAt, &t.UpdatedAt)
	return &t, err
}

func mapWriteError(err error, msg string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == identifierUniqueConstraint {
		return apperr.DuplicateTemplate()
	}
	return apperr.Persistence(msg, err)
}

// Save inserts a new template or updates the descriptive columns of a
// stored one. The identifier is written only on insert.
func (r *templateRepoPG) Save(ctx context.Context, t *ReportTemplate) error {
	q := r.conn(ctx)
	if t.TemplateID == 0 {
		if t.UUID == "" {
			t.UUID = uuid.NewString()
		}
		err := q.QueryRow(ctx, `
			INSERT INTO mrrt_report_template (uuid, dcterms_identifier, charset, dcterms_title,
				dcterms_description, dcterms_language, dcterms_type, dcterms_publisher, dcterms_rights,
				dcterms_license, dcterms_date, dcterms_creator, path)
			VALUES ($1, $2, NULLIF($3,''), NULLIF($4,''), NULLIF($5,''), NULLIF($6,''), NULLIF($7,''),
				NULLIF($8,''), NULLIF($9,''), NULLIF($10,''), NULLIF($11,''), NULLIF($12,''), NULLIF($13,''))
			RETURNING template_id, created_at, updated_at`,
			t.UUID, t.DCTermsIdentifier, t.Charset, t.DCTermsTitle,
			t.DCTermsDescription, t.DCTermsLanguage, t.DCTermsType, t.DCTermsPublisher, t.DCTermsRights,
			t.DCTermsLicense, t.DCTermsDate, t.DCTermsCreator, t.Path,
		).Scan(&t.TemplateID, &t.CreatedAt, &t.UpdatedAt)
		if err != nil {
			return mapWriteError(err, "could not insert report template")
		}
	} else {
		err := q.QueryRow(ctx, `
			UPDATE mrrt_report_template SET charset=NULLIF($2,''),
				dcterms_title=NULLIF($3,''), dcterms_description=NULLIF($4,''), dcterms_language=NULLIF($5,''),
				dcterms_type=NULLIF($6,''), dcterms_publisher=NULLIF($7,''), dcterms_rights=NULLIF($8,''),
				dcterms_license=NULLIF($9,''), dcterms_date=NULLIF($10,''), dcterms_creator=NULLIF($11,''),
				path=NULLIF($12,''), updated_at=NOW()
			WHERE template_id = $1
			RETURNING uuid, dcterms_identifier, created_at, updated_at`,
			t.TemplateID, t.Charset,
			t.DCTermsTitle, t.DCTermsDescription, t.DCTermsLanguage,
			t.DCTermsType, t.DCTermsPublisher, t.DCTermsRights,
			t.DCTermsLicense, t.DCTermsDate, t.DCTermsCreator, t.Path,
		).Scan(&t.UUID, &t.DCTermsIdentifier, &t.CreatedAt, &t.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("report template not found")
		}
		if err != nil {
			return mapWriteError(err, "could not update report template")
		}
	}
	return r.saveTerms(ctx, q, t)
}

func (r *templateRepoPG) saveTerms(ctx context.Context, q queryable, t *ReportTemplate) error {
	if _, err := q.Exec(ctx, `DELETE FROM mrrt_report_template_term WHERE template_id = $1`, t.TemplateID); err != nil {
		return apperr.Persistence("could not replace template terms", err)
	}
	for _, term := range t.Terms {
		if term == nil || term.ID == 0 {
			continue
		}
		if _, err := q.Exec(ctx, `
			INSERT INTO mrrt_report_template_term (template_id, term_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, t.TemplateID, term.ID); err != nil {
			return apperr.Persistence("could not link template term", err)
		}
	}
	return nil
}

func (r *templateRepoPG) getOne(ctx context.Context, where string, arg interface{}) (*ReportTemplate, error) {
	q := r.conn(ctx)
	t, err := scanTemplate(q.QueryRow(ctx, `SELECT `+templateCols+` FROM mrrt_report_template WHERE `+where, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Persistence("could not load report template", err)
	}
	if err := r.loadTerms(ctx, q, []*ReportTemplate{t}); err != nil {
		return nil, err
	}
	return t, nil
}

func (r *templateRepoPG) GetByID(ctx context.Context, id int64) (*ReportTemplate, error) {
	return r.getOne(ctx, `template_id = $1`, id)
}

// GetByUUID treats a malformed uuid as a miss instead of a database error.
func (r *templateRepoPG) GetByUUID(ctx context.Context, id string) (*ReportTemplate, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	return r.getOne(ctx, `uuid = $1`, id)
}

func (r *templateRepoPG) GetByIdentifier(ctx context.Context, identifier string) (*ReportTemplate, error) {
	return r.getOne(ctx, `dcterms_identifier = $1`, identifier)
}

func (r *templateRepoPG) Search(ctx context.Context, criteria *SearchCriteria) ([]*ReportTemplate, error) {
	q := r.conn(ctx)
	sql := `SELECT ` + templateCols + ` FROM mrrt_report_template`
	var args []interface{}
	if criteria != nil && criteria.Title != "" {
		sql += ` WHERE dcterms_title ILIKE $1`
		args = append(args, "%"+escapeLike(criteria.Title)+"%")
	}
	sql += ` ORDER BY template_id`

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, apperr.Persistence("could not search report templates", err)
	}
	defer rows.Close()
	items := []*ReportTemplate{}
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, apperr.Persistence("could not read report template", err)
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("could not search report templates", err)
	}
	if err := r.loadTerms(ctx, q, items); err != nil {
		return nil, err
	}
	return items, nil
}

// loadTerms fills Terms for every template in one query.
func (r *templateRepoPG) loadTerms(ctx context.Context, q queryable, templates []*ReportTemplate) error {
	if len(templates) == 0 {
		return nil
	}
	byID := make(map[int64]*ReportTemplate, len(templates))
	ids := make([]int64, 0, len(templates))
	for _, t := range templates {
		t.Terms = []*terminology.ReferenceTerm{}
		byID[t.TemplateID] = t
		ids = append(ids, t.TemplateID)
	}

	rows, err := q.Query(ctx, `
		SELECT mt.template_id, t.concept_reference_term_id, t.uuid::text, t.concept_source_id, s.name,
		       t.code, COALESCE(t.name,''), COALESCE(t.description,''), t.retired, t.created_at
		FROM mrrt_report_template_term mt
		JOIN concept_reference_term t ON t.concept_reference_term_id = mt.term_id
		JOIN concept_source s ON s.concept_source_id = t.concept_source_id
		WHERE mt.template_id = ANY($1)
		ORDER BY mt.template_id, t.concept_reference_term_id`, ids)
	if err != nil {
		return apperr.Persistence("could not load template terms", err)
	}
	defer rows.Close()
	for rows.Next() {
		var templateID int64
		var term terminology.ReferenceTerm
		if err := rows.Scan(&templateID, &term.ID, &term.UUID, &term.SourceID, &term.SourceName,
			&term.Code, &term.Name, &term.Description, &term.Retired, &term.CreatedAt); err != nil {
			return apperr.Persistence("could not read template term", err)
		}
		if t := byID[templateID]; t != nil {
			t.Terms = append(t.Terms, &term)
		}
	}
	if err := rows.Err(); err != nil {
		return apperr.Persistence("could not load template terms", err)
	}
	return nil
}

func (r *templateRepoPG) Delete(ctx context.Context, id int64) error {
	if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM mrrt_report_template WHERE template_id = $1`, id); err != nil {
		return apperr.Persistence("could not delete report template", err)
	}
	return nil
}

func (r *templateRepoPG) ExistsByIdentifier(ctx context.Context, identifier string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM mrrt_report_template WHERE dcterms_identifier = $1)`, identifier).Scan(&exists)
	if err != nil {
		return false, apperr.Persistence("could not check template identifier", err)
	}
	return exists, nil
}

func (r *templateRepoPG) ListPaths(ctx context.Context) ([]string, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT path FROM mrrt_report_template WHERE path IS NOT NULL`)
	if err != nil {
		return nil, apperr.Persistence("could not list template paths", err)
	}
	defer rows.Close()
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, apperr.Persistence("could not read template path", err)
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("could not list template paths", err)
	}
	return paths, nil
}

func escapeLike(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
