package study

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/radiology/internal/platform/apperr"
	"github.com/ehr/radiology/internal/platform/db"
)

const uniqueViolation = "23505"

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type studyRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &studyRepoPG{pool: pool}
}

func (r *studyRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const studyCols = `study_id, uuid::text, study_instance_uid, COALESCE(performed_status,''), order_id, created_at, updated_at`

func scanStudy(row pgx.Row) (*RadiologyStudy, error) {
	var s RadiologyStudy
	var status string
	err := row.Scan(&s.StudyID, &s.UUID, &s.StudyInstanceUID, &status, &s.OrderID, &s.CreatedAt, &s.UpdatedAt)
	s.PerformedStatus = PerformedProcedureStepStatus(status)
	return &s, err
}

func mapWriteError(err error, msg string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return apperr.Argument("radiology study conflicts with an existing study (" + pgErr.ConstraintName + ")")
	}
	return apperr.Persistence(msg, err)
}

func (r *studyRepoPG) Save(ctx context.Context, s *RadiologyStudy) error {
	q := r.conn(ctx)
	if s.StudyID == 0 {
		if s.UUID == "" {
			s.UUID = uuid.NewString()
		}
		err := q.QueryRow(ctx, `
			INSERT INTO radiology_study (uuid, study_instance_uid, performed_status, order_id)
			VALUES ($1, $2, NULLIF($3,''), $4)
			RETURNING study_id, created_at, updated_at`,
			s.UUID, s.StudyInstanceUID, string(s.PerformedStatus), s.OrderID,
		).Scan(&s.StudyID, &s.CreatedAt, &s.UpdatedAt)
		if err != nil {
			return mapWriteError(err, "could not insert radiology study")
		}
		return nil
	}

	err := q.QueryRow(ctx, `
		UPDATE radiology_study SET study_instance_uid=$2, performed_status=NULLIF($3,''),
			order_id=$4, updated_at=NOW()
		WHERE study_id = $1
		RETURNING uuid::text, created_at, updated_at`,
		s.StudyID, s.StudyInstanceUID, string(s.PerformedStatus), s.OrderID,
	).Scan(&s.UUID, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("radiology study not found")
	}
	if err != nil {
		return mapWriteError(err, "could not update radiology study")
	}
	return nil
}

func (r *studyRepoPG) getOne(ctx context.Context, where string, arg interface{}) (*RadiologyStudy, error) {
	s, err := scanStudy(r.conn(ctx).QueryRow(ctx, `SELECT `+studyCols+` FROM radiology_study WHERE `+where, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Persistence("could not load radiology study", err)
	}
	return s, nil
}

func (r *studyRepoPG) GetByID(ctx context.Context, id int64) (*RadiologyStudy, error) {
	return r.getOne(ctx, `study_id = $1`, id)
}

func (r *studyRepoPG) GetByUUID(ctx context.Context, id string) (*RadiologyStudy, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	return r.getOne(ctx, `uuid = $1`, id)
}

func (r *studyRepoPG) GetByOrderID(ctx context.Context, orderID int64) (*RadiologyStudy, error) {
	return r.getOne(ctx, `order_id = $1`, orderID)
}

func (r *studyRepoPG) GetByStudyInstanceUID(ctx context.Context, uid string) (*RadiologyStudy, error) {
	return r.getOne(ctx, `study_instance_uid = $1`, uid)
}

func (r *studyRepoPG) ListByOrderIDs(ctx context.Context, orderIDs []int64) ([]*RadiologyStudy, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+studyCols+` FROM radiology_study WHERE order_id = ANY($1) ORDER BY order_id`, orderIDs)
	if err != nil {
		return nil, apperr.Persistence("could not list radiology studies", err)
	}
	defer rows.Close()

	var items []*RadiologyStudy
	for rows.Next() {
		s, err := scanStudy(rows)
		if err != nil {
			return nil, apperr.Persistence("could not scan radiology study", err)
		}
		items = append(items, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("could not list radiology studies", err)
	}
	return items, nil
}
