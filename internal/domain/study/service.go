package study

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ehr/radiology/internal/platform/apperr"
	"github.com/ehr/radiology/internal/platform/db"
)

// UIDGenerator mints Study Instance UIDs.
type UIDGenerator interface {
	NewUID() (string, error)
}

// Service persists radiology studies and guarantees each one carries a
// Study Instance UID.
type Service struct {
	repo   Repository
	uids   UIDGenerator
	tx     db.Transactor
	logger zerolog.Logger
}

func NewService(repo Repository, uids UIDGenerator, tx db.Transactor, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		uids:   uids,
		tx:     tx,
		logger: logger.With().Str("component", "study").Logger(),
	}
}

// SaveStudy assigns a fresh Study Instance UID when s has none and persists
// it. A UID that is already set is kept verbatim.
func (s *Service) SaveStudy(ctx context.Context, st *RadiologyStudy) (*RadiologyStudy, error) {
	if st == nil {
		return nil, apperr.Argument("study cannot be null")
	}
	work := *st
	if strings.TrimSpace(work.StudyInstanceUID) == "" {
		uid, err := s.uids.NewUID()
		if err != nil {
			return nil, err
		}
		work.StudyInstanceUID = uid
		s.logger.Debug().Int64("order_id", work.OrderID).Str("study_instance_uid", uid).Msg("study instance uid assigned")
	}
	if err := work.Validate(); err != nil {
		return nil, apperr.Argument(err.Error())
	}

	if err := s.inTx(ctx, func(ctx context.Context) error {
		return s.repo.Save(ctx, &work)
	}); err != nil {
		return nil, err
	}
	*st = work
	return st, nil
}

// UpdatePerformedStatus records the performed procedure step status of the
// study identified by uid.
func (s *Service) UpdatePerformedStatus(ctx context.Context, uid string, status PerformedProcedureStepStatus) (*RadiologyStudy, error) {
	if strings.TrimSpace(uid) == "" {
		return nil, apperr.Argument("study instance uid cannot be null")
	}
	if status == "" {
		return nil, apperr.Argument("performed status cannot be null")
	}
	if _, ok := ParseStatus(string(status)); !ok {
		return nil, apperr.Argument("unknown performed status " + string(status))
	}

	var st *RadiologyStudy
	err := s.inTx(ctx, func(ctx context.Context) error {
		var err error
		st, err = s.repo.GetByStudyInstanceUID(ctx, uid)
		if err != nil {
			return err
		}
		if st == nil {
			return apperr.NotFound("radiology study not found")
		}
		st.PerformedStatus = status
		return s.repo.Save(ctx, st)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Int64("study_id", st.StudyID).
		Str("performed_status", string(status)).
		Msg("performed status updated")
	return st, nil
}

func (s *Service) GetStudy(ctx context.Context, id int64) (*RadiologyStudy, error) {
	if id <= 0 {
		return nil, apperr.Argument("id cannot be null")
	}
	return s.getOne(ctx, func(ctx context.Context) (*RadiologyStudy, error) {
		return s.repo.GetByID(ctx, id)
	})
}

func (s *Service) GetStudyByUUID(ctx context.Context, uuid string) (*RadiologyStudy, error) {
	if strings.TrimSpace(uuid) == "" {
		return nil, apperr.Argument("uuid cannot be null")
	}
	return s.getOne(ctx, func(ctx context.Context) (*RadiologyStudy, error) {
		return s.repo.GetByUUID(ctx, uuid)
	})
}

func (s *Service) GetStudyByOrderID(ctx context.Context, orderID int64) (*RadiologyStudy, error) {
	if orderID <= 0 {
		return nil, apperr.Argument("order cannot be null")
	}
	return s.getOne(ctx, func(ctx context.Context) (*RadiologyStudy, error) {
		return s.repo.GetByOrderID(ctx, orderID)
	})
}

func (s *Service) GetStudyByStudyInstanceUID(ctx context.Context, uid string) (*RadiologyStudy, error) {
	if strings.TrimSpace(uid) == "" {
		return nil, apperr.Argument("study instance uid cannot be null")
	}
	return s.getOne(ctx, func(ctx context.Context) (*RadiologyStudy, error) {
		return s.repo.GetByStudyInstanceUID(ctx, uid)
	})
}

// GetStudiesByOrders returns the studies of the given orders, never nil.
// Orders without a study are skipped.
func (s *Service) GetStudiesByOrders(ctx context.Context, orderIDs []int64) ([]*RadiologyStudy, error) {
	if len(orderIDs) == 0 {
		return []*RadiologyStudy{}, nil
	}
	for _, id := range orderIDs {
		if id <= 0 {
			return nil, apperr.Argument("order cannot be null")
		}
	}

	var out []*RadiologyStudy
	err := s.inTx(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.repo.ListByOrderIDs(ctx, orderIDs)
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*RadiologyStudy{}
	}
	return out, nil
}

func (s *Service) getOne(ctx context.Context, fn func(ctx context.Context) (*RadiologyStudy, error)) (*RadiologyStudy, error) {
	var out *RadiologyStudy
	err := s.inTx(ctx, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	err := s.tx.InTx(ctx, fn)
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apperr.Persistence("database transaction failed", err)
}
