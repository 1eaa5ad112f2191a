package mrrt

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/radiology/internal/domain/terminology"
	"github.com/ehr/radiology/internal/platform/apperr"
	"github.com/ehr/radiology/internal/platform/db"
)

// Files is the template document storage used by the service.
type Files interface {
	Write(ctx context.Context, contents []byte) (string, error)
	Read(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
	List(ctx context.Context) ([]StoredFile, error)
}

// Service imports, stores and retires MRRT report templates. Every public
// call runs in one database transaction.
type Service struct {
	repo     Repository
	files    Files
	resolver *TermResolver
	tx       db.Transactor
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(repo Repository, files Files, resolver *TermResolver, tx db.Transactor, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		files:    files,
		resolver: resolver,
		tx:       tx,
		logger:   logger.With().Str("component", "mrrt").Logger(),
		now:      time.Now,
	}
}

// ImportTemplate parses src, stores it as a new file and persists the
// template. The file is removed again when the database work fails.
func (s *Service) ImportTemplate(ctx context.Context, src string) (*ReportTemplate, error) {
	parsed, err := ParseTemplate(src)
	if err != nil {
		return nil, err
	}

	var written string
	err = s.inTx(ctx, func(ctx context.Context) error {
		exists, err := s.repo.ExistsByIdentifier(ctx, parsed.DCTermsIdentifier)
		if err != nil {
			return err
		}
		if exists {
			return apperr.DuplicateTemplate()
		}
		if err := s.resolver.Resolve(ctx, parsed); err != nil {
			return err
		}
		path, err := s.files.Write(ctx, []byte(src))
		if err != nil {
			return err
		}
		written = path
		parsed.Path = path
		return s.repo.Save(ctx, parsed)
	})
	if err != nil {
		if written != "" {
			if delErr := s.files.Delete(context.WithoutCancel(ctx), written); delErr != nil {
				s.logger.Error().Err(delErr).
					Str("path", written).
					Str("dcterms_identifier", parsed.DCTermsIdentifier).
					Msg("could not remove template file after failed import")
			}
		}
		return nil, err
	}

	s.logger.Info().
		Int64("template_id", parsed.TemplateID).
		Str("dcterms_identifier", parsed.DCTermsIdentifier).
		Int("terms", len(parsed.Terms)).
		Msg("report template imported")
	return parsed, nil
}

// SaveTemplate persists t without touching the file store. New templates
// are checked for identifier collisions and have their coded terms
// resolved. The identifier of a stored template cannot change. t is only
// updated once the transaction has committed.
func (s *Service) SaveTemplate(ctx context.Context, t *ReportTemplate) (*ReportTemplate, error) {
	if t == nil {
		return nil, apperr.Argument("template cannot be null")
	}
	work := *t
	work.Terms = append([]*terminology.ReferenceTerm(nil), t.Terms...)
	work.DCTermsIdentifier = strings.TrimSpace(work.DCTermsIdentifier)
	if err := work.Validate(); err != nil {
		return nil, apperr.Argument(err.Error())
	}

	err := s.inTx(ctx, func(ctx context.Context) error {
		if work.TemplateID == 0 {
			exists, err := s.repo.ExistsByIdentifier(ctx, work.DCTermsIdentifier)
			if err != nil {
				return err
			}
			if exists {
				return apperr.DuplicateTemplate()
			}
			if err := s.resolver.Resolve(ctx, &work); err != nil {
				return err
			}
		} else {
			stored, err := s.repo.GetByID(ctx, work.TemplateID)
			if err != nil {
				return err
			}
			if stored == nil {
				return apperr.NotFound("report template not found")
			}
			if stored.DCTermsIdentifier != work.DCTermsIdentifier {
				return apperr.Argument("identifier cannot be changed")
			}
		}
		return s.repo.Save(ctx, &work)
	})
	if err != nil {
		return nil, err
	}
	*t = work
	return t, nil
}

func (s *Service) GetTemplate(ctx context.Context, id int64) (*ReportTemplate, error) {
	if id <= 0 {
		return nil, apperr.Argument("id cannot be null")
	}
	return s.getOne(ctx, func(ctx context.Context) (*ReportTemplate, error) {
		return s.repo.GetByID(ctx, id)
	})
}

func (s *Service) GetTemplateByUUID(ctx context.Context, uuid string) (*ReportTemplate, error) {
	if strings.TrimSpace(uuid) == "" {
		return nil, apperr.Argument("uuid cannot be null")
	}
	return s.getOne(ctx, func(ctx context.Context) (*ReportTemplate, error) {
		return s.repo.GetByUUID(ctx, uuid)
	})
}

func (s *Service) GetTemplateByIdentifier(ctx context.Context, identifier string) (*ReportTemplate, error) {
	if strings.TrimSpace(identifier) == "" {
		return nil, apperr.Argument("identifier cannot be null")
	}
	return s.getOne(ctx, func(ctx context.Context) (*ReportTemplate, error) {
		return s.repo.GetByIdentifier(ctx, identifier)
	})
}

// SearchTemplates returns the templates matching criteria, never nil.
func (s *Service) SearchTemplates(ctx context.Context, criteria *SearchCriteria) ([]*ReportTemplate, error) {
	if criteria == nil {
		return nil, apperr.Argument("search criteria cannot be null")
	}
	var out []*ReportTemplate
	err := s.inTx(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.repo.Search(ctx, criteria)
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*ReportTemplate{}
	}
	return out, nil
}

// PurgeTemplate deletes the row and, once that has committed, the file. A
// missing file is fine. A file that cannot be removed is left to the orphan
// sweeper and its error returned.
func (s *Service) PurgeTemplate(ctx context.Context, t *ReportTemplate) error {
	if t == nil {
		return apperr.Argument("template cannot be null")
	}
	if t.TemplateID <= 0 {
		return apperr.Argument("template has not been saved")
	}
	if err := s.inTx(ctx, func(ctx context.Context) error {
		return s.repo.Delete(ctx, t.TemplateID)
	}); err != nil {
		return err
	}
	if err := s.files.Delete(context.WithoutCancel(ctx), t.Path); err != nil {
		s.logger.Error().Err(err).
			Int64("template_id", t.TemplateID).
			Str("path", t.Path).
			Msg("template row purged but file could not be removed")
		return err
	}
	s.logger.Info().
		Int64("template_id", t.TemplateID).
		Str("dcterms_identifier", t.DCTermsIdentifier).
		Msg("report template purged")
	return nil
}

// GetHTMLBody returns the inner HTML of the stored document's body.
func (s *Service) GetHTMLBody(ctx context.Context, t *ReportTemplate) (string, error) {
	if t == nil {
		return "", apperr.Argument("template cannot be null")
	}
	data, err := s.files.Read(ctx, t.Path)
	if err != nil {
		return "", err
	}
	return ExtractBody(string(data))
}

// SweepOrphanFiles removes files under the template root that no template
// references and that were last modified more than olderThan ago. It
// returns the removed paths.
func (s *Service) SweepOrphanFiles(ctx context.Context, olderThan time.Duration) ([]string, error) {
	if olderThan < 0 {
		return nil, apperr.Argument("grace period cannot be negative")
	}
	files, err := s.files.List(ctx)
	if err != nil {
		return nil, err
	}

	var paths []string
	err = s.inTx(ctx, func(ctx context.Context) error {
		var err error
		paths, err = s.repo.ListPaths(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	referenced := make(map[string]bool, len(paths))
	for _, p := range paths {
		referenced[filepath.Clean(p)] = true
	}

	cutoff := s.now().Add(-olderThan)
	var removed []string
	for _, f := range files {
		if referenced[filepath.Clean(f.Path)] || f.ModTime.After(cutoff) {
			continue
		}
		if err := s.files.Delete(ctx, f.Path); err != nil {
			return removed, err
		}
		removed = append(removed, f.Path)
		s.logger.Warn().Str("path", f.Path).Time("mod_time", f.ModTime).Msg("orphan template file removed")
	}
	return removed, nil
}

func (s *Service) getOne(ctx context.Context, load func(ctx context.Context) (*ReportTemplate, error)) (*ReportTemplate, error) {
	var t *ReportTemplate
	err := s.inTx(ctx, func(ctx context.Context) error {
		var err error
		t, err = load(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// inTx runs fn in a transaction and reports begin and commit failures as
// persistence errors.
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
