package mrrt

import "context"

// Repository persists report templates and their term links. Lookups that
// find nothing return (nil, nil).
type Repository interface {
	// Save inserts t when TemplateID is zero and updates it otherwise,
	// assigning TemplateID and UUID on insert.
	Save(ctx context.Context, t *ReportTemplate) error
	GetByID(ctx context.Context, id int64) (*ReportTemplate, error)
	GetByUUID(ctx context.Context, uuid string) (*ReportTemplate, error)
	GetByIdentifier(ctx context.Context, identifier string) (*ReportTemplate, error)
	Search(ctx context.Context, criteria *SearchCriteria) ([]*ReportTemplate, error)
	Delete(ctx context.Context, id int64) error
	ExistsByIdentifier(ctx context.Context, identifier string) (bool, error)
	// ListPaths returns the file path of every stored template.
	ListPaths(ctx context.Context) ([]string, error)
}
