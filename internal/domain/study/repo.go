package study

import "context"

// Repository persists radiology studies. Lookups that find nothing return
// (nil, nil).
type Repository interface {
	Save(ctx context.Context, s *RadiologyStudy) error
	GetByID(ctx context.Context, id int64) (*RadiologyStudy, error)
	GetByUUID(ctx context.Context, uuid string) (*RadiologyStudy, error)
	GetByOrderID(ctx context.Context, orderID int64) (*RadiologyStudy, error)
	GetByStudyInstanceUID(ctx context.Context, uid string) (*RadiologyStudy, error)
	ListByOrderIDs(ctx context.Context, orderIDs []int64) ([]*RadiologyStudy, error)
}
