package study

import (
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"

	"github.com/ehr/radiology/internal/platform/dicomuid"
)

// PerformedProcedureStepStatus is the DICOM Performed Procedure Step Status
// of a study. The zero value means the procedure has not been performed yet.
type PerformedProcedureStepStatus string

const (
	StatusInProgress   PerformedProcedureStepStatus = "IN_PROGRESS"
	StatusDiscontinued PerformedProcedureStepStatus = "DISCONTINUED"
	StatusCompleted    PerformedProcedureStepStatus = "COMPLETED"
)

// ParseStatus accepts the stored names as well as the DICOM code strings
// ("IN PROGRESS").
func ParseStatus(s string) (PerformedProcedureStepStatus, bool) {
	switch s {
	case "IN_PROGRESS", "IN PROGRESS":
		return StatusInProgress, true
	case "DISCONTINUED":
		return StatusDiscontinued, true
	case "COMPLETED":
		return StatusCompleted, true
	}
	return "", false
}

// DicomCode returns the code string written to the (0040,0252) element.
func (s PerformedProcedureStepStatus) DicomCode() string {
	if s == StatusInProgress {
		return "IN PROGRESS"
	}
	return string(s)
}

// RadiologyStudy is the imaging study produced by one radiology order.
type RadiologyStudy struct {
	StudyID          int64                        `db:"study_id" json:"study_id"`
	UUID             string                       `db:"uuid" json:"uuid"`
	StudyInstanceUID string                       `db:"study_instance_uid" json:"study_instance_uid"`
	PerformedStatus  PerformedProcedureStepStatus `db:"performed_status" json:"performed_status,omitempty"`
	OrderID          int64                        `db:"order_id" json:"order_id"`
	CreatedAt        time.Time                    `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time                    `db:"updated_at" json:"updated_at"`
}

func (s RadiologyStudy) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.StudyInstanceUID,
			validation.Required.Error("study instance uid is required"),
			validation.By(func(value interface{}) error {
				if uid, _ := value.(string); !dicomuid.Valid(uid) {
					return errors.New("study instance uid is not a valid DICOM UID")
				}
				return nil
			})),
		validation.Field(&s.OrderID,
			validation.Required.Error("order id is required"),
			validation.Min(int64(1))),
		validation.Field(&s.PerformedStatus,
			validation.In(StatusInProgress, StatusDiscontinued, StatusCompleted).Error("unknown performed status")),
	)
}
