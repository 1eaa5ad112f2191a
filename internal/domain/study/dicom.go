package study

import (
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/ehr/radiology/internal/platform/apperr"
)

// DicomAttributes returns the study level elements a modality worklist or
// PACS needs to associate images with the study. The performed procedure
// step status is only included once the procedure has started.
func DicomAttributes(st *RadiologyStudy) ([]*dicom.Element, error) {
	if st == nil {
		return nil, apperr.Argument("study cannot be null")
	}
	if st.StudyInstanceUID == "" {
		return nil, apperr.Argument("study has no study instance uid")
	}

	uid, err := dicom.NewElement(tag.StudyInstanceUID, []string{st.StudyInstanceUID})
	if err != nil {
		return nil, apperr.Argument("invalid study instance uid: " + err.Error())
	}
	elems := []*dicom.Element{uid}

	if st.PerformedStatus != "" {
		status, err := dicom.NewElement(tag.PerformedProcedureStepStatus, []string{st.PerformedStatus.DicomCode()})
		if err != nil {
			return nil, apperr.Argument("invalid performed status: " + err.Error())
		}
		elems = append(elems, status)
	}
	return elems, nil
}
