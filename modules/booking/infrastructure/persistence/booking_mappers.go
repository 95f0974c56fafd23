package persistence

import (
	"encoding/json"
	"time"

	gerrors "github.com/go-faster/errors"

	"github.com/medtrail/casesync/modules/booking/domain/aggregates/cases"
)

type dbCase struct {
	ID                 string `db:"id"`
	ReferenceNumber    string `db:"reference_number"`
	ClientToken        string `db:"client_token"`
	Country            string `db:"country"`
	Hospital           string `db:"hospital"`
	Department         string `db:"department"`
	DateOfSurgery      string `db:"date_of_surgery"`
	ProcedureType      string `db:"procedure_type"`
	DoctorName         string `db:"doctor_name"`
	TimeOfProcedure    string `db:"time_of_procedure"`
	SpecialInstruction string `db:"special_instruction"`
	Status             string `db:"status"`
	SubmittedBy        string `db:"submitted_by"`
	SubmittedAt        int64  `db:"submitted_at"`
	StatusHistory      []byte `db:"status_history"`
	AmendmentHistory   []byte `db:"amendment_history"`
	OriginalValues     []byte `db:"original_values"`
	Amended            bool   `db:"amended"`
	NeedsSync          bool   `db:"needs_sync"`
	UpdatedAt          int64  `db:"updated_at"`
}

func toDBCase(c cases.Case, now time.Time) (dbCase, error) {
	s := c.Snapshot()

	history, err := json.Marshal(s.StatusHistory)
	if err != nil {
		return dbCase{}, gerrors.Wrap(err, "marshal status history")
	}
	amendments, err := json.Marshal(s.AmendmentHistory)
	if err != nil {
		return dbCase{}, gerrors.Wrap(err, "marshal amendment history")
	}
	var originals []byte
	if s.OriginalValues != nil {
		if originals, err = json.Marshal(s.OriginalValues); err != nil {
			return dbCase{}, gerrors.Wrap(err, "marshal original values")
		}
	}

	return dbCase{
		ID:                 s.ID,
		ReferenceNumber:    s.ReferenceNumber,
		ClientToken:        s.ClientToken,
		Country:            s.Country,
		Hospital:           s.Hospital,
		Department:         s.Department,
		DateOfSurgery:      s.DateOfSurgery,
		ProcedureType:      s.ProcedureType,
		DoctorName:         s.DoctorName,
		TimeOfProcedure:    s.TimeOfProcedure,
		SpecialInstruction: s.SpecialInstruction,
		Status:             string(s.Status),
		SubmittedBy:        s.SubmittedBy,
		SubmittedAt:        s.SubmittedAt.UnixMilli(),
		StatusHistory:      history,
		AmendmentHistory:   amendments,
		OriginalValues:     originals,
		Amended:            s.Amended,
		NeedsSync:          s.NeedsSync,
		UpdatedAt:          now.UnixMilli(),
	}, nil
}

func toDomainCase(row dbCase) (cases.Case, error) {
	var history []cases.StatusHistoryEntry
	if len(row.StatusHistory) > 0 {
		if err := json.Unmarshal(row.StatusHistory, &history); err != nil {
			return cases.Case{}, gerrors.Wrapf(err, "case %s: unmarshal status history", row.ID)
		}
	}
	var amendments []cases.AmendmentEntry
	if len(row.AmendmentHistory) > 0 {
		if err := json.Unmarshal(row.AmendmentHistory, &amendments); err != nil {
			return cases.Case{}, gerrors.Wrapf(err, "case %s: unmarshal amendment history", row.ID)
		}
	}
	var originals *cases.AmendableValues
	if len(row.OriginalValues) > 0 {
		originals = &cases.AmendableValues{}
		if err := json.Unmarshal(row.OriginalValues, originals); err != nil {
			return cases.Case{}, gerrors.Wrapf(err, "case %s: unmarshal original values", row.ID)
		}
	}

	return cases.Hydrate(cases.Snapshot{
		ID:                 row.ID,
		ReferenceNumber:    row.ReferenceNumber,
		ClientToken:        row.ClientToken,
		Country:            row.Country,
		Hospital:           row.Hospital,
		Department:         row.Department,
		DateOfSurgery:      row.DateOfSurgery,
		ProcedureType:      row.ProcedureType,
		DoctorName:         row.DoctorName,
		TimeOfProcedure:    row.TimeOfProcedure,
		SpecialInstruction: row.SpecialInstruction,
		Status:             cases.Status(row.Status),
		SubmittedBy:        row.SubmittedBy,
		SubmittedAt:        time.UnixMilli(row.SubmittedAt).UTC(),
		StatusHistory:      history,
		AmendmentHistory:   amendments,
		OriginalValues:     originals,
		Amended:            row.Amended,
		NeedsSync:          row.NeedsSync,
	}), nil
}
