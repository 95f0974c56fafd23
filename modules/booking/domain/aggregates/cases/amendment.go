package cases

import (
	"time"

	"github.com/google/uuid"
)

// AmendPatch carries the fields an amendment wants to rewrite. Nil means
// "leave as is"; a pointer to the current value produces no change either.
type AmendPatch struct {
	Hospital           *string
	Department         *string
	DateOfSurgery      *string
	ProcedureType      *string
	DoctorName         *string
	TimeOfProcedure    *string
	SpecialInstruction *string
	Reason             string
	Actor              string
}

// Amend applies a patch to the case. The first amendment snapshots the
// pre-amendment values; every later one requires override=true or fails
// with ErrAlreadyAmended. Amendment history is append-only, one entry per
// applied patch, listing only fields whose value actually changed.
func (c *Case) Amend(patch AmendPatch, now time.Time, override bool) (AmendmentEntry, error) {
	if c.amended && !override {
		return AmendmentEntry{}, ErrAlreadyAmended
	}

	changes := make([]FieldChange, 0, 7)
	apply := func(field string, dst *string, src *string) {
		if src == nil || *src == *dst {
			return
		}
		changes = append(changes, FieldChange{Field: field, OldValue: *dst, NewValue: *src})
		*dst = *src
	}

	before := c.AmendableValues()
	apply("hospital", &c.hospital, patch.Hospital)
	apply("department", &c.department, patch.Department)
	apply("dateOfSurgery", &c.dateOfSurgery, patch.DateOfSurgery)
	apply("procedureType", &c.procedureType, patch.ProcedureType)
	apply("doctorName", &c.doctorName, patch.DoctorName)
	apply("timeOfProcedure", &c.timeOfProcedure, patch.TimeOfProcedure)
	apply("specialInstruction", &c.specialInstruction, patch.SpecialInstruction)

	if len(changes) == 0 {
		return AmendmentEntry{}, ErrEmptyAmendment
	}

	if c.originalValues == nil {
		c.originalValues = &before
	}

	entry := AmendmentEntry{
		AmendmentID: uuid.NewString(),
		Timestamp:   now,
		Actor:       patch.Actor,
		Reason:      patch.Reason,
		Changes:     changes,
	}
	c.amendmentHistory = append(c.amendmentHistory, entry)
	c.amended = true
	return entry, nil
}

// RecordAmendment replays an amendment entry produced elsewhere, typically
// when a queued amend is materialized during sync. Entries already present
// by AmendmentID are dropped.
func (c *Case) RecordAmendment(entry AmendmentEntry, values AmendableValues) bool {
	for _, existing := range c.amendmentHistory {
		if existing.AmendmentID == entry.AmendmentID {
			return false
		}
	}
	if c.originalValues == nil {
		before := c.AmendableValues()
		c.originalValues = &before
	}
	c.hospital = values.Hospital
	c.department = values.Department
	c.dateOfSurgery = values.DateOfSurgery
	c.procedureType = values.ProcedureType
	c.doctorName = values.DoctorName
	c.timeOfProcedure = values.TimeOfProcedure
	c.specialInstruction = values.SpecialInstruction
	c.amendmentHistory = append(c.amendmentHistory, entry)
	c.amended = true
	return true
}
