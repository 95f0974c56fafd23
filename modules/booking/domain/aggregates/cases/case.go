package cases

import (
	"strings"
	"time"
)

// StatusHistoryEntry is one recorded status occurrence. Entries are
// value objects: once recorded they are never edited, only appended.
type StatusHistoryEntry struct {
	Status      Status
	Timestamp   time.Time
	Actor       string
	Details     string
	Attachments []string
}

// FieldChange documents a single amended field. Unchanged fields never
// produce a FieldChange.
type FieldChange struct {
	Field    string
	OldValue string
	NewValue string
}

// AmendmentEntry is one recorded amendment. Like status history,
// amendment history is append-only.
type AmendmentEntry struct {
	AmendmentID string
	Timestamp   time.Time
	Actor       string
	Reason      string
	Changes     []FieldChange
}

// AmendableValues holds the subset of case fields the amendment flow may
// rewrite. The first amendment snapshots them so the pre-amendment state
// survives any number of later overrides.
type AmendableValues struct {
	Hospital           string
	Department         string
	DateOfSurgery      string
	ProcedureType      string
	DoctorName         string
	TimeOfProcedure    string
	SpecialInstruction string
}

type Case struct {
	id                 string
	referenceNumber    string
	clientToken        string
	country            string
	hospital           string
	department         string
	dateOfSurgery      string
	procedureType      string
	doctorName         string
	timeOfProcedure    string
	specialInstruction string
	status             Status
	submittedBy        string
	submittedAt        time.Time
	statusHistory      []StatusHistoryEntry
	amendmentHistory   []AmendmentEntry
	originalValues     *AmendableValues
	amended            bool
	needsSync          bool
}

// New seeds a booking: provisional id and reference, initial status and the
// first history entry stamped with the submitter.
func New(dto CreateDTO, now time.Time) Case {
	dto.Normalize()
	c := Case{
		id:                 NewProvisionalID(),
		referenceNumber:    NewProvisionalReference(now),
		clientToken:        NewClientToken(),
		country:            dto.Country,
		hospital:           dto.Hospital,
		department:         dto.Department,
		dateOfSurgery:      dto.DateOfSurgery,
		procedureType:      dto.ProcedureType,
		doctorName:         dto.DoctorName,
		timeOfProcedure:    dto.TimeOfProcedure,
		specialInstruction: dto.SpecialInstruction,
		status:             InitialStatus,
		submittedBy:        dto.SubmittedBy,
		submittedAt:        now,
	}
	c.statusHistory = append(c.statusHistory, StatusHistoryEntry{
		Status:    InitialStatus,
		Timestamp: now,
		Actor:     dto.SubmittedBy,
	})
	return c
}

// Snapshot is the flat persisted form of a Case. Persistence maps rows to
// snapshots; Hydrate rebuilds the aggregate without re-running New's
// provisioning.
type Snapshot struct {
	ID                 string
	ReferenceNumber    string
	ClientToken        string
	Country            string
	Hospital           string
	Department         string
	DateOfSurgery      string
	ProcedureType      string
	DoctorName         string
	TimeOfProcedure    string
	SpecialInstruction string
	Status             Status
	SubmittedBy        string
	SubmittedAt        time.Time
	StatusHistory      []StatusHistoryEntry
	AmendmentHistory   []AmendmentEntry
	OriginalValues     *AmendableValues
	Amended            bool
	NeedsSync          bool
}

func Hydrate(s Snapshot) Case {
	return Case{
		id:                 strings.TrimSpace(s.ID),
		referenceNumber:    strings.TrimSpace(s.ReferenceNumber),
		clientToken:        s.ClientToken,
		country:            s.Country,
		hospital:           s.Hospital,
		department:         s.Department,
		dateOfSurgery:      s.DateOfSurgery,
		procedureType:      s.ProcedureType,
		doctorName:         s.DoctorName,
		timeOfProcedure:    s.TimeOfProcedure,
		specialInstruction: s.SpecialInstruction,
		status:             s.Status,
		submittedBy:        s.SubmittedBy,
		submittedAt:        s.SubmittedAt,
		statusHistory:      s.StatusHistory,
		amendmentHistory:   s.AmendmentHistory,
		originalValues:     s.OriginalValues,
		amended:            s.Amended,
		needsSync:          s.NeedsSync,
	}
}

func (c Case) Snapshot() Snapshot {
	return Snapshot{
		ID:                 c.id,
		ReferenceNumber:    c.referenceNumber,
		ClientToken:        c.clientToken,
		Country:            c.country,
		Hospital:           c.hospital,
		Department:         c.department,
		DateOfSurgery:      c.dateOfSurgery,
		ProcedureType:      c.procedureType,
		DoctorName:         c.doctorName,
		TimeOfProcedure:    c.timeOfProcedure,
		SpecialInstruction: c.specialInstruction,
		Status:             c.status,
		SubmittedBy:        c.submittedBy,
		SubmittedAt:        c.submittedAt,
		StatusHistory:      c.statusHistory,
		AmendmentHistory:   c.amendmentHistory,
		OriginalValues:     c.originalValues,
		Amended:            c.amended,
		NeedsSync:          c.needsSync,
	}
}

func (c Case) ID() string                            { return c.id }
func (c Case) ReferenceNumber() string               { return c.referenceNumber }
func (c Case) ClientToken() string                   { return c.clientToken }
func (c Case) Country() string                       { return c.country }
func (c Case) Hospital() string                      { return c.hospital }
func (c Case) Department() string                    { return c.department }
func (c Case) DateOfSurgery() string                 { return c.dateOfSurgery }
func (c Case) ProcedureType() string                 { return c.procedureType }
func (c Case) DoctorName() string                    { return c.doctorName }
func (c Case) TimeOfProcedure() string               { return c.timeOfProcedure }
func (c Case) SpecialInstruction() string            { return c.specialInstruction }
func (c Case) Status() Status                        { return c.status }
func (c Case) SubmittedBy() string                   { return c.submittedBy }
func (c Case) SubmittedAt() time.Time                { return c.submittedAt }
func (c Case) StatusHistory() []StatusHistoryEntry   { return c.statusHistory }
func (c Case) AmendmentHistory() []AmendmentEntry    { return c.amendmentHistory }
func (c Case) OriginalValues() *AmendableValues      { return c.originalValues }
func (c Case) IsAmended() bool                       { return c.amended }
func (c Case) NeedsSync() bool                       { return c.needsSync }
func (c Case) IsProvisional() bool                   { return IsProvisionalID(c.id) }
func (c Case) IsZero() bool                          { return c.id == "" && c.clientToken == "" }

func (c Case) AmendableValues() AmendableValues {
	return AmendableValues{
		Hospital:           c.hospital,
		Department:         c.department,
		DateOfSurgery:      c.dateOfSurgery,
		ProcedureType:      c.procedureType,
		DoctorName:         c.doctorName,
		TimeOfProcedure:    c.timeOfProcedure,
		SpecialInstruction: c.specialInstruction,
	}
}

// Promote rewrites a provisional booking with its canonical identity after
// the backend accepts it. Provisional values are discarded, never archived.
func (c *Case) Promote(canonicalID, canonicalRef string) {
	c.id = canonicalID
	c.referenceNumber = canonicalRef
}

func (c *Case) SetNeedsSync(v bool) { c.needsSync = v }
