package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	gerrors "github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medtrail/casesync/modules/booking/domain/aggregates/cases"
)

// remoteSchemaSQL is the backend schema. Kept here so integration tests can
// provision a scratch database; production migrations live with the backend.
const remoteSchemaSQL = `
CREATE TABLE IF NOT EXISTS cases (
	id                  BIGSERIAL PRIMARY KEY,
	reference_number    TEXT NOT NULL UNIQUE,
	client_token        TEXT NOT NULL UNIQUE,
	country             TEXT NOT NULL,
	hospital            TEXT NOT NULL,
	department          TEXT NOT NULL,
	date_of_surgery     TEXT NOT NULL,
	procedure_type      TEXT NOT NULL,
	doctor_name         TEXT NOT NULL,
	time_of_procedure   TEXT NOT NULL,
	special_instruction TEXT NOT NULL DEFAULT '',
	status              TEXT NOT NULL,
	submitted_by        TEXT NOT NULL,
	submitted_at        TIMESTAMPTZ NOT NULL,
	status_history      JSONB NOT NULL DEFAULT '[]',
	amendment_history   JSONB NOT NULL DEFAULT '[]',
	original_values     JSONB,
	amended             BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS reference_counters (
	country     TEXT PRIMARY KEY,
	last_number BIGINT NOT NULL
);
`

// CaseRepository is the pgx-backed implementation of cases.Repository.
type CaseRepository struct {
	pool      *pgxpool.Pool
	refPrefix string
}

func NewCaseRepository(pool *pgxpool.Pool, refPrefix string) *CaseRepository {
	if refPrefix == "" {
		refPrefix = "TMC"
	}
	return &CaseRepository{pool: pool, refPrefix: refPrefix}
}

var _ cases.Repository = (*CaseRepository)(nil)

func (r *CaseRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// AllocateReference bumps the per-country counter and renders the canonical
// reference number. The upsert makes the first allocation for a country and
// every later one the same statement.
func (r *CaseRepository) AllocateReference(ctx context.Context, country string) (string, error) {
	country = strings.ToUpper(strings.TrimSpace(country))
	var n int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO reference_counters (country, last_number) VALUES ($1, 1)
		 ON CONFLICT (country) DO UPDATE SET last_number = reference_counters.last_number + 1
		 RETURNING last_number`,
		country,
	).Scan(&n)
	if err != nil {
		return "", gerrors.Wrapf(err, "allocate reference for %s", country)
	}
	return cases.FormatReference(r.refPrefix, country, n), nil
}

// Create registers a booking under a canonical identity. Replays of the same
// create are deduped on the client token so a lost acknowledgement never
// books twice.
func (r *CaseRepository) Create(ctx context.Context, c cases.Case) (cases.CreatedCase, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return cases.CreatedCase{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var existing cases.CreatedCase
	err = tx.QueryRow(ctx,
		`SELECT id, reference_number FROM cases WHERE client_token = $1`,
		c.ClientToken(),
	).Scan(&pgCaseID{&existing.ID}, &existing.ReferenceNumber)
	if err == nil {
		return existing, tx.Commit(ctx)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return cases.CreatedCase{}, gerrors.Wrap(err, "create case: lookup token")
	}

	var counter int64
	err = tx.QueryRow(ctx,
		`INSERT INTO reference_counters (country, last_number) VALUES ($1, 1)
		 ON CONFLICT (country) DO UPDATE SET last_number = reference_counters.last_number + 1
		 RETURNING last_number`,
		c.Country(),
	).Scan(&counter)
	if err != nil {
		return cases.CreatedCase{}, gerrors.Wrap(err, "create case: allocate reference")
	}
	ref := cases.FormatReference(r.refPrefix, c.Country(), counter)

	s := c.Snapshot()
	history, err := json.Marshal(s.StatusHistory)
	if err != nil {
		return cases.CreatedCase{}, gerrors.Wrap(err, "create case: marshal history")
	}
	amendments, err := json.Marshal(s.AmendmentHistory)
	if err != nil {
		return cases.CreatedCase{}, gerrors.Wrap(err, "create case: marshal amendments")
	}
	var originals []byte
	if s.OriginalValues != nil {
		if originals, err = json.Marshal(s.OriginalValues); err != nil {
			return cases.CreatedCase{}, gerrors.Wrap(err, "create case: marshal original values")
		}
	}

	// A create drained after queued amendments carries the full local
	// snapshot. Persisting the amendment columns here keeps the one-shot
	// originals intact when those amendments replay against this row.
	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO cases (
			reference_number, client_token, country, hospital, department,
			date_of_surgery, procedure_type, doctor_name, time_of_procedure,
			special_instruction, status, submitted_by, submitted_at,
			status_history, amendment_history, original_values, amended
		 ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		 RETURNING id`,
		ref, s.ClientToken, s.Country, s.Hospital, s.Department,
		s.DateOfSurgery, s.ProcedureType, s.DoctorName, s.TimeOfProcedure,
		s.SpecialInstruction, string(s.Status), s.SubmittedBy, s.SubmittedAt,
		history, amendments, originals, s.Amended,
	).Scan(&id)
	if err != nil {
		return cases.CreatedCase{}, gerrors.Wrap(err, "create case")
	}

	if err := tx.Commit(ctx); err != nil {
		return cases.CreatedCase{}, err
	}
	return cases.CreatedCase{ID: strconv.FormatInt(id, 10), ReferenceNumber: ref}, nil
}

// AppendStatus records one status occurrence. The row is locked, rebuilt as
// an aggregate so history dedup runs backend-side too, and written back.
func (r *CaseRepository) AppendStatus(ctx context.Context, caseID string, e cases.StatusHistoryEntry) error {
	return r.mutate(ctx, caseID, func(c *cases.Case) error {
		c.RecordStatus(e)
		return nil
	})
}

// Amend replays an amendment entry against the backend copy.
func (r *CaseRepository) Amend(ctx context.Context, caseID string, e cases.AmendmentEntry, values cases.AmendableValues) error {
	return r.mutate(ctx, caseID, func(c *cases.Case) error {
		c.RecordAmendment(e, values)
		return nil
	})
}

func (r *CaseRepository) mutate(ctx context.Context, caseID string, fn func(c *cases.Case) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	c, err := r.getByID(ctx, tx, caseID, true)
	if err != nil {
		return err
	}
	if err := fn(&c); err != nil {
		return err
	}

	s := c.Snapshot()
	history, err := json.Marshal(s.StatusHistory)
	if err != nil {
		return gerrors.Wrap(err, "marshal status history")
	}
	amendments, err := json.Marshal(s.AmendmentHistory)
	if err != nil {
		return gerrors.Wrap(err, "marshal amendment history")
	}
	var originals []byte
	if s.OriginalValues != nil {
		if originals, err = json.Marshal(s.OriginalValues); err != nil {
			return gerrors.Wrap(err, "marshal original values")
		}
	}

	_, err = tx.Exec(ctx,
		`UPDATE cases SET
			hospital = $2, department = $3, date_of_surgery = $4, procedure_type = $5,
			doctor_name = $6, time_of_procedure = $7, special_instruction = $8,
			status = $9, status_history = $10, amendment_history = $11,
			original_values = $12, amended = $13, updated_at = now()
		 WHERE id = $1`,
		mustCaseID(caseID), s.Hospital, s.Department, s.DateOfSurgery, s.ProcedureType,
		s.DoctorName, s.TimeOfProcedure, s.SpecialInstruction,
		string(s.Status), history, amendments, originals, s.Amended,
	)
	if err != nil {
		return gerrors.Wrapf(err, "update case %s", caseID)
	}
	return tx.Commit(ctx)
}

func (r *CaseRepository) GetByID(ctx context.Context, id string) (cases.Case, error) {
	return r.getByID(ctx, r.pool, id, false)
}

type pgxQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const remoteSelectSQL = `
SELECT id, reference_number, client_token, country, hospital, department,
       date_of_surgery, procedure_type, doctor_name, time_of_procedure,
       special_instruction, status, submitted_by, submitted_at,
       status_history, amendment_history, original_values, amended
  FROM cases`

func (r *CaseRepository) getByID(ctx context.Context, q pgxQuerier, id string, forUpdate bool) (cases.Case, error) {
	numericID, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil {
		return cases.Case{}, cases.ErrCaseNotFound
	}

	query := remoteSelectSQL + ` WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	row := q.QueryRow(ctx, query, numericID)
	c, err := scanRemoteCase(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return cases.Case{}, cases.ErrCaseNotFound
	}
	return c, err
}

func (r *CaseRepository) List(ctx context.Context, params *cases.FindParams) ([]cases.Case, error) {
	if params == nil {
		params = &cases.FindParams{}
	}

	where := make([]string, 0, 4)
	args := make([]any, 0, 5)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if params.Country != "" {
		where = append(where, "country = "+arg(params.Country))
	}
	if params.Status != "" {
		where = append(where, "status = "+arg(string(params.Status)))
	}
	if params.SubmittedBy != "" {
		where = append(where, "submitted_by = "+arg(params.SubmittedBy))
	}
	if q := strings.TrimSpace(params.Q); q != "" {
		p := arg("%" + q + "%")
		where = append(where, "(reference_number ILIKE "+p+" OR hospital ILIKE "+p+" OR doctor_name ILIKE "+p+")")
	}

	query := remoteSelectSQL
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY submitted_at DESC, id"
	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := params.Offset
	if offset < 0 {
		offset = 0
	}
	query += " LIMIT " + strconv.Itoa(limit) + " OFFSET " + strconv.Itoa(offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, gerrors.Wrap(err, "list cases")
	}
	defer rows.Close()

	var out []cases.Case
	for rows.Next() {
		c, err := scanRemoteCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanRemoteCase(row pgx.Row) (cases.Case, error) {
	var (
		s          cases.Snapshot
		id         int64
		history    []byte
		amendments []byte
		originals  []byte
		status     string
	)
	err := row.Scan(
		&id, &s.ReferenceNumber, &s.ClientToken, &s.Country, &s.Hospital, &s.Department,
		&s.DateOfSurgery, &s.ProcedureType, &s.DoctorName, &s.TimeOfProcedure,
		&s.SpecialInstruction, &status, &s.SubmittedBy, &s.SubmittedAt,
		&history, &amendments, &originals, &s.Amended,
	)
	if err != nil {
		return cases.Case{}, err
	}
	s.ID = strconv.FormatInt(id, 10)
	s.Status = cases.Status(status)
	if len(history) > 0 {
		if err := json.Unmarshal(history, &s.StatusHistory); err != nil {
			return cases.Case{}, gerrors.Wrapf(err, "case %s: unmarshal status history", s.ID)
		}
	}
	if len(amendments) > 0 {
		if err := json.Unmarshal(amendments, &s.AmendmentHistory); err != nil {
			return cases.Case{}, gerrors.Wrapf(err, "case %s: unmarshal amendment history", s.ID)
		}
	}
	if len(originals) > 0 {
		s.OriginalValues = &cases.AmendableValues{}
		if err := json.Unmarshal(originals, s.OriginalValues); err != nil {
			return cases.Case{}, gerrors.Wrapf(err, "case %s: unmarshal original values", s.ID)
		}
	}
	return cases.Hydrate(s), nil
}

// pgCaseID scans a bigint id column into its string form.
type pgCaseID struct{ dst *string }

func (p *pgCaseID) Scan(src any) error {
	switch v := src.(type) {
	case int64:
		*p.dst = strconv.FormatInt(v, 10)
		return nil
	case string:
		*p.dst = v
		return nil
	default:
		return gerrors.Errorf("unsupported case id type %T", src)
	}
}

func mustCaseID(id string) int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	return n
}
