package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	gerrors "github.com/go-faster/errors"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/medtrail/casesync/modules/booking/domain/aggregates/cases"
)

// LocalStore keeps case snapshots in the device-side SQLite database. It
// shares the handle with the pending-operation queue so a snapshot write and
// its enqueue commit in one transaction.
type LocalStore struct {
	db *sqlx.DB
}

// OpenLocalDB opens (or creates) the device database at path with the
// pragmas the single-writer access pattern needs.
func OpenLocalDB(path string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, gerrors.Wrapf(err, "open local db %s", path)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY between the store and the queue.
	db.SetMaxOpenConns(1)
	return db, nil
}

func NewLocalStore(db *sqlx.DB) (*LocalStore, error) {
	if db == nil {
		return nil, gerrors.New("local store: db is required")
	}
	if _, err := db.Exec(casesSchemaSQL); err != nil {
		return nil, gerrors.Wrap(err, "create cases schema")
	}
	return &LocalStore{db: db}, nil
}

func (s *LocalStore) DB() *sqlx.DB { return s.db }

// WithTx runs fn inside a transaction. Rollback on error, commit otherwise.
func (s *LocalStore) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

const upsertCaseSQL = `
INSERT INTO cases (
	id, reference_number, client_token, country, hospital, department,
	date_of_surgery, procedure_type, doctor_name, time_of_procedure,
	special_instruction, status, submitted_by, submitted_at,
	status_history, amendment_history, original_values, amended, needs_sync, updated_at
) VALUES (
	:id, :reference_number, :client_token, :country, :hospital, :department,
	:date_of_surgery, :procedure_type, :doctor_name, :time_of_procedure,
	:special_instruction, :status, :submitted_by, :submitted_at,
	:status_history, :amendment_history, :original_values, :amended, :needs_sync, :updated_at
)
ON CONFLICT (id) DO UPDATE SET
	reference_number    = excluded.reference_number,
	country             = excluded.country,
	hospital            = excluded.hospital,
	department          = excluded.department,
	date_of_surgery     = excluded.date_of_surgery,
	procedure_type      = excluded.procedure_type,
	doctor_name         = excluded.doctor_name,
	time_of_procedure   = excluded.time_of_procedure,
	special_instruction = excluded.special_instruction,
	status              = excluded.status,
	submitted_by        = excluded.submitted_by,
	submitted_at        = excluded.submitted_at,
	status_history      = excluded.status_history,
	amendment_history   = excluded.amendment_history,
	original_values     = excluded.original_values,
	amended             = excluded.amended,
	needs_sync          = excluded.needs_sync,
	updated_at          = excluded.updated_at`

func (s *LocalStore) Upsert(ctx context.Context, c cases.Case) error {
	row, err := toDBCase(c, time.Now())
	if err != nil {
		return err
	}
	if _, err := s.db.NamedExecContext(ctx, upsertCaseSQL, row); err != nil {
		return gerrors.Wrapf(err, "upsert case %s", c.ID())
	}
	return nil
}

// UpsertTx is Upsert within the caller's transaction.
func (s *LocalStore) UpsertTx(ctx context.Context, tx *sqlx.Tx, c cases.Case) error {
	row, err := toDBCase(c, time.Now())
	if err != nil {
		return err
	}
	if _, err := tx.NamedExecContext(ctx, upsertCaseSQL, row); err != nil {
		return gerrors.Wrapf(err, "upsert case %s", c.ID())
	}
	return nil
}

const selectCaseSQL = `
SELECT id, reference_number, client_token, country, hospital, department,
       date_of_surgery, procedure_type, doctor_name, time_of_procedure,
       special_instruction, status, submitted_by, submitted_at,
       status_history, amendment_history, original_values, amended, needs_sync, updated_at
  FROM cases`

func (s *LocalStore) GetByID(ctx context.Context, id string) (cases.Case, error) {
	var row dbCase
	err := s.db.GetContext(ctx, &row, selectCaseSQL+` WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return cases.Case{}, cases.ErrCaseNotFound
	}
	if err != nil {
		return cases.Case{}, gerrors.Wrapf(err, "get case %s", id)
	}
	return toDomainCase(row)
}

func (s *LocalStore) List(ctx context.Context, params *cases.FindParams) ([]cases.Case, error) {
	if params == nil {
		params = &cases.FindParams{}
	}

	where := make([]string, 0, 5)
	args := make([]any, 0, 6)
	if params.Country != "" {
		where = append(where, "country = ?")
		args = append(args, params.Country)
	}
	if params.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(params.Status))
	}
	if params.SubmittedBy != "" {
		where = append(where, "submitted_by = ?")
		args = append(args, params.SubmittedBy)
	}
	if params.NeedsSync != nil {
		where = append(where, "needs_sync = ?")
		args = append(args, *params.NeedsSync)
	}
	if q := strings.TrimSpace(params.Q); q != "" {
		where = append(where, "(reference_number LIKE ? OR hospital LIKE ? OR doctor_name LIKE ?)")
		pattern := "%" + q + "%"
		args = append(args, pattern, pattern, pattern)
	}

	query := selectCaseSQL
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
	query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)

	var rows []dbCase
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, gerrors.Wrap(err, "list cases")
	}

	out := make([]cases.Case, 0, len(rows))
	for _, row := range rows {
		c, err := toDomainCase(row)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *LocalStore) SetNeedsSync(ctx context.Context, id string, needsSync bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE cases SET needs_sync = ?, updated_at = ? WHERE id = ?`,
		needsSync, time.Now().UnixMilli(), id,
	)
	if err != nil {
		return gerrors.Wrapf(err, "set needs sync %s", id)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return cases.ErrCaseNotFound
	}
	return nil
}

// Promote replaces the provisional snapshot with the canonical one in its
// own transaction. The provisional row disappears so listings never show
// the same booking twice.
func (s *LocalStore) Promote(ctx context.Context, provisionalID string, c cases.Case) error {
	return s.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.PromoteTx(ctx, tx, provisionalID, c)
	})
}

// PromoteTx is Promote within the caller's transaction, so the snapshot swap
// commits together with the queue's case-id rewrite.
func (s *LocalStore) PromoteTx(ctx context.Context, tx *sqlx.Tx, provisionalID string, c cases.Case) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM cases WHERE id = ?`, provisionalID); err != nil {
		return gerrors.Wrapf(err, "promote: drop provisional %s", provisionalID)
	}
	return s.UpsertTx(ctx, tx, c)
}

func (s *LocalStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cases WHERE id = ?`, id); err != nil {
		return gerrors.Wrapf(err, "delete case %s", id)
	}
	return nil
}
