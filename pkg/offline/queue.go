package offline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// schemaSQL holds the queue table. seq is the global FIFO order; id is the
// idempotency key so a retried enqueue never duplicates an operation.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS pending_operations (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	id           TEXT    NOT NULL UNIQUE,
	case_id      TEXT    NOT NULL,
	kind         TEXT    NOT NULL,
	payload      BLOB    NOT NULL,
	state        TEXT    NOT NULL DEFAULT 'pending',
	attempts     INTEGER NOT NULL DEFAULT 0,
	last_error   TEXT    NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL,
	available_at INTEGER NOT NULL,
	committed_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_pending_operations_case ON pending_operations (case_id, seq);
CREATE INDEX IF NOT EXISTS idx_pending_operations_state ON pending_operations (state, available_at);
`

type QueueOptions struct {
	// MaxPending bounds the number of not-yet-committed operations. Zero
	// means unbounded. When the bound is hit Enqueue fails with
	// ErrQueueOverflow instead of silently dropping older entries.
	MaxPending int
}

// Queue is a durable, append-ordered store of pending operations backed by
// the local SQLite database. A single producer enqueues and a single relay
// drains; the database transaction is the atomicity boundary for both.
type Queue struct {
	db   *sqlx.DB
	opts QueueOptions
	m    *metrics
}

func NewQueue(db *sqlx.DB, opts QueueOptions) (*Queue, error) {
	if db == nil {
		return nil, invalidConfig("db is required")
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("create queue schema: %w", err)
	}
	// A crash between Claim and Ack leaves rows in flight with nobody to
	// finish them. This process is the database's only client, so any
	// in-flight row at startup is an orphan: return it to pending so the
	// relay can claim it again. The crashed attempt stays counted.
	if _, err := db.Exec(
		`UPDATE pending_operations SET state = 'pending' WHERE state = 'inflight'`,
	); err != nil {
		return nil, fmt.Errorf("recover inflight operations: %w", err)
	}
	return &Queue{db: db, opts: opts, m: getMetrics()}, nil
}

// DB exposes the underlying handle so callers can open transactions that
// span the queue and their own tables.
func (q *Queue) DB() *sqlx.DB { return q.db }

// Enqueue appends op in its own transaction.
func (q *Queue) Enqueue(ctx context.Context, op Operation) (int64, error) {
	tx, err := q.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	seq, err := q.EnqueueTx(ctx, tx, op)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return seq, nil
}

// EnqueueTx appends op within the caller's transaction, so a case snapshot
// write and its queue entry commit or roll back together. Idempotent by
// operation id.
func (q *Queue) EnqueueTx(ctx context.Context, tx *sqlx.Tx, op Operation) (int64, error) {
	if op.ID == uuid.Nil {
		return 0, invalidConfig("operation id is required")
	}
	if op.CaseID == "" {
		return 0, invalidConfig("case id is required")
	}
	if op.Kind == "" {
		return 0, invalidConfig("operation kind is required")
	}

	if q.opts.MaxPending > 0 {
		var backlog int64
		err := tx.QueryRowxContext(ctx,
			`SELECT count(*) FROM pending_operations WHERE state IN ('pending','inflight','dead')`,
		).Scan(&backlog)
		if err != nil {
			return 0, fmt.Errorf("queue backlog count: %w", err)
		}
		if backlog >= int64(q.opts.MaxPending) {
			return 0, fmt.Errorf("%w: %d operations already queued", ErrQueueOverflow, backlog)
		}
	}

	now := time.Now().UnixMilli()
	var seq int64
	err := tx.QueryRowxContext(ctx,
		`INSERT INTO pending_operations (id, case_id, kind, payload, state, created_at, available_at)
		 VALUES (?, ?, ?, ?, 'pending', ?, ?)
		 ON CONFLICT (id) DO UPDATE SET id = excluded.id
		 RETURNING seq`,
		op.ID.String(), op.CaseID, op.Kind, []byte(op.Payload), now, now,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("queue enqueue: %w", err)
	}

	q.m.enqueueTotal.WithLabelValues(op.Kind).Inc()
	return seq, nil
}

type dbOperation struct {
	Seq       int64  `db:"seq"`
	ID        string `db:"id"`
	CaseID    string `db:"case_id"`
	Kind      string `db:"kind"`
	Payload   []byte `db:"payload"`
	State     string `db:"state"`
	Attempts  int    `db:"attempts"`
	LastError string `db:"last_error"`
	CreatedAt int64  `db:"created_at"`
}

func (r dbOperation) toOperation() (Operation, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return Operation{}, fmt.Errorf("queue row %d: parse id: %w", r.Seq, err)
	}
	return Operation{
		ID:        id,
		CaseID:    r.CaseID,
		Kind:      r.Kind,
		Payload:   r.Payload,
		State:     State(r.State),
		Attempts:  r.Attempts,
		LastError: r.LastError,
		Sequence:  r.Seq,
		CreatedAt: time.UnixMilli(r.CreatedAt),
	}, nil
}

const claimSelectSQL = `
SELECT seq, id, case_id, kind, payload, state, attempts, last_error, created_at
  FROM pending_operations p
 WHERE p.state = 'pending'
   AND p.available_at <= ?
   AND NOT EXISTS (
         SELECT 1 FROM pending_operations q
          WHERE q.case_id = p.case_id
            AND (q.state = 'inflight'
                 OR (q.state IN ('pending','dead') AND q.seq < p.seq))
       )
 ORDER BY p.seq
 LIMIT ?`

// Claim marks up to limit operations in-flight and returns them with their
// attempt counters already incremented. At most one operation per case is
// claimed, and a case is skipped entirely while an earlier operation of that
// case is in flight, backing off, or dead-lettered. Draining never reorders
// a case's operations.
func (q *Queue) Claim(ctx context.Context, limit int) ([]Operation, error) {
	tx, err := q.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	var rows []dbOperation
	if err := tx.SelectContext(ctx, &rows, claimSelectSQL, now, limit); err != nil {
		return nil, fmt.Errorf("queue claim select: %w", err)
	}
	if len(rows) == 0 {
		return nil, tx.Commit()
	}

	ids := make([]string, 0, len(rows))
	ops := make([]Operation, 0, len(rows))
	for _, r := range rows {
		op, err := r.toOperation()
		if err != nil {
			return nil, err
		}
		op.State = StateInFlight
		op.Attempts++
		ops = append(ops, op)
		ids = append(ids, r.ID)
	}

	query, args, err := sqlx.In(
		`UPDATE pending_operations SET state = 'inflight', attempts = attempts + 1 WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("queue claim update: %w", err)
	}
	if _, err := tx.ExecContext(ctx, q.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("queue claim update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ops, nil
}

// Ack marks an in-flight operation committed. The row is retained for the
// cleaner's retention window so a crash after the remote call cannot lose
// the fact that the operation was applied.
func (q *Queue) Ack(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UnixMilli()
	_, err := q.db.ExecContext(ctx,
		`UPDATE pending_operations
		    SET state = 'committed', committed_at = ?, last_error = ''
		  WHERE id = ? AND state = 'inflight'`,
		now, id.String(),
	)
	if err != nil {
		return fmt.Errorf("queue ack: %w", err)
	}
	return nil
}

// Nack returns an in-flight operation to pending with a retry delay.
func (q *Queue) Nack(ctx context.Context, id uuid.UUID, lastError string, nextAvailable time.Time) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE pending_operations
		    SET state = 'pending', last_error = ?, available_at = ?
		  WHERE id = ? AND state = 'inflight'`,
		lastError, nextAvailable.UnixMilli(), id.String(),
	)
	if err != nil {
		return fmt.Errorf("queue nack: %w", err)
	}
	return nil
}

// Dead moves an operation to the dead-letter state. Dead operations stay in
// the queue for operator inspection and block later operations of the same
// case until requeued or purged.
func (q *Queue) Dead(ctx context.Context, id uuid.UUID, lastError string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE pending_operations
		    SET state = 'dead', last_error = ?
		  WHERE id = ? AND state IN ('inflight','pending')`,
		lastError, id.String(),
	)
	if err != nil {
		return fmt.Errorf("queue dead: %w", err)
	}
	return nil
}

// RewriteCaseID points every not-yet-committed operation at a new case id.
// Called during reconciliation when a provisional id is replaced by the
// backend-issued one.
func (q *Queue) RewriteCaseID(ctx context.Context, from, to string) (int64, error) {
	return rewriteCaseID(ctx, q.db, from, to)
}

// RewriteCaseIDTx is RewriteCaseID within the caller's transaction, so the
// rewrite commits together with the snapshot promotion.
func (q *Queue) RewriteCaseIDTx(ctx context.Context, tx *sqlx.Tx, from, to string) (int64, error) {
	return rewriteCaseID(ctx, tx, from, to)
}

func rewriteCaseID(ctx context.Context, e sqlx.ExtContext, from, to string) (int64, error) {
	res, err := e.ExecContext(ctx,
		`UPDATE pending_operations SET case_id = ? WHERE case_id = ? AND state != 'committed'`,
		to, from,
	)
	if err != nil {
		return 0, fmt.Errorf("queue rewrite case id: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("queue rewrite case id: %w", err)
	}
	return n, nil
}

// ListDead returns dead-lettered operations in FIFO order.
func (q *Queue) ListDead(ctx context.Context) ([]Operation, error) {
	var rows []dbOperation
	err := q.db.SelectContext(ctx, &rows,
		`SELECT seq, id, case_id, kind, payload, state, attempts, last_error, created_at
		   FROM pending_operations WHERE state = 'dead' ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("queue list dead: %w", err)
	}
	ops := make([]Operation, 0, len(rows))
	for _, r := range rows {
		op, err := r.toOperation()
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// Requeue resets a dead-lettered operation for another round of draining
// with a fresh attempt budget. This is the operator-driven manual resync.
func (q *Queue) Requeue(ctx context.Context, id uuid.UUID) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE pending_operations
		    SET state = 'pending', attempts = 0, last_error = '', available_at = ?
		  WHERE id = ? AND state = 'dead'`,
		time.Now().UnixMilli(), id.String(),
	)
	if err != nil {
		return fmt.Errorf("queue requeue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("queue requeue: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// PurgeDead deletes a dead-lettered operation. The only path that removes a
// row other than the committed-retention sweep.
func (q *Queue) PurgeDead(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.ExecContext(ctx,
		`DELETE FROM pending_operations WHERE id = ? AND state = 'dead'`, id.String())
	if err != nil {
		return fmt.Errorf("queue purge dead: %w", err)
	}
	return nil
}

// HasBacklog reports whether any not-yet-committed operation targets the
// given case. The façade uses this to keep later mutations of a case behind
// its queued ones.
func (q *Queue) HasBacklog(ctx context.Context, caseID string) (bool, error) {
	var n int64
	err := q.db.QueryRowxContext(ctx,
		`SELECT count(*) FROM pending_operations WHERE case_id = ? AND state != 'committed'`,
		caseID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("queue backlog: %w", err)
	}
	return n > 0, nil
}

// Get returns a single operation by id.
func (q *Queue) Get(ctx context.Context, id uuid.UUID) (Operation, error) {
	var row dbOperation
	err := q.db.GetContext(ctx, &row,
		`SELECT seq, id, case_id, kind, payload, state, attempts, last_error, created_at
		   FROM pending_operations WHERE id = ?`, id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return Operation{}, err
	}
	if err != nil {
		return Operation{}, fmt.Errorf("queue get: %w", err)
	}
	return row.toOperation()
}

// Depth returns the pending and dead-letter counts.
func (q *Queue) Depth(ctx context.Context) (pending, dead int64, err error) {
	if err = q.db.QueryRowxContext(ctx,
		`SELECT count(*) FROM pending_operations WHERE state IN ('pending','inflight')`).Scan(&pending); err != nil {
		return 0, 0, fmt.Errorf("queue pending count: %w", err)
	}
	if err = q.db.QueryRowxContext(ctx,
		`SELECT count(*) FROM pending_operations WHERE state = 'dead'`).Scan(&dead); err != nil {
		return 0, 0, fmt.Errorf("queue dead count: %w", err)
	}
	return pending, dead, nil
}

// sweep deletes committed rows older than cutoff and, when deadCutoff is
// non-zero, dead rows created before deadCutoff.
func (q *Queue) sweep(ctx context.Context, cutoff time.Time, deadCutoff time.Time) error {
	tx, err := q.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM pending_operations WHERE state = 'committed' AND committed_at < ?`,
		cutoff.UnixMilli(),
	); err != nil {
		return fmt.Errorf("queue sweep committed: %w", err)
	}
	if !deadCutoff.IsZero() {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM pending_operations WHERE state = 'dead' AND created_at < ?`,
			deadCutoff.UnixMilli(),
		); err != nil {
			return fmt.Errorf("queue sweep dead: %w", err)
		}
	}
	return tx.Commit()
}
