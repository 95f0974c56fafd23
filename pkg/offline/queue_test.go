package offline

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func newTestQueue(t *testing.T, opts QueueOptions) *Queue {
	t.Helper()
	db, err := sqlx.Connect("sqlite", filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	q, err := NewQueue(db, opts)
	require.NoError(t, err)
	return q
}

func testOp(caseID, kind string) Operation {
	return Operation{
		ID:      uuid.New(),
		CaseID:  caseID,
		Kind:    kind,
		Payload: json.RawMessage(`{}`),
	}
}

func TestQueue_EnqueueIdempotentByID(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, QueueOptions{})
	ctx := context.Background()

	op := testOp("case-1", "statusUpdate")
	seq1, err := q.Enqueue(ctx, op)
	require.NoError(t, err)
	seq2, err := q.Enqueue(ctx, op)
	require.NoError(t, err)
	require.Equal(t, seq1, seq2)

	pending, _, err := q.Depth(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, pending)
}

func TestQueue_EnqueueRejectsIncompleteOperations(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, QueueOptions{})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, Operation{CaseID: "c", Kind: "k"})
	require.ErrorIs(t, err, ErrInvalidConfig)
	_, err = q.Enqueue(ctx, Operation{ID: uuid.New(), Kind: "k"})
	require.ErrorIs(t, err, ErrInvalidConfig)
	_, err = q.Enqueue(ctx, Operation{ID: uuid.New(), CaseID: "c"})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestQueue_ClaimHeadPerCaseFIFO(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, QueueOptions{})
	ctx := context.Background()

	first := testOp("case-1", "create")
	second := testOp("case-1", "statusUpdate")
	other := testOp("case-2", "statusUpdate")
	for _, op := range []Operation{first, second, other} {
		_, err := q.Enqueue(ctx, op)
		require.NoError(t, err)
	}

	claimed, err := q.Claim(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2, "one head per case")
	require.Equal(t, first.ID, claimed[0].ID)
	require.Equal(t, other.ID, claimed[1].ID)
	require.Equal(t, 1, claimed[0].Attempts)

	// case-1 has an in-flight head, so its second operation stays put.
	again, err := q.Claim(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, again)

	// Committing the head unblocks the next operation of the case.
	require.NoError(t, q.Ack(ctx, first.ID))
	require.NoError(t, q.Ack(ctx, other.ID))
	next, err := q.Claim(ctx, 10)
	require.NoError(t, err)
	require.Len(t, next, 1)
	require.Equal(t, second.ID, next[0].ID)
}

func TestQueue_DeadHeadBlocksCase(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, QueueOptions{})
	ctx := context.Background()

	head := testOp("case-1", "create")
	tail := testOp("case-1", "statusUpdate")
	for _, op := range []Operation{head, tail} {
		_, err := q.Enqueue(ctx, op)
		require.NoError(t, err)
	}

	claimed, err := q.Claim(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, q.Dead(ctx, head.ID, "poison"))

	// The dead head keeps the case's later operations out of rotation so
	// they cannot be applied out of order.
	blocked, err := q.Claim(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, blocked)

	require.NoError(t, q.Requeue(ctx, head.ID))
	resumed, err := q.Claim(ctx, 10)
	require.NoError(t, err)
	require.Len(t, resumed, 1)
	require.Equal(t, head.ID, resumed[0].ID)
	require.Equal(t, 1, resumed[0].Attempts, "requeue resets the attempt budget")
}

func TestQueue_NackSchedulesRetry(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, QueueOptions{})
	ctx := context.Background()

	op := testOp("case-1", "statusUpdate")
	_, err := q.Enqueue(ctx, op)
	require.NoError(t, err)

	claimed, err := q.Claim(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// Future availability keeps it out of the next claim.
	require.NoError(t, q.Nack(ctx, op.ID, "timeout", time.Now().Add(time.Hour)))
	none, err := q.Claim(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, none)

	// Bring it forward and it is claimable again with the counter bumped.
	_, err = q.db.Exec(`UPDATE pending_operations SET available_at=?`, time.Now().Add(-time.Second).UnixMilli())
	require.NoError(t, err)

	retried, err := q.Claim(ctx, 10)
	require.NoError(t, err)
	require.Len(t, retried, 1)
	require.Equal(t, 2, retried[0].Attempts)
	require.Equal(t, "timeout", retried[0].LastError)
}

func TestQueue_RewriteCaseID(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, QueueOptions{})
	ctx := context.Background()

	committed := testOp("offline_a", "create")
	pending1 := testOp("offline_a", "statusUpdate")
	pending2 := testOp("offline_a", "statusUpdate")
	unrelated := testOp("case-9", "statusUpdate")
	for _, op := range []Operation{committed, pending1, pending2, unrelated} {
		_, err := q.Enqueue(ctx, op)
		require.NoError(t, err)
	}

	claimed, err := q.Claim(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	require.NoError(t, q.Ack(ctx, committed.ID))
	require.NoError(t, q.Ack(ctx, unrelated.ID))

	n, err := q.RewriteCaseID(ctx, "offline_a", "CASE-100")
	require.NoError(t, err)
	require.EqualValues(t, 2, n, "committed rows keep their original case id")

	got, err := q.Get(ctx, pending1.ID)
	require.NoError(t, err)
	require.Equal(t, "CASE-100", got.CaseID)
}

func TestQueue_Overflow(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, QueueOptions{MaxPending: 1})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, testOp("case-1", "create"))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, testOp("case-2", "create"))
	require.ErrorIs(t, err, ErrQueueOverflow)
}

func TestQueue_HasBacklog(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, QueueOptions{})
	ctx := context.Background()

	op := testOp("case-1", "create")
	_, err := q.Enqueue(ctx, op)
	require.NoError(t, err)

	has, err := q.HasBacklog(ctx, "case-1")
	require.NoError(t, err)
	require.True(t, has)

	claimed, err := q.Claim(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, q.Ack(ctx, claimed[0].ID))

	has, err = q.HasBacklog(ctx, "case-1")
	require.NoError(t, err)
	require.False(t, has)
}

func TestQueue_DeadLetterLifecycle(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, QueueOptions{})
	ctx := context.Background()

	op := testOp("case-1", "amend")
	_, err := q.Enqueue(ctx, op)
	require.NoError(t, err)
	_, err = q.Claim(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, q.Dead(ctx, op.ID, "rejected"))

	dead, err := q.ListDead(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	require.Equal(t, op.ID, dead[0].ID)
	require.Equal(t, "rejected", dead[0].LastError)

	require.NoError(t, q.PurgeDead(ctx, op.ID))
	dead, err = q.ListDead(ctx)
	require.NoError(t, err)
	require.Empty(t, dead)
}

func TestQueue_SweepRetainsRecentAndDead(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, QueueOptions{})
	ctx := context.Background()

	done := testOp("case-1", "create")
	dead := testOp("case-2", "create")
	for _, op := range []Operation{done, dead} {
		_, err := q.Enqueue(ctx, op)
		require.NoError(t, err)
	}
	claimed, err := q.Claim(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	require.NoError(t, q.Ack(ctx, done.ID))
	require.NoError(t, q.Dead(ctx, dead.ID, "x"))

	// Retention cutoff in the past keeps everything.
	require.NoError(t, q.sweep(ctx, time.Now().Add(-time.Hour), time.Time{}))
	_, err = q.Get(ctx, done.ID)
	require.NoError(t, err)

	// Cutoff in the future sweeps the committed row but not the dead one.
	require.NoError(t, q.sweep(ctx, time.Now().Add(time.Hour), time.Time{}))
	_, err = q.Get(ctx, done.ID)
	require.Error(t, err)
	deadOps, err := q.ListDead(ctx)
	require.NoError(t, err)
	require.Len(t, deadOps, 1)

	// Dead sweep only with an explicit dead cutoff.
	require.NoError(t, q.sweep(ctx, time.Now().Add(time.Hour), time.Now().Add(time.Hour)))
	deadOps, err = q.ListDead(ctx)
	require.NoError(t, err)
	require.Empty(t, deadOps)
}

func TestQueue_RecoversInFlightAfterRestart(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "queue.db")
	db, err := sqlx.Connect("sqlite", path)
	require.NoError(t, err)
	q, err := NewQueue(db, QueueOptions{})
	require.NoError(t, err)
	ctx := context.Background()

	head := testOp("case-1", "create")
	tail := testOp("case-1", "statusUpdate")
	for _, op := range []Operation{head, tail} {
		_, err := q.Enqueue(ctx, op)
		require.NoError(t, err)
	}
	claimed, err := q.Claim(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// Crash before Ack: the process dies with the head in flight.
	require.NoError(t, db.Close())

	db2, err := sqlx.Connect("sqlite", path)
	require.NoError(t, err)
	defer func() { _ = db2.Close() }()
	q2, err := NewQueue(db2, QueueOptions{})
	require.NoError(t, err)

	// The orphaned head is pending again and claimable, with the crashed
	// attempt still on the counter, and the case is not wedged.
	recovered, err := q2.Claim(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	require.Equal(t, head.ID, recovered[0].ID)
	require.Equal(t, 2, recovered[0].Attempts)

	require.NoError(t, q2.Ack(ctx, head.ID))
	next, err := q2.Claim(ctx, 10)
	require.NoError(t, err)
	require.Len(t, next, 1)
	require.Equal(t, tail.ID, next[0].ID)
}

func TestQueue_SurvivesReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "queue.db")
	db, err := sqlx.Connect("sqlite", path)
	require.NoError(t, err)
	q, err := NewQueue(db, QueueOptions{})
	require.NoError(t, err)
	ctx := context.Background()

	op := testOp("case-1", "create")
	_, err = q.Enqueue(ctx, op)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db2, err := sqlx.Connect("sqlite", path)
	require.NoError(t, err)
	defer func() { _ = db2.Close() }()
	q2, err := NewQueue(db2, QueueOptions{})
	require.NoError(t, err)

	got, err := q2.Get(ctx, op.ID)
	require.NoError(t, err)
	require.Equal(t, StatePending, got.State)
	require.Equal(t, "case-1", got.CaseID)
}
