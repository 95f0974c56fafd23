package offline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubDispatcher struct {
	mu    sync.Mutex
	fail  map[string]error // keyed by operation id
	calls []Operation
}

func (d *stubDispatcher) Dispatch(ctx context.Context, op Operation) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, op)
	if err, ok := d.fail[op.ID.String()]; ok {
		return err
	}
	return nil
}

func (d *stubDispatcher) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func TestRelay_ProcessOnceCommitsSuccess(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, QueueOptions{})
	ctx := context.Background()

	var committed []Operation
	dispatcher := &stubDispatcher{}
	relay, err := NewRelay(q, dispatcher, RelayOptions{
		MaxAttempts: 3,
		OnCommitted: func(op Operation) { committed = append(committed, op) },
	})
	require.NoError(t, err)

	op := testOp("case-1", "statusUpdate")
	_, err = q.Enqueue(ctx, op)
	require.NoError(t, err)

	require.NoError(t, relay.processOnce(ctx))
	require.Equal(t, 1, dispatcher.callCount())
	require.Len(t, committed, 1)
	require.Equal(t, op.ID, committed[0].ID)

	got, err := q.Get(ctx, op.ID)
	require.NoError(t, err)
	require.Equal(t, StateCommitted, got.State)
}

func TestRelay_RetryThenDeadLetterAtMaxAttempts(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, QueueOptions{})
	ctx := context.Background()

	op := testOp("case-1", "statusUpdate")
	var dead []Operation
	dispatcher := &stubDispatcher{fail: map[string]error{op.ID.String(): errors.New("unreachable")}}
	relay, err := NewRelay(q, dispatcher, RelayOptions{
		MaxAttempts: 5,
		MaxBackoff:  time.Nanosecond,
		JitterMax:   time.Nanosecond,
		OnDead: func(o Operation, lastError string) {
			dead = append(dead, o)
			require.Equal(t, "unreachable", lastError)
		},
	})
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, op)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		// Each pass claims once the backoff delay has elapsed; force
		// availability so the loop does not sleep.
		_, err = q.db.Exec(`UPDATE pending_operations SET available_at=?`, time.Now().Add(-time.Second).UnixMilli())
		require.NoError(t, err)
		require.NoError(t, relay.processOnce(ctx))
	}

	require.Equal(t, 5, dispatcher.callCount())
	require.Len(t, dead, 1)

	got, err := q.Get(ctx, op.ID)
	require.NoError(t, err)
	require.Equal(t, StateDeadLettered, got.State)
	require.Equal(t, 5, got.Attempts)

	// Dead-lettered operations never re-enter rotation on their own.
	require.NoError(t, relay.processOnce(ctx))
	require.Equal(t, 5, dispatcher.callCount())
}

func TestRelay_FatalErrorDeadLettersImmediately(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, QueueOptions{})
	ctx := context.Background()

	op := testOp("case-1", "amend")
	dispatcher := &stubDispatcher{fail: map[string]error{op.ID.String(): Fatal(errors.New("no canonical id"))}}
	relay, err := NewRelay(q, dispatcher, RelayOptions{MaxAttempts: 10})
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, op)
	require.NoError(t, err)
	require.NoError(t, relay.processOnce(ctx))

	got, err := q.Get(ctx, op.ID)
	require.NoError(t, err)
	require.Equal(t, StateDeadLettered, got.State)
	require.Equal(t, 1, got.Attempts)
}

func TestRelay_KickCoalesces(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, QueueOptions{})
	relay, err := NewRelay(q, &stubDispatcher{}, RelayOptions{})
	require.NoError(t, err)

	relay.Kick()
	relay.Kick()
	relay.Kick()
	require.Len(t, relay.kick, 1)
}

func TestRelay_RunDrainsOnKick(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, QueueOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatcher := &stubDispatcher{}
	relay, err := NewRelay(q, dispatcher, RelayOptions{
		PollInterval: time.Hour, // only the kick can trigger the drain
	})
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, testOp("case-1", "create"))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	relay.Kick()
	require.Eventually(t, func() bool { return dispatcher.callCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
