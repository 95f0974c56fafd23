package offline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// State is a pending operation's queue state.
type State string

const (
	StatePending      State = "pending"
	StateInFlight     State = "inflight"
	StateCommitted    State = "committed"
	StateDeadLettered State = "dead"
)

// Operation is the unit stored in the pending-operation queue. CaseID may be
// provisional; the queue supports rewriting it once the canonical id is known.
type Operation struct {
	ID        uuid.UUID       `db:"id"`
	CaseID    string          `db:"case_id"`
	Kind      string          `db:"kind"`
	Payload   json.RawMessage `db:"payload"`
	State     State           `db:"state"`
	Attempts  int             `db:"attempts"`
	LastError string          `db:"last_error"`
	Sequence  int64           `db:"seq"`
	CreatedAt time.Time       `db:"created_at"`
}

// Dispatcher applies a claimed operation against the backend. A nil return
// commits the operation; an error wrapped with Fatal dead-letters it
// immediately, any other error schedules a retry.
type Dispatcher interface {
	Dispatch(ctx context.Context, op Operation) error
}
