package services

import (
	"context"
	"sync"
	"time"

	gerrors "github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/medtrail/casesync/modules/booking/domain/aggregates/cases"
	"github.com/medtrail/casesync/modules/booking/domain/entities/operation"
	"github.com/medtrail/casesync/modules/booking/infrastructure/persistence"
	"github.com/medtrail/casesync/pkg/eventbus"
	"github.com/medtrail/casesync/pkg/offline"
)

type SyncServiceOptions struct {
	Remote cases.Repository
	Local  *persistence.LocalStore
	Queue  *offline.Queue
	Bus    eventbus.EventBus
	Logger *logrus.Entry
	Now    func() time.Time

	Relay   offline.RelayOptions
	Monitor offline.MonitorOptions
	Cleaner offline.CleanerOptions
}

// SyncService drains the pending queue against the backend. It is the
// relay's Dispatcher: one queued operation in, one backend mutation out.
// Create commits additionally reconcile the provisional identity, rewriting
// the local snapshot and every still-queued operation of the case.
type SyncService struct {
	remote cases.Repository
	local  *persistence.LocalStore
	queue  *offline.Queue
	bus    eventbus.EventBus
	log    *logrus.Entry
	now    func() time.Time

	relay   *offline.Relay
	monitor *offline.Monitor
	cleaner *offline.Cleaner

	mu   sync.Mutex
	stop context.CancelFunc
	done chan struct{}
}

func NewSyncService(opts SyncServiceOptions) (*SyncService, error) {
	if opts.Remote == nil {
		return nil, gerrors.New("sync service: remote repository is required")
	}
	if opts.Local == nil {
		return nil, gerrors.New("sync service: local store is required")
	}
	if opts.Queue == nil {
		return nil, gerrors.New("sync service: queue is required")
	}
	if opts.Bus == nil {
		return nil, gerrors.New("sync service: event bus is required")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &SyncService{
		remote: opts.Remote,
		local:  opts.Local,
		queue:  opts.Queue,
		bus:    opts.Bus,
		log:    opts.Logger,
		now:    opts.Now,
	}

	relayOpts := opts.Relay
	relayOpts.Logger = opts.Logger
	relayOpts.OnCommitted = s.onCommitted
	relayOpts.OnDead = s.onDead
	relay, err := offline.NewRelay(opts.Queue, s, relayOpts)
	if err != nil {
		return nil, err
	}
	s.relay = relay

	monitorOpts := opts.Monitor
	monitorOpts.Logger = opts.Logger
	monitor, err := offline.NewMonitor(offline.ProberFunc(opts.Remote.Ping), monitorOpts)
	if err != nil {
		return nil, err
	}
	s.monitor = monitor

	cleanerOpts := opts.Cleaner
	cleanerOpts.Logger = opts.Logger
	cleaner, err := offline.NewCleaner(opts.Queue, cleanerOpts)
	if err != nil {
		return nil, err
	}
	s.cleaner = cleaner

	return s, nil
}

// Relay exposes the relay so the mutation façade can kick a drain after an
// enqueue.
func (s *SyncService) Relay() *offline.Relay { return s.relay }

// Monitor exposes the debounced connectivity state.
func (s *SyncService) Monitor() *offline.Monitor { return s.monitor }

// Run starts the probe loop, the drain loop and the retention cleaner, and
// forwards connectivity transitions to the bus. Blocks until ctx is done.
func (s *SyncService) Run(ctx context.Context) error {
	transitions := s.monitor.Subscribe()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.monitor.Run(ctx) })
	g.Go(func() error { return s.relay.Run(ctx) })
	g.Go(func() error { return s.cleaner.Run(ctx) })
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case tr := <-transitions:
				s.bus.Publish(ConnectivityChangedEvent{Online: tr.To == offline.StateOnline, At: tr.At})
				if tr.To == offline.StateOnline {
					s.relay.Kick()
				}
			}
		}
	})
	return g.Wait()
}

// Start launches Run on a background goroutine. A second Start without an
// intervening Shutdown fails.
func (s *SyncService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return gerrors.New("sync service already started")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.stop = cancel
	s.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		_ = s.Run(ctx)
	}(s.done)
	return nil
}

// Shutdown stops the loops started by Start and waits for them to exit.
func (s *SyncService) Shutdown() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()
	if stop == nil {
		return
	}
	stop()
	<-done
}

// Dispatch replays one queued operation against the backend. The target
// case id is op.CaseID, never the id inside the payload: reconciliation
// rewrites queue rows in place, so op.CaseID is canonical by the time a
// follow-up operation of a promoted case is claimed.
func (s *SyncService) Dispatch(ctx context.Context, op offline.Operation) error {
	var err error
	switch op.Kind {
	case operation.KindCreate:
		err = s.dispatchCreate(ctx, op)
	case operation.KindStatusUpdate:
		err = s.dispatchStatusUpdate(ctx, op)
	case operation.KindAmend:
		err = s.dispatchAmend(ctx, op)
	default:
		err = offline.Fatal(gerrors.Errorf("unknown operation kind %q", op.Kind))
	}

	if err != nil && !offline.IsFatal(err) && !cases.IsRetryable(err) {
		err = offline.Fatal(err)
	}
	if err != nil && !offline.IsFatal(err) {
		s.bus.Publish(SyncFailedEvent{
			CaseID:      op.CaseID,
			OperationID: op.ID.String(),
			Kind:        op.Kind,
			Attempts:    op.Attempts,
			LastError:   err.Error(),
			At:          s.now(),
		})
	}
	return err
}

func (s *SyncService) dispatchCreate(ctx context.Context, op offline.Operation) error {
	var payload operation.CreatePayload
	if err := operation.Decode(op.Payload, &payload); err != nil {
		return offline.Fatal(err)
	}

	c, err := s.local.GetByID(ctx, op.CaseID)
	if gerrors.Is(err, cases.ErrCaseNotFound) {
		// snapshot gone, nothing to book
		return offline.Fatal(err)
	}
	if err != nil {
		return err
	}

	created, err := s.remote.Create(ctx, c)
	if err != nil {
		return err
	}

	provisionalID := c.ID()
	c.Promote(created.ID, created.ReferenceNumber)

	// the snapshot swap and the queue rewrite must land together, or a
	// follow-up operation would target an id the backend never issued
	err = s.local.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.local.PromoteTx(ctx, tx, provisionalID, c); err != nil {
			return err
		}
		_, err := s.queue.RewriteCaseIDTx(ctx, tx, provisionalID, created.ID)
		return err
	})
	if err != nil {
		// the backend holds the case but the device could not adopt the
		// canonical identity; retrying the create cannot fix that
		return offline.Fatal(gerrors.Wrap(err, "reconcile created case"))
	}

	s.log.WithFields(logrus.Fields{
		"provisional_id": provisionalID,
		"case_id":        created.ID,
		"reference":      created.ReferenceNumber,
	}).Info("sync: case promoted")

	s.bus.Publish(SyncCommittedEvent{
		CaseID:      created.ID,
		OperationID: op.ID.String(),
		Kind:        op.Kind,
		Case:        &c,
		At:          s.now(),
	})
	return nil
}

func (s *SyncService) dispatchStatusUpdate(ctx context.Context, op offline.Operation) error {
	var payload operation.StatusUpdatePayload
	if err := operation.Decode(op.Payload, &payload); err != nil {
		return offline.Fatal(err)
	}
	if err := s.remote.AppendStatus(ctx, op.CaseID, payload.Entry); err != nil {
		return err
	}
	s.bus.Publish(SyncCommittedEvent{
		CaseID:      op.CaseID,
		OperationID: op.ID.String(),
		Kind:        op.Kind,
		At:          s.now(),
	})
	return nil
}

func (s *SyncService) dispatchAmend(ctx context.Context, op offline.Operation) error {
	var payload operation.AmendPayload
	if err := operation.Decode(op.Payload, &payload); err != nil {
		return offline.Fatal(err)
	}
	if err := s.remote.Amend(ctx, op.CaseID, payload.Entry, payload.Values); err != nil {
		return err
	}
	s.bus.Publish(SyncCommittedEvent{
		CaseID:      op.CaseID,
		OperationID: op.ID.String(),
		Kind:        op.Kind,
		At:          s.now(),
	})
	return nil
}

func (s *SyncService) onCommitted(op offline.Operation) {
	s.log.WithFields(logrus.Fields{
		"case_id":      op.CaseID,
		"operation_id": op.ID,
		"kind":         op.Kind,
	}).Debug("sync: operation committed")
}

// onDead flags the case for manual resync once an operation exhausts its
// retry budget. Later operations of the case stay queued behind the dead
// one until an operator requeues or discards it.
func (s *SyncService) onDead(op offline.Operation, lastError string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.local.SetNeedsSync(ctx, op.CaseID, true); err != nil && !gerrors.Is(err, cases.ErrCaseNotFound) {
		s.log.WithError(err).WithField("case_id", op.CaseID).Error("sync: flag needs-sync failed")
	}

	s.log.WithFields(logrus.Fields{
		"case_id":      op.CaseID,
		"operation_id": op.ID,
		"kind":         op.Kind,
		"last_error":   lastError,
	}).Error("sync: operation dead-lettered")

	s.bus.Publish(NeedsManualResyncEvent{
		CaseID:      op.CaseID,
		OperationID: op.ID.String(),
		Kind:        op.Kind,
		LastError:   lastError,
		At:          s.now(),
	})
}

// ListDeadLetters returns the operations waiting on operator attention.
func (s *SyncService) ListDeadLetters(ctx context.Context) ([]offline.Operation, error) {
	return s.queue.ListDead(ctx)
}

// RetryDeadLettered puts a dead-lettered operation back in line with a
// fresh attempt budget and clears the case's needs-sync flag when nothing
// else of that case is dead.
func (s *SyncService) RetryDeadLettered(ctx context.Context, id uuid.UUID) error {
	op, err := s.queue.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.queue.Requeue(ctx, id); err != nil {
		return err
	}
	if err := s.clearNeedsSyncIfClean(ctx, op.CaseID); err != nil {
		return err
	}
	s.relay.Kick()
	return nil
}

// DiscardDeadLettered drops a dead-lettered operation for good. The change
// it carried is lost; later queued operations of the case become eligible
// again.
func (s *SyncService) DiscardDeadLettered(ctx context.Context, id uuid.UUID) error {
	op, err := s.queue.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.queue.PurgeDead(ctx, id); err != nil {
		return err
	}
	if err := s.clearNeedsSyncIfClean(ctx, op.CaseID); err != nil {
		return err
	}
	s.relay.Kick()
	return nil
}

func (s *SyncService) clearNeedsSyncIfClean(ctx context.Context, caseID string) error {
	dead, err := s.queue.ListDead(ctx)
	if err != nil {
		return err
	}
	for _, d := range dead {
		if d.CaseID == caseID {
			return nil
		}
	}
	err = s.local.SetNeedsSync(ctx, caseID, false)
	if gerrors.Is(err, cases.ErrCaseNotFound) {
		return nil
	}
	return err
}
