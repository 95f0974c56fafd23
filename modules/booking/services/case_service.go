package services

import (
	"context"
	"time"

	gerrors "github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/medtrail/casesync/modules/booking/domain/aggregates/cases"
	"github.com/medtrail/casesync/modules/booking/domain/entities/operation"
	"github.com/medtrail/casesync/modules/booking/infrastructure/persistence"
	"github.com/medtrail/casesync/pkg/eventbus"
	"github.com/medtrail/casesync/pkg/offline"
	"github.com/medtrail/casesync/pkg/serrors"
)

// ErrInvalidInput carries field-level validation messages in its template
// data.
var ErrInvalidInput = serrors.NewError("CASE_INVALID_INPUT", "case payload failed validation", "cases.errors.invalidInput")

func invalidInput(errs serrors.ValidationErrors) error {
	return ErrInvalidInput.WithTemplateData(errs.Messages())
}

type CaseServiceOptions struct {
	Remote  cases.Repository
	Local   *persistence.LocalStore
	Queue   *offline.Queue
	Monitor *offline.Monitor
	Relay   *offline.Relay
	Bus     eventbus.EventBus
	Logger  *logrus.Entry
	Now     func() time.Time
}

// CaseService is the mutation façade. Every call lands on the local
// snapshot immediately; the backend is reached directly when it can be, or
// through the pending queue when it cannot. Callers never see the
// difference except for the provisional identity of offline creates.
type CaseService struct {
	remote  cases.Repository
	local   *persistence.LocalStore
	queue   *offline.Queue
	monitor *offline.Monitor
	relay   *offline.Relay
	bus     eventbus.EventBus
	log     *logrus.Entry
	now     func() time.Time
}

func NewCaseService(opts CaseServiceOptions) (*CaseService, error) {
	if opts.Remote == nil {
		return nil, gerrors.New("case service: remote repository is required")
	}
	if opts.Local == nil {
		return nil, gerrors.New("case service: local store is required")
	}
	if opts.Queue == nil {
		return nil, gerrors.New("case service: queue is required")
	}
	if opts.Bus == nil {
		return nil, gerrors.New("case service: event bus is required")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &CaseService{
		remote:  opts.Remote,
		local:   opts.Local,
		queue:   opts.Queue,
		monitor: opts.Monitor,
		relay:   opts.Relay,
		bus:     opts.Bus,
		log:     opts.Logger,
		now:     opts.Now,
	}, nil
}

func (s *CaseService) online() bool {
	return s.monitor == nil || s.monitor.Online()
}

// canReachDirectly reports whether a mutation of c may skip the queue.
// Provisional cases and cases with queued operations must go through the
// queue so nothing overtakes what is already waiting.
func (s *CaseService) canReachDirectly(ctx context.Context, c cases.Case) bool {
	if !s.online() || c.IsProvisional() {
		return false
	}
	backlog, err := s.queue.HasBacklog(ctx, c.ID())
	if err != nil {
		s.log.WithError(err).Warn("cases: backlog check failed, queueing instead")
		return false
	}
	return !backlog
}

// CreateCase books a case. Online it returns the canonical identity straight
// from the backend; offline (or when the backend call fails retryably) it
// returns a provisional case and queues the create.
func (s *CaseService) CreateCase(ctx context.Context, dto cases.CreateDTO) (cases.Case, error) {
	if errs, ok := dto.Ok(); !ok {
		return cases.Case{}, invalidInput(errs)
	}

	c := cases.New(dto, s.now())

	if s.online() {
		created, err := s.remote.Create(ctx, c)
		if err == nil {
			c.Promote(created.ID, created.ReferenceNumber)
			if err := s.local.Upsert(ctx, c); err != nil {
				return cases.Case{}, err
			}
			return c, nil
		}
		if !cases.IsRetryable(err) {
			return cases.Case{}, err
		}
		s.log.WithError(err).WithField("case_id", c.ID()).Info("cases: create unreachable, queueing")
	}

	payload := operation.CreatePayload{
		DTO:            dto,
		ProvisionalID:  c.ID(),
		ProvisionalRef: c.ReferenceNumber(),
		ClientToken:    c.ClientToken(),
	}
	if err := s.enqueue(ctx, c, operation.KindCreate, payload); err != nil {
		return cases.Case{}, err
	}
	return c, nil
}

// UpdateStatus records a status occurrence. Duplicate occurrences are
// silently ignored, matching the history dedup rules.
func (s *CaseService) UpdateStatus(ctx context.Context, dto cases.StatusUpdateDTO) (cases.Case, error) {
	if errs, ok := dto.Ok(); !ok {
		return cases.Case{}, invalidInput(errs)
	}

	c, err := s.loadCase(ctx, dto.CaseID)
	if err != nil {
		return cases.Case{}, err
	}

	entry := cases.StatusHistoryEntry{
		Status:      dto.Status,
		Timestamp:   s.now(),
		Actor:       dto.Actor,
		Details:     dto.Details,
		Attachments: dto.Attachments,
	}
	if !c.RecordStatus(entry) {
		return c, nil
	}

	if s.canReachDirectly(ctx, c) {
		err := s.remote.AppendStatus(ctx, c.ID(), entry)
		if err == nil {
			if err := s.local.Upsert(ctx, c); err != nil {
				return cases.Case{}, err
			}
			return c, nil
		}
		if !cases.IsRetryable(err) {
			return cases.Case{}, err
		}
		s.log.WithError(err).WithField("case_id", c.ID()).Info("cases: status update unreachable, queueing")
	}

	payload := operation.StatusUpdatePayload{CaseID: c.ID(), Entry: entry}
	if err := s.enqueue(ctx, c, operation.KindStatusUpdate, payload); err != nil {
		return cases.Case{}, err
	}
	return c, nil
}

// AmendCase applies an amendment. A second amendment without Override fails
// with ErrAlreadyAmended before anything is written or queued.
func (s *CaseService) AmendCase(ctx context.Context, dto cases.AmendDTO) (cases.Case, error) {
	if errs, ok := dto.Ok(); !ok {
		return cases.Case{}, invalidInput(errs)
	}

	c, err := s.loadCase(ctx, dto.CaseID)
	if err != nil {
		return cases.Case{}, err
	}

	entry, err := c.Amend(dto.Patch, s.now(), dto.Override)
	if err != nil {
		return cases.Case{}, err
	}

	if s.canReachDirectly(ctx, c) {
		err := s.remote.Amend(ctx, c.ID(), entry, c.AmendableValues())
		if err == nil {
			if err := s.local.Upsert(ctx, c); err != nil {
				return cases.Case{}, err
			}
			return c, nil
		}
		if !cases.IsRetryable(err) {
			return cases.Case{}, err
		}
		s.log.WithError(err).WithField("case_id", c.ID()).Info("cases: amend unreachable, queueing")
	}

	payload := operation.AmendPayload{CaseID: c.ID(), Entry: entry, Values: c.AmendableValues()}
	if err := s.enqueue(ctx, c, operation.KindAmend, payload); err != nil {
		return cases.Case{}, err
	}
	return c, nil
}

// GenerateReferenceNumber allocates the next canonical reference for a
// country, or mints a provisional one when the backend is unreachable.
func (s *CaseService) GenerateReferenceNumber(ctx context.Context, country string) (string, error) {
	if s.online() {
		ref, err := s.remote.AllocateReference(ctx, country)
		if err == nil {
			return ref, nil
		}
		if !cases.IsRetryable(err) {
			return "", err
		}
		s.log.WithError(err).Info("cases: reference allocation unreachable, minting provisional")
	}
	return cases.NewProvisionalReference(s.now()), nil
}

// GetCase returns the device view of a case.
func (s *CaseService) GetCase(ctx context.Context, id string) (cases.Case, error) {
	return s.local.GetByID(ctx, id)
}

// ListCases lists from the local snapshot store, which is complete for
// everything this device created or touched.
func (s *CaseService) ListCases(ctx context.Context, params *cases.FindParams) ([]cases.Case, error) {
	return s.local.List(ctx, params)
}

// loadCase prefers the local snapshot and falls back to the backend for
// cases this device has never seen, caching what it fetched.
func (s *CaseService) loadCase(ctx context.Context, id string) (cases.Case, error) {
	c, err := s.local.GetByID(ctx, id)
	if err == nil {
		return c, nil
	}
	if !gerrors.Is(err, cases.ErrCaseNotFound) || !s.online() {
		return cases.Case{}, err
	}

	c, err = s.remote.GetByID(ctx, id)
	if err != nil {
		return cases.Case{}, err
	}
	if err := s.local.Upsert(ctx, c); err != nil {
		return cases.Case{}, err
	}
	return c, nil
}

// enqueue writes the snapshot and its queue entry in one transaction, then
// announces the fallback.
func (s *CaseService) enqueue(ctx context.Context, c cases.Case, kind string, payload any) error {
	raw, err := operation.Encode(payload)
	if err != nil {
		return err
	}
	op := offline.Operation{
		ID:      uuid.New(),
		CaseID:  c.ID(),
		Kind:    kind,
		Payload: raw,
	}

	err = s.local.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.local.UpsertTx(ctx, tx, c); err != nil {
			return err
		}
		_, err := s.queue.EnqueueTx(ctx, tx, op)
		return err
	})
	if err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"case_id":      c.ID(),
		"operation_id": op.ID,
		"kind":         kind,
	}).Info("cases: operation queued")
	s.bus.Publish(OfflineFallbackEvent{
		CaseID:      c.ID(),
		OperationID: op.ID.String(),
		Kind:        kind,
		At:          s.now(),
	})
	if s.relay != nil {
		s.relay.Kick()
	}
	return nil
}
