package offline

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Relay drains the pending-operation queue against a Dispatcher. It wakes on
// a poll timer and on Kick (the connection monitor kicks it on an
// offline→online transition so a reconnect drains immediately). Claimed
// operations always belong to distinct cases, so the batch is dispatched
// concurrently without violating per-case ordering.
type Relay struct {
	queue      *Queue
	dispatcher Dispatcher
	opts       RelayOptions

	kick chan struct{}

	randMu sync.Mutex

	m *metrics
}

func NewRelay(queue *Queue, dispatcher Dispatcher, opts RelayOptions) (*Relay, error) {
	if queue == nil {
		return nil, invalidConfig("queue is required")
	}
	if dispatcher == nil {
		return nil, invalidConfig("dispatcher is required")
	}

	opts.setDefaults()

	r := &Relay{
		queue:      queue,
		dispatcher: dispatcher,
		opts:       opts,
		kick:       make(chan struct{}, 1),
		m:          getMetrics(),
	}
	if r.opts.Logger == nil {
		r.opts.Logger = logrusNop()
	}
	return r, nil
}

// Kick requests an immediate drain pass. Coalesces when one is already
// requested.
func (r *Relay) Kick() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

func (r *Relay) Run(ctx context.Context) error {
	if ctx == nil {
		return invalidConfig("ctx is required")
	}

	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	nextDepthAt := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-r.kick:
		}

		if time.Now().After(nextDepthAt) {
			if err := r.observeQueueDepth(ctx); err != nil {
				r.opts.Logger.WithError(err).Debug("offline: observe queue depth failed")
			}
			nextDepthAt = time.Now().Add(r.opts.ObserveQueueDepthEvery)
		}

		if err := r.processOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			r.opts.Logger.WithError(err).Warn("offline: drain tick failed")
		}
	}
}

func (r *Relay) processOnce(ctx context.Context) error {
	for {
		claimed, err := r.queue.Claim(ctx, r.opts.BatchSize)
		if err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}

		var wg sync.WaitGroup
		sem := make(chan struct{}, r.opts.Concurrency)
		for _, op := range claimed {
			wg.Add(1)
			sem <- struct{}{}
			go func(op Operation) {
				defer wg.Done()
				defer func() { <-sem }()
				r.dispatchOne(ctx, op)
			}(op)
		}
		wg.Wait()

		// committing a case's head unblocks its next operation, so keep
		// claiming until a pass comes back empty
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (r *Relay) dispatchOne(ctx context.Context, op Operation) {
	dispatchCtx := ctx
	var cancel func()
	if r.opts.DispatchTimeout > 0 {
		dispatchCtx, cancel = context.WithTimeout(ctx, r.opts.DispatchTimeout)
	}

	start := time.Now()
	err := r.dispatcher.Dispatch(dispatchCtx, op)
	if cancel != nil {
		cancel()
	}
	latency := time.Since(start)

	log := r.opts.Logger.WithFields(map[string]any{
		"operation_id": op.ID.String(),
		"case_id":      op.CaseID,
		"kind":         op.Kind,
		"attempts":     op.Attempts,
	})

	if err == nil {
		r.recordDispatch(op.Kind, "success", latency)
		if ackErr := r.queue.Ack(ctx, op.ID); ackErr != nil {
			log.WithError(ackErr).Warn("offline: ack failed")
			return
		}
		if r.opts.OnCommitted != nil {
			r.opts.OnCommitted(op)
		}
		return
	}

	r.recordDispatch(op.Kind, "failure", latency)
	lastErr := truncateError(err, r.opts.LastErrorMaxLen)

	if IsFatal(err) || op.Attempts >= r.opts.MaxAttempts {
		r.m.deadTotal.WithLabelValues(op.Kind).Inc()
		if deadErr := r.queue.Dead(ctx, op.ID, lastErr); deadErr != nil {
			log.WithError(deadErr).Warn("offline: dead update failed")
			return
		}
		log.WithField("last_error", lastErr).Warn("offline: operation dead-lettered")
		if r.opts.OnDead != nil {
			r.opts.OnDead(op, lastErr)
		}
		return
	}

	next := time.Now().Add(backoff(op.Attempts, r.opts.MaxBackoff) + r.nextJitter())
	if nackErr := r.queue.Nack(ctx, op.ID, lastErr, next); nackErr != nil {
		log.WithError(nackErr).Warn("offline: nack failed")
	}
}

func (r *Relay) nextJitter() time.Duration {
	r.randMu.Lock()
	defer r.randMu.Unlock()
	return jitter(r.opts.Rand, r.opts.JitterMax)
}

func (r *Relay) observeQueueDepth(ctx context.Context) error {
	pending, dead, err := r.queue.Depth(ctx)
	if err != nil {
		return err
	}
	r.m.pending.WithLabelValues("pending_operations").Set(float64(pending))
	r.m.dead.WithLabelValues("pending_operations").Set(float64(dead))
	return nil
}

func (r *Relay) recordDispatch(kind, result string, latency time.Duration) {
	r.m.dispatchTotal.WithLabelValues(kind, result).Inc()
	r.m.dispatchLatency.WithLabelValues(kind, result).Observe(latency.Seconds())
}
