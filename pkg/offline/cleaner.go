package offline

import (
	"context"
	"errors"
	"time"
)

// Cleaner periodically sweeps committed operations past the retention window
// out of the queue. Dead-lettered operations are retained indefinitely by
// default; setting DeadRetention enables a separate sweep for them.
type Cleaner struct {
	queue *Queue
	opts  CleanerOptions
}

func NewCleaner(queue *Queue, opts CleanerOptions) (*Cleaner, error) {
	if queue == nil {
		return nil, invalidConfig("queue is required")
	}
	opts.setDefaults()
	if opts.Logger == nil {
		opts.Logger = logrusNop()
	}
	return &Cleaner{queue: queue, opts: opts}, nil
}

func (c *Cleaner) Run(ctx context.Context) error {
	if ctx == nil {
		return invalidConfig("ctx is required")
	}
	if !c.opts.Enabled {
		return nil
	}

	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if err := c.cleanOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			c.opts.Logger.WithError(err).Warn("offline: cleaner tick failed")
		}
	}
}

func (c *Cleaner) cleanOnce(ctx context.Context) error {
	cutoff := time.Now().Add(-c.opts.Retention)
	var deadCutoff time.Time
	if c.opts.DeadRetention > 0 {
		deadCutoff = time.Now().Add(-c.opts.DeadRetention)
	}
	return c.queue.sweep(ctx, cutoff, deadCutoff)
}
