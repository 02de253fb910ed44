package registry

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"go-idea-jobs/internal/logger"
	"go-idea-jobs/internal/storage"
)

// Sweep removes terminal jobs last updated more than the grace period before
// now and returns how many it removed. Active jobs are never swept.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0
	}

	var expired []string
	collect := func(bucket map[string]storage.Job) {
		for id, j := range bucket {
			if j.Status.IsTerminal() && now.Sub(j.UpdatedAt) > r.grace {
				expired = append(expired, id)
			}
		}
	}
	collect(r.personal)
	for _, g := range r.groups {
		collect(g)
	}
	for _, id := range expired {
		r.removeLocked(id, true)
	}

	for id, at := range r.tombstones {
		if now.Sub(at) > r.grace {
			delete(r.tombstones, id)
		}
	}

	if n := len(expired); n > 0 {
		r.metrics.Swept(n)
		r.otel.Swept(r.ctx, n)
		r.logger.Info("swept expired jobs", logger.Int("count", n))
	}
	return len(expired)
}

// StartSweeper runs Sweep every interval until Close.
func (r *Registry) StartSweeper(interval time.Duration) error {
	if interval < time.Second {
		return fmt.Errorf("registry: sweep interval %s below one second", interval)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.sweeper != nil {
		return errors.New("registry: sweeper already running")
	}

	c := cron.New(cron.WithChain(
		cron.Recover(cron.DefaultLogger),
		cron.SkipIfStillRunning(cron.DefaultLogger),
	))
	if _, err := c.AddFunc("@every "+interval.String(), func() { r.Sweep(r.clock()) }); err != nil {
		return fmt.Errorf("registry: schedule sweep: %w", err)
	}
	c.Start()
	r.sweeper = c
	r.logger.Info("expiry sweep scheduled",
		logger.Duration("interval", interval),
		logger.Duration("grace", r.grace),
	)
	return nil
}
