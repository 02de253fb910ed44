package local

import (
	"context"
	"sync"
	"time"

	"go-idea-jobs/internal/logger"
)

const maxIdleBackoff = 5 * time.Second

// Dispatcher claims queued jobs from the store and hands them to the pool.
type Dispatcher struct {
	backend      *Backend
	pool         *WorkerPool
	pollInterval time.Duration
	wake         chan struct{}
	logger       logger.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}
	started  bool
	stopOnce sync.Once
}

func newDispatcher(b *Backend, opts Options) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		backend:      b,
		pollInterval: opts.PollInterval,
		wake:         make(chan struct{}, 1),
		logger:       b.logger.With(logger.String("part", "dispatcher")),
		ctx:          ctx,
		cancel:       cancel,
		loopDone:     make(chan struct{}),
	}
	p := &pipeline{backend: b, extractor: opts.Extractor, stageDelay: opts.StageDelay, maxAttempts: opts.MaxAttempts}
	d.pool = NewWorkerPool(opts.Workers, b.logger, p.run)
	return d
}

// Start launches the worker pool and the dispatch loop.
func (d *Dispatcher) Start() {
	d.logger.Info("starting worker pool", logger.Int("size", d.pool.size))
	d.pool.Start()
	d.started = true
	go d.loop()
}

// Stop ends the dispatch loop, then drains the pool.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.logger.Info("stopping dispatcher")
		d.cancel()
		if !d.started {
			return
		}
		<-d.loopDone
		d.pool.Stop()
	})
}

// Wake shortcuts the idle backoff after new work was queued.
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) loop() {
	defer close(d.loopDone)
	backoff := 0

	for {
		if d.ctx.Err() != nil {
			return
		}

		job, err := d.backend.store.NextQueued()
		if err != nil {
			d.logger.Error("fetch next job", logger.Error(err))
			if !d.sleep(time.Second) {
				return
			}
			continue
		}

		if job == nil {
			backoff++
			sleep := d.pollInterval << uint(min(backoff, 4))
			if sleep > maxIdleBackoff {
				sleep = maxIdleBackoff
			}
			if !d.sleep(sleep) {
				return
			}
			continue
		}
		backoff = 0

		job.ProgressMessage = "Downloading video"
		if err := d.backend.store.Update(job); err != nil {
			d.logger.Warn("update claimed job", logger.String("job_id", job.ID), logger.Error(err))
			continue
		}
		d.backend.publish(d.ctx, job)

		d.logger.Debug("dispatching job", logger.String("job_id", job.ID))
		if err := d.pool.Submit(d.ctx, job); err != nil {
			// left in downloading; Start requeues it on the next run
			d.logger.Warn("job not dispatched", logger.String("job_id", job.ID), logger.Error(err))
			return
		}
	}
}

// sleep waits for the duration or a wake signal. It returns false once the
// dispatcher is stopping.
func (d *Dispatcher) sleep(dur time.Duration) bool {
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-d.ctx.Done():
		return false
	case <-d.wake:
		return true
	case <-t.C:
		return true
	}
}
