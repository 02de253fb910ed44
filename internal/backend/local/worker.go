package local

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"go-idea-jobs/internal/logger"
	"go-idea-jobs/internal/storage"
)

var errPoolStopping = errors.New("worker pool is stopping")

const jobTimeout = 2 * time.Minute

// WorkerPool runs the job handler on a fixed number of goroutines.
type WorkerPool struct {
	size    int
	handler func(context.Context, *storage.Job)
	jobs    chan *storage.Job
	logger  logger.Logger
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewWorkerPool constructs a pool around handler.
func NewWorkerPool(size int, log logger.Logger, handler func(context.Context, *storage.Job)) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		size:    size,
		handler: handler,
		jobs:    make(chan *storage.Job),
		logger:  log,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches worker goroutines.
func (p *WorkerPool) Start() {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop cancels running jobs and waits for the workers to exit. Submit must
// not be called after Stop.
func (p *WorkerPool) Stop() {
	p.cancel()
	close(p.jobs)
	p.wg.Wait()
}

// Submit blocks until a worker takes the job or ctx is done.
func (p *WorkerPool) Submit(ctx context.Context, j *storage.Job) error {
	select {
	case <-p.ctx.Done():
		return errPoolStopping
	default:
	}

	select {
	case p.jobs <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return errPoolStopping
	}
}

func (p *WorkerPool) worker(idx int) {
	defer p.wg.Done()
	log := p.logger.With(logger.String("worker", "w-"+strconv.Itoa(idx)))
	log.Debug("worker starting")

	for j := range p.jobs {
		if p.ctx.Err() != nil {
			log.Debug("worker stopping")
			return
		}

		start := time.Now()
		log.Debug("picked up job", logger.String("job_id", j.ID))

		ctx, cancel := context.WithTimeout(p.ctx, jobTimeout)
		p.handler(ctx, j)
		cancel()

		log.Debug("job finished",
			logger.String("job_id", j.ID),
			logger.String("status", string(j.Status)),
			logger.Duration("took", time.Since(start)),
		)
	}

	log.Debug("worker exiting")
}
