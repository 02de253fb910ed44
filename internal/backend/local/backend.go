// Package local is an in-process processing backend. Jobs are persisted in
// sqlite and walked through the pipeline by a worker pool; every state change
// is published on the update channel the registry listens to.
package local

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"go-idea-jobs/internal/backend"
	"go-idea-jobs/internal/logger"
	"go-idea-jobs/internal/storage"
	"go-idea-jobs/internal/updates"
)

// Options tunes the local pipeline.
type Options struct {
	Workers      int
	StageDelay   time.Duration
	PollInterval time.Duration
	MaxAttempts  int
	Extractor    Extractor
}

func (o *Options) setDefaults() {
	if o.Workers <= 0 {
		o.Workers = 2
	}
	if o.StageDelay < 0 {
		o.StageDelay = 0
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.Extractor == nil {
		o.Extractor = URLExtractor{}
	}
}

// Backend implements backend.ProcessingBackend on top of storage.Store.
type Backend struct {
	store      *storage.Store
	publisher  updates.Publisher
	logger     logger.Logger
	dispatcher *Dispatcher
}

var _ backend.ProcessingBackend = (*Backend)(nil)

// New wires the store, the publisher and a dispatcher. Call Start to begin
// processing.
func New(store *storage.Store, pub updates.Publisher, log logger.Logger, opts Options) *Backend {
	opts.setDefaults()
	b := &Backend{
		store:     store,
		publisher: pub,
		logger:    log.With(logger.Component("backend.local")),
	}
	b.dispatcher = newDispatcher(b, opts)
	return b
}

// Start requeues jobs interrupted by a previous shutdown and launches the
// dispatcher.
func (b *Backend) Start() error {
	n, err := b.store.RequeueInFlight()
	if err != nil {
		return fmt.Errorf("requeue in-flight jobs: %w", err)
	}
	if n > 0 {
		b.logger.Info("requeued interrupted jobs", logger.Int64("count", n))
	}
	b.dispatcher.Start()
	return nil
}

// Stop shuts the dispatcher and its workers down.
func (b *Backend) Stop() {
	b.dispatcher.Stop()
}

// StartJob records a queued job and wakes the dispatcher.
func (b *Backend) StartJob(ctx context.Context, sourceURL, ownerID, groupID string) (storage.Job, error) {
	if strings.TrimSpace(sourceURL) == "" {
		return storage.Job{}, &backend.Error{Message: "source url is required"}
	}
	if ownerID == "" {
		return storage.Job{}, &backend.Error{Message: "owner id is required"}
	}

	j := &storage.Job{
		ID:              uuid.NewString(),
		OwnerID:         ownerID,
		GroupID:         groupID,
		SourceURL:       sourceURL,
		ProgressMessage: "Queued",
	}
	if err := b.store.Insert(j); err != nil {
		return storage.Job{}, backend.Errorf(err, "create job")
	}
	b.logger.Info("job queued",
		logger.String("job_id", j.ID),
		logger.String("group_id", groupID),
	)
	b.publish(ctx, j)
	b.dispatcher.Wake()
	return *j, nil
}

// RetryJob puts a failed, retryable job back on the queue under the same id.
func (b *Backend) RetryJob(ctx context.Context, jobID string) (storage.Job, error) {
	j, err := b.store.Requeue(jobID)
	if err != nil {
		if _, getErr := b.store.Get(jobID); errors.Is(getErr, storage.ErrNotFound) {
			return storage.Job{}, &backend.Error{Message: "job not found"}
		}
		return storage.Job{}, backend.Errorf(err, "job cannot be retried")
	}
	b.publish(ctx, j)
	b.dispatcher.Wake()
	return *j, nil
}

// DeleteJob removes the job row. A job currently in a worker finishes its
// stage and then fails to persist, which the worker logs.
func (b *Backend) DeleteJob(ctx context.Context, jobID string) error {
	if err := b.store.Delete(jobID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &backend.Error{Message: "job not found", Cause: err}
		}
		return backend.Errorf(err, "delete job")
	}
	b.logger.Info("job deleted", logger.String("job_id", jobID))
	return nil
}

func (b *Backend) publish(ctx context.Context, j *storage.Job) {
	if b.publisher == nil {
		return
	}
	if err := b.publisher.Publish(ctx, *j); err != nil {
		b.logger.Warn("publish job update failed",
			logger.String("job_id", j.ID),
			logger.Error(err),
		)
	}
}
