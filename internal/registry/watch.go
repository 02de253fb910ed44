package registry

import (
	"context"
	"sync"

	"go-idea-jobs/internal/logger"
	"go-idea-jobs/internal/storage"
)

type watch struct {
	refs    int
	cleanup func()
	done    chan struct{}

	mu      sync.Mutex
	stopped bool
}

func (w *watch) stop() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
	w.cleanup()
}

func (w *watch) wasStopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopped
}

// StartWatching registers interest in a scope's updates. The first watcher
// opens the subscription; later ones only bump the count. ctx bounds the
// subscription setup, not its lifetime.
func (r *Registry) StartWatching(ctx context.Context, scope storage.Scope) error {
	if err := ctx.Err(); err != nil {
		return opError(OpWatch, "", err, nil)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return opError(OpWatch, "", ErrClosed, nil)
	}
	if w, ok := r.watches[scope]; ok {
		w.refs++
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	stream, cleanup, err := r.subscribe(ctx, scope)
	if err != nil {
		r.logger.Warn("subscribe failed", logger.String("scope", scope.String()), logger.Error(err))
		return opError(OpWatch, "", err, nil)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cleanup()
		return opError(OpWatch, "", ErrClosed, nil)
	}
	if w, ok := r.watches[scope]; ok {
		// lost a race with another first watcher
		w.refs++
		r.mu.Unlock()
		cleanup()
		return nil
	}
	w := &watch{refs: 1, cleanup: cleanup, done: make(chan struct{})}
	r.watches[scope] = w
	r.metrics.SetWatches(len(r.watches))
	r.mu.Unlock()

	go r.drain(scope, w, stream)
	r.logger.Info("watching scope", logger.String("scope", scope.String()))
	return nil
}

type subscription struct {
	stream  <-chan storage.Job
	cleanup func()
	err     error
}

// subscribe opens the stream under the registry's lifetime and gives up
// waiting once ctx or the registry is done. A subscription that completes
// after that is released in the background.
func (r *Registry) subscribe(ctx context.Context, scope storage.Scope) (<-chan storage.Job, func(), error) {
	res := make(chan subscription, 1)
	go func() {
		stream, cleanup, err := r.channel.Subscribe(r.ctx, r.ownerID, scope)
		res <- subscription{stream: stream, cleanup: cleanup, err: err}
	}()

	var err error
	select {
	case sub := <-res:
		return sub.stream, sub.cleanup, sub.err
	case <-ctx.Done():
		err = ctx.Err()
	case <-r.ctx.Done():
		err = ErrClosed
	}
	go func() {
		if sub := <-res; sub.err == nil {
			sub.cleanup()
		}
	}()
	return nil, nil, err
}

// StopWatching releases one watcher. The last one tears the subscription
// down. Calls without a matching StartWatching are ignored.
func (r *Registry) StopWatching(scope storage.Scope) {
	r.mu.Lock()
	w, ok := r.watches[scope]
	if !ok {
		r.mu.Unlock()
		return
	}
	w.refs--
	if w.refs > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.watches, scope)
	r.metrics.SetWatches(len(r.watches))
	r.mu.Unlock()

	w.stop()
	r.logger.Info("stopped watching scope", logger.String("scope", scope.String()))
}

// Watchers returns the number of active watchers on scope.
func (r *Registry) Watchers(scope storage.Scope) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.watches[scope]; ok {
		return w.refs
	}
	return 0
}

func (r *Registry) drain(scope storage.Scope, w *watch, stream <-chan storage.Job) {
	defer close(w.done)
	for job := range stream {
		if job.Scope() != scope {
			r.logger.Warn("update for another scope",
				logger.String("scope", scope.String()),
				logger.String("job_id", job.ID),
			)
		}
		// malformed documents are logged and counted by Reconcile
		_ = r.Reconcile(job)
	}
	if !w.wasStopped() && !r.isClosed() {
		r.logger.Warn("update stream ended unexpectedly", logger.String("scope", scope.String()))
	}
}

// WatchHandle is one watcher's claim on a scope subscription.
type WatchHandle struct {
	registry *Registry
	scope    storage.Scope
	once     sync.Once
}

// Watch is StartWatching returning a handle whose Stop releases exactly this
// claim, however many times it is called.
func (r *Registry) Watch(ctx context.Context, scope storage.Scope) (*WatchHandle, error) {
	if err := r.StartWatching(ctx, scope); err != nil {
		return nil, err
	}
	return &WatchHandle{registry: r, scope: scope}, nil
}

// Scope returns the watched scope.
func (h *WatchHandle) Scope() storage.Scope {
	return h.scope
}

// Stop releases the claim.
func (h *WatchHandle) Stop() {
	h.once.Do(func() { h.registry.StopWatching(h.scope) })
}
