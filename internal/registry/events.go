package registry

import (
	"sync"

	"go-idea-jobs/internal/logger"
	"go-idea-jobs/internal/storage"
)

// EventKind says what happened to a job.
type EventKind string

const (
	EventUpserted EventKind = "upserted"
	EventRemoved  EventKind = "removed"
)

// Event is a registry change notification.
type Event struct {
	Kind EventKind
	Job  storage.Job
}

const eventBuffer = 128

type observer struct {
	ch   chan Event
	once sync.Once
}

// Events subscribes to change notifications. Delivery never blocks the
// registry: an observer that falls more than a buffer behind misses events.
// The returned func unsubscribes and closes the channel; it is idempotent.
func (r *Registry) Events() (<-chan Event, func()) {
	obs := &observer{ch: make(chan Event, eventBuffer)}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		close(obs.ch)
		return obs.ch, func() {}
	}
	r.observers[obs] = struct{}{}
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.dropObserverLocked(obs)
	}
	return obs.ch, cancel
}

func (r *Registry) dropObserverLocked(obs *observer) {
	obs.once.Do(func() {
		delete(r.observers, obs)
		close(obs.ch)
	})
}

func (r *Registry) emitLocked(kind EventKind, job storage.Job) {
	ev := Event{Kind: kind, Job: job}
	for obs := range r.observers {
		select {
		case obs.ch <- ev:
		default:
			r.logger.Warn("observer lagging, event dropped",
				logger.String("job_id", job.ID),
				logger.String("kind", string(kind)),
			)
		}
	}
}
