// Package updates carries job documents from the processing backend to the
// registry. A subscription is a channel of full job documents for one scope,
// delivered in publish order, plus an idempotent cleanup func.
package updates

import (
	"context"
	"errors"

	"go-idea-jobs/internal/storage"
)

// ErrClosed is returned when publishing on a closed channel.
var ErrClosed = errors.New("update channel closed")

// Channel opens per-scope job update streams.
type Channel interface {
	// Subscribe streams every job document published for ownerID's scope. The
	// returned channel is closed after cleanup runs or ctx is done. Cleanup
	// may be called any number of times.
	Subscribe(ctx context.Context, ownerID string, scope storage.Scope) (<-chan storage.Job, func(), error)
}

// Publisher pushes job documents to subscribers of the job's scope.
type Publisher interface {
	Publish(ctx context.Context, job storage.Job) error
}

// Topic names the stream for a scope. Group streams are shared by every
// member; personal streams are keyed by owner.
func Topic(ownerID string, scope storage.Scope) string {
	if scope.IsPersonal() {
		return "jobs:owner:" + ownerID
	}
	return "jobs:group:" + scope.GroupID
}

// TopicFor returns the topic a job document is published on.
func TopicFor(job storage.Job) string {
	return Topic(job.OwnerID, job.Scope())
}
