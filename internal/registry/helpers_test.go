package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go-idea-jobs/internal/backend"
	"go-idea-jobs/internal/logger"
	"go-idea-jobs/internal/storage"
	"go-idea-jobs/internal/updates"
)

const testOwner = "u1"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeBackend struct {
	clock *fakeClock

	mu        sync.Mutex
	nextID    int
	omitID    bool
	startErr  error
	retryErr  error
	deleteErr error
	gate      chan struct{}
	waiting   int
	started   []string
	retried   []string
	deleted   []string
	// onRetry runs inside RetryJob before it returns, outside b.mu.
	onRetry func(jobID string)
}

func (b *fakeBackend) StartJob(ctx context.Context, sourceURL, ownerID, groupID string) (storage.Job, error) {
	b.mu.Lock()
	gate := b.gate
	if gate != nil {
		b.waiting++
	}
	b.mu.Unlock()
	if gate != nil {
		<-gate
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.started = append(b.started, sourceURL)
	if b.startErr != nil {
		return storage.Job{}, b.startErr
	}
	b.nextID++
	job := storage.Job{
		OwnerID:   ownerID,
		GroupID:   groupID,
		SourceURL: sourceURL,
		CreatedAt: b.clock.Now(),
		UpdatedAt: b.clock.Now(),
	}
	if !b.omitID {
		job.ID = fmt.Sprintf("job-%d", b.nextID)
		job.Status = storage.StatusQueued
	}
	return job, nil
}

func (b *fakeBackend) RetryJob(ctx context.Context, jobID string) (storage.Job, error) {
	b.mu.Lock()
	hook := b.onRetry
	b.mu.Unlock()
	if hook != nil {
		hook(jobID)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.retried = append(b.retried, jobID)
	if b.retryErr != nil {
		return storage.Job{}, b.retryErr
	}
	return storage.Job{ID: jobID, Status: storage.StatusQueued}, nil
}

func (b *fakeBackend) DeleteJob(ctx context.Context, jobID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, jobID)
	return b.deleteErr
}

func (b *fakeBackend) calls() (started, retried, deleted int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.started), len(b.retried), len(b.deleted)
}

var _ backend.ProcessingBackend = (*fakeBackend)(nil)

type fixture struct {
	registry *Registry
	backend  *fakeBackend
	channel  *updates.MemoryChannel
	clock    *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := newFakeClock()
	be := &fakeBackend{clock: clock}
	ch := updates.NewMemoryChannel(logger.NewNop())
	r, err := New(testOwner, be, ch, WithClock(clock.Now), WithGracePeriod(120*time.Second))
	require.NoError(t, err)
	t.Cleanup(func() {
		r.Close()
		ch.Close()
	})
	return &fixture{registry: r, backend: be, channel: ch, clock: clock}
}

// doc builds a valid pushed document.
func (f *fixture) doc(id, groupID string, status storage.JobStatus) storage.Job {
	j := storage.Job{
		ID:        id,
		OwnerID:   testOwner,
		GroupID:   groupID,
		SourceURL: "https://tiktok.com/@a/video/" + id,
		Status:    status,
		Retryable: true,
		CreatedAt: f.clock.Now(),
		UpdatedAt: f.clock.Now(),
	}
	switch status {
	case storage.StatusCompleted:
		j.ResultID = "idea_" + id
	case storage.StatusFailed:
		j.ErrorMessage = "download failed"
	}
	return j
}

func ids(jobs []storage.Job) []string {
	out := make([]string, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.ID)
	}
	return out
}
