package registry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-idea-jobs/internal/storage"
	"go-idea-jobs/internal/updates"
)

type failingChannel struct{}

func (failingChannel) Subscribe(context.Context, string, storage.Scope) (<-chan storage.Job, func(), error) {
	return nil, nil, errors.New("listener unavailable")
}

// stallingChannel holds Subscribe until release is closed.
type stallingChannel struct {
	release  chan struct{}
	cleanups atomic.Int32
}

func (c *stallingChannel) Subscribe(ctx context.Context, _ string, _ storage.Scope) (<-chan storage.Job, func(), error) {
	select {
	case <-c.release:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
	return make(chan storage.Job), func() { c.cleanups.Add(1) }, nil
}

func publish(t *testing.T, ch *updates.MemoryChannel, job storage.Job) {
	t.Helper()
	require.NoError(t, ch.Publish(context.Background(), job))
}

func TestWatch_ReferenceCounted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	topic := updates.Topic(testOwner, storage.GroupScope("G1"))

	require.NoError(t, f.registry.StartWatching(ctx, storage.GroupScope("G1")))
	require.NoError(t, f.registry.StartWatching(ctx, storage.GroupScope("G1")))
	assert.Equal(t, 1, f.channel.Subscribers(topic))
	assert.Equal(t, 2, f.registry.Watchers(storage.GroupScope("G1")))

	f.registry.StopWatching(storage.GroupScope("G1"))
	assert.Equal(t, 1, f.channel.Subscribers(topic))

	f.registry.StopWatching(storage.GroupScope("G1"))
	assert.Zero(t, f.channel.Subscribers(topic))

	f.registry.StopWatching(storage.GroupScope("G1"))
	assert.Zero(t, f.registry.Watchers(storage.GroupScope("G1")))
}

func TestWatch_AppliesPushedDocuments(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.registry.StartWatching(context.Background(), storage.Personal))

	publish(t, f.channel, f.doc("a", "", storage.StatusDownloading))

	require.Eventually(t, func() bool {
		_, ok := f.registry.Get("a")
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestWatch_MalformedPushDoesNotStopStream(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.registry.StartWatching(context.Background(), storage.Personal))

	bad := f.doc("a", "", storage.StatusCompleted)
	bad.ResultID = ""
	publish(t, f.channel, bad)
	publish(t, f.channel, f.doc("b", "", storage.StatusQueued))

	require.Eventually(t, func() bool {
		_, ok := f.registry.Get("b")
		return ok
	}, time.Second, 5*time.Millisecond)
	_, ok := f.registry.Get("a")
	assert.False(t, ok)
}

func TestWatchHandle_StopIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h1, err := f.registry.Watch(ctx, storage.Personal)
	require.NoError(t, err)
	h2, err := f.registry.Watch(ctx, storage.Personal)
	require.NoError(t, err)
	assert.Equal(t, storage.Personal, h1.Scope())

	h1.Stop()
	h1.Stop()
	assert.Equal(t, 1, f.registry.Watchers(storage.Personal))

	h2.Stop()
	assert.Zero(t, f.registry.Watchers(storage.Personal))
}

func TestWatch_SubscribeFailure(t *testing.T) {
	r, err := New(testOwner, &fakeBackend{clock: newFakeClock()}, failingChannel{})
	require.NoError(t, err)
	defer r.Close()

	err = r.StartWatching(context.Background(), storage.Personal)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listener unavailable")
	assert.Zero(t, r.Watchers(storage.Personal))
}

func TestWatch_CancelledSetupContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.registry.StartWatching(ctx, storage.Personal)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWatch_SetupBoundedByCallerContext(t *testing.T) {
	ch := &stallingChannel{release: make(chan struct{})}
	r, err := New(testOwner, &fakeBackend{clock: newFakeClock()}, ch)
	require.NoError(t, err)
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = r.StartWatching(ctx, storage.Personal)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, r.Watchers(storage.Personal))

	// the late subscription is released, not leaked
	close(ch.release)
	assert.Eventually(t, func() bool { return ch.cleanups.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, r.Watchers(storage.Personal))
}

// A personal submission followed by the backend's pushes, through to expiry.
func TestEndToEnd_SubmitProgressCompleteExpire(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h, err := f.registry.Watch(ctx, storage.Personal)
	require.NoError(t, err)
	defer h.Stop()

	job, err := f.registry.Submit(ctx, "tiktok.com/@a/video/1", "")
	require.NoError(t, err)
	assert.Equal(t, "https://tiktok.com/@a/video/1", job.SourceURL)

	all := f.registry.AllJobs(storage.Personal)
	require.Len(t, all, 1)
	assert.Equal(t, storage.StatusQueued, all[0].Status)
	assert.True(t, all[0].Scope().IsPersonal())

	f.clock.Advance(5 * time.Second)
	processing := job
	processing.Status = storage.StatusProcessing
	processing.ProgressMessage = "Analyzing"
	processing.UpdatedAt = f.clock.Now()
	publish(t, f.channel, processing)

	require.Eventually(t, func() bool {
		active := f.registry.ActiveJobs(storage.Personal)
		return len(active) == 1 && active[0].ProgressMessage == "Analyzing"
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, job.ID, f.registry.ActiveJobs(storage.Personal)[0].ID)

	f.clock.Advance(5 * time.Second)
	completed := processing
	completed.Status = storage.StatusCompleted
	completed.ResultID = "idea_42"
	completed.ProgressMessage = "Done"
	completed.UpdatedAt = f.clock.Now()
	publish(t, f.channel, completed)

	require.Eventually(t, func() bool {
		return len(f.registry.ActiveJobs(storage.Personal)) == 0
	}, time.Second, 5*time.Millisecond)
	got, ok := f.registry.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, storage.StatusCompleted, got.Status)
	assert.Equal(t, "idea_42", got.ResultID)

	f.clock.Advance(60 * time.Second)
	assert.Zero(t, f.registry.Sweep(f.clock.Now()))

	f.clock.Advance(61 * time.Second)
	assert.Equal(t, 1, f.registry.Sweep(f.clock.Now()))
	assert.Empty(t, f.registry.AllJobs(storage.Personal))
}
