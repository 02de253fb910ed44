package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err, "store init")
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_InsertGet(t *testing.T) {
	s := newTestStore(t)

	j := &Job{ID: "job-1", OwnerID: "u1", GroupID: "G1", SourceURL: "https://tiktok.com/@a/video/1"}
	require.NoError(t, s.Insert(j))
	assert.Equal(t, StatusQueued, j.Status)
	assert.False(t, j.CreatedAt.IsZero())

	got, err := s.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, j.SourceURL, got.SourceURL)
	assert.Equal(t, "G1", got.GroupID)
	assert.Equal(t, StatusQueued, got.Status)
}

func TestStore_GetMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get("nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_NextQueuedClaimsOldest(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Insert(&Job{ID: "first", OwnerID: "u1", SourceURL: "https://a.example/1"}))
	require.NoError(t, s.Insert(&Job{ID: "second", OwnerID: "u1", SourceURL: "https://a.example/2"}))

	j, err := s.NextQueued()
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, "first", j.ID)
	assert.Equal(t, StatusDownloading, j.Status)

	j2, err := s.NextQueued()
	require.NoError(t, err)
	require.NotNil(t, j2)
	assert.Equal(t, "second", j2.ID)

	none, err := s.NextQueued()
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestStore_RequeueOnlyRetryableFailures(t *testing.T) {
	s := newTestStore(t)

	j := &Job{ID: "job-1", OwnerID: "u1", SourceURL: "https://a.example/1"}
	require.NoError(t, s.Insert(j))

	_, err := s.Requeue("job-1")
	assert.Error(t, err, "queued job must not be requeued")

	require.NoError(t, s.MarkFailed(j, "download timed out", true))
	got, err := s.Requeue("job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, got.Status)
	assert.Empty(t, got.ErrorMessage)

	n, err := s.Attempts("job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.MarkFailed(got, "unsupported", false))
	_, err = s.Requeue("job-1")
	assert.Error(t, err, "non-retryable failure must not be requeued")
}

func TestStore_MarkCompletedAndDelete(t *testing.T) {
	s := newTestStore(t)

	j := &Job{ID: "job-1", OwnerID: "u1", SourceURL: "https://a.example/1"}
	require.NoError(t, s.Insert(j))
	require.NoError(t, s.MarkCompleted(j, "idea_42"))

	got, err := s.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "idea_42", got.ResultID)

	require.NoError(t, s.Delete("job-1"))
	assert.True(t, errors.Is(s.Delete("job-1"), ErrNotFound))
}

func TestStore_RequeueInFlight(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Insert(&Job{ID: "a", OwnerID: "u1", SourceURL: "https://a.example/1"}))
	_, err := s.NextQueued()
	require.NoError(t, err)

	n, err := s.RequeueInFlight()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, got.Status)
}

func TestStore_Ideas(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.InsertIdea(&Idea{ID: "idea_1", JobID: "a", Title: "Sunset picnic", SourceURL: "https://a.example/1"}))

	got, err := s.GetIdea("idea_1")
	require.NoError(t, err)
	assert.Equal(t, "Sunset picnic", got.Title)

	_, err = s.GetIdea("idea_2")
	assert.True(t, errors.Is(err, ErrNotFound))
}
