// Package registry tracks the caller's processing jobs across the personal
// list and any number of group lists. All mutations run under one mutex, so
// the maps move along a single timeline; backend calls happen outside it.
package registry

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"go-idea-jobs/internal/backend"
	"go-idea-jobs/internal/logger"
	"go-idea-jobs/internal/metrics"
	"go-idea-jobs/internal/otelsetup"
	"go-idea-jobs/internal/storage"
	"go-idea-jobs/internal/updates"
)

// PendingPrefix marks ids minted locally for descriptors the backend returned
// without one.
const PendingPrefix = "pending-"

// DefaultGracePeriod is how long terminal jobs stay listed before the sweep.
const DefaultGracePeriod = 120 * time.Second

var tracer = otel.Tracer("go-idea-jobs/registry")

type pendingEntry struct {
	scope     storage.Scope
	sourceURL string
}

// Registry is the authoritative in-memory set of jobs for one owner.
type Registry struct {
	ownerID  string
	backend  backend.ProcessingBackend
	channel  updates.Channel
	logger   logger.Logger
	metrics  *metrics.Metrics
	otel     *otelsetup.Instruments
	validate *validator.Validate
	clock    func() time.Time
	grace    time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	personal   map[string]storage.Job
	groups     map[string]map[string]storage.Job
	pending    map[string]pendingEntry
	tombstones map[string]time.Time
	watches    map[storage.Scope]*watch
	observers  map[*observer]struct{}
	sweeper    *cron.Cron
	closed     bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l logger.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithInstruments sets the OpenTelemetry instruments. The default records
// against the global meter provider.
func WithInstruments(in *otelsetup.Instruments) Option {
	return func(r *Registry) { r.otel = in }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.clock = now }
}

// WithGracePeriod sets how long terminal jobs survive the sweep.
func WithGracePeriod(d time.Duration) Option {
	return func(r *Registry) { r.grace = d }
}

// New builds a registry for ownerID.
func New(ownerID string, be backend.ProcessingBackend, ch updates.Channel, opts ...Option) (*Registry, error) {
	if ownerID == "" {
		return nil, errors.New("registry: owner id is required")
	}
	if be == nil || ch == nil {
		return nil, errors.New("registry: backend and update channel are required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		ownerID:    ownerID,
		backend:    be,
		channel:    ch,
		logger:     logger.NewNop(),
		validate:   validator.New(),
		clock:      time.Now,
		grace:      DefaultGracePeriod,
		ctx:        ctx,
		cancel:     cancel,
		personal:   make(map[string]storage.Job),
		groups:     make(map[string]map[string]storage.Job),
		pending:    make(map[string]pendingEntry),
		tombstones: make(map[string]time.Time),
		watches:    make(map[storage.Scope]*watch),
		observers:  make(map[*observer]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.otel == nil {
		in, err := otelsetup.NewInstruments(otel.GetMeterProvider())
		if err != nil {
			cancel()
			return nil, err
		}
		r.otel = in
	}
	r.logger = r.logger.With(logger.Component("registry"), logger.String("owner_id", ownerID))
	return r, nil
}

// OwnerID returns the owner this registry tracks.
func (r *Registry) OwnerID() string {
	return r.ownerID
}

// Submit validates and normalizes rawURL, starts a backend job and records
// the returned descriptor. groupID == "" submits to the personal list.
func (r *Registry) Submit(ctx context.Context, rawURL, groupID string) (storage.Job, error) {
	ctx, span := tracer.Start(ctx, "registry.Submit", trace.WithAttributes(attribute.String("group_id", groupID)))
	defer span.End()

	sourceURL, err := NormalizeURL(r.validate, rawURL)
	if err != nil {
		return storage.Job{}, fail(span, opError(OpSubmit, "", ErrInvalidInput, err))
	}
	if r.isClosed() {
		return storage.Job{}, fail(span, opError(OpSubmit, "", ErrClosed, nil))
	}

	start := time.Now()
	job, err := r.backend.StartJob(ctx, sourceURL, r.ownerID, groupID)
	r.metrics.ObserveOp(string(OpSubmit), err)
	r.otel.BackendCall(ctx, string(OpSubmit), start, err)
	if err != nil {
		r.logger.Warn("submit failed", logger.String("source_url", sourceURL), logger.Error(err))
		return storage.Job{}, fail(span, opError(OpSubmit, "", ErrSubmissionFailed, err))
	}

	now := r.clock()
	if job.Status == "" {
		job.Status = storage.StatusQueued
	}
	if job.OwnerID == "" {
		job.OwnerID = r.ownerID
	}
	if job.GroupID == "" {
		job.GroupID = groupID
	}
	if job.SourceURL == "" {
		job.SourceURL = sourceURL
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	pending := job.ID == ""
	if pending {
		job.ID = PendingPrefix + uuid.NewString()
	}
	job.Normalize()
	if err := job.ValidateBasic(); err != nil {
		return storage.Job{}, fail(span, opError(OpSubmit, job.ID, ErrSubmissionFailed, errors.Join(ErrMalformedUpdate, err)))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return job, fail(span, opError(OpSubmit, job.ID, ErrClosed, nil))
	}
	if cur, ok := r.getLocked(job.ID); ok {
		// the update channel delivered the job before StartJob returned
		return cur, nil
	}
	if pending {
		r.pending[job.ID] = pendingEntry{scope: job.Scope(), sourceURL: job.SourceURL}
	}
	r.upsertLocked(job)
	r.otel.Submitted(ctx, scopeKind(job.Scope()))

	span.SetAttributes(attribute.String("job_id", job.ID))
	r.logger.Info("job submitted",
		logger.String("job_id", job.ID),
		logger.String("scope", job.Scope().String()),
		logger.Bool("pending", pending),
	)
	return job, nil
}

func scopeKind(s storage.Scope) string {
	if s.IsPersonal() {
		return "personal"
	}
	return "group"
}

// Reconcile applies one pushed job document. It is the only path by which
// external state enters the registry: the document replaces any previous
// entry for its id wholesale. Malformed documents are dropped and reported as
// ErrMalformedUpdate with the prior state left untouched.
func (r *Registry) Reconcile(job storage.Job) error {
	if err := job.ValidateBasic(); err != nil {
		r.metrics.Malformed()
		r.logger.Warn("dropping malformed job update",
			logger.String("job_id", job.ID),
			logger.String("status", string(job.Status)),
			logger.Error(err),
		)
		return errors.Join(ErrMalformedUpdate, err)
	}
	job.Normalize()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.reconcileLocked(job)
	return nil
}

func (r *Registry) reconcileLocked(job storage.Job) {
	if _, gone := r.tombstones[job.ID]; gone {
		r.logger.Debug("ignoring update for removed job", logger.String("job_id", job.ID))
		return
	}
	if prev, ok := r.getLocked(job.ID); ok && !storage.CanTransition(prev.Status, job.Status) && !isRetryPush(prev, job) {
		// stored as received; delivery order is the channel's contract
		r.logger.Warn("out-of-order status",
			logger.String("job_id", job.ID),
			logger.String("from", string(prev.Status)),
			logger.String("to", string(job.Status)),
		)
	}
	for id, p := range r.pending {
		if id != job.ID && p.scope == job.Scope() && p.sourceURL == job.SourceURL {
			r.removeLocked(id, false)
		}
	}
	r.upsertLocked(job)
}

// isRetryPush reports the backend's failed -> queued push after a retry.
func isRetryPush(prev, next storage.Job) bool {
	return prev.Status == storage.StatusFailed && next.Status == storage.StatusQueued
}

// Retry resubmits a failed, retryable job under the same id. On success the
// local copy goes back to queued right away.
func (r *Registry) Retry(ctx context.Context, id string) (storage.Job, error) {
	ctx, span := tracer.Start(ctx, "registry.Retry", trace.WithAttributes(attribute.String("job_id", id)))
	defer span.End()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return storage.Job{}, fail(span, opError(OpRetry, id, ErrClosed, nil))
	}
	job, ok := r.getLocked(id)
	r.mu.Unlock()

	if !ok {
		return storage.Job{}, fail(span, opError(OpRetry, id, ErrNotFound, nil))
	}
	if job.Status != storage.StatusFailed || !job.Retryable {
		return job, fail(span, opError(OpRetry, id, ErrNotRetryable, nil))
	}

	start := time.Now()
	_, err := r.backend.RetryJob(ctx, id)
	r.metrics.ObserveOp(string(OpRetry), err)
	r.otel.BackendCall(ctx, string(OpRetry), start, err)
	if err != nil {
		r.logger.Warn("retry failed", logger.String("job_id", id), logger.Error(err))
		return job, fail(span, opError(OpRetry, id, ErrRetryFailed, err))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return job, fail(span, opError(OpRetry, id, ErrClosed, nil))
	}
	cur, ok := r.getLocked(id)
	if !ok {
		return storage.Job{}, fail(span, opError(OpRetry, id, ErrNotFound, nil))
	}
	// a push that landed while the call was in flight is newer than the reset
	if cur.Equal(job) {
		cur.ResetForRetry(r.clock())
		r.upsertLocked(cur)
	}
	r.logger.Info("job retried", logger.String("job_id", id))
	return cur, nil
}

// Remove drops the job locally, then asks the backend to delete it. A backend
// failure is reported but the local entry stays gone.
func (r *Registry) Remove(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "registry.Remove", trace.WithAttributes(attribute.String("job_id", id)))
	defer span.End()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return fail(span, opError(OpRemove, id, ErrClosed, nil))
	}
	_, pending := r.pending[id]
	_, ok := r.removeLocked(id, true)
	r.mu.Unlock()

	if !ok {
		return fail(span, opError(OpRemove, id, ErrNotFound, nil))
	}
	if pending {
		return nil
	}

	start := time.Now()
	err := r.backend.DeleteJob(ctx, id)
	r.metrics.ObserveOp(string(OpRemove), err)
	r.otel.BackendCall(ctx, string(OpRemove), start, err)
	if err != nil {
		r.logger.Warn("remote delete failed", logger.String("job_id", id), logger.Error(err))
		return fail(span, opError(OpRemove, id, ErrRemovalFailed, err))
	}
	return nil
}

// Get returns the job with id from any scope.
func (r *Registry) Get(id string) (storage.Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getLocked(id)
}

// ActiveJobs lists the scope's queued, downloading and processing jobs,
// newest first.
func (r *Registry) ActiveJobs(scope storage.Scope) []storage.Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []storage.Job
	for _, j := range r.bucketLocked(scope) {
		if j.Status.IsActive() {
			out = append(out, j)
		}
	}
	sortJobs(out)
	return out
}

// AllJobs lists every job in the scope: active jobs first by creation time,
// then terminal jobs by last update, newest first in both groups.
func (r *Registry) AllJobs(scope storage.Scope) []storage.Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	bucket := r.bucketLocked(scope)
	out := make([]storage.Job, 0, len(bucket))
	for _, j := range bucket {
		out = append(out, j)
	}
	sortJobs(out)
	return out
}

func sortJobs(jobs []storage.Job) {
	slices.SortFunc(jobs, func(a, b storage.Job) int {
		aActive, bActive := a.Status.IsActive(), b.Status.IsActive()
		if aActive != bActive {
			if aActive {
				return -1
			}
			return 1
		}
		var c int
		if aActive {
			c = b.CreatedAt.Compare(a.CreatedAt)
		} else {
			c = b.UpdatedAt.Compare(a.UpdatedAt)
		}
		if c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// Close stops the sweeper and every subscription. Calls in flight complete
// but their results are not applied.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	sweeper := r.sweeper
	r.sweeper = nil
	watches := r.watches
	r.watches = make(map[storage.Scope]*watch)
	for obs := range r.observers {
		r.dropObserverLocked(obs)
	}
	r.metrics.SetWatches(0)
	r.mu.Unlock()

	if sweeper != nil {
		<-sweeper.Stop().Done()
	}
	for _, w := range watches {
		w.stop()
	}
	r.cancel()
	r.logger.Info("registry closed")
}

func (r *Registry) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Registry) bucketLocked(scope storage.Scope) map[string]storage.Job {
	if scope.IsPersonal() {
		return r.personal
	}
	return r.groups[scope.GroupID]
}

func (r *Registry) getLocked(id string) (storage.Job, bool) {
	if j, ok := r.personal[id]; ok {
		return j, true
	}
	for _, g := range r.groups {
		if j, ok := g[id]; ok {
			return j, true
		}
	}
	return storage.Job{}, false
}

// upsertLocked stores job, moving it out of any other scope. Identical
// documents are not re-emitted.
func (r *Registry) upsertLocked(job storage.Job) {
	scope := job.Scope()
	if prev, ok := r.getLocked(job.ID); ok {
		if prev.Scope() == scope && prev.Equal(job) {
			return
		}
		if prev.Scope() != scope {
			r.deleteFromBucketLocked(prev.Scope(), job.ID)
		}
	}

	if scope.IsPersonal() {
		r.personal[job.ID] = job
	} else {
		g := r.groups[scope.GroupID]
		if g == nil {
			g = make(map[string]storage.Job)
			r.groups[scope.GroupID] = g
		}
		g[job.ID] = job
	}
	r.emitLocked(EventUpserted, job)
	r.recordCountsLocked()
}

// removeLocked deletes id from every map. tombstone suppresses later pushes
// for the id until the sweep prunes it.
func (r *Registry) removeLocked(id string, tombstone bool) (storage.Job, bool) {
	job, ok := r.getLocked(id)
	delete(r.pending, id)
	if !ok {
		return storage.Job{}, false
	}
	r.deleteFromBucketLocked(job.Scope(), id)
	if tombstone && !isPending(id) {
		r.tombstones[id] = r.clock()
	}
	r.emitLocked(EventRemoved, job)
	r.recordCountsLocked()
	return job, true
}

func (r *Registry) deleteFromBucketLocked(scope storage.Scope, id string) {
	if scope.IsPersonal() {
		delete(r.personal, id)
		return
	}
	if g := r.groups[scope.GroupID]; g != nil {
		delete(g, id)
		if len(g) == 0 {
			delete(r.groups, scope.GroupID)
		}
	}
}

func (r *Registry) recordCountsLocked() {
	if r.metrics == nil {
		return
	}
	counts := make(map[string]int)
	for _, j := range r.personal {
		counts[string(j.Status)]++
	}
	for _, g := range r.groups {
		for _, j := range g {
			counts[string(j.Status)]++
		}
	}
	r.metrics.SetJobCounts(counts)
}

func isPending(id string) bool {
	return strings.HasPrefix(id, PendingPrefix)
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
