// Package generation submits AI generation jobs and reconciles their
// results into the media library.
package generation

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clipforge/clipforge/internal/catalog"
	"github.com/clipforge/clipforge/internal/provider"
	"github.com/clipforge/clipforge/internal/schedule"
)

const DefaultInterval = 5 * time.Second

type EventType string

const (
	EventStatus    EventType = "job.status"
	EventCompleted EventType = "job.completed"
	EventFailed    EventType = "job.failed"
	EventPollError EventType = "job.poll_error"
)

type Event struct {
	Type      EventType           `json:"type"`
	JobID     string              `json:"job_id"`
	ProjectID string              `json:"project_id,omitempty"`
	Status    catalog.JobStatus   `json:"status,omitempty"`
	Asset     *catalog.MediaAsset `json:"asset,omitempty"`
	Error     string              `json:"error,omitempty"`
	At        time.Time           `json:"at"`
}

// AssetCreator stores a new media asset. catalog.Service satisfies it.
type AssetCreator interface {
	CreateAsset(ctx context.Context, asset *catalog.MediaAsset) error
}

// AssetSink receives the asset of a completed job that belongs to a project.
type AssetSink interface {
	AssetReady(ctx context.Context, job *catalog.GenerationJob, asset *catalog.MediaAsset) error
}

// Reconciler polls outstanding jobs and turns each completed job into
// exactly one media asset.
//
// A job moves out of the tracked set and into the claimed set under one lock
// before its asset is created, so no later cycle can observe it as
// outstanding. The claim is released once storage holds the terminal status;
// from then on the stored status refuses the job. Each tracked job is fetched in its own goroutine and a job
// still being fetched is skipped by later cycles, so a hung fetch delays only
// its own job.
type Reconciler struct {
	repo     catalog.Repository
	assets   AssetCreator
	source   provider.JobSource
	logger   *slog.Logger
	interval time.Duration

	running atomic.Bool
	paused  atomic.Bool

	mu       sync.Mutex
	tracked  map[string]*catalog.GenerationJob
	inflight map[string]struct{}
	claimed  map[string]struct{}
	sink     AssetSink

	listenersMu sync.RWMutex
	listeners   map[int]func(Event)
	nextID      int

	fetches sync.WaitGroup
}

func NewReconciler(repo catalog.Repository, assets AssetCreator, source provider.JobSource, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		repo:      repo,
		assets:    assets,
		source:    source,
		logger:    logger,
		interval:  DefaultInterval,
		tracked:   make(map[string]*catalog.GenerationJob),
		inflight:  make(map[string]struct{}),
		claimed:   make(map[string]struct{}),
		listeners: make(map[int]func(Event)),
	}
}

func (r *Reconciler) SetInterval(d time.Duration) {
	if d > 0 {
		r.interval = d
	}
}

func (r *Reconciler) SetSink(sink AssetSink) {
	r.mu.Lock()
	r.sink = sink
	r.mu.Unlock()
}

// OnEvent registers fn for every job event and returns its unsubscribe func.
// fn runs on the reconciling goroutine and must not block.
func (r *Reconciler) OnEvent(fn func(Event)) func() {
	r.listenersMu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	r.listenersMu.Unlock()

	return func() {
		r.listenersMu.Lock()
		delete(r.listeners, id)
		r.listenersMu.Unlock()
	}
}

func (r *Reconciler) emit(e Event) {
	e.At = time.Now()
	r.listenersMu.RLock()
	defer r.listenersMu.RUnlock()
	for _, fn := range r.listeners {
		fn(e)
	}
}

// Load tracks every submitted job storage still lists as active.
func (r *Reconciler) Load(ctx context.Context) (int, error) {
	jobs, err := r.repo.ListActiveJobs(ctx)
	if err != nil {
		return 0, catalog.External("list active jobs", err)
	}
	n := 0
	for _, j := range jobs {
		if j.ProviderJobID == "" {
			continue
		}
		if r.Track(j) {
			n++
		}
	}
	r.logger.Info("generation jobs loaded", "count", n)
	return n, nil
}

// Track adds a submitted, active job to the outstanding set. Claimed jobs
// and terminal jobs are refused. A stale active copy of a finalized job is
// accepted here and dropped by the next cycle.
func (r *Reconciler) Track(job *catalog.GenerationJob) bool {
	if job == nil || !job.Status.Active() || job.ProviderJobID == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.claimed[job.ID]; ok {
		return false
	}
	r.tracked[job.ID] = job.Clone()
	return true
}

// Pending returns the outstanding jobs, oldest first.
func (r *Reconciler) Pending() []*catalog.GenerationJob {
	r.mu.Lock()
	out := make([]*catalog.GenerationJob, 0, len(r.tracked))
	for _, j := range r.tracked {
		out = append(out, j.Clone())
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, k int) bool {
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})
	return out
}

func (r *Reconciler) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tracked)
}

// Start runs a cycle every interval until ctx is cancelled. It blocks.
func (r *Reconciler) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}
	defer r.running.Store(false)

	r.logger.Info("generation reconciler started", "interval", r.interval.String())

	h := schedule.Start(ctx, "reconciler", r.interval, func(tctx context.Context) {
		if r.paused.Load() {
			return
		}
		r.cycle(tctx)
	}, r.logger)
	<-h.Done()

	r.logger.Info("generation reconciler stopping")
}

func (r *Reconciler) Pause() {
	r.paused.Store(true)
	r.logger.Info("generation reconciler paused")
}

func (r *Reconciler) Resume() {
	r.paused.Store(false)
	r.logger.Info("generation reconciler resumed")
}

func (r *Reconciler) IsPaused() bool {
	return r.paused.Load()
}

func (r *Reconciler) IsRunning() bool {
	return r.running.Load()
}

// ReconcileOnce runs one cycle and waits for the fetches it started.
func (r *Reconciler) ReconcileOnce(ctx context.Context) {
	r.cycle(ctx).Wait()
}

// Wait blocks until every fetch started by any cycle has returned.
func (r *Reconciler) Wait() {
	r.fetches.Wait()
}

func (r *Reconciler) cycle(ctx context.Context) *sync.WaitGroup {
	r.mu.Lock()
	batch := make([]*catalog.GenerationJob, 0, len(r.tracked))
	for id, j := range r.tracked {
		if _, busy := r.inflight[id]; busy {
			continue
		}
		r.inflight[id] = struct{}{}
		batch = append(batch, j.Clone())
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, job := range batch {
		wg.Add(1)
		r.fetches.Add(1)
		go func(job *catalog.GenerationJob) {
			defer r.fetches.Done()
			defer wg.Done()
			defer r.release(job.ID)
			r.observe(ctx, job)
		}(job)
	}
	return &wg
}

func (r *Reconciler) release(id string) {
	r.mu.Lock()
	delete(r.inflight, id)
	r.mu.Unlock()
}

func (r *Reconciler) stillTracked(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tracked[id]
	return ok
}

func (r *Reconciler) observe(ctx context.Context, job *catalog.GenerationJob) {
	logger := r.logger.With("job_id", job.ID, "provider_job_id", job.ProviderJobID)

	st, err := r.source.FetchStatus(ctx, job.ProviderJobID)
	if ctx.Err() != nil {
		logger.Debug("discarding status fetched after cancellation")
		return
	}
	if err != nil {
		logger.Warn("generation status fetch failed", "error", err)
		r.emit(Event{Type: EventPollError, JobID: job.ID, ProjectID: job.ProjectID, Status: job.Status, Error: err.Error()})
		return
	}
	if !r.stillTracked(job.ID) {
		return
	}

	switch st.Status {
	case catalog.JobStatusCompleted:
		if st.ResultURL == "" {
			logger.Warn("job completed without a result url; polling again")
			r.emit(Event{Type: EventPollError, JobID: job.ID, ProjectID: job.ProjectID, Status: job.Status, Error: "completed without result url"})
			return
		}
		r.complete(ctx, logger, job, st)
	case catalog.JobStatusFailed:
		r.fail(ctx, logger, job, st.ErrorMessage)
	case catalog.JobStatusPending, catalog.JobStatusProcessing:
		r.progress(ctx, logger, job, st.Status)
	default:
		logger.Warn("ignoring unknown job status", "status", st.Status)
	}
}

func (r *Reconciler) progress(ctx context.Context, logger *slog.Logger, job *catalog.GenerationJob, status catalog.JobStatus) {
	if status == job.Status {
		return
	}
	if err := r.repo.UpdateJobStatus(ctx, job.ID, status, "", ""); err != nil {
		logger.Warn("failed to persist job status", "status", status, "error", err)
		return
	}

	r.mu.Lock()
	if j, ok := r.tracked[job.ID]; ok {
		j.Status = status
	}
	r.mu.Unlock()

	r.emit(Event{Type: EventStatus, JobID: job.ID, ProjectID: job.ProjectID, Status: status})
}

// claim moves a job from tracked to claimed. It reports false when another
// path already did.
func (r *Reconciler) claim(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, done := r.claimed[id]; done {
		return false
	}
	if _, ok := r.tracked[id]; !ok {
		return false
	}
	r.claimed[id] = struct{}{}
	delete(r.tracked, id)
	return true
}

// forget releases a claim whose terminal status is already stored.
func (r *Reconciler) forget(id string) {
	r.mu.Lock()
	delete(r.claimed, id)
	r.mu.Unlock()
}

// finalized reports whether storage already holds a terminal status for the
// job, which happens when a stale copy was tracked again.
func (r *Reconciler) finalized(ctx context.Context, logger *slog.Logger, job *catalog.GenerationJob) (bool, error) {
	stored, err := r.repo.GetJob(ctx, job.ID)
	if err != nil {
		return false, err
	}
	if stored == nil || !stored.Status.Active() {
		logger.Debug("dropping job already finalized in storage")
		return true, nil
	}
	return false, nil
}

func (r *Reconciler) unclaim(job *catalog.GenerationJob) {
	r.mu.Lock()
	delete(r.claimed, job.ID)
	r.tracked[job.ID] = job
	r.mu.Unlock()
}

func (r *Reconciler) complete(ctx context.Context, logger *slog.Logger, job *catalog.GenerationJob, st *provider.Status) {
	if !r.claim(job.ID) {
		return
	}
	if done, err := r.finalized(ctx, logger, job); err != nil {
		r.unclaim(job)
		logger.Warn("failed to read stored job status", "error", err)
		r.emit(Event{Type: EventPollError, JobID: job.ID, ProjectID: job.ProjectID, Status: job.Status, Error: err.Error()})
		return
	} else if done {
		r.forget(job.ID)
		return
	}

	asset, err := r.repo.GetAssetByJobID(ctx, job.ID)
	if err != nil {
		r.unclaim(job)
		logger.Warn("failed to check for existing asset", "error", err)
		r.emit(Event{Type: EventPollError, JobID: job.ID, ProjectID: job.ProjectID, Status: job.Status, Error: err.Error()})
		return
	}

	if asset == nil {
		asset = assetFor(job, st)
		if err := r.assets.CreateAsset(ctx, asset); err != nil {
			r.unclaim(job)
			logger.Warn("failed to create generated asset", "error", err)
			r.emit(Event{Type: EventPollError, JobID: job.ID, ProjectID: job.ProjectID, Status: job.Status, Error: err.Error()})
			return
		}
	} else {
		logger.Info("asset already exists for job", "asset_id", asset.ID)
	}

	if err := r.repo.UpdateJobStatus(ctx, job.ID, catalog.JobStatusCompleted, st.ResultURL, ""); err != nil {
		logger.Warn("failed to persist job completion", "error", err)
	} else {
		r.forget(job.ID)
	}

	logger.Info("generation job completed", "asset_id", asset.ID, "result_url", st.ResultURL)

	done := job.Clone()
	done.Status = catalog.JobStatusCompleted
	done.ResultURL = st.ResultURL
	r.emit(Event{Type: EventCompleted, JobID: job.ID, ProjectID: job.ProjectID, Status: catalog.JobStatusCompleted, Asset: asset})

	r.mu.Lock()
	sink := r.sink
	r.mu.Unlock()
	if sink != nil && job.ProjectID != "" {
		if err := sink.AssetReady(ctx, done, asset); err != nil {
			logger.Warn("failed to hand generated asset to project", "project_id", job.ProjectID, "error", err)
		}
	}
}

func (r *Reconciler) fail(ctx context.Context, logger *slog.Logger, job *catalog.GenerationJob, message string) {
	if !r.claim(job.ID) {
		return
	}
	if done, err := r.finalized(ctx, logger, job); err != nil {
		r.unclaim(job)
		logger.Warn("failed to read stored job status", "error", err)
		return
	} else if done {
		r.forget(job.ID)
		return
	}
	if message == "" {
		message = "generation failed"
	}

	if err := r.repo.UpdateJobStatus(ctx, job.ID, catalog.JobStatusFailed, "", message); err != nil {
		r.unclaim(job)
		logger.Warn("failed to persist job failure", "error", err)
		return
	}
	r.forget(job.ID)

	ferr := catalog.ProviderFailure(job.ID, message)
	logger.Warn("generation job failed", "error", ferr)
	r.emit(Event{Type: EventFailed, JobID: job.ID, ProjectID: job.ProjectID, Status: catalog.JobStatusFailed, Error: ferr.Error()})
}

func assetFor(job *catalog.GenerationJob, st *provider.Status) *catalog.MediaAsset {
	duration := st.DurationMs
	if duration <= 0 {
		duration = job.DurationMs()
	}
	return &catalog.MediaAsset{
		ID:       catalog.NewID(),
		UserID:   job.UserID,
		Kind:     catalog.KindVideo,
		Source:   catalog.SourceAIGenerated,
		URL:      st.ResultURL,
		Filename: "AI Generated - " + job.Provider,
		Duration: &duration,
		Metadata: map[string]any{
			"provider": job.Provider,
			"prompt":   job.Prompt,
			"job_type": job.JobType,
		},
		AIJobID:   job.ID,
		CreatedAt: time.Now(),
	}
}
