package generation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipforge/clipforge/internal/catalog"
	"github.com/clipforge/clipforge/internal/db"
	"github.com/clipforge/clipforge/internal/provider"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupRepo(t *testing.T) catalog.Repository {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return catalog.NewRepository(database.Conn())
}

// scriptedSource answers FetchStatus from a per-id function.
type scriptedSource struct {
	mu      sync.Mutex
	fetches map[string]int
	answer  func(ctx context.Context, id string) (*provider.Status, error)
}

func newScriptedSource(answer func(ctx context.Context, id string) (*provider.Status, error)) *scriptedSource {
	return &scriptedSource{fetches: make(map[string]int), answer: answer}
}

func (s *scriptedSource) Submit(ctx context.Context, spec provider.JobSpec) (string, error) {
	return "prov_" + catalog.NewID(), nil
}

func (s *scriptedSource) FetchStatus(ctx context.Context, id string) (*provider.Status, error) {
	s.mu.Lock()
	s.fetches[id]++
	s.mu.Unlock()
	return s.answer(ctx, id)
}

func (s *scriptedSource) count(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches[id]
}

func completed(url string) func(context.Context, string) (*provider.Status, error) {
	return func(context.Context, string) (*provider.Status, error) {
		return &provider.Status{Status: catalog.JobStatusCompleted, ResultURL: url}, nil
	}
}

// gatedAssets blocks CreateAsset until released.
type gatedAssets struct {
	inner   AssetCreator
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedAssets) CreateAsset(ctx context.Context, a *catalog.MediaAsset) error {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return g.inner.CreateAsset(ctx, a)
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) on(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) of(typ EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func submittedJob(t *testing.T, repo catalog.Repository, projectID string, params map[string]any) *catalog.GenerationJob {
	t.Helper()
	j := &catalog.GenerationJob{
		ID:            catalog.NewID(),
		UserID:        "u1",
		ProjectID:     projectID,
		Provider:      catalog.ProviderKling,
		JobType:       catalog.JobTypeTextToVideo,
		Prompt:        "waves on a rocky shore",
		Parameters:    params,
		Status:        catalog.JobStatusPending,
		ProviderJobID: "prov_" + catalog.NewID(),
		CreatedAt:     time.Now(),
	}
	require.NoError(t, repo.CreateJob(context.Background(), j))
	require.NoError(t, repo.SetProviderJobID(context.Background(), j.ID, j.ProviderJobID))
	return j
}

func assetsFor(t *testing.T, repo catalog.Repository) []*catalog.MediaAsset {
	t.Helper()
	assets, err := repo.ListAssets(context.Background(), "u1")
	require.NoError(t, err)
	return assets
}

func TestReconcileOnce_CompletedJobYieldsOneAsset(t *testing.T) {
	repo := setupRepo(t)
	src := newScriptedSource(completed("https://cdn/out.mp4"))
	r := NewReconciler(repo, catalog.NewService(repo, nil), src, testLogger())
	rec := &recorder{}
	r.OnEvent(rec.on)

	job := submittedJob(t, repo, "", map[string]any{"duration": 8.0})
	require.True(t, r.Track(job))

	for i := 0; i < 3; i++ {
		r.ReconcileOnce(context.Background())
	}

	assets := assetsFor(t, repo)
	require.Len(t, assets, 1)
	a := assets[0]
	assert.Equal(t, job.ID, a.AIJobID)
	assert.Equal(t, catalog.SourceAIGenerated, a.Source)
	assert.Equal(t, catalog.KindVideo, a.Kind)
	assert.Equal(t, "AI Generated - kling", a.Filename)
	assert.Equal(t, "https://cdn/out.mp4", a.URL)
	require.NotNil(t, a.Duration)
	assert.Equal(t, int64(8000), *a.Duration)
	assert.Equal(t, "waves on a rocky shore", a.Metadata["prompt"])

	stored, err := repo.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.JobStatusCompleted, stored.Status)
	assert.Equal(t, "https://cdn/out.mp4", stored.ResultURL)
	assert.NotNil(t, stored.CompletedAt)

	assert.Empty(t, r.Pending())
	assert.Len(t, rec.of(EventCompleted), 1)
	assert.Equal(t, 1, src.count(job.ProviderJobID))
}

func TestReconcile_ClaimReleasedOnceTerminal(t *testing.T) {
	repo := setupRepo(t)
	svc := catalog.NewService(repo, nil)
	p, err := svc.CreateProject(context.Background(), "u1", catalog.CreateProjectRequest{Name: "demo"})
	require.NoError(t, err)

	src := newScriptedSource(completed("https://cdn/out.mp4"))
	r := NewReconciler(repo, svc, src, testLogger())
	rec := &recorder{}
	r.OnEvent(rec.on)
	sink := &sinkRecorder{}
	r.SetSink(sink)

	job := submittedJob(t, repo, p.ID, nil)
	require.True(t, r.Track(job))
	r.ReconcileOnce(context.Background())

	r.mu.Lock()
	claims := len(r.claimed)
	r.mu.Unlock()
	assert.Zero(t, claims)

	// The caller's copy still says pending.
	require.True(t, r.Track(job))
	r.ReconcileOnce(context.Background())

	assert.Len(t, assetsFor(t, repo), 1)
	assert.Len(t, rec.of(EventCompleted), 1)
	assert.Len(t, sink.calls, 1)
	assert.Empty(t, r.Pending())

	r.mu.Lock()
	claims = len(r.claimed)
	r.mu.Unlock()
	assert.Zero(t, claims)
}

func TestReconcile_FailedClaimReleased(t *testing.T) {
	repo := setupRepo(t)
	src := newScriptedSource(func(context.Context, string) (*provider.Status, error) {
		return &provider.Status{Status: catalog.JobStatusFailed, ErrorMessage: "quota"}, nil
	})
	r := NewReconciler(repo, catalog.NewService(repo, nil), src, testLogger())
	rec := &recorder{}
	r.OnEvent(rec.on)

	job := submittedJob(t, repo, "", nil)
	r.Track(job)
	r.ReconcileOnce(context.Background())
	r.Track(job)
	r.ReconcileOnce(context.Background())

	assert.Len(t, rec.of(EventFailed), 1)
	assert.Empty(t, r.Pending())
	r.mu.Lock()
	assert.Empty(t, r.claimed)
	r.mu.Unlock()
}

func TestReconcile_DefaultDurationWhenProviderOmitsIt(t *testing.T) {
	repo := setupRepo(t)
	r := NewReconciler(repo, catalog.NewService(repo, nil), newScriptedSource(completed("u")), testLogger())
	r.Track(submittedJob(t, repo, "", nil))

	r.ReconcileOnce(context.Background())

	assets := assetsFor(t, repo)
	require.Len(t, assets, 1)
	assert.Equal(t, int64(5000), *assets[0].Duration)
}

func TestReconcile_OverlappingCycleCannotDoubleInsert(t *testing.T) {
	repo := setupRepo(t)
	src := newScriptedSource(completed("https://cdn/out.mp4"))
	gate := &gatedAssets{
		inner:   catalog.NewService(repo, nil),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	r := NewReconciler(repo, gate, src, testLogger())
	job := submittedJob(t, repo, "", nil)
	r.Track(job)

	done := make(chan struct{})
	go func() {
		r.ReconcileOnce(context.Background())
		close(done)
	}()
	<-gate.entered

	// The first cycle is suspended inside asset creation.
	r.ReconcileOnce(context.Background())
	assert.False(t, r.Track(job))
	assert.Equal(t, 1, src.count(job.ProviderJobID))

	close(gate.release)
	<-done

	assert.Len(t, assetsFor(t, repo), 1)
}

func TestReconcile_ExistingAssetCountsAsClaimed(t *testing.T) {
	repo := setupRepo(t)
	svc := catalog.NewService(repo, nil)
	job := submittedJob(t, repo, "", nil)

	dur := int64(5000)
	require.NoError(t, svc.CreateAsset(context.Background(), &catalog.MediaAsset{
		ID: catalog.NewID(), UserID: "u1", Kind: catalog.KindVideo, Source: catalog.SourceAIGenerated,
		URL: "https://cdn/out.mp4", Duration: &dur, AIJobID: job.ID, CreatedAt: time.Now(),
	}))

	// A restart: the job is still active in storage.
	r := NewReconciler(repo, svc, newScriptedSource(completed("https://cdn/out.mp4")), testLogger())
	n, err := r.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	r.ReconcileOnce(context.Background())

	assert.Len(t, assetsFor(t, repo), 1)
	stored, _ := repo.GetJob(context.Background(), job.ID)
	assert.Equal(t, catalog.JobStatusCompleted, stored.Status)
}

func TestReconcile_FailedJob(t *testing.T) {
	repo := setupRepo(t)
	src := newScriptedSource(func(context.Context, string) (*provider.Status, error) {
		return &provider.Status{Status: catalog.JobStatusFailed, ErrorMessage: "content policy"}, nil
	})
	r := NewReconciler(repo, catalog.NewService(repo, nil), src, testLogger())
	rec := &recorder{}
	r.OnEvent(rec.on)

	job := submittedJob(t, repo, "", nil)
	r.Track(job)
	r.ReconcileOnce(context.Background())
	r.ReconcileOnce(context.Background())

	assert.Empty(t, assetsFor(t, repo))
	assert.Empty(t, r.Pending())
	assert.Equal(t, 1, src.count(job.ProviderJobID), "failed jobs are not retried")

	stored, _ := repo.GetJob(context.Background(), job.ID)
	assert.Equal(t, catalog.JobStatusFailed, stored.Status)
	assert.Equal(t, "content policy", stored.ErrorMessage)

	failed := rec.of(EventFailed)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].Error, "content policy")
}

func TestReconcile_ExternalFailureKeepsJob(t *testing.T) {
	repo := setupRepo(t)
	var calls atomic.Int32
	src := newScriptedSource(func(context.Context, string) (*provider.Status, error) {
		if calls.Add(1) == 1 {
			return nil, catalog.External("fetch", errors.New("connection reset"))
		}
		return &provider.Status{Status: catalog.JobStatusCompleted, ResultURL: "u"}, nil
	})
	r := NewReconciler(repo, catalog.NewService(repo, nil), src, testLogger())
	rec := &recorder{}
	r.OnEvent(rec.on)

	job := submittedJob(t, repo, "", nil)
	r.Track(job)

	r.ReconcileOnce(context.Background())
	assert.Len(t, r.Pending(), 1)
	assert.Len(t, rec.of(EventPollError), 1)
	stored, _ := repo.GetJob(context.Background(), job.ID)
	assert.Equal(t, catalog.JobStatusPending, stored.Status)

	r.ReconcileOnce(context.Background())
	assert.Empty(t, r.Pending())
	assert.Len(t, assetsFor(t, repo), 1)
}

func TestReconcile_ProgressIsPersisted(t *testing.T) {
	repo := setupRepo(t)
	src := newScriptedSource(func(context.Context, string) (*provider.Status, error) {
		return &provider.Status{Status: catalog.JobStatusProcessing}, nil
	})
	r := NewReconciler(repo, catalog.NewService(repo, nil), src, testLogger())
	rec := &recorder{}
	r.OnEvent(rec.on)

	job := submittedJob(t, repo, "", nil)
	r.Track(job)
	r.ReconcileOnce(context.Background())
	r.ReconcileOnce(context.Background())

	stored, _ := repo.GetJob(context.Background(), job.ID)
	assert.Equal(t, catalog.JobStatusProcessing, stored.Status)
	assert.Len(t, rec.of(EventStatus), 1, "status event only on change")
	require.Len(t, r.Pending(), 1)
	assert.Equal(t, catalog.JobStatusProcessing, r.Pending()[0].Status)
}

func TestReconcile_ResultAfterCancellationDiscarded(t *testing.T) {
	repo := setupRepo(t)
	proceed := make(chan struct{})
	src := newScriptedSource(func(ctx context.Context, id string) (*provider.Status, error) {
		<-proceed
		return &provider.Status{Status: catalog.JobStatusCompleted, ResultURL: "late"}, nil
	})
	r := NewReconciler(repo, catalog.NewService(repo, nil), src, testLogger())
	job := submittedJob(t, repo, "", nil)
	r.Track(job)

	ctx, cancel := context.WithCancel(context.Background())
	wg := r.cycle(ctx)
	cancel()
	close(proceed)
	wg.Wait()

	assert.Empty(t, assetsFor(t, repo))
	assert.Len(t, r.Pending(), 1)
}

func TestReconcile_HungFetchDoesNotBlockOtherJobs(t *testing.T) {
	repo := setupRepo(t)
	hung := submittedJob(t, repo, "", nil)
	fine := submittedJob(t, repo, "", nil)

	unblock := make(chan struct{})
	t.Cleanup(func() { close(unblock) })
	src := newScriptedSource(func(ctx context.Context, id string) (*provider.Status, error) {
		if id == hung.ProviderJobID {
			<-unblock
			return &provider.Status{Status: catalog.JobStatusProcessing}, nil
		}
		return &provider.Status{Status: catalog.JobStatusCompleted, ResultURL: "ok"}, nil
	})
	r := NewReconciler(repo, catalog.NewService(repo, nil), src, testLogger())
	r.Track(hung)
	r.Track(fine)

	r.cycle(context.Background())
	require.Eventually(t, func() bool { return len(assetsFor(t, repo)) == 1 }, 2*time.Second, 5*time.Millisecond)

	r.cycle(context.Background())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, src.count(hung.ProviderJobID), "in-flight job must not be fetched again")
	assert.Equal(t, 1, src.count(fine.ProviderJobID))
}

type sinkRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (s *sinkRecorder) AssetReady(ctx context.Context, job *catalog.GenerationJob, asset *catalog.MediaAsset) error {
	s.mu.Lock()
	s.calls = append(s.calls, job.ProjectID+":"+asset.AIJobID)
	s.mu.Unlock()
	return nil
}

func TestReconcile_SinkReceivesProjectAssets(t *testing.T) {
	repo := setupRepo(t)
	svc := catalog.NewService(repo, nil)
	p, err := svc.CreateProject(context.Background(), "u1", catalog.CreateProjectRequest{Name: "demo"})
	require.NoError(t, err)

	r := NewReconciler(repo, svc, newScriptedSource(completed("u")), testLogger())
	sink := &sinkRecorder{}
	r.SetSink(sink)

	withProject := submittedJob(t, repo, p.ID, nil)
	library := submittedJob(t, repo, "", nil)
	r.Track(withProject)
	r.Track(library)
	r.ReconcileOnce(context.Background())

	assert.Equal(t, []string{p.ID + ":" + withProject.ID}, sink.calls)
}

func TestTrack_RefusesUnsubmittedAndTerminal(t *testing.T) {
	r := NewReconciler(setupRepo(t), nil, newScriptedSource(completed("u")), testLogger())

	assert.False(t, r.Track(&catalog.GenerationJob{ID: "a", Status: catalog.JobStatusPending}))
	assert.False(t, r.Track(&catalog.GenerationJob{ID: "b", Status: catalog.JobStatusFailed, ProviderJobID: "x"}))
	assert.True(t, r.Track(&catalog.GenerationJob{ID: "c", Status: catalog.JobStatusProcessing, ProviderJobID: "x"}))
	assert.Equal(t, 1, r.PendingCount())
}

func TestStart_RunsUntilCancelledAndHonoursPause(t *testing.T) {
	repo := setupRepo(t)
	src := newScriptedSource(completed("u"))
	r := NewReconciler(repo, catalog.NewService(repo, nil), src, testLogger())
	r.SetInterval(5 * time.Millisecond)
	r.Pause()

	job := submittedJob(t, repo, "", nil)
	r.Track(job)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(stopped)
	}()

	require.Eventually(t, r.IsRunning, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, src.count(job.ProviderJobID), "paused reconciler must not poll")

	r.Resume()
	require.Eventually(t, func() bool { return len(assetsFor(t, repo)) == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-stopped
	r.Wait()
	assert.False(t, r.IsRunning())
}

func TestOnEvent_Unsubscribe(t *testing.T) {
	r := NewReconciler(setupRepo(t), nil, nil, testLogger())
	var n int
	unsubscribe := r.OnEvent(func(Event) { n++ })
	r.emit(Event{Type: EventStatus})
	unsubscribe()
	r.emit(Event{Type: EventStatus})
	assert.Equal(t, 1, n)
}

func TestAssetFor_ProviderDurationWins(t *testing.T) {
	job := &catalog.GenerationJob{ID: "j", Provider: "veo3", Prompt: strings.Repeat("x", 3), Parameters: map[string]any{"duration": 10.0}}
	a := assetFor(job, &provider.Status{ResultURL: "u", DurationMs: 4200})
	assert.Equal(t, int64(4200), *a.Duration)
	assert.Equal(t, "j", a.AIJobID)
}
