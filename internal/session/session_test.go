package session

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipforge/clipforge/internal/catalog"
	"github.com/clipforge/clipforge/internal/compositor"
	"github.com/clipforge/clipforge/internal/db"
	"github.com/clipforge/clipforge/internal/timeline"
)

func testOptions() Options {
	return Options{TickInterval: 2 * time.Millisecond, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func newSession(t *testing.T, duration int64) *Session {
	t.Helper()
	p := &catalog.Project{ID: "p1", Name: "demo", Duration: duration}
	s := New(p, nil, nil, compositor.New(nil, nil), testOptions())
	t.Cleanup(s.Close)
	return s
}

func spec(track int, start, dur int64) timeline.ClipSpec {
	return timeline.ClipSpec{TrackIndex: track, StartTime: start, Duration: dur, Kind: catalog.KindVideo, SourceURL: "a.mp4"}
}

func TestInsertAsset_AppendsAtProjectDuration(t *testing.T) {
	s := newSession(t, 0)
	_, err := s.AddClip(context.Background(), spec(1, 0, 12000))
	require.NoError(t, err)
	require.Equal(t, int64(12000), s.Project().Duration)

	dur := int64(5000)
	c, err := s.InsertAsset(context.Background(), &catalog.MediaAsset{ID: "a1", Kind: catalog.KindVideo, URL: "gen.mp4", Duration: &dur})
	require.NoError(t, err)

	assert.Equal(t, int64(12000), c.StartTime)
	assert.Equal(t, 0, c.TrackIndex)
	assert.Equal(t, "gen.mp4", c.SourceURL)
	assert.Equal(t, int64(17000), s.Project().Duration)
}

func TestInsertAsset_DefaultDuration(t *testing.T) {
	s := newSession(t, 3000)
	c, err := s.InsertAsset(context.Background(), &catalog.MediaAsset{ID: "img", Kind: catalog.KindImage, URL: "still.png"})
	require.NoError(t, err)
	assert.Equal(t, int64(3000), c.StartTime)
	assert.Equal(t, int64(catalog.DefaultClipDuration), c.Duration)
}

func TestDrag_ClampsAndPersistsEachMove(t *testing.T) {
	s := newSession(t, 0)
	c, _ := s.AddClip(context.Background(), spec(0, 2000, 1000))

	require.NoError(t, s.BeginDrag(c.ID))
	assert.Equal(t, c.ID, s.Selected(), "select-on-press")
	assert.Equal(t, c.ID, s.Dragging())

	moved, err := s.DragTo(context.Background(), 350)
	require.NoError(t, err)
	assert.Equal(t, int64(3500), moved.StartTime)
	assert.Equal(t, int64(1000), moved.Duration, "drag only changes start")

	moved, err = s.DragTo(context.Background(), -120)
	require.NoError(t, err)
	assert.Equal(t, int64(0), moved.StartTime)

	s.EndDrag()
	got, _ := s.Timeline().Clip(c.ID)
	assert.Equal(t, int64(0), got.StartTime, "last drag position stays without a commit")

	_, err = s.DragTo(context.Background(), 100)
	assert.ErrorIs(t, err, catalog.ErrValidation)
}

func TestDrag_RespectsZoom(t *testing.T) {
	s := newSession(t, 0)
	c, _ := s.AddClip(context.Background(), spec(0, 0, 1000))
	s.SetZoom(2)
	require.NoError(t, s.BeginDrag(c.ID))

	moved, err := s.DragTo(context.Background(), 333)
	require.NoError(t, err)
	assert.Equal(t, int64(1665), moved.StartTime)
}

func TestDrag_TargetDeletedMidDrag(t *testing.T) {
	s := newSession(t, 0)
	c, _ := s.AddClip(context.Background(), spec(0, 0, 1000))
	require.NoError(t, s.BeginDrag(c.ID))
	require.NoError(t, s.DeleteClip(context.Background(), c.ID))

	assert.Empty(t, s.Selected())
	assert.Empty(t, s.Dragging())
	_, err := s.DragTo(context.Background(), 10)
	assert.Error(t, err)
}

func TestSelect(t *testing.T) {
	s := newSession(t, 0)
	a, _ := s.AddClip(context.Background(), spec(0, 0, 1000))
	b, _ := s.AddClip(context.Background(), spec(0, 1000, 1000))

	require.NoError(t, s.Select(a.ID))
	require.NoError(t, s.Select(b.ID))
	assert.Equal(t, b.ID, s.Selected(), "only one clip is selected")

	assert.ErrorIs(t, s.Select("missing"), catalog.ErrNotFound)
	assert.Equal(t, b.ID, s.Selected())

	require.NoError(t, s.Select(""))
	assert.Empty(t, s.Selected())
}

func TestZoom(t *testing.T) {
	s := newSession(t, 0)
	assert.Equal(t, 1.0, s.Zoom())

	for i := 0; i < 20; i++ {
		s.ZoomIn()
	}
	assert.Equal(t, MaxZoom, s.Zoom())

	for i := 0; i < 20; i++ {
		s.ZoomOut()
	}
	assert.Equal(t, MinZoom, s.Zoom())

	assert.Equal(t, 1.5, s.SetZoom(1.6))
	assert.Equal(t, 0.25, SnapZoom(0))
}

func TestZoom_NeverAltersClips(t *testing.T) {
	s := newSession(t, 0)
	c, _ := s.AddClip(context.Background(), spec(0, 1500, 1000))
	s.SetZoom(3)
	got, _ := s.Timeline().Clip(c.ID)
	assert.Equal(t, int64(1500), got.StartTime)
	assert.Equal(t, 450.0, s.TimeToPixel(1500))
}

func TestPixelTimeMapping(t *testing.T) {
	assert.Equal(t, 100.0, TimeToPixel(1000, 1))
	assert.Equal(t, int64(1000), PixelToTime(100, 1))
	assert.Equal(t, int64(4000), PixelToTime(100, 0.25))
	assert.Equal(t, int64(3), PixelToTime(0.3, 1))
}

func TestSeekAndSkip(t *testing.T) {
	s := newSession(t, 0)
	_, _ = s.AddClip(context.Background(), spec(0, 0, 5000))

	assert.Equal(t, int64(5000), s.Seek(context.Background(), 9999).Time)
	assert.Equal(t, int64(4000), s.SkipBack(context.Background()).Time)
	assert.Equal(t, int64(5000), s.SkipForward(context.Background()).Time)
	assert.Equal(t, int64(2500), s.SeekPixel(context.Background(), 250).Time)
}

func TestPlayback_PublishesUpdatesAndStopsAtEnd(t *testing.T) {
	s := newSession(t, 0)
	_, _ = s.AddClip(context.Background(), spec(0, 0, 40))

	var mu sync.Mutex
	var updates []Update
	unsubscribe := s.OnUpdate(func(u Update) {
		mu.Lock()
		updates = append(updates, u)
		mu.Unlock()
	})
	defer unsubscribe()

	s.Start(context.Background())
	s.Play()

	require.Eventually(t, func() bool { return !s.Position().Playing }, 2*time.Second, time.Millisecond)
	assert.Equal(t, int64(0), s.Position().Time)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, updates)
	last := updates[len(updates)-1]
	assert.True(t, last.Position.Stopped)
	for _, u := range updates[:len(updates)-1] {
		require.NotNil(t, u.Frame)
		assert.False(t, u.Frame.Empty, "clip covers every playing tick")
	}
}

func TestSeek_PublishesUpdate(t *testing.T) {
	s := newSession(t, 0)
	_, _ = s.AddClip(context.Background(), spec(0, 1000, 1000))

	var got []Update
	s.OnUpdate(func(u Update) { got = append(got, u) })

	s.Seek(context.Background(), 500)
	s.Seek(context.Background(), 1500)

	require.Len(t, got, 2)
	assert.True(t, got[0].Frame.Empty)
	assert.False(t, got[1].Frame.Empty)
}

func TestRender_UsesCurrentTime(t *testing.T) {
	s := newSession(t, 0)
	top, _ := s.AddClip(context.Background(), spec(1, 0, 2000))
	_, _ = s.AddClip(context.Background(), spec(0, 0, 2000))
	s.Seek(context.Background(), 100)

	frame, err := s.Render(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, frame.Layers, 2)
	assert.Equal(t, top.ID, frame.Layers[1].ClipID)
	assert.Equal(t, int64(100), frame.Time)
}

func TestState(t *testing.T) {
	s := newSession(t, 0)
	st := s.State()
	assert.Equal(t, []int{0}, st.Tracks, "an empty timeline still shows track 0")
	assert.Equal(t, "00:00.00", st.Timecode)
	assert.Equal(t, 1.0, st.Zoom)
}

func TestClose_StopsTimers(t *testing.T) {
	s := newSession(t, 0)
	_, _ = s.AddClip(context.Background(), spec(0, 0, 60000))
	s.Start(context.Background())
	s.Play()
	s.Close()

	before := s.Position().Time
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, before, s.Position().Time)
	assert.False(t, s.Position().Playing)
}

func setupRepo(t *testing.T) catalog.Repository {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return catalog.NewRepository(database.Conn())
}

func TestManager_OpenLoadsAndPersists(t *testing.T) {
	repo := setupRepo(t)
	svc := catalog.NewService(repo, nil)
	p, err := svc.CreateProject(context.Background(), "u1", catalog.CreateProjectRequest{Name: "demo"})
	require.NoError(t, err)

	m := NewManager(context.Background(), repo, compositor.New(nil, nil), testOptions())
	defer m.StopAll()

	s, err := m.Open(context.Background(), p.ID)
	require.NoError(t, err)
	again, err := m.Open(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Same(t, s, again)

	_, err = s.AddClip(context.Background(), spec(0, 0, 4000))
	require.NoError(t, err)

	stored, err := repo.GetProject(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4000), stored.Duration)

	require.NoError(t, m.Close(p.ID))
	assert.ErrorIs(t, m.Close(p.ID), catalog.ErrNotFound)

	reopened, err := m.Open(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Len(t, reopened.Timeline().Clips(), 1)
	assert.Equal(t, int64(4000), reopened.Project().Duration)
}

func TestManager_OpenUnknownProject(t *testing.T) {
	m := NewManager(context.Background(), setupRepo(t), compositor.New(nil, nil), testOptions())
	_, err := m.Open(context.Background(), "missing")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
	_, err = m.Get("missing")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestManager_AssetReady(t *testing.T) {
	repo := setupRepo(t)
	svc := catalog.NewService(repo, nil)
	p, _ := svc.CreateProject(context.Background(), "u1", catalog.CreateProjectRequest{Name: "demo"})

	m := NewManager(context.Background(), repo, compositor.New(nil, nil), testOptions())
	defer m.StopAll()
	s, err := m.Open(context.Background(), p.ID)
	require.NoError(t, err)

	dur := int64(6000)
	job := &catalog.GenerationJob{ID: "j1", ProjectID: p.ID}
	asset := &catalog.MediaAsset{ID: "a1", Kind: catalog.KindVideo, URL: "gen.mp4", Duration: &dur}

	require.NoError(t, m.AssetReady(context.Background(), job, asset))
	assert.Equal(t, 0, s.Timeline().Len(), "auto-insert is off by default")

	m.SetAutoInsert(true)
	require.NoError(t, m.AssetReady(context.Background(), job, asset))
	require.Equal(t, 1, s.Timeline().Len())
	assert.Equal(t, int64(6000), s.Project().Duration)

	other := &catalog.GenerationJob{ID: "j2", ProjectID: "not-open"}
	assert.NoError(t, m.AssetReady(context.Background(), other, asset))
}
