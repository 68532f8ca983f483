// Package session coordinates one open project: its playback clock, its
// timeline and the compositor, plus selection, dragging and zoom.
package session

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/clipforge/clipforge/internal/catalog"
	"github.com/clipforge/clipforge/internal/clock"
	"github.com/clipforge/clipforge/internal/compositor"
	"github.com/clipforge/clipforge/internal/schedule"
	"github.com/clipforge/clipforge/internal/timeline"
)

const (
	PixelsPerSecond = 100
	MinZoom         = 0.25
	MaxZoom         = 4.0
	ZoomStep        = 0.25
)

type Options struct {
	TickInterval time.Duration
	Logger       *slog.Logger
}

// Update is delivered to listeners on every tick while playing and on every
// seek.
type Update struct {
	ProjectID string            `json:"project_id"`
	Position  clock.Position    `json:"position"`
	Frame     *compositor.Frame `json:"frame,omitempty"`
}

type State struct {
	ProjectID   string          `json:"project_id"`
	Name        string          `json:"name"`
	CurrentTime int64           `json:"current_time"`
	Timecode    string          `json:"timecode"`
	Playing     bool            `json:"is_playing"`
	Duration    int64           `json:"duration"`
	Selected    string          `json:"selected_clip_id,omitempty"`
	Dragging    string          `json:"dragging_clip_id,omitempty"`
	Zoom        float64         `json:"zoom"`
	Tracks      []int           `json:"tracks"`
	Clips       []*catalog.Clip `json:"clips"`
}

type Session struct {
	project  catalog.Project
	timeline *timeline.Timeline
	clock    *clock.Clock
	comp     *compositor.Compositor
	opts     Options
	logger   *slog.Logger

	mu       sync.Mutex
	selected string
	dragging string
	zoom     float64

	listenersMu sync.RWMutex
	listeners   map[int]func(Update)
	nextID      int

	runMu  sync.Mutex
	handle *schedule.Handle
}

// New builds a session over a project and its stored clips. store receives
// every timeline edit; it may be nil.
func New(project *catalog.Project, clips []*catalog.Clip, store timeline.Store, comp *compositor.Compositor, opts Options) *Session {
	if opts.TickInterval <= 0 {
		opts.TickInterval = clock.DefaultTickInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "session", "project_id", project.ID)

	tl := timeline.New(project.ID, project.Duration, clips, store)
	tl.SetLogger(logger)

	return &Session{
		project:   *project,
		timeline:  tl,
		clock:     clock.New(tl),
		comp:      comp,
		opts:      opts,
		logger:    logger,
		zoom:      1,
		listeners: make(map[int]func(Update)),
	}
}

func (s *Session) ProjectID() string {
	return s.project.ID
}

// Project returns the project record with its live duration.
func (s *Session) Project() *catalog.Project {
	s.mu.Lock()
	p := s.project
	s.mu.Unlock()
	p.Duration = s.timeline.Duration()
	return &p
}

// Rename updates the cached project name after storage has been renamed.
func (s *Session) Rename(name string) {
	s.mu.Lock()
	s.project.Name = name
	s.mu.Unlock()
}

func (s *Session) Timeline() *timeline.Timeline {
	return s.timeline
}

// Start begins driving the clock. Ticks only advance time while playing.
func (s *Session) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.handle != nil {
		return
	}
	s.handle = s.clock.Run(ctx, s.opts.TickInterval, func(pos clock.Position) {
		s.publish(ctx, pos)
	}, s.logger)
	s.logger.Info("session started")
}

// Close stops the clock timer and waits for it.
func (s *Session) Close() {
	s.runMu.Lock()
	h := s.handle
	s.handle = nil
	s.runMu.Unlock()

	s.clock.Pause()
	if h != nil {
		h.Stop()
		s.logger.Info("session closed")
	}
}

// OnUpdate registers fn and returns its unsubscribe func. fn runs on the
// clock goroutine and must not block.
func (s *Session) OnUpdate(fn func(Update)) func() {
	s.listenersMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

func (s *Session) publish(ctx context.Context, pos clock.Position) {
	s.listenersMu.RLock()
	n := len(s.listeners)
	s.listenersMu.RUnlock()
	if n == 0 {
		return
	}

	frame, err := s.comp.Compose(ctx, pos.Time, s.timeline.ClipsAt(pos.Time), nil)
	if err != nil {
		return
	}
	u := Update{ProjectID: s.project.ID, Position: pos, Frame: frame}

	s.listenersMu.RLock()
	defer s.listenersMu.RUnlock()
	for _, fn := range s.listeners {
		fn(u)
	}
}

func (s *Session) Play() clock.Position   { return s.clock.Play() }
func (s *Session) Pause() clock.Position  { return s.clock.Pause() }
func (s *Session) Toggle() clock.Position { return s.clock.Toggle() }

func (s *Session) Position() clock.Position {
	return s.clock.Position()
}

func (s *Session) Seek(ctx context.Context, t int64) clock.Position {
	pos := s.clock.Seek(t)
	s.publish(ctx, pos)
	return pos
}

// SeekPixel seeks to the time under a pointer x offset on the timeline ruler.
func (s *Session) SeekPixel(ctx context.Context, x float64) clock.Position {
	return s.Seek(ctx, s.PixelToTime(x))
}

func (s *Session) SkipBack(ctx context.Context) clock.Position {
	pos := s.clock.SkipBack()
	s.publish(ctx, pos)
	return pos
}

func (s *Session) SkipForward(ctx context.Context) clock.Position {
	pos := s.clock.SkipForward()
	s.publish(ctx, pos)
	return pos
}

// Select makes id the single selected clip. An empty id clears the selection.
func (s *Session) Select(id string) error {
	if id != "" {
		if _, err := s.timeline.Clip(id); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.selected = id
	s.mu.Unlock()
	return nil
}

func (s *Session) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// BeginDrag makes id the drag target and selects it.
func (s *Session) BeginDrag(id string) error {
	if _, err := s.timeline.Clip(id); err != nil {
		return err
	}
	s.mu.Lock()
	s.selected = id
	s.dragging = id
	s.mu.Unlock()
	return nil
}

// DragTo moves the drag target so it starts under pointer x, clamped to 0.
// Each call is persisted; there is no separate commit.
func (s *Session) DragTo(ctx context.Context, x float64) (*catalog.Clip, error) {
	s.mu.Lock()
	id := s.dragging
	s.mu.Unlock()
	if id == "" {
		return nil, catalog.Invalid("no drag in progress")
	}

	start := s.PixelToTime(x)
	if start < 0 {
		start = 0
	}
	c, err := s.timeline.UpdateClip(ctx, id, timeline.ClipPatch{StartTime: &start})
	if err != nil {
		if isNotFound(err) {
			s.clearClip(id)
		}
		return nil, err
	}
	return c, nil
}

func (s *Session) EndDrag() {
	s.mu.Lock()
	s.dragging = ""
	s.mu.Unlock()
}

func (s *Session) Dragging() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dragging
}

func (s *Session) Zoom() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zoom
}

// SetZoom snaps z to the nearest step and clamps it to the allowed range.
func (s *Session) SetZoom(z float64) float64 {
	z = SnapZoom(z)
	s.mu.Lock()
	s.zoom = z
	s.mu.Unlock()
	return z
}

func (s *Session) ZoomIn() float64 {
	return s.SetZoom(s.Zoom() + ZoomStep)
}

func (s *Session) ZoomOut() float64 {
	return s.SetZoom(s.Zoom() - ZoomStep)
}

func (s *Session) TimeToPixel(ms int64) float64 {
	return TimeToPixel(ms, s.Zoom())
}

func (s *Session) PixelToTime(x float64) int64 {
	return PixelToTime(x, s.Zoom())
}

func SnapZoom(z float64) float64 {
	if math.IsNaN(z) {
		return 1
	}
	z = math.Round(z/ZoomStep) * ZoomStep
	return math.Max(MinZoom, math.Min(MaxZoom, z))
}

func TimeToPixel(ms int64, zoom float64) float64 {
	return float64(ms) / 1000 * PixelsPerSecond * zoom
}

func PixelToTime(x, zoom float64) int64 {
	return int64(math.Round(x / (PixelsPerSecond * zoom) * 1000))
}

func (s *Session) AddClip(ctx context.Context, spec timeline.ClipSpec) (*catalog.Clip, error) {
	return s.timeline.AddClip(ctx, spec)
}

func (s *Session) UpdateClip(ctx context.Context, id string, patch timeline.ClipPatch) (*catalog.Clip, error) {
	return s.timeline.UpdateClip(ctx, id, patch)
}

// DeleteClip removes a clip and drops it from the selection and drag.
func (s *Session) DeleteClip(ctx context.Context, id string) error {
	if err := s.timeline.DeleteClip(ctx, id); err != nil {
		return err
	}
	s.clearClip(id)
	return nil
}

func (s *Session) clearClip(id string) {
	s.mu.Lock()
	if s.selected == id {
		s.selected = ""
	}
	if s.dragging == id {
		s.dragging = ""
	}
	s.mu.Unlock()
}

// InsertAsset appends an asset as a clip on track 0 after the current end
// of the timeline.
func (s *Session) InsertAsset(ctx context.Context, asset *catalog.MediaAsset) (*catalog.Clip, error) {
	duration := int64(catalog.DefaultClipDuration)
	if asset.Duration != nil && *asset.Duration > 0 {
		duration = *asset.Duration
	}
	c, err := s.timeline.AppendClip(ctx, timeline.ClipSpec{
		TrackIndex: 0,
		Duration:   duration,
		Kind:       asset.Kind,
		SourceURL:  asset.URL,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("asset inserted", "asset_id", asset.ID, "clip_id", c.ID, "start_time", c.StartTime)
	return c, nil
}

// Render composites the frame at the current time onto dst.
func (s *Session) Render(ctx context.Context, dst compositor.Surface) (*compositor.Frame, error) {
	return s.RenderAt(ctx, s.clock.Now(), dst)
}

func (s *Session) RenderAt(ctx context.Context, t int64, dst compositor.Surface) (*compositor.Frame, error) {
	return s.comp.Compose(ctx, t, s.timeline.ClipsAt(t), dst)
}

func (s *Session) State() State {
	pos := s.clock.Position()
	s.mu.Lock()
	selected, dragging, zoom := s.selected, s.dragging, s.zoom
	name := s.project.Name
	s.mu.Unlock()

	tracks := s.timeline.Tracks()
	if len(tracks) == 0 {
		tracks = []int{0}
	}
	return State{
		ProjectID:   s.project.ID,
		Name:        name,
		CurrentTime: pos.Time,
		Timecode:    timeline.FormatTime(pos.Time),
		Playing:     pos.Playing,
		Duration:    s.timeline.Duration(),
		Selected:    selected,
		Dragging:    dragging,
		Zoom:        zoom,
		Tracks:      tracks,
		Clips:       s.timeline.Clips(),
	}
}
