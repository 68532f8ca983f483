// Package timeline holds the mutable clip set of one project.
//
// Edits are serialised and each is a single step: validate, persist through
// the Store, then commit to memory. A failed edit leaves the clip set as it
// was. Reads never wait on persistence; they see the state before the edit
// until it commits.
package timeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/clipforge/clipforge/internal/catalog"
)

// Store persists timeline edits. catalog.Repository satisfies it.
type Store interface {
	CreateClip(ctx context.Context, c *catalog.Clip) error
	UpdateClip(ctx context.Context, c *catalog.Clip) error
	DeleteClip(ctx context.Context, id string) error
	UpdateProjectDuration(ctx context.Context, id string, duration int64) error
}

type ClipSpec struct {
	TrackIndex int                `json:"track_index"`
	StartTime  int64              `json:"start_time" validate:"gte=0"`
	Duration   int64              `json:"duration" validate:"gt=0"`
	Kind       catalog.ClipKind   `json:"clip_type" validate:"required,clipkind"`
	SourceURL  string             `json:"source_url" validate:"required"`
	TrimStart  int64              `json:"trim_start" validate:"gte=0"`
	TrimEnd    *int64             `json:"trim_end,omitempty" validate:"omitempty,gte=0"`
	Properties catalog.Properties `json:"properties,omitempty"`
}

// ClipPatch carries the fields an update changes. Nil fields are left alone.
// Properties are shallow-merged into the existing bag.
type ClipPatch struct {
	TrackIndex   *int               `json:"track_index,omitempty"`
	StartTime    *int64             `json:"start_time,omitempty"`
	Duration     *int64             `json:"duration,omitempty"`
	Kind         *catalog.ClipKind  `json:"clip_type,omitempty"`
	SourceURL    *string            `json:"source_url,omitempty"`
	TrimStart    *int64             `json:"trim_start,omitempty"`
	TrimEnd      *int64             `json:"trim_end,omitempty"`
	ClearTrimEnd bool               `json:"clear_trim_end,omitempty"`
	Properties   catalog.Properties `json:"properties,omitempty"`
}

type entry struct {
	clip *catalog.Clip
	seq  uint64
}

type Timeline struct {
	projectID string
	store     Store
	logger    *slog.Logger

	// editMu serialises edits across their persistence calls.
	editMu sync.Mutex

	mu            sync.RWMutex
	clips         map[string]*entry
	seq           uint64
	duration      int64
	durationDirty bool
}

// New builds a timeline from stored clips. clips should arrive in storage
// order (track, start, creation); that order seeds the tie-break between
// clips sharing a track and start time. store may be nil.
func New(projectID string, duration int64, clips []*catalog.Clip, store Store) *Timeline {
	t := &Timeline{
		projectID: projectID,
		store:     store,
		clips:     make(map[string]*entry, len(clips)),
		duration:  duration,
	}
	for _, c := range clips {
		t.seq++
		t.clips[c.ID] = &entry{clip: c.Clone(), seq: t.seq}
	}
	if ext := t.extentLocked(); ext > t.duration {
		t.duration = ext
		t.durationDirty = true
	}
	return t
}

func (t *Timeline) SetLogger(logger *slog.Logger) {
	t.logger = logger
}

func (t *Timeline) ProjectID() string {
	return t.projectID
}

func (t *Timeline) AddClip(ctx context.Context, spec ClipSpec) (*catalog.Clip, error) {
	if err := validateSpec(spec); err != nil {
		return nil, err
	}
	t.editMu.Lock()
	defer t.editMu.Unlock()
	return t.add(ctx, spec)
}

// AppendClip adds a clip starting at the current project duration, after
// everything already on the timeline. spec.StartTime is ignored.
func (t *Timeline) AppendClip(ctx context.Context, spec ClipSpec) (*catalog.Clip, error) {
	spec.StartTime = 0
	if err := validateSpec(spec); err != nil {
		return nil, err
	}
	t.editMu.Lock()
	defer t.editMu.Unlock()
	spec.StartTime = t.Duration()
	return t.add(ctx, spec)
}

func validateSpec(spec ClipSpec) error {
	if err := catalog.ValidateStruct(spec); err != nil {
		return err
	}
	if err := validateTrim(spec.TrimStart, spec.TrimEnd); err != nil {
		return err
	}
	return spec.Properties.Validate()
}

// add requires editMu.
func (t *Timeline) add(ctx context.Context, spec ClipSpec) (*catalog.Clip, error) {
	c := &catalog.Clip{
		ID:         catalog.NewID(),
		ProjectID:  t.projectID,
		TrackIndex: spec.TrackIndex,
		StartTime:  spec.StartTime,
		Duration:   spec.Duration,
		Kind:       spec.Kind,
		SourceURL:  spec.SourceURL,
		TrimStart:  spec.TrimStart,
		TrimEnd:    spec.TrimEnd,
		Properties: spec.Properties.Clone(),
		CreatedAt:  time.Now(),
	}

	if t.store != nil {
		if err := t.store.CreateClip(ctx, c); err != nil {
			return nil, catalog.External("create clip", err)
		}
	}

	t.mu.Lock()
	t.seq++
	t.clips[c.ID] = &entry{clip: c, seq: t.seq}
	t.growLocked(c.End())
	t.mu.Unlock()

	t.flushDuration(ctx)
	return c.Clone(), nil
}

func (t *Timeline) UpdateClip(ctx context.Context, id string, patch ClipPatch) (*catalog.Clip, error) {
	t.editMu.Lock()
	defer t.editMu.Unlock()

	t.mu.RLock()
	e, ok := t.clips[id]
	var next *catalog.Clip
	if ok {
		next = e.clip.Clone()
	}
	t.mu.RUnlock()
	if !ok {
		return nil, catalog.NotFound("clip", id)
	}

	if err := applyPatch(next, patch); err != nil {
		return nil, err
	}

	if t.store != nil {
		if err := t.store.UpdateClip(ctx, next); err != nil {
			return nil, catalog.External("update clip", err)
		}
	}

	t.mu.Lock()
	// The clip cannot have been removed meanwhile: removal also holds editMu.
	e.clip = next
	t.growLocked(next.End())
	t.mu.Unlock()

	t.flushDuration(ctx)
	return next.Clone(), nil
}

// DeleteClip removes a clip. Deleting an id that is not present reports
// ErrNotFound, including on a second delete of the same id.
func (t *Timeline) DeleteClip(ctx context.Context, id string) error {
	t.editMu.Lock()
	defer t.editMu.Unlock()

	t.mu.RLock()
	_, ok := t.clips[id]
	t.mu.RUnlock()
	if !ok {
		return catalog.NotFound("clip", id)
	}

	if t.store != nil {
		if err := t.store.DeleteClip(ctx, id); err != nil {
			return catalog.External("delete clip", err)
		}
	}

	t.mu.Lock()
	delete(t.clips, id)
	t.mu.Unlock()
	return nil
}

func applyPatch(c *catalog.Clip, p ClipPatch) error {
	if p.TrackIndex != nil {
		c.TrackIndex = *p.TrackIndex
	}
	if p.StartTime != nil {
		if *p.StartTime < 0 {
			return catalog.Invalid("start_time must be >= 0")
		}
		c.StartTime = *p.StartTime
	}
	if p.Duration != nil {
		if *p.Duration <= 0 {
			return catalog.Invalid("duration must be > 0")
		}
		c.Duration = *p.Duration
	}
	if p.Kind != nil {
		if !p.Kind.Valid() {
			return catalog.Invalid("unknown clip type %q", *p.Kind)
		}
		c.Kind = *p.Kind
	}
	if p.SourceURL != nil {
		if *p.SourceURL == "" {
			return catalog.Invalid("source_url is required")
		}
		c.SourceURL = *p.SourceURL
	}
	if p.TrimStart != nil {
		c.TrimStart = *p.TrimStart
	}
	if p.ClearTrimEnd {
		c.TrimEnd = nil
	} else if p.TrimEnd != nil {
		v := *p.TrimEnd
		c.TrimEnd = &v
	}
	if err := validateTrim(c.TrimStart, c.TrimEnd); err != nil {
		return err
	}
	if len(p.Properties) > 0 {
		merged := c.Properties.Merge(p.Properties)
		if err := merged.Validate(); err != nil {
			return err
		}
		c.Properties = merged
	}
	return nil
}

func validateTrim(start int64, end *int64) error {
	if start < 0 {
		return catalog.Invalid("trim_start must be >= 0")
	}
	if end != nil && *end <= start {
		return catalog.Invalid("trim_end must be greater than trim_start")
	}
	return nil
}

func (t *Timeline) growLocked(end int64) {
	if end > t.duration {
		t.duration = end
		t.durationDirty = true
	}
}

// flushDuration persists a grown duration. A failure keeps the dirty flag so
// the next edit retries; the clip edit itself has already committed.
func (t *Timeline) flushDuration(ctx context.Context) {
	if t.store == nil {
		t.mu.Lock()
		t.durationDirty = false
		t.mu.Unlock()
		return
	}

	t.mu.RLock()
	dirty, d := t.durationDirty, t.duration
	t.mu.RUnlock()
	if !dirty {
		return
	}

	if err := t.store.UpdateProjectDuration(ctx, t.projectID, d); err != nil {
		if t.logger != nil {
			t.logger.Warn("failed to persist project duration",
				"project_id", t.projectID, "duration", d, "error", err)
		}
		return
	}

	t.mu.Lock()
	if t.duration == d {
		t.durationDirty = false
	}
	t.mu.Unlock()
}

// ClipsAt returns the clips whose [start, start+duration) contains at.
func (t *Timeline) ClipsAt(at int64) []*catalog.Clip {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var active []*entry
	for _, e := range t.clips {
		if e.clip.ActiveAt(at) {
			active = append(active, e)
		}
	}
	return snapshot(active)
}

// Clips returns every clip ordered by track, start and insertion.
func (t *Timeline) Clips() []*catalog.Clip {
	t.mu.RLock()
	defer t.mu.RUnlock()

	all := make([]*entry, 0, len(t.clips))
	for _, e := range t.clips {
		all = append(all, e)
	}
	return snapshot(all)
}

func (t *Timeline) Clip(id string) (*catalog.Clip, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.clips[id]
	if !ok {
		return nil, catalog.NotFound("clip", id)
	}
	return e.clip.Clone(), nil
}

func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.clips)
}

// Tracks lists the track indices in use, ascending. Tracks exist only while
// a clip references them.
func (t *Timeline) Tracks() []int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	seen := make(map[int]struct{})
	var tracks []int
	for _, e := range t.clips {
		if _, ok := seen[e.clip.TrackIndex]; ok {
			continue
		}
		seen[e.clip.TrackIndex] = struct{}{}
		tracks = append(tracks, e.clip.TrackIndex)
	}
	sort.Ints(tracks)
	return tracks
}

// Duration is the project duration. It never drops below Extent.
func (t *Timeline) Duration() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.duration
}

// Extent is the end of the last clip on the timeline.
func (t *Timeline) Extent() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.extentLocked()
}

func (t *Timeline) extentLocked() int64 {
	var ext int64
	for _, e := range t.clips {
		if end := e.clip.End(); end > ext {
			ext = end
		}
	}
	return ext
}

func snapshot(entries []*entry) []*catalog.Clip {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.clip.TrackIndex != b.clip.TrackIndex {
			return a.clip.TrackIndex < b.clip.TrackIndex
		}
		if a.clip.StartTime != b.clip.StartTime {
			return a.clip.StartTime < b.clip.StartTime
		}
		return a.seq < b.seq
	})
	out := make([]*catalog.Clip, len(entries))
	for i, e := range entries {
		out[i] = e.clip.Clone()
	}
	return out
}

// FormatTime renders ms as MM:SS.cc.
func FormatTime(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	mins := ms / 60000
	secs := (ms % 60000) / 1000
	centis := (ms % 1000) / 10
	return fmt.Sprintf("%02d:%02d.%02d", mins, secs, centis)
}
