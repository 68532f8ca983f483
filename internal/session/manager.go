package session

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/clipforge/clipforge/internal/catalog"
	"github.com/clipforge/clipforge/internal/compositor"
)

// Manager owns the open sessions, at most one per project.
type Manager struct {
	ctx    context.Context
	repo   catalog.Repository
	comp   *compositor.Compositor
	opts   Options
	logger *slog.Logger

	mu         sync.Mutex
	sessions   map[string]*Session
	autoInsert bool
}

// NewManager creates a manager whose session timers live under ctx.
func NewManager(ctx context.Context, repo catalog.Repository, comp *compositor.Compositor, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		ctx:      ctx,
		repo:     repo,
		comp:     comp,
		opts:     opts,
		logger:   logger.With("component", "sessions"),
		sessions: make(map[string]*Session),
	}
}

// SetAutoInsert controls whether generated assets land on their project's
// open timeline.
func (m *Manager) SetAutoInsert(on bool) {
	m.mu.Lock()
	m.autoInsert = on
	m.mu.Unlock()
}

// Open returns the project's session, loading it from storage if needed.
func (m *Manager) Open(ctx context.Context, projectID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[projectID]; ok {
		return s, nil
	}

	p, err := m.repo.GetProject(ctx, projectID)
	if err != nil {
		return nil, catalog.External("get project", err)
	}
	if p == nil {
		return nil, catalog.NotFound("project", projectID)
	}
	clips, err := m.repo.ListClips(ctx, projectID)
	if err != nil {
		return nil, catalog.External("list clips", err)
	}

	s := New(p, clips, m.repo, m.comp, m.opts)
	s.Start(m.ctx)
	m.sessions[projectID] = s
	m.logger.Info("session opened", "project_id", projectID, "clips", len(clips))
	return s, nil
}

func (m *Manager) Get(projectID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[projectID]
	if !ok {
		return nil, catalog.NotFound("session", projectID)
	}
	return s, nil
}

// Close stops a session's timers and forgets it.
func (m *Manager) Close(projectID string) error {
	m.mu.Lock()
	s, ok := m.sessions[projectID]
	delete(m.sessions, projectID)
	m.mu.Unlock()
	if !ok {
		return catalog.NotFound("session", projectID)
	}
	s.Close()
	return nil
}

// ProjectIDs lists the projects with an open session.
func (m *Manager) ProjectIDs() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)
	return ids
}

func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) StopAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

// ProjectRenamed refreshes the name an open session reports. It is a no-op
// when the project has no open session.
func (m *Manager) ProjectRenamed(projectID, name string) {
	m.mu.Lock()
	s, ok := m.sessions[projectID]
	m.mu.Unlock()
	if ok {
		s.Rename(name)
	}
}

// AssetReady appends a generated asset to its project's open session when
// auto-insert is on. Projects without an open session keep the asset in the
// library only.
func (m *Manager) AssetReady(ctx context.Context, job *catalog.GenerationJob, asset *catalog.MediaAsset) error {
	m.mu.Lock()
	on := m.autoInsert
	s, ok := m.sessions[job.ProjectID]
	m.mu.Unlock()
	if !on || !ok {
		return nil
	}
	_, err := s.InsertAsset(ctx, asset)
	return err
}

func isNotFound(err error) bool {
	return errors.Is(err, catalog.ErrNotFound)
}
