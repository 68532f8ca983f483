package catalog

import (
	"context"
	"log/slog"
	"path"
	"strings"
	"time"
)

// Prober reports the natural duration of a media locator in milliseconds.
type Prober interface {
	ProbeDuration(ctx context.Context, locator string) (int64, error)
}

type CatalogService interface {
	CreateProject(ctx context.Context, userID string, req CreateProjectRequest) (*Project, error)
	GetProject(ctx context.Context, id string) (*Project, error)
	ListProjects(ctx context.Context, userID string) ([]*Project, error)
	RenameProject(ctx context.Context, id, name string) (*Project, error)
	DeleteProject(ctx context.Context, id string) error
	DuplicateProject(ctx context.Context, id string) (*Project, error)
	ListClips(ctx context.Context, projectID string) ([]*Clip, error)

	RegisterAsset(ctx context.Context, userID string, req RegisterAssetRequest) (*MediaAsset, error)
	CreateAsset(ctx context.Context, asset *MediaAsset) error
	GetAsset(ctx context.Context, id string) (*MediaAsset, error)
	ListAssets(ctx context.Context, userID string) ([]*MediaAsset, error)
	EnrichAsset(ctx context.Context, id string, metadata map[string]any) (*MediaAsset, error)
}

type CreateProjectRequest struct {
	Name       string `json:"name" validate:"required,max=200"`
	Resolution string `json:"resolution,omitempty" validate:"omitempty,max=32"`
	FPS        int    `json:"fps,omitempty" validate:"gte=0,lte=240"`
}

type RegisterAssetRequest struct {
	Kind         ClipKind       `json:"asset_type" validate:"required,clipkind"`
	Source       string         `json:"source,omitempty" validate:"omitempty,oneof=upload ai-generated rendered"`
	URL          string         `json:"url" validate:"required"`
	ThumbnailURL string         `json:"thumbnail_url,omitempty"`
	Filename     string         `json:"filename,omitempty"`
	Duration     *int64         `json:"duration,omitempty" validate:"omitempty,gt=0"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type Service struct {
	repo   Repository
	prober Prober
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// SetProber enables natural-duration probing for registered assets.
func (s *Service) SetProber(p Prober) {
	s.prober = p
}

func (s *Service) CreateProject(ctx context.Context, userID string, req CreateProjectRequest) (*Project, error) {
	if err := ValidateStruct(req); err != nil {
		return nil, err
	}
	now := time.Now()
	p := &Project{
		ID:         NewID(),
		UserID:     userID,
		Name:       strings.TrimSpace(req.Name),
		Resolution: req.Resolution,
		FPS:        req.FPS,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if p.Resolution == "" {
		p.Resolution = DefaultResolution
	}
	if p.FPS == 0 {
		p.FPS = DefaultFPS
	}
	if err := s.repo.CreateProject(ctx, p); err != nil {
		return nil, External("create project", err)
	}
	s.log("project created", "project_id", p.ID)
	return p, nil
}

func (s *Service) GetProject(ctx context.Context, id string) (*Project, error) {
	p, err := s.repo.GetProject(ctx, id)
	if err != nil {
		return nil, External("get project", err)
	}
	if p == nil {
		return nil, NotFound("project", id)
	}
	return p, nil
}

func (s *Service) ListProjects(ctx context.Context, userID string) ([]*Project, error) {
	projects, err := s.repo.ListProjects(ctx, userID)
	if err != nil {
		return nil, External("list projects", err)
	}
	return projects, nil
}

func (s *Service) RenameProject(ctx context.Context, id, name string) (*Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, Invalid("name is required")
	}
	if _, err := s.GetProject(ctx, id); err != nil {
		return nil, err
	}
	if err := s.repo.RenameProject(ctx, id, name); err != nil {
		return nil, External("rename project", err)
	}
	return s.GetProject(ctx, id)
}

func (s *Service) DeleteProject(ctx context.Context, id string) error {
	if _, err := s.GetProject(ctx, id); err != nil {
		return err
	}
	if err := s.repo.DeleteProject(ctx, id); err != nil {
		return External("delete project", err)
	}
	s.log("project deleted", "project_id", id)
	return nil
}

// DuplicateProject copies a project and all of its clips under fresh ids.
func (s *Service) DuplicateProject(ctx context.Context, id string) (*Project, error) {
	orig, err := s.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	clips, err := s.ListClips(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	dup := &Project{
		ID:         NewID(),
		UserID:     orig.UserID,
		Name:       orig.Name + " (Copy)",
		Duration:   orig.Duration,
		Resolution: orig.Resolution,
		FPS:        orig.FPS,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.CreateProject(ctx, dup); err != nil {
		return nil, External("create project copy", err)
	}

	for _, c := range clips {
		cp := c.Clone()
		cp.ID = NewID()
		cp.ProjectID = dup.ID
		cp.CreatedAt = c.CreatedAt
		if err := s.repo.CreateClip(ctx, cp); err != nil {
			return nil, External("copy clip", err)
		}
	}

	s.log("project duplicated", "project_id", id, "copy_id", dup.ID, "clips", len(clips))
	return dup, nil
}

func (s *Service) ListClips(ctx context.Context, projectID string) ([]*Clip, error) {
	clips, err := s.repo.ListClips(ctx, projectID)
	if err != nil {
		return nil, External("list clips", err)
	}
	return clips, nil
}

func (s *Service) RegisterAsset(ctx context.Context, userID string, req RegisterAssetRequest) (*MediaAsset, error) {
	if err := ValidateStruct(req); err != nil {
		return nil, err
	}

	asset := &MediaAsset{
		ID:           NewID(),
		UserID:       userID,
		Kind:         req.Kind,
		Source:       req.Source,
		URL:          req.URL,
		ThumbnailURL: req.ThumbnailURL,
		Filename:     req.Filename,
		Duration:     req.Duration,
		Metadata:     req.Metadata,
		CreatedAt:    time.Now(),
	}
	if asset.Source == "" {
		asset.Source = SourceUpload
	}
	if asset.Filename == "" {
		asset.Filename = path.Base(req.URL)
	}
	if asset.Metadata == nil {
		asset.Metadata = map[string]any{}
	}

	if asset.Duration == nil && asset.Kind != KindImage && s.prober != nil {
		ms, err := s.prober.ProbeDuration(ctx, asset.URL)
		if err != nil {
			s.warn("duration probe failed", "url", asset.URL, "error", err)
		} else if ms > 0 {
			asset.Duration = &ms
		}
	}

	if err := s.CreateAsset(ctx, asset); err != nil {
		return nil, err
	}
	return asset, nil
}

func (s *Service) CreateAsset(ctx context.Context, asset *MediaAsset) error {
	if !asset.Kind.Valid() {
		return Invalid("unknown asset type %q", asset.Kind)
	}
	if asset.URL == "" {
		return Invalid("asset url is required")
	}
	if err := s.repo.CreateAsset(ctx, asset); err != nil {
		return External("create asset", err)
	}
	s.log("media asset created", "asset_id", asset.ID, "source", asset.Source, "ai_job_id", asset.AIJobID)
	return nil
}

func (s *Service) GetAsset(ctx context.Context, id string) (*MediaAsset, error) {
	a, err := s.repo.GetAsset(ctx, id)
	if err != nil {
		return nil, External("get asset", err)
	}
	if a == nil {
		return nil, NotFound("asset", id)
	}
	return a, nil
}

func (s *Service) ListAssets(ctx context.Context, userID string) ([]*MediaAsset, error) {
	assets, err := s.repo.ListAssets(ctx, userID)
	if err != nil {
		return nil, External("list assets", err)
	}
	return assets, nil
}

// EnrichAsset merges metadata into an existing asset. It is the only
// mutation an asset accepts after creation.
func (s *Service) EnrichAsset(ctx context.Context, id string, metadata map[string]any) (*MediaAsset, error) {
	a, err := s.GetAsset(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Metadata == nil {
		a.Metadata = map[string]any{}
	}
	for k, v := range metadata {
		a.Metadata[k] = v
	}
	if err := s.repo.UpdateAssetMetadata(ctx, id, a.Metadata); err != nil {
		return nil, External("update asset metadata", err)
	}
	return a, nil
}

func (s *Service) log(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *Service) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
