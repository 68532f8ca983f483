package generation

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/clipforge/clipforge/internal/catalog"
	"github.com/clipforge/clipforge/internal/provider"
)

const defaultListLimit = 50

type CreateRequest struct {
	ProjectID      string         `json:"project_id,omitempty"`
	Provider       string         `json:"provider" validate:"required,provider"`
	JobType        string         `json:"job_type" validate:"required,oneof=text-to-video image-to-video"`
	Prompt         string         `json:"prompt" validate:"required,max=4000"`
	SourceImageURL string         `json:"source_image_url,omitempty" validate:"required_if=JobType image-to-video"`
	Parameters     map[string]any `json:"parameters,omitempty"`
}

type Service struct {
	repo       catalog.Repository
	source     provider.JobSource
	reconciler *Reconciler
	logger     *slog.Logger
}

func NewService(repo catalog.Repository, source provider.JobSource, reconciler *Reconciler, logger *slog.Logger) *Service {
	return &Service{repo: repo, source: source, reconciler: reconciler, logger: logger}
}

// Create records a job, submits it and hands it to the reconciler. A job
// whose submission fails is stored as failed.
func (s *Service) Create(ctx context.Context, userID string, req CreateRequest) (*catalog.GenerationJob, error) {
	req.Prompt = strings.TrimSpace(req.Prompt)
	if err := catalog.ValidateStruct(req); err != nil {
		return nil, err
	}
	if d, ok := req.Parameters["duration"]; ok && !validSeconds(d) {
		return nil, catalog.Invalid("parameters.duration must be between 0 and %d seconds", catalog.MaxGenerationSeconds)
	}

	if req.ProjectID != "" {
		p, err := s.repo.GetProject(ctx, req.ProjectID)
		if err != nil {
			return nil, catalog.External("get project", err)
		}
		if p == nil {
			return nil, catalog.NotFound("project", req.ProjectID)
		}
	}

	params := req.Parameters
	if params == nil {
		params = map[string]any{}
	}
	job := &catalog.GenerationJob{
		ID:             catalog.NewID(),
		UserID:         userID,
		ProjectID:      req.ProjectID,
		Provider:       req.Provider,
		JobType:        req.JobType,
		Prompt:         req.Prompt,
		SourceImageURL: req.SourceImageURL,
		Parameters:     params,
		Status:         catalog.JobStatusPending,
		CreatedAt:      time.Now(),
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, catalog.External("create generation job", err)
	}

	logger := s.logger.With("job_id", job.ID, "provider", job.Provider)

	providerID, err := s.source.Submit(ctx, provider.SpecFor(job))
	if err != nil {
		msg := "submission failed: " + err.Error()
		if uerr := s.repo.UpdateJobStatus(context.WithoutCancel(ctx), job.ID, catalog.JobStatusFailed, "", msg); uerr != nil {
			logger.Error("failed to record submission failure", "error", uerr)
		}
		logger.Warn("generation submission failed", "error", err)
		return nil, catalog.External("submit generation", err)
	}

	if err := s.repo.SetProviderJobID(ctx, job.ID, providerID); err != nil {
		return nil, catalog.External("store provider job id", err)
	}
	job.ProviderJobID = providerID

	if s.reconciler != nil {
		s.reconciler.Track(job)
	}
	logger.Info("generation job submitted", "provider_job_id", providerID)
	return job, nil
}

func (s *Service) Get(ctx context.Context, id string) (*catalog.GenerationJob, error) {
	j, err := s.repo.GetJob(ctx, id)
	if err != nil {
		return nil, catalog.External("get generation job", err)
	}
	if j == nil {
		return nil, catalog.NotFound("generation job", id)
	}
	return j, nil
}

func (s *Service) List(ctx context.Context, userID string, limit int) ([]*catalog.GenerationJob, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	jobs, err := s.repo.ListJobs(ctx, userID, limit)
	if err != nil {
		return nil, catalog.External("list generation jobs", err)
	}
	return jobs, nil
}

func validSeconds(v any) bool {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	default:
		return false
	}
	return f > 0 && f <= catalog.MaxGenerationSeconds
}
