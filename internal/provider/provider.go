// Package provider talks to the external AI video generation services.
// Providers are opaque job sources: a job is submitted once and its status
// is read back by polling.
package provider

import (
	"context"
	"fmt"

	"github.com/clipforge/clipforge/internal/catalog"
)

// JobSource is the job-source collaborator. FetchStatus must be an
// idempotent read.
type JobSource interface {
	Submit(ctx context.Context, spec JobSpec) (string, error)
	FetchStatus(ctx context.Context, providerJobID string) (*Status, error)
}

type JobSpec struct {
	Provider       string         `json:"provider"`
	JobType        string         `json:"job_type"`
	Prompt         string         `json:"prompt"`
	SourceImageURL string         `json:"source_image_url,omitempty"`
	Parameters     map[string]any `json:"parameters,omitempty"`
}

// SpecFor builds the submission for a stored job.
func SpecFor(j *catalog.GenerationJob) JobSpec {
	return JobSpec{
		Provider:       j.Provider,
		JobType:        j.JobType,
		Prompt:         j.Prompt,
		SourceImageURL: j.SourceImageURL,
		Parameters:     j.Parameters,
	}
}

type Status struct {
	Status       catalog.JobStatus `json:"status"`
	ResultURL    string            `json:"result_url,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	// DurationMs is the generated clip length when the provider reports it.
	DurationMs int64 `json:"duration_ms,omitempty"`
}

func parseStatus(s string) (catalog.JobStatus, error) {
	switch st := catalog.JobStatus(s); st {
	case catalog.JobStatusPending, catalog.JobStatusProcessing, catalog.JobStatusCompleted, catalog.JobStatusFailed:
		return st, nil
	case "queued", "submitted":
		return catalog.JobStatusPending, nil
	case "running", "in_progress":
		return catalog.JobStatusProcessing, nil
	case "succeeded", "success":
		return catalog.JobStatusCompleted, nil
	case "error", "cancelled", "canceled":
		return catalog.JobStatusFailed, nil
	}
	return "", fmt.Errorf("unknown provider status %q", s)
}
