package api

import (
	"time"

	"github.com/clipforge/clipforge/internal/catalog"
	"github.com/clipforge/clipforge/internal/compositor"
	"github.com/clipforge/clipforge/internal/pipeline"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	State           string                `json:"state"`
	LastError       string                `json:"last_error,omitempty"`
	ProjectsCount   int                   `json:"projects_count"`
	OpenSessions    []string              `json:"open_sessions"`
	JobsGenerating  int                   `json:"jobs_generating"`
	ProviderMode    string                `json:"provider_mode"`
	ReconcilePaused bool                  `json:"reconcile_paused"`
	Render          *RenderStatusResponse `json:"render,omitempty"`
}

type RenderStatusResponse struct {
	CanRender   bool              `json:"can_render"`
	FFmpeg      pipeline.ToolInfo `json:"ffmpeg"`
	FFprobe     pipeline.ToolInfo `json:"ffprobe"`
	LastProbeAt string            `json:"last_probe_at,omitempty"`
}

type RenameProjectRequest struct {
	Name string `json:"name" validate:"required,max=200"`
}

type ProjectsResponse struct {
	Projects []*catalog.Project `json:"projects"`
}

type ClipsResponse struct {
	Clips []*catalog.Clip `json:"clips"`
}

type AssetsResponse struct {
	Assets []*catalog.MediaAsset `json:"assets"`
}

type JobsResponse struct {
	Jobs []*catalog.GenerationJob `json:"jobs"`
}

type EnrichAssetRequest struct {
	Metadata map[string]any `json:"metadata" validate:"required"`
}

type SeekRequest struct {
	Time *int64   `json:"time,omitempty" validate:"omitempty,gte=0"`
	X    *float64 `json:"x,omitempty" validate:"omitempty,gte=0"`
}

type SkipRequest struct {
	Direction string `json:"direction" validate:"required,oneof=back forward"`
}

type SelectRequest struct {
	ClipID string `json:"clip_id"`
}

type DragRequest struct {
	Phase  string  `json:"phase" validate:"required,oneof=begin move end"`
	ClipID string  `json:"clip_id" validate:"required_if=Phase begin"`
	X      float64 `json:"x"`
}

type ZoomRequest struct {
	Action string  `json:"action" validate:"required,oneof=in out set"`
	Zoom   float64 `json:"zoom" validate:"gte=0"`
}

type ZoomResponse struct {
	Zoom float64 `json:"zoom"`
}

type InsertAssetRequest struct {
	AssetID string `json:"asset_id" validate:"required"`
}

type PositionResponse struct {
	Time     int64  `json:"current_time"`
	Timecode string `json:"timecode"`
	Playing  bool   `json:"is_playing"`
}

type FrameResponse struct {
	Time   int64              `json:"time"`
	Empty  bool               `json:"empty"`
	Layers []compositor.Layer `json:"layers"`
	Audio  []compositor.Layer `json:"audio"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func frameToResponse(f *compositor.Frame) FrameResponse {
	resp := FrameResponse{Time: f.Time, Empty: f.Empty, Layers: f.Layers, Audio: f.Audio}
	if resp.Layers == nil {
		resp.Layers = []compositor.Layer{}
	}
	if resp.Audio == nil {
		resp.Audio = []compositor.Layer{}
	}
	return resp
}
