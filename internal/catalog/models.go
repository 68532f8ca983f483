package catalog

import (
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
)

type ClipKind string

const (
	KindVideo ClipKind = "video"
	KindImage ClipKind = "image"
	KindAudio ClipKind = "audio"
)

func (k ClipKind) Valid() bool {
	switch k {
	case KindVideo, KindImage, KindAudio:
		return true
	}
	return false
}

const (
	SourceUpload      = "upload"
	SourceAIGenerated = "ai-generated"
	SourceRendered    = "rendered"
)

const (
	ProviderRunway   = "runway"
	ProviderKling    = "kling"
	ProviderVeo3     = "veo3"
	ProviderSeadance = "seadance"
	ProviderMock     = "mock"

	JobTypeTextToVideo  = "text-to-video"
	JobTypeImageToVideo = "image-to-video"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Active reports whether the job still needs reconciliation.
func (s JobStatus) Active() bool {
	return s == JobStatusPending || s == JobStatusProcessing
}

func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

const (
	DefaultResolution   = "1920x1080"
	DefaultFPS          = 30
	DefaultClipDuration = 5000
	// DefaultGenerationSeconds is used when a job carries no duration parameter.
	DefaultGenerationSeconds = 5
	// MaxGenerationSeconds bounds the duration parameter of a generation job.
	MaxGenerationSeconds = 600
)

type Project struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Name         string    `json:"name" validate:"required,max=200"`
	Duration     int64     `json:"duration"`
	Resolution   string    `json:"resolution"`
	FPS          int       `json:"fps" validate:"gte=0,lte=240"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Properties is the free-form per-clip property bag. Known keys are
// "opacity" and "speed"; anything else is carried through untouched.
type Properties map[string]any

const (
	PropOpacity = "opacity"
	PropSpeed   = "speed"
)

func (p Properties) Opacity() float64 {
	if v, ok := number(p[PropOpacity]); ok {
		return v
	}
	return 1
}

func (p Properties) Speed() float64 {
	if v, ok := number(p[PropSpeed]); ok && v > 0 {
		return v
	}
	return 1
}

// Merge returns a new bag with patch shallow-merged over p.
func (p Properties) Merge(patch Properties) Properties {
	out := make(Properties, len(p)+len(patch))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

func (p Properties) Clone() Properties {
	return Properties{}.Merge(p)
}

func (p Properties) Validate() error {
	if raw, ok := p[PropOpacity]; ok {
		v, isNum := number(raw)
		if !isNum || v < 0 || v > 1 {
			return Invalid("opacity must be a number in [0,1]")
		}
	}
	if raw, ok := p[PropSpeed]; ok {
		v, isNum := number(raw)
		if !isNum || v <= 0 {
			return Invalid("speed must be a positive number")
		}
	}
	return nil
}

func number(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

type Clip struct {
	ID         string     `json:"id"`
	ProjectID  string     `json:"project_id"`
	TrackIndex int        `json:"track_index"`
	StartTime  int64      `json:"start_time"`
	Duration   int64      `json:"duration"`
	Kind       ClipKind   `json:"clip_type"`
	SourceURL  string     `json:"source_url"`
	TrimStart  int64      `json:"trim_start"`
	TrimEnd    *int64     `json:"trim_end"`
	Properties Properties `json:"properties"`
	CreatedAt  time.Time  `json:"created_at"`
}

// End is the exclusive end of the clip's timeline extent.
func (c *Clip) End() int64 {
	return c.StartTime + c.Duration
}

// ActiveAt reports whether t falls in [start, start+duration).
func (c *Clip) ActiveAt(t int64) bool {
	return t >= c.StartTime && t < c.End()
}

// LocalSourceTime maps global timeline time t to a position inside the source.
func (c *Clip) LocalSourceTime(t int64) float64 {
	return float64(t-c.StartTime)*c.Properties.Speed() + float64(c.TrimStart)
}

func (c *Clip) Clone() *Clip {
	cp := *c
	cp.Properties = c.Properties.Clone()
	if c.TrimEnd != nil {
		v := *c.TrimEnd
		cp.TrimEnd = &v
	}
	return &cp
}

type MediaAsset struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	Kind         ClipKind       `json:"asset_type"`
	Source       string         `json:"source"`
	URL          string         `json:"url"`
	ThumbnailURL string         `json:"thumbnail_url,omitempty"`
	Filename     string         `json:"filename"`
	Duration     *int64         `json:"duration,omitempty"`
	Metadata     map[string]any `json:"metadata"`
	AIJobID      string         `json:"ai_job_id,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

type GenerationJob struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	ProjectID      string         `json:"project_id,omitempty"`
	Provider       string         `json:"provider"`
	JobType        string         `json:"job_type"`
	Prompt         string         `json:"prompt"`
	SourceImageURL string         `json:"source_image_url,omitempty"`
	Parameters     map[string]any `json:"parameters"`
	Status         JobStatus      `json:"status"`
	ProviderJobID  string         `json:"provider_job_id,omitempty"`
	ResultURL      string         `json:"result_url,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
}

// DurationMs is the requested clip length, falling back to the default.
func (j *GenerationJob) DurationMs() int64 {
	if v, ok := number(j.Parameters["duration"]); ok && v > 0 {
		return int64(min(v, MaxGenerationSeconds) * 1000)
	}
	return DefaultGenerationSeconds * 1000
}

func (j *GenerationJob) Clone() *GenerationJob {
	cp := *j
	cp.Parameters = make(map[string]any, len(j.Parameters))
	for k, v := range j.Parameters {
		cp.Parameters[k] = v
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

type ConfigEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func NewID() string {
	return uuid.NewString()
}
