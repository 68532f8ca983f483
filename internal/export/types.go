// Package export writes a project timeline as a CMX3600 edit decision list.
package export

const FormatEDL = "edl"

type Request struct {
	Format    string  `json:"format" validate:"omitempty,oneof=edl"`
	Track     *int    `json:"track_index,omitempty"`
	FrameRate float64 `json:"frame_rate" validate:"gte=0,lte=240"`
	OutputDir string  `json:"output_dir" validate:"required"`
}

// Event is one EDL line. Record times are timeline positions; source times
// are positions inside the clip's media.
type Event struct {
	ClipID    string
	ClipName  string
	MediaPath string
	Channel   string // "V" or "A"
	SourceIn  int64
	SourceOut int64
	RecordIn  int64
	RecordOut int64
}

type Response struct {
	Status     string   `json:"status"`
	Format     string   `json:"format"`
	OutputPath string   `json:"output_path"`
	EventCount int      `json:"event_count"`
	Skipped    []string `json:"skipped_clips"`
}
