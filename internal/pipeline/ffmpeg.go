package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/clipforge/clipforge/internal/catalog"
	"github.com/clipforge/clipforge/internal/compositor"
)

// FFmpegRenderer implements compositor.Renderer and catalog.Prober.
type FFmpegRenderer struct {
	cfg     Config
	ffmpeg  string
	ffprobe string
	client  *http.Client

	mu     sync.Mutex
	images map[string]image.Image
}

func NewFFmpegRenderer(cfg Config) (*FFmpegRenderer, error) {
	ffmpeg, err := resolveBinary(cfg.FFmpegPath, "ffmpeg")
	if err != nil {
		return nil, err
	}
	ffprobe, err := resolveBinary(cfg.FFprobePath, "ffprobe")
	if err != nil {
		return nil, err
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("media renderer initialised", "ffmpeg", ffmpeg, "ffprobe", ffprobe)
	}

	return &FFmpegRenderer{
		cfg:     cfg,
		ffmpeg:  ffmpeg,
		ffprobe: ffprobe,
		client:  &http.Client{Timeout: cfg.FrameTimeout},
		images:  make(map[string]image.Image),
	}, nil
}

func (r *FFmpegRenderer) DrawFrame(ctx context.Context, locator string, kind catalog.ClipKind, localSourceTime float64, dst compositor.Surface, opacity float64) error {
	var (
		img image.Image
		err error
	)
	switch kind {
	case catalog.KindVideo:
		img, err = r.videoFrame(ctx, locator, localSourceTime)
	case catalog.KindImage:
		img, err = r.still(ctx, locator)
	case catalog.KindAudio:
		return nil
	default:
		return fmt.Errorf("unsupported clip type %q", kind)
	}
	if err != nil {
		return err
	}
	dst.Blend(img, opacity)
	return nil
}

func (r *FFmpegRenderer) videoFrame(ctx context.Context, locator string, localMs float64) (image.Image, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.FrameTimeout)
	defer cancel()

	if localMs < 0 {
		localMs = 0
	}
	seek := strconv.FormatFloat(localMs/1000, 'f', 3, 64)
	input := locator
	if p, ok := localPath(locator); ok {
		input = p
	}

	result := run(ctx, r.cfg.Logger, r.ffmpeg,
		"-v", "error",
		"-ss", seek,
		"-i", input,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-",
	)
	if err := result.Err("ffmpeg"); err != nil {
		return nil, err
	}
	if len(result.Stdout) == 0 {
		return nil, fmt.Errorf("no frame at %ss in %s", seek, safePath(locator, r.cfg.DebugPaths))
	}
	return png.Decode(bytes.NewReader(result.Stdout))
}

// still decodes an image once and serves it from memory afterwards.
func (r *FFmpegRenderer) still(ctx context.Context, locator string) (image.Image, error) {
	r.mu.Lock()
	img, ok := r.images[locator]
	r.mu.Unlock()
	if ok {
		return img, nil
	}

	img, err := loadImage(ctx, r.client, locator)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if len(r.images) >= maxImageCache {
		for k := range r.images {
			delete(r.images, k)
			break
		}
	}
	r.images[locator] = img
	r.mu.Unlock()
	return img, nil
}

func loadImage(ctx context.Context, client *http.Client, locator string) (image.Image, error) {
	var rc io.ReadCloser
	if p, ok := localPath(locator); ok {
		f, err := os.Open(p)
		if err != nil {
			return nil, err
		}
		rc = f
	} else {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("fetch %s: status %d", locator, resp.StatusCode)
		}
		rc = resp.Body
	}
	defer rc.Close()

	img, _, err := image.Decode(rc)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

type ProbeResult struct {
	DurationMs int64
	Width      int
	Height     int
	Codec      string
	FrameRate  float64
	AudioCodec string
}

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		Duration     string `json:"duration"`
	} `json:"streams"`
}

func (r *FFmpegRenderer) Probe(ctx context.Context, locator string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout)
	defer cancel()

	input := locator
	if p, ok := localPath(locator); ok {
		input = p
	}
	result := run(ctx, r.cfg.Logger, r.ffprobe,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		input,
	)
	if err := result.Err("ffprobe"); err != nil {
		return nil, err
	}
	return parseProbe(result.Stdout)
}

// ProbeDuration implements catalog.Prober.
func (r *FFmpegRenderer) ProbeDuration(ctx context.Context, locator string) (int64, error) {
	res, err := r.Probe(ctx, locator)
	if err != nil {
		return 0, err
	}
	return res.DurationMs, nil
}

func parseProbe(data []byte) (*ProbeResult, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("cannot parse ffprobe JSON: %w", err)
	}

	res := &ProbeResult{DurationMs: seconds(out.Format.Duration)}
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if res.Codec != "" {
				continue
			}
			res.Codec = s.CodecName
			res.Width = s.Width
			res.Height = s.Height
			res.FrameRate = ratio(s.AvgFrameRate)
			if res.DurationMs == 0 {
				res.DurationMs = seconds(s.Duration)
			}
		case "audio":
			if res.AudioCodec == "" {
				res.AudioCodec = s.CodecName
			}
			if res.DurationMs == 0 {
				res.DurationMs = seconds(s.Duration)
			}
		}
	}
	return res, nil
}

func seconds(s string) int64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 || math.IsInf(v, 0) {
		return 0
	}
	return int64(math.Round(v * 1000))
}

func ratio(s string) float64 {
	n, d, ok := strings.Cut(s, "/")
	if !ok {
		return 0
	}
	num, err1 := strconv.ParseFloat(n, 64)
	den, err2 := strconv.ParseFloat(d, 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}
