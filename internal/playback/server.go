// Package playback serves locally stored media assets to the editor with
// byte-range support so browsers and players can seek.
package playback

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/clipforge/clipforge/internal/catalog"
)

// ErrRemote reports that an asset lives at a remote URL and is not served
// from disk.
var ErrRemote = errors.New("asset is not stored locally")

type Server struct {
	mediaDir string
	logger   *slog.Logger
}

// NewServer serves files under mediaDir. Absolute asset paths outside
// mediaDir are refused.
func NewServer(mediaDir string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{mediaDir: filepath.Clean(mediaDir), logger: logger}
}

func (s *Server) MediaDir() string {
	return s.mediaDir
}

// LocalPath resolves an asset locator to a file under the media directory.
// file:// locators and bare paths are accepted; relative paths are taken
// relative to the media directory.
func (s *Server) LocalPath(locator string) (string, error) {
	var p string
	switch {
	case strings.HasPrefix(locator, "http://"), strings.HasPrefix(locator, "https://"):
		return "", ErrRemote
	case strings.HasPrefix(locator, "file://"):
		p = strings.TrimPrefix(locator, "file://")
	default:
		p = locator
	}
	if p == "" {
		return "", catalog.Invalid("empty media path")
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(s.mediaDir, p)
	}
	p = filepath.Clean(p)

	rel, err := filepath.Rel(s.mediaDir, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", catalog.Invalid("media path outside media directory")
	}
	return p, nil
}

// ServeAsset streams a local asset. Remote assets are redirected to their URL.
func (s *Server) ServeAsset(w http.ResponseWriter, r *http.Request, asset *catalog.MediaAsset) error {
	p, err := s.LocalPath(asset.URL)
	if errors.Is(err, ErrRemote) {
		http.Redirect(w, r, asset.URL, http.StatusFound)
		return nil
	}
	if err != nil {
		return err
	}
	return s.ServeFile(w, r, p)
}

func (s *Server) ServeFile(w http.ResponseWriter, r *http.Request, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return catalog.NotFound("media file", filepath.Base(filePath))
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	if stat.IsDir() {
		return catalog.Invalid("media path is a directory")
	}

	size := stat.Size()
	contentType := contentTypeFor(filePath)

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", contentType)

	rng, err := ParseRange(r.Header.Get("Range"), size)
	switch {
	case errors.Is(err, ErrUnsatisfiable):
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	case errors.Is(err, ErrInvalidRange):
		// Malformed ranges are ignored and the whole body is sent.
		rng = nil
	}

	if rng == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			s.copy(w, file, size)
		}
		return nil
	}

	w.Header().Set("Content-Length", strconv.FormatInt(rng.ContentLength(), 10))
	w.Header().Set("Content-Range", rng.ContentRange(size))
	w.WriteHeader(http.StatusPartialContent)

	if r.Method == http.MethodHead {
		return nil
	}
	if _, err := file.Seek(rng.Start, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}
	s.copy(w, file, rng.ContentLength())
	return nil
}

var mediaTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
}

// contentTypeFor prefers a fixed table for media containers, which the
// platform mime database does not always know.
func contentTypeFor(p string) string {
	ext := strings.ToLower(filepath.Ext(p))
	if ct, ok := mediaTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func (s *Server) copy(w io.Writer, r io.Reader, n int64) {
	if _, err := io.CopyN(w, r, n); err != nil && !errors.Is(err, io.EOF) {
		s.logger.Debug("media copy interrupted", "error", err)
	}
}
