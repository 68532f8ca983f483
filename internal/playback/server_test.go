package playback

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/clipforge/clipforge/internal/catalog"
)

func newMediaServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "clip.mp4"), []byte("0123456789"), 0o644); err != nil {
		t.Fatalf("write media: %v", err)
	}
	return NewServer(dir, nil), dir
}

func TestServeAsset_FullBody(t *testing.T) {
	s, _ := newMediaServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/media", nil)

	if err := s.ServeAsset(rec, req, &catalog.MediaAsset{URL: "clip.mp4"}); err != nil {
		t.Fatalf("ServeAsset() error = %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "0123456789" {
		t.Errorf("body = %q", rec.Body.String())
	}
	if rec.Header().Get("Accept-Ranges") != "bytes" {
		t.Errorf("missing Accept-Ranges header")
	}
	if rec.Header().Get("Content-Type") != "video/mp4" {
		t.Errorf("Content-Type = %q, want video/mp4", rec.Header().Get("Content-Type"))
	}
}

func TestServeAsset_PartialContent(t *testing.T) {
	s, dir := newMediaServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/media", nil)
	req.Header.Set("Range", "bytes=2-5")

	asset := &catalog.MediaAsset{URL: "file://" + filepath.Join(dir, "clip.mp4")}
	if err := s.ServeAsset(rec, req, asset); err != nil {
		t.Fatalf("ServeAsset() error = %v", err)
	}
	if rec.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", rec.Code)
	}
	if rec.Body.String() != "2345" {
		t.Errorf("body = %q, want 2345", rec.Body.String())
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 2-5/10" {
		t.Errorf("Content-Range = %q", got)
	}
}

func TestServeAsset_Unsatisfiable(t *testing.T) {
	s, _ := newMediaServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/media", nil)
	req.Header.Set("Range", "bytes=50-")

	if err := s.ServeAsset(rec, req, &catalog.MediaAsset{URL: "clip.mp4"}); err != nil {
		t.Fatalf("ServeAsset() error = %v", err)
	}
	if rec.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("status = %d, want 416", rec.Code)
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes */10" {
		t.Errorf("Content-Range = %q", got)
	}
}

func TestServeAsset_RemoteRedirects(t *testing.T) {
	s, _ := newMediaServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/media", nil)

	url := "https://cdn.example/video.mp4"
	if err := s.ServeAsset(rec, req, &catalog.MediaAsset{URL: url}); err != nil {
		t.Fatalf("ServeAsset() error = %v", err)
	}
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != url {
		t.Fatalf("got %d -> %q, want 302 -> %s", rec.Code, rec.Header().Get("Location"), url)
	}
}

func TestServeAsset_Missing(t *testing.T) {
	s, _ := newMediaServer(t)
	err := s.ServeAsset(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil), &catalog.MediaAsset{URL: "gone.mp4"})
	if !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestLocalPath_RejectsEscape(t *testing.T) {
	s, _ := newMediaServer(t)
	for _, locator := range []string{"../secret.mp4", "/etc/passwd", "file:///etc/passwd"} {
		if _, err := s.LocalPath(locator); !errors.Is(err, catalog.ErrValidation) {
			t.Errorf("LocalPath(%q) error = %v, want ErrValidation", locator, err)
		}
	}
}

func TestLocalPath_Remote(t *testing.T) {
	s, _ := newMediaServer(t)
	if _, err := s.LocalPath("http://example.com/a.mp4"); !errors.Is(err, ErrRemote) {
		t.Fatalf("error = %v, want ErrRemote", err)
	}
}
