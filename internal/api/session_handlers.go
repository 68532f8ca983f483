package api

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/clipforge/clipforge/internal/catalog"
	"github.com/clipforge/clipforge/internal/clock"
	"github.com/clipforge/clipforge/internal/compositor"
	"github.com/clipforge/clipforge/internal/session"
	"github.com/clipforge/clipforge/internal/timeline"
)

const maxFrameWidth = 3840

// openSession returns the project's session, opening it on first use. It
// writes the error response itself and reports false on failure.
func openSession(cfg ServerConfig, w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	if cfg.Sessions == nil {
		WriteError(w, http.StatusServiceUnavailable, "editing sessions unavailable", "UNAVAILABLE")
		return nil, false
	}
	s, err := cfg.Sessions.Open(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, cfg.Logger, err)
		return nil, false
	}
	return s, true
}

func positionResponse(pos clock.Position) PositionResponse {
	return PositionResponse{Time: pos.Time, Timecode: timeline.FormatTime(pos.Time), Playing: pos.Playing}
}

func listClipsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := openSession(cfg, w, r)
		if !ok {
			return
		}
		WriteJSON(w, http.StatusOK, ClipsResponse{Clips: s.Timeline().Clips()})
	}
}

func addClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var spec timeline.ClipSpec
		if err := decodeBody(r, &spec); err != nil {
			writeErr(w, cfg.Logger, err)
			return
		}
		s, ok := openSession(cfg, w, r)
		if !ok {
			return
		}
		c, err := s.AddClip(r.Context(), spec)
		if err != nil {
			writeErr(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusCreated, c)
	}
}

func updateClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch timeline.ClipPatch
		if err := decodeBody(r, &patch); err != nil {
			writeErr(w, cfg.Logger, err)
			return
		}
		s, ok := openSession(cfg, w, r)
		if !ok {
			return
		}
		c, err := s.UpdateClip(r.Context(), chi.URLParam(r, "clipID"), patch)
		if err != nil {
			writeErr(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, c)
	}
}

func deleteClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := openSession(cfg, w, r)
		if !ok {
			return
		}
		if err := s.DeleteClip(r.Context(), chi.URLParam(r, "clipID")); err != nil {
			writeErr(w, cfg.Logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func sessionStateHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Sessions == nil {
			WriteError(w, http.StatusServiceUnavailable, "editing sessions unavailable", "UNAVAILABLE")
			return
		}
		s, err := cfg.Sessions.Get(chi.URLParam(r, "id"))
		if err != nil {
			writeErr(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, s.State())
	}
}

func openSessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := openSession(cfg, w, r)
		if !ok {
			return
		}
		WriteJSON(w, http.StatusOK, s.State())
	}
}

func closeSessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Sessions == nil {
			WriteError(w, http.StatusServiceUnavailable, "editing sessions unavailable", "UNAVAILABLE")
			return
		}
		if err := cfg.Sessions.Close(chi.URLParam(r, "id")); err != nil {
			writeErr(w, cfg.Logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func playHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s, ok := openSession(cfg, w, r); ok {
			WriteJSON(w, http.StatusOK, positionResponse(s.Play()))
		}
	}
}

func pauseHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s, ok := openSession(cfg, w, r); ok {
			WriteJSON(w, http.StatusOK, positionResponse(s.Pause()))
		}
	}
}

func toggleHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s, ok := openSession(cfg, w, r); ok {
			WriteJSON(w, http.StatusOK, positionResponse(s.Toggle()))
		}
	}
}

func seekHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SeekRequest
		if err := decodeBody(r, &req); err != nil {
			writeErr(w, cfg.Logger, err)
			return
		}
		if (req.Time == nil) == (req.X == nil) {
			WriteError(w, http.StatusBadRequest, "exactly one of time or x is required", "BAD_REQUEST")
			return
		}
		s, ok := openSession(cfg, w, r)
		if !ok {
			return
		}
		var pos clock.Position
		if req.Time != nil {
			pos = s.Seek(r.Context(), *req.Time)
		} else {
			pos = s.SeekPixel(r.Context(), *req.X)
		}
		WriteJSON(w, http.StatusOK, positionResponse(pos))
	}
}

func skipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SkipRequest
		if err := decodeBody(r, &req); err != nil {
			writeErr(w, cfg.Logger, err)
			return
		}
		s, ok := openSession(cfg, w, r)
		if !ok {
			return
		}
		var pos clock.Position
		if req.Direction == "back" {
			pos = s.SkipBack(r.Context())
		} else {
			pos = s.SkipForward(r.Context())
		}
		WriteJSON(w, http.StatusOK, positionResponse(pos))
	}
}

func selectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SelectRequest
		if err := decodeBody(r, &req); err != nil {
			writeErr(w, cfg.Logger, err)
			return
		}
		s, ok := openSession(cfg, w, r)
		if !ok {
			return
		}
		if err := s.Select(req.ClipID); err != nil {
			writeErr(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, s.State())
	}
}

func dragHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DragRequest
		if err := decodeBody(r, &req); err != nil {
			writeErr(w, cfg.Logger, err)
			return
		}
		s, ok := openSession(cfg, w, r)
		if !ok {
			return
		}

		switch req.Phase {
		case "begin":
			if err := s.BeginDrag(req.ClipID); err != nil {
				writeErr(w, cfg.Logger, err)
				return
			}
			WriteJSON(w, http.StatusOK, s.State())
		case "move":
			c, err := s.DragTo(r.Context(), req.X)
			if err != nil {
				writeErr(w, cfg.Logger, err)
				return
			}
			WriteJSON(w, http.StatusOK, c)
		default:
			s.EndDrag()
			WriteJSON(w, http.StatusOK, s.State())
		}
	}
}

func zoomHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ZoomRequest
		if err := decodeBody(r, &req); err != nil {
			writeErr(w, cfg.Logger, err)
			return
		}
		if req.Action == "set" && req.Zoom <= 0 {
			WriteError(w, http.StatusBadRequest, "zoom must be positive", "BAD_REQUEST")
			return
		}
		s, ok := openSession(cfg, w, r)
		if !ok {
			return
		}

		var z float64
		switch req.Action {
		case "in":
			z = s.ZoomIn()
		case "out":
			z = s.ZoomOut()
		default:
			z = s.SetZoom(req.Zoom)
		}
		WriteJSON(w, http.StatusOK, ZoomResponse{Zoom: z})
	}
}

func insertAssetHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req InsertAssetRequest
		if err := decodeBody(r, &req); err != nil {
			writeErr(w, cfg.Logger, err)
			return
		}
		asset, err := cfg.CatalogService.GetAsset(r.Context(), req.AssetID)
		if err != nil {
			writeErr(w, cfg.Logger, err)
			return
		}
		s, ok := openSession(cfg, w, r)
		if !ok {
			return
		}
		c, err := s.InsertAsset(r.Context(), asset)
		if err != nil {
			writeErr(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusCreated, c)
	}
}

// frameHandler describes, or with format=png rasterises, the composite at
// t (default: the playhead).
func frameHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		s, ok := openSession(cfg, w, r)
		if !ok {
			return
		}

		t := s.Position().Time
		if v := q.Get("t"); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n < 0 {
				writeErr(w, cfg.Logger, catalog.Invalid("t must be a non-negative integer"))
				return
			}
			t = n
		}

		if q.Get("format") != "png" {
			frame, err := s.RenderAt(r.Context(), t, nil)
			if err != nil {
				writeErr(w, cfg.Logger, err)
				return
			}
			WriteJSON(w, http.StatusOK, frameToResponse(frame))
			return
		}

		width, height, err := frameSize(s.Project().Resolution, q.Get("width"))
		if err != nil {
			writeErr(w, cfg.Logger, err)
			return
		}
		surface := compositor.NewRasterSurface(width, height)
		frame, err := s.RenderAt(r.Context(), t, surface)
		if err != nil {
			writeErr(w, cfg.Logger, err)
			return
		}

		var buf bytes.Buffer
		if err := surface.EncodePNG(&buf); err != nil {
			writeErr(w, cfg.Logger, err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("X-Frame-Time", strconv.FormatInt(frame.Time, 10))
		w.Header().Set("X-Frame-Layers", strconv.Itoa(len(frame.Layers)))
		w.WriteHeader(http.StatusOK)
		w.Write(buf.Bytes())
	}
}

// frameSize scales the project resolution down to the requested width,
// keeping the aspect ratio.
func frameSize(resolution, widthParam string) (int, int, error) {
	width, height, err := compositor.ParseResolution(resolution)
	if err != nil {
		width, height, _ = compositor.ParseResolution(catalog.DefaultResolution)
	}
	if widthParam == "" {
		return width, height, nil
	}
	want, err := strconv.Atoi(widthParam)
	if err != nil || want <= 0 || want > maxFrameWidth {
		return 0, 0, catalog.Invalid("width must be between 1 and %d", maxFrameWidth)
	}
	h := max(height*want/width, 1)
	return want, h, nil
}
