package api

import (
	"net/http"
	"strings"

	"github.com/clipforge/clipforge/internal/export"
)

func exportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req export.Request
		if err := decodeBody(r, &req); err != nil {
			writeErr(w, cfg.Logger, err)
			return
		}
		if f := strings.ToLower(req.Format); f != "" && f != export.FormatEDL {
			WriteError(w, http.StatusBadRequest, "format must be edl", "BAD_REQUEST")
			return
		}
		if err := export.ValidateOutputDir(req.OutputDir); err != nil {
			writeErr(w, cfg.Logger, err)
			return
		}

		s, ok := openSession(cfg, w, r)
		if !ok {
			return
		}
		project := s.Project()

		track := 0
		if req.Track != nil {
			track = *req.Track
		}
		events, skipped := export.FromTimeline(s.Timeline().Clips(), track)
		if len(events) == 0 {
			WriteError(w, http.StatusUnprocessableEntity, "track has no exportable clips", "EMPTY_TRACK")
			return
		}

		frameRate := req.FrameRate
		if frameRate <= 0 {
			frameRate = float64(project.FPS)
		}
		title := export.SanitizeName(project.Name, 120)
		if title == "" {
			title = "clipforge_export"
		}

		edl := export.GenerateEDL(events, title, frameRate)
		outputPath, err := export.WriteFile(req.OutputDir, title, ".edl", edl)
		if err != nil {
			cfg.Logger.Error("failed to write export file", "error", err, "project_id", project.ID)
			WriteError(w, http.StatusInternalServerError, "failed to write export file", "INTERNAL_ERROR")
			return
		}
		if skipped == nil {
			skipped = []string{}
		}

		cfg.Logger.Info("timeline exported", "project_id", project.ID, "events", len(events), "skipped", len(skipped))
		WriteJSON(w, http.StatusOK, export.Response{
			Status:     "ok",
			Format:     export.FormatEDL,
			OutputPath: outputPath,
			EventCount: len(events),
			Skipped:    skipped,
		})
	}
}

