package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clipforge/clipforge/internal/catalog"
	"github.com/clipforge/clipforge/internal/config"
	"github.com/clipforge/clipforge/internal/generation"
	"github.com/clipforge/clipforge/internal/playback"
)

// LocalUser owns records created without an explicit X-Clipforge-User header.
const LocalUser = "local"

const maxBodyBytes = 1 << 20

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist())

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Post("/reconciler/pause", reconcilerPauseHandler(cfg, true))
		r.Post("/reconciler/resume", reconcilerPauseHandler(cfg, false))

		r.Route("/projects", func(r chi.Router) {
			r.Get("/", listProjectsHandler(cfg))
			r.Post("/", createProjectHandler(cfg))
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", getProjectHandler(cfg))
				r.Patch("/", renameProjectHandler(cfg))
				r.Delete("/", deleteProjectHandler(cfg))
				r.Post("/duplicate", duplicateProjectHandler(cfg))

				r.Get("/clips", listClipsHandler(cfg))
				r.Post("/clips", addClipHandler(cfg))
				r.Patch("/clips/{clipID}", updateClipHandler(cfg))
				r.Delete("/clips/{clipID}", deleteClipHandler(cfg))

				r.Get("/session", sessionStateHandler(cfg))
				r.Post("/session", openSessionHandler(cfg))
				r.Delete("/session", closeSessionHandler(cfg))
				r.Post("/session/play", playHandler(cfg))
				r.Post("/session/pause", pauseHandler(cfg))
				r.Post("/session/toggle", toggleHandler(cfg))
				r.Post("/session/seek", seekHandler(cfg))
				r.Post("/session/skip", skipHandler(cfg))
				r.Post("/session/select", selectHandler(cfg))
				r.Post("/session/drag", dragHandler(cfg))
				r.Post("/session/zoom", zoomHandler(cfg))
				r.Post("/session/insert", insertAssetHandler(cfg))

				r.Get("/frame", frameHandler(cfg))
				r.Get("/events", eventsHandler(cfg))
				r.Post("/export", exportHandler(cfg))
			})
		})

		r.Get("/assets", listAssetsHandler(cfg))
		r.Post("/assets", registerAssetHandler(cfg))
		r.Get("/assets/{id}", getAssetHandler(cfg))
		r.Patch("/assets/{id}/metadata", enrichAssetHandler(cfg))
		r.With(LoopbackGuard()).Get("/assets/{id}/media", assetMediaHandler(cfg))
		r.With(LoopbackGuard()).Head("/assets/{id}/media", assetMediaHandler(cfg))

		r.Get("/generations", listGenerationsHandler(cfg))
		r.Post("/generations", createGenerationHandler(cfg))
		r.Get("/generations/{id}", getGenerationHandler(cfg))
	})

	return r
}

func userID(r *http.Request) string {
	if u := r.Header.Get("X-Clipforge-User"); u != "" {
		return u
	}
	return LocalUser
}

// decodeBody decodes a JSON body into dst and validates it. An empty body
// leaves dst at its zero value before validation.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return catalog.Invalid("invalid request body: %v", err)
	}
	return catalog.ValidateStruct(dst)
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: config.Version,
			UptimeS: uptime,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		projects, _ := cfg.CatalogService.ListProjects(ctx, userID(r))
		jobs, _ := cfg.Repository.ListJobs(ctx, userID(r), 10)

		resp := StatusResponse{
			State:         "idle",
			ProjectsCount: len(projects),
			OpenSessions:  []string{},
			ProviderMode:  cfg.ProviderMode,
		}
		if cfg.Sessions != nil {
			resp.OpenSessions = cfg.Sessions.ProjectIDs()
		}
		if cfg.Reconciler != nil {
			resp.JobsGenerating = cfg.Reconciler.PendingCount()
			resp.ReconcilePaused = cfg.Reconciler.IsPaused()
		}

		for _, j := range jobs {
			if j.Status == catalog.JobStatusFailed && resp.LastError == "" {
				resp.LastError = j.ErrorMessage
			}
		}

		switch {
		case resp.ReconcilePaused:
			resp.State = "paused"
		case resp.JobsGenerating > 0:
			resp.State = "generating"
		case resp.LastError != "":
			resp.State = "error"
		}

		// Peek never blocks the request on a tool probe.
		if cfg.Doctor != nil {
			if caps := cfg.Doctor.Peek(); caps != nil {
				resp.Render = &RenderStatusResponse{
					CanRender:   caps.CanRender(),
					FFmpeg:      caps.FFmpeg,
					FFprobe:     caps.FFprobe,
					LastProbeAt: formatTime(caps.ProbedAt),
				}
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func reconcilerPauseHandler(cfg ServerConfig, pause bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Reconciler == nil {
			WriteError(w, http.StatusServiceUnavailable, "reconciler not running", "UNAVAILABLE")
			return
		}
		if pause {
			cfg.Reconciler.Pause()
		} else {
			cfg.Reconciler.Resume()
		}
		WriteJSON(w, http.StatusOK, map[string]bool{"paused": cfg.Reconciler.IsPaused()})
	}
}

func listProjectsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projects, err := cfg.CatalogService.ListProjects(r.Context(), userID(r))
		if err != nil {
			writeErr(w, cfg.Logger, err)
			return
		}
		if projects == nil {
			projects = []*catalog.Project{}
		}
		WriteJSON(w, http.StatusOK, ProjectsResponse{Projects: projects})
	}
}

func createProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req catalog.CreateProjectRequest
		if err := decodeBody(r, &req); err != nil {
			writeErr(w, cfg.Logger, err)
			return
		}
		p, err := cfg.CatalogService.CreateProject(r.Context(), userID(r), req)
		if err != nil {
			writeErr(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusCreated, p)
	}
}

func getProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		// An open session carries the live duration.
		if cfg.Sessions != nil {
			if s, err := cfg.Sessions.Get(id); err == nil {
				WriteJSON(w, http.StatusOK, s.Project())
				return
			}
		}
		p, err := cfg.CatalogService.GetProject(r.Context(), id)
		if err != nil {
			writeErr(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, p)
	}
}

func renameProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RenameProjectRequest
		if err := decodeBody(r, &req); err != nil {
			writeErr(w, cfg.Logger, err)
			return
		}
		p, err := cfg.CatalogService.RenameProject(r.Context(), chi.URLParam(r, "id"), req.Name)
		if err != nil {
			writeErr(w, cfg.Logger, err)
			return
		}
		if cfg.Sessions != nil {
			cfg.Sessions.ProjectRenamed(p.ID, p.Name)
			if s, err := cfg.Sessions.Get(p.ID); err == nil {
				p = s.Project()
			}
		}
		WriteJSON(w, http.StatusOK, p)
	}
}

func deleteProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if cfg.Sessions != nil {
			// Stop the session first so no tick or edit races the delete.
			_ = cfg.Sessions.Close(id)
		}
		if err := cfg.CatalogService.DeleteProject(r.Context(), id); err != nil {
			writeErr(w, cfg.Logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func duplicateProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := cfg.CatalogService.DuplicateProject(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeErr(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusCreated, p)
	}
}

func listAssetsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assets, err := cfg.CatalogService.ListAssets(r.Context(), userID(r))
		if err != nil {
			writeErr(w, cfg.Logger, err)
			return
		}
		if assets == nil {
			assets = []*catalog.MediaAsset{}
		}
		WriteJSON(w, http.StatusOK, AssetsResponse{Assets: assets})
	}
}

func registerAssetHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req catalog.RegisterAssetRequest
		if err := decodeBody(r, &req); err != nil {
			writeErr(w, cfg.Logger, err)
			return
		}
		if cfg.Playback != nil {
			// Local files must live under the media directory to be servable.
			p, err := cfg.Playback.LocalPath(req.URL)
			switch {
			case err == nil:
				req.URL = p
			case !errors.Is(err, playback.ErrRemote):
				writeErr(w, cfg.Logger, err)
				return
			}
		}
		a, err := cfg.CatalogService.RegisterAsset(r.Context(), userID(r), req)
		if err != nil {
			writeErr(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusCreated, a)
	}
}

func getAssetHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := cfg.CatalogService.GetAsset(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeErr(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, a)
	}
}

func enrichAssetHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req EnrichAssetRequest
		if err := decodeBody(r, &req); err != nil {
			writeErr(w, cfg.Logger, err)
			return
		}
		a, err := cfg.CatalogService.EnrichAsset(r.Context(), chi.URLParam(r, "id"), req.Metadata)
		if err != nil {
			writeErr(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, a)
	}
}

func assetMediaHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Playback == nil {
			WriteError(w, http.StatusServiceUnavailable, "media serving disabled", "UNAVAILABLE")
			return
		}
		id := chi.URLParam(r, "id")
		a, err := cfg.CatalogService.GetAsset(r.Context(), id)
		if err != nil {
			writeErr(w, cfg.Logger, err)
			return
		}
		if err := cfg.Playback.ServeAsset(w, r, a); err != nil {
			cfg.Logger.Error("playback error", "error", err, "asset_id", id)
			writeErr(w, cfg.Logger, err)
		}
	}
}

func listGenerationsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				WriteError(w, http.StatusBadRequest, "limit must be a non-negative integer", "BAD_REQUEST")
				return
			}
			limit = n
		}
		jobs, err := cfg.Generations.List(r.Context(), userID(r), limit)
		if err != nil {
			writeErr(w, cfg.Logger, err)
			return
		}
		if jobs == nil {
			jobs = []*catalog.GenerationJob{}
		}
		WriteJSON(w, http.StatusOK, JobsResponse{Jobs: jobs})
	}
}

func createGenerationHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req generation.CreateRequest
		if err := decodeBody(r, &req); err != nil {
			writeErr(w, cfg.Logger, err)
			return
		}
		job, err := cfg.Generations.Create(r.Context(), userID(r), req)
		if err != nil {
			writeErr(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, job)
	}
}

func getGenerationHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := cfg.Generations.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeErr(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, job)
	}
}
