package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/izumilab/adskip/internal/engine"
	"github.com/izumilab/adskip/internal/interval"
	"github.com/izumilab/adskip/internal/storage"
	"github.com/izumilab/adskip/internal/videoid"
)

// Controller is the engine surface the API exposes. *engine.Engine
// implements it.
type Controller interface {
	Status() engine.VideoStatus
	CurrentVideo() (videoid.Identity, bool)
	CurrentIntervals() []interval.AdInterval
	Configure(ivs []interval.AdInterval) error
	ManualDetect(ctx context.Context) error
	ManualSkip(ctx context.Context, iv interval.AdInterval, clickTime float64) error
}

type Server struct {
	router chi.Router
	ctrl   Controller
	repo   *storage.Repo
}

func New(ctrl Controller, repo *storage.Repo) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	s := &Server{router: r, ctrl: ctrl, repo: repo}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/status", s.handleStatus)
	s.router.Get("/api/intervals", s.handleGetIntervals)
	s.router.Put("/api/intervals", s.handlePutIntervals)
	s.router.Post("/api/detect", s.handleDetect)
	s.router.Post("/api/skip", s.handleSkip)
	s.router.Get("/api/settings", s.handleGetSettings)
	s.router.Put("/api/settings", s.handlePutSettings)
	s.router.Get("/api/whitelist/uploaders", s.handleListUploaders)
	s.router.Post("/api/whitelist/uploaders", s.handleAddUploader)
	s.router.Delete("/api/whitelist/uploaders/{name}", s.handleRemoveUploader)
	s.router.Get("/api/whitelist/videos", s.handleListVideos)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Video      string `json:"video,omitempty"`
	Kind       string `json:"kind,omitempty"`
	Status     int    `json:"status"`
	StatusText string `json:"statusText"`
	Intervals  int    `json:"intervals"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:     int(s.ctrl.Status()),
		StatusText: s.ctrl.Status().String(),
		Intervals:  len(s.ctrl.CurrentIntervals()),
	}
	if id, ok := s.ctrl.CurrentVideo(); ok {
		resp.Video = id.ID
		resp.Kind = id.Kind.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

type intervalsBody struct {
	Intervals []interval.AdInterval `json:"intervals"`
}

func (s *Server) handleGetIntervals(w http.ResponseWriter, r *http.Request) {
	ivs := s.ctrl.CurrentIntervals()
	writeJSON(w, http.StatusOK, struct {
		Intervals []interval.AdInterval `json:"intervals"`
		Display   string                `json:"display"`
	}{Intervals: ivs, Display: interval.FormatList(ivs)})
}

func (s *Server) handlePutIntervals(w http.ResponseWriter, r *http.Request) {
	var req intervalsBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := interval.Validate(req.Intervals); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.ctrl.Configure(req.Intervals); err != nil {
		if errors.Is(err, engine.ErrNoPlayer) {
			writeError(w, http.StatusConflict, "no active video")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, intervalsBody{Intervals: s.ctrl.CurrentIntervals()})
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.ManualDetect(r.Context()); err != nil {
		if errors.Is(err, engine.ErrNoPlayer) {
			writeError(w, http.StatusConflict, "no active video")
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status:     int(s.ctrl.Status()),
		StatusText: s.ctrl.Status().String(),
		Intervals:  len(s.ctrl.CurrentIntervals()),
	})
}

type skipBody struct {
	Start     float64 `json:"start_time"`
	End       float64 `json:"end_time"`
	ClickTime float64 `json:"click_time"`
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	var req skipBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	iv, err := interval.New(req.Start, req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	err = s.ctrl.ManualSkip(r.Context(), iv, req.ClickTime)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"skipped": true})
	case errors.Is(err, engine.ErrNoPlayer):
		writeError(w, http.StatusConflict, "no active video")
	case errors.Is(err, engine.ErrSkipNotAllowed),
		errors.Is(err, engine.ErrOutsideWindow),
		errors.Is(err, engine.ErrBackwardSkip):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

type settingsBody struct {
	Enabled     *bool `json:"enabled,omitempty"`
	SkipPercent *int  `json:"skipPercent,omitempty"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	enabled := s.repo.Enabled()
	resp := settingsBody{Enabled: &enabled}
	if pct, ok := s.repo.SkipPercent(); ok {
		resp.SkipPercent = &pct
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Enabled != nil {
		if err := s.repo.SetEnabled(*req.Enabled); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	if req.SkipPercent != nil {
		if err := s.repo.SetSkipPercent(*req.SkipPercent); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	s.handleGetSettings(w, r)
}

type uploaderBody struct {
	Name    string `json:"name"`
	Enabled *bool  `json:"enabled,omitempty"`
}

func (s *Server) handleListUploaders(w http.ResponseWriter, r *http.Request) {
	entries, err := s.repo.UploaderWhitelist()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []storage.UploaderEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleAddUploader(w http.ResponseWriter, r *http.Request) {
	var req uploaderBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := s.repo.AddUploader(req.Name); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if req.Enabled != nil && !*req.Enabled {
		if err := s.repo.SetUploaderEnabled(req.Name, false); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	s.handleListUploaders(w, r)
}

func (s *Server) handleRemoveUploader(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.repo.RemoveUploader(name); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.handleListUploaders(w, r)
}

func (s *Server) handleListVideos(w http.ResponseWriter, r *http.Request) {
	entries, err := s.repo.VideoWhitelist()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []storage.WhitelistEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
