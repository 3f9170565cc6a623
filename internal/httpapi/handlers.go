package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MimeLyc/profile-letterbox/internal/jobs"
	"github.com/MimeLyc/profile-letterbox/internal/service"
	"github.com/MimeLyc/profile-letterbox/internal/sweeper"
	"github.com/MimeLyc/profile-letterbox/pkg/log"
)

type submitRequest struct {
	ProfileURL string `json:"profile_url"`
	SkipVideo  bool   `json:"skip_video"`
}

type cleanupResponse struct {
	Report  sweeper.Report `json:"report"`
	NextRun *time.Time     `json:"next_run,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.queue.List())
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.submit(w, r)
	if !ok {
		return
	}
	w.Header().Set("Location", "/api/jobs/"+job.ID)
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	view, err := s.queue.View(chi.URLParam(r, "id"))
	if err != nil {
		writeJobError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleGetArchive(w http.ResponseWriter, r *http.Request) {
	s.serveArchive(w, r, chi.URLParam(r, "id"))
}

// handleProcessSync submits a job and holds the request until it is terminal.
func (s *Server) handleProcessSync(w http.ResponseWriter, r *http.Request) {
	job, ok := s.submit(w, r)
	if !ok {
		return
	}

	done, err := s.queue.Wait(r.Context(), job.ID)
	if err != nil {
		log.WithComponent("http").Warn("Client left before job %s finished: %v", job.ID, err)
		return
	}
	if done.State == jobs.StateFailed {
		status := http.StatusInternalServerError
		switch done.ErrorKind {
		case service.ErrProfileNotFound.String(), service.ErrNoFilesProcessed.String():
			status = http.StatusNotFound
		}
		writeError(w, status, done.ErrorKind, done.Error)
		return
	}
	s.serveArchive(w, r, job.ID)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if s.sweeper == nil {
		writeError(w, http.StatusNotImplemented, "NotConfigured", "sweeper is not configured")
		return
	}
	report, err := s.sweeper.Sweep(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SweepError", err.Error())
		return
	}
	resp := cleanupResponse{Report: report}
	if next := s.sweeper.NextRun(); next != nil {
		resp.NextRun = &next.Next
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) (*jobs.Job, bool) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, service.ErrInvalidInput.String(), "invalid json body")
		return nil, false
	}
	profile, err := service.ParseProfileRef(req.ProfileURL)
	if err != nil {
		writeError(w, http.StatusBadRequest, service.ErrInvalidInput.String(), err.Error())
		return nil, false
	}

	job, err := s.queue.Enqueue(jobs.EnqueueRequest{
		ProfileRef: req.ProfileURL,
		Profile:    profile,
		SkipVideo:  req.SkipVideo,
	})
	if err != nil {
		writeJobError(w, err, "")
		return nil, false
	}
	log.WithComponent("http").Info("Accepted job %s for profile %s", job.ID, profile)
	return job, true
}

func (s *Server) serveArchive(w http.ResponseWriter, r *http.Request, id string) {
	f, job, err := s.queue.OpenArchive(id)
	if err != nil {
		kind := ""
		if job != nil {
			kind = job.ErrorKind
		}
		writeJobError(w, err, kind)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", service.ArchiveName(job.Profile)))
	http.ServeContent(w, r, filepath.Base(job.ArchivePath), info.ModTime(), f)
}

func writeJobError(w http.ResponseWriter, err error, failedKind string) {
	switch {
	case errors.Is(err, jobs.ErrUnknownJob):
		writeError(w, http.StatusNotFound, "UnknownJob", err.Error())
	case errors.Is(err, jobs.ErrNotReady):
		writeError(w, http.StatusConflict, "NotReady", err.Error())
	case errors.Is(err, jobs.ErrArchiveNotFound):
		writeError(w, http.StatusGone, "ArchiveNotFound", err.Error())
	case errors.Is(err, jobs.ErrJobFailed):
		writeError(w, http.StatusUnprocessableEntity, failedKind, strings.TrimPrefix(err.Error(), jobs.ErrJobFailed.Error()+": "))
	case errors.Is(err, jobs.ErrQueueClosed):
		writeError(w, http.StatusServiceUnavailable, "Unavailable", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "Internal", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	body := map[string]any{
		"error": msg,
	}
	if kind != "" {
		body["kind"] = kind
	}
	writeJSON(w, status, body)
}
