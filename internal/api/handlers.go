// Package api provides HTTP handlers for NewsPipe operator endpoints.
package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/pressfeed/newspipe/internal/models"
	"github.com/pressfeed/newspipe/internal/store"
)

// statusResult aggregates the dispatcher and rate-gate view for GET /api/status.
type statusResult struct {
	Stages []pipelineStageCount `json:"stages"`
	Rate   any                  `json:"rate"`
}

type pipelineStageCount struct {
	Stage   string `json:"stage"`
	Batches int    `json:"batches"`
	Items   int    `json:"items"`
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.statusHandler: processing status request", "path", r.URL.Path)
	counts, err := s.ctrl.StageCounts()
	if err != nil {
		slog.Error("Server.statusHandler: stage counts failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read stage counts"))
		return
	}
	stages := make([]pipelineStageCount, 0, len(counts))
	for _, c := range counts {
		stages = append(stages, pipelineStageCount{Stage: c.Stage, Batches: c.Batches, Items: c.Items})
	}
	writeJSONResponse(w, http.StatusOK, models.Success(statusResult{
		Stages: stages,
		Rate:   s.gate.Stats(r.Context()),
	}))
}

func (s *Server) queuesHandler(w http.ResponseWriter, r *http.Request) {
	counts, err := s.ctrl.StageCounts()
	if err != nil {
		slog.Error("Server.queuesHandler: stage counts failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read stage counts"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(counts))
}

func (s *Server) runQueueHandler(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	slog.Debug("Server.runQueueHandler: manual stage run requested", "stage", name)
	n, err := s.ctrl.RunStage(r.Context(), name)
	if err != nil {
		slog.Warn("Server.runQueueHandler: run failed", "stage", name, "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Stage run complete", map[string]any{
		"stage": name, "processed": n,
	}))
}

func (s *Server) clearQueueHandler(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	slog.Warn("Server.clearQueueHandler: clearing stage queue", "stage", name)
	if err := s.ctrl.ClearStage(name); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Stage queue cleared", map[string]string{"stage": name}))
}

func (s *Server) pauseQueueHandler(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.ctrl.PauseStage(r.Context(), name); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	slog.Info("Server.pauseQueueHandler: stage paused", "stage", name)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Stage paused", map[string]string{"stage": name}))
}

func (s *Server) resumeQueueHandler(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.ctrl.ResumeStage(r.Context(), name); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	slog.Info("Server.resumeQueueHandler: stage resumed", "stage", name)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Stage resumed", map[string]string{"stage": name}))
}

func (s *Server) listNewsHandler(w http.ResponseWriter, r *http.Request) {
	f := store.NewsFilter{Limit: 50}
	if v := r.URL.Query().Get("status"); v != "" {
		f.Status = models.SyncStatus(v)
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid limit"))
			return
		}
		f.Limit = n
	}
	if v := r.URL.Query().Get("since_hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid since_hours"))
			return
		}
		f.CreatedAfter = time.Now().Add(-time.Duration(n) * time.Hour)
	}
	items, err := s.st.ListNews(f)
	if err != nil {
		slog.Error("Server.listNewsHandler: list failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list news items"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(items))
}

func (s *Server) getNewsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid news id"))
		return
	}
	item, err := s.st.GetNewsItem(id)
	if err != nil {
		slog.Error("Server.getNewsHandler: load failed", "id", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load news item"))
		return
	}
	if item == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("News item not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(item))
}

func (s *Server) resyncHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid news id"))
		return
	}
	slog.Info("Server.resyncHandler: resync requested", "id", id)
	n, err := s.ctrl.ResyncNews(r.Context(), id)
	if err != nil {
		slog.Warn("Server.resyncHandler: resync failed", "id", id, "error", err)
		writeJSONResponse(w, http.StatusNotFound, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Resync queued", map[string]any{
		"id": id, "fields": n,
	}))
}
