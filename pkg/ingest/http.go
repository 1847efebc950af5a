package ingest

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/gitrewind/platform/pkg/common/logger"
	"github.com/gitrewind/platform/pkg/common/models"
	"github.com/gitrewind/platform/pkg/replay"
)

type HTTPHandler struct {
	service *Service
	maxBody int64
}

func NewHTTPHandler(service *Service, maxBody int64) *HTTPHandler {
	return &HTTPHandler{service: service, maxBody: maxBody}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/ingest", h.handleIngest).Methods(http.MethodPost)
	router.HandleFunc("/ingest/status/{id}", h.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/ingest/retries/sweep", h.handleSweep).Methods(http.MethodPost)
	router.HandleFunc("/ingest/retries/stats", h.handleStats).Methods(http.MethodGet)
}

func (h *HTTPHandler) handleIngest(w http.ResponseWriter, r *http.Request) {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}

	var req models.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Log.WithError(err).Warn("invalid ingestion payload")
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	job, err := h.service.Enqueue(r.Context(), req.URL)
	if err != nil {
		if IsValidationError(err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.Log.WithError(err).Error("failed to enqueue ingestion")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(models.IngestResponse{
		JobID:     job.JobID,
		Status:    job.Status,
		Timestamp: time.Now().UTC(),
	})
}

func (h *HTTPHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	job, err := h.service.JobStatus(r.Context(), id)
	if err != nil {
		if errors.Is(err, replay.ErrNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("failed to fetch job status")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toStatusResponse(job))
}

func (h *HTTPHandler) handleSweep(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.RetryFailedJobs(r.Context())
	if err != nil {
		logger.Log.WithError(err).Error("retry sweep failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"retried": n})
}

func (h *HTTPHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.RetryStats(r.Context())
	if err != nil {
		logger.Log.WithError(err).Error("failed to aggregate retry stats")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

func toStatusResponse(job *replay.IngestJob) models.JobStatusResponse {
	resp := models.JobStatusResponse{
		JobID:            job.JobID,
		URL:              job.URL,
		Status:           job.Status,
		Progress:         job.Progress,
		RepoID:           job.RepoID,
		TotalCommits:     job.TotalCommits,
		ProcessedCommits: job.ProcessedCommits,
		RetryCount:       job.RetryCount,
		CreatedAt:        job.CreatedAt,
		UpdatedAt:        job.UpdatedAt,
	}
	if job.LastError != nil {
		resp.Error = *job.LastError
	}
	if job.FileCounts != nil {
		resp.FileCounts = map[string]interface{}(job.FileCounts)
	}
	return resp
}
