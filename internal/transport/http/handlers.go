package http

import (
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path"
	"time"

	"github.com/blakecragen/cluster/internal/common"
	"github.com/blakecragen/cluster/internal/config"
	"github.com/blakecragen/cluster/internal/dispatch"
	"github.com/blakecragen/cluster/internal/job"
	"github.com/blakecragen/cluster/internal/redis"
	"github.com/blakecragen/cluster/internal/registry"
	"github.com/blakecragen/cluster/internal/storage"
	"github.com/blakecragen/cluster/internal/worker"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const maxUploadSize = 100 << 20 // 100mb

type Handlers struct {
	Engine   *dispatch.Engine
	Registry *registry.Registry
	Redis    *redis.Service // nil in memory mode
	Blobs    storage.BlobStore
	Config   config.Config

	validate *validator.Validate
}

func (h *Handlers) Routers(r chi.Router) {
	if h.validate == nil {
		h.validate = validator.New()
	}

	r.With(httprate.LimitByIP(h.Config.UploadRateLimit, time.Minute)).
		Post("/upload", h.upload)
	r.Post("/claim_job", h.claimJob)
	r.Post("/upload_result/{id}", h.uploadResult)
	r.Get("/download_result/{id}", h.downloadResult)
	r.Post("/mark_collected/{id}", h.markCollected)
	r.Post("/delete_job/{id}", h.deleteJob)
	r.Get("/queue", h.listQueue)
	r.Get("/claimed_jobs", h.claimedJobs)
	r.Post("/purge_all", h.purgeAll)

	r.Post("/register_worker", h.registerWorker)
	r.Post("/heartbeat", h.heartbeat)
	r.Get("/workers", h.listWorkers)

	r.Get("/healthz", h.Health)
}

func (h *Handlers) upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer file.Close()

	prioField := r.FormValue("priority")
	if prioField == "" {
		prioField = "1"
	}
	priority, err := job.ParsePriority(prioField)
	if err != nil {
		writeError(w, http.StatusBadRequest, "priority must be 0, 1, or 2")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		slog.Error("failed to read upload", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read file")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mimetype.Detect(data).String()
	}

	j, err := h.Engine.Submit(r.Context(), header.Filename, data, priority, contentType)
	if err != nil {
		h.writeEngineError(w, "submit", err)
		return
	}

	writeJSON(w, http.StatusCreated, j)
}

func (h *Handlers) claimJob(w http.ResponseWriter, r *http.Request) {
	j, err := h.Engine.Claim(r.Context(), clientIP(r))
	if err != nil {
		h.writeEngineError(w, "claim", err)
		return
	}
	if j == nil {
		writeJSON(w, http.StatusOK, map[string]string{"message": "No jobs in any queue"})
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (h *Handlers) uploadResult(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		slog.Error("failed to read result upload", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read file")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mimetype.Detect(data).String()
	}

	j, err := h.Engine.ReportResult(r.Context(), id, header.Filename, data, contentType)
	if err != nil {
		h.writeEngineError(w, "report result", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":    "Result uploaded for " + id.String(),
		"result_ref": j.ResultRef,
	})
}

func (h *Handlers) downloadResult(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}

	data, resultRef, err := h.Engine.DownloadResult(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, "download result", err)
		return
	}

	w.Header().Set("Content-Type", mimetype.Detect(data).String())
	w.Header().Set("Content-Disposition", "attachment; filename="+path.Base(resultRef))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handlers) markCollected(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}
	if _, err := h.Engine.MarkCollected(r.Context(), id); err != nil {
		h.writeEngineError(w, "mark collected", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Job " + id.String() + " marked as collected.",
	})
}

func (h *Handlers) deleteJob(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}
	if err := h.Engine.DeleteJob(r.Context(), id); err != nil {
		h.writeEngineError(w, "delete job", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Job " + id.String() + " deleted.",
	})
}

func (h *Handlers) listQueue(w http.ResponseWriter, r *http.Request) {
	byPriority, err := h.Engine.ListQueue(r.Context())
	if err != nil {
		h.writeEngineError(w, "list queue", err)
		return
	}

	out := make(map[string][]*job.Job, len(byPriority))
	for p, jobs := range byPriority {
		out["prio"+p.String()] = jobs
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) claimedJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.Engine.ListClaimedOrCompleted(r.Context())
	if err != nil {
		h.writeEngineError(w, "list claimed jobs", err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *Handlers) purgeAll(w http.ResponseWriter, r *http.Request) {
	jobsDeleted, blobsDeleted, err := h.Engine.PurgeAll(r.Context())
	if err != nil {
		h.writeEngineError(w, "purge", err)
		return
	}
	workersDeleted, err := h.Registry.Clear(r.Context())
	if err != nil {
		slog.Warn("failed to clear worker registry during purge", "err", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":         "All jobs, workers, and blobs purged.",
		"jobs_deleted":    jobsDeleted,
		"files_deleted":   blobsDeleted,
		"workers_deleted": workersDeleted,
	})
}

func (h *Handlers) registerWorker(w http.ResponseWriter, r *http.Request) {
	var d worker.Descriptor
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(d); err != nil {
		writeError(w, http.StatusBadRequest, "invalid worker descriptor: "+err.Error())
		return
	}

	reg, err := h.Registry.Register(r.Context(), d)
	if err != nil {
		h.writeEngineError(w, "register worker", err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

func (h *Handlers) heartbeat(w http.ResponseWriter, r *http.Request) {
	var req worker.HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "worker_id is required")
		return
	}

	var at time.Time
	if req.LastHeartbeat != "" {
		t, err := time.Parse(time.RFC3339, req.LastHeartbeat)
		if err != nil {
			writeError(w, http.StatusBadRequest, "last_heartbeat must be RFC3339")
			return
		}
		at = t
	}

	if err := h.Registry.Heartbeat(r.Context(), req.WorkerID, at); err != nil {
		if common.IsNotRegistered(err) {
			writeError(w, http.StatusNotFound, "worker not registered")
			return
		}
		h.writeEngineError(w, "heartbeat", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "ok"})
}

func (h *Handlers) listWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := h.Registry.ListActive(r.Context())
	if err != nil {
		h.writeEngineError(w, "list workers", err)
		return
	}
	writeJSON(w, http.StatusOK, workers)
}

func (h *Handlers) jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handlers) writeEngineError(w http.ResponseWriter, op string, err error) {
	switch {
	case common.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case common.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case common.IsInvalidState(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case common.IsConflict(err):
		writeError(w, http.StatusConflict, err.Error())
	default:
		slog.Error("request failed", "op", op, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// clientIP returns the caller's address without the ephemeral port. RealIP
// middleware rewrites RemoteAddr to a bare IP only for proxied requests;
// direct connections still carry host:port.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
