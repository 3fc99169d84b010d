package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/psouza/broadcastd/internal/models"
	"github.com/psouza/broadcastd/internal/storage"
)

const maxJobPayload = 1024 * 1024 // 1MB

type JobHandler struct {
	store storage.Storage
}

func NewJobHandler(store storage.Storage) *JobHandler {
	return &JobHandler{store: store}
}

type createJobRequest struct {
	Name         string                 `json:"name"`
	ScheduledFor *time.Time             `json:"scheduled_for,omitempty"`
	Payload      models.CampaignPayload `json:"payload"`
}

func (h *JobHandler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJobPayload)
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if len(req.Payload.Profile.ConnectionList()) == 0 {
		writeError(w, http.StatusBadRequest, "profile has no gateway connection")
		return
	}
	contacts := models.NormalizeContacts(req.Payload.Contacts)
	if len(contacts) == 0 {
		writeError(w, http.StatusBadRequest, "no dialable contacts in payload")
		return
	}
	if len(req.Payload.Blocks) == 0 {
		writeError(w, http.StatusBadRequest, "payload has no blocks")
		return
	}
	req.Payload.Contacts = contacts

	now := time.Now().UTC()
	job := &models.Job{
		ID:        models.NewID("job"),
		Name:      req.Name,
		Status:    models.JobQueued,
		Payload:   req.Payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.ScheduledFor != nil {
		job.Status = models.JobScheduled
		t := req.ScheduledFor.UTC()
		job.ScheduledFor = &t
	}

	if err := h.store.CreateJob(r.Context(), job); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	f := storage.JobFilter{Limit: limit}
	if s := r.URL.Query().Get("status"); s != "" {
		f.Status = models.JobStatus(s)
	}

	jobs, err := h.store.ListJobs(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []models.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *JobHandler) Pause(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}
	if job.Status.Terminal() {
		writeError(w, http.StatusConflict, "job already finished")
		return
	}

	paused := true
	if err := h.store.PatchJob(r.Context(), job.ID, storage.JobPatch{IsPaused: &paused}); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to pause job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": job.ID, "is_paused": true})
}

func (h *JobHandler) Resume(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}
	if job.Status.Terminal() {
		writeError(w, http.StatusConflict, "job already finished")
		return
	}

	patch := storage.JobPatch{}
	paused := false
	patch.IsPaused = &paused
	if job.Status == models.JobPaused {
		queued := models.JobQueued
		patch.Status = &queued
	}
	if err := h.store.PatchJob(r.Context(), job.ID, patch); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to resume job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": job.ID, "is_paused": false})
}

func (h *JobHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}
	if job.Status == models.JobDone || job.Status == models.JobFailed {
		writeError(w, http.StatusConflict, "job already finished")
		return
	}

	canceled := models.JobCanceled
	if err := h.store.PatchJob(r.Context(), job.ID, storage.JobPatch{Status: &canceled}); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": job.ID, "status": models.JobCanceled})
}

type retryJobRequest struct {
	SkipFailed bool `json:"skip_failed"`
}

// Retry requeues a finished job from the start of its recipient list.
// With skip_failed the worker first folds previously failed addresses
// into the skip set, so only the rest are attempted again.
func (h *JobHandler) Retry(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}
	if !job.Status.Terminal() {
		writeError(w, http.StatusConflict, "job is still active")
		return
	}

	var req retryJobRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	queued := models.JobQueued
	paused := false
	cursor := 0
	patch := storage.JobPatch{
		Status:            &queued,
		IsPaused:          &paused,
		ProgressContactIx: &cursor,
	}
	if req.SkipFailed {
		retry := true
		patch.RetrySkipFailed = &retry
	}
	if err := h.store.PatchJob(r.Context(), job.ID, patch); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to retry job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":          job.ID,
		"status":      models.JobQueued,
		"skip_failed": req.SkipFailed,
	})
}

func (h *JobHandler) Logs(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 2000 {
		limit = 500
	}

	logs, err := h.store.ListLogsByJob(r.Context(), job.ID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list logs")
		return
	}
	if len(logs) == 0 && job.RunID != "" {
		// Older rows may be keyed by run id only.
		logs, err = h.store.ListLogsByRun(r.Context(), job.RunID, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list logs")
			return
		}
	}
	if logs == nil {
		logs = []models.DeliveryLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (h *JobHandler) loadJob(w http.ResponseWriter, r *http.Request) (*models.Job, bool) {
	id := chi.URLParam(r, "id")
	job, err := h.store.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get job")
		return nil, false
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return nil, false
	}
	return job, true
}
