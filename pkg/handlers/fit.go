package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/kacperjurak/cxtfit/internal/utils"
	"github.com/kacperjurak/cxtfit/pkg/models"
	"github.com/kacperjurak/cxtfit/pkg/worker"
	"github.com/sirupsen/logrus"
)

// FitHandler accepts single fit jobs and reports their status.
//
//	POST   /fit       queue a fit, the result is sent to the webhook
//	GET    /fit/{id}  job state and, once finished, its report
//	DELETE /fit/{id}  forget a job
type FitHandler struct {
	workerPool *worker.Pool
	log        logrus.FieldLogger
}

// NewFitHandler creates a new fit handler
func NewFitHandler(pool *worker.Pool, log logrus.FieldLogger) *FitHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &FitHandler{workerPool: pool, log: log}
}

// ServeHTTP implements the http.Handler interface
func (h *FitHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setupCORS(w, "GET, POST, DELETE, OPTIONS")

	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/fit"), "/")
	switch {
	case r.Method == http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPost && id == "":
		h.submit(w, r)
	case r.Method == http.MethodGet && id != "":
		h.status(w, id)
	case r.Method == http.MethodDelete && id != "":
		h.forget(w, id)
	default:
		writeError(w, h.log, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *FitHandler) submit(w http.ResponseWriter, r *http.Request) {
	var req models.FitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.log, "Invalid JSON format: "+err.Error(), http.StatusBadRequest)
		return
	}
	if msg := validateFit(req); msg != "" {
		writeError(w, h.log, msg, http.StatusBadRequest)
		return
	}

	if req.ID == "" {
		req.ID = utils.GenerateID()
	}
	if _, exists := h.workerPool.Status(req.ID); exists {
		writeError(w, h.log, "Job "+req.ID+" already exists", http.StatusConflict)
		return
	}

	err := h.workerPool.SubmitJob(models.WorkItem{
		RequestID: req.ID,
		Request:   req,
		StartTime: time.Now(),
	})
	if errors.Is(err, worker.ErrPoolClosed) {
		writeError(w, h.log, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	h.log.WithFields(logrus.Fields{
		"request": req.ID,
		"fit":     req.Fit,
		"points":  len(req.Measured.T),
	}).Info("fit queued")

	writeJSON(w, h.log, map[string]interface{}{
		"success":    true,
		"request_id": req.ID,
		"message":    "Fit queued",
	}, http.StatusAccepted)
}

func (h *FitHandler) status(w http.ResponseWriter, id string) {
	st, ok := h.workerPool.Status(id)
	if !ok {
		writeError(w, h.log, "Unknown job "+id, http.StatusNotFound)
		return
	}
	writeJSON(w, h.log, st, http.StatusOK)
}

func (h *FitHandler) forget(w http.ResponseWriter, id string) {
	st, ok := h.workerPool.Status(id)
	if !ok {
		writeError(w, h.log, "Unknown job "+id, http.StatusNotFound)
		return
	}
	if st.State == models.JobQueued || st.State == models.JobRunning {
		writeError(w, h.log, "Job "+id+" is still "+string(st.State), http.StatusConflict)
		return
	}
	h.workerPool.Forget(id)
	w.WriteHeader(http.StatusNoContent)
}

// validateFit checks what can be rejected before a worker picks the job up.
func validateFit(req models.FitRequest) string {
	switch {
	case req.ID != "" && !utils.ValidID(req.ID):
		return "Invalid id, use letters, digits, '-', '_' or '.'"
	case len(req.Fit) == 0:
		return "No parameters selected for fitting"
	case len(req.Measured.T) < 2 || len(req.Measured.T) != len(req.Measured.C):
		return "Measured curve needs at least two points with matching t and c"
	}
	return ""
}
