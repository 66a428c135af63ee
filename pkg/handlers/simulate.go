package handlers

import (
	"context"
	"net/http"

	"github.com/kacperjurak/cxtfit/pkg/models"
	"github.com/sirupsen/logrus"
)

// Simulator runs one synchronous simulation, see processing.FitProcessor.
type Simulator interface {
	Simulate(ctx context.Context, req models.SimulateRequest) (*models.SimulateResponse, error)
}

// SimulateHandler handles synchronous simulation requests
type SimulateHandler struct {
	simulator Simulator
	log       logrus.FieldLogger
}

// NewSimulateHandler creates a new simulation handler
func NewSimulateHandler(sim Simulator, log logrus.FieldLogger) *SimulateHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &SimulateHandler{simulator: sim, log: log}
}

// ServeHTTP implements the http.Handler interface
func (h *SimulateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setupCORS(w, "POST, OPTIONS")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, h.log, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req models.SimulateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.log, "Invalid JSON format: "+err.Error(), http.StatusBadRequest)
		return
	}

	// the client going away cancels the integration
	resp, err := h.simulator.Simulate(r.Context(), req)
	if err != nil {
		h.log.WithError(err).Info("simulation failed")
		writeError(w, h.log, err.Error(), statusOf(err))
		return
	}

	h.log.WithFields(logrus.Fields{
		"steps":      resp.Stats.Steps,
		"runtime_ms": resp.RuntimeMs,
	}).Debug("simulation finished")
	writeJSON(w, h.log, resp, http.StatusOK)
}
