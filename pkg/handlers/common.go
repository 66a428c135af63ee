package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kacperjurak/cxtfit"
	"github.com/sirupsen/logrus"
)

// maxBodyBytes limits request bodies, measured curves are rarely above a few MB.
const maxBodyBytes = 32 << 20

// setupCORS sets up CORS headers
func setupCORS(w http.ResponseWriter, methods string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", methods)
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// decodeJSON reads the request body into v and rejects unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// writeJSON writes v with the given status code
func writeJSON(w http.ResponseWriter, log logrus.FieldLogger, v interface{}, statusCode int) {
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("writing response")
	}
}

// writeError writes an error response
func writeError(w http.ResponseWriter, log logrus.FieldLogger, message string, statusCode int) {
	writeJSON(w, log, map[string]string{"error": message}, statusCode)
}

// statusOf maps solver errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, cxtfit.ErrInvalidInput), errors.Is(err, cxtfit.ErrInvalidConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, cxtfit.ErrAllocation):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, cxtfit.ErrCanceled):
		return http.StatusServiceUnavailable
	case errors.Is(err, cxtfit.ErrIntegration), errors.Is(err, cxtfit.ErrSolverSetup):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
