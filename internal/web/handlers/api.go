package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/kolect-core/internal/debug"
	"github.com/kolect-core/internal/scan"
	"github.com/kolect-core/internal/validation"
)

// Config represents the web server configuration (simplified)
type Config struct {
	Features struct {
		BulkEnabled     bool `json:"bulk_enabled"`
		MatchingEnabled bool `json:"matching_enabled"`
	} `json:"features"`
	Initiatives []string `json:"initiatives"` // names the vision parser accepts
	Debug       bool     `json:"debug"`
}

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error      string            `json:"error"`
	Fields     map[string]string `json:"fields,omitempty"`
	ExistingID string            `json:"existing_id,omitempty"`
	Timeout    bool              `json:"timeout,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		debug.LogError(debug.GetLogger(), "web", "writeJSON", "encode response", nil, err)
	}
}

// writeError maps domain errors onto HTTP statuses
func writeError(w http.ResponseWriter, err error) {
	var (
		validationErr *scan.ValidationError
		duplicateErr  *scan.DuplicateError
		retrievalErr  *scan.RetrievalError
		storageErr    *scan.StorageError
	)

	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Fields: validation.Fields(err)})
	case errors.Is(err, scan.ErrScanNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.As(err, &duplicateErr):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), ExistingID: duplicateErr.ExistingID})
	case errors.Is(err, scan.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error()})
	case errors.As(err, &retrievalErr):
		logFailure(err)
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "storage unavailable", Timeout: retrievalErr.Timeout()})
	case errors.As(err, &storageErr):
		logFailure(err)
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "storage unavailable", Timeout: storageErr.Timeout()})
	default:
		logFailure(err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}

func logFailure(err error) {
	debug.GetLogger().WithFields(logrus.Fields{"error": err.Error()}).Error("request failed")
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &scan.ValidationError{Message: "invalid JSON: " + err.Error()}
	}
	return nil
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &scan.ValidationError{Field: key, Message: "must be an integer"}
	}
	return v, nil
}
