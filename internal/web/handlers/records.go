package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/kolect-core/internal/audit"
	"github.com/kolect-core/internal/scan"
	"github.com/kolect-core/internal/verify"
	"github.com/kolect-core/internal/web/middleware"
)

// VerificationHandler serves the review queue and reviewer decisions
type VerificationHandler struct {
	Service *verify.Service
	Tracker *audit.Tracker
	Config  *Config
}

// rejectRequest is the body of a rejection
type rejectRequest struct {
	Notes string `json:"notes"`
}

// bulkRequest is the body of a bulk decision
type bulkRequest struct {
	ScanIDs []string `json:"scan_ids"`
	Status  string   `json:"status"`
	Notes   string   `json:"notes"`
}

// Pending lists scans awaiting review
func (h *VerificationHandler) Pending(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, err)
		return
	}

	var reason *scan.DoubtReason
	if raw := strings.TrimSpace(r.URL.Query().Get("reason")); raw != "" {
		parsed := scan.DoubtReason(strings.ToUpper(raw))
		if parsed.Description() == "" {
			writeError(w, &scan.ValidationError{Field: "reason", Message: "unknown doubt reason"})
			return
		}
		reason = &parsed
	}

	page, err := h.Service.Pending(r.Context(), reason, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// Approve records an approval with the reviewer's corrected values
func (h *VerificationHandler) Approve(w http.ResponseWriter, r *http.Request) {
	var correction verify.Correction
	if err := decodeJSON(r, &correction); err != nil {
		writeError(w, err)
		return
	}

	outcome, err := h.Service.Approve(r.Context(), mux.Vars(r)["id"], correction, middleware.ReviewerID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// Reject records a rejection; an empty body is allowed
func (h *VerificationHandler) Reject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, &scan.ValidationError{Message: "invalid JSON: " + err.Error()})
		return
	}

	outcome, err := h.Service.Reject(r.Context(), mux.Vars(r)["id"], middleware.ReviewerID(r.Context()), req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// Bulk applies one decision to many scans
func (h *VerificationHandler) Bulk(w http.ResponseWriter, r *http.Request) {
	if !h.Config.Features.BulkEnabled {
		writeJSON(w, http.StatusForbidden, ErrorResponse{Error: "bulk decisions are disabled"})
		return
	}

	var req bulkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	status, ok := scan.ParseStatus(req.Status)
	if !ok {
		writeError(w, &scan.ValidationError{Field: "status", Message: "must be APPROVED or REJECTED"})
		return
	}

	result, err := h.Service.BulkDecide(r.Context(), req.ScanIDs, status, req.Notes, middleware.ReviewerID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Stats summarises the queue
func (h *VerificationHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Service.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	reasons := make(map[string]interface{}, len(scan.AllDoubtReasons))
	for _, reason := range scan.AllDoubtReasons {
		reasons[string(reason)] = map[string]interface{}{
			"count":       stats.ByReason[reason],
			"description": reason.Description(),
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"unverified": stats.Unverified,
		"pending":    stats.Pending,
		"approved":   stats.Approved,
		"rejected":   stats.Rejected,
		"total":      stats.Total(),
		"by_reason":  reasons,
	})
}

// History returns the activity log of one scan
func (h *VerificationHandler) History(w http.ResponseWriter, r *http.Request) {
	history, err := h.Tracker.History(r.Context(), h.Config.Debug, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, &scan.RetrievalError{Op: "history", Err: err})
		return
	}
	writeJSON(w, http.StatusOK, history)
}
