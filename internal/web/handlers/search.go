package handlers

import (
	"net/http"

	"github.com/kolect-core/internal/audit"
	"github.com/kolect-core/internal/debug"
	"github.com/kolect-core/internal/match"
	"github.com/kolect-core/internal/scan"
	"github.com/kolect-core/internal/web/middleware"
)

// MatchingHandler links validation-batch sheets to field scans
type MatchingHandler struct {
	Engine  *match.Engine
	Tracker *audit.Tracker
	Config  *Config
}

// Candidates returns the raw candidate window, unscored
func (h *MatchingHandler) Candidates(w http.ResponseWriter, r *http.Request) {
	var extracted scan.ExtractedData
	if err := decodeJSON(r, &extracted); err != nil {
		writeError(w, err)
		return
	}
	if err := match.ValidateInput(extracted); err != nil {
		writeError(w, err)
		return
	}

	candidates, err := h.Engine.Finder().FindCandidates(r.Context(), h.Config.Debug, extracted)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"candidates": candidates,
		"count":      len(candidates),
	})
}

// Match scores candidates and returns a decision
func (h *MatchingHandler) Match(w http.ResponseWriter, r *http.Request) {
	var extracted scan.ExtractedData
	if err := decodeJSON(r, &extracted); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.Engine.Match(r.Context(), h.Config.Debug, extracted)
	if err != nil {
		writeError(w, err)
		return
	}

	if h.Tracker != nil {
		actor := middleware.ReviewerID(r.Context())
		if actor == "" {
			actor = "api"
		}
		if err := h.Tracker.RecordMatch(r.Context(), h.Config.Debug, actor, result); err != nil {
			debug.LogError(debug.GetLogger(), "web", "Match", "record match decision", result.Decision, err)
		}
	}
	writeJSON(w, http.StatusOK, result)
}

// Batch matches many sheets; one bad sheet does not fail the others
func (h *MatchingHandler) Batch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Sheets []scan.ExtractedData `json:"sheets"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Sheets) == 0 {
		writeError(w, &scan.ValidationError{Field: "sheets", Message: "must not be empty"})
		return
	}

	items := h.Engine.MatchBatch(r.Context(), h.Config.Debug, req.Sheets)

	summary := map[match.Decision]int{}
	failed := 0
	for _, item := range items {
		if item.Result == nil {
			failed++
			continue
		}
		summary[item.Result.Decision]++
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": items,
		"summary": summary,
		"failed":  failed,
	})
}
