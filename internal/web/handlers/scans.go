package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/kolect-core/internal/classify"
	"github.com/kolect-core/internal/intake"
	"github.com/kolect-core/internal/scan"
	"github.com/kolect-core/internal/vision"
)

// ScanHandler accepts uploaded sheets
type ScanHandler struct {
	Intake     *intake.Service
	Classifier *classify.Classifier
	Config     *Config
}

// submitRequest carries the image (base64 in JSON) and either the raw vision
// response or an already structured estimate
type submitRequest struct {
	CollaboratorID string           `json:"collaborator_id"`
	InitiativeID   *string          `json:"initiative_id,omitempty"`
	ScanType       scan.Type        `json:"scan_type,omitempty"`
	Image          []byte           `json:"image"`
	QualityScore   *float64         `json:"quality_score,omitempty"`
	Analysis       string           `json:"analysis,omitempty"`
	Estimate       *vision.Estimate `json:"estimate,omitempty"`
	SecondOpinion  *vision.Estimate `json:"second_opinion,omitempty"`
}

// Classify runs the doubt rules without storing anything
func (h *ScanHandler) Classify(w http.ResponseWriter, r *http.Request) {
	var metrics scan.Metrics
	if err := decodeJSON(r, &metrics); err != nil {
		writeError(w, err)
		return
	}

	classification := h.Classifier.Classify(metrics)

	body := map[string]interface{}{
		"flagged": classification.Flagged,
		"status":  scan.StatusUnverified,
	}
	if classification.Flagged {
		body["status"] = scan.StatusPending
		body["reason"] = *classification.Reason
		body["description"] = classification.Reason.Description()
	}
	writeJSON(w, http.StatusOK, body)
}

// Submit stores a new scan
func (h *ScanHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	receipt, err := h.Intake.Submit(r.Context(), intake.Submission{
		CollaboratorID: req.CollaboratorID,
		InitiativeID:   req.InitiativeID,
		ScanType:       req.ScanType,
		Image:          req.Image,
		QualityScore:   req.QualityScore,
		Vision:         h.visionResult(req),
		SecondOpinion:  req.SecondOpinion,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (h *ScanHandler) visionResult(req submitRequest) vision.Result {
	switch {
	case strings.TrimSpace(req.Analysis) != "":
		result, err := vision.ParseEstimate(req.Analysis, h.Config.Initiatives)
		if err != nil {
			return vision.Fallback(err)
		}
		return result
	case req.Estimate != nil:
		return vision.OK(*req.Estimate)
	default:
		return vision.Fallback(errors.New("no analysis supplied"))
	}
}
