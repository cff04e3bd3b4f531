package scan

import (
	"strings"
	"time"
)

// Type distinguishes field-collected sheets from batch-uploaded validation sheets
type Type string

const (
	TypeFieldCollection Type = "FIELD_COLLECTION"
	TypeValidationBatch Type = "VALIDATION_BATCH"
)

// Status is the verification lifecycle state of a scan
type Status string

const (
	StatusUnverified Status = "UNVERIFIED"
	StatusPending    Status = "PENDING"
	StatusApproved   Status = "APPROVED"
	StatusRejected   Status = "REJECTED"
)

// IsTerminal reports whether the status is a reviewer decision
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// ParseStatus accepts either case ("approved", "APPROVED")
func ParseStatus(raw string) (Status, bool) {
	switch Status(strings.ToUpper(strings.TrimSpace(raw))) {
	case StatusUnverified:
		return StatusUnverified, true
	case StatusPending:
		return StatusPending, true
	case StatusApproved:
		return StatusApproved, true
	case StatusRejected:
		return StatusRejected, true
	}
	return "", false
}

// CanTransition encodes the verification state machine.
//
//	UNVERIFIED -> PENDING | APPROVED | REJECTED
//	PENDING    -> APPROVED | REJECTED
//	APPROVED   -> APPROVED | REJECTED   (re-review, latest decision wins)
//	REJECTED   -> APPROVED | REJECTED
//
// Nothing ever moves back to UNVERIFIED, and only unreviewed scans can be flagged.
func CanTransition(from, to Status) bool {
	switch to {
	case StatusApproved, StatusRejected:
		return from == StatusUnverified || from == StatusPending || from.IsTerminal()
	case StatusPending:
		return from == StatusUnverified || from == StatusPending
	}
	return false
}

// DoubtReason explains why a scan was flagged for manual review
type DoubtReason string

const (
	DoubtLowConfidence     DoubtReason = "LOW_CONFIDENCE"
	DoubtTooManySignatures DoubtReason = "TOO_MANY_SIGNATURES"
	DoubtPoorQuality       DoubtReason = "POOR_QUALITY"
	DoubtTooFewSignatures  DoubtReason = "TOO_FEW_SIGNATURES"
	DoubtNullSignatures    DoubtReason = "NULL_SIGNATURES"
)

// AllDoubtReasons lists reasons in classifier priority order
var AllDoubtReasons = []DoubtReason{
	DoubtLowConfidence,
	DoubtTooManySignatures,
	DoubtPoorQuality,
	DoubtTooFewSignatures,
	DoubtNullSignatures,
}

// Description is the text shown next to a flagged scan in the review queue
func (r DoubtReason) Description() string {
	switch r {
	case DoubtLowConfidence:
		return "Vision analysis confidence below threshold"
	case DoubtTooManySignatures:
		return "Signature count unusually high for one sheet"
	case DoubtPoorQuality:
		return "Image quality too poor for a reliable count"
	case DoubtTooFewSignatures:
		return "Signature count unusually low"
	case DoubtNullSignatures:
		return "No signature count available"
	}
	return ""
}

// Record is a single submitted signature-sheet analysis
type Record struct {
	ID               string       `json:"id"`
	CollaboratorID   string       `json:"collaborator_id"`
	CollaboratorName string       `json:"collaborator_name,omitempty"` // derived full name, read only
	InitiativeID     *string      `json:"initiative_id,omitempty"`
	InitiativeName   string       `json:"initiative_name"`
	ValidSignatures  *int         `json:"valid_signatures"`
	InvalidSigs      *int         `json:"invalid_signatures"`
	TotalSignatures  *int         `json:"total_signatures"`
	ConfidenceScore  float64      `json:"confidence_score"`
	QualityScore     *float64     `json:"quality_score,omitempty"`
	ScanType         Type         `json:"scan_type"`
	Status           Status       `json:"verification_status"`
	DoubtReason      *DoubtReason `json:"doubt_reason,omitempty"`
	ImageHash        string       `json:"image_hash"`
	AnalysisMethod   string       `json:"analysis_method,omitempty"`
	Notes            string       `json:"notes,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	DeletedAt        *time.Time   `json:"deleted_at,omitempty"`
}

// CheckCounts reports whether valid + invalid == total. Unknown counts are not a violation.
func (r *Record) CheckCounts() bool {
	if r.ValidSignatures == nil || r.InvalidSigs == nil || r.TotalSignatures == nil {
		return true
	}
	return *r.ValidSignatures+*r.InvalidSigs == *r.TotalSignatures
}

// Metrics extracts the inputs the confidence classifier looks at
func (r *Record) Metrics() Metrics {
	return Metrics{
		TotalSignatures: r.TotalSignatures,
		ConfidenceScore: r.ConfidenceScore,
		QualityScore:    r.QualityScore,
	}
}

// Metrics is the classifier view of a scan
type Metrics struct {
	TotalSignatures *int     `json:"total_signatures"`
	ConfidenceScore float64  `json:"confidence_score"`
	QualityScore    *float64 `json:"quality_score,omitempty"`
}

// Verification is the single reviewer decision attached to a scan
type Verification struct {
	ScanID              string       `json:"scan_id"`
	ReviewerID          string       `json:"reviewer_id"`
	OriginalSignatures  *int         `json:"original_signatures"`
	CorrectedSignatures *int         `json:"corrected_signatures"`
	OriginalInitiative  string       `json:"original_initiative"`
	CorrectedInitiative string       `json:"corrected_initiative"`
	Status              Status       `json:"status"`
	ReviewerNotes       string       `json:"reviewer_notes"`
	DoubtReason         *DoubtReason `json:"doubt_reason,omitempty"`
	DecidedAt           time.Time    `json:"decided_at"`
}

// ExtractedData holds the fields read off a validation-batch sheet
type ExtractedData struct {
	CollaboratorName string `json:"collaborator_name,omitempty"`
	Initiative       string `json:"initiative"`
	TotalSignatures  int    `json:"total_signatures"`
}

// IntPtr is a small helper for optional counts
func IntPtr(v int) *int {
	return &v
}

// FloatPtr is a small helper for optional scores
func FloatPtr(v float64) *float64 {
	return &v
}
