package match

import (
	"time"

	"github.com/kolect-core/internal/scan"
)

// Decision is the outcome of matching one validation scan
type Decision string

const (
	DecisionAutoAccept      Decision = "AUTO_ACCEPT"
	DecisionManualReview    Decision = "MANUAL_REVIEW"
	DecisionNoReliableMatch Decision = "NO_RELIABLE_MATCH"
)

// Candidate represents a field-collection scan paired with a validation scan
type Candidate struct {
	Scan      scan.Record `json:"scan"`
	NameScore *int        `json:"name_score,omitempty"` // set by retrieval when a name was supplied
	Score     int         `json:"score"`
	Breakdown Breakdown   `json:"breakdown"`
}

// Breakdown explains how a candidate's score was built
type Breakdown struct {
	Name            float64 `json:"name"`
	NameScore       *int    `json:"name_score,omitempty"`
	Initiative      float64 `json:"initiative"`
	InitiativeMatch bool    `json:"initiative_match"`
	Signatures      float64 `json:"signatures"`
	SignatureDiff   *int    `json:"signature_diff,omitempty"`
	Recency         float64 `json:"recency"`
	AgeDays         int     `json:"age_days"`
}

// Result represents the complete matching result
type Result struct {
	Query          scan.ExtractedData `json:"query"`
	Decision       Decision           `json:"decision"`
	Confidence     int                `json:"confidence"`
	Reason         string             `json:"reason"`
	Match          *Candidate         `json:"match,omitempty"`      // AUTO_ACCEPT
	Suggestion     *Candidate         `json:"suggestion,omitempty"` // MANUAL_REVIEW
	Candidates     []Candidate        `json:"candidates"`           // sorted hi→lo
	Thresholds     map[string]int     `json:"thresholds"`
	ProcessingTime time.Duration      `json:"processing_time"`
}

// Tiers defines the matching confidence tiers
type Tiers struct {
	AutoAccept      int // >= 90
	ManualReview    int // >= 70
	ReviewShortlist int // runner-ups shown with a suggestion (3)
	SearchShortlist int // candidates shown for manual search (5)
}

// DefaultTiers returns the tier thresholds the review backoffice runs with
func DefaultTiers() *Tiers {
	return &Tiers{
		AutoAccept:      90,
		ManualReview:    70,
		ReviewShortlist: 3,
		SearchShortlist: 5,
	}
}

// Weights defines the points each component can contribute. Name,
// Initiative, Signatures and Recency sum to 100.
type Weights struct {
	Name               float64 // 35
	Initiative         float64 // 25
	Signatures         float64 // 25
	SignaturePenalty   float64 // 5 per signature of difference
	SignatureTolerance int     // 2
	Recency            float64 // 15
	RecencyFullDays    int     // 7
	RecencyDecayDays   int     // 30
}

// DefaultWeights returns the recommended component weights
func DefaultWeights() *Weights {
	return &Weights{
		Name:               35,
		Initiative:         25,
		Signatures:         25,
		SignaturePenalty:   5,
		SignatureTolerance: 2,
		Recency:            15,
		RecencyFullDays:    7,
		RecencyDecayDays:   30,
	}
}

// Window bounds the candidate query
type Window struct {
	SignatureTolerance int           // ±2 around the extracted count
	MaxAge             time.Duration // 60 days
	Limit              int           // 20
	MinNameScore       int           // candidates at or below are discarded (40)
}

// DefaultWindow returns the retrieval bounds
func DefaultWindow() *Window {
	return &Window{
		SignatureTolerance: 2,
		MaxAge:             60 * 24 * time.Hour,
		Limit:              20,
		MinNameScore:       40,
	}
}
