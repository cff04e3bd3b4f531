// Package vision models what the external signature-counting service returns.
// The service itself is opaque; only its output shape and confidence range matter here.
package vision

import (
	"math"
)

const (
	// Undetermined is used when the sheet's initiative cannot be identified
	Undetermined = "Indéterminé"
	// NoInitiative marks an empty sheet
	NoInitiative = "Aucune"
	// FallbackConfidence is assigned to estimates that could not be trusted as-is
	FallbackConfidence = 0.5
)

// Estimate is the structured output of one sheet analysis. Counts are nil when
// the service did not report them, which is not the same as zero.
type Estimate struct {
	ValidSignatures   *int    `json:"valid_signatures"`
	InvalidSignatures *int    `json:"invalid_signatures"`
	EmptyLines        *int    `json:"empty_lines,omitempty"`
	Confidence        float64 `json:"confidence"`
	Initiative        string  `json:"initiative"`
	Notes             string  `json:"notes,omitempty"`
	AnalysisMethod    string  `json:"analysis_method,omitempty"`
}

// Total is valid + invalid, or nil if either is unknown
func (e Estimate) Total() *int {
	if e.ValidSignatures == nil || e.InvalidSignatures == nil {
		return nil
	}
	total := *e.ValidSignatures + *e.InvalidSignatures
	return &total
}

// Kind tags a Result
type Kind string

const (
	KindOK       Kind = "ok"
	KindDegraded Kind = "degraded"
)

// Result is either a trusted estimate or a degraded one carrying the reason
type Result struct {
	Kind     Kind     `json:"kind"`
	Estimate Estimate `json:"estimate"`
	Err      error    `json:"-"`
	Error    string   `json:"error,omitempty"`
}

// OK wraps a trusted estimate
func OK(estimate Estimate) Result {
	return Result{Kind: KindOK, Estimate: estimate}
}

// Degraded wraps a best-effort estimate together with what went wrong
func Degraded(estimate Estimate, err error) Result {
	r := Result{Kind: KindDegraded, Estimate: estimate, Err: err}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// Fallback is the result recorded when the service failed outright. Counts
// stay unknown so the scan is routed to a reviewer.
func Fallback(err error) Result {
	notes := "vision analysis unavailable"
	if err != nil {
		notes = "vision analysis failed: " + err.Error()
	}
	return Degraded(Estimate{
		Confidence:     FallbackConfidence,
		Initiative:     Undetermined,
		Notes:          notes,
		AnalysisMethod: "fallback",
	}, err)
}

// IsDegraded reports whether the estimate should not be trusted on its own
func (r Result) IsDegraded() bool {
	return r.Kind == KindDegraded
}

// CrossCheck compares two independent analyses of the same sheet. They agree
// when valid counts differ by at most one and the initiative is the same.
// The returned confidence is their mean when they agree, the lower one otherwise.
func CrossCheck(first, second Estimate) (consistent bool, confidence float64) {
	sameInitiative := first.Initiative == second.Initiative

	countsClose := false
	if first.ValidSignatures != nil && second.ValidSignatures != nil {
		diff := *first.ValidSignatures - *second.ValidSignatures
		countsClose = diff >= -1 && diff <= 1
	}

	if sameInitiative && countsClose {
		return true, (first.Confidence + second.Confidence) / 2
	}
	return false, math.Min(first.Confidence, second.Confidence)
}
