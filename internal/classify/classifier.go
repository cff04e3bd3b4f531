package classify

import (
	"math"

	"github.com/kolect-core/internal/scan"
)

// Thresholds are the operator-tunable limits of the doubt rules
type Thresholds struct {
	MinConfidence float64 // below this the vision estimate is not trusted (0.85)
	MaxSignatures int     // more than this on one sheet is suspicious (25)
	MinQuality    float64 // image quality score below this is too poor (70)
	MinSignatures int     // fewer than this is suspicious (3)
}

// DefaultThresholds returns the limits used by the review backoffice
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinConfidence: 0.85,
		MaxSignatures: 25,
		MinQuality:    70,
		MinSignatures: 3,
	}
}

// Classification is the outcome of the doubt rules for one scan
type Classification struct {
	Flagged bool              `json:"flagged"`
	Reason  *scan.DoubtReason `json:"reason,omitempty"`
}

// Classifier flags scans whose vision estimate needs a human look
type Classifier struct {
	thresholds Thresholds
}

// NewClassifier creates a classifier with the given thresholds
func NewClassifier(thresholds Thresholds) *Classifier {
	return &Classifier{thresholds: thresholds}
}

// Thresholds returns the limits this classifier applies
func (c *Classifier) Thresholds() Thresholds {
	return c.thresholds
}

// Classify applies the rules in priority order; the first one that fires wins.
// It has no side effects and never fails on out-of-range input.
func (c *Classifier) Classify(m scan.Metrics) Classification {
	t := c.thresholds

	if math.IsNaN(m.ConfidenceScore) || m.ConfidenceScore < t.MinConfidence {
		return flagged(scan.DoubtLowConfidence)
	}
	if m.TotalSignatures != nil && *m.TotalSignatures > t.MaxSignatures {
		return flagged(scan.DoubtTooManySignatures)
	}
	if m.QualityScore != nil && !math.IsNaN(*m.QualityScore) && *m.QualityScore < t.MinQuality {
		return flagged(scan.DoubtPoorQuality)
	}
	if m.TotalSignatures != nil && *m.TotalSignatures < t.MinSignatures {
		return flagged(scan.DoubtTooFewSignatures)
	}
	if m.TotalSignatures == nil {
		return flagged(scan.DoubtNullSignatures)
	}

	return Classification{}
}

func flagged(reason scan.DoubtReason) Classification {
	return Classification{Flagged: true, Reason: &reason}
}
