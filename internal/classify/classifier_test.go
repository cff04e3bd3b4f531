package classify

import (
	"math"
	"testing"

	"github.com/kolect-core/internal/scan"
)

func TestClassify(t *testing.T) {
	classifier := NewClassifier(DefaultThresholds())

	tests := []struct {
		name        string
		metrics     scan.Metrics
		wantFlagged bool
		wantReason  scan.DoubtReason
	}{
		{
			name:        "too many signatures despite high confidence",
			metrics:     scan.Metrics{TotalSignatures: scan.IntPtr(45), ConfidenceScore: 0.95, QualityScore: scan.FloatPtr(90)},
			wantFlagged: true,
			wantReason:  scan.DoubtTooManySignatures,
		},
		{
			name:        "low confidence",
			metrics:     scan.Metrics{TotalSignatures: scan.IntPtr(10), ConfidenceScore: 0.60, QualityScore: scan.FloatPtr(90)},
			wantFlagged: true,
			wantReason:  scan.DoubtLowConfidence,
		},
		{
			name:        "low confidence wins over too many signatures",
			metrics:     scan.Metrics{TotalSignatures: scan.IntPtr(45), ConfidenceScore: 0.50, QualityScore: scan.FloatPtr(10)},
			wantFlagged: true,
			wantReason:  scan.DoubtLowConfidence,
		},
		{
			name:        "poor quality",
			metrics:     scan.Metrics{TotalSignatures: scan.IntPtr(10), ConfidenceScore: 0.90, QualityScore: scan.FloatPtr(55)},
			wantFlagged: true,
			wantReason:  scan.DoubtPoorQuality,
		},
		{
			name:        "too few signatures",
			metrics:     scan.Metrics{TotalSignatures: scan.IntPtr(2), ConfidenceScore: 0.90, QualityScore: scan.FloatPtr(90)},
			wantFlagged: true,
			wantReason:  scan.DoubtTooFewSignatures,
		},
		{
			name:        "null signatures",
			metrics:     scan.Metrics{TotalSignatures: nil, ConfidenceScore: 0.90, QualityScore: scan.FloatPtr(90)},
			wantFlagged: true,
			wantReason:  scan.DoubtNullSignatures,
		},
		{
			name:        "unknown quality does not flag",
			metrics:     scan.Metrics{TotalSignatures: scan.IntPtr(10), ConfidenceScore: 0.90},
			wantFlagged: false,
		},
		{
			name:        "boundaries are not flagged",
			metrics:     scan.Metrics{TotalSignatures: scan.IntPtr(25), ConfidenceScore: 0.85, QualityScore: scan.FloatPtr(70)},
			wantFlagged: false,
		},
		{
			name:        "minimum signature boundary",
			metrics:     scan.Metrics{TotalSignatures: scan.IntPtr(3), ConfidenceScore: 0.99, QualityScore: scan.FloatPtr(100)},
			wantFlagged: false,
		},
		{
			name:        "NaN confidence degrades to low confidence",
			metrics:     scan.Metrics{TotalSignatures: scan.IntPtr(10), ConfidenceScore: math.NaN()},
			wantFlagged: true,
			wantReason:  scan.DoubtLowConfidence,
		},
		{
			name:        "out of range confidence above one is trusted",
			metrics:     scan.Metrics{TotalSignatures: scan.IntPtr(10), ConfidenceScore: 7.5},
			wantFlagged: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifier.Classify(tt.metrics)

			if got.Flagged != tt.wantFlagged {
				t.Fatalf("Classify() flagged = %v, want %v", got.Flagged, tt.wantFlagged)
			}
			if !tt.wantFlagged {
				if got.Reason != nil {
					t.Errorf("Classify() reason = %v, want none", *got.Reason)
				}
				return
			}
			if got.Reason == nil || *got.Reason != tt.wantReason {
				t.Errorf("Classify() reason = %v, want %v", got.Reason, tt.wantReason)
			}
		})
	}
}

func TestClassifyIsPure(t *testing.T) {
	classifier := NewClassifier(DefaultThresholds())
	metrics := scan.Metrics{TotalSignatures: scan.IntPtr(30), ConfidenceScore: 0.9, QualityScore: scan.FloatPtr(80)}

	first := classifier.Classify(metrics)
	for i := 0; i < 10; i++ {
		again := classifier.Classify(metrics)
		if again.Flagged != first.Flagged || *again.Reason != *first.Reason {
			t.Fatalf("Classify() not deterministic: %+v vs %+v", again, first)
		}
	}
	if *metrics.TotalSignatures != 30 {
		t.Errorf("Classify() mutated its input")
	}
}

func TestCustomThresholds(t *testing.T) {
	thresholds := DefaultThresholds()
	thresholds.MaxSignatures = 50
	classifier := NewClassifier(thresholds)

	got := classifier.Classify(scan.Metrics{TotalSignatures: scan.IntPtr(45), ConfidenceScore: 0.95, QualityScore: scan.FloatPtr(90)})
	if got.Flagged {
		t.Errorf("expected 45 signatures to pass with MaxSignatures=50, got reason %v", *got.Reason)
	}
}
