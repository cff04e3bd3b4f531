package vision

import (
	"errors"
	"testing"
)

func TestParseEstimate(t *testing.T) {
	known := []string{"Forêt", "Rivière"}

	tests := []struct {
		name           string
		raw            string
		wantKind       Kind
		wantValid      *int
		wantTotal      *int
		wantConfidence float64
		wantInitiative string
	}{
		{
			name:           "plain json",
			raw:            `{"valid_signatures": 8, "invalid_signatures": 2, "confidence": 0.92, "initiative": "Forêt", "notes": "clear"}`,
			wantKind:       KindOK,
			wantValid:      intp(8),
			wantTotal:      intp(10),
			wantConfidence: 0.92,
			wantInitiative: "Forêt",
		},
		{
			name:           "markdown fenced",
			raw:            "```json\n{\"valid_signatures\": 3, \"invalid_signatures\": 0, \"confidence\": 0.88, \"initiative\": \"Rivière\"}\n```",
			wantKind:       KindOK,
			wantValid:      intp(3),
			wantTotal:      intp(3),
			wantConfidence: 0.88,
			wantInitiative: "Rivière",
		},
		{
			name:           "unknown initiative",
			raw:            `{"valid_signatures": 5, "invalid_signatures": 1, "confidence": 0.9, "initiative": "Montagne"}`,
			wantKind:       KindOK,
			wantValid:      intp(5),
			wantTotal:      intp(6),
			wantConfidence: 0.9,
			wantInitiative: Undetermined,
		},
		{
			name:           "empty sheet keeps Aucune",
			raw:            `{"valid_signatures": 0, "invalid_signatures": 0, "confidence": 0.95, "initiative": "Aucune"}`,
			wantKind:       KindOK,
			wantValid:      intp(0),
			wantTotal:      intp(0),
			wantConfidence: 0.95,
			wantInitiative: NoInitiative,
		},
		{
			name:           "confidence out of range degrades",
			raw:            `{"valid_signatures": 8, "invalid_signatures": 2, "confidence": 92, "initiative": "Forêt"}`,
			wantKind:       KindDegraded,
			wantValid:      intp(8),
			wantTotal:      intp(10),
			wantConfidence: FallbackConfidence,
			wantInitiative: "Forêt",
		},
		{
			name:           "missing invalid count leaves total unknown",
			raw:            `{"valid_signatures": 8, "confidence": 0.9, "initiative": "Forêt"}`,
			wantKind:       KindOK,
			wantValid:      intp(8),
			wantTotal:      nil,
			wantConfidence: 0.9,
			wantInitiative: "Forêt",
		},
		{
			name:           "malformed json is scraped",
			raw:            `Result: {valid_signatures: 7, invalid_signatures: 1, confidence: 0.81, initiative: 'Forêt'`,
			wantKind:       KindDegraded,
			wantValid:      intp(7),
			wantTotal:      intp(8),
			wantConfidence: 0.81,
			wantInitiative: "Forêt",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEstimate(tt.raw, known)
			if err != nil {
				t.Fatalf("ParseEstimate() error = %v", err)
			}
			if got.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s (err %v)", got.Kind, tt.wantKind, got.Err)
			}
			if !sameInt(got.Estimate.ValidSignatures, tt.wantValid) {
				t.Errorf("ValidSignatures = %v, want %v", deref(got.Estimate.ValidSignatures), deref(tt.wantValid))
			}
			if !sameInt(got.Estimate.Total(), tt.wantTotal) {
				t.Errorf("Total() = %v, want %v", deref(got.Estimate.Total()), deref(tt.wantTotal))
			}
			if got.Estimate.Confidence != tt.wantConfidence {
				t.Errorf("Confidence = %v, want %v", got.Estimate.Confidence, tt.wantConfidence)
			}
			if got.Estimate.Initiative != tt.wantInitiative {
				t.Errorf("Initiative = %q, want %q", got.Estimate.Initiative, tt.wantInitiative)
			}
			if got.IsDegraded() && got.Error == "" {
				t.Errorf("degraded result should carry an error message")
			}
		})
	}
}

func TestParseEstimateErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"prose only", "I could not read this sheet."},
		{"negative count", `{"valid_signatures": -2, "invalid_signatures": 1, "confidence": 0.9}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEstimate(tt.raw, nil)
			if !errors.Is(err, ErrUnreadable) {
				t.Errorf("ParseEstimate() error = %v, want ErrUnreadable", err)
			}
		})
	}
}

func TestFallback(t *testing.T) {
	r := Fallback(errors.New("timeout"))

	if !r.IsDegraded() {
		t.Fatalf("Fallback should be degraded")
	}
	if r.Estimate.Confidence != FallbackConfidence || r.Estimate.Initiative != Undetermined {
		t.Errorf("Fallback estimate = %+v", r.Estimate)
	}
	if r.Estimate.Total() != nil {
		t.Errorf("Fallback must not invent signature counts")
	}
}

func TestCrossCheck(t *testing.T) {
	tests := []struct {
		name           string
		first          Estimate
		second         Estimate
		wantConsistent bool
		wantConfidence float64
	}{
		{
			"agree within one",
			Estimate{ValidSignatures: intp(8), Initiative: "Forêt", Confidence: 0.9},
			Estimate{ValidSignatures: intp(9), Initiative: "Forêt", Confidence: 0.8},
			true, 0.85,
		},
		{
			"counts too far apart",
			Estimate{ValidSignatures: intp(8), Initiative: "Forêt", Confidence: 0.9},
			Estimate{ValidSignatures: intp(11), Initiative: "Forêt", Confidence: 0.8},
			false, 0.8,
		},
		{
			"different initiative",
			Estimate{ValidSignatures: intp(8), Initiative: "Forêt", Confidence: 0.9},
			Estimate{ValidSignatures: intp(8), Initiative: "Rivière", Confidence: 0.95},
			false, 0.9,
		},
		{
			"unknown count",
			Estimate{Initiative: "Forêt", Confidence: 0.9},
			Estimate{ValidSignatures: intp(8), Initiative: "Forêt", Confidence: 0.9},
			false, 0.9,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			consistent, confidence := CrossCheck(tt.first, tt.second)
			if consistent != tt.wantConsistent {
				t.Errorf("consistent = %v, want %v", consistent, tt.wantConsistent)
			}
			if diff := confidence - tt.wantConfidence; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("confidence = %v, want %v", confidence, tt.wantConfidence)
			}
		})
	}
}

func intp(v int) *int { return &v }

func sameInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func deref(p *int) interface{} {
	if p == nil {
		return nil
	}
	return *p
}
