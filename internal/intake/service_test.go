package intake

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kolect-core/internal/audit"
	"github.com/kolect-core/internal/scan"
	"github.com/kolect-core/internal/store"
	"github.com/kolect-core/internal/store/memory"
	"github.com/kolect-core/internal/vision"
)

var now = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestService(mem store.ScanStore, log audit.Log) *Service {
	n := 0
	return NewService(Config{
		Store:   mem,
		Tracker: audit.NewTracker(log),
		Timeout: time.Second,
		Now:     func() time.Time { return now },
		NewID: func() string {
			n++
			return fmt.Sprintf("scan-%d", n)
		},
	})
}

func estimate(valid, invalid int, confidence float64) vision.Estimate {
	return vision.Estimate{
		ValidSignatures:   scan.IntPtr(valid),
		InvalidSignatures: scan.IntPtr(invalid),
		Confidence:        confidence,
		Initiative:        "Forêt",
		AnalysisMethod:    "vision",
	}
}

func TestImageHash(t *testing.T) {
	if got := ImageHash([]byte("hello")); got != "5d41402abc4b2a76b9719d911017c592" {
		t.Errorf("ImageHash() = %s", got)
	}
}

func TestSubmit(t *testing.T) {
	tests := []struct {
		name       string
		vision     vision.Result
		quality    *float64
		wantStatus scan.Status
		wantReason scan.DoubtReason
		wantTotal  *int
	}{
		{
			name:       "confident estimate stays unverified",
			vision:     vision.OK(estimate(10, 2, 0.95)),
			quality:    scan.FloatPtr(90),
			wantStatus: scan.StatusUnverified,
			wantTotal:  scan.IntPtr(12),
		},
		{
			name:       "low confidence goes to review",
			vision:     vision.OK(estimate(10, 2, 0.6)),
			wantStatus: scan.StatusPending,
			wantReason: scan.DoubtLowConfidence,
			wantTotal:  scan.IntPtr(12),
		},
		{
			name:       "crowded sheet goes to review",
			vision:     vision.OK(estimate(40, 5, 0.95)),
			wantStatus: scan.StatusPending,
			wantReason: scan.DoubtTooManySignatures,
			wantTotal:  scan.IntPtr(45),
		},
		{
			name:       "poor image goes to review",
			vision:     vision.OK(estimate(10, 2, 0.95)),
			quality:    scan.FloatPtr(40),
			wantStatus: scan.StatusPending,
			wantReason: scan.DoubtPoorQuality,
			wantTotal:  scan.IntPtr(12),
		},
		{
			name:       "failed analysis keeps counts unknown",
			vision:     vision.Fallback(errors.New("timeout")),
			wantStatus: scan.StatusPending,
			wantReason: scan.DoubtLowConfidence,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := memory.New()
			svc := newTestService(mem, mem)

			receipt, err := svc.Submit(context.Background(), Submission{
				CollaboratorID: "collab-1",
				Image:          []byte("sheet"),
				QualityScore:   tt.quality,
				Vision:         tt.vision,
			})
			if err != nil {
				t.Fatalf("Submit() error = %v", err)
			}

			got := receipt.Scan
			if got.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", got.Status, tt.wantStatus)
			}
			if tt.wantReason == "" && got.DoubtReason != nil {
				t.Errorf("unexpected doubt reason %s", *got.DoubtReason)
			}
			if tt.wantReason != "" && (got.DoubtReason == nil || *got.DoubtReason != tt.wantReason) {
				t.Errorf("doubt reason = %v, want %s", got.DoubtReason, tt.wantReason)
			}
			if (tt.wantTotal == nil) != (got.TotalSignatures == nil) ||
				(tt.wantTotal != nil && *got.TotalSignatures != *tt.wantTotal) {
				t.Errorf("total = %v, want %v", got.TotalSignatures, tt.wantTotal)
			}
			if !got.CheckCounts() {
				t.Errorf("stored counts do not add up: %+v", got)
			}
			if got.ScanType != scan.TypeFieldCollection || got.ImageHash != ImageHash([]byte("sheet")) || !got.CreatedAt.Equal(now) {
				t.Errorf("record = %+v", got)
			}
			if receipt.Degraded != tt.vision.IsDegraded() {
				t.Errorf("degraded = %v", receipt.Degraded)
			}

			stored, err := mem.GetScan(context.Background(), got.ID)
			if err != nil || stored.Status != tt.wantStatus {
				t.Errorf("GetScan() = %+v, %v", stored, err)
			}
		})
	}
}

func TestSubmitUnknownInitiative(t *testing.T) {
	mem := memory.New()
	svc := newTestService(mem, mem)

	est := estimate(5, 0, 0.9)
	est.Initiative = ""
	receipt, err := svc.Submit(context.Background(), Submission{CollaboratorID: "c", Image: []byte("x"), Vision: vision.OK(est)})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if receipt.Scan.InitiativeName != vision.Undetermined {
		t.Errorf("initiative = %q, want %q", receipt.Scan.InitiativeName, vision.Undetermined)
	}
}

func TestSubmitDuplicate(t *testing.T) {
	mem := memory.New()
	svc := newTestService(mem, mem)
	ctx := context.Background()
	sub := Submission{CollaboratorID: "collab-1", Image: []byte("same sheet"), Vision: vision.OK(estimate(8, 1, 0.9))}

	first, err := svc.Submit(ctx, sub)
	if err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}

	_, err = svc.Submit(ctx, sub)
	var dup *scan.DuplicateError
	if !errors.As(err, &dup) {
		t.Fatalf("second Submit() error = %v, want DuplicateError", err)
	}
	if dup.ExistingID != first.Scan.ID || !dup.ScannedAt.Equal(now) {
		t.Errorf("duplicate = %+v", dup)
	}

	sub.CollaboratorID = "collab-2"
	if _, err := svc.Submit(ctx, sub); err != nil {
		t.Errorf("another collaborator may upload the same image: %v", err)
	}
}

// racingStore hides the first copy from the duplicate lookup until the insert fails
type racingStore struct {
	*memory.Store
	lookups int
}

func (r *racingStore) FindDuplicate(ctx context.Context, collaboratorID, imageHash string) (*scan.Record, error) {
	r.lookups++
	if r.lookups == 1 {
		return nil, nil
	}
	return r.Store.FindDuplicate(ctx, collaboratorID, imageHash)
}

func TestSubmitLosesInsertRace(t *testing.T) {
	mem := memory.New()
	ctx := context.Background()
	if err := mem.InsertScan(ctx, scan.Record{ID: "winner", CollaboratorID: "c", ImageHash: ImageHash([]byte("img")), Status: scan.StatusUnverified, CreatedAt: now}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	svc := newTestService(&racingStore{Store: mem}, mem)
	_, err := svc.Submit(ctx, Submission{CollaboratorID: "c", Image: []byte("img"), Vision: vision.OK(estimate(3, 0, 0.9))})

	var dup *scan.DuplicateError
	if !errors.As(err, &dup) || dup.ExistingID != "winner" {
		t.Errorf("Submit() error = %v, want DuplicateError for winner", err)
	}
}

func TestSubmitCrossCheck(t *testing.T) {
	tests := []struct {
		name           string
		second         vision.Estimate
		wantConsistent bool
		wantConfidence float64
	}{
		{"agreeing analyses average", estimate(11, 2, 0.8), true, 0.85},
		{"disagreeing analyses keep the lower", estimate(15, 2, 0.8), false, 0.8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := memory.New()
			svc := newTestService(mem, mem)

			second := tt.second
			receipt, err := svc.Submit(context.Background(), Submission{
				CollaboratorID: "c",
				Image:          []byte(tt.name),
				Vision:         vision.OK(estimate(10, 2, 0.9)),
				SecondOpinion:  &second,
			})
			if err != nil {
				t.Fatalf("Submit() error = %v", err)
			}
			if receipt.CrossChecked == nil || *receipt.CrossChecked != tt.wantConsistent {
				t.Errorf("cross checked = %v, want %v", receipt.CrossChecked, tt.wantConsistent)
			}
			if diff := receipt.Scan.ConfidenceScore - tt.wantConfidence; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("confidence = %v, want %v", receipt.Scan.ConfidenceScore, tt.wantConfidence)
			}
		})
	}
}

func TestSubmitValidation(t *testing.T) {
	tests := []struct {
		name      string
		sub       Submission
		wantField string
	}{
		{"missing collaborator", Submission{CollaboratorID: " ", Image: []byte("x")}, "collaborator_id"},
		{"missing image", Submission{CollaboratorID: "c"}, "image"},
		{"empty image", Submission{CollaboratorID: "c", Image: []byte{}}, "image"},
		{"bad scan type", Submission{CollaboratorID: "c", Image: []byte("x"), ScanType: "PHOTO"}, "scan_type"},
		{"quality out of range", Submission{CollaboratorID: "c", Image: []byte("x"), QualityScore: scan.FloatPtr(120)}, "quality_score"},
	}

	mem := memory.New()
	svc := newTestService(mem, mem)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Submit(context.Background(), tt.sub)
			var ve *scan.ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.wantField {
				t.Errorf("Submit() error = %v, want ValidationError on %s", err, tt.wantField)
			}
		})
	}
}

func TestSubmitRecordsActivity(t *testing.T) {
	mem := memory.New()
	svc := newTestService(mem, mem)

	receipt, err := svc.Submit(context.Background(), Submission{CollaboratorID: "c", Image: []byte("x"), Vision: vision.OK(estimate(5, 1, 0.9))})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	history, err := mem.ListActivity(context.Background(), receipt.Scan.ID)
	if err != nil {
		t.Fatalf("ListActivity() error = %v", err)
	}
	if len(history) != 1 || history[0].Action != audit.ActionSubmit || history[0].Actor != "c" {
		t.Errorf("history = %+v", history)
	}
}
