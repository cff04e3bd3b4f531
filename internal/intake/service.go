// Package intake turns an uploaded sheet and its vision estimate into a stored scan.
package intake

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kolect-core/internal/audit"
	"github.com/kolect-core/internal/classify"
	"github.com/kolect-core/internal/debug"
	"github.com/kolect-core/internal/scan"
	"github.com/kolect-core/internal/store"
	"github.com/kolect-core/internal/validation"
	"github.com/kolect-core/internal/vision"
)

// Submission is one uploaded sheet with the analysis already run on it
type Submission struct {
	CollaboratorID string           `json:"collaborator_id" validate:"notblank"`
	InitiativeID   *string          `json:"initiative_id,omitempty"`
	ScanType       scan.Type        `json:"scan_type,omitempty" validate:"omitempty,oneof=FIELD_COLLECTION VALIDATION_BATCH"`
	Image          []byte           `json:"image" validate:"required,min=1"`
	QualityScore   *float64         `json:"quality_score,omitempty" validate:"omitempty,gte=0,lte=100"`
	Vision         vision.Result    `json:"vision"`
	SecondOpinion  *vision.Estimate `json:"second_opinion,omitempty"`
}

// Receipt is what the submitter gets back
type Receipt struct {
	Scan           scan.Record             `json:"scan"`
	Classification classify.Classification `json:"classification"`
	Degraded       bool                    `json:"degraded"`
	CrossChecked   *bool                   `json:"cross_checked,omitempty"`
}

// Config wires the service
type Config struct {
	Store      store.ScanStore
	Classifier *classify.Classifier
	Tracker    *audit.Tracker
	Timeout    time.Duration
	Now        func() time.Time
	NewID      func() string
	Debug      bool
}

// Service stores submitted scans
type Service struct {
	store      store.ScanStore
	classifier *classify.Classifier
	tracker    *audit.Tracker
	timeout    time.Duration
	now        func() time.Time
	newID      func() string
	localDebug bool
	logger     *logrus.Logger
}

// NewService creates an intake service. A nil classifier uses the default thresholds.
func NewService(cfg Config) *Service {
	s := &Service{
		store:      cfg.Store,
		classifier: cfg.Classifier,
		tracker:    cfg.Tracker,
		timeout:    cfg.Timeout,
		now:        cfg.Now,
		newID:      cfg.NewID,
		localDebug: cfg.Debug,
		logger:     debug.GetLogger(),
	}
	if s.classifier == nil {
		s.classifier = classify.NewClassifier(classify.DefaultThresholds())
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// ImageHash fingerprints a sheet image for duplicate detection
func ImageHash(image []byte) string {
	sum := md5.Sum(image)
	return hex.EncodeToString(sum[:])
}

// Submit validates, deduplicates, classifies and stores one scan
func (s *Service) Submit(ctx context.Context, sub Submission) (*Receipt, error) {
	debug.DebugHeader(s.localDebug)
	defer debug.DebugFooter(s.localDebug)

	if err := validation.Struct(sub); err != nil {
		return nil, err
	}

	hash := ImageHash(sub.Image)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	existing, err := s.store.FindDuplicate(ctx, sub.CollaboratorID, hash)
	if err != nil {
		return nil, &scan.RetrievalError{Op: "duplicate lookup", Err: err}
	}
	if existing != nil {
		return nil, &scan.DuplicateError{ExistingID: existing.ID, ScannedAt: existing.CreatedAt}
	}

	record, crossChecked := s.buildRecord(sub, hash)

	classification := s.classifier.Classify(record.Metrics())
	if classification.Flagged {
		record.Status = scan.StatusPending
		record.DoubtReason = classification.Reason
	}

	debug.DebugOutput(s.localDebug, "Scan %s: confidence=%.2f flagged=%v",
		record.ID, record.ConfidenceScore, classification.Flagged)

	if err := s.store.InsertScan(ctx, record); err != nil {
		if errors.Is(err, store.ErrDuplicateImage) {
			// lost a race with a concurrent upload of the same sheet
			if dup, lookupErr := s.store.FindDuplicate(ctx, sub.CollaboratorID, hash); lookupErr == nil && dup != nil {
				return nil, &scan.DuplicateError{ExistingID: dup.ID, ScannedAt: dup.CreatedAt}
			}
		}
		return nil, &scan.StorageError{Op: "insert scan", Err: err}
	}

	fields := logrus.Fields{
		"scan_id":       record.ID,
		"collaborator":  record.CollaboratorID,
		"initiative":    record.InitiativeName,
		"status":        record.Status,
		"degraded":      sub.Vision.IsDegraded(),
		"analysis_mode": record.AnalysisMethod,
	}
	if record.DoubtReason != nil {
		fields["doubt_reason"] = *record.DoubtReason
	}
	s.logger.WithFields(fields).Info("scan submitted")

	s.recordActivity(ctx, record)

	return &Receipt{
		Scan:           record,
		Classification: classification,
		Degraded:       sub.Vision.IsDegraded(),
		CrossChecked:   crossChecked,
	}, nil
}

func (s *Service) buildRecord(sub Submission, hash string) (scan.Record, *bool) {
	est := sub.Vision.Estimate

	initiative := strings.TrimSpace(est.Initiative)
	if initiative == "" {
		initiative = vision.Undetermined
	}

	scanType := sub.ScanType
	if scanType == "" {
		scanType = scan.TypeFieldCollection
	}

	notes := make([]string, 0, 3)
	if est.Notes != "" {
		notes = append(notes, est.Notes)
	}
	if sub.Vision.IsDegraded() && sub.Vision.Error != "" {
		notes = append(notes, "degraded: "+sub.Vision.Error)
	}

	confidence := est.Confidence
	var crossChecked *bool
	if sub.SecondOpinion != nil {
		consistent, merged := vision.CrossCheck(est, *sub.SecondOpinion)
		confidence = merged
		crossChecked = &consistent
		if !consistent {
			notes = append(notes, "second analysis disagrees")
		}
	}

	return scan.Record{
		ID:              s.newID(),
		CollaboratorID:  strings.TrimSpace(sub.CollaboratorID),
		InitiativeID:    sub.InitiativeID,
		InitiativeName:  initiative,
		ValidSignatures: est.ValidSignatures,
		InvalidSigs:     est.InvalidSignatures,
		TotalSignatures: est.Total(),
		ConfidenceScore: confidence,
		QualityScore:    sub.QualityScore,
		ScanType:        scanType,
		Status:          scan.StatusUnverified,
		ImageHash:       hash,
		AnalysisMethod:  est.AnalysisMethod,
		Notes:           strings.Join(notes, " | "),
		CreatedAt:       s.now().UTC(),
	}, crossChecked
}

func (s *Service) recordActivity(ctx context.Context, record scan.Record) {
	if s.tracker == nil {
		return
	}
	details := map[string]interface{}{
		"initiative":       record.InitiativeName,
		"total_signatures": record.TotalSignatures,
		"confidence":       record.ConfidenceScore,
		"status":           string(record.Status),
	}
	if record.DoubtReason != nil {
		details["doubt_reason"] = string(*record.DoubtReason)
	}
	err := s.tracker.Record(ctx, s.localDebug, audit.Entry{
		ScanID:  record.ID,
		Actor:   record.CollaboratorID,
		Action:  audit.ActionSubmit,
		Details: details,
	})
	if err != nil {
		debug.LogError(s.logger, "intake", "Submit", "append activity", record.ID, err)
	}
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}
