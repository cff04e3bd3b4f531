package verify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kolect-core/internal/audit"
	"github.com/kolect-core/internal/debug"
	"github.com/kolect-core/internal/scan"
	"github.com/kolect-core/internal/store"
	"github.com/kolect-core/internal/validation"
)

const (
	defaultBulkApproveNotes = "Vérification en lot"
	defaultBulkRejectNotes  = "Rejet en lot"
)

// Correction is what a reviewer asserts when approving a scan
type Correction struct {
	TotalSignatures   *int    `json:"total_signatures" validate:"required,gte=0"`
	ValidSignatures   *int    `json:"valid_signatures,omitempty" validate:"omitempty,gte=0"`
	InvalidSignatures *int    `json:"invalid_signatures,omitempty" validate:"omitempty,gte=0"`
	Initiative        string  `json:"initiative" validate:"notblank"`
	InitiativeID      *string `json:"initiative_id,omitempty"`
	Notes             string  `json:"notes,omitempty"`
}

// Outcome is the state of a scan after a decision
type Outcome struct {
	Scan         scan.Record       `json:"scan"`
	Verification scan.Verification `json:"verification"`
}

// ItemError attributes a bulk failure to one scan
type ItemError struct {
	ScanID string `json:"scan_id"`
	Error  string `json:"error"`
	Err    error  `json:"-"`
}

// BulkResult reports a bulk decision; failures never abort the batch
type BulkResult struct {
	Processed int         `json:"processed"`
	Total     int         `json:"total"`
	Errors    []ItemError `json:"errors"`
}

// Config wires the service
type Config struct {
	Store       store.ScanStore
	Tracker     *audit.Tracker
	Timeout     time.Duration // per storage call
	Concurrency int           // bulk workers, defaults to 4
	Now         func() time.Time
	Debug       bool
}

// Service moves scans through the verification lifecycle
type Service struct {
	store       store.ScanStore
	tracker     *audit.Tracker
	timeout     time.Duration
	concurrency int
	now         func() time.Time
	localDebug  bool
	logger      *logrus.Logger
}

// NewService creates a verification service
func NewService(cfg Config) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Service{
		store:       cfg.Store,
		tracker:     cfg.Tracker,
		timeout:     cfg.Timeout,
		concurrency: concurrency,
		now:         now,
		localDebug:  cfg.Debug,
		logger:      debug.GetLogger(),
	}
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// storageErr passes domain errors through and wraps everything else
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, scan.ErrScanNotFound) || errors.Is(err, scan.ErrInvalidTransition) || scan.IsValidation(err) {
		return err
	}
	return &scan.StorageError{Op: op, Err: err}
}

// Approve records an APPROVED verification and overwrites the scan's counts
// and initiative with the corrected values. Originals are captured from the
// scan before it changes, or kept from the first decision on re-review.
func (s *Service) Approve(ctx context.Context, scanID string, correction Correction, reviewerID string) (*Outcome, error) {
	if err := requireIDs(scanID, reviewerID); err != nil {
		return nil, err
	}
	if err := validation.Struct(correction); err != nil {
		return nil, err
	}

	decidedAt := s.now().UTC()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	record, verification, err := s.store.Mutate(ctx, scanID, func(current scan.Record, existing *scan.Verification) (*scan.Record, *scan.Verification, error) {
		if !scan.CanTransition(current.Status, scan.StatusApproved) {
			return nil, nil, fmt.Errorf("%w: %s -> %s", scan.ErrInvalidTransition, current.Status, scan.StatusApproved)
		}

		v := newVerification(current, existing, reviewerID, scan.StatusApproved, correction.Notes, decidedAt)
		v.CorrectedSignatures = copyInt(correction.TotalSignatures)
		v.CorrectedInitiative = strings.TrimSpace(correction.Initiative)

		if !sameInt(current.TotalSignatures, correction.TotalSignatures) {
			// the old split no longer adds up; keep it only if the reviewer gave a new one
			current.ValidSignatures = nil
			current.InvalidSigs = nil
		}
		if correction.ValidSignatures != nil {
			current.ValidSignatures = copyInt(correction.ValidSignatures)
		}
		if correction.InvalidSignatures != nil {
			current.InvalidSigs = copyInt(correction.InvalidSignatures)
		}
		current.TotalSignatures = copyInt(correction.TotalSignatures)
		current.InitiativeName = v.CorrectedInitiative
		if correction.InitiativeID != nil {
			current.InitiativeID = correction.InitiativeID
		}
		current.Status = scan.StatusApproved

		if !current.CheckCounts() {
			s.logger.WithFields(logrus.Fields{
				"scan_id": scanID,
				"valid":   *current.ValidSignatures,
				"invalid": *current.InvalidSigs,
				"total":   *current.TotalSignatures,
			}).Warn("approved counts do not add up")
		}

		return &current, &v, nil
	})
	if err != nil {
		return nil, storageErr("approve", err)
	}

	s.logDecision(ctx, audit.ActionApprove, reviewerID, verification, false)
	return &Outcome{Scan: *record, Verification: *verification}, nil
}

// Reject records a REJECTED verification. The scan's counts and initiative are
// left exactly as they were; only its status changes.
func (s *Service) Reject(ctx context.Context, scanID string, reviewerID string, notes string) (*Outcome, error) {
	return s.reject(ctx, scanID, reviewerID, notes, false)
}

func (s *Service) reject(ctx context.Context, scanID, reviewerID, notes string, bulk bool) (*Outcome, error) {
	if err := requireIDs(scanID, reviewerID); err != nil {
		return nil, err
	}

	decidedAt := s.now().UTC()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	record, verification, err := s.store.Mutate(ctx, scanID, func(current scan.Record, existing *scan.Verification) (*scan.Record, *scan.Verification, error) {
		if !scan.CanTransition(current.Status, scan.StatusRejected) {
			return nil, nil, fmt.Errorf("%w: %s -> %s", scan.ErrInvalidTransition, current.Status, scan.StatusRejected)
		}

		v := newVerification(current, existing, reviewerID, scan.StatusRejected, notes, decidedAt)
		current.Status = scan.StatusRejected
		return &current, &v, nil
	})
	if err != nil {
		return nil, storageErr("reject", err)
	}

	s.logDecision(ctx, audit.ActionReject, reviewerID, verification, bulk)
	return &Outcome{Scan: *record, Verification: *verification}, nil
}

// approveAsIs approves a scan keeping its current values as the corrected ones
func (s *Service) approveAsIs(ctx context.Context, scanID, reviewerID, notes string) (*Outcome, error) {
	decidedAt := s.now().UTC()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	record, verification, err := s.store.Mutate(ctx, scanID, func(current scan.Record, existing *scan.Verification) (*scan.Record, *scan.Verification, error) {
		if !scan.CanTransition(current.Status, scan.StatusApproved) {
			return nil, nil, fmt.Errorf("%w: %s -> %s", scan.ErrInvalidTransition, current.Status, scan.StatusApproved)
		}

		v := newVerification(current, existing, reviewerID, scan.StatusApproved, notes, decidedAt)
		v.CorrectedSignatures = copyInt(current.TotalSignatures)
		v.CorrectedInitiative = current.InitiativeName
		current.Status = scan.StatusApproved
		return &current, &v, nil
	})
	if err != nil {
		return nil, storageErr("approve", err)
	}

	s.logDecision(ctx, audit.ActionApprove, reviewerID, verification, true)
	return &Outcome{Scan: *record, Verification: *verification}, nil
}

// BulkDecide applies one decision to many scans. It only fails up front for
// an empty list, a status other than APPROVED/REJECTED or a missing reviewer;
// per-scan failures are collected in the result.
func (s *Service) BulkDecide(ctx context.Context, scanIDs []string, status scan.Status, notes string, reviewerID string) (*BulkResult, error) {
	if len(scanIDs) == 0 {
		return nil, &scan.ValidationError{Field: "scan_ids", Message: "must not be empty"}
	}
	if status != scan.StatusApproved && status != scan.StatusRejected {
		return nil, &scan.ValidationError{Field: "status", Message: fmt.Sprintf("must be APPROVED or REJECTED, got %q", status)}
	}
	if strings.TrimSpace(reviewerID) == "" {
		return nil, &scan.ValidationError{Field: "reviewer_id", Message: "is required"}
	}

	if notes == "" {
		notes = defaultBulkApproveNotes
		if status == scan.StatusRejected {
			notes = defaultBulkRejectNotes
		}
	}

	debug.DebugOutput(s.localDebug, "Bulk %s of %d scans by %s", status, len(scanIDs), reviewerID)
	defer debug.DebugTiming(s.localDebug, "bulk "+string(status))()

	failures := make([]error, len(scanIDs))

	var g errgroup.Group
	g.SetLimit(s.concurrency)

	for i, id := range scanIDs {
		i, id := i, id
		g.Go(func() error {
			var err error
			if strings.TrimSpace(id) == "" {
				err = &scan.ValidationError{Field: "scan_id", Message: "is required"}
			} else if status == scan.StatusApproved {
				_, err = s.approveAsIs(ctx, id, reviewerID, notes)
			} else {
				_, err = s.reject(ctx, id, reviewerID, notes, true)
			}
			failures[i] = err
			return nil
		})
	}
	_ = g.Wait()

	result := &BulkResult{Total: len(scanIDs), Errors: []ItemError{}}
	for i, err := range failures {
		if err != nil {
			result.Errors = append(result.Errors, ItemError{ScanID: scanIDs[i], Error: err.Error(), Err: err})
			continue
		}
		result.Processed++
	}

	if s.tracker != nil {
		if err := s.tracker.Record(ctx, s.localDebug, audit.Entry{
			Actor:  reviewerID,
			Action: audit.ActionBulkVerify,
			Details: map[string]interface{}{
				"status":    string(status),
				"processed": result.Processed,
				"total":     result.Total,
				"errors":    len(result.Errors),
			},
		}); err != nil {
			debug.LogError(s.logger, "verify", "BulkDecide", "record bulk activity", nil, err)
		}
	}

	s.logger.WithFields(logrus.Fields{
		"status":    status,
		"processed": result.Processed,
		"total":     result.Total,
		"reviewer":  reviewerID,
	}).Info("bulk verification finished")

	return result, nil
}

// FlagDoubtful moves an unreviewed scan to PENDING with the given reason
func (s *Service) FlagDoubtful(ctx context.Context, scanID string, reason scan.DoubtReason, actor string) (*scan.Record, error) {
	if strings.TrimSpace(scanID) == "" {
		return nil, &scan.ValidationError{Field: "scan_id", Message: "is required"}
	}
	if reason.Description() == "" {
		return nil, &scan.ValidationError{Field: "reason", Message: fmt.Sprintf("unknown doubt reason %q", reason)}
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	record, _, err := s.store.Mutate(ctx, scanID, func(current scan.Record, existing *scan.Verification) (*scan.Record, *scan.Verification, error) {
		if !scan.CanTransition(current.Status, scan.StatusPending) {
			return nil, nil, fmt.Errorf("%w: %s -> %s", scan.ErrInvalidTransition, current.Status, scan.StatusPending)
		}
		r := reason
		current.Status = scan.StatusPending
		current.DoubtReason = &r
		return &current, nil, nil
	})
	if err != nil {
		return nil, storageErr("flag doubtful", err)
	}

	s.record(ctx, audit.Entry{
		ScanID:  scanID,
		Actor:   actor,
		Action:  audit.ActionFlagDoubtful,
		Details: map[string]interface{}{"reason": string(reason)},
	})
	return record, nil
}

func (s *Service) logDecision(ctx context.Context, action audit.Action, reviewerID string, v *scan.Verification, bulk bool) {
	s.logger.WithFields(logrus.Fields{
		"scan_id":  v.ScanID,
		"status":   v.Status,
		"reviewer": reviewerID,
		"bulk":     bulk,
	}).Info("scan verified")

	s.record(ctx, audit.Entry{
		ScanID: v.ScanID,
		Actor:  reviewerID,
		Action: action,
		Details: map[string]interface{}{
			"status":               string(v.Status),
			"original_signatures":  v.OriginalSignatures,
			"corrected_signatures": v.CorrectedSignatures,
			"original_initiative":  v.OriginalInitiative,
			"corrected_initiative": v.CorrectedInitiative,
			"notes":                v.ReviewerNotes,
			"bulk":                 bulk,
		},
	})
}

// record writes an activity entry; the decision is already committed so a
// failure here is logged rather than returned
func (s *Service) record(ctx context.Context, entry audit.Entry) {
	if s.tracker == nil {
		return
	}
	if err := s.tracker.Record(ctx, s.localDebug, entry); err != nil {
		debug.LogError(s.logger, "verify", "record", "append activity", entry.ScanID, err)
	}
}

func newVerification(current scan.Record, existing *scan.Verification, reviewerID string, status scan.Status, notes string, decidedAt time.Time) scan.Verification {
	v := scan.Verification{
		ScanID:             current.ID,
		ReviewerID:         reviewerID,
		OriginalSignatures: copyInt(current.TotalSignatures),
		OriginalInitiative: current.InitiativeName,
		Status:             status,
		ReviewerNotes:      notes,
		DoubtReason:        current.DoubtReason,
		DecidedAt:          decidedAt,
	}
	if existing != nil {
		v.OriginalSignatures = copyInt(existing.OriginalSignatures)
		v.OriginalInitiative = existing.OriginalInitiative
	}
	return v
}

func requireIDs(scanID, reviewerID string) error {
	if strings.TrimSpace(scanID) == "" {
		return &scan.ValidationError{Field: "scan_id", Message: "is required"}
	}
	if strings.TrimSpace(reviewerID) == "" {
		return &scan.ValidationError{Field: "reviewer_id", Message: "is required"}
	}
	return nil
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func sameInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
