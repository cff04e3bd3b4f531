package match

import (
	"context"
	"time"

	"github.com/kolect-core/internal/debug"
	"github.com/kolect-core/internal/scan"
)

// CandidateStore is the read side of the scan store the finder needs
type CandidateStore interface {
	FindScans(ctx context.Context, filter scan.Filter) ([]scan.Record, error)
}

// CandidateFinder retrieves field-collection scans that could pair with a validation scan
type CandidateFinder struct {
	store   CandidateStore
	window  *Window
	timeout time.Duration
	now     func() time.Time
}

// NewCandidateFinder creates a finder. A zero timeout leaves the caller's deadline alone.
func NewCandidateFinder(store CandidateStore, window *Window, timeout time.Duration) *CandidateFinder {
	if window == nil {
		window = DefaultWindow()
	}
	return &CandidateFinder{
		store:   store,
		window:  window,
		timeout: timeout,
		now:     time.Now,
	}
}

// WithClock replaces the time source used for the age window
func (f *CandidateFinder) WithClock(now func() time.Time) *CandidateFinder {
	f.now = now
	return f
}

// Filter builds the store query for the extracted fields
func (f *CandidateFinder) Filter(extracted scan.ExtractedData) scan.Filter {
	fieldCollection := scan.TypeFieldCollection
	initiative := extracted.Initiative

	lower := extracted.TotalSignatures - f.window.SignatureTolerance
	if lower < 1 {
		lower = 1
	}
	upper := extracted.TotalSignatures + f.window.SignatureTolerance
	createdAfter := f.now().Add(-f.window.MaxAge)

	return scan.Filter{
		ScanType:      &fieldCollection,
		Statuses:      []scan.Status{scan.StatusUnverified, scan.StatusPending},
		Initiative:    &initiative,
		MinSignatures: &lower,
		MaxSignatures: &upper,
		CreatedAfter:  &createdAfter,
		Limit:         f.window.Limit,
	}
}

// FindCandidates queries the store and, when a collaborator name is given,
// drops candidates whose name score does not beat the window minimum.
// Store failures come back as *scan.RetrievalError, never as an empty list.
func (f *CandidateFinder) FindCandidates(ctx context.Context, localDebug bool, extracted scan.ExtractedData) ([]Candidate, error) {
	debug.DebugHeader(localDebug)
	defer debug.DebugFooter(localDebug)

	filter := f.Filter(extracted)
	debug.DebugOutput(localDebug, "Query: initiative=%q signatures=[%d,%d] limit=%d",
		extracted.Initiative, *filter.MinSignatures, *filter.MaxSignatures, filter.Limit)

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	records, err := f.store.FindScans(ctx, filter)
	if err != nil {
		return nil, &scan.RetrievalError{Op: "find candidates", Err: err}
	}

	debug.DebugOutput(localDebug, "Store returned %d scans", len(records))

	candidates := make([]Candidate, 0, len(records))
	for _, record := range records {
		candidate := Candidate{Scan: record}

		if hasName(extracted.CollaboratorName) {
			nameScore := NameSimilarity(extracted.CollaboratorName, record.CollaboratorName)
			if nameScore <= f.window.MinNameScore {
				debug.DebugOutput(localDebug, "Dropping %s: name score %d", record.ID, nameScore)
				continue
			}
			candidate.NameScore = &nameScore
		}

		candidates = append(candidates, candidate)
	}

	return candidates, nil
}
