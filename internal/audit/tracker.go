package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kolect-core/internal/debug"
	"github.com/kolect-core/internal/match"
)

// Action names what a reviewer or the system did to a scan
type Action string

const (
	ActionSubmit        Action = "SCAN_SUBMIT"
	ActionFlagDoubtful  Action = "FLAG_DOUBTFUL"
	ActionApprove       Action = "VERIFY_APPROVE"
	ActionReject        Action = "VERIFY_REJECT"
	ActionBulkVerify    Action = "BULK_VERIFY"
	ActionMatchDecision Action = "MATCH_DECISION"
)

// Entry is one line of the activity log
type Entry struct {
	ID        string                 `json:"id"`
	ScanID    string                 `json:"scan_id,omitempty"`
	Actor     string                 `json:"actor"`
	Action    Action                 `json:"action"`
	Details   map[string]interface{} `json:"details,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Log is the append-only storage behind the tracker
type Log interface {
	AppendActivity(ctx context.Context, entry Entry) error
	ListActivity(ctx context.Context, scanID string) ([]Entry, error)
}

// Tracker records who decided what, since a verification row only keeps the latest decision
type Tracker struct {
	log Log
	now func() time.Time
}

// NewTracker creates a new audit tracker
func NewTracker(log Log) *Tracker {
	return &Tracker{log: log, now: time.Now}
}

// Record appends an entry, filling in the id and timestamp when missing
func (t *Tracker) Record(ctx context.Context, localDebug bool, entry Entry) error {
	debug.DebugHeader(localDebug)
	defer debug.DebugFooter(localDebug)

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = t.now().UTC()
	}

	debug.DebugOutput(localDebug, "Recording %s for scan %s by %s", entry.Action, entry.ScanID, entry.Actor)

	if err := t.log.AppendActivity(ctx, entry); err != nil {
		return fmt.Errorf("failed to record %s: %w", entry.Action, err)
	}
	return nil
}

// RecordMatch stores a matching outcome with its top candidates
func (t *Tracker) RecordMatch(ctx context.Context, localDebug bool, actor string, result match.Result) error {
	candidates := make([]map[string]interface{}, 0, 5)
	seen := make(map[string]bool)
	add := func(c *match.Candidate) {
		if c == nil || len(candidates) >= 5 || seen[c.Scan.ID] {
			return
		}
		seen[c.Scan.ID] = true
		candidates = append(candidates, map[string]interface{}{
			"scan_id": c.Scan.ID,
			"score":   c.Score,
		})
	}
	add(result.Match)
	add(result.Suggestion)
	for i := range result.Candidates {
		add(&result.Candidates[i])
	}

	var scanID string
	switch {
	case result.Match != nil:
		scanID = result.Match.Scan.ID
	case result.Suggestion != nil:
		scanID = result.Suggestion.Scan.ID
	}

	return t.Record(ctx, localDebug, Entry{
		ScanID: scanID,
		Actor:  actor,
		Action: ActionMatchDecision,
		Details: map[string]interface{}{
			"decision":           string(result.Decision),
			"confidence":         result.Confidence,
			"initiative":         result.Query.Initiative,
			"total_signatures":   result.Query.TotalSignatures,
			"candidates":         candidates,
			"processing_time_ms": result.ProcessingTime.Milliseconds(),
		},
	})
}

// History returns the activity for one scan, newest first
func (t *Tracker) History(ctx context.Context, localDebug bool, scanID string) ([]Entry, error) {
	debug.DebugHeader(localDebug)
	defer debug.DebugFooter(localDebug)

	entries, err := t.log.ListActivity(ctx, scanID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history for %s: %w", scanID, err)
	}

	debug.DebugOutput(localDebug, "Retrieved %d history entries for scan %s", len(entries), scanID)
	return entries, nil
}
