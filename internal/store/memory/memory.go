// Package memory is an in-process ScanStore used by tests and the CLI's
// dry-run mode. A single mutex serialises writes like a row lock would.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/kolect-core/internal/audit"
	"github.com/kolect-core/internal/normalize"
	"github.com/kolect-core/internal/scan"
	"github.com/kolect-core/internal/store"
)

// Store keeps scans, verifications and activity in maps
type Store struct {
	mu            sync.Mutex
	scans         map[string]scan.Record
	verifications map[string]scan.Verification
	collaborators map[string]string
	activity      []audit.Entry
}

// New creates an empty store
func New() *Store {
	return &Store{
		scans:         make(map[string]scan.Record),
		verifications: make(map[string]scan.Verification),
		collaborators: make(map[string]string),
	}
}

// SaveCollaborator registers the display name used for a collaborator's scans
func (s *Store) SaveCollaborator(ctx context.Context, id, firstName, lastName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.collaborators[id] = normalize.FullName(firstName, lastName)
	return nil
}

// InsertScan stores a new scan
func (s *Store) InsertScan(ctx context.Context, record scan.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.scans {
		if existing.DeletedAt == nil && existing.CollaboratorID == record.CollaboratorID && existing.ImageHash == record.ImageHash {
			return store.ErrDuplicateImage
		}
	}

	if name, ok := s.collaborators[record.CollaboratorID]; ok {
		record.CollaboratorName = name
	}
	s.scans[record.ID] = copyRecord(record)
	return nil
}

// GetScan returns a live scan or scan.ErrScanNotFound
func (s *Store) GetScan(ctx context.Context, id string) (*scan.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.scans[id]
	if !ok || record.DeletedAt != nil {
		return nil, scan.ErrScanNotFound
	}
	out := copyRecord(record)
	return &out, nil
}

// FindDuplicate returns the earlier scan with the same collaborator and hash, or nil
func (s *Store) FindDuplicate(ctx context.Context, collaboratorID, imageHash string) (*scan.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, record := range s.scans {
		if record.DeletedAt == nil && record.CollaboratorID == collaboratorID && record.ImageHash == imageHash {
			out := copyRecord(record)
			return &out, nil
		}
	}
	return nil, nil
}

// FindScans returns live scans matching the filter, newest first
func (s *Store) FindScans(ctx context.Context, filter scan.Filter) ([]scan.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	matched := s.filterLocked(filter)
	s.mu.Unlock()

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []scan.Record{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// CountScans counts live scans matching the filter, ignoring limit and offset
func (s *Store) CountScans(ctx context.Context, filter scan.Filter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.filterLocked(filter)), nil
}

func (s *Store) filterLocked(filter scan.Filter) []scan.Record {
	matched := make([]scan.Record, 0)
	for _, record := range s.scans {
		if matches(record, filter) {
			matched = append(matched, copyRecord(record))
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return matched
}

func matches(record scan.Record, f scan.Filter) bool {
	if record.DeletedAt != nil {
		return false
	}
	if f.ScanType != nil && record.ScanType != *f.ScanType {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, status := range f.Statuses {
			if record.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Initiative != nil && record.InitiativeName != *f.Initiative {
		return false
	}
	if f.MinSignatures != nil && (record.TotalSignatures == nil || *record.TotalSignatures < *f.MinSignatures) {
		return false
	}
	if f.MaxSignatures != nil && (record.TotalSignatures == nil || *record.TotalSignatures > *f.MaxSignatures) {
		return false
	}
	if f.CreatedAfter != nil && record.CreatedAt.Before(*f.CreatedAfter) {
		return false
	}
	if f.DoubtReason != nil && (record.DoubtReason == nil || *record.DoubtReason != *f.DoubtReason) {
		return false
	}
	return true
}

// GetVerification returns the decision for a scan, or nil if none was made
func (s *Store) GetVerification(ctx context.Context, scanID string) (*scan.Verification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.verifications[scanID]
	if !ok {
		return nil, nil
	}
	out := copyVerification(v)
	return &out, nil
}

// Mutate runs fn with the store locked and writes its results back together
func (s *Store) Mutate(ctx context.Context, scanID string, fn store.MutateFunc) (*scan.Record, *scan.Verification, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.scans[scanID]
	if !ok || current.DeletedAt != nil {
		return nil, nil, scan.ErrScanNotFound
	}

	var existing *scan.Verification
	if v, ok := s.verifications[scanID]; ok {
		c := copyVerification(v)
		existing = &c
	}

	updated, verification, err := fn(copyRecord(current), existing)
	if err != nil {
		return nil, nil, err
	}

	if updated != nil {
		// id, owner, hash and creation time never change
		next := copyRecord(*updated)
		next.ID = current.ID
		next.CollaboratorID = current.CollaboratorID
		next.CollaboratorName = current.CollaboratorName
		next.ImageHash = current.ImageHash
		next.CreatedAt = current.CreatedAt
		s.scans[scanID] = next
	}

	if verification != nil {
		next := copyVerification(*verification)
		next.ScanID = scanID
		if existing != nil {
			next.OriginalSignatures = existing.OriginalSignatures
			next.OriginalInitiative = existing.OriginalInitiative
		}
		s.verifications[scanID] = next
	}

	record := copyRecord(s.scans[scanID])
	var outVerification *scan.Verification
	if v, ok := s.verifications[scanID]; ok {
		c := copyVerification(v)
		outVerification = &c
	}
	return &record, outVerification, nil
}

// Stats counts live scans by status and pending scans by doubt reason
func (s *Store) Stats(ctx context.Context) (*store.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &store.Stats{ByReason: make(map[scan.DoubtReason]int)}
	for _, record := range s.scans {
		if record.DeletedAt != nil {
			continue
		}
		stats.Add(record.Status, record.DoubtReason, 1)
	}
	return stats, nil
}

// AppendActivity adds an entry to the activity log
func (s *Store) AppendActivity(ctx context.Context, entry audit.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.activity = append(s.activity, entry)
	return nil
}

// ListActivity returns entries for a scan, newest first
func (s *Store) ListActivity(ctx context.Context, scanID string) ([]audit.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]audit.Entry, 0)
	for i := len(s.activity) - 1; i >= 0; i-- {
		if s.activity[i].ScanID == scanID {
			out = append(out, s.activity[i])
		}
	}
	return out, nil
}

// copyRecord detaches the pointer fields so callers cannot mutate stored rows
func copyRecord(r scan.Record) scan.Record {
	r.InitiativeID = copyString(r.InitiativeID)
	r.ValidSignatures = copyInt(r.ValidSignatures)
	r.InvalidSigs = copyInt(r.InvalidSigs)
	r.TotalSignatures = copyInt(r.TotalSignatures)
	if r.QualityScore != nil {
		q := *r.QualityScore
		r.QualityScore = &q
	}
	if r.DoubtReason != nil {
		d := *r.DoubtReason
		r.DoubtReason = &d
	}
	if r.DeletedAt != nil {
		t := *r.DeletedAt
		r.DeletedAt = &t
	}
	return r
}

func copyVerification(v scan.Verification) scan.Verification {
	v.OriginalSignatures = copyInt(v.OriginalSignatures)
	v.CorrectedSignatures = copyInt(v.CorrectedSignatures)
	if v.DoubtReason != nil {
		d := *v.DoubtReason
		v.DoubtReason = &d
	}
	return v
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
