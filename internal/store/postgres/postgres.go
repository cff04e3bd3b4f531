// Package postgres implements the scan store on PostgreSQL via lib/pq
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/kolect-core/internal/audit"
	"github.com/kolect-core/internal/scan"
	"github.com/kolect-core/internal/store"
)

const uniqueViolation = "23505"

const scanColumns = `
	s.id, s.collaborator_id, COALESCE(TRIM(c.first_name || ' ' || c.last_name), ''),
	s.initiative_id, s.initiative_name,
	s.valid_signatures, s.invalid_signatures, s.total_signatures,
	s.confidence_score, s.quality_score, s.scan_type, s.verification_status,
	s.doubt_reason, s.image_hash, s.analysis_method, s.notes, s.created_at, s.deleted_at`

const scanFrom = `
	FROM scans s
	LEFT JOIN collaborators c ON c.id = s.collaborator_id`

const verificationColumns = `
	scan_id, reviewer_id, original_signatures, corrected_signatures,
	original_initiative, corrected_initiative, status, reviewer_notes,
	doubt_reason, decided_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store is a ScanStore and activity log backed by PostgreSQL
type Store struct {
	db *sql.DB
}

// New wraps an open database
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// SaveCollaborator upserts the name shown for a collaborator's scans
func (s *Store) SaveCollaborator(ctx context.Context, id, firstName, lastName string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collaborators (id, first_name, last_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name
	`, id, firstName, lastName)
	if err != nil {
		return fmt.Errorf("failed to save collaborator %s: %w", id, err)
	}
	return nil
}

// InsertScan stores a new scan. A second image with the same hash from the
// same collaborator fails with store.ErrDuplicateImage.
func (s *Store) InsertScan(ctx context.Context, r scan.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scans (
			id, collaborator_id, initiative_id, initiative_name,
			valid_signatures, invalid_signatures, total_signatures,
			confidence_score, quality_score, scan_type, verification_status,
			doubt_reason, image_hash, analysis_method, notes, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, r.ID, r.CollaboratorID, nullString(r.InitiativeID), r.InitiativeName,
		nullInt(r.ValidSignatures), nullInt(r.InvalidSigs), nullInt(r.TotalSignatures),
		r.ConfidenceScore, nullFloat(r.QualityScore), string(r.ScanType), string(r.Status),
		nullReason(r.DoubtReason), r.ImageHash, r.AnalysisMethod, r.Notes, r.CreatedAt)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && pqErr.Constraint == "idx_scans_collaborator_hash" {
			return store.ErrDuplicateImage
		}
		return fmt.Errorf("failed to insert scan %s: %w", r.ID, err)
	}
	return nil
}

// GetScan returns a live scan or scan.ErrScanNotFound
func (s *Store) GetScan(ctx context.Context, id string) (*scan.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scanColumns+scanFrom+`
		WHERE s.id = $1 AND s.deleted_at IS NULL`, id)

	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, scan.ErrScanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scan %s: %w", id, err)
	}
	return &record, nil
}

// FindDuplicate returns the earlier scan with the same collaborator and hash, or nil
func (s *Store) FindDuplicate(ctx context.Context, collaboratorID, imageHash string) (*scan.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scanColumns+scanFrom+`
		WHERE s.collaborator_id = $1 AND s.image_hash = $2 AND s.deleted_at IS NULL
		ORDER BY s.created_at ASC
		LIMIT 1`, collaboratorID, imageHash)

	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check duplicate: %w", err)
	}
	return &record, nil
}

// whereClause turns a filter into SQL conditions and positional args
func whereClause(f scan.Filter) (string, []interface{}) {
	conditions := []string{"s.deleted_at IS NULL"}
	var args []interface{}

	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}

	if f.ScanType != nil {
		add("s.scan_type = $%d", string(*f.ScanType))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, status := range f.Statuses {
			statuses[i] = string(status)
		}
		add("s.verification_status = ANY($%d)", pq.Array(statuses))
	}
	if f.Initiative != nil {
		add("s.initiative_name = $%d", *f.Initiative)
	}
	if f.MinSignatures != nil {
		add("s.total_signatures >= $%d", *f.MinSignatures)
	}
	if f.MaxSignatures != nil {
		add("s.total_signatures <= $%d", *f.MaxSignatures)
	}
	if f.CreatedAfter != nil {
		add("s.created_at >= $%d", *f.CreatedAfter)
	}
	if f.DoubtReason != nil {
		add("s.doubt_reason = $%d", string(*f.DoubtReason))
	}

	return " WHERE " + strings.Join(conditions, " AND "), args
}

// FindScans returns live scans matching the filter, newest first
func (s *Store) FindScans(ctx context.Context, f scan.Filter) ([]scan.Record, error) {
	where, args := whereClause(f)
	query := `SELECT ` + scanColumns + scanFrom + where + ` ORDER BY s.created_at DESC, s.id`

	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scans: %w", err)
	}
	defer rows.Close()

	records := make([]scan.Record, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to read scan row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate scans: %w", err)
	}
	return records, nil
}

// CountScans counts live scans matching the filter, ignoring limit and offset
func (s *Store) CountScans(ctx context.Context, f scan.Filter) (int, error) {
	where, args := whereClause(f)

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scans s`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count scans: %w", err)
	}
	return count, nil
}

// GetVerification returns the decision for a scan, or nil if none was made
func (s *Store) GetVerification(ctx context.Context, scanID string) (*scan.Verification, error) {
	return getVerification(ctx, s.db, scanID)
}

func getVerification(ctx context.Context, q queryer, scanID string) (*scan.Verification, error) {
	row := q.QueryRowContext(ctx, `SELECT `+verificationColumns+` FROM verifications WHERE scan_id = $1`, scanID)

	v, err := scanVerification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get verification for %s: %w", scanID, err)
	}
	return &v, nil
}

// Mutate locks the scan row, runs fn and commits the scan update and the
// verification upsert in one transaction. Original values on an existing
// verification are never overwritten.
func (s *Store) Mutate(ctx context.Context, scanID string, fn store.MutateFunc) (*scan.Record, *scan.Verification, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+scanColumns+scanFrom+`
		WHERE s.id = $1 AND s.deleted_at IS NULL
		FOR UPDATE OF s`, scanID)
	current, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, scan.ErrScanNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to lock scan %s: %w", scanID, err)
	}

	existing, err := getVerification(ctx, tx, scanID)
	if err != nil {
		return nil, nil, err
	}

	updated, verification, err := fn(current, existing)
	if err != nil {
		return nil, nil, err
	}

	if updated != nil {
		_, err = tx.ExecContext(ctx, `
			UPDATE scans SET
				initiative_id = $2,
				initiative_name = $3,
				valid_signatures = $4,
				invalid_signatures = $5,
				total_signatures = $6,
				verification_status = $7,
				doubt_reason = $8,
				notes = $9
			WHERE id = $1
		`, scanID, nullString(updated.InitiativeID), updated.InitiativeName,
			nullInt(updated.ValidSignatures), nullInt(updated.InvalidSigs), nullInt(updated.TotalSignatures),
			string(updated.Status), nullReason(updated.DoubtReason), updated.Notes)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to update scan %s: %w", scanID, err)
		}
	}

	if verification != nil {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO verifications (`+verificationColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (scan_id) DO UPDATE SET
				reviewer_id = EXCLUDED.reviewer_id,
				corrected_signatures = EXCLUDED.corrected_signatures,
				corrected_initiative = EXCLUDED.corrected_initiative,
				status = EXCLUDED.status,
				reviewer_notes = EXCLUDED.reviewer_notes,
				doubt_reason = EXCLUDED.doubt_reason,
				decided_at = EXCLUDED.decided_at
		`, scanID, verification.ReviewerID,
			nullInt(verification.OriginalSignatures), nullInt(verification.CorrectedSignatures),
			verification.OriginalInitiative, verification.CorrectedInitiative,
			string(verification.Status), verification.ReviewerNotes,
			nullReason(verification.DoubtReason), verification.DecidedAt)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to upsert verification for %s: %w", scanID, err)
		}
	}

	row = tx.QueryRowContext(ctx, `SELECT `+scanColumns+scanFrom+` WHERE s.id = $1`, scanID)
	record, err := scanRecord(row)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to reload scan %s: %w", scanID, err)
	}
	stored, err := getVerification(ctx, tx, scanID)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return &record, stored, nil
}

// Stats counts live scans by status and pending scans by doubt reason
func (s *Store) Stats(ctx context.Context) (*store.Stats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT verification_status, doubt_reason, COUNT(*)
		FROM scans
		WHERE deleted_at IS NULL
		GROUP BY verification_status, doubt_reason
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	stats := &store.Stats{ByReason: make(map[scan.DoubtReason]int)}
	for rows.Next() {
		var status string
		var reason sql.NullString
		var count int
		if err := rows.Scan(&status, &reason, &count); err != nil {
			return nil, fmt.Errorf("failed to read stats row: %w", err)
		}
		stats.Add(scan.Status(status), reasonPtr(reason), count)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stats: %w", err)
	}
	return stats, nil
}

// AppendActivity writes one activity log entry
func (s *Store) AppendActivity(ctx context.Context, entry audit.Entry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("failed to encode activity details: %w", err)
	}

	var scanID interface{}
	if entry.ScanID != "" {
		scanID = entry.ScanID
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO activity_log (id, scan_id, actor, action, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.ID, scanID, entry.Actor, string(entry.Action), string(details), entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert activity: %w", err)
	}
	return nil
}

// ListActivity returns entries for a scan, newest first
func (s *Store) ListActivity(ctx context.Context, scanID string) ([]audit.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(scan_id, ''), actor, action, details, created_at
		FROM activity_log
		WHERE scan_id = $1
		ORDER BY created_at DESC
	`, scanID)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity: %w", err)
	}
	defer rows.Close()

	entries := make([]audit.Entry, 0)
	for rows.Next() {
		var entry audit.Entry
		var action string
		var details []byte
		if err := rows.Scan(&entry.ID, &entry.ScanID, &entry.Actor, &action, &details, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to read activity row: %w", err)
		}
		entry.Action = audit.Action(action)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &entry.Details); err != nil {
				return nil, fmt.Errorf("failed to decode activity %s: %w", entry.ID, err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate activity: %w", err)
	}
	return entries, nil
}

func scanRecord(row rowScanner) (scan.Record, error) {
	var r scan.Record
	var initiativeID, doubtReason sql.NullString
	var valid, invalid, total sql.NullInt64
	var quality sql.NullFloat64
	var scanType, status string
	var deletedAt sql.NullTime

	err := row.Scan(
		&r.ID, &r.CollaboratorID, &r.CollaboratorName,
		&initiativeID, &r.InitiativeName,
		&valid, &invalid, &total,
		&r.ConfidenceScore, &quality, &scanType, &status,
		&doubtReason, &r.ImageHash, &r.AnalysisMethod, &r.Notes, &r.CreatedAt, &deletedAt,
	)
	if err != nil {
		return scan.Record{}, err
	}

	if initiativeID.Valid {
		r.InitiativeID = &initiativeID.String
	}
	r.ValidSignatures = intPtr(valid)
	r.InvalidSigs = intPtr(invalid)
	r.TotalSignatures = intPtr(total)
	if quality.Valid {
		r.QualityScore = &quality.Float64
	}
	r.ScanType = scan.Type(scanType)
	r.Status = scan.Status(status)
	r.DoubtReason = reasonPtr(doubtReason)
	if deletedAt.Valid {
		r.DeletedAt = &deletedAt.Time
	}
	return r, nil
}

func scanVerification(row rowScanner) (scan.Verification, error) {
	var v scan.Verification
	var original, corrected sql.NullInt64
	var status string
	var doubtReason sql.NullString

	err := row.Scan(
		&v.ScanID, &v.ReviewerID, &original, &corrected,
		&v.OriginalInitiative, &v.CorrectedInitiative, &status, &v.ReviewerNotes,
		&doubtReason, &v.DecidedAt,
	)
	if err != nil {
		return scan.Verification{}, err
	}

	v.OriginalSignatures = intPtr(original)
	v.CorrectedSignatures = intPtr(corrected)
	v.Status = scan.Status(status)
	v.DoubtReason = reasonPtr(doubtReason)
	return v, nil
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func reasonPtr(s sql.NullString) *scan.DoubtReason {
	if !s.Valid || s.String == "" {
		return nil
	}
	r := scan.DoubtReason(s.String)
	return &r
}

func nullInt(p *int) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func nullFloat(p *float64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func nullString(p *string) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func nullReason(p *scan.DoubtReason) interface{} {
	if p == nil {
		return nil
	}
	return string(*p)
}
