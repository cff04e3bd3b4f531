package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kolect-core/internal/audit"
	"github.com/kolect-core/internal/db"
	"github.com/kolect-core/internal/scan"
	"github.com/kolect-core/internal/store"
)

func TestWhereClause(t *testing.T) {
	fieldCollection := scan.TypeFieldCollection
	initiative := "Forêt"
	lower, upper := 8, 12
	after := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	where, args := whereClause(scan.Filter{
		ScanType:      &fieldCollection,
		Statuses:      []scan.Status{scan.StatusUnverified, scan.StatusPending},
		Initiative:    &initiative,
		MinSignatures: &lower,
		MaxSignatures: &upper,
		CreatedAfter:  &after,
	})

	wantParts := []string{
		"s.deleted_at IS NULL",
		"s.scan_type = $1",
		"s.verification_status = ANY($2)",
		"s.initiative_name = $3",
		"s.total_signatures >= $4",
		"s.total_signatures <= $5",
		"s.created_at >= $6",
	}
	for _, part := range wantParts {
		if !strings.Contains(where, part) {
			t.Errorf("where clause %q missing %q", where, part)
		}
	}
	if len(args) != 6 {
		t.Errorf("len(args) = %d, want 6", len(args))
	}

	empty, noArgs := whereClause(scan.Filter{})
	if empty != " WHERE s.deleted_at IS NULL" || len(noArgs) != 0 {
		t.Errorf("empty filter = %q with %d args", empty, len(noArgs))
	}
}

// setupTestDB connects to TEST_DATABASE_URL and resets the schema
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	conn, err := db.Open(ctx, url)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	_, err = conn.DB.ExecContext(ctx, `
		DROP TABLE IF EXISTS activity_log CASCADE;
		DROP TABLE IF EXISTS verifications CASCADE;
		DROP TABLE IF EXISTS scans CASCADE;
		DROP TABLE IF EXISTS collaborators CASCADE;
	`)
	if err != nil {
		t.Fatalf("Failed to clean database: %v", err)
	}
	if err := db.CreateSchema(ctx, conn.DB); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}

	t.Cleanup(func() { conn.Close() })
	return conn.DB
}

func TestStoreIntegration(t *testing.T) {
	database := setupTestDB(t)
	s := New(database)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	if err := s.SaveCollaborator(ctx, "c1", "Jean", "Dupont"); err != nil {
		t.Fatalf("SaveCollaborator() error = %v", err)
	}

	record := scan.Record{
		ID:              "scan-1",
		CollaboratorID:  "c1",
		InitiativeName:  "Forêt",
		ValidSignatures: scan.IntPtr(9),
		InvalidSigs:     scan.IntPtr(1),
		TotalSignatures: scan.IntPtr(10),
		ConfidenceScore: 0.9,
		ScanType:        scan.TypeFieldCollection,
		Status:          scan.StatusUnverified,
		ImageHash:       "abc",
		CreatedAt:       now,
	}
	if err := s.InsertScan(ctx, record); err != nil {
		t.Fatalf("InsertScan() error = %v", err)
	}

	record.ID = "scan-2"
	if err := s.InsertScan(ctx, record); !errors.Is(err, store.ErrDuplicateImage) {
		t.Fatalf("duplicate InsertScan() error = %v, want ErrDuplicateImage", err)
	}

	fieldCollection := scan.TypeFieldCollection
	initiative := "Forêt"
	lower, upper := 8, 12
	found, err := s.FindScans(ctx, scan.Filter{
		ScanType:      &fieldCollection,
		Statuses:      []scan.Status{scan.StatusUnverified, scan.StatusPending},
		Initiative:    &initiative,
		MinSignatures: &lower,
		MaxSignatures: &upper,
		Limit:         20,
	})
	if err != nil {
		t.Fatalf("FindScans() error = %v", err)
	}
	if len(found) != 1 || found[0].CollaboratorName != "Jean Dupont" {
		t.Fatalf("FindScans() = %+v", found)
	}

	approve := func(total int) store.MutateFunc {
		return func(current scan.Record, existing *scan.Verification) (*scan.Record, *scan.Verification, error) {
			v := &scan.Verification{
				ReviewerID:          "r1",
				OriginalSignatures:  current.TotalSignatures,
				CorrectedSignatures: scan.IntPtr(total),
				OriginalInitiative:  current.InitiativeName,
				CorrectedInitiative: current.InitiativeName,
				Status:              scan.StatusApproved,
				DecidedAt:           now,
			}
			current.TotalSignatures = scan.IntPtr(total)
			current.Status = scan.StatusApproved
			return &current, v, nil
		}
	}

	if _, _, err := s.Mutate(ctx, "scan-1", approve(11)); err != nil {
		t.Fatalf("first Mutate() error = %v", err)
	}
	updated, v, err := s.Mutate(ctx, "scan-1", approve(12))
	if err != nil {
		t.Fatalf("second Mutate() error = %v", err)
	}
	if *updated.TotalSignatures != 12 || updated.Status != scan.StatusApproved {
		t.Errorf("scan after approve = %+v", updated)
	}
	if *v.OriginalSignatures != 10 || *v.CorrectedSignatures != 12 {
		t.Errorf("verification = %+v, want original 10 kept and corrected 12", v)
	}

	var count int
	if err := database.QueryRowContext(ctx, `SELECT COUNT(*) FROM verifications WHERE scan_id = 'scan-1'`).Scan(&count); err != nil {
		t.Fatalf("count verifications: %v", err)
	}
	if count != 1 {
		t.Errorf("verifications for scan-1 = %d, want 1", count)
	}

	if _, _, err := s.Mutate(ctx, "missing", approve(1)); !errors.Is(err, scan.ErrScanNotFound) {
		t.Errorf("Mutate(missing) error = %v, want ErrScanNotFound", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Approved != 1 {
		t.Errorf("Stats() = %+v", stats)
	}

	entry := audit.Entry{ID: "e1", ScanID: "scan-1", Actor: "r1", Action: audit.ActionApprove,
		Details: map[string]interface{}{"total": 12}, CreatedAt: now}
	if err := s.AppendActivity(ctx, entry); err != nil {
		t.Fatalf("AppendActivity() error = %v", err)
	}
	entries, err := s.ListActivity(ctx, "scan-1")
	if err != nil || len(entries) != 1 || entries[0].Action != audit.ActionApprove {
		t.Errorf("ListActivity() = %+v, %v", entries, err)
	}

	// concurrent decisions on one scan serialise on the row lock
	record.ID = "scan-3"
	record.ImageHash = "def"
	if err := s.InsertScan(ctx, record); err != nil {
		t.Fatalf("InsertScan(scan-3) error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		status := scan.StatusApproved
		if i%2 == 1 {
			status = scan.StatusRejected
		}
		wg.Add(1)
		go func(total int, status scan.Status) {
			defer wg.Done()
			_, _, err := s.Mutate(ctx, "scan-3", func(current scan.Record, existing *scan.Verification) (*scan.Record, *scan.Verification, error) {
				v := &scan.Verification{
					ReviewerID:          "r1",
					OriginalSignatures:  current.TotalSignatures,
					CorrectedSignatures: scan.IntPtr(total),
					OriginalInitiative:  current.InitiativeName,
					CorrectedInitiative: current.InitiativeName,
					Status:              status,
					DecidedAt:           now,
				}
				current.Status = status
				current.TotalSignatures = scan.IntPtr(total)
				return &current, v, nil
			})
			if err != nil {
				t.Errorf("concurrent Mutate() error = %v", err)
			}
		}(30+i, status)
	}
	wg.Wait()

	if err := database.QueryRowContext(ctx, `SELECT COUNT(*) FROM verifications WHERE scan_id = 'scan-3'`).Scan(&count); err != nil {
		t.Fatalf("count verifications: %v", err)
	}
	if count != 1 {
		t.Errorf("verifications for scan-3 = %d, want 1", count)
	}
	final, err := s.GetVerification(ctx, "scan-3")
	if err != nil || final == nil {
		t.Fatalf("GetVerification(scan-3) = %v, %v", final, err)
	}
	if *final.OriginalSignatures != 10 {
		t.Errorf("original signatures = %d, want 10 from before the first decision", *final.OriginalSignatures)
	}
	decided, err := s.GetScan(ctx, "scan-3")
	if err != nil {
		t.Fatalf("GetScan(scan-3) error = %v", err)
	}
	if decided.Status != final.Status || *decided.TotalSignatures != *final.CorrectedSignatures {
		t.Errorf("scan %s/%d and verification %s/%d disagree",
			decided.Status, *decided.TotalSignatures, final.Status, *final.CorrectedSignatures)
	}
}
