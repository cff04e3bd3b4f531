package db

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateSchema creates all tables needed by the service.
// Safe to call multiple times - uses IF NOT EXISTS.
func CreateSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

const schema = `
-- Collaborators (read only here, names are joined onto scans)
CREATE TABLE IF NOT EXISTS collaborators (
    id TEXT PRIMARY KEY,
    first_name TEXT NOT NULL DEFAULT '',
    last_name TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- Scans
CREATE TABLE IF NOT EXISTS scans (
    id TEXT PRIMARY KEY,
    collaborator_id TEXT NOT NULL,
    initiative_id TEXT,
    initiative_name TEXT NOT NULL DEFAULT '',
    valid_signatures INTEGER CHECK (valid_signatures >= 0),
    invalid_signatures INTEGER CHECK (invalid_signatures >= 0),
    total_signatures INTEGER CHECK (total_signatures >= 0),
    confidence_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    quality_score DOUBLE PRECISION,
    scan_type TEXT NOT NULL DEFAULT 'FIELD_COLLECTION'
        CHECK (scan_type IN ('FIELD_COLLECTION', 'VALIDATION_BATCH')),
    verification_status TEXT NOT NULL DEFAULT 'UNVERIFIED'
        CHECK (verification_status IN ('UNVERIFIED', 'PENDING', 'APPROVED', 'REJECTED')),
    doubt_reason TEXT,
    image_hash TEXT NOT NULL,
    analysis_method TEXT NOT NULL DEFAULT '',
    notes TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    deleted_at TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_scans_collaborator_hash
    ON scans(collaborator_id, image_hash) WHERE deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_scans_candidates
    ON scans(scan_type, initiative_name, total_signatures, created_at DESC) WHERE deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_scans_status ON scans(verification_status, doubt_reason);

-- Verifications: one row per scan, latest decision wins
CREATE TABLE IF NOT EXISTS verifications (
    scan_id TEXT PRIMARY KEY REFERENCES scans(id),
    reviewer_id TEXT NOT NULL,
    original_signatures INTEGER,
    corrected_signatures INTEGER,
    original_initiative TEXT NOT NULL DEFAULT '',
    corrected_initiative TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL CHECK (status IN ('APPROVED', 'REJECTED')),
    reviewer_notes TEXT NOT NULL DEFAULT '',
    doubt_reason TEXT,
    decided_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- Activity log, append only
CREATE TABLE IF NOT EXISTS activity_log (
    id TEXT PRIMARY KEY,
    scan_id TEXT,
    actor TEXT NOT NULL,
    action TEXT NOT NULL,
    details JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_activity_log_scan ON activity_log(scan_id, created_at DESC);
`
