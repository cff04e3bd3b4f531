// Package store defines the persistence contract for scans and verifications.
// Implementations live in store/postgres and store/memory.
package store

import (
	"context"
	"errors"

	"github.com/kolect-core/internal/scan"
)

// ErrDuplicateImage is returned by InsertScan when the collaborator already
// submitted an image with the same hash
var ErrDuplicateImage = errors.New("image already submitted by collaborator")

// MutateFunc receives the locked scan and its current verification (nil if
// never decided). It returns the scan to write back and, optionally, the
// verification to upsert. Returning an error aborts without writing.
type MutateFunc func(current scan.Record, existing *scan.Verification) (*scan.Record, *scan.Verification, error)

// ScanStore is the durable source of truth for scans
type ScanStore interface {
	FindScans(ctx context.Context, filter scan.Filter) ([]scan.Record, error)
	CountScans(ctx context.Context, filter scan.Filter) (int, error)
	GetScan(ctx context.Context, id string) (*scan.Record, error)
	FindDuplicate(ctx context.Context, collaboratorID, imageHash string) (*scan.Record, error)
	InsertScan(ctx context.Context, record scan.Record) error
	GetVerification(ctx context.Context, scanID string) (*scan.Verification, error)

	// Mutate applies fn atomically: the scan is locked, fn runs, then the
	// scan update and verification upsert commit together.
	Mutate(ctx context.Context, scanID string, fn MutateFunc) (*scan.Record, *scan.Verification, error)

	Stats(ctx context.Context) (*Stats, error)
}

// Stats summarises the review queue
type Stats struct {
	Unverified int                      `json:"unverified"`
	Pending    int                      `json:"pending"`
	Approved   int                      `json:"approved"`
	Rejected   int                      `json:"rejected"`
	ByReason   map[scan.DoubtReason]int `json:"by_reason"` // pending scans only
}

// Total is the number of live scans
func (s *Stats) Total() int {
	return s.Unverified + s.Pending + s.Approved + s.Rejected
}

// Add counts n scans with the given status and reason
func (s *Stats) Add(status scan.Status, reason *scan.DoubtReason, n int) {
	switch status {
	case scan.StatusUnverified:
		s.Unverified += n
	case scan.StatusPending:
		s.Pending += n
		if reason != nil {
			if s.ByReason == nil {
				s.ByReason = make(map[scan.DoubtReason]int)
			}
			s.ByReason[*reason] += n
		}
	case scan.StatusApproved:
		s.Approved += n
	case scan.StatusRejected:
		s.Rejected += n
	}
}
