package verify

import (
	"context"

	"github.com/kolect-core/internal/scan"
	"github.com/kolect-core/internal/store"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// PendingPage is one page of the review queue
type PendingPage struct {
	Scans  []scan.Record `json:"scans"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// Pending lists scans awaiting review, newest first, optionally for one doubt reason
func (s *Service) Pending(ctx context.Context, reason *scan.DoubtReason, limit, offset int) (*PendingPage, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	filter := scan.Filter{
		Statuses:    []scan.Status{scan.StatusPending},
		DoubtReason: reason,
		Limit:       limit,
		Offset:      offset,
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	scans, err := s.store.FindScans(ctx, filter)
	if err != nil {
		return nil, &scan.RetrievalError{Op: "pending scans", Err: err}
	}
	total, err := s.store.CountScans(ctx, filter)
	if err != nil {
		return nil, &scan.RetrievalError{Op: "count pending scans", Err: err}
	}

	return &PendingPage{Scans: scans, Total: total, Limit: limit, Offset: offset}, nil
}

// Stats summarises the queue by status and doubt reason
func (s *Service) Stats(ctx context.Context) (*store.Stats, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, &scan.RetrievalError{Op: "stats", Err: err}
	}
	return stats, nil
}
