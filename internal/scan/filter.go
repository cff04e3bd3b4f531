package scan

import "time"

// Filter selects scans from the store. Nil fields are not constrained.
// Results are always newest first.
type Filter struct {
	ScanType      *Type
	Statuses      []Status
	Initiative    *string
	MinSignatures *int
	MaxSignatures *int
	CreatedAfter  *time.Time
	DoubtReason   *DoubtReason
	Limit         int
	Offset        int
}
