package scan

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
		want bool
	}{
		{StatusUnverified, StatusPending, true},
		{StatusUnverified, StatusApproved, true},
		{StatusUnverified, StatusRejected, true},
		{StatusPending, StatusApproved, true},
		{StatusPending, StatusRejected, true},
		{StatusPending, StatusPending, true},
		{StatusApproved, StatusApproved, true},
		{StatusApproved, StatusRejected, true},
		{StatusRejected, StatusApproved, true},
		{StatusApproved, StatusPending, false},
		{StatusRejected, StatusPending, false},
		{StatusPending, StatusUnverified, false},
		{StatusApproved, StatusUnverified, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		input  string
		want   Status
		wantOK bool
	}{
		{"approved", StatusApproved, true},
		{"REJECTED", StatusRejected, true},
		{" pending ", StatusPending, true},
		{"maybe", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseStatus(tt.input)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseStatus(%q) = (%v, %v), want (%v, %v)", tt.input, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestCheckCounts(t *testing.T) {
	tests := []struct {
		name    string
		valid   *int
		invalid *int
		total   *int
		want    bool
	}{
		{"consistent", IntPtr(8), IntPtr(2), IntPtr(10), true},
		{"inconsistent", IntPtr(8), IntPtr(2), IntPtr(11), false},
		{"unknown total", IntPtr(8), IntPtr(2), nil, true},
		{"unknown valid", nil, IntPtr(2), IntPtr(10), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Record{ValidSignatures: tt.valid, InvalidSigs: tt.invalid, TotalSignatures: tt.total}
			if got := r.CheckCounts(); got != tt.want {
				t.Errorf("CheckCounts() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStorageErrorTimeout(t *testing.T) {
	err := fmt.Errorf("find candidates: %w", &RetrievalError{Op: "query", Err: fmt.Errorf("wrapped: %w", context.DeadlineExceeded)})

	var re *RetrievalError
	if !errors.As(err, &re) {
		t.Fatalf("expected RetrievalError in chain, got %v", err)
	}
	if !re.Timeout() {
		t.Errorf("expected Timeout() to be true for deadline exceeded")
	}

	se := &StorageError{Op: "upsert", Err: errors.New("connection reset")}
	if se.Timeout() {
		t.Errorf("expected Timeout() to be false for a non-deadline error")
	}
}

func TestIsValidation(t *testing.T) {
	err := fmt.Errorf("approve: %w", &ValidationError{Field: "total_signatures", Message: "must not be negative"})
	if !IsValidation(err) {
		t.Errorf("expected wrapped ValidationError to be detected")
	}
	if IsValidation(ErrScanNotFound) {
		t.Errorf("ErrScanNotFound is not a validation error")
	}
}
