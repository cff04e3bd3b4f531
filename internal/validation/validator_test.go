package validation

import (
	"errors"
	"testing"

	"github.com/kolect-core/internal/scan"
)

type sample struct {
	Initiative string `json:"initiative" validate:"notblank"`
	Total      *int   `json:"total_signatures" validate:"required,gte=0"`
	Status     string `json:"status" validate:"omitempty,oneof=APPROVED REJECTED"`
}

func TestStruct(t *testing.T) {
	tests := []struct {
		name      string
		input     sample
		wantField string
	}{
		{"valid", sample{Initiative: "Forêt", Total: scan.IntPtr(3)}, ""},
		{"zero total is allowed", sample{Initiative: "Forêt", Total: scan.IntPtr(0)}, ""},
		{"blank initiative", sample{Initiative: "   ", Total: scan.IntPtr(3)}, "initiative"},
		{"missing total", sample{Initiative: "Forêt"}, "total_signatures"},
		{"negative total", sample{Initiative: "Forêt", Total: scan.IntPtr(-1)}, "total_signatures"},
		{"bad status", sample{Initiative: "Forêt", Total: scan.IntPtr(1), Status: "MAYBE"}, "status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Struct(tt.input)

			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Struct() error = %v, want nil", err)
				}
				return
			}

			var ve *scan.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("Struct() error = %v, want ValidationError", err)
			}
			if ve.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", ve.Field, tt.wantField)
			}
		})
	}
}

func TestFields(t *testing.T) {
	err := Struct(sample{Initiative: "", Total: scan.IntPtr(-5)})
	fields := Fields(err)

	if _, ok := fields["initiative"]; !ok {
		t.Errorf("Fields() = %v, want initiative entry", fields)
	}
}
