package validation

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestValidateUserCode(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantErr bool
	}{
		{
			name: "valid display format",
			code: "BCDF-GHJK",
		},
		{
			name: "valid normalized",
			code: "BCDFGHJK",
		},
		{
			name: "valid lowercase input",
			code: "bcdf-ghjk",
		},
		{
			name: "valid with surrounding whitespace",
			code: "  BCDF-GHJK  ",
		},
		{
			name: "valid with digits",
			code: "BCD2-GH79",
		},
		{
			name:    "too short",
			code:    "BCDF",
			wantErr: true,
		},
		{
			name:    "too long",
			code:    "BCDFGHJKMNPQ",
			wantErr: true,
		},
		{
			name:    "ambiguous zero",
			code:    "BCD0-GHJK",
			wantErr: true,
		},
		{
			name:    "ambiguous letter O",
			code:    "BCDO-GHJK",
			wantErr: true,
		},
		{
			name:    "ambiguous letter I",
			code:    "BCDI-GHJK",
			wantErr: true,
		},
		{
			name:    "punctuation",
			code:    "BCDF*GHJK",
			wantErr: true,
		},
		{
			name:    "empty",
			code:    "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUserCode(tt.code)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateUserCode(%q) error = %v, wantErr = %v", tt.code, err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeCode(t *testing.T) {
	tests := []struct {
		name string
		code string
		want string
	}{
		{"display format", "BCDF-GHJK", "BCDFGHJK"},
		{"lowercase", "bcdf-ghjk", "BCDFGHJK"},
		{"whitespace", "  BCDF GHJK ", "BCDFGHJK"},
		{"already normalized", "BCDFGHJK", "BCDFGHJK"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, NormalizeCode(tt.code)); diff != "" {
				t.Errorf("NormalizeCode(%q) mismatch (-want +got):\n%s", tt.code, diff)
			}
		})
	}
}

func TestFormatCode(t *testing.T) {
	tests := []struct {
		name string
		code string
		want string
	}{
		{"eight characters", "BCDFGHJK", "BCDF-GHJK"},
		{"ten characters", "BCDFGHJKMN", "BCDFG-HJKMN"},
		{"too short passes through", "BCD", "BCD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, FormatCode(tt.code)); diff != "" {
				t.Errorf("FormatCode(%q) mismatch (-want +got):\n%s", tt.code, diff)
			}
		})
	}
}

func TestFormatNormalizeRoundTrip(t *testing.T) {
	code := "BCDFGHJK"
	if got := NormalizeCode(FormatCode(code)); got != code {
		t.Errorf("round trip produced %q, want %q", got, code)
	}
}
