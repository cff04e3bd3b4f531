package normalize

import (
	"testing"
)

func TestName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lower case", "Jean Dupont", "jean dupont"},
		{"umlaut", "Müller", "muller"},
		{"french accents", "Hélène Français", "helene francais"},
		{"cedilla and grave", "François à Çà", "francois a ca"},
		{"punctuation dropped", "O'Brien-Smith, Jr.", "obriensmith jr"},
		{"whitespace collapsed", "  Anne   Marie\tRoux \n", "anne marie roux"},
		{"digits dropped", "Agent 007", "agent"},
		{"eszett folded", "Strauß", "strauss"},
		{"scandinavian", "Søren Ærø", "soren aero"},
		{"empty", "", ""},
		{"only symbols", "!!! ###", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Name(tt.input); got != tt.want {
				t.Errorf("Name(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestFullName(t *testing.T) {
	tests := []struct {
		first string
		last  string
		want  string
	}{
		{"Jean", "Dupont", "Jean Dupont"},
		{" Jean ", "", "Jean"},
		{"", "Dupont", "Dupont"},
		{"", "", ""},
	}

	for _, tt := range tests {
		if got := FullName(tt.first, tt.last); got != tt.want {
			t.Errorf("FullName(%q, %q) = %q, want %q", tt.first, tt.last, got, tt.want)
		}
	}
}
