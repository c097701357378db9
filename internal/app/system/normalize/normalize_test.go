package normalize

import "testing"

func TestEmail(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"user@example.com", "user@example.com"},
		{"USER@EXAMPLE.COM", "user@example.com"},
		{"  User@Example.Com  ", "user@example.com"},
		{"", ""},
		{"   ", ""},
		{"Mixed.Case@Domain.ORG", "mixed.case@domain.org"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := Email(tt.input)
			if got != tt.want {
				t.Errorf("Email(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Ромашка", "Ромашка"},
		{"  ООО  Ромашка  ", "ООО Ромашка"},
		{"", ""},
		{"   ", ""},
		{"UPPER\tCASE", "UPPER CASE"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := Name(tt.input)
			if got != tt.want {
				t.Errorf("Name(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestText(t *testing.T) {
	if got := Text("  line one\n  line two  "); got != "line one\n  line two" {
		t.Errorf("Text kept wrong content: %q", got)
	}
}

func TestObjectID(t *testing.T) {
	if got := ObjectID("  507F1F77BCF86CD799439011 "); got != "507f1f77bcf86cd799439011" {
		t.Errorf("ObjectID = %q", got)
	}
}
