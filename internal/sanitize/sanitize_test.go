package sanitize

import (
	"strings"
	"testing"
)

func TestIdentifier(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "simple lowercase",
			input:    "docqa_documents",
			expected: "docqa_documents",
		},
		{
			name:     "uppercase conversion",
			input:    "Reports",
			expected: "reports",
		},
		{
			name:     "dashes and spaces",
			input:    "annual reports-2024",
			expected: "annual_reports_2024",
		},
		{
			name:     "multiple underscores collapsed",
			input:    "foo___bar",
			expected: "foo_bar",
		},
		{
			name:     "leading/trailing underscores trimmed",
			input:    "_foo_bar_",
			expected: "foo_bar",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "default",
		},
		{
			name:     "only invalid chars",
			input:    "!!!",
			expected: "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Identifier(tt.input)
			if result != tt.expected {
				t.Errorf("Identifier(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestIdentifier_LengthLimit(t *testing.T) {
	result := Identifier(strings.Repeat("a", 100))
	if len(result) != MaxIdentifierLength {
		t.Errorf("Identifier should be %d chars, got %d", MaxIdentifierLength, len(result))
	}

	other := Identifier(strings.Repeat("a", 99) + "b")
	if result == other {
		t.Error("Different inputs should produce different hashed outputs")
	}

	exact := strings.Repeat("a", MaxIdentifierLength)
	if got := Identifier(exact); got != exact {
		t.Errorf("Input at max length should not be modified, got %q", got)
	}
}

func TestFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain", "report.pdf", "report.pdf"},
		{"spaces and parens", "Q3 report (v2).pdf", "Q3_report_v2_.pdf"},
		{"unix traversal", "../../etc/passwd", "passwd"},
		{"windows path", `C:\Users\me\Desktop\scan.pdf`, "scan.pdf"},
		{"hidden file", ".secret.pdf", "secret.pdf"},
		{"non ascii", "résumé.pdf", "r_sum_.pdf"},
		{"empty", "", DefaultFilename},
		{"dots only", "..", DefaultFilename},
		{"separators only", "///", DefaultFilename},
		{"symbols only", "***", DefaultFilename},
		{"double dots inside name kept", "draft..final.pdf", "draft..final.pdf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Filename(tt.input); got != tt.expected {
				t.Errorf("Filename(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestFilename_LongNameKeepsExtension(t *testing.T) {
	got := Filename(strings.Repeat("x", 300) + ".pdf")

	if len(got) != MaxFilenameLength {
		t.Errorf("len = %d, want %d", len(got), MaxFilenameLength)
	}
	if !strings.HasSuffix(got, ".pdf") {
		t.Errorf("extension lost: %q", got)
	}
	if strings.ContainsAny(got, "/\\") {
		t.Errorf("separator in %q", got)
	}
}
