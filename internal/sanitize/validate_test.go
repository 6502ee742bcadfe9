package sanitize

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidatePath(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		name        string
		path        string
		allowedRoot string
		wantErr     error
	}{
		{
			name:    "empty path",
			path:    "",
			wantErr: ErrEmptyPath,
		},
		{
			name: "simple relative path",
			path: "foo/bar",
		},
		{
			name: "dots inside a file name",
			path: "inbox/report..v2.pdf",
		},
		{
			name:    "traversal attack - simple",
			path:    "../etc/passwd",
			wantErr: ErrPathTraversal,
		},
		{
			name:    "traversal attack - middle",
			path:    "foo/../../../etc/passwd",
			wantErr: ErrPathTraversal,
		},
		{
			name:    "traversal attack - double dots at end",
			path:    "foo/bar/..",
			wantErr: ErrPathTraversal,
		},
		{
			name:        "path within root",
			path:        filepath.Join(root, "inbox", "a.pdf"),
			allowedRoot: root,
		},
		{
			name:        "path outside root",
			path:        filepath.Join(filepath.Dir(root), "elsewhere.pdf"),
			allowedRoot: root,
			wantErr:     ErrPathTraversal,
		},
		{
			name:        "sibling with shared prefix",
			path:        root + "-other/a.pdf",
			allowedRoot: root,
			wantErr:     ErrPathTraversal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidatePath(tt.path, tt.allowedRoot)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("ValidatePath() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidatePath() unexpected error = %v", err)
			}
			if !filepath.IsAbs(got) {
				t.Errorf("ValidatePath() = %q, want absolute path", got)
			}
		})
	}
}

func TestValidateSessionID(t *testing.T) {
	valid := []string{
		"default",
		"7f9c2d4e-1b2a-4c3d-8e9f-0a1b2c3d4e5f",
		"user:42",
		"team.alpha_session-1",
		strings.Repeat("a", 128),
	}
	for _, id := range valid {
		if err := ValidateSessionID(id); err != nil {
			t.Errorf("ValidateSessionID(%q) unexpected error = %v", id, err)
		}
	}

	invalid := []string{
		"",
		"has space",
		"slash/inside",
		"emoji😀",
		strings.Repeat("a", 129),
		"new\nline",
	}
	for _, id := range invalid {
		if err := ValidateSessionID(id); !errors.Is(err, ErrInvalidSessionID) {
			t.Errorf("ValidateSessionID(%q) error = %v, want %v", id, err, ErrInvalidSessionID)
		}
	}
}
