package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()

	link := filepath.Join(dir, "escape")
	if err := os.Symlink(outside, link); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"plain file", filepath.Join(dir, "plot.png"), false},
		{"nested new file", filepath.Join(dir, "a", "b", "plot.png"), false},
		{"dot dot", filepath.Join(dir, "..", "plot.png"), true},
		{"other dir", filepath.Join(outside, "plot.png"), true},
		{"symlinked parent", filepath.Join(link, "plot.png"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.path, dir)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePathWithinDirectory(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestValidatePathWithinAllowedDirs(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	if err := ValidatePathWithinAllowedDirs(filepath.Join(b, "x"), []string{a, b}); err != nil {
		t.Errorf("expected path in second dir to be allowed: %v", err)
	}
	if err := ValidatePathWithinAllowedDirs(filepath.Join(b, "x"), []string{a}); err == nil {
		t.Error("expected path outside allowed dirs to be rejected")
	}
	if err := ValidatePathWithinAllowedDirs(filepath.Join(a, "x"), nil); err == nil {
		t.Error("expected error with no allowed dirs")
	}
}

func TestValidateOutputPath(t *testing.T) {
	if err := ValidateOutputPath(filepath.Join(os.TempDir(), "timeline.html")); err != nil {
		t.Errorf("temp dir output rejected: %v", err)
	}
	if err := ValidateOutputPath("timeline.html"); err != nil {
		t.Errorf("relative output rejected: %v", err)
	}
	if err := ValidateOutputPath("/proc/timeline.html"); err == nil {
		t.Error("expected /proc output to be rejected")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"DE:AD:BE:EF:00:01": "DE_AD_BE_EF_00_01",
		"../../etc/passwd":  "etc_passwd",
		"":                  "unknown",
		"::":                "unknown",
		"ok-name.png":       "ok-name.png",
	}
	for in, want := range tests {
		if got := SanitizeFilename(in); got != want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
