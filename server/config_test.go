package server

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseArgs(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.txt")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	t.Run("valid", func(t *testing.T) {
		cfg, err := ParseArgs([]string{"8080", dir})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Port != 8080 {
			t.Errorf("port %d", cfg.Port)
		}
		if !strings.HasSuffix(cfg.Dir, string(os.PathSeparator)) {
			t.Errorf("dir %q has no trailing separator", cfg.Dir)
		}
	})

	t.Run("trailing separator kept once", func(t *testing.T) {
		cfg, err := ParseArgs([]string{"0", dir + "/"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if strings.HasSuffix(cfg.Dir, "//") {
			t.Errorf("dir %q", cfg.Dir)
		}
	})

	tests := []struct {
		name  string
		args  []string
		usage bool
	}{
		{"no args", nil, true},
		{"one arg", []string{"8080"}, true},
		{"three args", []string{"8080", dir, "x"}, true},
		{"port not a number", []string{"http", dir}, true},
		{"port out of range", []string{"70000", dir}, true},
		{"negative port", []string{"-1", dir}, true},
		{"missing directory", []string{"8080", filepath.Join(dir, "nope")}, false},
		{"file instead of directory", []string{"8080", file}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseArgs(tt.args)
			if err == nil {
				t.Fatal("expected error")
			}
			if errors.Is(err, ErrUsage) != tt.usage {
				t.Errorf("usage=%v, err %v", !tt.usage, err)
			}
		})
	}
}
