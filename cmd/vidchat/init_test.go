package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
)

// clearUmask sets the process umask to 0 so file permission assertions are
// deterministic. It restores the original umask when the test completes.
func clearUmask(t *testing.T) {
	t.Helper()
	old := syscall.Umask(0)
	t.Cleanup(func() { syscall.Umask(old) })
}

func TestRunInit_FreshDirectory(t *testing.T) {
	clearUmask(t)
	dir := t.TempDir()
	var buf bytes.Buffer

	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, "data"))
	if err != nil || !info.IsDir() {
		t.Errorf("data directory not created: %v", err)
	}

	cfgInfo, err := os.Stat(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("config.yaml not created: %v", err)
	}
	if got := cfgInfo.Mode().Perm(); got != 0o600 {
		t.Errorf("config.yaml permissions = %o, want 0600", got)
	}

	out := buf.String()
	if !strings.Contains(out, "✓") || !strings.Contains(out, "config.yaml") {
		t.Errorf("output = %q, want a ✓ line for config.yaml", out)
	}
}

func TestRunInit_SkipsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer

	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("first runInit failed: %v", err)
	}

	sentinel := []byte("# sentinel, do not overwrite\n")
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), sentinel, 0o600); err != nil {
		t.Fatalf("write sentinel: %v", err)
	}

	buf.Reset()
	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("second runInit failed: %v", err)
	}
	if !strings.Contains(buf.String(), "exists, skipping") {
		t.Error("output missing 'exists, skipping' for pre-existing files")
	}

	got, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("read config.yaml after second run: %v", err)
	}
	if !bytes.Equal(got, sentinel) {
		t.Errorf("config.yaml was overwritten: %q", got)
	}
}

func TestWriteIfMissing(t *testing.T) {
	clearUmask(t)
	tests := []struct {
		name       string
		preExist   bool
		mode       os.FileMode
		wantMarker string
	}{
		{"creates new file with 0600", false, 0o600, "✓"},
		{"creates new file with 0644", false, 0o644, "✓"},
		{"skips existing file", true, 0o644, "exists, skipping"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "testfile")
			data := []byte("hello world")

			if tt.preExist {
				if err := os.WriteFile(path, []byte("original"), 0o644); err != nil {
					t.Fatalf("setup pre-existing file: %v", err)
				}
			}

			var buf bytes.Buffer
			if err := writeIfMissing(&buf, path, data, tt.mode); err != nil {
				t.Fatalf("writeIfMissing: %v", err)
			}
			if !strings.Contains(buf.String(), tt.wantMarker) {
				t.Errorf("output = %q, want marker %q", buf.String(), tt.wantMarker)
			}

			got, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			if tt.preExist {
				if string(got) != "original" {
					t.Errorf("pre-existing file was overwritten: got %q", got)
				}
				return
			}
			if !bytes.Equal(got, data) {
				t.Errorf("content = %q, want %q", got, data)
			}
			info, err := os.Stat(path)
			if err != nil {
				t.Fatal(err)
			}
			if perm := info.Mode().Perm(); perm != tt.mode {
				t.Errorf("permissions = %o, want %o", perm, tt.mode)
			}
		})
	}
}

func TestWriteIfMissing_CreateError(t *testing.T) {
	dir := t.TempDir()
	parent := filepath.Join(dir, "blocker")
	if err := os.WriteFile(parent, []byte("i am a file"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	var buf bytes.Buffer
	err := writeIfMissing(&buf, filepath.Join(parent, "file.txt"), []byte("data"), 0o644)
	if err == nil {
		t.Fatal("expected error for create failure, got nil")
	}
	if !strings.Contains(err.Error(), "create") {
		t.Errorf("error = %q, want it to mention 'create'", err)
	}
}
