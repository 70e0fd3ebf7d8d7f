package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/nugget/vidchat/examples"
)

// runInit initializes a vidchat working directory: a data directory and
// an example config.yaml. Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing vidchat workspace in %s\n", dir)

	dataDir := filepath.Join(dir, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dataDir, err)
	}

	// The config may hold API keys.
	if err := writeIfMissing(w, filepath.Join(dir, "config.yaml"), examples.ConfigYAML, 0o600); err != nil {
		return err
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit config.yaml to choose a generation provider, then run: vidchat serve")
	return nil
}

// writeIfMissing creates path with content and perm unless it already
// exists, reporting either outcome to w.
func writeIfMissing(w io.Writer, path string, content []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if errors.Is(err, fs.ErrExist) {
		fmt.Fprintf(w, "  - %s exists, skipping\n", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	fmt.Fprintf(w, "  ✓ %s\n", path)
	return nil
}
