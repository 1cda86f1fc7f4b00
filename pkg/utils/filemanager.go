// =============================================================================
// BI Recon Engine - File Manager Utility
// =============================================================================
//
// This module provides file management utilities for the processing runs:
//   - Directory bootstrap (input/output/work directories)
//   - Input file discovery by glob pattern
//   - Collision-safe output naming with a " (n)" suffix
//   - Session working directories keyed by UUID
//   - Copy and zip helpers for the download endpoints
//
// NAMING STRATEGY:
//   - UniquePath never overwrites: a processed artifact that would land on
//     an existing path gets " (1)", then " (2)", and so on. Re-runs are
//     expected to regenerate their working directory deterministically.
//
// SESSION STRATEGY:
//   - Sessions isolate concurrent runs from each other: every session is a
//     pair of upload/output directories under the work root, and nothing
//     outside the session directory is ever touched.
//
// =============================================================================

package utils

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// =============================================================================
// FILE MANAGER
// =============================================================================

// FileManager handles file system operations for one run.
type FileManager struct {
	// InputDir is where raw department workbooks are discovered.
	InputDir string

	// OutputDir is where cleaned artifacts and reports are written.
	OutputDir string

	// WorkDir is the root for session working directories.
	WorkDir string
}

// NewFileManager creates a FileManager with the specified directories.
func NewFileManager(inputDir, outputDir, workDir string) *FileManager {
	return &FileManager{
		InputDir:  inputDir,
		OutputDir: outputDir,
		WorkDir:   workDir,
	}
}

// EnsureDirectories creates all managed directories if they don't exist.
func (fm *FileManager) EnsureDirectories() error {
	for _, dir := range []string{fm.InputDir, fm.OutputDir, fm.WorkDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// DiscoverInputFiles finds all files in the input directory matching the
// given glob pattern (e.g. "*.xlsx"). Results are sorted for deterministic
// batch ordering.
func (fm *FileManager) DiscoverInputFiles(pattern string) ([]string, error) {
	return DiscoverFiles(fm.InputDir, pattern)
}

// DiscoverFiles finds all regular files in dir matching pattern, sorted.
func DiscoverFiles(dir, pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("glob pattern %q: %w", pattern, err)
	}
	var files []string
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		files = append(files, m)
	}
	sort.Strings(files)
	return files, nil
}

// =============================================================================
// COLLISION-SAFE NAMING
// =============================================================================

// UniquePath returns path if it is free, otherwise the first variant with a
// " (n)" suffix before the extension that does not exist yet.
func UniquePath(path string) string {
	if !FileExists(path) {
		return path
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, n, ext)
		if !FileExists(candidate) {
			return candidate
		}
	}
}

// FileExists reports whether path exists and is a regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// =============================================================================
// SESSIONS
// =============================================================================

// Session is one isolated working directory pair under the work root.
type Session struct {
	ID        string
	UploadDir string
	OutputDir string
}

// NewSession creates a fresh session directory pair keyed by UUID.
func (fm *FileManager) NewSession() (*Session, error) {
	return fm.sessionFor(uuid.NewString(), true)
}

// OpenSession returns the session with the given ID, or an error when its
// directories do not exist.
func (fm *FileManager) OpenSession(id string) (*Session, error) {
	info, err := os.Stat(filepath.Join(fm.WorkDir, id))
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("session %s not found", id)
	}
	return fm.sessionFor(id, false)
}

func (fm *FileManager) sessionFor(id string, create bool) (*Session, error) {
	s := &Session{
		ID:        id,
		UploadDir: filepath.Join(fm.WorkDir, id, "uploads"),
		OutputDir: filepath.Join(fm.WorkDir, id, "outputs"),
	}
	if create {
		for _, dir := range []string{s.UploadDir, s.OutputDir} {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create session directory %s: %w", dir, err)
			}
		}
	}
	return s, nil
}

// ListFiles returns the names of the regular files in a directory, sorted.
func ListFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// =============================================================================
// COPY AND ZIP
// =============================================================================

// CopyFile copies a file from src to dst, creating parent directories.
func CopyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy contents: %w", err)
	}
	return out.Sync()
}

// ZipDirectory writes every regular file of dir (non-recursive) into a zip
// archive at zipPath.
func ZipDirectory(dir, zipPath string) error {
	names, err := ListFiles(dir)
	if err != nil {
		return err
	}
	out, err := os.Create(zipPath)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	for _, name := range names {
		src, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("open %s: %w", name, err)
		}
		w, err := zw.Create(name)
		if err != nil {
			src.Close()
			return fmt.Errorf("add %s to archive: %w", name, err)
		}
		if _, err := io.Copy(w, src); err != nil {
			src.Close()
			return fmt.Errorf("write %s to archive: %w", name, err)
		}
		src.Close()
	}
	return zw.Close()
}
