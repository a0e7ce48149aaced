package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// LocalStorage keeps in-flight transfer artifacts on disk, one directory per
// owning user, so that a user's artifacts can be protected or reclaimed as a
// unit.
type LocalStorage struct {
	baseDir string
}

// NewLocalStorage ensures the base directory exists and returns a handle.
func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	if baseDir == "" {
		baseDir = "./downloads"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create downloads directory: %w", err)
	}
	return &LocalStorage{baseDir: baseDir}, nil
}

// Create opens a new artifact file for writing under the owner's directory.
func (s *LocalStorage) Create(ownerID int64, filename string) (*os.File, string, error) {
	dir := s.ownerDir(ownerID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("prepare owner directory: %w", err)
	}
	path := filepath.Join(dir, filename)
	file, err := os.Create(path)
	if err != nil {
		return nil, "", fmt.Errorf("create artifact file: %w", err)
	}
	return file, path, nil
}

// Open returns a read-only handle for a stored artifact.
func (s *LocalStorage) Open(path string) (*os.File, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open artifact file: %w", err)
	}
	return file, nil
}

// SaveStream copies from reader into the target artifact path.
func (s *LocalStorage) SaveStream(ownerID int64, filename string, r io.Reader) (string, error) {
	file, path, err := s.Create(ownerID, filename)
	if err != nil {
		return "", err
	}
	defer file.Close() //nolint:errcheck
	if _, err := io.Copy(file, r); err != nil {
		return "", fmt.Errorf("write artifact stream: %w", err)
	}
	return path, nil
}

// Delete removes a stored artifact if present, along with any partial
// sidecar files, and prunes the owner directory when it becomes empty.
func (s *LocalStorage) Delete(path string) error {
	if path == "" {
		return nil
	}
	for _, p := range []string{path, path + ".temp", path + ".tmp"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete artifact: %w", err)
		}
	}

	dir := filepath.Dir(path)
	if dir != s.baseDir {
		if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
			_ = os.Remove(dir)
		}
	}
	return nil
}

// CleanupOlderThan removes artifacts older than maxAge, skipping directories
// of owners in the protected set. Returns the deleted paths.
func (s *LocalStorage) CleanupOlderThan(maxAge time.Duration, protected map[int64]struct{}) ([]string, error) {
	cutoff := time.Now().Add(-maxAge)
	deleted := make([]string, 0)

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("list downloads directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		ownerID, err := strconv.ParseInt(entry.Name(), 10, 64)
		if err == nil {
			if _, busy := protected[ownerID]; busy {
				// An active transfer may be reading a file whose mtime no
				// longer updates (uploads only read); never touch the folder.
				continue
			}
		}

		dir := filepath.Join(s.baseDir, entry.Name())
		walkErr := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			if info.ModTime().After(cutoff) {
				return nil
			}
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return err
			}
			deleted = append(deleted, path)
			return nil
		})
		if walkErr != nil {
			return deleted, fmt.Errorf("cleanup downloads: %w", walkErr)
		}

		if remaining, err := os.ReadDir(dir); err == nil && len(remaining) == 0 {
			_ = os.Remove(dir)
		}
	}

	return deleted, nil
}

// ArtifactPath returns the canonical on-disk location for an owner's artifact.
func (s *LocalStorage) ArtifactPath(ownerID int64, filename string) string {
	return filepath.Join(s.ownerDir(ownerID), filename)
}

// Path exposes the underlying base path (useful for debugging).
func (s *LocalStorage) Path() string {
	return s.baseDir
}

func (s *LocalStorage) ownerDir(ownerID int64) string {
	return filepath.Join(s.baseDir, strconv.FormatInt(ownerID, 10))
}
