package logger

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
)

// Rotation defaults applied when Options leave them unset.
const (
	DefaultMaxSizeBytes = 10 << 20
	DefaultMaxBackups   = 5
)

// rotatingFile appends to path and, once a write would push it past
// maxBytes, shifts path to path.1, path.1 to path.2 and so on, keeping at
// most backups old files. A single record larger than maxBytes is still
// written whole.
type rotatingFile struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	backups  int

	f    *os.File
	size int64
}

func openRotating(path string, maxBytes int64, backups int) (*rotatingFile, error) {
	r := &rotatingFile{path: path, maxBytes: maxBytes, backups: backups}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *rotatingFile) open() error {
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	r.f = f
	r.size = info.Size()
	return nil
}

func (r *rotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.f == nil {
		return 0, fs.ErrClosed
	}
	if r.size > 0 && r.size+int64(len(p)) > r.maxBytes {
		if err := r.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := r.f.Write(p)
	r.size += int64(n)
	return n, err
}

func (r *rotatingFile) rotate() error {
	if err := r.f.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	r.f = nil

	if r.backups <= 0 {
		if err := os.Remove(r.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to truncate log file: %w", err)
		}
		return r.open()
	}

	for i := r.backups - 1; i >= 1; i-- {
		err := os.Rename(backupName(r.path, i), backupName(r.path, i+1))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to shift log backup: %w", err)
		}
	}
	if err := os.Rename(r.path, backupName(r.path, 1)); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}
	return r.open()
}

func (r *rotatingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

func backupName(path string, n int) string { return fmt.Sprintf("%s.%d", path, n) }
