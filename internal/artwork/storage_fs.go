/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package artwork

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// FilesystemStorage keeps cached artwork on the local filesystem.
type FilesystemStorage struct {
	rootDir string
	logger  zerolog.Logger
}

// NewFilesystemStorage creates a filesystem-backed artwork store.
func NewFilesystemStorage(rootDir string, logger zerolog.Logger) *FilesystemStorage {
	return &FilesystemStorage{
		rootDir: rootDir,
		logger:  logger.With().Str("component", "artwork-fs").Logger(),
	}
}

// Put writes an image under the cache root.
func (fs *FilesystemStorage) Put(ctx context.Context, key string, data io.Reader) error {
	fullPath := filepath.Join(fs.rootDir, filepath.Clean("/"+key))

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}

	// Write to a temp file first so a crashed fetch never leaves a
	// truncated image behind.
	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".artwork-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename temp file: %w", err)
	}

	fs.logger.Debug().Str("key", key).Str("path", fullPath).Msg("artwork stored")
	return nil
}

// Open returns the cached image for key.
func (fs *FilesystemStorage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	fullPath := filepath.Join(fs.rootDir, filepath.Clean("/"+key))
	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

// CheckAccess verifies the cache root exists, creating it if needed.
func (fs *FilesystemStorage) CheckAccess(ctx context.Context) error {
	if err := os.MkdirAll(fs.rootDir, 0755); err != nil {
		return fmt.Errorf("cannot create artwork root: %w", err)
	}
	info, err := os.Stat(fs.rootDir)
	if err != nil {
		return fmt.Errorf("cannot access artwork root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("artwork root is not a directory: %s", fs.rootDir)
	}
	return nil
}
