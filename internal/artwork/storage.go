/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package artwork caches cover images fetched from upstream thumbnails.
package artwork

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a cached image does not exist.
var ErrNotFound = errors.New("artwork: not found")

// Storage abstracts where cached artwork bytes live.
type Storage interface {
	Put(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	CheckAccess(ctx context.Context) error
}
