/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package artwork

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// maxImageBytes caps a single fetched thumbnail.
const maxImageBytes = 10 << 20

// Service resolves a track's artwork, fetching from the upstream
// thumbnail URL on first access and serving from storage afterwards.
type Service struct {
	storage       Storage
	httpClient    *http.Client
	publicBaseURL string
	logger        zerolog.Logger

	mu       sync.Mutex
	inflight map[string]chan struct{}
}

// NewService creates an artwork service over the given storage.
func NewService(storage Storage, logger zerolog.Logger) *Service {
	return &Service{
		storage: storage,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
		logger:   logger.With().Str("component", "artwork").Logger(),
		inflight: make(map[string]chan struct{}),
	}
}

// SetPublicBaseURL enables redirect serving: cached objects are handed
// out as URLs under base instead of being proxied. base must reach the
// same keyspace the storage writes to, including any key prefix.
func (s *Service) SetPublicBaseURL(base string) {
	s.publicBaseURL = strings.TrimSuffix(base, "/")
}

// EnsurePublicURL caches the artwork if needed and returns its public
// URL. ok is false when no public base is configured or the artwork
// cannot be cached; callers fall back to proxy serving.
func (s *Service) EnsurePublicURL(ctx context.Context, trackID, ref string) (string, bool) {
	if s.publicBaseURL == "" || ref == "" {
		return "", false
	}
	key := cacheKey(trackID, ref)

	rc, err := s.storage.Open(ctx, key)
	switch {
	case err == nil:
		rc.Close()
	case err == ErrNotFound:
		if err := s.fetchOnce(ctx, key, ref); err != nil {
			return "", false
		}
	default:
		return "", false
	}
	return s.publicBaseURL + "/" + key, true
}

// Get returns the artwork image for a track along with its content
// type. ref is the upstream thumbnail URL recorded with the track.
func (s *Service) Get(ctx context.Context, trackID, ref string) (io.ReadCloser, string, error) {
	if ref == "" {
		return nil, "", ErrNotFound
	}
	key := cacheKey(trackID, ref)

	rc, err := s.storage.Open(ctx, key)
	if err == nil {
		return rc, contentTypeFor(key), nil
	}
	if err != ErrNotFound {
		return nil, "", err
	}

	if err := s.fetchOnce(ctx, key, ref); err != nil {
		return nil, "", err
	}

	rc, err = s.storage.Open(ctx, key)
	if err != nil {
		return nil, "", err
	}
	return rc, contentTypeFor(key), nil
}

// fetchOnce downloads ref into storage, collapsing concurrent
// requests for the same key into a single upstream fetch.
func (s *Service) fetchOnce(ctx context.Context, key, ref string) error {
	for {
		s.mu.Lock()
		done, running := s.inflight[key]
		if !running {
			done = make(chan struct{})
			s.inflight[key] = done
			s.mu.Unlock()
			break
		}
		s.mu.Unlock()

		select {
		case <-done:
			// Another request finished the fetch; reuse its result.
			if _, err := s.storage.Open(ctx, key); err == nil {
				return nil
			}
			return ErrNotFound
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	err := s.fetch(ctx, key, ref)

	s.mu.Lock()
	close(s.inflight[key])
	delete(s.inflight, key)
	s.mu.Unlock()

	return err
}

func (s *Service) fetch(ctx context.Context, key, ref string) error {
	req, err := http.NewRequestWithContext(ctx, "GET", ref, nil)
	if err != nil {
		return fmt.Errorf("artwork: bad ref %q: %w", ref, err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("artwork: fetch %q: %w", ref, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.logger.Warn().Int("status", resp.StatusCode).Str("ref", ref).Msg("artwork fetch failed")
		return ErrNotFound
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return fmt.Errorf("artwork: read %q: %w", ref, err)
	}
	if len(body) > maxImageBytes {
		return fmt.Errorf("artwork: image at %q exceeds %d bytes", ref, maxImageBytes)
	}

	if err := s.storage.Put(ctx, key, bytes.NewReader(body)); err != nil {
		return err
	}

	s.logger.Debug().Str("key", key).Int("bytes", len(body)).Msg("artwork cached")
	return nil
}

// cacheKey derives a stable storage key from the track and the
// extension of the upstream URL.
func cacheKey(trackID, ref string) string {
	ext := ".jpg"
	if u, err := url.Parse(ref); err == nil {
		if e := strings.ToLower(path.Ext(u.Path)); e != "" && len(e) <= 5 {
			ext = e
		}
	}
	return trackID + ext
}

func contentTypeFor(key string) string {
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
