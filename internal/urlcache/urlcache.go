/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package urlcache caches resolved media URLs keyed by track id.
//
// Resolved URLs expire upstream (signed query parameters), so entries carry a
// TTL and an expired entry is never returned. A miss is not an error; callers
// resolve again and Put the fresh URL. Concurrent resolutions of the same id
// are tolerated, last writer wins.
package urlcache

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL matches the typical validity window of resolved media URLs.
const DefaultTTL = time.Hour

// Store is the resolution cache contract.
type Store interface {
	// Get returns the cached URL for trackID, or ok=false on miss or expiry.
	Get(ctx context.Context, trackID string) (url string, ok bool)
	// Put stores url for trackID with the given TTL (DefaultTTL when ttl <= 0).
	Put(ctx context.Context, trackID, url string, ttl time.Duration) error
	// Invalidate drops the entry for trackID. Removing an absent key is a no-op.
	Invalidate(ctx context.Context, trackID string) error
}

type memoryEntry struct {
	url       string
	expiresAt time.Time
}

// Memory is an in-process Store with lazy expiry. It backs tests and acts as
// the fallback when Redis is unavailable.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemory creates an empty in-process store.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// NewMemoryAt creates a store with an injected time source.
func NewMemoryAt(now func() time.Time) *Memory {
	m := NewMemory()
	m.now = now
	return m
}

func (m *Memory) Get(_ context.Context, trackID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[trackID]
	if !ok {
		return "", false
	}
	if !m.now().Before(entry.expiresAt) {
		delete(m.entries, trackID)
		return "", false
	}
	return entry.url, true
}

func (m *Memory) Put(_ context.Context, trackID, url string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m.mu.Lock()
	m.entries[trackID] = memoryEntry{url: url, expiresAt: m.now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Invalidate(_ context.Context, trackID string) error {
	m.mu.Lock()
	delete(m.entries, trackID)
	m.mu.Unlock()
	return nil
}
