/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package player

import (
	"context"
	"fmt"
	"net/url"
	"sync"
)

// Adapter starts and controls playback for one track source. Play receives
// the requested start offset in seconds; implementations apply it on their
// own side (the stream backend seeks at the input).
type Adapter interface {
	Play(ctx context.Context, track Track, seekSeconds float64) error
	Pause() error
	Resume() error
	Stop() error
}

// Registry maps source tags to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register binds an adapter to a source tag, replacing any previous binding.
func (r *Registry) Register(source string, adapter Adapter) {
	r.mu.Lock()
	r.adapters[source] = adapter
	r.mu.Unlock()
}

// For returns the adapter for the track's source tag.
func (r *Registry) For(track Track) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[track.Source]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for source %q", track.Source)
	}
	return adapter, nil
}

// StreamAdapter plays tracks through the transcoding stream endpoint: it
// builds the stream URL for the track and binds it to the audio sink.
type StreamAdapter struct {
	BaseURL string
	Sink    Sink
}

// NewStreamAdapter creates an adapter streaming from the given base URL.
func NewStreamAdapter(baseURL string, sink Sink) *StreamAdapter {
	return &StreamAdapter{BaseURL: baseURL, Sink: sink}
}

// StreamURL returns the endpoint URL for a track and start offset.
func (a *StreamAdapter) StreamURL(track Track, seekSeconds float64) string {
	seek := int(seekSeconds)
	if seek < 0 {
		seek = 0
	}
	return fmt.Sprintf("%s/stream?trackId=%s&seek=%d", a.BaseURL, url.QueryEscape(track.ID), seek)
}

func (a *StreamAdapter) Play(_ context.Context, track Track, seekSeconds float64) error {
	return a.Sink.Bind(a.StreamURL(track, seekSeconds))
}

func (a *StreamAdapter) Pause() error  { return a.Sink.Pause() }
func (a *StreamAdapter) Resume() error { return a.Sink.Resume() }

// Stop unbinds the sink so the stream connection is released.
func (a *StreamAdapter) Stop() error { return a.Sink.Unbind() }
