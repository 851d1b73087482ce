/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package pipeline turns a track id into a live audio stream: resolve the
// direct media URL (cached), hand it to the transcoder, expose its stdout.
package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi_player/internal/events"
	"github.com/friendsincode/bragi_player/internal/telemetry"
	"github.com/friendsincode/bragi_player/internal/transcode"
	"github.com/friendsincode/bragi_player/internal/urlcache"
)

// URLResolver resolves a track id to a direct media URL.
type URLResolver interface {
	Resolve(ctx context.Context, trackID string) (string, error)
}

// Proc is a running transcoder process.
type Proc interface {
	Output() io.Reader
	Rejected() bool
	Wait() error
	Close() error
}

// Launcher starts a transcoder for a resolved URL.
type Launcher interface {
	Launch(ctx context.Context, inputURL string, seekSeconds int) (Proc, error)
}

// ProfileLauncher launches the configured external transcoder.
type ProfileLauncher struct {
	Profile transcode.Profile
	Logger  zerolog.Logger
}

func (l ProfileLauncher) Launch(ctx context.Context, inputURL string, seekSeconds int) (Proc, error) {
	return transcode.Start(ctx, l.Profile, inputURL, seekSeconds, l.Logger)
}

// Pipeline orchestrates resolution, caching and transcoding. One Stream per
// request; only the cache is shared between concurrent requests.
type Pipeline struct {
	cache       urlcache.Store
	resolver    URLResolver
	launcher    Launcher
	bus         *events.Bus
	contentType string
	ttl         time.Duration
	logger      zerolog.Logger
}

// Config wires a Pipeline.
type Config struct {
	Cache       urlcache.Store
	Resolver    URLResolver
	Launcher    Launcher
	Bus         *events.Bus
	ContentType string
	TTL         time.Duration
}

// New creates a Pipeline.
func New(cfg Config, logger zerolog.Logger) *Pipeline {
	if cfg.TTL <= 0 {
		cfg.TTL = urlcache.DefaultTTL
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "audio/mpeg"
	}
	return &Pipeline{
		cache:       cfg.Cache,
		resolver:    cfg.Resolver,
		launcher:    cfg.Launcher,
		bus:         cfg.Bus,
		contentType: cfg.ContentType,
		ttl:         cfg.TTL,
		logger:      logger.With().Str("component", "pipeline").Logger(),
	}
}

// Stream is a live transcoded audio stream. Close kills the transcoder within
// its bounded teardown window; closing after an observed upstream rejection
// also drops the cached URL so the next open resolves fresh.
type Stream struct {
	TrackID     string
	ContentType string

	reader *bufio.Reader
	proc   Proc
	pl     *Pipeline

	closeOnce sync.Once
	closeErr  error
}

func (s *Stream) Read(b []byte) (int, error) {
	return s.reader.Read(b)
}

// Rejected reports whether the upstream refused the resolved URL.
func (s *Stream) Rejected() bool {
	return s.proc.Rejected()
}

func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.proc.Close()
		telemetry.ActiveTranscoders.Dec()

		if s.proc.Rejected() {
			s.pl.invalidate(s.TrackID)
		}
		if s.pl.bus != nil {
			s.pl.bus.Publish(events.EventStreamClosed, events.Payload{"trackId": s.TrackID})
		}
	})
	return s.closeErr
}

// Open resolves trackID (through the cache), starts the transcoder with an
// input-side seek and blocks until the first audio byte is available. A
// rejection observed before any audio flows returns ErrUpstreamRejected with
// the cache entry already invalidated, so one retry resolves from scratch.
func (p *Pipeline) Open(ctx context.Context, trackID string, seekSeconds int) (*Stream, error) {
	ctx, span := telemetry.StartSpan(ctx, "pipeline", "Open")
	defer span.End()

	url, cached := p.cache.Get(ctx, trackID)
	if cached {
		telemetry.CacheLookups.WithLabelValues("hit").Inc()
	} else {
		telemetry.CacheLookups.WithLabelValues("miss").Inc()

		var err error
		url, err = p.resolver.Resolve(ctx, trackID)
		if err != nil {
			telemetry.ResolverInvocations.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("%w: %v", ErrResolution, err)
		}
		telemetry.ResolverInvocations.WithLabelValues("ok").Inc()

		if err := p.cache.Put(ctx, trackID, url, p.ttl); err != nil {
			p.logger.Warn().Err(err).Str("track_id", trackID).Msg("caching resolved url failed")
		}
	}

	proc, err := p.launcher.Launch(ctx, url, seekSeconds)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTranscodeStart, err)
	}
	telemetry.ActiveTranscoders.Inc()

	stream := &Stream{
		TrackID:     trackID,
		ContentType: p.contentType,
		reader:      bufio.NewReader(proc.Output()),
		proc:        proc,
		pl:          p,
	}

	// Block for the first byte. A URL the upstream refuses fails here, before
	// the caller commits a response.
	if _, err := stream.reader.Peek(1); err != nil {
		_ = proc.Wait()
		rejected := proc.Rejected()
		_ = stream.Close()
		if rejected {
			return nil, fmt.Errorf("%w (track %s)", ErrUpstreamRejected, trackID)
		}
		return nil, fmt.Errorf("%w: no audio produced: %v", ErrTranscodeStart, err)
	}

	p.logger.Debug().
		Str("track_id", trackID).
		Int("seek", seekSeconds).
		Bool("cached", cached).
		Msg("stream opened")
	if p.bus != nil {
		p.bus.Publish(events.EventStreamOpened, events.Payload{
			"trackId": trackID,
			"seek":    seekSeconds,
			"cached":  cached,
		})
	}

	return stream, nil
}

func (p *Pipeline) invalidate(trackID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := p.cache.Invalidate(ctx, trackID); err != nil {
		p.logger.Warn().Err(err).Str("track_id", trackID).Msg("cache invalidation failed")
		return
	}
	telemetry.CacheInvalidations.Inc()
	telemetry.StreamRejections.Inc()
	p.logger.Info().Str("track_id", trackID).Msg("invalidated rejected url")
	if p.bus != nil {
		p.bus.Publish(events.EventStreamRejected, events.Payload{"trackId": trackID})
		p.bus.Publish(events.EventCacheInvalidated, events.Payload{"trackId": trackID})
	}
}
