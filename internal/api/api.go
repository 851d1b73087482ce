/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the HTTP surface: the audio stream endpoint, catalog
// search, playback control and the player websocket.
package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/friendsincode/bragi_player/internal/artwork"
	"github.com/friendsincode/bragi_player/internal/auth"
	"github.com/friendsincode/bragi_player/internal/events"
	"github.com/friendsincode/bragi_player/internal/logbuffer"
	"github.com/friendsincode/bragi_player/internal/pipeline"
	"github.com/friendsincode/bragi_player/internal/player"
	"github.com/friendsincode/bragi_player/internal/store"
	"github.com/friendsincode/bragi_player/internal/version"
)

// trackIDPattern matches upstream video IDs. Anything else is rejected
// before it can reach the resolver command line.
var trackIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Streamer opens transcoded audio streams.
type Streamer interface {
	Open(ctx context.Context, trackID string, seekSeconds int) (*pipeline.Stream, error)
}

// Searcher queries the upstream catalog.
type Searcher interface {
	Search(ctx context.Context, query, bearer string, limit int) ([]player.Track, error)
}

// API exposes HTTP handlers.
type API struct {
	controller *player.Controller
	streamer   Streamer
	catalog    Searcher
	history    *store.Service
	artworkSvc *artwork.Service
	sink       *RemoteSink
	checker    *version.Checker
	bus        *events.Bus
	logs       *logbuffer.Buffer

	jwtSecret  []byte
	sessionTTL time.Duration

	limiter *ipLimiter
	logger  zerolog.Logger
}

// Config wires the API.
type Config struct {
	Controller *player.Controller
	Streamer   Streamer
	Catalog    Searcher
	History    *store.Service
	Artwork    *artwork.Service
	Sink       *RemoteSink
	Checker    *version.Checker
	Bus        *events.Bus
	Logs       *logbuffer.Buffer

	JWTSecret  []byte
	SessionTTL time.Duration

	// StreamRateLimit is the per-client stream open budget in requests
	// per minute. Zero disables limiting.
	StreamRateLimit int
}

// New creates the API router wrapper.
func New(cfg Config, logger zerolog.Logger) *API {
	sessionTTL := cfg.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = 12 * time.Hour
	}
	return &API{
		controller: cfg.Controller,
		streamer:   cfg.Streamer,
		catalog:    cfg.Catalog,
		history:    cfg.History,
		artworkSvc: cfg.Artwork,
		sink:       cfg.Sink,
		checker:    cfg.Checker,
		bus:        cfg.Bus,
		logs:       cfg.Logs,
		jwtSecret:  cfg.JWTSecret,
		sessionTTL: sessionTTL,
		limiter:    newIPLimiter(cfg.StreamRateLimit),
		logger:     logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts all handlers on the router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		// Session bootstrap (no auth required)
		r.Post("/player/session", a.handleSessionCreate)

		r.Group(func(pr chi.Router) {
			pr.Use(auth.Middleware(a.jwtSecret))

			pr.Get("/search", a.handleSearch)
			pr.Get("/history", a.handleHistory)
			pr.Get("/artwork/{trackID}", a.handleArtwork)
			pr.Get("/logs", a.handleLogs)
			pr.Get("/logs/stats", a.handleLogStats)

			pr.Route("/player", func(r chi.Router) {
				r.Get("/state", a.handlePlayerState)
				r.Post("/play", a.handlePlayerPlay)
				r.Post("/toggle", a.handlePlayerToggle)
				r.Post("/next", a.handlePlayerNext)
				r.Post("/previous", a.handlePlayerPrevious)
				r.Post("/seek", a.handlePlayerSeek)
				r.Post("/stop", a.handlePlayerStop)
				r.Post("/queue", a.handleQueueAdd)
				r.Delete("/queue/{index}", a.handleQueueRemove)
				r.Post("/shuffle", a.handleShuffleToggle)
				r.Post("/repeat", a.handleRepeatCycle)
				r.Get("/ws", a.handlePlayerWS)
			})
		})
	})

	// The stream endpoint sits outside /api/v1 auth: the sink binds it
	// as a plain media URL.
	r.Get("/stream", a.handleStream)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok", "version": version.Version}
	if a.checker != nil {
		if info := a.checker.Info(); info.UpdateAvailable {
			resp["update_available"] = info.LatestVersion
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// ipLimiter rate limits by client IP.
type ipLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	lastSeen map[string]time.Time
	limit    rate.Limit
	burst    int
}

func newIPLimiter(perMinute int) *ipLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &ipLimiter{
		limiters: make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    10,
	}
}

// Allow reports whether the client may proceed. A nil limiter allows
// everything.
func (l *ipLimiter) Allow(remoteAddr string) bool {
	if l == nil {
		return true
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[host]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[host] = lim
	}
	l.lastSeen[host] = time.Now()

	if len(l.limiters) > 10000 {
		l.evictStaleLocked()
	}
	return lim.Allow()
}

func (l *ipLimiter) evictStaleLocked() {
	cutoff := time.Now().Add(-10 * time.Minute)
	for host, seen := range l.lastSeen {
		if seen.Before(cutoff) {
			delete(l.limiters, host)
			delete(l.lastSeen, host)
		}
	}
}
