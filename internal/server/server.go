/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server assembles the player: pipeline, controller, HTTP surface
// and the distributed plumbing around them.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/bragi_player/internal/api"
	"github.com/friendsincode/bragi_player/internal/artwork"
	"github.com/friendsincode/bragi_player/internal/catalog"
	"github.com/friendsincode/bragi_player/internal/config"
	"github.com/friendsincode/bragi_player/internal/db"
	"github.com/friendsincode/bragi_player/internal/eventbus"
	"github.com/friendsincode/bragi_player/internal/events"
	"github.com/friendsincode/bragi_player/internal/logbuffer"
	"github.com/friendsincode/bragi_player/internal/pipeline"
	"github.com/friendsincode/bragi_player/internal/player"
	"github.com/friendsincode/bragi_player/internal/resolver"
	"github.com/friendsincode/bragi_player/internal/store"
	"github.com/friendsincode/bragi_player/internal/telemetry"
	"github.com/friendsincode/bragi_player/internal/transcode"
	"github.com/friendsincode/bragi_player/internal/urlcache"
	"github.com/friendsincode/bragi_player/internal/version"
)

// mirroredEvents are the bus events shared across instances.
var mirroredEvents = []events.EventType{
	events.EventNowPlaying,
	events.EventPlayerState,
	events.EventQueueUpdated,
	events.EventStreamRejected,
	events.EventCacheInvalidated,
}

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db         *gorm.DB
	bus        *events.Bus
	controller *player.Controller
	sink       *api.RemoteSink
	api        *api.API
	checker    *version.Checker
	logs       *logbuffer.Buffer

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies. logs may be nil
// when log capture is disabled.
func New(cfg *config.Config, logger zerolog.Logger, logs *logbuffer.Buffer) (*Server, error) {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("bragi-player-api"))
	router.Use(telemetry.MetricsMiddleware)
	// The audio stream and the player websocket are long-lived by
	// design; everything else gets the request timeout.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			if r.URL.Path == "/stream" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
		bus:    events.NewBus(),
		logs:   logs,
	}

	if err := srv.initDependencies(); err != nil {
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       0,
		// WriteTimeout stays 0 so the audio stream is never cut;
		// the middleware timeout covers non-streaming routes.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")

		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	nodeID := s.cfg.InstanceID
	if nodeID == "" {
		host, _ := os.Hostname()
		nodeID = host + "-" + uuid.NewString()[:8]
	}

	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	if err := db.RegisterCallbacks(database); err != nil {
		return fmt.Errorf("register db callbacks: %w", err)
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	historySvc := store.NewService(database, s.logger)
	if err := historySvc.Migrate(); err != nil {
		return fmt.Errorf("migrate track store: %w", err)
	}

	// Cross-instance event mirroring. NATS wins when both are
	// configured; Redis still serves the URL cache either way.
	switch {
	case s.cfg.NATSAddr != "":
		natsBus, err := eventbus.NewNATSBus(eventbus.NATSBusConfig{
			URL: s.cfg.NATSAddr,
		}, s.bus, nodeID, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("nats unavailable, events stay local")
		} else {
			if err := natsBus.Mirror(mirroredEvents...); err != nil {
				s.logger.Warn().Err(err).Msg("nats mirror setup failed")
			}
			s.DeferClose(natsBus.Close)
		}
	case s.cfg.RedisAddr != "":
		redisBus := eventbus.NewRedisBus(eventbus.RedisBusConfig{
			Addr:     s.cfg.RedisAddr,
			Password: s.cfg.RedisPassword,
			DB:       s.cfg.RedisDB,
		}, s.bus, nodeID, s.logger)
		redisBus.Mirror(mirroredEvents...)
		s.DeferClose(redisBus.Close)
	}

	var cache urlcache.Store
	if s.cfg.RedisAddr != "" {
		cache = urlcache.NewRedis(urlcache.RedisConfig{
			Addr:           s.cfg.RedisAddr,
			Password:       s.cfg.RedisPassword,
			DB:             s.cfg.RedisDB,
			DisableOnError: true,
		}, s.logger)
	} else {
		cache = urlcache.NewMemory()
	}

	pl := pipeline.New(pipeline.Config{
		Cache: cache,
		Resolver: resolver.New(resolver.Config{
			Bin:     s.cfg.ResolverBin,
			Args:    s.cfg.ResolverArgs,
			Timeout: s.cfg.ResolverTimeout,
		}, s.logger),
		Launcher: pipeline.ProfileLauncher{
			Profile: transcode.Profile{
				Bin:         s.cfg.TranscoderBin,
				Args:        s.cfg.TranscoderArgs,
				ContentType: s.cfg.TranscodeContentType,
				KillTimeout: s.cfg.TranscoderKillTimeout,
			},
			Logger: s.logger,
		},
		Bus:         s.bus,
		ContentType: s.cfg.TranscodeContentType,
		TTL:         s.cfg.CacheTTL,
	}, s.logger)

	var artStorage artwork.Storage
	if s.cfg.S3Bucket != "" {
		s3Storage, err := artwork.NewS3Storage(context.Background(), artwork.S3Options{
			Bucket:          s.cfg.S3Bucket,
			Region:          s.cfg.S3Region,
			Endpoint:        s.cfg.S3Endpoint,
			AccessKeyID:     s.cfg.S3AccessKeyID,
			SecretAccessKey: s.cfg.S3SecretAccessKey,
			UsePathStyle:    s.cfg.S3UsePathStyle,
			KeyPrefix:       "artwork",
		}, s.logger)
		if err != nil {
			return fmt.Errorf("init s3 artwork storage: %w", err)
		}
		artStorage = s3Storage
	} else {
		artStorage = artwork.NewFilesystemStorage(s.cfg.ArtworkRoot, s.logger)
	}
	if err := artStorage.CheckAccess(context.Background()); err != nil {
		s.logger.Warn().Err(err).Msg("artwork storage not ready")
	}
	artworkSvc := artwork.NewService(artStorage, s.logger)
	if s.cfg.S3Bucket != "" && s.cfg.S3PublicBaseURL != "" {
		artworkSvc.SetPublicBaseURL(s.cfg.S3PublicBaseURL + "/artwork")
	}

	s.sink = api.NewRemoteSink(s.logger)

	baseURL := s.cfg.BaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://127.0.0.1:%d", s.cfg.HTTPPort)
	}
	registry := player.NewRegistry()
	registry.Register("youtube", player.NewStreamAdapter(baseURL, s.sink))

	s.controller = player.NewController(player.Config{
		Registry: registry,
		Bus:      s.bus,
		Recorder: historySvc,
	}, s.logger)

	s.checker = version.NewChecker(s.logger)

	s.api = api.New(api.Config{
		Controller:      s.controller,
		Streamer:        pl,
		Catalog:         catalog.New(s.cfg.CatalogBaseURL, s.cfg.CatalogAPIKey, s.logger),
		History:         historySvc,
		Artwork:         artworkSvc,
		Sink:            s.sink,
		Checker:         s.checker,
		Bus:             s.bus,
		Logs:            s.logs,
		JWTSecret:       []byte(s.cfg.JWTSigningKey),
		SessionTTL:      s.cfg.SessionTTL,
		StreamRateLimit: s.cfg.StreamRateLimit,
	}, s.logger)

	return nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	_ = s.controller.Stop()
	s.stopBackgroundWorkers()

	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	// Database pool metrics
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				db.UpdateConnectionMetrics(s.db)
			}
		}
	}()

	s.checker.Start(ctx)

	// Standalone metrics listener, kept off the public port.
	if s.cfg.MetricsBind != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", telemetry.Handler())
		metricsSrv := &http.Server{
			Addr:              s.cfg.MetricsBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.logger.Info().Str("addr", s.cfg.MetricsBind).Msg("metrics server listening")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.logger.Error().Err(err).Msg("metrics server error")
			}
		}()
		s.DeferClose(func() error {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return metricsSrv.Shutdown(shutdownCtx)
		})
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.checker.Stop()
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	s.api.Routes(s.router)
}
