/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP surface metrics.
var (
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bragi_api_requests_total",
		Help: "HTTP requests by method, endpoint and status code.",
	}, []string{"method", "endpoint", "status"})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bragi_api_request_duration_seconds",
		Help:    "HTTP request latency by method, endpoint and status code.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bragi_api_active_connections",
		Help: "Currently open HTTP connections.",
	})
)

// Streaming pipeline metrics.
var (
	ResolverInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bragi_resolver_invocations_total",
		Help: "Resolver process invocations by outcome.",
	}, []string{"outcome"})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bragi_urlcache_lookups_total",
		Help: "URL cache lookups by result (hit or miss).",
	}, []string{"result"})

	CacheInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bragi_urlcache_invalidations_total",
		Help: "URL cache entries dropped after upstream rejection.",
	})

	ActiveTranscoders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bragi_transcoder_processes",
		Help: "Currently running transcoder processes.",
	})

	StreamBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bragi_stream_bytes_total",
		Help: "Audio bytes delivered to clients.",
	})

	StreamRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bragi_stream_upstream_rejections_total",
		Help: "Streams aborted because the upstream rejected a resolved URL.",
	})
)

// Persistence metrics.
var (
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bragi_db_query_duration_seconds",
		Help:    "Database operation latency by operation and table.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bragi_db_errors_total",
		Help: "Database errors by operation and kind.",
	}, []string{"operation", "kind"})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bragi_db_connections_active",
		Help: "Open database connections.",
	})

	APIWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bragi_api_websocket_connections",
		Help: "Connected player WebSocket sessions.",
	})
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
