/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStatusRecorderCapturesCode(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec, statusCode: http.StatusOK}

	sr.WriteHeader(http.StatusTeapot)
	sr.WriteHeader(http.StatusOK) // second call must not overwrite

	if sr.statusCode != http.StatusTeapot {
		t.Fatalf("expected 418, got %d", sr.statusCode)
	}
	if rec.Code != http.StatusTeapot {
		t.Fatalf("underlying recorder got %d", rec.Code)
	}
}

func TestStatusRecorderImplicitOK(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec, statusCode: http.StatusOK}

	if _, err := sr.Write([]byte("body")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if sr.statusCode != http.StatusOK {
		t.Fatalf("expected implicit 200, got %d", sr.statusCode)
	}
}

func TestStatusRecorderFlush(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec, statusCode: http.StatusOK}

	// httptest.ResponseRecorder implements http.Flusher.
	sr.Flush()
	if !rec.Flushed {
		t.Fatal("flush was not forwarded")
	}
}

func TestMetricsMiddlewarePassesThrough(t *testing.T) {
	handler := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 through middleware, got %d", rec.Code)
	}
}
