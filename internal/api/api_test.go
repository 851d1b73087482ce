/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi_player/internal/auth"
	"github.com/friendsincode/bragi_player/internal/events"
	"github.com/friendsincode/bragi_player/internal/logbuffer"
	"github.com/friendsincode/bragi_player/internal/pipeline"
	"github.com/friendsincode/bragi_player/internal/player"
	"github.com/friendsincode/bragi_player/internal/urlcache"
)

var testSecret = []byte("test-signing-key")

type fakeResolver struct {
	calls atomic.Int64
	fail  bool
}

func (f *fakeResolver) Resolve(ctx context.Context, trackID string) (string, error) {
	f.calls.Add(1)
	if f.fail {
		return "", errors.New("resolver exited 1")
	}
	return "https://cdn.example/audio/" + trackID, nil
}

type fakeProc struct {
	output   io.Reader
	rejected bool
	closed   atomic.Bool
}

func (p *fakeProc) Output() io.Reader { return p.output }
func (p *fakeProc) Rejected() bool    { return p.rejected }
func (p *fakeProc) Wait() error       { return nil }
func (p *fakeProc) Close() error      { p.closed.Store(true); return nil }

type fakeLauncher struct {
	procFor func(inputURL string) *fakeProc
}

func (l *fakeLauncher) Launch(ctx context.Context, inputURL string, seekSeconds int) (pipeline.Proc, error) {
	return l.procFor(inputURL), nil
}

type fakeAdapter struct {
	failPlay bool
	plays    atomic.Int64
}

func (f *fakeAdapter) Play(ctx context.Context, track player.Track, seek float64) error {
	f.plays.Add(1)
	if f.failPlay {
		return errors.New("sink unavailable")
	}
	return nil
}
func (f *fakeAdapter) Pause() error  { return nil }
func (f *fakeAdapter) Resume() error { return nil }
func (f *fakeAdapter) Stop() error   { return nil }

type fakeSearcher struct {
	lastQuery  string
	lastBearer string
	fail       bool
}

func (f *fakeSearcher) Search(ctx context.Context, query, bearer string, limit int) ([]player.Track, error) {
	f.lastQuery, f.lastBearer = query, bearer
	if f.fail {
		return nil, errors.New("quota exceeded")
	}
	return []player.Track{{ID: "abc123", Source: "youtube", Title: "Result"}}, nil
}

type testEnv struct {
	router   chi.Router
	resolver *fakeResolver
	launcher *fakeLauncher
	searcher *fakeSearcher
	adapter  *fakeAdapter
	logs     *logbuffer.Buffer
	token    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	resolver := &fakeResolver{}
	launcher := &fakeLauncher{
		procFor: func(string) *fakeProc {
			return &fakeProc{output: strings.NewReader("AUDIOBYTES")}
		},
	}
	bus := events.NewBus()
	pl := pipeline.New(pipeline.Config{
		Cache:    urlcache.NewMemory(),
		Resolver: resolver,
		Launcher: launcher,
		Bus:      bus,
	}, zerolog.Nop())

	adapter := &fakeAdapter{}
	registry := player.NewRegistry()
	registry.Register("youtube", adapter)
	controller := player.NewController(player.Config{
		Registry: registry,
		Bus:      bus,
		Seed:     1,
	}, zerolog.Nop())

	searcher := &fakeSearcher{}
	logs := logbuffer.New(100)

	a := New(Config{
		Controller: controller,
		Streamer:   pl,
		Catalog:    searcher,
		Bus:        bus,
		Logs:       logs,
		JWTSecret:  testSecret,
		SessionTTL: time.Hour,
	}, zerolog.Nop())

	router := chi.NewRouter()
	a.Routes(router)

	token, err := auth.Issue(testSecret, auth.Claims{SessionID: "s1", ClientID: "c1"}, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	return &testEnv{
		router:   router,
		resolver: resolver,
		launcher: launcher,
		searcher: searcher,
		adapter:  adapter,
		logs:     logs,
		token:    token,
	}
}

func (e *testEnv) do(method, target, token string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestStreamMissingTrackID(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do("GET", "/stream", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestStreamInvalidTrackID(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do("GET", "/stream?trackId=ab%20cd;rm", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestStreamServesAudio(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do("GET", "/stream?trackId=abc123&seek=30", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "audio/mpeg" {
		t.Fatalf("content type = %q", got)
	}
	if rec.Body.String() != "AUDIOBYTES" {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestStreamInvalidSeek(t *testing.T) {
	env := newTestEnv(t)
	for _, seek := range []string{"-5", "abc"} {
		rec := env.do("GET", "/stream?trackId=abc123&seek="+seek, "", nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("seek %q: status = %d, want 400", seek, rec.Code)
		}
	}
}

func TestStreamResolverFailure(t *testing.T) {
	env := newTestEnv(t)
	env.resolver.fail = true
	rec := env.do("GET", "/stream?trackId=abc123", "", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestStreamRetriesOnceAfterRejection(t *testing.T) {
	env := newTestEnv(t)

	// First launch sees a rejected URL and produces no audio; the
	// retry, resolving fresh, streams normally.
	var launches atomic.Int64
	env.launcher.procFor = func(inputURL string) *fakeProc {
		if launches.Add(1) == 1 {
			return &fakeProc{output: strings.NewReader(""), rejected: true}
		}
		return &fakeProc{output: strings.NewReader("FRESHAUDIO")}
	}

	rec := env.do("GET", "/stream?trackId=abc123", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "FRESHAUDIO" {
		t.Fatalf("body = %q", rec.Body.String())
	}
	if n := env.resolver.calls.Load(); n != 2 {
		t.Fatalf("resolver called %d times, want 2 (fresh resolution on retry)", n)
	}
}

func TestSessionCreate(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do("POST", "/api/v1/player/session", "", map[string]string{"client_id": "device-7"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}

	var resp struct {
		Token    string `json:"token"`
		ClientID string `json:"client_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ClientID != "device-7" {
		t.Fatalf("client_id = %q", resp.ClientID)
	}

	claims, err := auth.Parse(testSecret, resp.Token)
	if err != nil {
		t.Fatalf("issued token does not parse: %v", err)
	}
	if claims.ClientID != "device-7" {
		t.Fatalf("claims client = %q", claims.ClientID)
	}
}

func TestSearchRequiresAuth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do("GET", "/api/v1/search?q=test", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestSearchProxiesQuery(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do("GET", "/api/v1/search?q=rick+astley", env.token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if env.searcher.lastQuery != "rick astley" {
		t.Fatalf("query = %q", env.searcher.lastQuery)
	}
}

func TestSearchMissingQuery(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do("GET", "/api/v1/search", env.token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSearchUpstreamFailure(t *testing.T) {
	env := newTestEnv(t)
	env.searcher.fail = true
	rec := env.do("GET", "/api/v1/search?q=x", env.token, nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestPlayerPlayAndState(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do("POST", "/api/v1/player/play", env.token,
		player.Track{ID: "abc123", Source: "youtube", Title: "Song"})
	if rec.Code != http.StatusOK {
		t.Fatalf("play status = %d: %s", rec.Code, rec.Body.String())
	}
	if env.adapter.plays.Load() != 1 {
		t.Fatalf("adapter plays = %d, want 1", env.adapter.plays.Load())
	}

	rec = env.do("GET", "/api/v1/player/state", env.token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("state status = %d", rec.Code)
	}
	var snap player.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Track == nil || snap.Track.ID != "abc123" {
		t.Fatalf("snapshot track = %+v", snap.Track)
	}
}

func TestPlayerPlayRejectsBadTrackID(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do("POST", "/api/v1/player/play", env.token,
		player.Track{ID: "bad id!", Source: "youtube"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestQueueAddAndRemove(t *testing.T) {
	env := newTestEnv(t)

	env.do("POST", "/api/v1/player/queue", env.token, player.Track{ID: "track1", Source: "youtube"})
	env.do("POST", "/api/v1/player/queue", env.token, player.Track{ID: "track2", Source: "youtube"})

	rec := env.do("DELETE", "/api/v1/player/queue/0", env.token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("dequeue status = %d", rec.Code)
	}
	var snap player.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(snap.Queue) != 1 || snap.Queue[0].ID != "track2" {
		t.Fatalf("queue = %+v", snap.Queue)
	}
}

func TestRepeatCycle(t *testing.T) {
	env := newTestEnv(t)
	want := []string{"all", "one", "off"}
	for i, expected := range want {
		rec := env.do("POST", "/api/v1/player/repeat", env.token, nil)
		var resp struct {
			Repeat string `json:"repeat"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Repeat != expected {
			t.Fatalf("cycle %d: repeat = %q, want %q", i, resp.Repeat, expected)
		}
	}
}

func TestHealthNoAuth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do("GET", "/api/v1/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestStreamRateLimit(t *testing.T) {
	lim := newIPLimiter(60)
	allowed := 0
	for i := 0; i < 30; i++ {
		if lim.Allow("10.0.0.1:1234") {
			allowed++
		}
	}
	if allowed != 10 {
		t.Fatalf("allowed %d requests, want burst of 10", allowed)
	}
	if !lim.Allow("10.0.0.2:1234") {
		t.Fatal("fresh client should not be limited")
	}

	var nilLim *ipLimiter
	if !nilLim.Allow("10.0.0.1:1234") {
		t.Fatal("nil limiter must allow")
	}
}

func TestLogsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	env.logs.Add(logbuffer.Entry{Level: "info", Component: "pipeline", Message: "stream opened",
		Fields: map[string]any{"track_id": "abc"}})
	env.logs.Add(logbuffer.Entry{Level: "error", Component: "pipeline", Message: "resolver failed"})

	rec := env.do(http.MethodGet, "/api/v1/logs", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = env.do(http.MethodGet, "/api/v1/logs?level=error", env.token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Entries []logbuffer.Entry `json:"entries"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Entries) != 1 || resp.Entries[0].Message != "resolver failed" {
		t.Fatalf("unexpected entries: %+v", resp.Entries)
	}

	rec = env.do(http.MethodGet, "/api/v1/logs?limit=bad", env.token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rec.Code)
	}

	rec = env.do(http.MethodGet, "/api/v1/logs/stats", env.token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for stats, got %d", rec.Code)
	}
	var stats struct {
		Stats logbuffer.Stats `json:"stats"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Stats.Count != 2 {
		t.Fatalf("expected 2 buffered entries, got %d", stats.Stats.Count)
	}
}
