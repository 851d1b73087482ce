/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	ws "nhooyr.io/websocket"

	"github.com/friendsincode/bragi_player/internal/events"
	"github.com/friendsincode/bragi_player/internal/player"
	"github.com/friendsincode/bragi_player/internal/telemetry"
)

// ErrNoSink is returned when playback is requested with no client
// connected to the player websocket.
var ErrNoSink = errors.New("api: no sink connected")

// sinkDirective is a server-to-client playback instruction. The
// connected client owns the audio element; the server tells it what to
// bind and when to pause.
type sinkDirective struct {
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
}

// wsMessage is the envelope for all websocket frames.
type wsMessage struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// RemoteSink relays sink directives to the client on the player
// websocket. One client at a time; a new connection replaces the old.
type RemoteSink struct {
	mu     sync.Mutex
	conn   *ws.Conn
	ctx    context.Context
	logger zerolog.Logger
}

// NewRemoteSink creates a sink with no client attached.
func NewRemoteSink(logger zerolog.Logger) *RemoteSink {
	return &RemoteSink{
		logger: logger.With().Str("component", "remote-sink").Logger(),
	}
}

// attach makes conn the active sink connection and returns the
// previous one, if any, so the caller can close it.
func (s *RemoteSink) attach(ctx context.Context, conn *ws.Conn) *ws.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.conn
	s.conn = conn
	s.ctx = ctx
	return prev
}

// detach clears conn if it is still the active connection.
func (s *RemoteSink) detach(conn *ws.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == conn {
		s.conn = nil
		s.ctx = nil
	}
}

func (s *RemoteSink) send(d sinkDirective) error {
	s.mu.Lock()
	conn, connCtx := s.conn, s.ctx
	s.mu.Unlock()

	if conn == nil {
		return ErrNoSink
	}

	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(wsMessage{Type: "directive", Timestamp: time.Now(), Data: data})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(connCtx, 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, ws.MessageText, msg); err != nil {
		s.logger.Debug().Err(err).Str("directive", d.Type).Msg("sink write failed")
		return err
	}
	return nil
}

func (s *RemoteSink) Bind(url string) error { return s.send(sinkDirective{Type: "bind", URL: url}) }
func (s *RemoteSink) Pause() error          { return s.send(sinkDirective{Type: "pause"}) }
func (s *RemoteSink) Resume() error         { return s.send(sinkDirective{Type: "resume"}) }
func (s *RemoteSink) Unbind() error         { return s.send(sinkDirective{Type: "unbind"}) }

// handlePlayerWS upgrades to the player websocket. Sink events flow up
// from the client; directives and state updates flow down.
func (a *API) handlePlayerWS(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.APIWebSocketConnections.Inc()
	defer telemetry.APIWebSocketConnections.Dec()

	// Sink directives outlive the upgrade request, so they ride on a
	// connection-scoped context rather than the request's.
	connCtx, cancelConn := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancelConn()

	if prev := a.sink.attach(connCtx, conn); prev != nil {
		prev.Close(ws.StatusPolicyViolation, "replaced by new connection")
	}
	defer a.sink.detach(conn)

	a.logger.Debug().Msg("player websocket connected")

	stateCh := a.bus.Subscribe(events.EventPlayerState)
	queueCh := a.bus.Subscribe(events.EventQueueUpdated)
	nowCh := a.bus.Subscribe(events.EventNowPlaying)
	failCh := a.bus.Subscribe(events.EventPlaybackFailed)
	defer func() {
		a.bus.Unsubscribe(events.EventPlayerState, stateCh)
		a.bus.Unsubscribe(events.EventQueueUpdated, queueCh)
		a.bus.Unsubscribe(events.EventNowPlaying, nowCh)
		a.bus.Unsubscribe(events.EventPlaybackFailed, failCh)
	}()

	if err := a.sendState(connCtx, conn, "state", events.Payload{"snapshot": a.controller.Snapshot()}); err != nil {
		a.logger.Debug().Err(err).Msg("initial state send failed")
		return
	}

	done := make(chan struct{})
	eventCh := make(chan player.SinkEvent, 16)

	go func() {
		defer close(done)
		for {
			_, data, err := conn.Read(connCtx)
			if err != nil {
				if ws.CloseStatus(err) == ws.StatusNormalClosure {
					return
				}
				a.logger.Debug().Err(err).Msg("websocket read error")
				return
			}

			var msg wsMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				a.logger.Warn().Err(err).Msg("invalid websocket message")
				continue
			}
			if msg.Type != "sink_event" {
				continue
			}

			var ev player.SinkEvent
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				a.logger.Warn().Err(err).Msg("invalid sink event")
				continue
			}

			select {
			case eventCh <- ev:
			default:
				a.logger.Warn().Msg("sink event channel full, dropping message")
			}
		}
	}()

	pingTicker := time.NewTicker(15 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case <-connCtx.Done():
			conn.Close(ws.StatusNormalClosure, "shutting down")
			return

		case <-done:
			conn.Close(ws.StatusNormalClosure, "client disconnected")
			return

		case <-pingTicker.C:
			if err := a.sendState(connCtx, conn, "ping", nil); err != nil {
				conn.Close(ws.StatusInternalError, "ping failed")
				return
			}

		case ev := <-eventCh:
			a.controller.OnSinkEvent(connCtx, ev)

		case payload := <-stateCh:
			if err := a.sendState(connCtx, conn, "state", payload); err != nil {
				conn.Close(ws.StatusInternalError, "send failed")
				return
			}

		case payload := <-queueCh:
			if err := a.sendState(connCtx, conn, "queue", payload); err != nil {
				conn.Close(ws.StatusInternalError, "send failed")
				return
			}

		case payload := <-nowCh:
			if err := a.sendState(connCtx, conn, "now_playing", payload); err != nil {
				conn.Close(ws.StatusInternalError, "send failed")
				return
			}

		case payload := <-failCh:
			if err := a.sendState(connCtx, conn, "playback_failed", payload); err != nil {
				conn.Close(ws.StatusInternalError, "send failed")
				return
			}
		}
	}
}

func (a *API) sendState(ctx context.Context, conn *ws.Conn, kind string, payload events.Payload) error {
	msg := wsMessage{Type: kind, Timestamp: time.Now()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		msg.Data = data
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(writeCtx, ws.MessageText, raw)
}
