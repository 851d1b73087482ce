/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/friendsincode/bragi_player/internal/pipeline"
	"github.com/friendsincode/bragi_player/internal/telemetry"
)

// streamCopyChunk is the flush granularity for live audio.
const streamCopyChunk = 32 * 1024

// handleStream serves GET /stream?trackId=...&seek=...
//
// The response is a single unbounded transcoded stream. Range requests
// are not honored: seeking happens on the transcoder's input side, so a
// new offset means a new request with a different seek parameter.
func (a *API) handleStream(w http.ResponseWriter, r *http.Request) {
	trackID := r.URL.Query().Get("trackId")
	if trackID == "" {
		writeError(w, http.StatusBadRequest, "trackId_required")
		return
	}
	if !trackIDPattern.MatchString(trackID) {
		writeError(w, http.StatusBadRequest, "invalid_trackId")
		return
	}

	if !a.limiter.Allow(r.RemoteAddr) {
		writeError(w, http.StatusTooManyRequests, "rate_limited")
		return
	}

	seek := 0
	if raw := r.URL.Query().Get("seek"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid_seek")
			return
		}
		seek = parsed
	}

	ctx := r.Context()

	stream, err := a.streamer.Open(ctx, trackID, seek)
	if errors.Is(err, pipeline.ErrUpstreamRejected) {
		// The cached URL was stale and has been dropped. One fresh
		// resolution decides the request.
		stream, err = a.streamer.Open(ctx, trackID, seek)
	}
	if err != nil {
		a.logger.Error().Err(err).Str("track_id", trackID).Int("seek", seek).Msg("stream open failed")
		writeError(w, http.StatusInternalServerError, "stream_failed")
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", stream.ContentType)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, streamCopyChunk)
	var written int64

	for {
		n, readErr := stream.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				// Client went away; Close below kills the transcoder
				// within its teardown window.
				a.logger.Debug().Str("track_id", trackID).Int64("bytes", written).Msg("client disconnected")
				break
			}
			written += int64(n)
			telemetry.StreamBytesTotal.Add(float64(n))
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				a.logger.Debug().Err(readErr).Str("track_id", trackID).Msg("stream read ended")
			}
			break
		}
		select {
		case <-ctx.Done():
			a.logger.Debug().Str("track_id", trackID).Int64("bytes", written).Msg("request cancelled")
			return
		default:
		}
	}
}
