/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/bragi_player/internal/player"
)

func (a *API) handlePlayerState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.controller.Snapshot())
}

// decodeTrack reads and validates a track from the request body.
func decodeTrack(w http.ResponseWriter, r *http.Request) (player.Track, bool) {
	var track player.Track
	if err := json.NewDecoder(r.Body).Decode(&track); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return track, false
	}
	if !trackIDPattern.MatchString(track.ID) {
		writeError(w, http.StatusBadRequest, "invalid_trackId")
		return track, false
	}
	if track.Source == "" {
		track.Source = "youtube"
	}
	return track, true
}

func (a *API) handlePlayerPlay(w http.ResponseWriter, r *http.Request) {
	track, ok := decodeTrack(w, r)
	if !ok {
		return
	}
	if err := a.controller.PlayTrack(r.Context(), track); err != nil {
		a.logger.Warn().Err(err).Str("track_id", track.ID).Msg("play failed")
		writeError(w, http.StatusConflict, "play_failed")
		return
	}
	writeJSON(w, http.StatusOK, a.controller.Snapshot())
}

func (a *API) handlePlayerToggle(w http.ResponseWriter, r *http.Request) {
	if err := a.controller.TogglePlay(r.Context()); err != nil {
		writeError(w, http.StatusConflict, "toggle_failed")
		return
	}
	writeJSON(w, http.StatusOK, a.controller.Snapshot())
}

func (a *API) handlePlayerNext(w http.ResponseWriter, r *http.Request) {
	if err := a.controller.PlayNext(r.Context()); err != nil {
		writeError(w, http.StatusConflict, "next_failed")
		return
	}
	writeJSON(w, http.StatusOK, a.controller.Snapshot())
}

func (a *API) handlePlayerPrevious(w http.ResponseWriter, r *http.Request) {
	if err := a.controller.PlayPrevious(r.Context()); err != nil {
		writeError(w, http.StatusConflict, "previous_failed")
		return
	}
	writeJSON(w, http.StatusOK, a.controller.Snapshot())
}

func (a *API) handlePlayerSeek(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Seconds float64 `json:"seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Seconds < 0 {
		writeError(w, http.StatusBadRequest, "invalid_seek")
		return
	}
	if err := a.controller.Seek(r.Context(), req.Seconds); err != nil {
		writeError(w, http.StatusConflict, "seek_failed")
		return
	}
	writeJSON(w, http.StatusOK, a.controller.Snapshot())
}

func (a *API) handlePlayerStop(w http.ResponseWriter, r *http.Request) {
	if err := a.controller.Stop(); err != nil {
		writeError(w, http.StatusConflict, "stop_failed")
		return
	}
	writeJSON(w, http.StatusOK, a.controller.Snapshot())
}

func (a *API) handleQueueAdd(w http.ResponseWriter, r *http.Request) {
	track, ok := decodeTrack(w, r)
	if !ok {
		return
	}
	a.controller.Enqueue(track)
	writeJSON(w, http.StatusOK, a.controller.Snapshot())
}

func (a *API) handleQueueRemove(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		writeError(w, http.StatusBadRequest, "invalid_index")
		return
	}
	a.controller.Dequeue(index)
	writeJSON(w, http.StatusOK, a.controller.Snapshot())
}

func (a *API) handleShuffleToggle(w http.ResponseWriter, r *http.Request) {
	enabled := a.controller.ToggleShuffle()
	snap := a.controller.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{"shuffle": enabled, "queue": snap.Queue})
}

func (a *API) handleRepeatCycle(w http.ResponseWriter, r *http.Request) {
	mode := a.controller.CycleRepeat()
	writeJSON(w, http.StatusOK, map[string]any{"repeat": mode})
}
