/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
)

// handleSearch proxies a catalog keyword search.
func (a *API) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "q_required")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}

	// A caller-provided upstream token takes precedence over the
	// server's API key.
	bearer := r.Header.Get("X-Upstream-Token")

	tracks, err := a.catalog.Search(r.Context(), query, bearer, limit)
	if err != nil {
		a.logger.Error().Err(err).Str("query", query).Msg("catalog search failed")
		writeError(w, http.StatusBadGateway, "search_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tracks": tracks})
}

// handleHistory lists recently played tracks.
func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}

	records, err := a.history.Recent(r.Context(), limit)
	if err != nil {
		a.logger.Error().Err(err).Msg("history lookup failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tracks": records})
}

// handleArtwork serves a track's cached cover image.
func (a *API) handleArtwork(w http.ResponseWriter, r *http.Request) {
	trackID := chi.URLParam(r, "trackID")
	if !trackIDPattern.MatchString(trackID) {
		writeError(w, http.StatusBadRequest, "invalid_trackId")
		return
	}

	record, err := a.history.Lookup(r.Context(), trackID)
	if err != nil || record.ArtworkRef == "" {
		writeError(w, http.StatusNotFound, "artwork_not_found")
		return
	}

	if target, ok := a.artworkSvc.EnsurePublicURL(r.Context(), trackID, record.ArtworkRef); ok {
		http.Redirect(w, r, target, http.StatusFound)
		return
	}

	rc, contentType, err := a.artworkSvc.Get(r.Context(), trackID, record.ArtworkRef)
	if err != nil {
		writeError(w, http.StatusNotFound, "artwork_not_found")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}
