/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/friendsincode/bragi_player/internal/auth"
)

// handleSessionCreate issues a player session token. The client keeps
// it for API calls and passes it as ?token= on the websocket upgrade.
func (a *API) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientID string `json:"client_id"`
	}
	if r.Body != nil {
		// Body is optional; an anonymous client gets a fresh identity.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.ClientID == "" {
		req.ClientID = uuid.NewString()
	}

	sessionID := uuid.NewString()
	token, err := auth.Issue(a.jwtSecret, auth.Claims{
		SessionID: sessionID,
		ClientID:  req.ClientID,
	}, a.sessionTTL)
	if err != nil {
		a.logger.Error().Err(err).Msg("token issue failed")
		writeError(w, http.StatusInternalServerError, "token_error")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"token":      token,
		"session_id": sessionID,
		"client_id":  req.ClientID,
		"expires_at": time.Now().Add(a.sessionTTL).UTC().Format(time.RFC3339),
	})
}
