/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package player implements the playback controller: a state machine over a
// current track, a history stack and an up-next queue, with shuffle, repeat
// and multi-source adapter dispatch.
package player

// Track is a playable catalog entry. Source selects the adapter used to
// start playback; the controller never looks inside a source's backend.
type Track struct {
	ID              string  `json:"id"`
	Source          string  `json:"source"`
	Title           string  `json:"title"`
	Artist          string  `json:"artist"`
	ArtworkRef      string  `json:"artworkRef,omitempty"`
	DurationSeconds float64 `json:"durationSeconds,omitempty"`
}
