/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package player

// SinkEventKind enumerates sink lifecycle notifications.
type SinkEventKind string

const (
	// SinkReady: the source is loaded and playable.
	SinkReady SinkEventKind = "ready"
	// SinkPlaying: audio output started.
	SinkPlaying SinkEventKind = "playing"
	// SinkProgress: periodic clock update. Position is the sink's native
	// clock, which restarts at zero whenever a new source is bound.
	SinkProgress SinkEventKind = "progress"
	// SinkEnded: the bound source played to completion.
	SinkEnded SinkEventKind = "ended"
	// SinkError: the sink failed to load or play the bound source.
	SinkError SinkEventKind = "error"
)

// SinkEvent is a notification from the audio sink.
type SinkEvent struct {
	Kind            SinkEventKind `json:"kind"`
	PositionSeconds float64       `json:"positionSeconds,omitempty"`
	DurationSeconds float64       `json:"durationSeconds,omitempty"`
	Message         string        `json:"message,omitempty"`
}

// Sink is the audio output the controller plays through. Bind loads a source
// URL and starts playback; Unbind stops and releases it so no connection
// outlives the track.
type Sink interface {
	Bind(url string) error
	Pause() error
	Resume() error
	Unbind() error
}
