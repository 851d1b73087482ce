/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package pipeline

import "errors"

// Failure classes for a stream open. Callers branch on these: resolution and
// transcoder start failures are terminal for the request, an upstream
// rejection has already invalidated the cached URL and is worth one retry.
var (
	ErrResolution       = errors.New("track resolution failed")
	ErrTranscodeStart   = errors.New("transcoder start failed")
	ErrUpstreamRejected = errors.New("upstream rejected resolved url")
)
