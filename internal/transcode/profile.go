/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package transcode

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Profile describes the fixed system-wide output encoding and the argv
// template used to launch the transcoder. Args may contain the {input} and
// {seek} placeholders; seek is applied on the input side so the produced
// stream always starts at its requested offset and the output clock starts
// at zero.
type Profile struct {
	Bin         string
	Args        []string
	ContentType string
	KillTimeout time.Duration
}

// DefaultProfile returns an ffmpeg MP3 profile.
func DefaultProfile() Profile {
	return Profile{
		Bin: "ffmpeg",
		Args: []string{
			"-ss", "{seek}",
			"-i", "{input}",
			"-vn",
			"-acodec", "libmp3lame",
			"-b:a", "192k",
			"-f", "mp3",
			"pipe:1",
		},
		ContentType: "audio/mpeg",
		KillTimeout: 5 * time.Second,
	}
}

// BuildArgs substitutes the input URL and seek offset into the template.
// A negative seek is clamped to zero.
func (p Profile) BuildArgs(inputURL string, seekSeconds int) ([]string, error) {
	if inputURL == "" {
		return nil, fmt.Errorf("empty input url")
	}
	if seekSeconds < 0 {
		seekSeconds = 0
	}
	seek := strconv.Itoa(seekSeconds)

	args := make([]string, 0, len(p.Args))
	sawInput := false
	for _, arg := range p.Args {
		if strings.Contains(arg, "{input}") {
			sawInput = true
		}
		arg = strings.ReplaceAll(arg, "{input}", inputURL)
		arg = strings.ReplaceAll(arg, "{seek}", seek)
		args = append(args, arg)
	}
	if !sawInput {
		return nil, fmt.Errorf("args template missing {input} placeholder")
	}
	return args, nil
}
