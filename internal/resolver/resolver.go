/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package resolver invokes the external URL resolver process.
//
// Contract: argv is the configured binary plus fixed arguments plus the track
// id; on success the process prints exactly one line on stdout (the direct
// media URL) and exits 0. Anything else is a resolution failure.
package resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrResolveFailed indicates the resolver process did not produce a URL.
var ErrResolveFailed = errors.New("resolver failed")

// Config describes the resolver process invocation.
type Config struct {
	Bin     string
	Args    []string
	Timeout time.Duration
}

// Runner executes the resolver process synchronously.
type Runner struct {
	cfg    Config
	logger zerolog.Logger
}

// New creates a resolver runner.
func New(cfg Config, logger zerolog.Logger) *Runner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Runner{
		cfg:    cfg,
		logger: logger.With().Str("component", "resolver").Logger(),
	}
}

// Resolve runs the resolver for trackID and returns the direct media URL.
// The invocation is bounded by the configured timeout.
func (r *Runner) Resolve(ctx context.Context, trackID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	args := append(append([]string(nil), r.cfg.Args...), trackID)
	cmd := exec.CommandContext(ctx, r.cfg.Bin, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if stderr.Len() > 0 {
		r.logger.Debug().
			Str("track_id", trackID).
			Str("stderr", strings.TrimSpace(stderr.String())).
			Msg("resolver stderr")
	}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("%w: timed out after %s", ErrResolveFailed, r.cfg.Timeout)
		}
		return "", fmt.Errorf("%w: %v", ErrResolveFailed, err)
	}

	url, err := parseOutput(stdout.String())
	if err != nil {
		return "", err
	}

	r.logger.Debug().
		Str("track_id", trackID).
		Dur("elapsed", elapsed).
		Msg("resolved track url")
	return url, nil
}

// parseOutput enforces the single-line stdout contract.
func parseOutput(out string) (string, error) {
	trimmed := strings.TrimSpace(out)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty output", ErrResolveFailed)
	}
	if strings.ContainsAny(trimmed, "\r\n") {
		return "", fmt.Errorf("%w: expected a single output line", ErrResolveFailed)
	}
	return trimmed, nil
}
