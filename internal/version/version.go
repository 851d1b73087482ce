/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version holds the build version and the release update checker.
package version

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Version is overridden at build time:
//
//	-X github.com/friendsincode/bragi_player/internal/version.Version=X.Y.Z
var Version = "0.4.0"

// GitHubRepo is checked for newer releases.
const GitHubRepo = "friendsincode/bragi_player"

const defaultCheckPeriod = 6 * time.Hour

// UpdateInfo describes the newest known release relative to this build.
type UpdateInfo struct {
	CurrentVersion  string
	LatestVersion   string
	UpdateAvailable bool
	ReleaseURL      string
	CheckedAt       time.Time
}

type release struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
}

// Checker polls the GitHub releases API in the background.
type Checker struct {
	mu     sync.RWMutex
	info   UpdateInfo
	logger zerolog.Logger
	period time.Duration
	client *http.Client
	apiURL string
	cancel context.CancelFunc
}

// NewChecker creates an update checker. It does nothing until Start.
func NewChecker(logger zerolog.Logger) *Checker {
	return &Checker{
		logger: logger.With().Str("component", "update-checker").Logger(),
		period: defaultCheckPeriod,
		client: &http.Client{Timeout: 10 * time.Second},
		apiURL: fmt.Sprintf("https://api.github.com/repos/%s/releases/latest", GitHubRepo),
		info:   UpdateInfo{CurrentVersion: Version},
	}
}

// Start checks once immediately, then on the poll period until the context
// ends or Stop is called.
func (c *Checker) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	c.check(ctx)

	go func() {
		ticker := time.NewTicker(c.period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.check(ctx)
			}
		}
	}()
}

// Stop ends background polling.
func (c *Checker) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

// Info returns the last check result.
func (c *Checker) Info() UpdateInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info
}

func (c *Checker) check(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL, nil)
	if err != nil {
		return
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "Bragi-Player/"+Version)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Msg("release check failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Debug().Int("status", resp.StatusCode).Msg("release check rejected")
		return
	}

	var rel release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		c.logger.Debug().Err(err).Msg("release decode failed")
		return
	}
	latest := strings.TrimPrefix(rel.TagName, "v")

	info := UpdateInfo{
		CurrentVersion:  Version,
		LatestVersion:   latest,
		UpdateAvailable: Compare(Version, latest) < 0,
		ReleaseURL:      rel.HTMLURL,
		CheckedAt:       time.Now(),
	}

	c.mu.Lock()
	c.info = info
	c.mu.Unlock()

	if info.UpdateAvailable {
		c.logger.Info().
			Str("current", Version).
			Str("latest", latest).
			Msg("new release available")
	}
}

// Compare orders two dotted versions. Negative when a is older than b,
// zero when equal, positive when newer. Missing segments count as zero.
func Compare(a, b string) int {
	as := segments(a)
	bs := segments(b)
	for i := 0; i < 3; i++ {
		if as[i] != bs[i] {
			return as[i] - bs[i]
		}
	}
	return 0
}

func segments(v string) [3]int {
	var out [3]int
	parts := strings.Split(strings.TrimPrefix(v, "v"), ".")
	for i := 0; i < len(parts) && i < 3; i++ {
		n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			break
		}
		out[i] = n
	}
	return out
}
