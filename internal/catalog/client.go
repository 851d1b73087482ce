/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package catalog queries the upstream video catalog for track metadata.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi_player/internal/player"
)

// ErrUpstream is returned when the catalog responds with a non-200 status.
var ErrUpstream = errors.New("catalog: upstream error")

// DefaultBaseURL is the YouTube Data API v3 endpoint.
const DefaultBaseURL = "https://www.googleapis.com/youtube/v3"

const sourceTag = "youtube"

// Client searches the catalog and maps results into tracks.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     zerolog.Logger
}

// New creates a catalog client. An empty baseURL selects the default
// endpoint; apiKey is used when the caller supplies no bearer token.
func New(baseURL, apiKey string, logger zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: logger.With().Str("component", "catalog").Logger(),
	}
}

// searchResponse mirrors the subset of the search API we consume.
type searchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			Title        string `json:"title"`
			ChannelTitle string `json:"channelTitle"`
			Thumbnails   struct {
				High struct {
					URL string `json:"url"`
				} `json:"high"`
				Default struct {
					URL string `json:"url"`
				} `json:"default"`
			} `json:"thumbnails"`
		} `json:"snippet"`
	} `json:"items"`
}

// Search runs a keyword search and returns playable tracks.
// bearer, when non-empty, is forwarded as the Authorization token;
// otherwise the configured API key is sent as a query parameter.
func (c *Client) Search(ctx context.Context, query, bearer string, limit int) ([]player.Track, error) {
	if limit <= 0 || limit > 50 {
		limit = 25
	}

	params := url.Values{}
	params.Set("part", "snippet")
	params.Set("type", "video")
	params.Set("videoCategoryId", "10")
	params.Set("maxResults", fmt.Sprintf("%d", limit))
	params.Set("q", query)
	if bearer == "" && c.apiKey != "" {
		params.Set("key", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog: search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn().Int("status", resp.StatusCode).Str("query", query).Msg("catalog search failed")
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("catalog: decode response: %w", err)
	}

	tracks := make([]player.Track, 0, len(body.Items))
	for _, item := range body.Items {
		if item.ID.VideoID == "" {
			continue
		}
		art := item.Snippet.Thumbnails.High.URL
		if art == "" {
			art = item.Snippet.Thumbnails.Default.URL
		}
		tracks = append(tracks, player.Track{
			ID:         item.ID.VideoID,
			Source:     sourceTag,
			Title:      item.Snippet.Title,
			Artist:     item.Snippet.ChannelTitle,
			ArtworkRef: art,
		})
	}

	c.logger.Debug().Str("query", query).Int("results", len(tracks)).Msg("catalog search complete")
	return tracks, nil
}
