/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package store persists track metadata and listening history.
package store

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/bragi_player/internal/player"
)

// TrackRecord is a row of play history for a single track.
type TrackRecord struct {
	ID              uint   `gorm:"primaryKey"`
	TrackID         string `gorm:"uniqueIndex;type:varchar(64)"`
	Source          string `gorm:"type:varchar(32);index"`
	Title           string `gorm:"index"`
	Artist          string `gorm:"index"`
	ArtworkRef      string
	DurationSeconds float64
	PlayCount       int64
	LastPlayedAt    time.Time `gorm:"index"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Service records play history and serves recently played tracks.
type Service struct {
	db     *gorm.DB
	logger zerolog.Logger
	now    func() time.Time
}

// NewService creates a track history store.
func NewService(db *gorm.DB, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger.With().Str("component", "store").Logger(),
		now:    time.Now,
	}
}

// Migrate creates or updates the backing tables.
func (s *Service) Migrate() error {
	return s.db.AutoMigrate(&TrackRecord{})
}

// RecordPlay upserts a track's metadata and bumps its play count.
// Called once per fresh playback start, not on seek restarts.
func (s *Service) RecordPlay(ctx context.Context, track player.Track) {
	now := s.now()
	record := TrackRecord{
		TrackID:      track.ID,
		Source:       track.Source,
		Title:        track.Title,
		Artist:       track.Artist,
		ArtworkRef:   track.ArtworkRef,
		PlayCount:    1,
		LastPlayedAt: now,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "track_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"source":         track.Source,
			"title":          track.Title,
			"artist":         track.Artist,
			"artwork_ref":    track.ArtworkRef,
			"play_count":     gorm.Expr("play_count + 1"),
			"last_played_at": now,
			"updated_at":     now,
		}),
	}).Create(&record).Error
	if err != nil {
		s.logger.Error().Err(err).Str("track_id", track.ID).Msg("failed to record play")
	}
}

// RecordDuration stores the duration reported by the sink once known.
func (s *Service) RecordDuration(ctx context.Context, trackID string, seconds float64) {
	if seconds <= 0 {
		return
	}
	err := s.db.WithContext(ctx).Model(&TrackRecord{}).
		Where("track_id = ? AND duration_seconds <> ?", trackID, seconds).
		Update("duration_seconds", seconds).Error
	if err != nil {
		s.logger.Error().Err(err).Str("track_id", trackID).Msg("failed to record duration")
	}
}

// Recent returns the most recently played tracks, newest first.
func (s *Service) Recent(ctx context.Context, limit int) ([]TrackRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var records []TrackRecord
	err := s.db.WithContext(ctx).
		Where("play_count > 0").
		Order("last_played_at DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

// Lookup returns the stored record for a track, if any.
func (s *Service) Lookup(ctx context.Context, trackID string) (*TrackRecord, error) {
	var record TrackRecord
	err := s.db.WithContext(ctx).Where("track_id = ?", trackID).First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}
