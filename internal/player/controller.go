/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package player

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi_player/internal/events"
)

// State is the controller lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
)

// RepeatMode cycles Off -> All -> One -> Off.
type RepeatMode string

const (
	RepeatOff RepeatMode = "off"
	RepeatAll RepeatMode = "all"
	RepeatOne RepeatMode = "one"
)

// Next returns the following mode in the cycle.
func (m RepeatMode) Next() RepeatMode {
	switch m {
	case RepeatOff:
		return RepeatAll
	case RepeatAll:
		return RepeatOne
	default:
		return RepeatOff
	}
}

// Snapshot is an immutable view of controller state.
type Snapshot struct {
	State   State  `json:"state"`
	Track   *Track `json:"track,omitempty"`
	Playing bool   `json:"playing"`
	Loading bool   `json:"loading"`

	// PositionSeconds is SeekBaseOffset plus the sink's native clock. The
	// sink clock restarts at zero on every stream start, the base offset
	// carries the seek target across restarts.
	PositionSeconds float64 `json:"positionSeconds"`
	DurationSeconds float64 `json:"durationSeconds"`
	SeekBaseOffset  float64 `json:"seekBaseOffset"`

	// LoadFailed is set when the last start or seek attempt failed to
	// produce a playing stream; LastError carries the failure message.
	// Both clear on the next start attempt.
	LoadFailed bool   `json:"loadFailed,omitempty"`
	LastError  string `json:"lastError,omitempty"`

	Shuffle bool       `json:"shuffle"`
	Repeat  RepeatMode `json:"repeat"`
	Queue   []Track    `json:"queue"`
	History []Track    `json:"history"`
}

// PlayRecorder receives play and duration facts for persistence. Optional.
type PlayRecorder interface {
	RecordPlay(ctx context.Context, track Track)
	RecordDuration(ctx context.Context, trackID string, seconds float64)
}

// Controller is the playback state machine. Every public method runs its
// transition to completion under one mutex; asynchronous outcomes arrive as
// sink events and are guarded by a generation counter so a stale callback
// cannot affect a newer track.
type Controller struct {
	mu sync.Mutex

	registry *Registry
	bus      *events.Bus
	recorder PlayRecorder
	logger   zerolog.Logger

	state   State
	current *Track
	adapter Adapter

	history []Track // most recent last
	queue   []Track // front is next

	shuffle       bool
	originalOrder []Track // queue snapshot taken when shuffle was enabled
	repeat        RepeatMode

	seekBase  float64
	nativePos float64
	duration  float64

	generation  int
	pendingSeek bool
	loadFailed  bool
	lastError   string

	autoAdvanceDelay time.Duration
	afterFunc        func(d time.Duration, f func()) // injectable timer
	rng              *rand.Rand
}

// Config wires a Controller.
type Config struct {
	Registry *Registry
	Bus      *events.Bus
	Recorder PlayRecorder

	// AutoAdvanceDelay is the pause before skipping past a track that
	// failed to start. Zero means the 2 second default.
	AutoAdvanceDelay time.Duration

	// Seed fixes the shuffle order; zero seeds from the clock.
	Seed int64
}

// NewController creates an idle controller.
func NewController(cfg Config, logger zerolog.Logger) *Controller {
	delay := cfg.AutoAdvanceDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Controller{
		registry:         cfg.Registry,
		bus:              cfg.Bus,
		recorder:         cfg.Recorder,
		logger:           logger.With().Str("component", "player").Logger(),
		state:            StateIdle,
		repeat:           RepeatOff,
		autoAdvanceDelay: delay,
		afterFunc: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
		rng: rand.New(rand.NewSource(seed)),
	}
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:           c.state,
		Playing:         c.state == StatePlaying,
		Loading:         c.state == StateLoading,
		PositionSeconds: c.seekBase + c.nativePos,
		DurationSeconds: c.duration,
		SeekBaseOffset:  c.seekBase,
		LoadFailed:      c.loadFailed,
		LastError:       c.lastError,
		Shuffle:         c.shuffle,
		Repeat:          c.repeat,
		Queue:           append([]Track(nil), c.queue...),
		History:         append([]Track(nil), c.history...),
	}
	if c.current != nil {
		track := *c.current
		snap.Track = &track
	}
	return snap
}

// PlayTrack starts a new track immediately. A different playing track is
// pushed onto history; replaying the current track restarts it in place so
// it never shows up twice across the stacks.
func (c *Controller) PlayTrack(ctx context.Context, track Track) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil && c.current.ID != track.ID {
		c.history = append(c.history, *c.current)
	}
	return c.startLocked(ctx, track, 0, true)
}

// TogglePlay pauses a playing track, resumes a paused one, and restarts the
// current track when idle.
func (c *Controller) TogglePlay(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StatePlaying:
		if err := c.adapter.Pause(); err != nil {
			return err
		}
		c.state = StatePaused
	case StatePaused:
		if err := c.adapter.Resume(); err != nil {
			return err
		}
		c.state = StatePlaying
	case StateIdle:
		if c.current == nil {
			return nil
		}
		return c.startLocked(ctx, *c.current, 0, true)
	case StateLoading:
		// A start is in flight; ignore.
	}
	c.publishStateLocked()
	return nil
}

// PlayNext advances to the next queued track. Under repeat-one it
// restarts the current track from zero and leaves both stacks alone.
func (c *Controller) PlayNext(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.repeat == RepeatOne && c.current != nil {
		return c.startLocked(ctx, *c.current, 0, true)
	}
	return c.advanceLocked(ctx)
}

// PlayPrevious returns to the most recent history entry, pushing the current
// track back onto the front of the queue. With empty history the current
// track restarts from the beginning.
func (c *Controller) PlayPrevious(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.history) == 0 {
		if c.current == nil {
			return nil
		}
		return c.startLocked(ctx, *c.current, 0, true)
	}

	if c.current != nil {
		c.queue = append([]Track{*c.current}, c.queue...)
	}
	last := c.history[len(c.history)-1]
	c.history = c.history[:len(c.history)-1]
	return c.startLocked(ctx, last, 0, true)
}

// Seek restarts the current stream at the target offset. The displayed
// position becomes the target immediately: the base offset is set to the
// target and the native clock restarts at zero. A failed seek surfaces as a
// load failure without leaving the current track.
func (c *Controller) Seek(ctx context.Context, targetSeconds float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return nil
	}
	if targetSeconds < 0 {
		targetSeconds = 0
	}
	c.pendingSeek = true
	return c.startLocked(ctx, *c.current, targetSeconds, false)
}

// Enqueue appends a track to the up-next queue.
func (c *Controller) Enqueue(track Track) {
	c.mu.Lock()
	c.queue = append(c.queue, track)
	c.mu.Unlock()
	c.publishQueue()
}

// Dequeue removes the queue entry at index.
func (c *Controller) Dequeue(index int) {
	c.mu.Lock()
	if index >= 0 && index < len(c.queue) {
		c.queue = append(c.queue[:index], c.queue[index+1:]...)
	}
	c.mu.Unlock()
	c.publishQueue()
}

// ToggleShuffle enables or disables shuffle. Enabling snapshots the queue
// order and shuffles in place; disabling restores the snapshot exactly, so
// tracks enqueued while shuffled are dropped from the restored queue.
func (c *Controller) ToggleShuffle() bool {
	c.mu.Lock()
	if c.shuffle {
		c.queue = c.originalOrder
		c.originalOrder = nil
		c.shuffle = false
	} else {
		c.originalOrder = append([]Track(nil), c.queue...)
		c.shuffleQueueLocked()
		c.shuffle = true
	}
	enabled := c.shuffle
	c.mu.Unlock()
	c.publishQueue()
	return enabled
}

func (c *Controller) shuffleQueueLocked() {
	c.rng.Shuffle(len(c.queue), func(i, j int) {
		c.queue[i], c.queue[j] = c.queue[j], c.queue[i]
	})
}

// CycleRepeat advances the repeat mode and returns the new mode.
func (c *Controller) CycleRepeat() RepeatMode {
	c.mu.Lock()
	c.repeat = c.repeat.Next()
	mode := c.repeat
	c.mu.Unlock()
	c.publishState()
	return mode
}

// Stop unbinds the sink and goes idle. The current track stays current so
// TogglePlay can restart it.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	if c.adapter != nil {
		if err := c.adapter.Stop(); err != nil {
			c.logger.Warn().Err(err).Msg("adapter stop failed")
		}
	}
	c.state = StateIdle
	c.nativePos = 0
	c.seekBase = 0
	c.publishStateLocked()
	return nil
}

// OnSinkEvent applies a sink notification to the state machine. The server
// pumps these from the bound sink; tests call it directly.
func (c *Controller) OnSinkEvent(ctx context.Context, ev SinkEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Kind {
	case SinkReady, SinkPlaying:
		if c.state == StateLoading {
			c.state = StatePlaying
			c.pendingSeek = false
			c.publishStateLocked()
		}
	case SinkProgress:
		c.nativePos = ev.PositionSeconds
		// The sink only sees the stream opened at the seek offset, so
		// its reported duration is the remainder. Track time is the
		// base offset plus that remainder.
		if total := c.seekBase + ev.DurationSeconds; ev.DurationSeconds > 0 && total != c.duration {
			c.duration = total
			if c.recorder != nil && c.current != nil {
				c.recorder.RecordDuration(ctx, c.current.ID, total)
			}
		}
	case SinkEnded:
		c.onEndedLocked(ctx)
	case SinkError:
		c.onFailureLocked(ctx, ev.Message)
	}
}

func (c *Controller) onEndedLocked(ctx context.Context) {
	if c.repeat == RepeatOne && c.current != nil {
		if err := c.startLocked(ctx, *c.current, 0, true); err != nil {
			c.logger.Warn().Err(err).Msg("repeat-one restart failed")
		}
		return
	}
	if err := c.advanceLocked(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("advance after track end failed")
	}
}

// advanceLocked moves to the next track. With an exhausted queue, repeat-all
// wraps around: everything played so far returns to the queue in its original
// play order (re-shuffled when shuffle is on) and the first of it plays.
func (c *Controller) advanceLocked(ctx context.Context) error {
	if len(c.queue) == 0 {
		if c.repeat != RepeatAll || (len(c.history) == 0 && c.current == nil) {
			return c.stopAtEndLocked()
		}
		replay := append([]Track(nil), c.history...)
		if c.current != nil {
			replay = append(replay, *c.current)
		}
		c.history = nil
		c.queue = replay
		if c.shuffle {
			c.originalOrder = append([]Track(nil), c.queue...)
			c.shuffleQueueLocked()
		}
	} else if c.current != nil {
		c.history = append(c.history, *c.current)
	}

	next := c.queue[0]
	c.queue = c.queue[1:]
	if c.shuffle && len(c.originalOrder) > 0 {
		c.originalOrder = removeFirst(c.originalOrder, next.ID)
	}
	return c.startLocked(ctx, next, 0, true)
}

func removeFirst(tracks []Track, id string) []Track {
	for i, t := range tracks {
		if t.ID == id {
			return append(append([]Track(nil), tracks[:i]...), tracks[i+1:]...)
		}
	}
	return tracks
}

func (c *Controller) stopAtEndLocked() error {
	c.generation++
	if c.adapter != nil {
		if err := c.adapter.Stop(); err != nil {
			c.logger.Warn().Err(err).Msg("adapter stop failed")
		}
	}
	c.state = StateIdle
	c.nativePos = 0
	c.seekBase = 0
	c.publishStateLocked()
	return nil
}

// startLocked begins playback of track at seekSeconds. fresh marks a new
// track start, which is the only thing that resets the base offset to zero;
// a seek restart keeps the requested offset as the new base.
func (c *Controller) startLocked(ctx context.Context, track Track, seekSeconds float64, fresh bool) error {
	adapter, err := c.registry.For(track)
	if err != nil {
		return err
	}

	if c.adapter != nil && c.adapter != adapter {
		if stopErr := c.adapter.Stop(); stopErr != nil {
			c.logger.Warn().Err(stopErr).Msg("stopping previous adapter failed")
		}
	}

	c.generation++
	gen := c.generation
	c.adapter = adapter
	c.current = &track
	c.state = StateLoading
	c.loadFailed = false
	c.lastError = ""
	c.nativePos = 0
	c.duration = track.DurationSeconds
	if fresh {
		c.seekBase = 0
		c.pendingSeek = false
	} else {
		c.seekBase = seekSeconds
	}

	c.publishStateLocked()
	if fresh && c.recorder != nil {
		c.recorder.RecordPlay(ctx, track)
	}
	if fresh && c.bus != nil {
		c.bus.Publish(events.EventNowPlaying, events.Payload{
			"trackId": track.ID,
			"source":  track.Source,
			"title":   track.Title,
			"artist":  track.Artist,
		})
	}

	if err := adapter.Play(ctx, track, seekSeconds); err != nil {
		c.logger.Warn().Err(err).Str("track_id", track.ID).Msg("playback start failed")
		c.failLocked(ctx, gen, err.Error())
		return err
	}
	return nil
}

// onFailureLocked handles an asynchronous sink failure.
func (c *Controller) onFailureLocked(ctx context.Context, message string) {
	c.failLocked(ctx, c.generation, message)
}

// failLocked applies failure policy: a failed seek surfaces and stays on the
// track, any other failure schedules an auto-advance so one dead entry does
// not stall the queue.
func (c *Controller) failLocked(ctx context.Context, gen int, message string) {
	if gen != c.generation {
		return
	}

	c.loadFailed = true
	c.lastError = message

	if c.bus != nil {
		payload := events.Payload{"message": message}
		if c.current != nil {
			payload["trackId"] = c.current.ID
		}
		c.bus.Publish(events.EventPlaybackFailed, payload)
	}

	if c.pendingSeek {
		c.pendingSeek = false
		c.state = StatePaused
		c.publishStateLocked()
		return
	}

	c.state = StateLoading
	c.publishStateLocked()
	c.afterFunc(c.autoAdvanceDelay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.generation {
			return
		}
		if err := c.advanceLocked(context.WithoutCancel(ctx)); err != nil {
			c.logger.Warn().Err(err).Msg("auto-advance failed")
		}
	})
}

func (c *Controller) publishState() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishStateLocked()
}

func (c *Controller) publishStateLocked() {
	if c.bus == nil {
		return
	}
	snap := c.snapshotLocked()
	payload := events.Payload{
		"state":    string(snap.State),
		"playing":  snap.Playing,
		"loading":  snap.Loading,
		"position": snap.PositionSeconds,
		"duration": snap.DurationSeconds,
		"shuffle":  snap.Shuffle,
		"repeat":   string(snap.Repeat),
	}
	if snap.Track != nil {
		payload["trackId"] = snap.Track.ID
	}
	if snap.LoadFailed {
		payload["loadFailed"] = true
		payload["lastError"] = snap.LastError
	}
	c.bus.Publish(events.EventPlayerState, payload)
}

func (c *Controller) publishQueue() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bus == nil {
		return
	}
	c.bus.Publish(events.EventQueueUpdated, events.Payload{
		"queueLength":   len(c.queue),
		"historyLength": len(c.history),
	})
}
