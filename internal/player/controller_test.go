/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package player

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type playCall struct {
	trackID string
	seek    float64
}

type fakeAdapter struct {
	plays   []playCall
	failIDs map[string]bool
	pauses  int
	resumes int
	stops   int
}

func (f *fakeAdapter) Play(_ context.Context, track Track, seek float64) error {
	f.plays = append(f.plays, playCall{trackID: track.ID, seek: seek})
	if f.failIDs[track.ID] {
		return errors.New("bind failed")
	}
	return nil
}

func (f *fakeAdapter) Pause() error  { f.pauses++; return nil }
func (f *fakeAdapter) Resume() error { f.resumes++; return nil }
func (f *fakeAdapter) Stop() error   { f.stops++; return nil }

func newTestController(t *testing.T) (*Controller, *fakeAdapter, *[]func()) {
	t.Helper()
	adapter := &fakeAdapter{failIDs: map[string]bool{}}
	registry := NewRegistry()
	registry.Register("test", adapter)

	ctrl := NewController(Config{Registry: registry, Seed: 1}, zerolog.Nop())

	pending := &[]func(){}
	ctrl.afterFunc = func(_ time.Duration, f func()) {
		*pending = append(*pending, f)
	}
	return ctrl, adapter, pending
}

func testTrack(id string) Track {
	return Track{ID: id, Source: "test", Title: "Track " + id}
}

func trackIDs(tracks []Track) []string {
	ids := make([]string, len(tracks))
	for i, tr := range tracks {
		ids[i] = tr.ID
	}
	return ids
}

func equalIDs(a []string, b ...string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestPlayTrackLoadsThenPlays(t *testing.T) {
	ctrl, adapter, _ := newTestController(t)
	ctx := context.Background()

	if err := ctrl.PlayTrack(ctx, testTrack("A")); err != nil {
		t.Fatalf("play: %v", err)
	}

	snap := ctrl.Snapshot()
	if snap.State != StateLoading || !snap.Loading {
		t.Fatalf("expected loading state, got %+v", snap)
	}
	if len(adapter.plays) != 1 || adapter.plays[0].seek != 0 {
		t.Fatalf("unexpected adapter calls: %+v", adapter.plays)
	}

	ctrl.OnSinkEvent(ctx, SinkEvent{Kind: SinkReady})
	snap = ctrl.Snapshot()
	if snap.State != StatePlaying || !snap.Playing {
		t.Fatalf("expected playing after ready, got %+v", snap)
	}
}

func TestTogglePlayPausesAndResumes(t *testing.T) {
	ctrl, adapter, _ := newTestController(t)
	ctx := context.Background()

	_ = ctrl.PlayTrack(ctx, testTrack("A"))
	ctrl.OnSinkEvent(ctx, SinkEvent{Kind: SinkPlaying})

	if err := ctrl.TogglePlay(ctx); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if snap := ctrl.Snapshot(); snap.State != StatePaused {
		t.Fatalf("expected paused, got %s", snap.State)
	}
	if adapter.pauses != 1 {
		t.Fatalf("expected one pause call, got %d", adapter.pauses)
	}

	if err := ctrl.TogglePlay(ctx); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if snap := ctrl.Snapshot(); snap.State != StatePlaying {
		t.Fatalf("expected playing, got %s", snap.State)
	}
	if adapter.resumes != 1 {
		t.Fatalf("expected one resume call, got %d", adapter.resumes)
	}
}

func TestPositionIsBaseOffsetPlusNativeClock(t *testing.T) {
	ctrl, adapter, _ := newTestController(t)
	ctx := context.Background()

	_ = ctrl.PlayTrack(ctx, testTrack("A"))
	ctrl.OnSinkEvent(ctx, SinkEvent{Kind: SinkPlaying})
	ctrl.OnSinkEvent(ctx, SinkEvent{Kind: SinkProgress, PositionSeconds: 12})

	if pos := ctrl.Snapshot().PositionSeconds; pos != 12 {
		t.Fatalf("expected position 12, got %v", pos)
	}

	// Seek to 100: the new stream's clock restarts at zero but the reported
	// position is the seek target.
	if err := ctrl.Seek(ctx, 100); err != nil {
		t.Fatalf("seek: %v", err)
	}
	if pos := ctrl.Snapshot().PositionSeconds; pos != 100 {
		t.Fatalf("expected position 100 right after seek, got %v", pos)
	}

	ctrl.OnSinkEvent(ctx, SinkEvent{Kind: SinkPlaying})
	ctrl.OnSinkEvent(ctx, SinkEvent{Kind: SinkProgress, PositionSeconds: 5})
	if pos := ctrl.Snapshot().PositionSeconds; pos != 105 {
		t.Fatalf("expected position 105, got %v", pos)
	}

	// The restarted stream was opened with the input-side seek.
	last := adapter.plays[len(adapter.plays)-1]
	if last.seek != 100 {
		t.Fatalf("expected seek 100 passed to adapter, got %v", last.seek)
	}

	// A fresh track resets the base offset.
	_ = ctrl.PlayTrack(ctx, testTrack("B"))
	if snap := ctrl.Snapshot(); snap.SeekBaseOffset != 0 || snap.PositionSeconds != 0 {
		t.Fatalf("expected zeroed position on fresh track, got %+v", snap)
	}
}

func TestNextPreviousPreserveMultiset(t *testing.T) {
	ctrl, _, _ := newTestController(t)
	ctx := context.Background()

	_ = ctrl.PlayTrack(ctx, testTrack("A"))
	ctrl.Enqueue(testTrack("B"))
	ctrl.Enqueue(testTrack("C"))

	collect := func() []string {
		snap := ctrl.Snapshot()
		all := append(trackIDs(snap.History), trackIDs(snap.Queue)...)
		if snap.Track != nil {
			all = append(all, snap.Track.ID)
		}
		sort.Strings(all)
		return all
	}
	want := collect()

	for i := 0; i < 2; i++ {
		if err := ctrl.PlayNext(ctx); err != nil {
			t.Fatalf("next: %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		if err := ctrl.PlayPrevious(ctx); err != nil {
			t.Fatalf("previous: %v", err)
		}
	}

	got := collect()
	if !equalIDs(got, want...) {
		t.Fatalf("multiset changed: want %v, got %v", want, got)
	}

	snap := ctrl.Snapshot()
	if snap.Track == nil || snap.Track.ID != "A" {
		t.Fatalf("expected to be back on A, got %+v", snap.Track)
	}
	if !equalIDs(trackIDs(snap.Queue), "B", "C") {
		t.Fatalf("expected queue [B C], got %v", trackIDs(snap.Queue))
	}
}

func TestPlayPreviousWithEmptyHistoryRestarts(t *testing.T) {
	ctrl, adapter, _ := newTestController(t)
	ctx := context.Background()

	_ = ctrl.PlayTrack(ctx, testTrack("A"))
	ctrl.OnSinkEvent(ctx, SinkEvent{Kind: SinkPlaying})
	ctrl.OnSinkEvent(ctx, SinkEvent{Kind: SinkProgress, PositionSeconds: 30})

	if err := ctrl.PlayPrevious(ctx); err != nil {
		t.Fatalf("previous: %v", err)
	}
	snap := ctrl.Snapshot()
	if snap.Track == nil || snap.Track.ID != "A" || snap.PositionSeconds != 0 {
		t.Fatalf("expected A restarted from zero, got %+v", snap)
	}
	if len(adapter.plays) != 2 {
		t.Fatalf("expected restart play call, got %+v", adapter.plays)
	}
}

func TestShuffleRestoreIsExactAndAdditionsLost(t *testing.T) {
	ctrl, _, _ := newTestController(t)
	ctx := context.Background()

	_ = ctrl.PlayTrack(ctx, testTrack("X"))
	for _, id := range []string{"A", "B", "C", "D", "E"} {
		ctrl.Enqueue(testTrack(id))
	}
	before := trackIDs(ctrl.Snapshot().Queue)

	ctrl.ToggleShuffle()
	ctrl.Enqueue(testTrack("Z")) // added during shuffle, lost on restore
	ctrl.ToggleShuffle()

	after := trackIDs(ctrl.Snapshot().Queue)
	if !equalIDs(after, before...) {
		t.Fatalf("restore not exact: want %v, got %v", before, after)
	}

	// Toggle twice more without changes: still the same order.
	ctrl.ToggleShuffle()
	ctrl.ToggleShuffle()
	if again := trackIDs(ctrl.Snapshot().Queue); !equalIDs(again, before...) {
		t.Fatalf("restore not idempotent: want %v, got %v", before, again)
	}
}

func TestShuffleConsumedTracksNotRestored(t *testing.T) {
	ctrl, _, _ := newTestController(t)
	ctx := context.Background()

	_ = ctrl.PlayTrack(ctx, testTrack("X"))
	for _, id := range []string{"A", "B", "C"} {
		ctrl.Enqueue(testTrack(id))
	}

	ctrl.ToggleShuffle()
	if err := ctrl.PlayNext(ctx); err != nil {
		t.Fatalf("next: %v", err)
	}
	played := ctrl.Snapshot().Track.ID

	ctrl.ToggleShuffle()
	restored := trackIDs(ctrl.Snapshot().Queue)
	if len(restored) != 2 {
		t.Fatalf("expected two remaining tracks, got %v", restored)
	}
	for _, id := range restored {
		if id == played {
			t.Fatalf("consumed track %s resurrected in restored queue", played)
		}
	}
}

func TestRepeatModeCycles(t *testing.T) {
	ctrl, _, _ := newTestController(t)

	if ctrl.Snapshot().Repeat != RepeatOff {
		t.Fatal("expected repeat off initially")
	}
	if mode := ctrl.CycleRepeat(); mode != RepeatAll {
		t.Fatalf("expected all, got %s", mode)
	}
	if mode := ctrl.CycleRepeat(); mode != RepeatOne {
		t.Fatalf("expected one, got %s", mode)
	}
	if mode := ctrl.CycleRepeat(); mode != RepeatOff {
		t.Fatalf("expected off, got %s", mode)
	}
}

func TestRepeatOneRestartsSameTrack(t *testing.T) {
	ctrl, adapter, _ := newTestController(t)
	ctx := context.Background()

	_ = ctrl.PlayTrack(ctx, testTrack("A"))
	ctrl.Enqueue(testTrack("B"))
	ctrl.CycleRepeat() // all
	ctrl.CycleRepeat() // one

	ctrl.OnSinkEvent(ctx, SinkEvent{Kind: SinkEnded})

	snap := ctrl.Snapshot()
	if snap.Track == nil || snap.Track.ID != "A" {
		t.Fatalf("expected A replaying, got %+v", snap.Track)
	}
	if !equalIDs(trackIDs(snap.Queue), "B") {
		t.Fatalf("queue must be untouched, got %v", trackIDs(snap.Queue))
	}
	if len(adapter.plays) != 2 || adapter.plays[1].trackID != "A" {
		t.Fatalf("expected restart of A, got %+v", adapter.plays)
	}
}

func TestRepeatAllWraparound(t *testing.T) {
	ctrl, _, _ := newTestController(t)
	ctx := context.Background()

	// Build history [A, B] with current C and an empty queue.
	_ = ctrl.PlayTrack(ctx, testTrack("A"))
	ctrl.Enqueue(testTrack("B"))
	ctrl.Enqueue(testTrack("C"))
	_ = ctrl.PlayNext(ctx)
	_ = ctrl.PlayNext(ctx)

	snap := ctrl.Snapshot()
	if !equalIDs(trackIDs(snap.History), "A", "B") || snap.Track.ID != "C" || len(snap.Queue) != 0 {
		t.Fatalf("bad precondition: %+v", snap)
	}

	ctrl.CycleRepeat() // all
	ctrl.OnSinkEvent(ctx, SinkEvent{Kind: SinkEnded})

	snap = ctrl.Snapshot()
	if snap.Track == nil || snap.Track.ID != "A" {
		t.Fatalf("expected wraparound to A, got %+v", snap.Track)
	}
	if !equalIDs(trackIDs(snap.Queue), "B", "C") {
		t.Fatalf("expected queue [B C], got %v", trackIDs(snap.Queue))
	}
	if len(snap.History) != 0 {
		t.Fatalf("expected empty history after wraparound, got %v", trackIDs(snap.History))
	}
}

func TestRepeatOffStopsAtQueueEnd(t *testing.T) {
	ctrl, _, _ := newTestController(t)
	ctx := context.Background()

	_ = ctrl.PlayTrack(ctx, testTrack("A"))
	ctrl.OnSinkEvent(ctx, SinkEvent{Kind: SinkEnded})

	snap := ctrl.Snapshot()
	if snap.State != StateIdle {
		t.Fatalf("expected idle at queue end, got %s", snap.State)
	}
}

func TestStartFailureAutoAdvancesAfterDelay(t *testing.T) {
	ctrl, adapter, pending := newTestController(t)
	ctx := context.Background()
	adapter.failIDs["A"] = true

	ctrl.Enqueue(testTrack("B"))
	_ = ctrl.PlayTrack(ctx, testTrack("A"))

	if len(*pending) != 1 {
		t.Fatalf("expected one scheduled auto-advance, got %d", len(*pending))
	}

	(*pending)[0]()

	snap := ctrl.Snapshot()
	if snap.Track == nil || snap.Track.ID != "B" {
		t.Fatalf("expected auto-advance to B, got %+v", snap.Track)
	}
}

func TestStaleAutoAdvanceIsIgnored(t *testing.T) {
	ctrl, adapter, pending := newTestController(t)
	ctx := context.Background()
	adapter.failIDs["A"] = true

	ctrl.Enqueue(testTrack("B"))
	_ = ctrl.PlayTrack(ctx, testTrack("A"))

	// The user skips manually before the delay fires.
	if err := ctrl.PlayNext(ctx); err != nil {
		t.Fatalf("next: %v", err)
	}
	current := ctrl.Snapshot().Track.ID

	for _, fire := range *pending {
		fire()
	}

	if got := ctrl.Snapshot().Track.ID; got != current {
		t.Fatalf("stale auto-advance changed track: %s -> %s", current, got)
	}
}

func TestSeekFailureDoesNotAdvance(t *testing.T) {
	ctrl, adapter, pending := newTestController(t)
	ctx := context.Background()

	_ = ctrl.PlayTrack(ctx, testTrack("A"))
	ctrl.OnSinkEvent(ctx, SinkEvent{Kind: SinkPlaying})
	ctrl.Enqueue(testTrack("B"))

	adapter.failIDs["A"] = true
	if err := ctrl.Seek(ctx, 60); err == nil {
		t.Fatal("expected seek error")
	}

	snap := ctrl.Snapshot()
	if snap.Track == nil || snap.Track.ID != "A" {
		t.Fatalf("seek failure must stay on A, got %+v", snap.Track)
	}
	if snap.State != StatePaused {
		t.Fatalf("expected paused after failed seek, got %s", snap.State)
	}
	if len(*pending) != 0 {
		t.Fatal("seek failure must not schedule auto-advance")
	}
}

func TestAsyncSinkErrorSchedulesAdvance(t *testing.T) {
	ctrl, _, pending := newTestController(t)
	ctx := context.Background()

	ctrl.Enqueue(testTrack("B"))
	_ = ctrl.PlayTrack(ctx, testTrack("A"))
	ctrl.OnSinkEvent(ctx, SinkEvent{Kind: SinkError, Message: "decode failed"})

	if len(*pending) != 1 {
		t.Fatalf("expected scheduled auto-advance, got %d", len(*pending))
	}
	(*pending)[0]()

	if got := ctrl.Snapshot().Track.ID; got != "B" {
		t.Fatalf("expected advance to B, got %s", got)
	}
}

func TestUnknownSourceFails(t *testing.T) {
	ctrl, _, _ := newTestController(t)

	err := ctrl.PlayTrack(context.Background(), Track{ID: "A", Source: "mystery"})
	if err == nil {
		t.Fatal("expected error for unregistered source")
	}
}

func TestDequeueRemovesEntry(t *testing.T) {
	ctrl, _, _ := newTestController(t)

	for _, id := range []string{"A", "B", "C"} {
		ctrl.Enqueue(testTrack(id))
	}
	ctrl.Dequeue(1)

	if got := trackIDs(ctrl.Snapshot().Queue); !equalIDs(got, "A", "C") {
		t.Fatalf("expected [A C], got %v", got)
	}

	// Out of range indexes are ignored.
	ctrl.Dequeue(10)
	ctrl.Dequeue(-1)
	if got := trackIDs(ctrl.Snapshot().Queue); !equalIDs(got, "A", "C") {
		t.Fatalf("expected [A C] unchanged, got %v", got)
	}
}

func TestStreamAdapterBuildsEndpointURL(t *testing.T) {
	adapter := NewStreamAdapter("http://127.0.0.1:8080", nil)

	got := adapter.StreamURL(Track{ID: "dQw4w9WgXcQ", Source: "youtube"}, 42.9)
	want := "http://127.0.0.1:8080/stream?trackId=dQw4w9WgXcQ&seek=42"
	if got != want {
		t.Fatalf("want %s, got %s", want, got)
	}

	if got := adapter.StreamURL(Track{ID: "a b"}, -3); got != "http://127.0.0.1:8080/stream?trackId=a+b&seek=0" {
		t.Fatalf("unexpected escaped url: %s", got)
	}
}

func TestWraparoundReshufflesWhenShuffleOn(t *testing.T) {
	ctrl, _, _ := newTestController(t)
	ctx := context.Background()

	ids := make([]string, 8)
	for i := range ids {
		ids[i] = fmt.Sprintf("T%d", i)
	}

	_ = ctrl.PlayTrack(ctx, testTrack(ids[0]))
	for _, id := range ids[1:] {
		ctrl.Enqueue(testTrack(id))
	}
	ctrl.CycleRepeat() // all
	ctrl.ToggleShuffle()

	for range ids[1:] {
		ctrl.OnSinkEvent(ctx, SinkEvent{Kind: SinkEnded})
	}
	// Queue exhausted; next end wraps around.
	ctrl.OnSinkEvent(ctx, SinkEvent{Kind: SinkEnded})

	snap := ctrl.Snapshot()
	if snap.Track == nil {
		t.Fatal("expected a current track after wraparound")
	}
	got := append(trackIDs(snap.Queue), snap.Track.ID)
	sort.Strings(got)
	want := append([]string(nil), ids...)
	sort.Strings(want)
	if !equalIDs(got, want...) {
		t.Fatalf("wraparound lost tracks: want %v, got %v", want, got)
	}
}

func TestRepeatOneAppliesToManualNext(t *testing.T) {
	ctrl, adapter, _ := newTestController(t)
	ctx := context.Background()

	_ = ctrl.PlayTrack(ctx, testTrack("A"))
	ctrl.Enqueue(testTrack("B"))
	ctrl.CycleRepeat() // all
	ctrl.CycleRepeat() // one

	if err := ctrl.PlayNext(ctx); err != nil {
		t.Fatalf("next: %v", err)
	}

	snap := ctrl.Snapshot()
	if snap.Track == nil || snap.Track.ID != "A" {
		t.Fatalf("expected A replaying, got %+v", snap.Track)
	}
	if !equalIDs(trackIDs(snap.Queue), "B") || len(snap.History) != 0 {
		t.Fatalf("stacks must be untouched, got queue %v history %v",
			trackIDs(snap.Queue), trackIDs(snap.History))
	}
	if len(adapter.plays) != 2 || adapter.plays[1].trackID != "A" || adapter.plays[1].seek != 0 {
		t.Fatalf("expected restart of A from zero, got %+v", adapter.plays)
	}
}

func TestReplayingCurrentTrackDoesNotDuplicateHistory(t *testing.T) {
	ctrl, adapter, _ := newTestController(t)
	ctx := context.Background()

	_ = ctrl.PlayTrack(ctx, testTrack("A"))
	_ = ctrl.PlayTrack(ctx, testTrack("A"))

	snap := ctrl.Snapshot()
	if snap.Track == nil || snap.Track.ID != "A" {
		t.Fatalf("expected A current, got %+v", snap.Track)
	}
	if len(snap.History) != 0 {
		t.Fatalf("replaying the current track must not touch history, got %v",
			trackIDs(snap.History))
	}
	if len(adapter.plays) != 2 {
		t.Fatalf("expected a restart, got %+v", adapter.plays)
	}

	// A different track still lands the old one in history exactly once.
	_ = ctrl.PlayTrack(ctx, testTrack("B"))
	if got := trackIDs(ctrl.Snapshot().History); !equalIDs(got, "A") {
		t.Fatalf("expected history [A], got %v", got)
	}
}

func TestSeekFailureVisibleInSnapshot(t *testing.T) {
	ctrl, adapter, _ := newTestController(t)
	ctx := context.Background()

	_ = ctrl.PlayTrack(ctx, testTrack("A"))
	ctrl.OnSinkEvent(ctx, SinkEvent{Kind: SinkPlaying})

	adapter.failIDs["A"] = true
	if err := ctrl.Seek(ctx, 60); err == nil {
		t.Fatal("expected seek error")
	}

	snap := ctrl.Snapshot()
	if !snap.LoadFailed || snap.LastError == "" {
		t.Fatalf("expected load failure surfaced, got %+v", snap)
	}

	// The next successful start clears the failure indication.
	adapter.failIDs["A"] = false
	if err := ctrl.Seek(ctx, 60); err != nil {
		t.Fatalf("seek: %v", err)
	}
	if snap := ctrl.Snapshot(); snap.LoadFailed || snap.LastError != "" {
		t.Fatalf("expected cleared failure state, got %+v", snap)
	}
}

type recordedDuration struct {
	trackID string
	seconds float64
}

type fakeRecorder struct {
	durations []recordedDuration
}

func (f *fakeRecorder) RecordPlay(context.Context, Track) {}
func (f *fakeRecorder) RecordDuration(_ context.Context, trackID string, seconds float64) {
	f.durations = append(f.durations, recordedDuration{trackID: trackID, seconds: seconds})
}

func TestDurationIncludesSeekBase(t *testing.T) {
	ctrl, _, _ := newTestController(t)
	rec := &fakeRecorder{}
	ctrl.recorder = rec
	ctx := context.Background()

	_ = ctrl.PlayTrack(ctx, testTrack("A"))
	ctrl.OnSinkEvent(ctx, SinkEvent{Kind: SinkPlaying})
	_ = ctrl.Seek(ctx, 100)
	ctrl.OnSinkEvent(ctx, SinkEvent{Kind: SinkPlaying})
	ctrl.OnSinkEvent(ctx, SinkEvent{Kind: SinkProgress, PositionSeconds: 5, DurationSeconds: 80})

	snap := ctrl.Snapshot()
	if snap.DurationSeconds != 180 {
		t.Fatalf("expected full-track duration 180, got %v", snap.DurationSeconds)
	}
	if snap.PositionSeconds != 105 {
		t.Fatalf("expected position 105, got %v", snap.PositionSeconds)
	}
	if snap.PositionSeconds > snap.DurationSeconds {
		t.Fatal("position must not exceed duration")
	}
	if len(rec.durations) != 1 || rec.durations[0] != (recordedDuration{trackID: "A", seconds: 180}) {
		t.Fatalf("unexpected recorded durations: %+v", rec.durations)
	}
}
