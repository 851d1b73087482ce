/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "testing"

func TestBusDeliversToSubscribers(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventNowPlaying)

	bus.Publish(EventNowPlaying, Payload{"trackId": "abc123"})

	select {
	case payload := <-sub:
		if payload["trackId"] != "abc123" {
			t.Fatalf("unexpected payload: %v", payload)
		}
	default:
		t.Fatal("expected a delivered payload")
	}
}

func TestBusSkipsSlowSubscribers(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventStreamOpened)

	// Fill the buffer past capacity; Publish must not block.
	for i := 0; i < 32; i++ {
		bus.Publish(EventStreamOpened, Payload{"n": i})
	}

	drained := 0
	for {
		select {
		case <-sub:
			drained++
			continue
		default:
		}
		break
	}
	if drained == 0 || drained > 8 {
		t.Fatalf("expected buffered delivery up to channel capacity, drained %d", drained)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventPlayerState)
	bus.Unsubscribe(EventPlayerState, sub)

	if _, ok := <-sub; ok {
		t.Fatal("expected closed channel after unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	bus.Publish(EventPlayerState, Payload{})
}
