/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi_player/internal/events"
)

func TestRedisBusLocalOnlyWhenUnreachable(t *testing.T) {
	local := events.NewBus()
	rb := NewRedisBus(RedisBusConfig{Addr: "127.0.0.1:1"}, local, "node-a", zerolog.Nop())
	defer rb.Close()

	sub := local.Subscribe(events.EventNowPlaying)

	rb.Publish(events.EventNowPlaying, events.Payload{"trackId": "abc123"})

	select {
	case payload := <-sub:
		if payload["trackId"] != "abc123" {
			t.Fatalf("payload = %v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("local delivery must not depend on redis")
	}
}

func TestNATSDeliverSkipsOwnEcho(t *testing.T) {
	local := events.NewBus()
	nb := &NATSBus{local: local, nodeID: "node-a", logger: zerolog.Nop()}

	sub := local.Subscribe(events.EventPlayerState)

	own, _ := json.Marshal(wireMessage{
		EventType: events.EventPlayerState,
		Payload:   events.Payload{"state": "playing"},
		NodeID:    "node-a",
	})
	nb.deliver(events.EventPlayerState, own)

	remote, _ := json.Marshal(wireMessage{
		EventType: events.EventPlayerState,
		Payload:   events.Payload{"state": "paused"},
		NodeID:    "node-b",
	})
	nb.deliver(events.EventPlayerState, remote)

	select {
	case payload := <-sub:
		if payload["state"] != "paused" {
			t.Fatalf("got echo of own publish: %v", payload)
		}
		if payload["source_node"] != "node-b" {
			t.Fatalf("source_node = %v", payload["source_node"])
		}
	case <-time.After(time.Second):
		t.Fatal("remote event not delivered")
	}

	select {
	case payload := <-sub:
		t.Fatalf("unexpected second delivery: %v", payload)
	default:
	}
}

func TestRedisBusFailureThreshold(t *testing.T) {
	local := events.NewBus()
	rb := &RedisBus{local: local, maxFailures: 3, logger: zerolog.Nop()}

	for i := 0; i < 3; i++ {
		if rb.localOnly {
			t.Fatalf("tripped after %d failures, threshold is 3", i)
		}
		rb.recordFailure()
	}
	if !rb.localOnly {
		t.Fatal("breaker did not trip at threshold")
	}
}
