/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package events implements the in-process pubsub bus carrying stream and
// player lifecycle notifications.
package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	// Stream lifecycle
	EventStreamOpened     EventType = "stream.opened"
	EventStreamClosed     EventType = "stream.closed"
	EventStreamRejected   EventType = "stream.rejected"
	EventCacheInvalidated EventType = "stream.cache_invalidated"

	// Player lifecycle
	EventNowPlaying     EventType = "player.now_playing"
	EventPlayerState    EventType = "player.state"
	EventQueueUpdated   EventType = "player.queue_updated"
	EventPlaybackFailed EventType = "player.playback_failed"
)

// Payload is a generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Bus is a simple in-process pubsub. Delivery is best-effort: a subscriber
// whose buffer is full misses the event rather than blocking the publisher.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for the event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 8)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to current subscribers without blocking.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subs[eventType]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			b.subs[eventType] = append(subs[:i], subs[i+1:]...)
			close(sub)
			return
		}
	}
}
