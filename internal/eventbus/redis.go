/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus mirrors the in-process event bus across instances so a
// fleet of players can share now-playing and stream lifecycle events.
package eventbus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi_player/internal/events"
)

// channelPrefix namespaces bus traffic in a shared Redis.
const channelPrefix = "bragi.events."

// RedisBus is a Redis-backed distributed event bus. Local delivery always
// goes through the in-memory bus; Redis carries the cross-node copies. A
// circuit breaker drops to local-only operation when Redis misbehaves.
type RedisBus struct {
	client   *redis.Client
	local    *events.Bus
	nodeID   string
	logger   zerolog.Logger
	channels map[events.EventType]*redis.PubSub

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	localOnly   bool
	failCount   int
	maxFailures int
}

// RedisBusConfig wires a RedisBus.
type RedisBusConfig struct {
	Addr        string
	Password    string
	DB          int
	MaxFailures int
}

// NewRedisBus creates the distributed bus around an existing local bus.
// An unreachable Redis is not fatal: the bus starts local-only.
func NewRedisBus(cfg RedisBusConfig, local *events.Bus, nodeID string, logger zerolog.Logger) *RedisBus {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	ctx, cancel := context.WithCancel(context.Background())

	rb := &RedisBus{
		client: redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		}),
		local:       local,
		nodeID:      nodeID,
		logger:      logger.With().Str("component", "eventbus-redis").Logger(),
		channels:    make(map[events.EventType]*redis.PubSub),
		ctx:         ctx,
		cancel:      cancel,
		maxFailures: cfg.MaxFailures,
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := rb.client.Ping(pingCtx).Err(); err != nil {
		rb.logger.Warn().Err(err).Msg("redis unreachable, event mirroring disabled")
		rb.localOnly = true
	}

	return rb
}

// Mirror starts forwarding the given event types in both directions:
// local publishes go out to Redis, remote publishes come into the local
// bus tagged with their source node.
func (rb *RedisBus) Mirror(types ...events.EventType) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.localOnly {
		return
	}

	for _, eventType := range types {
		if _, exists := rb.channels[eventType]; exists {
			continue
		}
		pubsub := rb.client.Subscribe(rb.ctx, channelPrefix+string(eventType))
		rb.channels[eventType] = pubsub

		rb.wg.Add(1)
		go rb.receive(eventType, pubsub)
	}
}

// Publish sends an event to the local bus and mirrors it to Redis.
func (rb *RedisBus) Publish(eventType events.EventType, payload events.Payload) {
	rb.local.Publish(eventType, payload)

	rb.mu.Lock()
	localOnly := rb.localOnly
	rb.mu.Unlock()
	if localOnly {
		return
	}

	data, err := json.Marshal(wireMessage{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now(),
		NodeID:    rb.nodeID,
	})
	if err != nil {
		rb.logger.Error().Err(err).Msg("marshal event failed")
		return
	}

	ctx, cancel := context.WithTimeout(rb.ctx, 2*time.Second)
	defer cancel()
	if err := rb.client.Publish(ctx, channelPrefix+string(eventType), data).Err(); err != nil {
		rb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("redis publish failed")
		rb.recordFailure()
		return
	}

	rb.mu.Lock()
	rb.failCount = 0
	rb.mu.Unlock()
}

func (rb *RedisBus) receive(eventType events.EventType, pubsub *redis.PubSub) {
	defer rb.wg.Done()

	ch := pubsub.Channel()
	for {
		select {
		case <-rb.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				rb.recordFailure()
				return
			}

			var wire wireMessage
			if err := json.Unmarshal([]byte(msg.Payload), &wire); err != nil {
				rb.logger.Error().Err(err).Msg("bad event from redis")
				continue
			}
			// Our own publishes already went to the local bus.
			if wire.NodeID == rb.nodeID {
				continue
			}

			payload := wire.Payload
			if payload == nil {
				payload = events.Payload{}
			}
			payload["source_node"] = wire.NodeID
			rb.local.Publish(eventType, payload)
		}
	}
}

func (rb *RedisBus) recordFailure() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.failCount++
	if rb.failCount >= rb.maxFailures && !rb.localOnly {
		rb.logger.Warn().Int("failures", rb.failCount).Msg("redis failure threshold reached, going local-only")
		rb.localOnly = true
	}
}

// Close stops mirroring and releases the Redis connection.
func (rb *RedisBus) Close() error {
	rb.cancel()
	rb.wg.Wait()

	rb.mu.Lock()
	for eventType, pubsub := range rb.channels {
		if err := pubsub.Close(); err != nil {
			rb.logger.Debug().Err(err).Str("event_type", string(eventType)).Msg("pubsub close failed")
		}
	}
	rb.channels = make(map[events.EventType]*redis.PubSub)
	rb.mu.Unlock()

	if rb.client != nil {
		return rb.client.Close()
	}
	return nil
}

// wireMessage is the cross-node event envelope.
type wireMessage struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
}
