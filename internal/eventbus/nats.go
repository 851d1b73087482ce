/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi_player/internal/events"
)

// subjectPrefix namespaces bus traffic on a shared NATS cluster.
const subjectPrefix = "bragi.events."

// NATSBus mirrors the local event bus over NATS core pub/sub. Same
// contract as RedisBus: local delivery is never gated on the broker.
type NATSBus struct {
	conn   *nats.Conn
	local  *events.Bus
	nodeID string
	logger zerolog.Logger

	mu   sync.Mutex
	subs map[events.EventType]*nats.Subscription
}

// NATSBusConfig wires a NATSBus.
type NATSBusConfig struct {
	URL           string
	Token         string
	MaxReconnects int
	ReconnectWait time.Duration
}

// NewNATSBus connects to NATS and wraps the local bus. Connection loss
// is handled by the client's reconnect loop; publishes during an outage
// are dropped with a log line, local delivery is unaffected.
func NewNATSBus(cfg NATSBusConfig, local *events.Bus, nodeID string, logger zerolog.Logger) (*NATSBus, error) {
	log := logger.With().Str("component", "eventbus-nats").Logger()

	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}

	opts := []nats.Option{
		nats.Name("bragi-player-" + nodeID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("eventbus: nats connect: %w", err)
	}

	log.Info().Str("url", cfg.URL).Msg("nats event bus connected")
	return &NATSBus{
		conn:   conn,
		local:  local,
		nodeID: nodeID,
		logger: log,
		subs:   make(map[events.EventType]*nats.Subscription),
	}, nil
}

// Mirror subscribes to the given event types so remote publishes reach
// the local bus.
func (nb *NATSBus) Mirror(types ...events.EventType) error {
	nb.mu.Lock()
	defer nb.mu.Unlock()

	for _, eventType := range types {
		if _, exists := nb.subs[eventType]; exists {
			continue
		}
		eventType := eventType
		sub, err := nb.conn.Subscribe(subjectPrefix+string(eventType), func(msg *nats.Msg) {
			nb.deliver(eventType, msg.Data)
		})
		if err != nil {
			return fmt.Errorf("eventbus: subscribe %s: %w", eventType, err)
		}
		nb.subs[eventType] = sub
	}
	return nil
}

// Publish sends an event to the local bus and mirrors it to NATS.
func (nb *NATSBus) Publish(eventType events.EventType, payload events.Payload) {
	nb.local.Publish(eventType, payload)

	data, err := json.Marshal(wireMessage{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now(),
		NodeID:    nb.nodeID,
	})
	if err != nil {
		nb.logger.Error().Err(err).Msg("marshal event failed")
		return
	}

	if err := nb.conn.Publish(subjectPrefix+string(eventType), data); err != nil {
		nb.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("nats publish failed")
	}
}

func (nb *NATSBus) deliver(eventType events.EventType, data []byte) {
	var wire wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		nb.logger.Error().Err(err).Msg("bad event from nats")
		return
	}
	if wire.NodeID == nb.nodeID {
		return
	}

	payload := wire.Payload
	if payload == nil {
		payload = events.Payload{}
	}
	payload["source_node"] = wire.NodeID
	nb.local.Publish(eventType, payload)
}

// Close drains the connection so in-flight messages are delivered.
func (nb *NATSBus) Close() error {
	nb.mu.Lock()
	for _, sub := range nb.subs {
		_ = sub.Unsubscribe()
	}
	nb.subs = make(map[events.EventType]*nats.Subscription)
	nb.mu.Unlock()

	if err := nb.conn.Drain(); err != nil {
		nb.conn.Close()
		return err
	}
	return nil
}
