// Copyright (c) 2026 Keygate Team
// Keygate - SSH authorized_keys resolution server
// This source code is licensed under the MIT license found in the LICENSE file.

// Package cluster implements the invalidation bus that lets stateless
// API replicas behave as one logical node: a redis pub/sub channel
// carrying token-flush signals, with a never-give-up subscriber.
package cluster

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/toeirei/keygate/internal/logging"
)

const (
	// Channel is the pub/sub channel every replica subscribes to.
	Channel = "core_tokens"
	// FlushTokensMessage is the channel's sole payload value.
	FlushTokensMessage = "flush_tokens"

	backoffStep = 50 * time.Millisecond
	backoffCap  = 5 * time.Second
)

// BackoffDelay returns the reconnect delay for the given attempt
// (1-based): min(attempt² × 50ms, 5s). Quadratic growth bounds
// reconnect storms while recovering quickly from transient blips.
func BackoffDelay(attempt int) time.Duration {
	d := time.Duration(attempt) * time.Duration(attempt) * backoffStep
	if d > backoffCap {
		return backoffCap
	}
	return d
}

// Bus is one replica's connection to the invalidation channel. The
// subscriber side runs for the lifetime of the process; the publisher
// side opens a fresh connection per publish.
type Bus struct {
	opts    *redis.Options
	onFlush func()
}

// NewBus parses the redis URI and registers the reload procedure
// invoked on every flush message. onFlush must be idempotent: duplicate
// delivery only redoes a safe reload.
func NewBus(uri string, onFlush func()) (*Bus, error) {
	opts, err := redis.ParseURL(uri)
	if err != nil {
		return nil, err
	}
	return &Bus{opts: opts, onFlush: onFlush}, nil
}

// Publish broadcasts the flush signal. Fire-and-forget: delivery is
// at-most-once and the caller does not wait for subscriber acks.
func (b *Bus) Publish(ctx context.Context) error {
	client := redis.NewClient(b.opts)
	defer func() { _ = client.Close() }()
	return client.Publish(ctx, Channel, FlushTokensMessage).Err()
}

// Run is the subscriber loop: Connecting → Subscribed → (on error) →
// Backoff → Connecting, forever. It has no terminal state other than
// context cancellation; errors always schedule a retry.
func (b *Bus) Run(ctx context.Context) {
	retries := 0
	for {
		if ctx.Err() != nil {
			return
		}

		client := redis.NewClient(b.opts)
		pubsub := client.Subscribe(ctx, Channel)

		// Wait for the subscription confirmation before declaring the
		// connection healthy.
		if _, err := pubsub.Receive(ctx); err != nil {
			_ = pubsub.Close()
			_ = client.Close()
			if ctx.Err() != nil {
				return
			}
			retries++
			delay := BackoffDelay(retries)
			logging.Warnf("cluster: subscribe to %s failed (attempt %d, retrying in %s): %v", Channel, retries, delay, err)
			if !sleep(ctx, delay) {
				return
			}
			continue
		}

		retries = 0
		logging.Infof("cluster: subscribed to %s", Channel)

		err := b.consume(ctx, pubsub)
		_ = pubsub.Close()
		_ = client.Close()
		if ctx.Err() != nil {
			return
		}
		retries++
		delay := BackoffDelay(retries)
		logging.Warnf("cluster: connection lost (retrying in %s): %v", delay, err)
		if !sleep(ctx, delay) {
			return
		}
	}
}

func (b *Bus) consume(ctx context.Context, pubsub *redis.PubSub) error {
	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			return err
		}
		if msg.Channel == Channel && msg.Payload == FlushTokensMessage {
			logging.Debugf("cluster: received %s", FlushTokensMessage)
			b.onFlush()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
