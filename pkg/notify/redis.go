// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/telekom/voice-escalation/pkg/metrics"
)

// DefaultChannel is the redis pub/sub channel used when none is configured.
const DefaultChannel = "voice-escalation:attempts"

// Redis relays signals through a redis pub/sub channel so that a webhook
// handled by one replica wakes the waiter running on another. Local
// subscribers are always signalled directly as well.
type Redis struct {
	client  redis.UniversalClient
	channel string
	local   *Local
	log     *zap.SugaredLogger
}

// NewRedis creates a redis backed notifier. Start must be called to receive
// signals published by other replicas.
func NewRedis(client redis.UniversalClient, channel string, log *zap.SugaredLogger) *Redis {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Redis{
		client:  client,
		channel: channel,
		local:   NewLocal(),
		log:     log.Named("redis-notifier"),
	}
}

// Start subscribes to the channel and forwards messages to local subscribers
// until ctx is done. It returns once the subscription is confirmed.
func (r *Redis) Start(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribing to %s: %w", r.channel, err)
	}
	r.log.Infow("Subscribed to attempt notifications", "channel", r.channel)

	go func() {
		defer func() { _ = sub.Close() }()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					r.log.Warnw("Notification channel closed", "channel", r.channel)
					return
				}
				r.local.Publish(ctx, msg.Payload)
			}
		}
	}()
	return nil
}

// Publish signals local subscribers and relays the attempt id to the other
// replicas. Relay failures are logged; waiters still poll.
func (r *Redis) Publish(ctx context.Context, attemptID string) {
	r.local.Publish(ctx, attemptID)
	if err := r.client.Publish(ctx, r.channel, attemptID).Err(); err != nil {
		metrics.NotifierPublishErrors.WithLabelValues("redis").Inc()
		r.log.Warnw("Failed to relay attempt notification", "attemptID", attemptID, "error", err)
	}
}

// Subscribe registers a local subscription.
func (r *Redis) Subscribe(attemptID string) (<-chan struct{}, func()) {
	return r.local.Subscribe(attemptID)
}

// Close releases the redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}
