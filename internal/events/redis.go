package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"redline/api/internal/util"
)

// Bridge mirrors locally emitted events onto a Redis channel and folds
// events published by other instances back into the local broadcaster, so
// observers connected to any instance see the same stream.
type Bridge struct {
	client     *redis.Client
	channel    string
	local      *Broadcaster
	instanceID string
}

type envelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

func NewBridge(redisURL, channel string, local *Broadcaster) (*Bridge, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Bridge{
		client:     client,
		channel:    channel,
		local:      local,
		instanceID: util.NewID("inst"),
	}, nil
}

// Publish pushes an event to the shared channel. Best-effort: callers log
// and continue on error, the triggering state transition is already done.
func (b *Bridge) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(envelope{Origin: b.instanceID, Event: event})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Run consumes the shared channel until ctx is cancelled, re-emitting
// events that originate from other instances.
func (b *Bridge) Run(ctx context.Context) {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-pubsub.Channel():
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Printf("events: malformed bridge payload: %v", err)
				continue
			}
			if env.Origin == b.instanceID {
				continue
			}
			b.local.Emit(env.Event)
		}
	}
}

func (b *Bridge) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *Bridge) Close() error {
	return b.client.Close()
}
