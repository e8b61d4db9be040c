package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowcraft/orchestrator/telemetry"
)

// redisStreams publishes and consumes Envelopes over Redis Streams,
// grounded on the teacher stack's direct go-redis/v9 dependency. Topics map
// to stream keys one-to-one. Each Subscribe call reads new entries (">")
// through XREADGROUP under a fresh consumer name and acknowledges every
// delivered entry whether or not its handler succeeded; entries left pending
// by a consumer that stopped before acknowledging them are not read again.
type redisStreams struct {
	client *redis.Client
	log    telemetry.Logger
}

// NewRedisStreams constructs a PubSub backed by Redis Streams.
func NewRedisStreams(client *redis.Client, log telemetry.Logger) PubSub {
	return &redisStreams{client: client, log: log}
}

func (r *redisStreams) Publish(ctx context.Context, topic string, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		Values: map[string]any{"envelope": payload},
		MaxLen: 10000,
		Approx: true,
	}).Err()
}

func (r *redisStreams) Subscribe(ctx context.Context, topic string, group string, h Handler) error {
	if group == "" {
		group = "workflow-orchestrator"
	}
	if err := r.client.XGroupCreateMkStream(ctx, topic, group, "$").Err(); err != nil {
		// BUSYGROUP means the group already exists; any other error is fatal.
		if !isBusyGroup(err) {
			return fmt.Errorf("create consumer group: %w", err)
		}
	}
	consumer := fmt.Sprintf("consumer-%d", time.Now().UnixNano())

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    group,
				Consumer: consumer,
				Streams:  []string{topic, ">"},
				Count:    10,
				Block:    2 * time.Second,
			}).Result()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if err != redis.Nil {
					r.log.Warn(ctx, "redis streams read failed", "topic", topic, "error", err.Error())
				}
				continue
			}
			for _, stream := range streams {
				for _, msg := range stream.Messages {
					r.deliver(ctx, topic, group, msg, h)
				}
			}
		}
	}()
	return nil
}

func (r *redisStreams) deliver(ctx context.Context, topic, group string, msg redis.XMessage, h Handler) {
	raw, _ := msg.Values["envelope"].(string)
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		r.log.Warn(ctx, "dropping unparsable envelope", "topic", topic, "id", msg.ID, "error", err.Error())
		r.client.XAck(ctx, topic, group, msg.ID)
		return
	}
	if err := h(ctx, env); err != nil {
		r.log.Warn(ctx, "pubsub handler failed", "topic", topic, "type", env.Type, "error", err.Error())
	}
	r.client.XAck(ctx, topic, group, msg.ID)
}

func isBusyGroup(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}
