package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/orderguard/orderguard/internal/domain/model"
)

// ProgressChannelPrefix prefixes the per-job progress pub/sub channel.
const ProgressChannelPrefix = "orderguard:job_progress:"

// ProgressChannel returns the channel progress for jobID is published on.
func ProgressChannel(jobID string) string {
	return ProgressChannelPrefix + jobID
}

// RedisProgressPublisher implements core.ProgressPublisher with Redis PUBLISH.
type RedisProgressPublisher struct {
	client redis.UniversalClient
}

// NewRedisProgressPublisher creates a RedisProgressPublisher.
func NewRedisProgressPublisher(client redis.UniversalClient) *RedisProgressPublisher {
	return &RedisProgressPublisher{client: client}
}

// Publish sends ev as JSON to the job's progress channel.
func (p *RedisProgressPublisher) Publish(ctx context.Context, ev model.JobProgress) error {
	if ev.JobID == "" {
		return errors.New("progress event has no job id")
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	if err := p.client.Publish(ctx, ProgressChannel(ev.JobID), raw).Err(); err != nil {
		return fmt.Errorf("publish progress: %w", err)
	}
	return nil
}

// SubscribeProgress streams decoded progress events for jobID until ctx ends.
// The returned channel closes when the subscription ends.
func SubscribeProgress(ctx context.Context, client redis.UniversalClient, jobID string) (<-chan model.JobProgress, error) {
	sub := client.Subscribe(ctx, ProgressChannel(jobID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe progress: %w", err)
	}

	out := make(chan model.JobProgress, 16)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev model.JobProgress
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
