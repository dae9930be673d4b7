// Package telemetry publishes periodic scan-progress snapshots over
// redis pub/sub, an optional sink for operators running many shards
// across machines who want one place to watch aggregate progress
// (spec.md §4.7).
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Snapshot is one point-in-time progress report.
type Snapshot struct {
	ShardID        int       `json:"shard_id"`
	TargetsScanned uint64    `json:"targets_scanned"`
	PacketsSent    uint64    `json:"packets_sent"`
	PacketsFailed  uint64    `json:"packets_failed"`
	ResponsesSeen  uint64    `json:"responses_seen"`
	Rate           float64   `json:"rate"`
	Timestamp      time.Time `json:"timestamp"`
}

// Publisher pushes Snapshots to a redis channel on a fixed interval.
type Publisher struct {
	client  *redis.Client
	channel string
}

func NewPublisher(redisURL, channel string) (*Publisher, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("telemetry: parsing redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("telemetry: connecting to redis: %w", err)
	}
	return &Publisher{client: client, channel: channel}, nil
}

// Publish serializes and sends one snapshot.
func (p *Publisher) Publish(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, data).Err()
}

// Run calls source on each tick and publishes its result until ctx is
// cancelled.
func (p *Publisher) Run(ctx context.Context, interval time.Duration, source func() Snapshot) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = p.Publish(ctx, source())
		}
	}
}

func (p *Publisher) Close() error { return p.client.Close() }
