// Package notify announces completed library syncs on a Redis pub/sub channel.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/desertthunder/libmirror/internal/models"
	"github.com/desertthunder/libmirror/internal/shared"
	"github.com/redis/go-redis/v9"
)

// DefaultChannel is used when the [redis] section names no channel.
const DefaultChannel = "libmirror"

// EventLibrarySynced is the type of the event published after a committed sync.
const EventLibrarySynced = "library.synced"

// Event is the JSON payload published for a sync.
type Event struct {
	Type          string    `json:"type"`
	UserID        string    `json:"user_id"`
	RunID         string    `json:"run_id"`
	PlaylistCount int       `json:"playlist_count"`
	TrackCount    int       `json:"track_count"`
	FinishedAt    time.Time `json:"finished_at"`
}

// NewEvent builds the library.synced event for a finished run.
func NewEvent(run models.SyncRun) Event {
	finished := time.Now().UTC()
	if run.FinishedAt != nil {
		finished = run.FinishedAt.UTC()
	}
	return Event{
		Type:          EventLibrarySynced,
		UserID:        run.UserID,
		RunID:         run.ID,
		PlaylistCount: run.PlaylistCount,
		TrackCount:    run.TrackCount,
		FinishedAt:    finished,
	}
}

// Client is the part of [redis.Client] the publisher uses.
type Client interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Publisher sends sync events to a Redis channel.
type Publisher struct {
	client  Client
	channel string
}

// NewPublisher creates a publisher on channel, falling back to [DefaultChannel].
func NewPublisher(client Client, channel string) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{client: client, channel: channel}
}

// NewRedisPublisher connects to the Redis server named by cfg.URL.
//
// The returned close function releases the connection pool.
func NewRedisPublisher(ctx context.Context, cfg shared.RedisConfig) (*Publisher, func() error, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: redis.url: %v", shared.ErrInvalidConfig, err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("%w: redis: %v", shared.ErrServiceUnavailable, err)
	}
	return NewPublisher(client, cfg.Channel), client.Close, nil
}

// Channel is the pub/sub channel events go to.
func (p *Publisher) Channel() string { return p.channel }

// LibrarySynced publishes the library.synced event for run.
func (p *Publisher) LibrarySynced(ctx context.Context, run models.SyncRun) error {
	data, err := json.Marshal(NewEvent(run))
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, string(data)).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}
