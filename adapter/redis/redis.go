// Package redis implements a Redis adapter for skin events.
//
// Each event is PUBLISHed as JSON on a channel and mirrored into a hash of
// the latest event per owner, so late subscribers can read current state
// with HGETALL instead of replaying the channel. Resets remove the owner
// from the hash. Both writes go through one MULTI/EXEC pipeline.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/KendoTarakate/skin/adapter"
)

// DefaultChannel is the default pub/sub channel name.
const DefaultChannel = "skinsync:events"

// DefaultLatestKey is the default hash holding the latest event per owner.
const DefaultLatestKey = "skinsync:latest"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// Config configures the Redis adapter.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel name (default: skinsync:events).
	Channel string
	// LatestKey is the latest-event hash key (default: skinsync:latest).
	// Set to "-" to disable the hash mirror.
	LatestKey string
	// Timeout is the per-attempt timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure (DefaultRetries
	// is the usual choice; 0 disables retries).
	Retries int
}

// Adapter publishes skin events to Redis.
type Adapter struct {
	config Config
	client *goredis.Client
}

// New creates a Redis adapter from the given config.
// Returns an error if the URL is empty or invalid.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.LatestKey == "" {
		cfg.LatestKey = DefaultLatestKey
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}

	return &Adapter{
		config: cfg,
		client: goredis.NewClient(opts),
	}, nil
}

// Publish writes the event to the channel and the latest-event hash.
// Retries with exponential backoff on failures.
func (a *Adapter) Publish(ctx context.Context, event *adapter.SkinEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	var lastErr error
	attempts := 1 + a.config.Retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("redis: context canceled: %w", err)
		}

		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return fmt.Errorf("redis: context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		lastErr = a.write(attemptCtx, event, body)
		cancel()

		if lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("redis: failed after %d attempts: %w", attempts, lastErr)
}

func (a *Adapter) write(ctx context.Context, event *adapter.SkinEvent, body []byte) error {
	_, err := a.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Publish(ctx, a.config.Channel, body)
		if a.config.LatestKey == "-" {
			return nil
		}
		if event.EventType == adapter.EventSkinReset {
			pipe.HDel(ctx, a.config.LatestKey, event.Owner)
		} else {
			pipe.HSet(ctx, a.config.LatestKey, event.Owner, body)
		}
		return nil
	})
	return err
}

// Latest returns the latest event per owner from the hash mirror.
func (a *Adapter) Latest(ctx context.Context) (map[string]*adapter.SkinEvent, error) {
	if a.config.LatestKey == "-" {
		return nil, errors.New("redis: latest-event hash is disabled")
	}
	raw, err := a.client.HGetAll(ctx, a.config.LatestKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read latest: %w", err)
	}

	out := make(map[string]*adapter.SkinEvent, len(raw))
	for owner, body := range raw {
		var ev adapter.SkinEvent
		if err := json.Unmarshal([]byte(body), &ev); err != nil {
			return nil, fmt.Errorf("redis: decode latest %s: %w", owner, err)
		}
		out[owner] = &ev
	}
	return out, nil
}

// Close releases adapter resources.
func (a *Adapter) Close() error {
	return a.client.Close()
}

// Verify Adapter implements the adapter interface.
var _ adapter.Adapter = (*Adapter)(nil)
