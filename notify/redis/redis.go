// Package redis publishes exit notices as JSON on a Redis pub/sub channel.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/hearth/notify"
)

// DefaultChannel is the default pub/sub channel.
const DefaultChannel = "hearth:process_exited"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// Config configures a Redis Publisher.
type Config struct {
	// URL is the connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL     string
	Channel string
	// Timeout bounds each PUBLISH (default 5s).
	Timeout time.Duration
	// Retries is the number of retries after the first attempt.
	Retries int
	// Backoff is the delay before the first retry (default 500ms).
	Backoff time.Duration
}

// Publisher sends exit notices with PUBLISH.
type Publisher struct {
	config Config
	client *goredis.Client
}

// New creates a Redis publisher. The URL is parsed but no connection is
// made until the first publish.
func New(cfg Config) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis publisher requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis publisher: invalid URL: %w", err)
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	return &Publisher{config: cfg, client: goredis.NewClient(opts)}, nil
}

// Publish implements notify.Publisher.
func (p *Publisher) Publish(ctx context.Context, notice *notify.ExitNotice) error {
	body, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("redis: marshal notice: %w", err)
	}
	err = notify.Retry(ctx, p.config.Retries, p.config.Backoff, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
		err := p.client.Publish(ctx, p.config.Channel, body).Err()
		if errors.Is(err, goredis.ErrClosed) {
			return notify.Permanent(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

// Close implements notify.Publisher.
func (p *Publisher) Close() error {
	return p.client.Close()
}

var _ notify.Publisher = (*Publisher)(nil)
