package cmd

import (
	"github.com/pithecene-io/hearth/config"
	"github.com/pithecene-io/hearth/iox"
	"github.com/pithecene-io/hearth/log"
	"github.com/pithecene-io/hearth/notify"
	"github.com/pithecene-io/hearth/notify/redis"
	"github.com/pithecene-io/hearth/notify/webhook"
)

// openNotifiers builds one exit-notification sink per configured publisher.
func openNotifiers(cfg config.NotifyConfig, session string, logger *log.Logger) ([]*notify.Sink, error) {
	var pubs []notify.Publisher
	if cfg.WebhookURL != "" {
		p, err := webhook.New(webhook.Config{
			URL:     cfg.WebhookURL,
			Headers: cfg.WebhookHeaders,
			Timeout: cfg.Timeout.Duration,
			Retries: cfg.Retries,
		})
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, p)
	}
	if cfg.RedisURL != "" {
		p, err := redis.New(redis.Config{
			URL:     cfg.RedisURL,
			Channel: cfg.RedisChannel,
			Timeout: cfg.Timeout.Duration,
			Retries: cfg.Retries,
		})
		if err != nil {
			for _, prev := range pubs {
				iox.DiscardClose(prev)
			}
			return nil, err
		}
		pubs = append(pubs, p)
	}

	sinks := make([]*notify.Sink, 0, len(pubs))
	for _, p := range pubs {
		sinks = append(sinks, notify.NewSink(p, notify.SinkOptions{
			Session:       session,
			EssentialOnly: cfg.EssentialOnly,
			Logger:        logger,
		}))
	}
	return sinks, nil
}
