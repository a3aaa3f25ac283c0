// Package notify publishes deployment outcomes to external systems through
// watermill publishers. Publishing is best effort: a failed notification is
// reported to the caller but never changes a deployment's result.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmamqp "github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	wmhttp "github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/mattjoyce/pushdeploy/internal/config"
)

// Notification is the message body published for every finished deployment.
type Notification struct {
	DeploymentID  string    `json:"deployment_id"`
	Status        string    `json:"status"`
	Ref           string    `json:"ref"`
	CommitID      string    `json:"commit_id,omitempty"`
	CommitMessage string    `json:"commit_message,omitempty"`
	Pusher        string    `json:"pusher,omitempty"`
	ExitCode      *int      `json:"exit_code,omitempty"`
	Error         string    `json:"error,omitempty"`
	DurationMS    int64     `json:"duration_ms"`
	At            time.Time `json:"at"`
}

// Notifier is what the deployer depends on.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
	Close() error
}

// Publisher fans a notification out to every configured driver.
type Publisher struct {
	topic      string
	publishers map[string]message.Publisher
	drivers    []string
	logger     *slog.Logger
}

// New builds a Publisher for cfg. With no drivers configured the result is
// a valid Publisher whose Notify does nothing.
func New(cfg config.NotifyConfig, logger *slog.Logger) (*Publisher, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	pubs := make(map[string]message.Publisher, len(cfg.Drivers))
	for _, driver := range cfg.Drivers {
		key := strings.ToLower(driver)
		if _, dup := pubs[key]; dup {
			continue
		}
		pub, err := newDriver(key, cfg, wmLogger)
		if err != nil {
			for _, p := range pubs {
				_ = p.Close()
			}
			return nil, fmt.Errorf("notify driver %s: %w", key, err)
		}
		pubs[key] = pub
	}
	return NewWithPublishers(cfg.Topic, pubs, logger), nil
}

// NewWithPublishers wraps already constructed watermill publishers.
func NewWithPublishers(topic string, pubs map[string]message.Publisher, logger *slog.Logger) *Publisher {
	drivers := make([]string, 0, len(pubs))
	for name := range pubs {
		drivers = append(drivers, name)
	}
	return &Publisher{topic: topic, publishers: pubs, drivers: drivers, logger: logger}
}

func newDriver(driver string, cfg config.NotifyConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	switch driver {
	case "gochannel":
		return gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 16}, logger), nil
	case "http":
		target := cfg.HTTP.URL
		if target == "" {
			return nil, fmt.Errorf("http url is required")
		}
		return wmhttp.NewPublisher(wmhttp.PublisherConfig{
			// The topic is not a URL here; every message goes to the configured target.
			MarshalMessageFunc: func(_ string, msg *message.Message) (*http.Request, error) {
				req, err := wmhttp.DefaultMarshalMessageFunc(target, msg)
				if err != nil {
					return nil, err
				}
				req.Header.Set("Content-Type", "application/json")
				return req, nil
			},
			Client: &http.Client{Timeout: 10 * time.Second},
		}, logger)
	case "amqp":
		if cfg.AMQP.URL == "" {
			return nil, fmt.Errorf("amqp url is required")
		}
		amqpCfg, err := amqpConfigFromMode(cfg.AMQP.URL, cfg.AMQP.Mode)
		if err != nil {
			return nil, err
		}
		return wmamqp.NewPublisher(amqpCfg, logger)
	default:
		return nil, fmt.Errorf("unsupported driver")
	}
}

func amqpConfigFromMode(url, mode string) (wmamqp.Config, error) {
	switch strings.ToLower(mode) {
	case "", "durable_queue":
		return wmamqp.NewDurableQueueConfig(url), nil
	case "nondurable_queue":
		return wmamqp.NewNonDurableQueueConfig(url), nil
	case "durable_pubsub":
		return wmamqp.NewDurablePubSubConfig(url, nil), nil
	case "nondurable_pubsub":
		return wmamqp.NewNonDurablePubSubConfig(url, nil), nil
	default:
		return wmamqp.Config{}, fmt.Errorf("unsupported amqp mode: %s", mode)
	}
}

// Enabled reports whether at least one driver is configured.
func (p *Publisher) Enabled() bool {
	return len(p.publishers) > 0
}

// Notify publishes n to every driver and joins their errors.
func (p *Publisher) Notify(ctx context.Context, n Notification) error {
	if !p.Enabled() {
		return nil
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	var errs error
	for _, driver := range p.drivers {
		msg := message.NewMessage(watermill.NewUUID(), payload)
		msg.SetContext(ctx)
		msg.Metadata.Set("deployment_id", n.DeploymentID)
		msg.Metadata.Set("status", n.Status)
		if err := p.publishers[driver].Publish(p.topic, msg); err != nil {
			if p.logger != nil {
				p.logger.Warn("notification publish failed", "driver", driver, "deployment_id", n.DeploymentID, "error", err)
			}
			errs = errors.Join(errs, fmt.Errorf("%s: %w", driver, err))
		}
	}
	return errs
}

func (p *Publisher) Close() error {
	var errs error
	for _, pub := range p.publishers {
		errs = errors.Join(errs, pub.Close())
	}
	return errs
}
