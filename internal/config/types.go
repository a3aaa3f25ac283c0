package config

import (
	"time"

	"github.com/google/go-github/v57/github"
)

// Config represents the complete pushdeploy configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Listen  string        `yaml:"listen"`
	Webhook WebhookConfig `yaml:"webhook"`
	Deploy  DeployConfig  `yaml:"deploy"`
	State   StateConfig   `yaml:"state"`
	API     APIConfig     `yaml:"api,omitempty"`
	Notify  NotifyConfig  `yaml:"notify,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name            string        `yaml:"name"`
	LogLevel        string        `yaml:"log_level"`
	LogFile         string        `yaml:"log_file"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// WebhookConfig defines the inbound webhook endpoint.
type WebhookConfig struct {
	Path string `yaml:"path"`

	// Secret is the shared HMAC secret configured on the GitHub webhook.
	Secret string `yaml:"secret"`

	SignatureHeader string `yaml:"signature_header"`
	EventHeader     string `yaml:"event_header"`

	// Branch is the fully qualified ref whose pushes trigger a deployment.
	Branch string `yaml:"branch"`

	// MaxBodySize accepts plain byte counts or KB/MB/GB suffixes.
	MaxBodySize string `yaml:"max_body_size"`
}

// DeployConfig defines how the deployment script is run.
type DeployConfig struct {
	Script  string            `yaml:"script"`
	Shell   string            `yaml:"shell"`
	Workdir string            `yaml:"workdir,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`

	// Timeout of zero lets the script run indefinitely.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// OnBusy is "reject" (409 while a deployment is running) or "allow".
	OnBusy string `yaml:"on_busy"`
}

// StateConfig defines deployment history storage.
type StateConfig struct {
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`

	// PruneInterval is how often history older than Retention is removed.
	PruneInterval time.Duration `yaml:"prune_interval"`
}

// APIConfig enables the authenticated status endpoints when Token is set.
type APIConfig struct {
	Token string `yaml:"token"`
}

// NotifyConfig defines where deployment outcomes are published.
type NotifyConfig struct {
	Drivers []string         `yaml:"drivers"`
	Topic   string           `yaml:"topic"`
	HTTP    NotifyHTTPConfig `yaml:"http"`
	AMQP    NotifyAMQPConfig `yaml:"amqp"`
}

// NotifyHTTPConfig posts each outcome to URL.
type NotifyHTTPConfig struct {
	URL string `yaml:"url"`
}

// NotifyAMQPConfig publishes each outcome to a broker.
type NotifyAMQPConfig struct {
	URL  string `yaml:"url"`
	Mode string `yaml:"mode"` // durable_queue (default), nondurable_queue, durable_pubsub, nondurable_pubsub
}

const (
	OnBusyReject = "reject"
	OnBusyAllow  = "allow"

	DefaultMaxBodySize = 1048576    // 1 MB
	MaxBodySizeLimit   = 1073741824 // 1 GB
)

// Defaults returns a Config with the stock settings.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:            "pushdeploy",
			LogLevel:        "info",
			LogFile:         "./logs/webhook.log",
			ShutdownTimeout: 30 * time.Second,
		},
		Listen: "0.0.0.0:9000",
		Webhook: WebhookConfig{
			Path:            "/webhook",
			SignatureHeader: github.SHA256SignatureHeader,
			EventHeader:     github.EventTypeHeader,
			Branch:          "refs/heads/main",
			MaxBodySize:     "1MB",
		},
		Deploy: DeployConfig{
			Shell:  "/bin/sh",
			OnBusy: OnBusyReject,
		},
		State: StateConfig{
			Path:          "./data/pushdeploy.db",
			Retention:     90 * 24 * time.Hour,
			PruneInterval: 24 * time.Hour,
		},
		Notify: NotifyConfig{
			Topic: "deployments",
		},
	}
}
