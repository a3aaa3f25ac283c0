package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

var validNotifyDrivers = map[string]bool{"gochannel": true, "http": true, "amqp": true}

// Options controls where Load looks for configuration.
type Options struct {
	// ConfigPath is an optional YAML file. Empty means defaults plus environment.
	ConfigPath string

	// EnvFile is loaded into the process environment before anything else.
	// A missing file is ignored.
	EnvFile string
}

// Load builds the configuration from defaults, an optional YAML file and
// environment overrides, in that order, and validates the result.
func Load(opts Options) (*Config, error) {
	if err := loadEnvFile(opts.EnvFile); err != nil {
		return nil, err
	}

	cfg := Defaults()

	if opts.ConfigPath != "" {
		absPath, err := filepath.Abs(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path %q: %w", opts.ConfigPath, err)
		}
		data, err := os.ReadFile(absPath)
		if err != nil {
			return nil, fmt.Errorf("config file not found: %s\n"+
				"Hint: Check the path or run with --config flag", absPath)
		}
		if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", absPath, err)
		}
	}

	applyEnvOverrides(cfg)
	applyConfigDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %q: %w", path, err)
	}
	return nil
}

// applyEnvOverrides lets the environment win over the YAML file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Listen = "0.0.0.0:" + v
	}
	if v := os.Getenv("PUSHDEPLOY_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("WEBHOOK_SECRET"); v != "" {
		cfg.Webhook.Secret = v
	}
	if v := os.Getenv("DEPLOY_SCRIPT"); v != "" {
		cfg.Deploy.Script = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Service.LogFile = v
	}
	if v := os.Getenv("PUSHDEPLOY_LOG_LEVEL"); v != "" {
		cfg.Service.LogLevel = v
	}
	if v := os.Getenv("PUSHDEPLOY_STATE_PATH"); v != "" {
		cfg.State.Path = v
	}
	if v := os.Getenv("PUSHDEPLOY_API_TOKEN"); v != "" {
		cfg.API.Token = v
	}
}

// applyConfigDefaults fills values an explicit YAML file may have blanked.
func applyConfigDefaults(cfg *Config) {
	defaults := Defaults()
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	cfg.Service.LogLevel = strings.ToLower(cfg.Service.LogLevel)
	if cfg.Service.ShutdownTimeout <= 0 {
		cfg.Service.ShutdownTimeout = defaults.Service.ShutdownTimeout
	}
	if cfg.Webhook.Path == "" {
		cfg.Webhook.Path = defaults.Webhook.Path
	}
	if cfg.Webhook.SignatureHeader == "" {
		cfg.Webhook.SignatureHeader = defaults.Webhook.SignatureHeader
	}
	if cfg.Webhook.EventHeader == "" {
		cfg.Webhook.EventHeader = defaults.Webhook.EventHeader
	}
	if cfg.Webhook.Branch == "" {
		cfg.Webhook.Branch = defaults.Webhook.Branch
	}
	if cfg.Deploy.Shell == "" {
		cfg.Deploy.Shell = defaults.Deploy.Shell
	}
	if cfg.Deploy.OnBusy == "" {
		cfg.Deploy.OnBusy = defaults.Deploy.OnBusy
	}
	if cfg.State.Retention <= 0 {
		cfg.State.Retention = defaults.State.Retention
	}
	if cfg.State.PruneInterval <= 0 {
		cfg.State.PruneInterval = defaults.State.PruneInterval
	}
	if cfg.Notify.Topic == "" {
		cfg.Notify.Topic = defaults.Notify.Topic
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFile == "" {
		return fmt.Errorf("service.log_file is required")
	}
	if cfg.Listen == "" {
		return fmt.Errorf("listen is required")
	}

	if err := requireResolved("webhook.secret", cfg.Webhook.Secret); err != nil {
		return err
	}
	if !strings.HasPrefix(cfg.Webhook.Path, "/") {
		return fmt.Errorf("webhook.path must start with '/' (got %q)", cfg.Webhook.Path)
	}
	if cfg.Webhook.Path == "/health" {
		return fmt.Errorf("webhook.path must not shadow /health")
	}
	if _, err := ParseSize(cfg.Webhook.MaxBodySize); err != nil {
		return fmt.Errorf("webhook.max_body_size %q: %w", cfg.Webhook.MaxBodySize, err)
	}

	if err := requireResolved("deploy.script", cfg.Deploy.Script); err != nil {
		return err
	}
	if cfg.Deploy.OnBusy != OnBusyReject && cfg.Deploy.OnBusy != OnBusyAllow {
		return fmt.Errorf("deploy.on_busy must be %q or %q (got %q)", OnBusyReject, OnBusyAllow, cfg.Deploy.OnBusy)
	}
	if cfg.Deploy.Timeout < 0 {
		return fmt.Errorf("deploy.timeout must not be negative")
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}

	if cfg.API.Token != "" {
		if err := requireResolved("api.token", cfg.API.Token); err != nil {
			return err
		}
	}

	for i, driver := range cfg.Notify.Drivers {
		d := strings.ToLower(driver)
		if !validNotifyDrivers[d] {
			return fmt.Errorf("notify.drivers[%d]: unsupported driver %q", i, driver)
		}
		if d == "http" && cfg.Notify.HTTP.URL == "" {
			return fmt.Errorf("notify.http.url is required for the http driver")
		}
		if d == "amqp" && cfg.Notify.AMQP.URL == "" {
			return fmt.Errorf("notify.amqp.url is required for the amqp driver")
		}
	}

	return nil
}

func requireResolved(field, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", field)
	}
	if matches := envVarPattern.FindStringSubmatch(value); len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return nil
}

// ParseSize parses size strings like "1MB", "512KB", "1048576" to bytes.
// Returns DefaultMaxBodySize if empty.
func ParseSize(size string) (int64, error) {
	if size == "" {
		return DefaultMaxBodySize, nil
	}

	upper := strings.ToUpper(strings.TrimSpace(size))
	multiplier := int64(1)

	switch {
	case strings.HasSuffix(upper, "KB"):
		multiplier = 1024
		upper = strings.TrimSuffix(upper, "KB")
	case strings.HasSuffix(upper, "MB"):
		multiplier = 1024 * 1024
		upper = strings.TrimSuffix(upper, "MB")
	case strings.HasSuffix(upper, "GB"):
		multiplier = 1024 * 1024 * 1024
		upper = strings.TrimSuffix(upper, "GB")
	}

	value, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %w", err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}

	if value > MaxBodySizeLimit/multiplier {
		return 0, fmt.Errorf("size %q exceeds the 1GB limit", size)
	}
	return value * multiplier, nil
}

// MaxBodyBytes returns the parsed webhook body limit. Load has already
// validated the value, so the fallback only applies to hand-built configs.
func (c *Config) MaxBodyBytes() int64 {
	n, err := ParseSize(c.Webhook.MaxBodySize)
	if err != nil {
		return DefaultMaxBodySize
	}
	return n
}
