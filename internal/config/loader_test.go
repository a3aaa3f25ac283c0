package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// clearOverrides blanks the override variables so the host environment
// cannot leak into assertions.
func clearOverrides(t *testing.T) {
	t.Helper()
	for _, k := range []string{"PORT", "PUSHDEPLOY_LISTEN", "WEBHOOK_SECRET", "DEPLOY_SCRIPT", "LOG_FILE",
		"PUSHDEPLOY_LOG_LEVEL", "PUSHDEPLOY_STATE_PATH", "PUSHDEPLOY_API_TOKEN"} {
		t.Setenv(k, "")
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "minimal valid config",
			yaml: `
webhook:
  secret: s3cret
deploy:
  script: /opt/app/deploy.sh
`,
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
				assert.Equal(t, "/webhook", cfg.Webhook.Path)
				assert.Equal(t, "X-Hub-Signature-256", cfg.Webhook.SignatureHeader)
				assert.Equal(t, "refs/heads/main", cfg.Webhook.Branch)
				assert.Equal(t, "/bin/sh", cfg.Deploy.Shell)
				assert.Equal(t, OnBusyReject, cfg.Deploy.OnBusy)
				assert.Equal(t, time.Duration(0), cfg.Deploy.Timeout)
				assert.Equal(t, int64(DefaultMaxBodySize), cfg.MaxBodyBytes())
			},
		},
		{
			name: "env var interpolation",
			yaml: `
webhook:
  secret: ${TEST_HOOK_SECRET}
deploy:
  script: ${TEST_DEPLOY_SCRIPT}
  timeout: 10m
`,
			env: map[string]string{
				"TEST_HOOK_SECRET":   "from-env",
				"TEST_DEPLOY_SCRIPT": "/srv/deploy.sh",
			},
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "from-env", cfg.Webhook.Secret)
				assert.Equal(t, "/srv/deploy.sh", cfg.Deploy.Script)
				assert.Equal(t, 10*time.Minute, cfg.Deploy.Timeout)
			},
		},
		{
			name: "unresolved secret",
			yaml: `
webhook:
  secret: ${TEST_UNSET_SECRET_VAR}
deploy:
  script: /opt/app/deploy.sh
`,
			wantErr: "TEST_UNSET_SECRET_VAR",
		},
		{
			name: "missing script",
			yaml: `
webhook:
  secret: s3cret
`,
			wantErr: "deploy.script is required",
		},
		{
			name: "invalid on_busy",
			yaml: `
webhook:
  secret: s3cret
deploy:
  script: /opt/app/deploy.sh
  on_busy: queue
`,
			wantErr: "deploy.on_busy",
		},
		{
			name: "environment overrides file",
			yaml: `
listen: 127.0.0.1:7000
webhook:
  secret: file-secret
deploy:
  script: /opt/app/deploy.sh
`,
			env: map[string]string{
				"WEBHOOK_SECRET": "env-secret",
				"PORT":           "8088",
				"LOG_FILE":       "/var/log/hook.log",
			},
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "env-secret", cfg.Webhook.Secret)
				assert.Equal(t, "0.0.0.0:8088", cfg.Listen)
				assert.Equal(t, "/var/log/hook.log", cfg.Service.LogFile)
			},
		},
		{
			name: "http notify needs url",
			yaml: `
webhook:
  secret: s3cret
deploy:
  script: /opt/app/deploy.sh
notify:
  drivers: [http]
`,
			wantErr: "notify.http.url",
		},
		{
			name: "unknown notify driver",
			yaml: `
webhook:
  secret: s3cret
deploy:
  script: /opt/app/deploy.sh
notify:
  drivers: [kafka]
`,
			wantErr: "unsupported driver",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearOverrides(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load(Options{ConfigPath: writeConfig(t, tt.yaml)})
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoad_EnvOnly(t *testing.T) {
	clearOverrides(t)
	t.Setenv("WEBHOOK_SECRET", "only-env")
	t.Setenv("DEPLOY_SCRIPT", "/opt/deploy.sh")

	cfg, err := Load(Options{})
	require.NoError(t, err)
	assert.Equal(t, "only-env", cfg.Webhook.Secret)
	assert.Equal(t, "/opt/deploy.sh", cfg.Deploy.Script)
}

func TestLoad_EnvFile(t *testing.T) {
	clearOverrides(t)
	envPath := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("PUSHDEPLOY_TEST_DOTENV_SECRET=dotenv\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("PUSHDEPLOY_TEST_DOTENV_SECRET") })

	path := writeConfig(t, `
webhook:
  secret: ${PUSHDEPLOY_TEST_DOTENV_SECRET}
deploy:
  script: /opt/app/deploy.sh
`)
	cfg, err := Load(Options{ConfigPath: path, EnvFile: envPath})
	require.NoError(t, err)
	assert.Equal(t, "dotenv", cfg.Webhook.Secret)
}

func TestLoad_MissingEnvFileIgnored(t *testing.T) {
	clearOverrides(t)
	path := writeConfig(t, `
webhook:
  secret: s3cret
deploy:
  script: /opt/app/deploy.sh
`)
	_, err := Load(Options{ConfigPath: path, EnvFile: filepath.Join(t.TempDir(), "missing.env")})
	assert.NoError(t, err)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	_, err := Load(Options{ConfigPath: filepath.Join(t.TempDir(), "nope.yaml")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", DefaultMaxBodySize, false},
		{"2048", 2048, false},
		{"512KB", 512 * 1024, false},
		{"1mb", 1024 * 1024, false},
		{"1GB", MaxBodySizeLimit, false},
		{"1073741824", MaxBodySizeLimit, false},
		{"1073741825", 0, true},
		{"2GB", 0, true},
		{"9223372036854775807", 0, true},
		{"9007199254740992KB", 0, true},
		{"-1", 0, true},
		{"big", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSize(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
