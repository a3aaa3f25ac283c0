// Package doctor checks that a pushdeploy configuration can actually deploy:
// the script and shell exist, state and log locations are writable and the
// secrets are strong enough.
package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/pushdeploy/internal/config"
	"github.com/mattjoyce/pushdeploy/internal/storage"
)

// minSecretLength is the shortest secret accepted without a warning.
const minSecretLength = 16

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`

	StateFilesystem *storage.Filesystem `json:"state_filesystem,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

type Doctor struct {
	cfg       *config.Config
	inspectFS func(path string) (storage.Filesystem, error)
}

func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg, inspectFS: storage.InspectFilesystem}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateListen(r)
	d.validateDeploy(r)
	d.validateWebhook(r)
	d.validateWritable(r, "state", "state.path", d.cfg.State.Path)
	d.validateStateFilesystem(r)
	d.validateWritable(r, "service", "service.log_file", d.cfg.Service.LogFile)
	d.validateAPI(r)
	d.validateNotify(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateListen(r *Result) {
	if _, _, err := net.SplitHostPort(d.cfg.Listen); err != nil {
		d.addError(r, "service", "listen", fmt.Sprintf("invalid listen address %q: %v", d.cfg.Listen, err))
	}
}

func (d *Doctor) validateDeploy(r *Result) {
	deploy := d.cfg.Deploy

	if _, err := exec.LookPath(deploy.Shell); err != nil {
		d.addError(r, "deploy", "deploy.shell", fmt.Sprintf("shell %q is not executable: %v", deploy.Shell, err))
	}

	script := deploy.Script
	if deploy.Workdir != "" && !filepath.IsAbs(script) {
		script = filepath.Join(deploy.Workdir, script)
	}
	info, err := os.Stat(script)
	switch {
	case err != nil:
		d.addError(r, "deploy", "deploy.script", fmt.Sprintf("script %q: %v", script, err))
	case info.IsDir():
		d.addError(r, "deploy", "deploy.script", fmt.Sprintf("script %q is a directory", script))
	default:
		f, err := os.Open(script)
		if err != nil {
			d.addError(r, "deploy", "deploy.script", fmt.Sprintf("script %q is not readable: %v", script, err))
		} else {
			_ = f.Close()
		}
	}

	if deploy.Workdir != "" {
		if info, err := os.Stat(deploy.Workdir); err != nil || !info.IsDir() {
			d.addError(r, "deploy", "deploy.workdir", fmt.Sprintf("workdir %q is not a directory", deploy.Workdir))
		}
	}

	if deploy.Timeout == 0 && deploy.OnBusy == config.OnBusyReject {
		d.addWarning(r, "deploy", "deploy.timeout",
			"no timeout set; a hung script keeps every later push answered with 409")
	}
	if deploy.OnBusy == config.OnBusyAllow {
		d.addWarning(r, "deploy", "deploy.on_busy",
			"overlapping deployments are allowed; the script must tolerate concurrent runs")
	}
	for key := range deploy.Env {
		if key == "" || strings.ContainsAny(key, "= ") {
			d.addError(r, "deploy", "deploy.env", fmt.Sprintf("invalid environment variable name %q", key))
		}
	}
}

func (d *Doctor) validateWebhook(r *Result) {
	wh := d.cfg.Webhook

	if len(wh.Secret) < minSecretLength {
		d.addWarning(r, "webhook", "webhook.secret",
			fmt.Sprintf("secret is shorter than %d characters", minSecretLength))
	}
	if !strings.HasPrefix(wh.Branch, "refs/") {
		d.addWarning(r, "webhook", "webhook.branch",
			fmt.Sprintf("branch %q is not a full ref; GitHub sends refs like refs/heads/main", wh.Branch))
	}
	if d.cfg.API.Token != "" && (wh.Path == "/events" || strings.HasPrefix(wh.Path, "/deployments")) {
		d.addError(r, "webhook", "webhook.path", fmt.Sprintf("path %q collides with the status API", wh.Path))
	}
}

// validateWritable checks that the directory holding path exists (or can be
// created) and accepts new files.
func (d *Doctor) validateWritable(r *Result, category, field, path string) {
	if path == "" {
		return
	}
	dir := filepath.Dir(path)
	for {
		info, err := os.Stat(dir)
		if err == nil {
			if !info.IsDir() {
				d.addError(r, category, field, fmt.Sprintf("%q is not a directory", dir))
				return
			}
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			d.addError(r, category, field, fmt.Sprintf("no existing parent directory for %q", path))
			return
		}
		dir = parent
	}

	f, err := os.CreateTemp(dir, ".pushdeploy-check-*")
	if err != nil {
		d.addError(r, category, field, fmt.Sprintf("directory %q is not writable: %v", dir, err))
		return
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
}

// validateStateFilesystem records where the history database lives. The
// server refuses to open it on a network mount, so that is an error here too.
func (d *Doctor) validateStateFilesystem(r *Result) {
	if d.cfg.State.Path == "" {
		return
	}
	fs, err := d.inspectFS(d.cfg.State.Path)
	if err != nil {
		d.addWarning(r, "state", "state.path", fmt.Sprintf("could not determine filesystem: %v", err))
		return
	}
	r.StateFilesystem = &fs
	if fs.Network {
		d.addError(r, "state", "state.path",
			fmt.Sprintf("history database would be on network filesystem %s; SQLite needs a local disk", fs.Type))
	}
}

func (d *Doctor) validateAPI(r *Result) {
	token := d.cfg.API.Token
	if token == "" {
		return
	}
	if len(token) < minSecretLength {
		d.addWarning(r, "api", "api.token", fmt.Sprintf("token is shorter than %d characters", minSecretLength))
	}
	if token == d.cfg.Webhook.Secret {
		d.addWarning(r, "api", "api.token", "api token reuses the webhook secret")
	}
}

func (d *Doctor) validateNotify(r *Result) {
	for _, driver := range d.cfg.Notify.Drivers {
		switch strings.ToLower(driver) {
		case "http":
			u, err := url.Parse(d.cfg.Notify.HTTP.URL)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				d.addError(r, "notify", "notify.http.url",
					fmt.Sprintf("%q is not an http(s) URL", d.cfg.Notify.HTTP.URL))
			}
		case "amqp":
			u, err := url.Parse(d.cfg.Notify.AMQP.URL)
			if err != nil || (u.Scheme != "amqp" && u.Scheme != "amqps") {
				d.addError(r, "notify", "notify.amqp.url",
					fmt.Sprintf("%q is not an amqp(s) URL", d.cfg.Notify.AMQP.URL))
			}
		case "gochannel":
			d.addWarning(r, "notify", "notify.drivers",
				"gochannel delivers only inside this process; nothing outside will see notifications")
		}
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		writeFilesystem(&b, r)
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}
	writeFilesystem(&b, r)
	return b.String()
}

func writeFilesystem(b *strings.Builder, r *Result) {
	if r.StateFilesystem != nil {
		fmt.Fprintf(b, "  state.path filesystem: %s\n", r.StateFilesystem)
	}
}

func writeIssue(b *strings.Builder, label string, is Issue) {
	if is.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", label, is.Category, is.Field, is.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", label, is.Category, is.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
