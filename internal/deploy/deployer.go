package deploy

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/mattjoyce/pushdeploy/internal/config"
	"github.com/mattjoyce/pushdeploy/internal/events"
	"github.com/mattjoyce/pushdeploy/internal/history"
	"github.com/mattjoyce/pushdeploy/internal/lock"
	"github.com/mattjoyce/pushdeploy/internal/notify"
)

// ErrBusy is returned when on_busy is "reject" and a deployment is running.
var ErrBusy = errors.New("a deployment is already running")

// Trigger is the push that caused a deployment.
type Trigger struct {
	DeliveryID    string
	Ref           string
	CommitID      string
	CommitMessage string
	Pusher        string
}

// Report is what the HTTP layer needs to answer the webhook.
type Report struct {
	DeploymentID string
	Result       Result
}

func (r Report) Succeeded() bool { return r.Result.Succeeded() }

// Recorder persists deployment history.
type Recorder interface {
	Begin(ctx context.Context, req history.BeginRequest) (string, error)
	Finish(ctx context.Context, id string, out history.Outcome) error
}

// Runner runs the deployment script once.
type Runner interface {
	Run(ctx context.Context) Result
	Script() string
}

type Deployer struct {
	runner   Runner
	slot     *lock.Slot
	recorder Recorder
	hub      events.Publisher
	notifier notify.Notifier
	logger   *slog.Logger
}

// Option configures optional collaborators of a Deployer.
type Option func(*Deployer)

func WithRecorder(r Recorder) Option        { return func(d *Deployer) { d.recorder = r } }
func WithEvents(p events.Publisher) Option  { return func(d *Deployer) { d.hub = p } }
func WithNotifier(n notify.Notifier) Option { return func(d *Deployer) { d.notifier = n } }

// New builds a Deployer. A nil slot means deployments may overlap.
func New(runner Runner, onBusy string, logger *slog.Logger, opts ...Option) *Deployer {
	d := &Deployer{runner: runner, logger: logger}
	if onBusy != config.OnBusyAllow {
		d.slot = lock.NewSlot()
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Busy reports whether a deployment currently holds the slot.
func (d *Deployer) Busy() bool {
	return d.slot != nil && d.slot.Busy()
}

// Deploy runs the script for t. The only error it returns is ErrBusy; script
// failures are described by the Report.
func (d *Deployer) Deploy(ctx context.Context, t Trigger) (Report, error) {
	if d.slot != nil {
		if !d.slot.TryAcquire() {
			d.logger.Warn("Deployment rejected, another deployment is running",
				"delivery_id", t.DeliveryID, "commit", t.CommitID)
			d.publish(events.DeployBusy, map[string]any{
				"delivery_id": t.DeliveryID,
				"commit_id":   t.CommitID,
			})
			return Report{}, ErrBusy
		}
		defer d.slot.Release()
	}

	// The script is not tied to the lifetime of the HTTP request.
	ctx = context.WithoutCancel(ctx)

	script := d.runner.Script()
	hash, err := Fingerprint(script)
	if err != nil {
		d.logger.Warn("could not fingerprint deployment script", "script", script, "error", err)
	}

	id := d.begin(ctx, t, script, hash)
	logger := d.logger
	if id != "" {
		logger = logger.With("deployment_id", id)
	}

	logger.Info("Deployment started",
		"ref", t.Ref,
		"commit", t.CommitID,
		"message", t.CommitMessage,
		"pusher", t.Pusher,
		"script_hash", hash,
	)
	d.publish(events.DeployStarted, map[string]any{
		"deployment_id": id,
		"delivery_id":   t.DeliveryID,
		"ref":           t.Ref,
		"commit_id":     t.CommitID,
		"pusher":        t.Pusher,
	})

	res := d.runner.Run(ctx)
	logResult(logger, res)

	d.finish(ctx, logger, id, t, res)
	return Report{DeploymentID: id, Result: res}, nil
}

func (d *Deployer) begin(ctx context.Context, t Trigger, script, hash string) string {
	if d.recorder == nil {
		return ""
	}
	id, err := d.recorder.Begin(ctx, history.BeginRequest{
		DeliveryID:    t.DeliveryID,
		Ref:           t.Ref,
		CommitID:      t.CommitID,
		CommitMessage: t.CommitMessage,
		Pusher:        t.Pusher,
		Script:        script,
		ScriptHash:    hash,
	})
	if err != nil {
		d.logger.Error("failed to record deployment start", "error", err)
		return ""
	}
	return id
}

func (d *Deployer) finish(ctx context.Context, logger *slog.Logger, id string, t Trigger, res Result) {
	status := history.StatusSucceeded
	eventType := events.DeploySucceeded
	if !res.Succeeded() {
		status = history.StatusFailed
		eventType = events.DeployFailed
	}
	exitCode := res.ExitCode

	if d.recorder != nil && id != "" {
		err := d.recorder.Finish(ctx, id, history.Outcome{
			Status:   status,
			ExitCode: &exitCode,
			Stdout:   res.Stdout,
			Stderr:   res.Stderr,
			Error:    res.Reason(),
			Duration: res.Duration,

			OutputTruncated: res.StdoutTruncated || res.StderrTruncated,
		})
		if err != nil {
			logger.Error("failed to record deployment outcome", "error", err)
		}
	}

	d.publish(eventType, map[string]any{
		"deployment_id": id,
		"delivery_id":   t.DeliveryID,
		"commit_id":     t.CommitID,
		"exit_code":     exitCode,
		"duration_ms":   res.Duration.Milliseconds(),
		"error":         res.Reason(),
	})

	if d.notifier == nil {
		return
	}
	err := d.notifier.Notify(ctx, notify.Notification{
		DeploymentID:  id,
		Status:        string(status),
		Ref:           t.Ref,
		CommitID:      t.CommitID,
		CommitMessage: t.CommitMessage,
		Pusher:        t.Pusher,
		ExitCode:      &exitCode,
		Error:         res.Reason(),
		DurationMS:    res.Duration.Milliseconds(),
		At:            time.Now().UTC(),
	})
	if err != nil {
		logger.Warn("deployment notification failed", "error", err)
	}
}

func (d *Deployer) publish(eventType string, data any) {
	if d.hub != nil {
		d.hub.Publish(eventType, data)
	}
}

func logResult(logger *slog.Logger, res Result) {
	if out := strings.TrimSpace(res.Stdout); out != "" {
		logger.Info("Deployment stdout: " + out)
	}
	if errOut := strings.TrimSpace(res.Stderr); errOut != "" {
		logger.Warn("Deployment stderr: " + errOut)
	}
	if res.StdoutTruncated || res.StderrTruncated {
		logger.Warn("Deployment output truncated",
			"limit_bytes", maxOutputBytes,
			"stdout", res.StdoutTruncated,
			"stderr", res.StderrTruncated,
		)
	}
	if res.Succeeded() {
		logger.Info("Deployment successful", "duration", res.Duration.Round(time.Millisecond))
		return
	}
	logger.Error("Deployment failed",
		"error", res.Reason(),
		"exit_code", res.ExitCode,
		"duration", res.Duration.Round(time.Millisecond),
	)
}
