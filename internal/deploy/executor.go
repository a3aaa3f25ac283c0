package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/mattjoyce/pushdeploy/internal/config"
)

const (
	// maxOutputBytes caps each of stdout and stderr.
	maxOutputBytes = 64 * 1024

	// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	terminationGracePeriod = 5 * time.Second
)

// ErrTimedOut is reported when the script outlives deploy.timeout.
var ErrTimedOut = errors.New("deployment script timed out")

// Result is the outcome of one script run.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration

	// StdoutTruncated and StderrTruncated report output dropped past the cap.
	StdoutTruncated bool
	StderrTruncated bool

	// Err is set when the script could not be started, timed out or was
	// cancelled. A plain non-zero exit leaves Err nil.
	Err error
}

// Succeeded reports whether the script started and exited 0.
func (r Result) Succeeded() bool {
	return r.Err == nil && r.ExitCode == 0
}

// Reason is a one-line description of a failure, empty on success.
func (r Result) Reason() string {
	switch {
	case r.Err != nil:
		return r.Err.Error()
	case r.ExitCode != 0:
		return fmt.Sprintf("exit status %d", r.ExitCode)
	default:
		return ""
	}
}

type Executor struct {
	shell   string
	script  string
	workdir string
	env     []string
	timeout time.Duration
	logger  *slog.Logger
}

func NewExecutor(cfg config.DeployConfig, logger *slog.Logger) *Executor {
	return &Executor{
		shell:   cfg.Shell,
		script:  cfg.Script,
		workdir: cfg.Workdir,
		env:     buildEnv(cfg.Env),
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

// Script is the path of the script this executor runs, resolved against the
// working directory the child will have.
func (e *Executor) Script() string {
	if e.workdir == "" || filepath.IsAbs(e.script) {
		return e.script
	}
	return filepath.Join(e.workdir, e.script)
}

// Start launches the script and delivers its Result on the returned channel.
// Cancelling ctx terminates the script the same way a timeout does.
func (e *Executor) Start(ctx context.Context) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		out <- e.run(ctx)
	}()
	return out
}

// Run is Start followed by a blocking receive.
func (e *Executor) Run(ctx context.Context) Result {
	return <-e.Start(ctx)
}

func (e *Executor) run(ctx context.Context) Result {
	started := time.Now()

	cmd := exec.Command(e.shell, e.script)
	cmd.Dir = e.workdir
	cmd.Env = e.env
	setProcessGroup(cmd)

	stdout := &cappedBuffer{limit: maxOutputBytes}
	stderr := &cappedBuffer{limit: maxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Background children holding the pipes open must not block Wait forever.
	cmd.WaitDelay = terminationGracePeriod

	e.logger.Debug("spawning deployment script", "shell", e.shell, "script", e.script, "timeout", e.timeout)

	if err := cmd.Start(); err != nil {
		return Result{
			ExitCode: -1,
			Duration: time.Since(started),
			Err:      fmt.Errorf("start script: %w", err),
		}
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	var timeoutC <-chan time.Time
	if e.timeout > 0 {
		timer := time.NewTimer(e.timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	var (
		err     error
		stopErr error
	)
	select {
	case err = <-waitErr:
	case <-timeoutC:
		e.logger.Warn("deployment script timed out, sending SIGTERM", "timeout", e.timeout)
		stopErr = ErrTimedOut
		err = e.terminate(cmd, waitErr)
	case <-ctx.Done():
		e.logger.Warn("deployment cancelled, sending SIGTERM", "error", ctx.Err())
		stopErr = fmt.Errorf("deployment cancelled: %w", ctx.Err())
		err = e.terminate(cmd, waitErr)
	}

	res := Result{
		ExitCode:        exitCode(cmd, err),
		Stdout:          stdout.String(),
		Stderr:          stderr.String(),
		Duration:        time.Since(started),
		StdoutTruncated: stdout.Truncated(),
		StderrTruncated: stderr.Truncated(),
		Err:             stopErr,
	}
	if res.Err == nil && err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) && !errors.Is(err, exec.ErrWaitDelay) {
			res.Err = fmt.Errorf("wait for script: %w", err)
		}
	}
	return res
}

// terminate sends SIGTERM, waits out the grace period, then SIGKILL.
func (e *Executor) terminate(cmd *exec.Cmd, waitErr <-chan error) error {
	if err := signalGroup(cmd, sigTerm); err != nil {
		e.logger.Error("failed to send SIGTERM", "error", err)
	}

	grace := time.NewTimer(terminationGracePeriod)
	defer grace.Stop()

	select {
	case err := <-waitErr:
		e.logger.Info("deployment script exited after SIGTERM")
		return err
	case <-grace.C:
		e.logger.Warn("deployment script did not exit after SIGTERM, sending SIGKILL")
		if err := signalGroup(cmd, sigKill); err != nil {
			e.logger.Error("failed to send SIGKILL", "error", err)
		}
		return <-waitErr
	}
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}

// buildEnv is the parent environment plus the configured static entries.
func buildEnv(extra map[string]string) []string {
	env := os.Environ()
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

// cappedBuffer keeps the first limit bytes written and discards the rest
// while still reporting full writes, so the child never sees a short write.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       []byte
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := b.limit - len(b.buf)
	if room <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > room {
		b.buf = append(b.buf, p[:room]...)
		b.truncated = true
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func (b *cappedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
