// Package deploy runs the deployment script and records what happened.
//
// The Executor spawns the configured script through the configured shell
// with a fixed argument list. Nothing from the webhook request reaches the
// child process: not its argv, not its environment.
//
// Key behavior:
//   - stdout and stderr are captured, each capped at 64KB
//   - exit code zero is success; a spawn error or non-zero exit is failure
//   - optional timeout with SIGTERM → 5s grace → SIGKILL to the process group
//   - no automatic retries
//
// The Deployer wraps the Executor with the concurrency policy. With on_busy
// set to "reject" only one deployment runs at a time and a second trigger
// gets ErrBusy; "allow" lets triggers overlap. Each deployment is recorded
// in history, announced on the event hub and handed to the notifier.
package deploy
