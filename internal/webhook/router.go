package webhook

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/webhooks/v6/github"
)

// ErrInvalidPayload means the body is not usable JSON.
var ErrInvalidPayload = errors.New("invalid JSON payload")

type Action int

const (
	ActionIgnore Action = iota
	ActionDeploy
)

func (a Action) String() string {
	if a == ActionDeploy {
		return "deploy"
	}
	return "ignore"
}

// Decision is the router's verdict on one authenticated delivery.
type Decision struct {
	Action Action
	Event  string
	Ref    string
	Reason string

	// Push is set for push events.
	Push *github.PushPayload
}

// Route decides what to do with an authenticated delivery. Only a push to
// branch deploys; every other event or ref is ignored. Invalid JSON is an
// ErrInvalidPayload error.
func Route(event string, payload []byte, branch string) (Decision, error) {
	if !json.Valid(payload) {
		return Decision{}, ErrInvalidPayload
	}

	d := Decision{Action: ActionIgnore, Event: event}
	if event != string(github.PushEvent) {
		d.Reason = fmt.Sprintf("event %q does not trigger deployments", event)
		return d, nil
	}

	var push github.PushPayload
	if err := json.Unmarshal(payload, &push); err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	d.Push = &push
	d.Ref = push.Ref

	if push.Ref != branch {
		d.Reason = fmt.Sprintf("push to %s, deploying only %s", displayRef(push.Ref), branch)
		return d, nil
	}

	d.Action = ActionDeploy
	d.Reason = "push to " + branch
	return d, nil
}

func displayRef(ref string) string {
	if ref == "" {
		return "unknown ref"
	}
	return ref
}
