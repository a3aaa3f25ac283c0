package webhook

import (
	"context"

	"github.com/mattjoyce/pushdeploy/internal/deploy"
	"github.com/mattjoyce/pushdeploy/internal/events"
	"github.com/mattjoyce/pushdeploy/internal/history"
)

//go:generate mockgen -destination=mocks/mock_webhook.go -package=mocks github.com/mattjoyce/pushdeploy/internal/webhook Deployer,HistoryReader

// Deployer runs a deployment for an accepted push.
type Deployer interface {
	Deploy(ctx context.Context, t deploy.Trigger) (deploy.Report, error)
}

// HistoryReader serves the read-only deployment endpoints.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]*history.Deployment, error)
	Get(ctx context.Context, id string) (*history.Deployment, error)
}

// EventHub is the event hub as seen by the server: it publishes webhook
// decisions and streams everything to /events.
type EventHub interface {
	events.Publisher
	Subscribe() (<-chan events.Event, func())
	SnapshotSince(lastID int64) []events.Event
}

// Response is the JSON body of every webhook answer.
type Response struct {
	Status       string `json:"status"`
	Message      string `json:"message"`
	DeploymentID string `json:"deployment_id,omitempty"`
}

const (
	StatusSuccess = "success"
	StatusIgnored = "ignored"
	StatusError   = "error"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string  `json:"status"`
	Uptime float64 `json:"uptime"`
}

// ErrorResponse is the JSON body for routing and API errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
)
