package scheduler

import (
	"context"
	"time"
)

//go:generate mockgen -destination=mocks/mock_history.go -package=mocks github.com/mattjoyce/pushdeploy/internal/scheduler HistoryService

// HistoryService is the part of the history store the scheduler maintains.
type HistoryService interface {
	MarkInterrupted(ctx context.Context) (int64, error)
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}
