package scheduler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/pushdeploy/internal/config"
	"github.com/mattjoyce/pushdeploy/internal/events"
	"github.com/mattjoyce/pushdeploy/internal/scheduler/mocks"
)

// TestLogBuffer captures log output from concurrent goroutines.
type TestLogBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *TestLogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *TestLogBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// NewTestSlogger creates a new *slog.Logger that writes to a TestLogBuffer.
func NewTestSlogger() (*slog.Logger, *TestLogBuffer) {
	buf := &TestLogBuffer{}
	handler := slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(handler), buf
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.State.Retention = 48 * time.Hour
	cfg.State.PruneInterval = time.Hour
	return cfg
}

func TestRecoverInterrupted(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockHistory := mocks.NewMockHistoryService(ctrl)
	slogger, logBuf := NewTestSlogger()
	s := New(testConfig(), mockHistory, nil, slogger)
	ctx := context.Background()

	t.Run("None interrupted", func(t *testing.T) {
		mockHistory.EXPECT().MarkInterrupted(ctx).Return(int64(0), nil)
		assert.NoError(t, s.recoverInterrupted(ctx))
		assert.Contains(t, logBuf.String(), "No interrupted deployments found")
	})

	t.Run("Some interrupted", func(t *testing.T) {
		mockHistory.EXPECT().MarkInterrupted(ctx).Return(int64(2), nil)
		assert.NoError(t, s.recoverInterrupted(ctx))
		assert.Contains(t, logBuf.String(), "Marked interrupted deployments as failed")
	})

	t.Run("Store error", func(t *testing.T) {
		mockHistory.EXPECT().MarkInterrupted(ctx).Return(int64(0), errors.New("db error"))
		err := s.recoverInterrupted(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to mark interrupted deployments: db error")
	})
}

func TestTickPublishesPrunedCount(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockHistory := mocks.NewMockHistoryService(ctrl)
	hub := events.NewHub(8)
	slogger, _ := NewTestSlogger()
	s := New(testConfig(), mockHistory, hub, slogger)
	ctx := context.Background()

	mockHistory.EXPECT().Prune(ctx, 48*time.Hour).Return(int64(0), nil)
	s.tick(ctx)
	assert.Empty(t, hub.SnapshotSince(0))

	mockHistory.EXPECT().Prune(ctx, 48*time.Hour).Return(int64(3), nil)
	s.tick(ctx)
	snap := hub.SnapshotSince(0)
	require.Len(t, snap, 1)
	assert.Equal(t, events.HistoryPruned, snap[0].Type)
	assert.JSONEq(t, `{"count":3,"retention":"48h0m0s"}`, string(snap[0].Data))
}

func TestTickLogsPruneError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockHistory := mocks.NewMockHistoryService(ctrl)
	slogger, logBuf := NewTestSlogger()
	s := New(testConfig(), mockHistory, nil, slogger)

	mockHistory.EXPECT().Prune(gomock.Any(), gomock.Any()).Return(int64(0), errors.New("disk full"))
	s.tick(context.Background())
	assert.Contains(t, logBuf.String(), "Failed to prune deployment history")
}

func TestStartRecoversThenPrunes(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockHistory := mocks.NewMockHistoryService(ctrl)
	slogger, _ := NewTestSlogger()
	s := New(testConfig(), mockHistory, nil, slogger)

	pruned := make(chan struct{})
	gomock.InOrder(
		mockHistory.EXPECT().MarkInterrupted(gomock.Any()).Return(int64(1), nil),
		mockHistory.EXPECT().Prune(gomock.Any(), 48*time.Hour).DoAndReturn(
			func(context.Context, time.Duration) (int64, error) {
				close(pruned)
				return 0, nil
			}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))

	select {
	case <-pruned:
	case <-time.After(2 * time.Second):
		t.Fatal("initial prune did not run")
	}
	s.Stop()
	s.Stop()
}

func TestStartFailsWhenRecoveryFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockHistory := mocks.NewMockHistoryService(ctrl)
	slogger, _ := NewTestSlogger()
	s := New(testConfig(), mockHistory, nil, slogger)

	mockHistory.EXPECT().MarkInterrupted(gomock.Any()).Return(int64(0), errors.New("locked"))
	assert.Error(t, s.Start(context.Background()))
}
