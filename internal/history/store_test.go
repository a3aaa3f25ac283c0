package history

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/pushdeploy/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "pushdeploy.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func sampleBegin() BeginRequest {
	return BeginRequest{
		DeliveryID:    "72d3162e-cc78-11e3-81ab-4c9367dc0958",
		Ref:           "refs/heads/main",
		CommitID:      "abc123",
		CommitMessage: "fix",
		Pusher:        "alice",
		Script:        "/opt/app/deploy.sh",
		ScriptHash:    "blake3:deadbeef",
	}
}

func TestStore_BeginFinishGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.Begin(ctx, sampleBegin())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	d, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, d.Status)
	assert.Equal(t, "abc123", d.CommitID)
	assert.Equal(t, "alice", d.Pusher)
	assert.Nil(t, d.CompletedAt)
	assert.Nil(t, d.ExitCode)
	assert.WithinDuration(t, time.Now(), d.StartedAt, time.Minute)

	code := 0
	require.NoError(t, s.Finish(ctx, id, Outcome{
		Status:   StatusSucceeded,
		ExitCode: &code,
		Stdout:   "deployed\n",
		Duration: 1500 * time.Millisecond,
	}))

	d, err = s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, d.Status)
	require.NotNil(t, d.ExitCode)
	assert.Equal(t, 0, *d.ExitCode)
	assert.Equal(t, "deployed\n", d.Stdout)
	assert.Empty(t, d.Stderr)
	require.NotNil(t, d.CompletedAt)
	require.NotNil(t, d.DurationMS)
	assert.Equal(t, int64(1500), *d.DurationMS)

	// A finished deployment cannot be finished again.
	err = s.Finish(ctx, id, Outcome{Status: StatusFailed})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_FinishValidation(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.Finish(context.Background(), "", Outcome{Status: StatusFailed}))
	assert.Error(t, s.Finish(context.Background(), "x", Outcome{Status: StatusRunning}))
}

func TestStore_BeginValidation(t *testing.T) {
	s := newTestStore(t)
	req := sampleBegin()
	req.Ref = ""
	_, err := s.Begin(context.Background(), req)
	assert.Error(t, err)
}

func TestStore_GetUnknown(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_OutputCapped(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.Begin(ctx, sampleBegin())
	require.NoError(t, err)
	code := 1
	require.NoError(t, s.Finish(ctx, id, Outcome{
		Status:   StatusFailed,
		ExitCode: &code,
		Stderr:   strings.Repeat("e", maxOutputBytes+100),
		Error:    "exit status 1",
	}))

	d, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Len(t, d.Stderr, maxOutputBytes)
	assert.True(t, d.OutputTruncated)
	assert.Equal(t, "exit status 1", d.Error)
}

func TestStore_RecentNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := s.Begin(ctx, sampleBegin())
		require.NoError(t, err)
		ids = append(ids, id)
		time.Sleep(2 * time.Millisecond)
	}

	got, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ids[2], got[0].ID)
	assert.Equal(t, ids[1], got[1].ID)
}

func TestStore_MarkInterrupted(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	running, err := s.Begin(ctx, sampleBegin())
	require.NoError(t, err)
	done, err := s.Begin(ctx, sampleBegin())
	require.NoError(t, err)
	require.NoError(t, s.Finish(ctx, done, Outcome{Status: StatusSucceeded}))

	n, err := s.MarkInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	d, err := s.Get(ctx, running)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, d.Status)
	assert.Equal(t, "interrupted", d.Error)

	d, err = s.Get(ctx, done)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, d.Status)
}

func TestStore_Prune(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	old, err := s.Begin(ctx, sampleBegin())
	require.NoError(t, err)
	require.NoError(t, s.Finish(ctx, old, Outcome{Status: StatusSucceeded}))
	_, err = s.db.ExecContext(ctx, `UPDATE deployments SET started_at = ? WHERE id = ?;`,
		time.Now().UTC().Add(-48*time.Hour).Format(timeFormat), old)
	require.NoError(t, err)

	fresh, err := s.Begin(ctx, sampleBegin())
	require.NoError(t, err)

	n, err := s.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.Get(ctx, old)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, fresh)
	assert.NoError(t, err)

	n, err = s.Prune(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}
