package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const maxOutputBytes = 64 * 1024

// timeFormat is fixed width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Begin inserts a running deployment and returns its id.
func (s *Store) Begin(ctx context.Context, req BeginRequest) (string, error) {
	if req.Ref == "" {
		return "", fmt.Errorf("ref is empty")
	}
	if req.Script == "" {
		return "", fmt.Errorf("script is empty")
	}

	id := uuid.NewString()
	now := time.Now().UTC().Format(timeFormat)

	_, err := s.db.ExecContext(ctx, `
INSERT INTO deployments(
  id, delivery_id, ref, commit_id, commit_message, pusher, status, script, script_hash, started_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, id, nullIfEmpty(req.DeliveryID), req.Ref, nullIfEmpty(req.CommitID), nullIfEmpty(req.CommitMessage),
		nullIfEmpty(req.Pusher), StatusRunning, req.Script, nullIfEmpty(req.ScriptHash), now)
	if err != nil {
		return "", fmt.Errorf("insert deployment: %w", err)
	}
	return id, nil
}

// Finish marks a running deployment terminal.
func (s *Store) Finish(ctx context.Context, id string, out Outcome) error {
	if id == "" {
		return fmt.Errorf("deployment id is empty")
	}
	if out.Status != StatusSucceeded && out.Status != StatusFailed {
		return fmt.Errorf("invalid terminal status: %q", out.Status)
	}

	truncated := out.OutputTruncated || len(out.Stdout) > maxOutputBytes || len(out.Stderr) > maxOutputBytes
	completedAt := time.Now().UTC().Format(timeFormat)
	res, err := s.db.ExecContext(ctx, `
UPDATE deployments
SET status = ?, exit_code = ?, stdout = ?, stderr = ?, output_truncated = ?, error = ?, completed_at = ?, duration_ms = ?
WHERE id = ? AND status = ?;
`, out.Status, out.ExitCode, nullIfEmpty(capOutput(out.Stdout)), nullIfEmpty(capOutput(out.Stderr)), truncated,
		nullIfEmpty(out.Error), completedAt, out.Duration.Milliseconds(), id, StatusRunning)
	if err != nil {
		return fmt.Errorf("update deployment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update deployment: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish %s: %w", id, ErrNotFound)
	}
	return nil
}

// Get returns one deployment by id.
func (s *Store) Get(ctx context.Context, id string) (*Deployment, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?;`, id)
	d, err := scanDeployment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get deployment: %w", err)
	}
	return d, nil
}

// Recent returns up to limit deployments, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]*Deployment, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY started_at DESC, rowid DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	defer rows.Close()

	var out []*Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deployment: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// MarkInterrupted fails every deployment still marked running. Called at
// startup, when no deployment from this process can be in flight.
func (s *Store) MarkInterrupted(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE deployments
SET status = ?, error = ?, completed_at = ?
WHERE status = ?;
`, StatusFailed, "interrupted", time.Now().UTC().Format(timeFormat), StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("mark interrupted: %w", err)
	}
	return res.RowsAffected()
}

// Prune deletes finished deployments older than retention.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-retention).Format(timeFormat)
	res, err := s.db.ExecContext(ctx, `
DELETE FROM deployments
WHERE status != ? AND started_at < ?;
`, StatusRunning, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune deployments: %w", err)
	}
	return res.RowsAffected()
}

const selectColumns = `
SELECT id, delivery_id, ref, commit_id, commit_message, pusher, status, exit_code,
  stdout, stderr, output_truncated, error, script, script_hash, started_at, completed_at, duration_ms
FROM deployments`

type scanner interface {
	Scan(dest ...any) error
}

func scanDeployment(row scanner) (*Deployment, error) {
	var (
		d             Deployment
		deliveryID    sql.NullString
		commitID      sql.NullString
		commitMessage sql.NullString
		pusher        sql.NullString
		statusS       string
		exitCode      sql.NullInt64
		stdout        sql.NullString
		stderr        sql.NullString
		truncated     bool
		errS          sql.NullString
		scriptHash    sql.NullString
		startedAtS    string
		completedAtS  sql.NullString
		durationMS    sql.NullInt64
	)
	if err := row.Scan(
		&d.ID, &deliveryID, &d.Ref, &commitID, &commitMessage, &pusher, &statusS, &exitCode,
		&stdout, &stderr, &truncated, &errS, &d.Script, &scriptHash, &startedAtS, &completedAtS, &durationMS,
	); err != nil {
		return nil, err
	}

	d.Status = Status(statusS)
	d.DeliveryID = deliveryID.String
	d.CommitID = commitID.String
	d.CommitMessage = commitMessage.String
	d.Pusher = pusher.String
	d.Stdout = stdout.String
	d.Stderr = stderr.String
	d.OutputTruncated = truncated
	d.Error = errS.String
	d.ScriptHash = scriptHash.String
	if exitCode.Valid {
		c := int(exitCode.Int64)
		d.ExitCode = &c
	}
	if t, err := time.Parse(timeFormat, startedAtS); err == nil {
		d.StartedAt = t
	}
	if completedAtS.Valid {
		if t, err := time.Parse(timeFormat, completedAtS.String); err == nil {
			d.CompletedAt = &t
		}
	}
	if durationMS.Valid {
		ms := durationMS.Int64
		d.DurationMS = &ms
	}
	return &d, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func capOutput(s string) string {
	if len(s) > maxOutputBytes {
		return s[:maxOutputBytes]
	}
	return s
}
