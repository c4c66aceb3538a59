package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"focusgate/internal/proof"
	"focusgate/internal/session"
	"focusgate/internal/task"
	logx "focusgate/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "./focusgate.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- tasks ----

const taskCols = `id, owner_id, title, target_apps, strictness, proof_methods,
	start_at, end_at, duration_minutes, status, created_at, updated_at`

func (s *sqliteStore) CreateTask(ctx context.Context, t *task.Task) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(`+taskCols+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.OwnerID, t.Title, jsonStrings(t.TargetApps), string(t.Strictness), jsonStrings(t.ProofMethods),
		t.Start.UnixMilli(), t.End.UnixMilli(), t.DurationMinutes, string(t.Status),
		t.CreatedAt.UnixMilli(), t.UpdatedAt.UnixMilli(),
	)
	return wrapErr(err)
}

func (s *sqliteStore) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

func (s *sqliteStore) ListTasks(ctx context.Context, ownerID string) ([]*task.Task, error) {
	return s.queryTasks(ctx, `SELECT `+taskCols+` FROM tasks WHERE owner_id = ? ORDER BY start_at`, ownerID)
}

func (s *sqliteStore) ListTasksDueToStart(ctx context.Context, now time.Time) ([]*task.Task, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskCols+` FROM tasks WHERE status = ? AND start_at <= ? ORDER BY start_at`,
		string(task.StatusPending), now.UnixMilli())
}

func (s *sqliteStore) ListTasksDueToStop(ctx context.Context, now time.Time) ([]*task.Task, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskCols+` FROM tasks WHERE status = ? AND end_at <= ? ORDER BY end_at`,
		string(task.StatusActive), now.UnixMilli())
}

func (s *sqliteStore) queryTasks(ctx context.Context, q string, args ...any) ([]*task.Task, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, wrapErr(rows.Err())
}

func (s *sqliteStore) UpdateTaskPending(ctx context.Context, t *task.Task) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET title=?, target_apps=?, strictness=?, proof_methods=?,
		 start_at=?, end_at=?, duration_minutes=?, updated_at=?
		 WHERE id = ? AND status = ?`,
		t.Title, jsonStrings(t.TargetApps), string(t.Strictness), jsonStrings(t.ProofMethods),
		t.Start.UnixMilli(), t.End.UnixMilli(), t.DurationMinutes, time.Now().UTC().UnixMilli(),
		t.ID, string(task.StatusPending),
	)
	return oneRow(res, err)
}

func (s *sqliteStore) UpdateTaskStatus(ctx context.Context, id string, expect, next task.Status, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(next), at.UnixMilli(), id, string(expect),
	)
	return oneRow(res, err)
}

func (s *sqliteStore) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return wrapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) CountTasks(ctx context.Context, ownerID string) (int, int, error) {
	var total, completed int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(status = ?), 0) FROM tasks WHERE owner_id = ?`,
		string(task.StatusCompleted), ownerID,
	).Scan(&total, &completed)
	return total, completed, wrapErr(err)
}

// ---- sessions ----

const sessionCols = `id, task_id, owner_id, device_id, status, actual_strictness,
	warnings, started_at, ended_at, unlocked_at`

func (s *sqliteStore) CreateSession(ctx context.Context, sess *session.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(`+sessionCols+`) VALUES(?,?,?,?,?,?,?,?,?,?)`,
		sess.ID, sess.TaskID, sess.OwnerID, sess.DeviceID, string(sess.Status),
		nullStr(string(sess.ActualStrictness)), jsonStrings(sess.Warnings),
		sess.StartedAt.UnixMilli(), nullTime(sess.EndedAt), nullTime(sess.UnlockedAt),
	)
	// The partial unique index on open sessions rejects a second insert for
	// the same task.
	if isUniqueViolation(err) {
		return ErrSessionExists
	}
	return wrapErr(err)
}

func (s *sqliteStore) GetSession(ctx context.Context, id string) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

func (s *sqliteStore) OpenSessionForTask(ctx context.Context, taskID string) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionCols+` FROM sessions WHERE task_id = ? AND status NOT IN (?,?) LIMIT 1`,
		taskID, string(session.StatusUnlocked), string(session.StatusFailed),
	)
	return scanSession(row)
}

func (s *sqliteStore) UpdateSessionStatus(ctx context.Context, id string, expect, next session.Status, at time.Time) (bool, error) {
	q := `UPDATE sessions SET status = ? WHERE id = ? AND status = ?`
	args := []any{string(next), id, string(expect)}
	switch next {
	case session.StatusUnlocked:
		q = `UPDATE sessions SET status = ?, unlocked_at = ?, ended_at = ? WHERE id = ? AND status = ?`
		args = []any{string(next), at.UnixMilli(), at.UnixMilli(), id, string(expect)}
	case session.StatusFailed:
		q = `UPDATE sessions SET status = ?, ended_at = ? WHERE id = ? AND status = ?`
		args = []any{string(next), at.UnixMilli(), id, string(expect)}
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	return oneRow(res, err)
}

func (s *sqliteStore) SetSessionEnforcement(ctx context.Context, id string, level task.Strictness, warnings []string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET actual_strictness = ?, warnings = ? WHERE id = ?`,
		string(level), jsonStrings(warnings), id,
	)
	if err != nil {
		return wrapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- proofs ----

const proofCols = `id, session_id, method, accepted, score, artifact_ref, raw_result, created_at`

func (s *sqliteStore) CreateProof(ctx context.Context, p *proof.Proof) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO proofs(`+proofCols+`) VALUES(?,?,?,?,?,?,?,?)`,
		p.ID, p.SessionID, string(p.Method), boolInt(p.Accepted), p.Score,
		nullStr(p.ArtifactRef), nullStr(p.RawResult), p.CreatedAt.UnixMilli(),
	)
	return wrapErr(err)
}

func (s *sqliteStore) ListProofs(ctx context.Context, sessionID string) ([]*proof.Proof, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+proofCols+` FROM proofs WHERE session_id = ? ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []*proof.Proof
	for rows.Next() {
		p, err := scanProof(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, wrapErr(rows.Err())
}

func (s *sqliteStore) CreateProofAndUnlockSession(ctx context.Context, p *proof.Proof, sessionID string, at time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, wrapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET status = ?, unlocked_at = ?, ended_at = ? WHERE id = ? AND status = ?`,
		string(session.StatusUnlocked), at.UnixMilli(), at.UnixMilli(),
		sessionID, string(session.StatusProofRequired),
	)
	if err != nil {
		return false, wrapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapErr(err)
	}
	if n == 0 {
		// Session already left proof_required; nothing is written.
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO proofs(`+proofCols+`) VALUES(?,?,?,?,?,?,?,?)`,
		p.ID, p.SessionID, string(p.Method), boolInt(p.Accepted), p.Score,
		nullStr(p.ArtifactRef), nullStr(p.RawResult), p.CreatedAt.UnixMilli(),
	); err != nil {
		return false, wrapErr(err)
	}
	if err := tx.Commit(); err != nil {
		return false, wrapErr(err)
	}
	return true, nil
}

// ---- push tokens ----

func (s *sqliteStore) PutPushToken(ctx context.Context, ownerID, token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO push_tokens(owner_id, token, created_at) VALUES(?,?,?)
		 ON CONFLICT(owner_id, token) DO NOTHING`,
		ownerID, token, time.Now().UTC().UnixMilli(),
	)
	return wrapErr(err)
}

func (s *sqliteStore) DeletePushToken(ctx context.Context, ownerID, token string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM push_tokens WHERE owner_id = ? AND token = ?`, ownerID, token)
	return wrapErr(err)
}

func (s *sqliteStore) ListPushTokens(ctx context.Context, ownerID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT token FROM push_tokens WHERE owner_id = ? ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var tok string
		if err := rows.Scan(&tok); err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, tok)
	}
	return out, wrapErr(rows.Err())
}

// ---- scan helpers ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (*task.Task, error) {
	var (
		t                      task.Task
		apps, methods          string
		strictness, status     string
		startMS, endMS         int64
		createdMS, updatedMS   int64
	)
	err := r.Scan(&t.ID, &t.OwnerID, &t.Title, &apps, &strictness, &methods,
		&startMS, &endMS, &t.DurationMinutes, &status, &createdMS, &updatedMS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapErr(err)
	}
	t.TargetApps = fromJSONStrings(apps)
	t.ProofMethods = fromJSONStrings(methods)
	t.Strictness = task.Strictness(strictness)
	t.Status = task.Status(status)
	t.Start = time.UnixMilli(startMS).UTC()
	t.End = time.UnixMilli(endMS).UTC()
	t.CreatedAt = time.UnixMilli(createdMS).UTC()
	t.UpdatedAt = time.UnixMilli(updatedMS).UTC()
	return &t, nil
}

func scanSession(r rowScanner) (*session.Session, error) {
	var (
		sess                 session.Session
		status, warnings     string
		actual               sql.NullString
		startedMS            int64
		endedMS, unlockedMS  sql.NullInt64
	)
	err := r.Scan(&sess.ID, &sess.TaskID, &sess.OwnerID, &sess.DeviceID, &status,
		&actual, &warnings, &startedMS, &endedMS, &unlockedMS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapErr(err)
	}
	sess.Status = session.Status(status)
	sess.ActualStrictness = task.Strictness(actual.String)
	sess.Warnings = fromJSONStrings(warnings)
	sess.StartedAt = time.UnixMilli(startedMS).UTC()
	sess.EndedAt = timePtr(endedMS)
	sess.UnlockedAt = timePtr(unlockedMS)
	return &sess, nil
}

func scanProof(r rowScanner) (*proof.Proof, error) {
	var (
		p                    proof.Proof
		method               string
		accepted             int
		artifact, rawResult  sql.NullString
		createdMS            int64
	)
	err := r.Scan(&p.ID, &p.SessionID, &method, &accepted, &p.Score,
		&artifact, &rawResult, &createdMS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapErr(err)
	}
	p.Method = proof.Method(method)
	p.Accepted = accepted != 0
	p.ArtifactRef = artifact.String
	p.RawResult = rawResult.String
	p.CreatedAt = time.UnixMilli(createdMS).UTC()
	return &p, nil
}

// ---- small conversions ----

func oneRow(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, wrapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapErr(err)
	}
	return n > 0, nil
}

func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func jsonStrings(v []string) string {
	if len(v) == 0 {
		return "[]"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func fromJSONStrings(s string) []string {
	if s == "" || s == "[]" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
