package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/agent-7132/hybridsched/internal/model"

	_ "modernc.org/sqlite"
)

const createSessionsTable = `
CREATE TABLE IF NOT EXISTS sessions (
    id           TEXT PRIMARY KEY,
    status       TEXT NOT NULL,
    size         INTEGER NOT NULL,
    precision    TEXT NOT NULL,
    depth        INTEGER NOT NULL,
    memory_mb    INTEGER NOT NULL,
    shard_count  INTEGER NOT NULL DEFAULT 0,
    received     INTEGER NOT NULL DEFAULT 0,
    error        TEXT NOT NULL DEFAULT '',
    duration_ms  INTEGER,
    created_at   DATETIME NOT NULL,
    finished_at  DATETIME,
    delivered_at DATETIME
)`

const createShardResultsTable = `
CREATE TABLE IF NOT EXISTS shard_results (
    seq         INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id  TEXT NOT NULL REFERENCES sessions(id),
    shard_id    INTEGER NOT NULL,
    backend     TEXT NOT NULL,
    outcome     TEXT NOT NULL,
    error       TEXT NOT NULL DEFAULT '',
    attempts    INTEGER NOT NULL DEFAULT 0,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    created_at  DATETIME NOT NULL
)`

const createShardResultsIndex = `
CREATE INDEX IF NOT EXISTS idx_shard_results_session ON shard_results(session_id, shard_id)`

const sessionColumns = `id, status, size, precision, depth, memory_mb, shard_count,
	received, error, duration_ms, created_at, finished_at, delivered_at`

// ErrNotFound is returned when a session is not found.
var ErrNotFound = errors.New("session not found")

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []string{createSessionsTable, createShardResultsTable, createShardResultsIndex} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (*model.Session, error) {
	sess := &model.Session{}
	var duration sql.NullInt64
	var finished, delivered sql.NullTime
	if err := r.Scan(
		&sess.ID, &sess.Status, &sess.Size, &sess.Precision, &sess.Depth, &sess.MemoryMB,
		&sess.ShardCount, &sess.Received, &sess.Error, &duration,
		&sess.CreatedAt, &finished, &delivered,
	); err != nil {
		return nil, err
	}
	if duration.Valid {
		d := int(duration.Int64)
		sess.DurationMS = &d
	}
	if finished.Valid {
		sess.FinishedAt = &finished.Time
	}
	if delivered.Valid {
		sess.DeliveredAt = &delivered.Time
	}
	return sess, nil
}

// CreateSession inserts a new session record.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *model.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (
			id, status, size, precision, depth, memory_mb, shard_count,
			received, error, duration_ms, created_at, finished_at, delivered_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Status, sess.Size, string(sess.Precision), sess.Depth, sess.MemoryMB, sess.ShardCount,
		sess.Received, sess.Error, sess.DurationMS, sess.CreatedAt, sess.FinishedAt, sess.DeliveredAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// ListSessions returns a paginated list of sessions ordered by created_at DESC,
// along with the total count of all sessions.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit, offset int) ([]*model.Session, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate sessions: %w", err)
	}

	return sessions, total, nil
}

// SetShardCount records the announced shard count of an open session.
func (s *SQLiteStore) SetShardCount(ctx context.Context, id string, shards int) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET shard_count = ? WHERE id = ?", shards, id)
	if err != nil {
		return fmt.Errorf("set shard count: %w", err)
	}
	return requireRow(result)
}

// UpdateSessionStatus moves a session to status, validating the transition.
// Leaving the open state stamps finished_at and duration_ms; delivery stamps
// delivered_at. errMsg is stored when non-empty.
func (s *SQLiteStore) UpdateSessionStatus(ctx context.Context, id, status, errMsg string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current string
	var created time.Time
	err = tx.QueryRowContext(ctx, "SELECT status, created_at FROM sessions WHERE id = ?", id).Scan(&current, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read session status: %w", err)
	}
	if err := model.CheckTransition(current, status); err != nil {
		return err
	}

	now := time.Now().UTC()
	if current == model.StatusOpen {
		duration := int(now.Sub(created).Milliseconds())
		_, err = tx.ExecContext(ctx,
			"UPDATE sessions SET status = ?, error = ?, finished_at = ?, duration_ms = ? WHERE id = ?",
			status, errMsg, now, duration, id)
	} else {
		_, err = tx.ExecContext(ctx,
			"UPDATE sessions SET status = ?, delivered_at = ? WHERE id = ?",
			status, now, id)
	}
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	return tx.Commit()
}

// InsertShardRecord appends a shard outcome. Accepted shards also advance the
// session's received counter.
func (s *SQLiteStore) InsertShardRecord(ctx context.Context, r *model.ShardRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO shard_results (
			session_id, shard_id, backend, outcome, error, attempts, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SessionID, r.ShardID, r.Backend, r.Outcome, r.Error, r.Attempts, r.DurationMS, r.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert shard record: %w", err)
	}

	if r.Outcome == model.OutcomeAccepted {
		result, err := tx.ExecContext(ctx,
			"UPDATE sessions SET received = received + 1 WHERE id = ?", r.SessionID)
		if err != nil {
			return fmt.Errorf("update received: %w", err)
		}
		if err := requireRow(result); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListShardRecords returns a session's shard outcomes in arrival order.
func (s *SQLiteStore) ListShardRecords(ctx context.Context, sessionID string) ([]model.ShardRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, shard_id, backend, outcome, error, attempts, duration_ms, created_at
		FROM shard_results WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list shard records: %w", err)
	}
	defer rows.Close()

	records := []model.ShardRecord{}
	for rows.Next() {
		var r model.ShardRecord
		if err := rows.Scan(&r.SessionID, &r.ShardID, &r.Backend, &r.Outcome, &r.Error,
			&r.Attempts, &r.DurationMS, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan shard record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shard records: %w", err)
	}
	return records, nil
}

// GetSessionStats aggregates session counts by status, accepted shards by
// backend and the mean duration of finished sessions.
func (s *SQLiteStore) GetSessionStats(ctx context.Context) (*SessionStats, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	stats := &SessionStats{
		CountByStatus:  make(map[string]int),
		CountByBackend: make(map[string]int),
	}

	var avg sql.NullFloat64
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*), AVG(duration_ms) FROM sessions").Scan(&stats.Total, &avg); err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}
	if avg.Valid {
		stats.AvgDurationMS = avg.Float64
	}

	if err := countInto(ctx, tx, stats.CountByStatus,
		"SELECT status, COUNT(*) FROM sessions GROUP BY status"); err != nil {
		return nil, err
	}
	if err := countInto(ctx, tx, stats.CountByBackend,
		"SELECT backend, COUNT(*) FROM shard_results WHERE outcome = ? GROUP BY backend",
		model.OutcomeAccepted); err != nil {
		return nil, err
	}
	return stats, nil
}

func countInto(ctx context.Context, tx *sql.Tx, dst map[string]int, query string, args ...any) error {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("group counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan group count: %w", err)
		}
		dst[key] = n
	}
	return rows.Err()
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
