package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonathan/reel-forge/internal/fault"
	"github.com/jonathan/reel-forge/internal/stage"

	// registers the "sqlite" database/sql driver
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT NOT NULL,
	stage_id      TEXT NOT NULL,
	stage_index   INTEGER NOT NULL DEFAULT 0,
	status        TEXT NOT NULL,
	data          BLOB NOT NULL,
	attempts      INTEGER NOT NULL,
	completed_at  TEXT NOT NULL,
	stage_version INTEGER NOT NULL DEFAULT 0,
	error_kind    TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	degraded      INTEGER NOT NULL DEFAULT 0,
	checksum      TEXT NOT NULL DEFAULT '',
	UNIQUE (run_id, stage_id)
);`

// sqliteTime is fixed width so completed_at reads back unambiguously.
const sqliteTime = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore keeps entries in a single-file SQLite database. Each Save is
// one INSERT, which SQLite commits atomically.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single writer avoids SQLITE_BUSY between pool workers
	conn.SetMaxOpenConns(1)
	if _, err := conn.ExecContext(ctx, sqliteSchema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	// databases created before stage_index existed
	if _, err := conn.ExecContext(ctx, `ALTER TABLE checkpoints ADD COLUMN stage_index INTEGER NOT NULL DEFAULT 0`); err != nil &&
		!strings.Contains(err.Error(), "duplicate column") {
		_ = conn.Close()
		return nil, fmt.Errorf("migrate sqlite schema: %w", err)
	}
	return &SQLiteStore{db: conn}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoints
		     (run_id, stage_id, stage_index, status, data, attempts, completed_at, stage_version,
		      error_kind, error_message, degraded, checksum)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, stage_id) DO NOTHING`,
		e.RunID, e.StageID, e.Index, string(e.Status), []byte(e.Data), e.Attempts,
		e.CompletedAt.UTC().Format(sqliteTime), e.StageVersion,
		string(e.ErrorKind), e.ErrorMessage, e.Degraded, e.Checksum,
	)
	if err != nil {
		return fmt.Errorf("save checkpoint %s/%s: %w", e.RunID, e.StageID, err)
	}
	return nil
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, runID, stageID string) (Entry, error) {
	var (
		e         Entry
		status    string
		data      []byte
		completed string
		kind      string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, stage_id, stage_index, status, data, attempts, completed_at, stage_version,
		        error_kind, error_message, degraded, checksum
		 FROM checkpoints WHERE run_id = ? AND stage_id = ?`,
		runID, stageID,
	).Scan(&e.RunID, &e.StageID, &e.Index, &status, &data, &e.Attempts, &completed, &e.StageVersion,
		&kind, &e.ErrorMessage, &e.Degraded, &e.Checksum)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("load checkpoint: %w", err)
	}
	at, err := time.Parse(sqliteTime, completed)
	if err != nil {
		return Entry{}, fmt.Errorf("checkpoint %s/%s: bad completed_at: %w", runID, stageID, err)
	}
	e.Status = stage.Status(status)
	e.Data = json.RawMessage(data)
	e.CompletedAt = at
	e.ErrorKind = fault.Kind(kind)
	return e, nil
}

// ListCompleted implements Store.
func (s *SQLiteStore) ListCompleted(ctx context.Context, runID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stage_id FROM checkpoints WHERE run_id = ? ORDER BY stage_index, seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, runID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("delete checkpoints: %w", err)
	}
	return nil
}
