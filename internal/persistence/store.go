// Package persistence stores session snapshots in SQLite: one
// overwritable save per session and any number of checkpoints.
package persistence

import (
	"bytes"
	"compress/gzip"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/PranavPipariya/Godel/internal/session"
)

// Supported database/sql driver names.
const (
	// DriverCGO is github.com/mattn/go-sqlite3.
	DriverCGO = "sqlite3"
	// DriverPure is modernc.org/sqlite.
	DriverPure = "sqlite"
)

// FileName is the database file created inside a data directory.
const FileName = "sessions.db"

// timeLayout sorts lexically in the same order as the times it encodes.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned by deletes that match nothing.
var ErrNotFound = errors.New("not found")

// Summary describes a save without its messages.
type Summary struct {
	SessionID    string
	TurnCount    int
	MessageCount int
	ByteSize     int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CheckpointInfo describes a checkpoint without its messages.
type CheckpointInfo struct {
	ID           string
	SessionID    string
	TurnCount    int
	MessageCount int
	ByteSize     int64
	CreatedAt    time.Time
}

// Store handles snapshot persistence. All methods are safe for
// concurrent use.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenDir opens (creating if needed) the database in dataDir.
func OpenDir(driver, dataDir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return Open(driver, filepath.Join(dataDir, FileName), logger)
}

// Open opens the database at path with the named driver. An empty
// driver selects DriverCGO.
func Open(driver, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var dsn string
	switch driver {
	case "", DriverCGO:
		driver = DriverCGO
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	case DriverPure:
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	default:
		return nil, fmt.Errorf("unknown sqlite driver %q (want %s or %s)", driver, DriverCGO, DriverPure)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite serializes writers; one connection also keeps :memory:
	// databases from splitting per connection.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Debug("session store opened", "driver", driver, "path", path)
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			session_id    TEXT PRIMARY KEY,
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL,
			turn_count    INTEGER NOT NULL,
			message_count INTEGER NOT NULL,
			snapshot_gz   BLOB NOT NULL,
			byte_size     INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_updated
			ON sessions(updated_at DESC);

		CREATE TABLE IF NOT EXISTS checkpoints (
			id            TEXT PRIMARY KEY,
			session_id    TEXT NOT NULL,
			created_at    TEXT NOT NULL,
			turn_count    INTEGER NOT NULL,
			message_count INTEGER NOT NULL,
			snapshot_gz   BLOB NOT NULL,
			byte_size     INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_checkpoints_session
			ON checkpoints(session_id, created_at DESC);
	`)
	return err
}

// Save writes snap as the save for its session, replacing any earlier
// save. Checkpoints are untouched.
func (s *Store) Save(snap *session.Snapshot) error {
	if err := validate(snap); err != nil {
		return err
	}
	compressed, err := encode(snap)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO sessions (session_id, created_at, updated_at, turn_count, message_count, snapshot_gz, byte_size)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			created_at    = excluded.created_at,
			updated_at    = excluded.updated_at,
			turn_count    = excluded.turn_count,
			message_count = excluded.message_count,
			snapshot_gz   = excluded.snapshot_gz,
			byte_size     = excluded.byte_size
	`, snap.SessionID, formatTime(snap.CreatedAt), formatTime(snap.UpdatedAt),
		snap.TurnCount, len(snap.Messages), compressed, len(compressed))
	if err != nil {
		return fmt.Errorf("save %s: %w", snap.SessionID, err)
	}

	s.logger.Debug("session saved",
		"session_id", snap.SessionID,
		"messages", len(snap.Messages),
		"bytes", len(compressed),
	)
	return nil
}

// Checkpoint stores snap under a new identifier and returns it.
func (s *Store) Checkpoint(snap *session.Snapshot) (string, error) {
	if err := validate(snap); err != nil {
		return "", err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	compressed, err := encode(snap)
	if err != nil {
		return "", err
	}

	_, err = s.db.Exec(`
		INSERT INTO checkpoints (id, session_id, created_at, turn_count, message_count, snapshot_gz, byte_size)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id.String(), snap.SessionID, formatTime(time.Now()),
		snap.TurnCount, len(snap.Messages), compressed, len(compressed))
	if err != nil {
		return "", fmt.Errorf("insert checkpoint: %w", err)
	}

	s.logger.Info("checkpoint created",
		"session_id", snap.SessionID,
		"checkpoint_id", id.String(),
		"messages", len(snap.Messages),
	)
	return id.String(), nil
}

// Load returns the save for sessionID, or nil if there is none.
func (s *Store) Load(sessionID string) (*session.Snapshot, error) {
	var blob []byte
	err := s.db.QueryRow(`SELECT snapshot_gz FROM sessions WHERE session_id = ?`, sessionID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", sessionID, err)
	}
	return decode(blob)
}

// LoadCheckpoint returns the checkpoint with id, or nil if there is
// none.
func (s *Store) LoadCheckpoint(id string) (*session.Snapshot, error) {
	var blob []byte
	err := s.db.QueryRow(`SELECT snapshot_gz FROM checkpoints WHERE id = ?`, id).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", id, err)
	}
	return decode(blob)
}

// ListSessions returns every save, most recently updated first.
func (s *Store) ListSessions() ([]Summary, error) {
	rows, err := s.db.Query(`
		SELECT session_id, turn_count, message_count, byte_size, created_at, updated_at
		FROM sessions
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		var created, updated string
		if err := rows.Scan(&sum.SessionID, &sum.TurnCount, &sum.MessageCount, &sum.ByteSize, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sum.CreatedAt = parseTime(created)
		sum.UpdatedAt = parseTime(updated)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// ListCheckpoints returns the checkpoints of sessionID, newest first.
// An empty sessionID lists every checkpoint.
func (s *Store) ListCheckpoints(sessionID string) ([]CheckpointInfo, error) {
	query := `
		SELECT id, session_id, turn_count, message_count, byte_size, created_at
		FROM checkpoints`
	var args []any
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	var out []CheckpointInfo
	for rows.Next() {
		var cp CheckpointInfo
		var created string
		if err := rows.Scan(&cp.ID, &cp.SessionID, &cp.TurnCount, &cp.MessageCount, &cp.ByteSize, &created); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		cp.CreatedAt = parseTime(created)
		out = append(out, cp)
	}
	return out, rows.Err()
}

// DeleteSession removes the save for sessionID and all of its
// checkpoints. It returns ErrNotFound if neither existed.
func (s *Store) DeleteSession(sessionID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var affected int64
	for _, q := range []string{
		`DELETE FROM sessions WHERE session_id = ?`,
		`DELETE FROM checkpoints WHERE session_id = ?`,
	} {
		res, err := tx.Exec(q, sessionID)
		if err != nil {
			return fmt.Errorf("delete %s: %w", sessionID, err)
		}
		n, _ := res.RowsAffected()
		affected += n
	}
	if affected == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return tx.Commit()
}

// PruneCheckpoints deletes all but the newest keep checkpoints of
// sessionID and returns how many were removed.
func (s *Store) PruneCheckpoints(sessionID string, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.Exec(`
		DELETE FROM checkpoints
		WHERE session_id = ? AND id NOT IN (
			SELECT id FROM checkpoints
			WHERE session_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		)
	`, sessionID, sessionID, keep)
	if err != nil {
		return 0, fmt.Errorf("prune checkpoints: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("checkpoints pruned", "session_id", sessionID, "deleted", n, "kept", keep)
	}
	return int(n), nil
}

func validate(snap *session.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("nil snapshot")
	}
	if snap.SessionID == "" {
		return fmt.Errorf("snapshot has no session id")
	}
	return nil
}

func encode(snap *session.Snapshot) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("close gzip: %w", err)
	}
	return buf.Bytes(), nil
}

func decode(blob []byte) (*session.Snapshot, error) {
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	defer gz.Close()

	data, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	var snap session.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}
