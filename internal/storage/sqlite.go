package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/neurobot/internal/kb"
)

var _ SessionRepository = (*SQLiteSessionStore)(nil)

// SQLiteSessionStore implements SessionRepository in one SQLite database shared by all tenants;
// rows are keyed by the tenant data root.
type SQLiteSessionStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteSessionStore opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteSessionStore(dbPath string) (*SQLiteSessionStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" databases to a single instance.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteSessionStore{db: db, path: dbPath}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS stores (
		root TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL,
		last_updated TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		root TEXT NOT NULL,
		id TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		last_updated TIMESTAMP NOT NULL,
		unread INTEGER NOT NULL DEFAULT 0,
		potential_client INTEGER,
		ip_address TEXT NOT NULL DEFAULT '',
		kb_id TEXT NOT NULL DEFAULT '',
		kb_name TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (root, id)
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_root_updated ON sessions(root, last_updated);

	CREATE TABLE IF NOT EXISTS messages (
		root TEXT NOT NULL,
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		PRIMARY KEY (root, session_id, seq)
	);
	`
	_, err := db.Exec(schema)
	return err
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func rootKey(root string) string {
	return filepath.Clean(root)
}

func nullableBool(p *bool) any {
	if p == nil {
		return nil
	}
	return *p
}

func touchStore(ctx context.Context, q querier, root string) error {
	now := Now().Time
	_, err := q.ExecContext(ctx,
		`INSERT INTO stores (root, created_at, last_updated) VALUES (?, ?, ?)
		 ON CONFLICT(root) DO UPDATE SET last_updated = excluded.last_updated`,
		root, now, now,
	)
	return err
}

func insertMessages(ctx context.Context, q querier, root, id string, first int, msgs []Message) error {
	for i, m := range msgs {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO messages (root, session_id, seq, id, role, content, timestamp)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			root, id, first+i, m.ID, m.Role, m.Content, m.Timestamp.Time,
		); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}
	return nil
}

const sessionColumns = `id, created_at, last_updated, unread, potential_client, ip_address, kb_id, kb_name`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Record, error) {
	var (
		rec       Record
		created   time.Time
		updated   time.Time
		potential sql.NullBool
	)
	if err := row.Scan(&rec.SessionID, &created, &updated, &rec.Metadata.Unread, &potential,
		&rec.Metadata.IPAddress, &rec.Metadata.KBID, &rec.Metadata.KBName); err != nil {
		return nil, err
	}
	rec.CreatedAt = Time{created}
	rec.Metadata.LastUpdated = Time{updated}
	if potential.Valid {
		v := potential.Bool
		rec.Metadata.PotentialClient = &v
	}
	rec.Messages = []Message{}
	return &rec, nil
}

func loadRecord(ctx context.Context, q querier, root, id string) (*Record, error) {
	rec, err := scanSession(q.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE root = ? AND id = ?`, root, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx,
		`SELECT id, role, content, timestamp FROM messages
		 WHERE root = ? AND session_id = ? ORDER BY seq`, root, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			m  Message
			ts time.Time
		)
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &ts); err != nil {
			return nil, err
		}
		m.Timestamp = Time{ts}
		rec.Messages = append(rec.Messages, m)
	}
	rec.Metadata.TotalMessages = len(rec.Messages)
	return rec, rows.Err()
}

// inTx runs fn in a transaction committed when fn succeeds.
func (s *SQLiteSessionStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Create inserts rec and its messages.
func (s *SQLiteSessionStore) Create(ctx context.Context, root string, rec *Record) error {
	root = rootKey(root)
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sessions WHERE root = ? AND id = ?`, root, rec.SessionID).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: session %s exists", kb.ErrConflict, rec.SessionID)
		}
		md := rec.Metadata
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sessions (root, `+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			root, rec.SessionID, rec.CreatedAt.Time, md.LastUpdated.Time, md.Unread, nullableBool(md.PotentialClient),
			md.IPAddress, md.KBID, md.KBName,
		); err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
		if err := insertMessages(ctx, tx, root, rec.SessionID, 0, rec.Messages); err != nil {
			return err
		}
		return touchStore(ctx, tx, root)
	})
}

// Append adds msgs to session id.
func (s *SQLiteSessionStore) Append(ctx context.Context, root, id string, msgs ...Message) (*Record, error) {
	root = rootKey(root)
	var out *Record
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE sessions SET last_updated = ?, unread = 1, potential_client = NULL
			 WHERE root = ? AND id = ?`, touched(msgs).Time, root, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return notFound(id)
		}
		var next int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq) + 1, 0) FROM messages WHERE root = ? AND session_id = ?`,
			root, id).Scan(&next); err != nil {
			return err
		}
		if err := insertMessages(ctx, tx, root, id, next, msgs); err != nil {
			return err
		}
		if err := touchStore(ctx, tx, root); err != nil {
			return err
		}
		out, err = loadRecord(ctx, tx, root, id)
		return err
	})
	return out, err
}

// Get returns session id.
func (s *SQLiteSessionStore) Get(ctx context.Context, root, id string) (*Record, error) {
	return loadRecord(ctx, s.db, rootKey(root), id)
}

// List returns every session of the tenant, most recently updated first.
func (s *SQLiteSessionStore) List(ctx context.Context, root string) ([]*Record, error) {
	root = rootKey(root)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE root = ?`, root)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*Record)
	var out []*Record
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		byID[rec.SessionID] = rec
		out = append(out, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	msgRows, err := s.db.QueryContext(ctx,
		`SELECT session_id, id, role, content, timestamp FROM messages
		 WHERE root = ? ORDER BY session_id, seq`, root)
	if err != nil {
		return nil, err
	}
	defer msgRows.Close()
	for msgRows.Next() {
		var (
			sid string
			m   Message
			ts  time.Time
		)
		if err := msgRows.Scan(&sid, &m.ID, &m.Role, &m.Content, &ts); err != nil {
			return nil, err
		}
		m.Timestamp = Time{ts}
		if rec, ok := byID[sid]; ok {
			rec.Messages = append(rec.Messages, m)
		}
	}
	if err := msgRows.Err(); err != nil {
		return nil, err
	}
	for _, rec := range out {
		rec.Metadata.TotalMessages = len(rec.Messages)
	}
	SortByRecency(out)
	return out, nil
}

// UpdateMetadata applies fn to the metadata of session id.
func (s *SQLiteSessionStore) UpdateMetadata(ctx context.Context, root, id string, at Time, fn func(*Metadata)) (*Record, error) {
	root = rootKey(root)
	var out *Record
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rec, err := loadRecord(ctx, tx, root, id)
		if err != nil {
			return err
		}
		fn(&rec.Metadata)
		rec.Metadata.LastUpdated = orNow(at)
		md := rec.Metadata
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET last_updated = ?, unread = ?, potential_client = ?,
			 ip_address = ?, kb_id = ?, kb_name = ? WHERE root = ? AND id = ?`,
			md.LastUpdated.Time, md.Unread, nullableBool(md.PotentialClient),
			md.IPAddress, md.KBID, md.KBName, root, id,
		); err != nil {
			return err
		}
		if err := touchStore(ctx, tx, root); err != nil {
			return err
		}
		out = rec
		return nil
	})
	return out, err
}

// Delete removes session id and its messages.
func (s *SQLiteSessionStore) Delete(ctx context.Context, root, id string) error {
	root = rootKey(root)
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE root = ? AND id = ?`, root, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return notFound(id)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM messages WHERE root = ? AND session_id = ?`, root, id); err != nil {
			return err
		}
		return touchStore(ctx, tx, root)
	})
}

// Clear removes every session of the tenant and resets its header.
func (s *SQLiteSessionStore) Clear(ctx context.Context, root string) error {
	root = rootKey(root)
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM messages WHERE root = ?`,
			`DELETE FROM sessions WHERE root = ?`,
			`DELETE FROM stores WHERE root = ?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, root); err != nil {
				return err
			}
		}
		return touchStore(ctx, tx, root)
	})
}

// Stats summarizes the tenant's sessions. SizeBytes covers the whole shared database.
func (s *SQLiteSessionStore) Stats(ctx context.Context, root string) (Stats, error) {
	root = rootKey(root)
	var st Stats
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE root = ?`, root).Scan(&st.TotalSessions); err != nil {
		return Stats{}, err
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE root = ?`, root).Scan(&st.TotalMessages); err != nil {
		return Stats{}, err
	}
	var created, updated time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT created_at, last_updated FROM stores WHERE root = ?`, root).Scan(&created, &updated)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Stats{}, err
	}
	st.StorageCreated = Time{created}
	st.LastUpdated = Time{updated}
	st.SizeBytes, err = SizeOf(s.path, s.path+"-wal")
	return st, err
}

// Close closes the database connection.
func (s *SQLiteSessionStore) Close() error {
	return s.db.Close()
}
