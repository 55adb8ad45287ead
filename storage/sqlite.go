package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database connection and persists store snapshots
// plus a small key/value settings table.
type DB struct {
	conn *sql.DB
}

// NewDB creates a new database connection and initializes the schema.
func NewDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY,
		date TEXT NOT NULL,
		chat_link TEXT NOT NULL,
		url TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS urls (
		url TEXT PRIMARY KEY,
		description TEXT NOT NULL DEFAULT '[]',
		summary TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL DEFAULT 'unknown',
		chat_links TEXT NOT NULL DEFAULT '[]',
		count INTEGER NOT NULL DEFAULT 1,
		first_seen TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// Load reads the full message log and every URL aggregate.
func (db *DB) Load(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{
		Messages: []MessageRecord{},
		URLs:     make(map[string]URLAggregate),
	}

	rows, err := db.conn.QueryContext(ctx, `SELECT date, chat_link, url FROM messages ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec MessageRecord
		var date string
		if err := rows.Scan(&date, &rec.Link, &rec.URL); err != nil {
			return nil, err
		}
		if rec.Date, err = time.Parse(time.RFC3339Nano, date); err != nil {
			return nil, fmt.Errorf("parse message date %q: %w", date, err)
		}
		snap.Messages = append(snap.Messages, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	urlRows, err := db.conn.QueryContext(ctx, `
	SELECT url, description, summary, type, chat_links, count, first_seen FROM urls
	`)
	if err != nil {
		return nil, fmt.Errorf("query urls: %w", err)
	}
	defer urlRows.Close()

	for urlRows.Next() {
		var url, descJSON, linksJSON, firstSeen string
		var agg URLAggregate
		if err := urlRows.Scan(&url, &descJSON, &agg.Summary, &agg.Type, &linksJSON, &agg.Count, &firstSeen); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(descJSON), &agg.Description); err != nil {
			return nil, fmt.Errorf("unmarshal description of %s: %w", url, err)
		}
		if err := json.Unmarshal([]byte(linksJSON), &agg.Links); err != nil {
			return nil, fmt.Errorf("unmarshal links of %s: %w", url, err)
		}
		if agg.FirstSeen, err = time.Parse(time.RFC3339Nano, firstSeen); err != nil {
			return nil, fmt.Errorf("parse first_seen of %s: %w", url, err)
		}
		if agg.Description == nil {
			agg.Description = []string{}
		}
		if agg.Links == nil {
			agg.Links = []string{}
		}
		snap.URLs[url] = agg
	}

	return snap, urlRows.Err()
}

// Save replaces both tables with the snapshot inside one transaction.
func (db *DB) Save(ctx context.Context, snap *Snapshot) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages`); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM urls`); err != nil {
		return fmt.Errorf("clear urls: %w", err)
	}

	msgStmt, err := tx.PrepareContext(ctx, `INSERT INTO messages (seq, date, chat_link, url) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare message insert: %w", err)
	}
	defer msgStmt.Close()

	for i, rec := range snap.Messages {
		if _, err := msgStmt.ExecContext(ctx, i, formatTime(rec.Date), rec.Link, rec.URL); err != nil {
			return fmt.Errorf("insert message %d: %w", i, err)
		}
	}

	urlStmt, err := tx.PrepareContext(ctx, `
	INSERT INTO urls (url, description, summary, type, chat_links, count, first_seen)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare url insert: %w", err)
	}
	defer urlStmt.Close()

	for url, agg := range snap.URLs {
		descJSON, err := json.Marshal(nonNil(agg.Description))
		if err != nil {
			return fmt.Errorf("marshal description: %w", err)
		}
		linksJSON, err := json.Marshal(nonNil(agg.Links))
		if err != nil {
			return fmt.Errorf("marshal links: %w", err)
		}
		if _, err := urlStmt.ExecContext(ctx, url, string(descJSON), agg.Summary, agg.Type,
			string(linksJSON), agg.Count, formatTime(agg.FirstSeen)); err != nil {
			return fmt.Errorf("insert url %s: %w", url, err)
		}
	}

	return tx.Commit()
}

// GetSetting retrieves a setting value by key.
func (db *DB) GetSetting(ctx context.Context, key string) (string, error) {
	query := `SELECT value FROM settings WHERE key = ?`
	var value string
	err := db.conn.QueryRowContext(ctx, query, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

// SetSetting stores or updates a setting.
func (db *DB) SetSetting(ctx context.Context, key, value string) error {
	query := `
	INSERT INTO settings (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	_, err := db.conn.ExecContext(ctx, query, key, value)
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
