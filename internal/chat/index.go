package chat

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Index records saved chat logs in SQLite so they can be listed and
// searched without reading every file.
type Index struct {
	db *sql.DB
}

// IndexEntry is one saved chat.
type IndexEntry struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Template     string    `json:"template,omitempty"`
	Provider     string    `json:"provider,omitempty"`
	Model        string    `json:"model,omitempty"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	SavedAt      time.Time `json:"saved_at"`
	JSONPath     string    `json:"json_path"`
	TextPath     string    `json:"text_path"`
	Snippet      string    `json:"snippet,omitempty"`
}

const indexSchema = `
CREATE TABLE IF NOT EXISTS chats (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL DEFAULT '',
    template TEXT,
    provider TEXT,
    model TEXT,
    message_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    saved_at TIMESTAMP NOT NULL,
    json_path TEXT NOT NULL,
    text_path TEXT NOT NULL,
    transcript TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_chats_saved_at ON chats(saved_at DESC);

CREATE VIRTUAL TABLE IF NOT EXISTS chats_fts USING fts5(
    title,
    transcript,
    content='chats',
    content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS chats_ai AFTER INSERT ON chats BEGIN
    INSERT INTO chats_fts(rowid, title, transcript) VALUES (new.rowid, new.title, new.transcript);
END;

CREATE TRIGGER IF NOT EXISTS chats_ad AFTER DELETE ON chats BEGIN
    INSERT INTO chats_fts(chats_fts, rowid, title, transcript) VALUES ('delete', old.rowid, old.title, old.transcript);
END;

CREATE TRIGGER IF NOT EXISTS chats_au AFTER UPDATE ON chats BEGIN
    INSERT INTO chats_fts(chats_fts, rowid, title, transcript) VALUES ('delete', old.rowid, old.title, old.transcript);
    INSERT INTO chats_fts(rowid, title, transcript) VALUES (new.rowid, new.title, new.transcript);
END;
`

// schemaVersion is the current index schema version. Increment when adding
// a migration.
const schemaVersion = 1

// OpenIndex opens or creates the index database at path.
func OpenIndex(path string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize index schema: %w", err)
	}
	return &Index{db: db}, nil
}

// initSchema creates the schema once. A database already at schemaVersion
// costs a single SELECT.
func initSchema(db *sql.DB) error {
	var current int
	err := db.QueryRow("SELECT version FROM schema_version").Scan(&current)
	if err == nil && current >= schemaVersion {
		return nil
	}

	if _, err := db.Exec(indexSchema); err != nil {
		return fmt.Errorf("create base schema: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}
	if err != nil && (err == sql.ErrNoRows || strings.Contains(err.Error(), "no such table")) {
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("insert initial version: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}
	_, err = db.Exec("UPDATE schema_version SET version = ?", schemaVersion)
	return err
}

// Upsert records or refreshes a saved chat.
func (x *Index) Upsert(ctx context.Context, rec LogRecord, saved SavedLog) error {
	_, err := x.db.ExecContext(ctx, `
		INSERT INTO chats (id, title, template, provider, model, message_count, created_at, saved_at, json_path, text_path, transcript)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		    title = excluded.title, template = excluded.template, provider = excluded.provider,
		    model = excluded.model, message_count = excluded.message_count, saved_at = excluded.saved_at,
		    json_path = excluded.json_path, text_path = excluded.text_path, transcript = excluded.transcript`,
		rec.ID, rec.Title(), nullString(rec.Template), nullString(rec.Provider), nullString(rec.Model),
		len(rec.Messages), rec.CreatedAt.UTC(), time.Now().UTC(), saved.JSONPath, saved.TextPath,
		RenderTranscript(rec.Messages))
	if err != nil {
		return fmt.Errorf("upsert chat: %w", err)
	}
	return nil
}

// Path returns the JSON path of a saved chat.
func (x *Index) Path(ctx context.Context, id string) (string, bool, error) {
	var path string
	err := x.db.QueryRowContext(ctx, "SELECT json_path FROM chats WHERE id = ?", id).Scan(&path)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup chat: %w", err)
	}
	return path, true, nil
}

// ListOptions filter List.
type ListOptions struct {
	Provider string
	Template string
	Limit    int
	Offset   int
}

// List returns saved chats, most recently saved first.
func (x *Index) List(ctx context.Context, opts ListOptions) ([]IndexEntry, error) {
	query := `
		SELECT id, title, template, provider, model, message_count, created_at, saved_at, json_path, text_path
		FROM chats
		WHERE 1=1`
	args := []any{}

	if opts.Provider != "" {
		query += " AND provider = ?"
		args = append(args, opts.Provider)
	}
	if opts.Template != "" {
		query += " AND template = ?"
		args = append(args, opts.Template)
	}
	query += " ORDER BY saved_at DESC"

	limit := opts.Limit
	if limit == 0 {
		limit = 50
	}
	query += fmt.Sprintf(" LIMIT %d", limit)
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}

	rows, err := x.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}
	defer rows.Close()

	var out []IndexEntry
	for rows.Next() {
		var (
			e                         IndexEntry
			template, provider, model sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Title, &template, &provider, &model, &e.MessageCount,
			&e.CreatedAt, &e.SavedAt, &e.JSONPath, &e.TextPath); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		e.Template, e.Provider, e.Model = template.String, provider.String, model.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// Search finds saved chats whose title or transcript matches an FTS5 query.
func (x *Index) Search(ctx context.Context, query string, limit int) ([]IndexEntry, error) {
	if limit == 0 {
		limit = 20
	}
	rows, err := x.db.QueryContext(ctx, `
		SELECT c.id, c.title, c.template, c.provider, c.model, c.message_count, c.created_at, c.saved_at,
		       c.json_path, c.text_path, snippet(chats_fts, 1, '**', '**', '...', 16)
		FROM chats_fts f
		JOIN chats c ON c.rowid = f.rowid
		WHERE chats_fts MATCH ?
		ORDER BY rank
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search chats: %w", err)
	}
	defer rows.Close()

	var out []IndexEntry
	for rows.Next() {
		var (
			e                         IndexEntry
			template, provider, model sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Title, &template, &provider, &model, &e.MessageCount,
			&e.CreatedAt, &e.SavedAt, &e.JSONPath, &e.TextPath, &e.Snippet); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		e.Template, e.Provider, e.Model = template.String, provider.String, model.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// Delete removes a chat from the index. Files are left alone.
func (x *Index) Delete(ctx context.Context, id string) error {
	result, err := x.db.ExecContext(ctx, "DELETE FROM chats WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Close closes the database connection.
func (x *Index) Close() error {
	return x.db.Close()
}

// nullString converts an empty string to NULL for database storage.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
