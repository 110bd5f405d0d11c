// Package notes stores short free-form notes the agent writes for
// itself, and surfaces the latest of them as prompt context.
package notes

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// timeLayout is fixed-width so stored timestamps sort as strings.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// Note is one stored note.
type Note struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic,omitempty"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists notes in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the notes database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open notes database: %w", err)
	}
	s, err := NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an open database, creating the schema on first use.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate notes: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS notes (
			id         TEXT PRIMARY KEY,
			topic      TEXT NOT NULL DEFAULT '',
			body       TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_notes_created ON notes(created_at);
	`)
	return err
}

// Add stores a new note.
func (s *Store) Add(ctx context.Context, topic, body string) (*Note, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("note body is empty")
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate note ID: %w", err)
	}
	n := &Note{
		ID:        id.String(),
		Topic:     strings.TrimSpace(topic),
		Body:      body,
		CreatedAt: s.now().UTC(),
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO notes (id, topic, body, created_at) VALUES (?, ?, ?, ?)`,
		n.ID, n.Topic, n.Body, n.CreatedAt.Format(timeLayout),
	); err != nil {
		return nil, fmt.Errorf("insert note: %w", err)
	}
	return n, nil
}

// Latest returns up to limit notes, newest first.
func (s *Store) Latest(ctx context.Context, limit int) ([]*Note, error) {
	return s.query(ctx,
		`SELECT id, topic, body, created_at FROM notes
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		limit,
	)
}

// Search returns up to limit notes whose topic or body contains query,
// case-insensitively, newest first.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]*Note, error) {
	pattern := "%" + strings.ToLower(query) + "%"
	return s.query(ctx,
		`SELECT id, topic, body, created_at FROM notes
		 WHERE lower(topic) LIKE ? OR lower(body) LIKE ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		pattern, pattern, limit,
	)
}

// Count returns the number of stored notes.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notes`).Scan(&n)
	return n, err
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]*Note, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	defer rows.Close()

	var out []*Note
	for rows.Next() {
		var n Note
		var created string
		if err := rows.Scan(&n.ID, &n.Topic, &n.Body, &created); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		n.CreatedAt, _ = time.Parse(timeLayout, created)
		out = append(out, &n)
	}
	return out, rows.Err()
}
