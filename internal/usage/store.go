// Package usage keeps an append-only SQLite ledger of the tokens each
// turn consumed. It is an accounting record only: the agent never
// reads it back when assembling a prompt.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nugget/daedalus/internal/agent"
	"github.com/nugget/daedalus/internal/turn"
)

// timeLayout is fixed-width so stored timestamps compare correctly as
// strings.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// Record is one turn's token usage.
type Record struct {
	ID               string
	Timestamp        time.Time
	TurnID           string
	Trigger          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Tools            []string
}

// Summary holds aggregated totals.
type Summary struct {
	Turns            int
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// Store is the ledger. All methods are safe for concurrent use.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the ledger database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open usage database: %w", err)
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
		return nil, fmt.Errorf("migrate usage schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS turns (
		id                TEXT PRIMARY KEY,
		timestamp         TEXT NOT NULL,
		turn_id           TEXT NOT NULL,
		trigger           TEXT NOT NULL,
		model             TEXT NOT NULL,
		prompt_tokens     INTEGER NOT NULL,
		completion_tokens INTEGER NOT NULL,
		total_tokens      INTEGER NOT NULL,
		tools             TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_turns_timestamp ON turns(timestamp);
	`)
	return err
}

// Record appends rec. An empty ID gets a UUIDv7 and a zero timestamp
// is set to now.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate usage record ID: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns
			(id, timestamp, turn_id, trigger, model,
			 prompt_tokens, completion_tokens, total_tokens, tools)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Timestamp.UTC().Format(timeLayout),
		rec.TurnID,
		rec.Trigger,
		rec.Model,
		rec.PromptTokens,
		rec.CompletionTokens,
		rec.TotalTokens,
		strings.Join(rec.Tools, ","),
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// Summary totals the records at or after since. A zero since covers
// the whole ledger.
func (s *Store) Summary(ctx context.Context, since time.Time) (*Summary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(prompt_tokens), 0),
		        COALESCE(SUM(completion_tokens), 0),
		        COALESCE(SUM(total_tokens), 0)
		 FROM turns WHERE timestamp >= ?`,
		since.UTC().Format(timeLayout),
	)
	var sum Summary
	if err := row.Scan(&sum.Turns, &sum.PromptTokens, &sum.CompletionTokens, &sum.TotalTokens); err != nil {
		return nil, fmt.Errorf("query usage summary: %w", err)
	}
	return &sum, nil
}

// SummaryByModel returns per-model totals since the given time.
func (s *Store) SummaryByModel(ctx context.Context, since time.Time) (map[string]*Summary, error) {
	return s.summaryGroupedBy(ctx, "model", since)
}

// SummaryByTrigger returns per-trigger totals since the given time.
func (s *Store) SummaryByTrigger(ctx context.Context, since time.Time) (map[string]*Summary, error) {
	return s.summaryGroupedBy(ctx, "trigger", since)
}

func (s *Store) summaryGroupedBy(ctx context.Context, column string, since time.Time) (map[string]*Summary, error) {
	// column only ever comes from the methods above.
	query := fmt.Sprintf(
		`SELECT %s, COUNT(*),
		        COALESCE(SUM(prompt_tokens), 0),
		        COALESCE(SUM(completion_tokens), 0),
		        COALESCE(SUM(total_tokens), 0)
		 FROM turns WHERE timestamp >= ?
		 GROUP BY %s`,
		column, column,
	)
	rows, err := s.db.QueryContext(ctx, query, since.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("query usage by %s: %w", column, err)
	}
	defer rows.Close()

	result := make(map[string]*Summary)
	for rows.Next() {
		var key string
		var sum Summary
		if err := rows.Scan(&key, &sum.Turns, &sum.PromptTokens, &sum.CompletionTokens, &sum.TotalTokens); err != nil {
			return nil, fmt.Errorf("scan usage by %s: %w", column, err)
		}
		result[key] = &sum
	}
	return result, rows.Err()
}

// ObserveTurn records res in the ledger. It implements
// [agent.ResultObserver]. Turns without usage are recorded with zero
// token counts.
func (s *Store) ObserveTurn(ctx context.Context, tc *turn.Context, res *agent.Result) error {
	rec := Record{
		TurnID:  tc.ID,
		Trigger: tc.Trigger,
		Model:   res.Model,
	}
	if u := res.Usage; u != nil {
		rec.PromptTokens = u.PromptTokens
		rec.CompletionTokens = u.CompletionTokens
		rec.TotalTokens = u.TotalTokens
	}
	for _, ex := range res.Executed {
		rec.Tools = append(rec.Tools, ex.Key)
	}
	return s.Record(ctx, rec)
}
