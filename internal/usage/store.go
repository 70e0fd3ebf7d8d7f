// Package usage provides the append-only usage log that backs per-user
// daily quotas. Each chat answer or summary job appends one record;
// quota checks count records since the start of the user's day.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Job kinds counted against the daily quota.
const (
	KindChat    = "chat"
	KindSummary = "summary"
)

// QuotaKinds are the job kinds that consume the daily allowance.
var QuotaKinds = []string{KindChat, KindSummary}

// Record is one billable job.
type Record struct {
	ID           string
	Timestamp    time.Time
	UserID       string
	JobKind      string // "chat", "summary"
	VideoID      string
	SessionID    string
	Provider     string // "anthropic", "ollama", "openai", "fallback"
	Model        string
	InputTokens  int
	OutputTokens int
	Payload      string // free-form JSON detail
}

// Summary holds aggregated usage totals.
type Summary struct {
	TotalRecords      int   `json:"total_records"`
	TotalInputTokens  int64 `json:"total_input_tokens"`
	TotalOutputTokens int64 `json:"total_output_tokens"`
}

// Store is an append-only SQLite store for usage records. All public
// methods are safe for concurrent use (SQLite serializes writes).
type Store struct {
	db *sql.DB
}

// NewStore creates a usage store at the given database path. The schema
// is created automatically on first use.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open usage database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate usage schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_records (
		id            TEXT PRIMARY KEY,
		timestamp     TEXT NOT NULL,
		user_id       TEXT NOT NULL,
		job_kind      TEXT NOT NULL,
		video_id      TEXT,
		session_id    TEXT,
		provider      TEXT NOT NULL,
		model         TEXT,
		input_tokens  INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		payload       TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_usage_user_time ON usage_records(user_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_usage_timestamp ON usage_records(timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record persists a usage record. If rec.ID is empty, a UUIDv7 is
// generated. The context is used for cancellation only.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.UserID == "" || rec.JobKind == "" {
		return fmt.Errorf("usage record requires user and job kind")
	}
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate usage record ID: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_records
			(id, timestamp, user_id, job_kind, video_id, session_id, provider, model,
			 input_tokens, output_tokens, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Timestamp.UTC().Format(time.RFC3339),
		rec.UserID,
		rec.JobKind,
		rec.VideoID,
		rec.SessionID,
		rec.Provider,
		rec.Model,
		rec.InputTokens,
		rec.OutputTokens,
		rec.Payload,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// Count returns how many records userID has of the given kinds at or
// after since. An empty kinds list counts every kind.
func (s *Store) Count(ctx context.Context, userID string, kinds []string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM usage_records WHERE user_id = ? AND timestamp >= ?`
	args := []any{userID, since.UTC().Format(time.RFC3339)}
	if len(kinds) > 0 {
		query += ` AND job_kind IN (?` + strings.Repeat(", ?", len(kinds)-1) + `)`
		for _, k := range kinds {
			args = append(args, k)
		}
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count usage: %w", err)
	}
	return n, nil
}

// Summary returns aggregated totals for records within [start, end).
// A non-empty userID restricts the totals to that user.
func (s *Store) Summary(ctx context.Context, userID string, start, end time.Time) (*Summary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0)
		 FROM usage_records
		 WHERE timestamp >= ? AND timestamp < ? AND (? = '' OR user_id = ?)`,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
		userID, userID,
	)

	var sum Summary
	if err := row.Scan(&sum.TotalRecords, &sum.TotalInputTokens, &sum.TotalOutputTokens); err != nil {
		return nil, fmt.Errorf("query usage summary: %w", err)
	}
	return &sum, nil
}

// SummaryByKind returns per-job-kind totals within [start, end).
func (s *Store) SummaryByKind(ctx context.Context, userID string, start, end time.Time) (map[string]*Summary, error) {
	return s.summaryGroupedBy(ctx, "job_kind", userID, start, end)
}

// SummaryByProvider returns per-provider totals within [start, end).
func (s *Store) SummaryByProvider(ctx context.Context, userID string, start, end time.Time) (map[string]*Summary, error) {
	return s.summaryGroupedBy(ctx, "provider", userID, start, end)
}

func (s *Store) summaryGroupedBy(ctx context.Context, column, userID string, start, end time.Time) (map[string]*Summary, error) {
	// column is always a compile-time constant from our own methods,
	// never user input, so embedding it directly is safe.
	query := fmt.Sprintf(
		`SELECT COALESCE(%s, ''), COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0)
		 FROM usage_records
		 WHERE timestamp >= ? AND timestamp < ? AND (? = '' OR user_id = ?)
		 GROUP BY %s
		 ORDER BY COUNT(*) DESC`,
		column, column,
	)

	rows, err := s.db.QueryContext(ctx, query,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
		userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query usage by %s: %w", column, err)
	}
	defer rows.Close()

	result := make(map[string]*Summary)
	for rows.Next() {
		var key string
		var sum Summary
		if err := rows.Scan(&key, &sum.TotalRecords, &sum.TotalInputTokens, &sum.TotalOutputTokens); err != nil {
			return nil, fmt.Errorf("scan usage by %s: %w", column, err)
		}
		result[key] = &sum
	}
	return result, rows.Err()
}

// StartOfDay returns local midnight of t in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
