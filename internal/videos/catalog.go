package videos

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nugget/vidchat/internal/apperr"
	"github.com/nugget/vidchat/internal/transcript"
)

// Dialect selects SQL syntax differences between backends.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

// timeLayout is fixed-width UTC so timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000Z"

// Catalog is a SQL-backed video catalog.
type Catalog struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// NewSQLiteCatalog creates a catalog on an open SQLite database.
func NewSQLiteCatalog(db *sql.DB) (*Catalog, error) {
	return newCatalog(db, SQLite)
}

// NewPostgresCatalog connects to Postgres through the pgx driver and
// creates a catalog on it.
func NewPostgresCatalog(ctx context.Context, dsn string) (*Catalog, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	c, err := newCatalog(db, Postgres)
	if err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func newCatalog(db *sql.DB, d Dialect) (*Catalog, error) {
	c := &Catalog{db: db, dialect: d, now: time.Now}
	if err := c.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return c, nil
}

// Dialect reports the backend the catalog was opened on.
func (c *Catalog) Dialect() Dialect { return c.dialect }

// Close closes the underlying database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

func (c *Catalog) migrate() error {
	realType := "REAL"
	if c.dialect == Postgres {
		realType = "DOUBLE PRECISION"
	}
	schema := `
	CREATE TABLE IF NOT EXISTS videos (
		id               TEXT PRIMARY KEY,
		owner_id         TEXT NOT NULL,
		title            TEXT NOT NULL DEFAULT '',
		description      TEXT NOT NULL DEFAULT '',
		summary          TEXT NOT NULL DEFAULT '',
		duration_seconds ` + realType + ` NOT NULL DEFAULT 0,
		visibility       TEXT NOT NULL DEFAULT 'public',
		status           TEXT NOT NULL DEFAULT 'ready',
		transcript_text  TEXT NOT NULL DEFAULT '',
		segments         TEXT NOT NULL DEFAULT '[]',
		updated_at       TEXT NOT NULL
	)`
	if _, err := c.db.Exec(schema); err != nil {
		return err
	}
	_, err := c.db.Exec(`CREATE INDEX IF NOT EXISTS idx_videos_owner ON videos(owner_id)`)
	return err
}

// rebind rewrites ? placeholders as $n for Postgres.
func (c *Catalog) rebind(query string) string {
	if c.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Upsert creates or updates a video's metadata. The stored transcript is
// left untouched.
func (c *Catalog) Upsert(ctx context.Context, v *Video) error {
	if v.ID == "" || v.OwnerID == "" {
		return apperr.Validationf("video requires an id and an owner")
	}
	if v.Visibility == "" {
		v.Visibility = Public
	}
	if v.Status == "" {
		v.Status = StatusReady
	}
	if !validVisibility(v.Visibility) {
		return apperr.Validationf("unknown visibility %q", v.Visibility)
	}
	if !validStatus(v.Status) {
		return apperr.Validationf("unknown status %q", v.Status)
	}
	if v.DurationSeconds < 0 {
		return apperr.Validationf("duration must not be negative")
	}
	v.UpdatedAt = c.now().UTC().Truncate(time.Millisecond)

	_, err := c.db.ExecContext(ctx, c.rebind(`
		INSERT INTO videos (id, owner_id, title, description, summary, duration_seconds, visibility, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id = excluded.owner_id,
			title = excluded.title,
			description = excluded.description,
			summary = excluded.summary,
			duration_seconds = excluded.duration_seconds,
			visibility = excluded.visibility,
			status = excluded.status,
			updated_at = excluded.updated_at
	`), v.ID, v.OwnerID, v.Title, v.Description, v.Summary, v.DurationSeconds,
		string(v.Visibility), string(v.Status), v.UpdatedAt.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("upsert video: %w", err)
	}
	return nil
}

// SaveTranscript replaces a video's transcript wholesale.
func (c *Catalog) SaveTranscript(ctx context.Context, videoID string, n *transcript.Normalized) error {
	segments, err := json.Marshal(n.Segments)
	if err != nil {
		return fmt.Errorf("encode segments: %w", err)
	}
	res, err := c.db.ExecContext(ctx, c.rebind(`
		UPDATE videos SET transcript_text = ?, segments = ?, updated_at = ? WHERE id = ?
	`), n.TranscriptText, string(segments), c.now().UTC().Format(timeLayout), videoID)
	if err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return apperr.NotFoundf("video %s not found", videoID)
	}
	return nil
}

// SaveSummary stores a generated summary for a video.
func (c *Catalog) SaveSummary(ctx context.Context, videoID, summary string) error {
	res, err := c.db.ExecContext(ctx, c.rebind(`
		UPDATE videos SET summary = ?, updated_at = ? WHERE id = ?
	`), summary, c.now().UTC().Format(timeLayout), videoID)
	if err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return apperr.NotFoundf("video %s not found", videoID)
	}
	return nil
}

// Get returns a video without applying access rules.
func (c *Catalog) Get(ctx context.Context, videoID string) (*Video, error) {
	var v Video
	var visibility, status, segments, updated string
	err := c.db.QueryRowContext(ctx, c.rebind(`
		SELECT id, owner_id, title, description, summary, duration_seconds,
		       visibility, status, transcript_text, segments, updated_at
		FROM videos WHERE id = ?
	`), videoID).Scan(&v.ID, &v.OwnerID, &v.Title, &v.Description, &v.Summary,
		&v.DurationSeconds, &visibility, &status, &v.TranscriptText, &segments, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFoundf("video %s not found", videoID)
	}
	if err != nil {
		return nil, fmt.Errorf("get video: %w", err)
	}
	v.Visibility = Visibility(visibility)
	v.Status = Status(status)
	if segments != "" {
		if err := json.Unmarshal([]byte(segments), &v.Segments); err != nil {
			return nil, fmt.Errorf("decode segments for %s: %w", videoID, err)
		}
	}
	v.UpdatedAt, _ = time.Parse(timeLayout, updated)
	return &v, nil
}

// LoadVideo returns a video the viewer may chat about. Private videos are
// visible only to their owner, and videos still being processed are
// reported as not ready.
func (c *Catalog) LoadVideo(ctx context.Context, videoID, viewerID string) (*Video, error) {
	v, err := c.Get(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if v.Visibility == Private && v.OwnerID != viewerID {
		return nil, apperr.Forbiddenf("video %s is private", videoID)
	}
	if v.Status != StatusReady {
		return nil, apperr.NotReadyf("video %s is %s", videoID, v.Status)
	}
	return v, nil
}
