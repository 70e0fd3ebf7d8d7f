package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/vidchat/internal/apperr"
)

// SQLiteStore is a SQLite-backed session and turn store.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates a store on an open database and ensures the
// schema exists.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate creates the database schema.
func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chat_sessions (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		video_id   TEXT NOT NULL,
		title      TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_sessions_user ON chat_sessions(user_id, updated_at);

	-- seq orders turns written in the same millisecond.
	CREATE TABLE IF NOT EXISTS chat_turns (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		id         TEXT NOT NULL UNIQUE,
		session_id TEXT NOT NULL,
		role       TEXT NOT NULL,
		content    TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_turns_session ON chat_turns(session_id, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return id.String(), nil
}

// CreateSession starts a new session for userID about videoID.
func (s *SQLiteStore) CreateSession(ctx context.Context, userID, videoID, title string) (*Session, error) {
	if userID == "" || videoID == "" {
		return nil, apperr.Validationf("session requires a user and a video")
	}
	id, err := newID()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC().Truncate(time.Millisecond)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chat_sessions (id, user_id, video_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, userID, videoID, title, formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	return &Session{ID: id, UserID: userID, VideoID: videoID, Title: title, CreatedAt: now, UpdatedAt: now}, nil
}

// GetSession returns a session by ID, or a NotFound error.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	var title sql.NullString
	var created, updated string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, video_id, title, created_at, updated_at
		FROM chat_sessions WHERE id = ?
	`, id).Scan(&sess.ID, &sess.UserID, &sess.VideoID, &title, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFoundf("session %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	sess.Title = title.String
	sess.CreatedAt = parseTime(created)
	sess.UpdatedAt = parseTime(updated)
	return &sess, nil
}

// ListSessions returns a user's sessions, most recently active first.
// A non-empty videoID restricts the list to that video.
func (s *SQLiteStore) ListSessions(ctx context.Context, userID, videoID string, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, video_id, title, created_at, updated_at
		FROM chat_sessions
		WHERE user_id = ? AND (? = '' OR video_id = ?)
		ORDER BY updated_at DESC
		LIMIT ?
	`, userID, videoID, videoID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		var title sql.NullString
		var created, updated string
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.VideoID, &title, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.Title = title.String
		sess.CreatedAt = parseTime(created)
		sess.UpdatedAt = parseTime(updated)
		out = append(out, sess)
	}
	return out, rows.Err()
}

// RecentTurns returns the last limit turns of a session in chronological
// order (oldest first).
func (s *SQLiteStore) RecentTurns(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, created_at FROM (
			SELECT seq, id, session_id, role, content, created_at
			FROM chat_turns
			WHERE session_id = ?
			ORDER BY seq DESC
			LIMIT ?
		) ORDER BY seq ASC
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var role, created string
		if err := rows.Scan(&t.ID, &t.SessionID, &role, &t.Content, &created); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Role = Role(role)
		t.CreatedAt = parseTime(created)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// AppendTurnPair stores a USER turn and the ASSISTANT reply to it in one
// transaction, so readers never observe half of a pair. It returns the
// IDs of both turns.
func (s *SQLiteStore) AppendTurnPair(ctx context.Context, sessionID, userContent, assistantContent string) (userTurnID, assistantTurnID string, err error) {
	if userTurnID, err = newID(); err != nil {
		return "", "", err
	}
	if assistantTurnID, err = newID(); err != nil {
		return "", "", err
	}
	now := formatTime(s.now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE chat_sessions SET updated_at = ? WHERE id = ?`, now, sessionID)
	if err != nil {
		return "", "", fmt.Errorf("touch session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", "", apperr.NotFoundf("session %s not found", sessionID)
	}

	const insert = `INSERT INTO chat_turns (id, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insert, userTurnID, sessionID, string(RoleUser), userContent, now); err != nil {
		return "", "", fmt.Errorf("insert user turn: %w", err)
	}
	if _, err := tx.ExecContext(ctx, insert, assistantTurnID, sessionID, string(RoleAssistant), assistantContent, now); err != nil {
		return "", "", fmt.Errorf("insert assistant turn: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", "", fmt.Errorf("commit: %w", err)
	}
	return userTurnID, assistantTurnID, nil
}

// DeleteSession removes a session and all of its turns.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_turns WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("delete turns: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFoundf("session %s not found", id)
	}
	return tx.Commit()
}
