package memory

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nugget/vidchat/internal/apperr"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestCreateAndGetSession(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, "u1", "v1", "Intro")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("expected session ID")
	}

	got, err := store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.UserID != "u1" || got.VideoID != "v1" || got.Title != "Intro" {
		t.Errorf("GetSession = %+v", got)
	}
	if !got.CreatedAt.Equal(sess.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, sess.CreatedAt)
	}
}

func TestCreateSession_RequiresUserAndVideo(t *testing.T) {
	store := setupTestStore(t)
	_, err := store.CreateSession(context.Background(), "", "v1", "")
	if !apperr.Is(err, apperr.Validation) {
		t.Errorf("err = %v, want validation", err)
	}
}

func TestGetSession_NotFound(t *testing.T) {
	store := setupTestStore(t)
	_, err := store.GetSession(context.Background(), "missing")
	if !apperr.Is(err, apperr.NotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestAppendTurnPair_Order(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, "u1", "v1", "")
	if err != nil {
		t.Fatal(err)
	}

	pairs := [][2]string{
		{"what is this about?", "It is about Go."},
		{"who presents it?", "Alice."},
	}
	for _, p := range pairs {
		uid, aid, err := store.AppendTurnPair(ctx, sess.ID, p[0], p[1])
		if err != nil {
			t.Fatalf("AppendTurnPair: %v", err)
		}
		if uid == "" || aid == "" || uid == aid {
			t.Errorf("turn IDs = %q, %q", uid, aid)
		}
	}

	turns, err := store.RecentTurns(ctx, sess.ID, 10)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	if len(turns) != 4 {
		t.Fatalf("got %d turns, want 4", len(turns))
	}
	want := []struct {
		role    Role
		content string
	}{
		{RoleUser, "what is this about?"},
		{RoleAssistant, "It is about Go."},
		{RoleUser, "who presents it?"},
		{RoleAssistant, "Alice."},
	}
	for i, w := range want {
		if turns[i].Role != w.role || turns[i].Content != w.content {
			t.Errorf("turn[%d] = %s %q, want %s %q", i, turns[i].Role, turns[i].Content, w.role, w.content)
		}
	}
}

func TestRecentTurns_Window(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	sess, _ := store.CreateSession(ctx, "u1", "v1", "")
	for i := 0; i < 5; i++ {
		if _, _, err := store.AppendTurnPair(ctx, sess.ID, "q", "a"); err != nil {
			t.Fatal(err)
		}
	}
	if _, _, err := store.AppendTurnPair(ctx, sess.ID, "last question", "last answer"); err != nil {
		t.Fatal(err)
	}

	turns, err := store.RecentTurns(ctx, sess.ID, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 3 {
		t.Fatalf("got %d turns, want 3", len(turns))
	}
	if turns[1].Content != "last question" || turns[2].Content != "last answer" {
		t.Errorf("window tail = %q, %q", turns[1].Content, turns[2].Content)
	}

	none, err := store.RecentTurns(ctx, sess.ID, 0)
	if err != nil || len(none) != 0 {
		t.Errorf("limit 0 = %v, %v", none, err)
	}
}

func TestAppendTurnPair_UnknownSession(t *testing.T) {
	store := setupTestStore(t)
	_, _, err := store.AppendTurnPair(context.Background(), "nope", "q", "a")
	if !apperr.Is(err, apperr.NotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestListSessions(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clock }

	a, _ := store.CreateSession(ctx, "u1", "v1", "a")
	clock = clock.Add(time.Minute)
	b, _ := store.CreateSession(ctx, "u1", "v2", "b")
	clock = clock.Add(time.Minute)
	if _, err := store.CreateSession(ctx, "u2", "v1", "other user"); err != nil {
		t.Fatal(err)
	}

	// Activity on a moves it ahead of b.
	clock = clock.Add(time.Minute)
	if _, _, err := store.AppendTurnPair(ctx, a.ID, "q", "a"); err != nil {
		t.Fatal(err)
	}

	all, err := store.ListSessions(ctx, "u1", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].ID != a.ID || all[1].ID != b.ID {
		t.Errorf("ListSessions = %+v", all)
	}

	v2, err := store.ListSessions(ctx, "u1", "v2", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(v2) != 1 || v2[0].ID != b.ID {
		t.Errorf("ListSessions(v2) = %+v", v2)
	}
}

func TestDeleteSession(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	sess, _ := store.CreateSession(ctx, "u1", "v1", "")
	store.AppendTurnPair(ctx, sess.ID, "q", "a")

	if err := store.DeleteSession(ctx, sess.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := store.GetSession(ctx, sess.ID); !apperr.Is(err, apperr.NotFound) {
		t.Errorf("GetSession after delete: %v", err)
	}
	turns, _ := store.RecentTurns(ctx, sess.ID, 10)
	if len(turns) != 0 {
		t.Errorf("turns survived delete: %d", len(turns))
	}
	if err := store.DeleteSession(ctx, sess.ID); !apperr.Is(err, apperr.NotFound) {
		t.Errorf("second delete = %v, want not found", err)
	}
}
