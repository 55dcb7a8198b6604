package transcript

import (
	"database/sql"
	"strings"
	"testing"

	_ "modernc.org/sqlite"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestAppendAndHistory(t *testing.T) {
	store := setupTestStore(t)

	store.Append("s1", SenderUser, "How many contacts are there?")
	store.Append("s1", SenderAssistant, "There are 42 contacts.")
	store.Append("other", SenderUser, "unrelated")

	history, err := store.History("s1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("got %d messages, want 2", len(history))
	}
	if history[0].Sender != SenderUser || history[1].Sender != SenderAssistant {
		t.Errorf("order = %s, %s", history[0].Sender, history[1].Sender)
	}
	if history[0].Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
	if history[1].Content != "There are 42 contacts." {
		t.Errorf("content = %q", history[1].Content)
	}
}

func TestHistoryEmptySession(t *testing.T) {
	store := setupTestStore(t)

	history, err := store.History("nope")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("got %d messages, want 0", len(history))
	}
}

func TestListSessions(t *testing.T) {
	store := setupTestStore(t)

	store.Append("old", SenderUser, "First question about invoices")
	store.Append("old", SenderAssistant, "Answer")
	store.Append("recent", SenderUser, "Count the contacts")
	store.Append("recent", SenderAssistant, "42")
	store.Append("recent", SenderUser, "Thanks")

	sessions, err := store.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}

	// Most recently active first.
	if sessions[0].SessionID != "recent" {
		t.Errorf("first session = %q", sessions[0].SessionID)
	}
	if sessions[0].Title != "Count the contacts" {
		t.Errorf("title = %q", sessions[0].Title)
	}
	if sessions[0].MessageCount != 3 {
		t.Errorf("count = %d", sessions[0].MessageCount)
	}
	if sessions[1].Title != "First question about invoices" {
		t.Errorf("title = %q", sessions[1].Title)
	}
}

func TestListSessionsTitleEdgeCases(t *testing.T) {
	store := setupTestStore(t)

	// Session whose first message is from the assistant.
	store.Append("greeting", SenderAssistant, "Hello, how can I help?")

	// Multi-line user message: title is the first line only.
	store.Append("multiline", SenderUser, "Show me open invoices\nfor this month")

	// Long user message gets truncated.
	long := strings.Repeat("x", 300)
	store.Append("long", SenderUser, long)

	sessions, err := store.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}

	byID := map[string]*SessionInfo{}
	for _, s := range sessions {
		byID[s.SessionID] = s
	}

	if byID["greeting"].Title != "(untitled)" {
		t.Errorf("greeting title = %q", byID["greeting"].Title)
	}
	if byID["multiline"].Title != "Show me open invoices" {
		t.Errorf("multiline title = %q", byID["multiline"].Title)
	}
	if got := byID["long"].Title; len([]rune(got)) > maxTitleLen {
		t.Errorf("long title not truncated: %d runes", len([]rune(got)))
	}
}

func TestDeleteIdempotent(t *testing.T) {
	store := setupTestStore(t)

	store.Append("s", SenderUser, "hi")
	store.Append("s", SenderAssistant, "hello")

	if err := store.Delete("s"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	history, _ := store.History("s")
	if len(history) != 0 {
		t.Errorf("history after delete = %d messages", len(history))
	}

	// Second delete of the same session succeeds quietly.
	if err := store.Delete("s"); err != nil {
		t.Errorf("second Delete: %v", err)
	}
	// As does deleting a session that never existed.
	if err := store.Delete("ghost"); err != nil {
		t.Errorf("Delete missing session: %v", err)
	}
}
