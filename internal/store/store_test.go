package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	url := "sqlite://" + filepath.Join(t.TempDir(), "test.db")
	if err := Migrate(url); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	s, err := Open(url)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestSession(t *testing.T, s *Store) *Session {
	t.Helper()
	sess, err := s.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	t.Cleanup(func() { sess.Close() })
	return sess
}

func TestConversationLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sess := newTestSession(t, s)

	conv, err := sess.CreateConversation(ctx, "")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if conv.Title != DefaultTitle {
		t.Errorf("title = %q, want %q", conv.Title, DefaultTitle)
	}
	if conv.ID == 0 {
		t.Error("no id assigned")
	}

	got, err := sess.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.Title != DefaultTitle {
		t.Errorf("title = %q", got.Title)
	}

	if _, err := sess.GetConversation(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing conversation: got %v, want ErrNotFound", err)
	}
}

func TestInsertAndListMessages(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sess := newTestSession(t, s)

	conv, err := sess.CreateConversation(ctx, "")
	if err != nil {
		t.Fatal(err)
	}

	user, err := sess.InsertMessage(ctx, conv.ID, RoleUser, "hello", nil)
	if err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}
	if user.ID == 0 || user.Role != RoleUser {
		t.Errorf("user message = %+v", user)
	}
	if loc := user.CreatedAt.Location(); loc != time.UTC {
		t.Errorf("created_at location = %v, want UTC", loc)
	}

	payload := &PartsPayload{
		Parts: []Part{
			TextPart{Content: "hi there"},
			ToolCallPart{ToolName: "file_exists", Args: map[string]any{"file_path": "x"}, ToolCallID: "t1"},
			ToolReturnPart{ToolName: "file_exists", ToolCallID: "t1", Content: strptr("true")},
		},
		ModelName: "claude-sonnet-4-5-20250929",
	}
	agent, err := sess.InsertMessage(ctx, conv.ID, RoleAgent, "hi there", payload)
	if err != nil {
		t.Fatal(err)
	}

	msgs, err := s.ListMessages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if msgs[0].ID != user.ID || msgs[1].ID != agent.ID {
		t.Errorf("order: %d, %d", msgs[0].ID, msgs[1].ID)
	}
	if msgs[0].Parts != nil {
		t.Error("user message should have no parts payload")
	}
	if msgs[1].Parts == nil || len(msgs[1].Parts.Parts) != 3 {
		t.Fatalf("agent parts = %+v", msgs[1].Parts)
	}
	if msgs[1].Parts.ModelName != payload.ModelName {
		t.Errorf("model = %q", msgs[1].Parts.ModelName)
	}
}

func TestListMessagesExceptSkipsRow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sess := newTestSession(t, s)

	conv, _ := sess.CreateConversation(ctx, "")
	first, _ := sess.InsertMessage(ctx, conv.ID, RoleUser, "one", nil)
	second, _ := sess.InsertMessage(ctx, conv.ID, RoleUser, "two", nil)

	msgs, err := sess.ListMessagesExcept(ctx, conv.ID, second.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].ID != first.ID {
		t.Errorf("msgs = %+v", msgs)
	}
}

func TestContentLengthBound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sess := newTestSession(t, s)

	conv, _ := sess.CreateConversation(ctx, "")
	long := strings.Repeat("x", MaxContentLength+1)

	if _, err := sess.InsertMessage(ctx, conv.ID, RoleUser, long, nil); !errors.Is(err, ErrContentTooLong) {
		t.Errorf("insert: got %v, want ErrContentTooLong", err)
	}

	// Exactly at the bound is fine.
	if _, err := sess.InsertMessage(ctx, conv.ID, RoleUser, long[:MaxContentLength], nil); err != nil {
		t.Errorf("insert at bound: %v", err)
	}
}

func TestTurnTxRollbackDiscardsEmptyAgentRow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sess := newTestSession(t, s)

	conv, _ := sess.CreateConversation(ctx, "")
	user, _ := sess.InsertMessage(ctx, conv.ID, RoleUser, "hello", nil)

	tx, err := sess.BeginTurn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	agent, err := tx.InsertAgentMessage(ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if agent.Content != "" {
		t.Errorf("agent row content = %q", agent.Content)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatal(err)
	}

	msgs, err := s.ListMessages(ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].ID != user.ID {
		t.Errorf("after rollback msgs = %+v", msgs)
	}
}

func TestTurnTxFinalize(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sess := newTestSession(t, s)

	conv, _ := sess.CreateConversation(ctx, "")
	sess.InsertMessage(ctx, conv.ID, RoleUser, "hello", nil)

	tx, _ := sess.BeginTurn(ctx)
	agent, _ := tx.InsertAgentMessage(ctx, conv.ID)

	ts := time.Now().UTC()
	payload := &PartsPayload{
		Parts:     []Part{TextPart{Content: "done"}},
		ModelName: "m",
		Timestamp: &ts,
	}
	if err := tx.Finalize(ctx, agent.ID, "done", payload); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	msgs, _ := s.ListMessages(ctx, conv.ID)
	if len(msgs) != 2 {
		t.Fatalf("msgs = %d", len(msgs))
	}
	final := msgs[1]
	if final.Content != "done" || final.Parts == nil || final.Parts.ModelName != "m" {
		t.Errorf("finalized = %+v", final)
	}
}

func TestDeleteConversationCascades(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sess := newTestSession(t, s)

	conv, _ := sess.CreateConversation(ctx, "")
	sess.InsertMessage(ctx, conv.ID, RoleUser, "hello", nil)

	if err := s.DeleteConversation(ctx, conv.ID); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	if err := s.DeleteConversation(ctx, conv.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: got %v, want ErrNotFound", err)
	}
	if _, err := s.ListMessages(ctx, conv.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("ListMessages after delete: got %v, want ErrNotFound", err)
	}
}

func TestListConversationsCounts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sess := newTestSession(t, s)

	a, _ := sess.CreateConversation(ctx, "first")
	b, _ := sess.CreateConversation(ctx, "second")
	sess.InsertMessage(ctx, a.ID, RoleUser, "1", nil)
	sess.InsertMessage(ctx, a.ID, RoleAgent, "2", nil)

	convs, err := s.ListConversations(ctx)
	if err != nil {
		t.Fatal(err)
	}
	counts := map[int64]int{}
	for _, c := range convs {
		counts[c.ID] = c.MessageCount
	}
	if counts[a.ID] != 2 || counts[b.ID] != 0 {
		t.Errorf("counts = %v", counts)
	}
}
