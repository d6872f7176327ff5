// Package store persists conversations and messages over database/sql. The
// same queries run on Postgres (pgx) and SQLite (modernc); both accept $N
// placeholders and RETURNING.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Message roles.
const (
	RoleUser  = "USER"
	RoleAgent = "AGENT"
)

// DefaultTitle is the title of a lazily created conversation.
const DefaultTitle = "New Conversation"

// MaxContentLength bounds the plain-text content of a message. Writes above
// the bound are rejected before touching the database.
const MaxContentLength = 25_000

var (
	ErrNotFound       = errors.New("not found")
	ErrContentTooLong = fmt.Errorf("message content exceeds %d characters", MaxContentLength)
)

// Conversation is one chat thread. MessageCount is populated by
// ListConversations only.
type Conversation struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// Message is one persisted message row. Parts is nil for USER messages and
// for legacy text-only AGENT messages.
type Message struct {
	ID             int64         `json:"id"`
	ConversationID int64         `json:"conversation_id"`
	Role           string        `json:"role"`
	Content        string        `json:"content"`
	Parts          *PartsPayload `json:"parts,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Store wraps the shared connection pool. REST handlers query it directly;
// each websocket connection acquires a dedicated Session.
type Store struct {
	db *sql.DB
}

// Acquire reserves a dedicated connection for one websocket session.
func (s *Store) Acquire(ctx context.Context) (*Session, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return &Session{conn: conn}, nil
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// ListConversations returns all conversations newest-first with their message
// counts.
func (s *Store) ListConversations(ctx context.Context) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.title, c.created_at, c.updated_at, COUNT(m.id)
		FROM conversations c
		LEFT JOIN messages m ON m.conversation_id = c.id
		GROUP BY c.id, c.title, c.created_at, c.updated_at
		ORDER BY c.updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt, &c.MessageCount); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		c.CreatedAt = c.CreatedAt.UTC()
		c.UpdatedAt = c.UpdatedAt.UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetConversation fetches one conversation by id.
func (s *Store) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	return getConversation(ctx, s.db, id)
}

// ListMessages returns all messages of a conversation in creation order.
// Returns ErrNotFound if the conversation does not exist.
func (s *Store) ListMessages(ctx context.Context, conversationID int64) ([]Message, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	return listMessages(ctx, s.db, conversationID, 0)
}

// DeleteConversation removes a conversation; messages cascade at the schema
// level. Returns ErrNotFound if it does not exist.
func (s *Store) DeleteConversation(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete conversation %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// querier covers *sql.DB, *sql.Conn and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Session is a per-connection database handle. It is not safe for concurrent
// use; a websocket connection processes one turn at a time.
type Session struct {
	conn *sql.Conn
}

// Close releases the dedicated connection back to the pool.
func (s *Session) Close() error {
	return s.conn.Close()
}

// CreateConversation inserts a conversation and returns the stored row.
func (s *Session) CreateConversation(ctx context.Context, title string) (*Conversation, error) {
	if title == "" {
		title = DefaultTitle
	}
	now := time.Now().UTC()
	var id int64
	err := s.conn.QueryRowContext(ctx, `
		INSERT INTO conversations (title, created_at, updated_at)
		VALUES ($1, $2, $3) RETURNING id`, title, now, now).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	return &Conversation{ID: id, Title: title, CreatedAt: now, UpdatedAt: now}, nil
}

// GetConversation fetches one conversation by id.
func (s *Session) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	return getConversation(ctx, s.conn, id)
}

// InsertMessage persists a message and returns the stored row with its
// server-assigned id. The parent conversation's updated_at is touched.
func (s *Session) InsertMessage(ctx context.Context, conversationID int64, role, content string, payload *PartsPayload) (*Message, error) {
	return insertMessage(ctx, s.conn, conversationID, role, content, payload)
}

// ListMessagesExcept returns the conversation's messages in creation order,
// skipping the message with the given id. Used to load the history that
// precedes the just-inserted user prompt.
func (s *Session) ListMessagesExcept(ctx context.Context, conversationID, exceptID int64) ([]Message, error) {
	return listMessages(ctx, s.conn, conversationID, exceptID)
}

// BeginTurn opens the transaction window covering one agent run. The empty
// AGENT row inserted at run start stays invisible until Commit; a turn error
// rolls it back.
func (s *Session) BeginTurn(ctx context.Context) (*TurnTx, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin turn: %w", err)
	}
	return &TurnTx{tx: tx}, nil
}

// TurnTx is the per-turn transaction.
type TurnTx struct {
	tx   *sql.Tx
	done bool
}

// InsertAgentMessage inserts the empty AGENT row that anchors the turn's
// streamed envelopes.
func (t *TurnTx) InsertAgentMessage(ctx context.Context, conversationID int64) (*Message, error) {
	return insertMessage(ctx, t.tx, conversationID, RoleAgent, "", nil)
}

// Finalize writes the turn result onto the AGENT row.
func (t *TurnTx) Finalize(ctx context.Context, messageID int64, content string, payload *PartsPayload) error {
	if len(content) > MaxContentLength {
		return ErrContentTooLong
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal parts payload: %w", err)
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE messages SET content = $1, parts = $2 WHERE id = $3`,
		content, data, messageID)
	if err != nil {
		return fmt.Errorf("finalize message %d: %w", messageID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Commit commits the turn.
func (t *TurnTx) Commit() error {
	t.done = true
	return t.tx.Commit()
}

// Rollback aborts the turn; safe to defer after Commit.
func (t *TurnTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback()
}

func getConversation(ctx context.Context, q querier, id int64) (*Conversation, error) {
	var c Conversation
	err := q.QueryRowContext(ctx, `
		SELECT id, title, created_at, updated_at FROM conversations WHERE id = $1`, id).
		Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation %d: %w", id, err)
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

func insertMessage(ctx context.Context, q querier, conversationID int64, role, content string, payload *PartsPayload) (*Message, error) {
	if len(content) > MaxContentLength {
		return nil, ErrContentTooLong
	}

	var data []byte
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal parts payload: %w", err)
		}
	}

	now := time.Now().UTC()
	var id int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO messages (conversation_id, role, content, parts, created_at)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		conversationID, role, content, nullableBytes(data), now).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("insert %s message: %w", role, err)
	}

	if _, err := q.ExecContext(ctx, `
		UPDATE conversations SET updated_at = $1 WHERE id = $2`, now, conversationID); err != nil {
		return nil, fmt.Errorf("touch conversation %d: %w", conversationID, err)
	}

	return &Message{
		ID:             id,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Parts:          payload,
		CreatedAt:      now,
	}, nil
}

func listMessages(ctx context.Context, q querier, conversationID, exceptID int64) ([]Message, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, parts, created_at
		FROM messages
		WHERE conversation_id = $1 AND id != $2
		ORDER BY created_at, id`, conversationID, exceptID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m    Message
			data []byte
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &data, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt = m.CreatedAt.UTC()
		if len(data) > 0 {
			var payload PartsPayload
			if err := json.Unmarshal(data, &payload); err != nil {
				return nil, fmt.Errorf("message %d: %w", m.ID, err)
			}
			m.Parts = &payload
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
