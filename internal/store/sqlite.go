package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/capitalize-ai/listing-chat/internal/conversation"
	"github.com/capitalize-ai/listing-chat/internal/model"
)

// SQLite is a Store backed by a SQLite database file. Writes are serialized
// through a single connection so that per-conversation timestamps can be
// read and assigned in one transaction.
type SQLite struct {
	db    *sqlx.DB
	clock Clock
	mu    sync.Mutex
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS messages (
	seq               INTEGER PRIMARY KEY AUTOINCREMENT,
	id                TEXT NOT NULL UNIQUE,
	conversation_id   TEXT NOT NULL,
	sender_id         TEXT NOT NULL,
	receiver_id       TEXT NOT NULL,
	subject_entity_id TEXT NOT NULL,
	text              TEXT NOT NULL DEFAULT '',
	attachment        TEXT NOT NULL DEFAULT '',
	is_read           INTEGER NOT NULL DEFAULT 0,
	created_at        INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, created_at, seq);
CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages (sender_id);
CREATE INDEX IF NOT EXISTS idx_messages_receiver ON messages (receiver_id, is_read);
`

const messageColumns = `seq, id, conversation_id, sender_id, receiver_id, subject_entity_id, text, attachment, is_read, created_at`

type messageRow struct {
	Seq             int64  `db:"seq"`
	ID              string `db:"id"`
	ConversationID  string `db:"conversation_id"`
	SenderID        string `db:"sender_id"`
	ReceiverID      string `db:"receiver_id"`
	SubjectEntityID string `db:"subject_entity_id"`
	Text            string `db:"text"`
	Attachment      string `db:"attachment"`
	Read            bool   `db:"is_read"`
	CreatedAt       int64  `db:"created_at"`
}

func (r messageRow) toMessage() model.Message {
	return model.Message{
		ID:              r.ID,
		ConversationID:  r.ConversationID,
		SenderID:        r.SenderID,
		ReceiverID:      r.ReceiverID,
		SubjectEntityID: r.SubjectEntityID,
		Text:            r.Text,
		Attachment:      r.Attachment,
		Read:            r.Read,
		CreatedAt:       time.Unix(0, r.CreatedAt).UTC(),
	}
}

func toMessages(rows []messageRow) []model.Message {
	messages := make([]model.Message, 0, len(rows))
	for _, r := range rows {
		messages = append(messages, r.toMessage())
	}
	return messages
}

// NewSQLite opens (creating if needed) the database at dbPath.
func NewSQLite(dbPath string, opts ...Option) (*SQLite, error) {
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	o := buildOptions(opts)
	return &SQLite{
		db:    db,
		clock: o.clock,
	}, nil
}

// Save implements Gateway.
func (s *SQLite) Save(ctx context.Context, msg *model.Message) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *msg
	stored.ID = uuid.Must(uuid.NewV7()).String()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, model.StoreUnavailable(fmt.Errorf("begin: %w", err))
	}
	defer tx.Rollback()

	var last int64
	if err := tx.GetContext(ctx, &last,
		`SELECT COALESCE(MAX(created_at), 0) FROM messages WHERE conversation_id = ?`,
		stored.ConversationID,
	); err != nil {
		return nil, model.StoreUnavailable(fmt.Errorf("read last timestamp: %w", err))
	}
	var lastAt time.Time
	if last > 0 {
		lastAt = time.Unix(0, last).UTC()
	}
	stored.CreatedAt = stamp(s.clock(), lastAt)

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, receiver_id, subject_entity_id, text, attachment, is_read, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stored.ID, stored.ConversationID, stored.SenderID, stored.ReceiverID, stored.SubjectEntityID,
		stored.Text, stored.Attachment, stored.Read, stored.CreatedAt.UnixNano(),
	); err != nil {
		return nil, model.StoreUnavailable(fmt.Errorf("insert message: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return nil, model.StoreUnavailable(fmt.Errorf("commit: %w", err))
	}
	return &stored, nil
}

// ListByConversation implements Gateway.
func (s *SQLite) ListByConversation(ctx context.Context, conversationID, subjectEntityID string, limit int) ([]model.Message, error) {
	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+messageColumns+` FROM messages
		 WHERE conversation_id = ? AND (? = '' OR subject_entity_id = ?)
		 ORDER BY created_at ASC, seq ASC
		 LIMIT ?`,
		conversationID, subjectEntityID, subjectEntityID, normalizeLimit(limit),
	)
	if err != nil {
		return nil, model.StoreUnavailable(fmt.Errorf("list conversation %s: %w", conversationID, err))
	}
	return toMessages(rows), nil
}

// ListBetween implements Store.
func (s *SQLite) ListBetween(ctx context.Context, a, b, subjectEntityID string, limit int) ([]model.Message, error) {
	conversationID := conversation.Resolve(a, b)
	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+messageColumns+` FROM messages
		 WHERE conversation_id = ? AND (? = '' OR subject_entity_id = ?)
		   AND ((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))
		 ORDER BY created_at ASC, seq ASC
		 LIMIT ?`,
		conversationID, subjectEntityID, subjectEntityID, a, b, b, a, normalizeLimit(limit),
	)
	if err != nil {
		return nil, model.StoreUnavailable(fmt.Errorf("list conversation %s: %w", conversationID, err))
	}
	return toMessages(rows), nil
}

// ListRoomsForParticipant implements Gateway. The latest message of a
// conversation is the one with the highest seq since timestamps are assigned
// in insertion order.
func (s *SQLite) ListRoomsForParticipant(ctx context.Context, identity string) ([]model.Message, error) {
	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT m.seq, m.id, m.conversation_id, m.sender_id, m.receiver_id, m.subject_entity_id, m.text, m.attachment, m.is_read, m.created_at
		 FROM messages m
		 JOIN (
			SELECT MAX(seq) AS seq FROM messages
			WHERE sender_id = ? OR receiver_id = ?
			GROUP BY conversation_id
		 ) latest ON latest.seq = m.seq
		 ORDER BY m.created_at DESC, m.seq DESC`,
		identity, identity,
	)
	if err != nil {
		return nil, model.StoreUnavailable(fmt.Errorf("list rooms for %s: %w", identity, err))
	}
	return toMessages(rows), nil
}

// Get implements Store.
func (s *SQLite) Get(ctx context.Context, id string) (*model.Message, error) {
	var row messageRow
	err := s.db.GetContext(ctx, &row, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFound("message not found")
	}
	if err != nil {
		return nil, model.StoreUnavailable(fmt.Errorf("get message %s: %w", id, err))
	}
	msg := row.toMessage()
	return &msg, nil
}

// MarkRead implements Store.
func (s *SQLite) MarkRead(ctx context.Context, conversationID, subjectEntityID, reader string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET is_read = 1
		 WHERE conversation_id = ? AND receiver_id = ? AND is_read = 0 AND (? = '' OR subject_entity_id = ?)`,
		conversationID, reader, subjectEntityID, subjectEntityID,
	)
	if err != nil {
		return 0, model.StoreUnavailable(fmt.Errorf("mark read %s: %w", conversationID, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, model.StoreUnavailable(err)
	}
	return int(n), nil
}

// CountUnread implements Store.
func (s *SQLite) CountUnread(ctx context.Context, conversationID, reader string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND receiver_id = ? AND is_read = 0`,
		conversationID, reader,
	)
	if err != nil {
		return 0, model.StoreUnavailable(fmt.Errorf("count unread %s: %w", conversationID, err))
	}
	return n, nil
}

// Delete implements Store.
func (s *SQLite) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return model.StoreUnavailable(fmt.Errorf("delete message %s: %w", id, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.StoreUnavailable(err)
	}
	if n == 0 {
		return model.NotFound("message not found")
	}
	return nil
}

// Ping implements Store.
func (s *SQLite) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return model.StoreUnavailable(err)
	}
	return nil
}

// Close implements Store.
func (s *SQLite) Close() error {
	return s.db.Close()
}
