package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	// SQLite driver
	_ "github.com/mattn/go-sqlite3"

	"rentalhub/internal/domain/entity"
	"rentalhub/internal/domain/repository"
	"rentalhub/pkg/logger"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cached_chats (
	user_id       TEXT NOT NULL,
	id            TEXT NOT NULL,
	participant_a TEXT NOT NULL,
	participant_b TEXT NOT NULL,
	property_id   TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL,
	seq           INTEGER NOT NULL,
	PRIMARY KEY (user_id, id)
);
CREATE TABLE IF NOT EXISTS cached_messages (
	user_id     TEXT NOT NULL,
	id          TEXT NOT NULL,
	chat_id     TEXT NOT NULL,
	sender_id   TEXT NOT NULL,
	receiver_id TEXT NOT NULL,
	content     TEXT NOT NULL,
	type        TEXT NOT NULL,
	payload     TEXT NOT NULL DEFAULT '',
	read        INTEGER NOT NULL DEFAULT 0,
	client_id   TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL,
	PRIMARY KEY (user_id, id)
);
CREATE INDEX IF NOT EXISTS idx_cached_messages_chat ON cached_messages(user_id, chat_id, created_at);
`

// SQLiteChatCache keeps every user's cached chat state in one SQLite file.
type SQLiteChatCache struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

var _ repository.ChatCache = (*SQLiteChatCache)(nil)

// NewSQLiteChatCache opens (creating if needed) the cache database at path.
func NewSQLiteChatCache(path string) (*SQLiteChatCache, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite cache path is required")
	}
	dsn := path
	if !strings.Contains(dsn, "_journal_mode=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite cache: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite cache: %w", err)
	}

	logger.Info("Chat cache opened at %s", path)
	return &SQLiteChatCache{db: db}, nil
}

func (c *SQLiteChatCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.db.Close()
}

func (c *SQLiteChatCache) checkOpen() error {
	if c.closed {
		return fmt.Errorf("sqlite cache is closed")
	}
	return nil
}

func (c *SQLiteChatCache) Load(ctx context.Context, userID string) ([]*entity.Chat, map[string][]*entity.Message, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.checkOpen(); err != nil {
		return nil, nil, err
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT id, participant_a, participant_b, property_id, status, created_at, updated_at
		FROM cached_chats WHERE user_id = ? ORDER BY seq DESC`, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("load cached chats: %w", err)
	}
	defer rows.Close()

	var chats []*entity.Chat
	for rows.Next() {
		var (
			chat             entity.Chat
			status           string
			created, updated int64
		)
		if err := rows.Scan(&chat.ID, &chat.Participants[0], &chat.Participants[1], &chat.PropertyID, &status, &created, &updated); err != nil {
			return nil, nil, fmt.Errorf("scan cached chat: %w", err)
		}
		chat.Status = entity.ChatStatus(status)
		chat.CreatedAt = time.Unix(0, created).UTC()
		chat.UpdatedAt = time.Unix(0, updated).UTC()
		chats = append(chats, &chat)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	msgRows, err := c.db.QueryContext(ctx, `
		SELECT id, chat_id, sender_id, receiver_id, content, type, payload, read, client_id, created_at
		FROM cached_messages WHERE user_id = ? ORDER BY created_at ASC, id ASC`, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("load cached messages: %w", err)
	}
	defer msgRows.Close()

	messages := make(map[string][]*entity.Message)
	for msgRows.Next() {
		var (
			msg       entity.Message
			msgType   string
			payload   string
			read      int
			createdAt int64
		)
		if err := msgRows.Scan(&msg.ID, &msg.ChatID, &msg.SenderID, &msg.ReceiverID, &msg.Content, &msgType, &payload, &read, &msg.ClientID, &createdAt); err != nil {
			return nil, nil, fmt.Errorf("scan cached message: %w", err)
		}
		var raw []byte
		if payload != "" {
			raw = []byte(payload)
		}
		msg.Payload, err = entity.DecodePayload(entity.MessageType(msgType), raw)
		if err != nil {
			logger.Warn("Dropping cached message %s: %v", msg.ID, err)
			continue
		}
		msg.Read = read != 0
		msg.CreatedAt = time.Unix(0, createdAt).UTC()
		messages[msg.ChatID] = append(messages[msg.ChatID], &msg)
	}
	return chats, messages, msgRows.Err()
}

func (c *SQLiteChatCache) ReplaceAll(ctx context.Context, userID string, chats []*entity.Chat, messages map[string][]*entity.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cache replace: %w", err)
	}
	defer tx.Rollback()

	if err := clearUser(ctx, tx, userID); err != nil {
		return err
	}
	for i, chat := range chats {
		if err := upsertChat(ctx, tx, userID, chat, int64(len(chats)-i)); err != nil {
			return err
		}
	}
	for _, list := range messages {
		for _, msg := range list {
			if msg.Pending {
				continue
			}
			if err := upsertMessage(ctx, tx, userID, msg); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// PutChat stores chat as the newest entry of the user's list.
func (c *SQLiteChatCache) PutChat(ctx context.Context, userID string, chat *entity.Chat) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(seq) FROM cached_chats WHERE user_id = ?`, userID).Scan(&maxSeq); err != nil {
		return fmt.Errorf("read cache order: %w", err)
	}
	if err := upsertChat(ctx, tx, userID, chat, maxSeq.Int64+1); err != nil {
		return err
	}
	return tx.Commit()
}

func (c *SQLiteChatCache) PutMessage(ctx context.Context, userID string, msg *entity.Message) error {
	if msg.Pending {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	return upsertMessage(ctx, c.db, userID, msg)
}

func (c *SQLiteChatCache) MarkRead(ctx context.Context, userID, chatID, receiverID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	_, err := c.db.ExecContext(ctx, `
		UPDATE cached_messages SET read = 1
		WHERE user_id = ? AND chat_id = ? AND receiver_id = ? AND read = 0`, userID, chatID, receiverID)
	if err != nil {
		return fmt.Errorf("mark cached messages read: %w", err)
	}
	return nil
}

func (c *SQLiteChatCache) DeleteChat(ctx context.Context, userID, chatID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cached_messages WHERE user_id = ? AND chat_id = ?`, userID, chatID); err != nil {
		return fmt.Errorf("delete cached messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cached_chats WHERE user_id = ? AND id = ?`, userID, chatID); err != nil {
		return fmt.Errorf("delete cached chat: %w", err)
	}
	return tx.Commit()
}

func (c *SQLiteChatCache) Clear(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := clearUser(ctx, tx, userID); err != nil {
		return err
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func clearUser(ctx context.Context, db execer, userID string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM cached_messages WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("clear cached messages: %w", err)
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM cached_chats WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("clear cached chats: %w", err)
	}
	return nil
}

func upsertChat(ctx context.Context, db execer, userID string, chat *entity.Chat, seq int64) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO cached_chats (user_id, id, participant_a, participant_b, property_id, status, created_at, updated_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, id) DO UPDATE SET
			status = excluded.status,
			updated_at = excluded.updated_at,
			seq = excluded.seq`,
		userID, chat.ID, chat.Participants[0], chat.Participants[1], chat.PropertyID, string(chat.Status),
		chat.CreatedAt.UnixNano(), chat.UpdatedAt.UnixNano(), seq)
	if err != nil {
		return fmt.Errorf("cache chat %s: %w", chat.ID, err)
	}
	return nil
}

// upsertMessage never clears read: a cached row can only move to read.
func upsertMessage(ctx context.Context, db execer, userID string, msg *entity.Message) error {
	raw, err := entity.EncodePayload(msg.Payload)
	if err != nil {
		return fmt.Errorf("encode payload of %s: %w", msg.ID, err)
	}
	read := 0
	if msg.Read {
		read = 1
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO cached_messages (user_id, id, chat_id, sender_id, receiver_id, content, type, payload, read, client_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, id) DO UPDATE SET read = MAX(cached_messages.read, excluded.read)`,
		userID, msg.ID, msg.ChatID, msg.SenderID, msg.ReceiverID, msg.Content, string(msg.Type()), string(raw),
		read, msg.ClientID, msg.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("cache message %s: %w", msg.ID, err)
	}
	return nil
}
