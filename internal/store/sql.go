// ABOUTME: SQLStore implements the chat Store over database/sql for both dialects
// ABOUTME: Enforces pair uniqueness, append ordering, and read-state transitions

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/parley/internal/apperr"
)

// SQLStore implements Store over a database/sql handle.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger
	now     func() time.Time
}

func newSQLStore(db *sql.DB, d dialect, logger *slog.Logger) *SQLStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLStore{
		db:      db,
		dialect: d,
		logger:  logger.With("component", "store", "driver", d.name),
		now:     time.Now,
	}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		username      TEXT NOT NULL UNIQUE,
		email         TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		avatar        TEXT NOT NULL DEFAULT '',
		created_at    BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS conversations (
		id            TEXT PRIMARY KEY,
		participant_a TEXT NOT NULL,
		participant_b TEXT,
		pair_key      TEXT UNIQUE,
		created_at    BIGINT NOT NULL,
		last_activity BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_a ON conversations(participant_a, last_activity)`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_b ON conversations(participant_b, last_activity)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id),
		seq             BIGINT NOT NULL,
		sender_id       TEXT NOT NULL,
		content         TEXT NOT NULL,
		created_at      BIGINT NOT NULL,
		is_read         INTEGER NOT NULL DEFAULT 0,
		UNIQUE (conversation_id, seq)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages(conversation_id, is_read, sender_id)`,
}

// createSchema creates the database tables if they don't exist
func (s *SQLStore) createSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// unavailable classifies a driver failure as transient. Taxonomy errors pass through.
func unavailable(op string, err error) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperr.Wrap(apperr.KindTransient, "Service temporarily unavailable", fmt.Errorf("%s: %w", op, err))
}

func (s *SQLStore) q(query string) string {
	return s.dialect.rebind(query)
}

// Ping checks that the database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var (
		c                 Conversation
		a                 string
		b                 sql.NullString
		created, activity int64
	)
	if err := row.Scan(&c.ID, &a, &b, &created, &activity); err != nil {
		return nil, err
	}
	c.Participants = []string{a}
	if b.Valid {
		c.Participants = append(c.Participants, b.String)
	}
	c.CreatedAt = fromNanos(created)
	c.LastActivity = fromNanos(activity)
	return &c, nil
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

const conversationColumns = `id, participant_a, participant_b, created_at, last_activity`

// LookupConversation retrieves a conversation by id without its messages.
func (s *SQLStore) LookupConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		s.q(`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`), conversationID)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, unavailable("querying conversation", err)
	}
	return c, nil
}

// GetConversation returns the conversation with every message in append order.
// Fails with ErrConversationNotFound or ErrNotParticipant.
func (s *SQLStore) GetConversation(ctx context.Context, conversationID, requesterID string) (*Conversation, error) {
	c, err := s.LookupConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(requesterID) {
		return nil, ErrNotParticipant
	}

	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, conversation_id, seq, sender_id, content, created_at, is_read
		FROM messages
		WHERE conversation_id = ?
		ORDER BY seq ASC
	`), conversationID)
	if err != nil {
		return nil, unavailable("querying messages", err)
	}
	defer rows.Close()

	c.Messages = []*Message{}
	for rows.Next() {
		var (
			m    Message
			ts   int64
			read int64
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Seq, &m.SenderID, &m.Content, &ts, &read); err != nil {
			return nil, unavailable("scanning message", err)
		}
		m.Timestamp = fromNanos(ts)
		m.Read = read != 0
		c.Messages = append(c.Messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating messages", err)
	}
	return c, nil
}

// ListConversationsForUser returns the user's conversations ordered by last
// activity (newest first), each with its last message and unread count.
func (s *SQLStore) ListConversationsForUser(ctx context.Context, userID string) ([]*ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT c.id, c.participant_a, c.participant_b, c.created_at, c.last_activity,
			m.id, m.seq, m.sender_id, m.content, m.created_at, m.is_read,
			(SELECT COUNT(*) FROM messages u
				WHERE u.conversation_id = c.id AND u.is_read = 0 AND u.sender_id <> ?) AS unread
		FROM conversations c
		LEFT JOIN messages m ON m.conversation_id = c.id
			AND m.seq = (SELECT MAX(x.seq) FROM messages x WHERE x.conversation_id = c.id)
		WHERE c.participant_a = ? OR c.participant_b = ?
		ORDER BY c.last_activity DESC, c.id ASC
	`), userID, userID, userID)
	if err != nil {
		return nil, unavailable("listing conversations", err)
	}
	defer rows.Close()

	summaries := []*ConversationSummary{}
	for rows.Next() {
		var (
			c                 Conversation
			a                 string
			b                 sql.NullString
			created, activity int64
			mID, mSender      sql.NullString
			mContent          sql.NullString
			mSeq, mTS, mRead  sql.NullInt64
			unread            int64
		)
		if err := rows.Scan(&c.ID, &a, &b, &created, &activity,
			&mID, &mSeq, &mSender, &mContent, &mTS, &mRead, &unread); err != nil {
			return nil, unavailable("scanning conversation", err)
		}
		c.Participants = []string{a}
		if b.Valid {
			c.Participants = append(c.Participants, b.String)
		}
		c.CreatedAt = fromNanos(created)
		c.LastActivity = fromNanos(activity)

		summary := &ConversationSummary{Conversation: &c, UnreadCount: int(unread)}
		if mID.Valid {
			summary.LastMessage = &Message{
				ID:             mID.String,
				ConversationID: c.ID,
				SenderID:       mSender.String,
				Content:        mContent.String,
				Seq:            mSeq.Int64,
				Timestamp:      fromNanos(mTS.Int64),
				Read:           mRead.Int64 != 0,
			}
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating conversations", err)
	}
	return summaries, nil
}

func (s *SQLStore) conversationByPair(ctx context.Context, key string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		s.q(`SELECT `+conversationColumns+` FROM conversations WHERE pair_key = ?`), key)
	return scanConversation(row)
}

// FindOrCreateConversation returns the single conversation for the unordered
// pair {userA, userB}. The UNIQUE pair_key index decides concurrent races: a
// loser of the insert race re-reads the winner's row.
func (s *SQLStore) FindOrCreateConversation(ctx context.Context, userA, userB string) (*Conversation, bool, error) {
	if userA == "" || userB == "" {
		return nil, false, ErrMissingParticipant
	}
	if userA == userB {
		return nil, false, ErrSelfConversation
	}
	key := PairKey(userA, userB)

	existing, err := s.conversationByPair(ctx, key)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, unavailable("querying conversation pair", err)
	}

	now := s.now().UTC()
	c := &Conversation{
		ID:           uuid.New().String(),
		Participants: []string{userA, userB},
		CreatedAt:    now,
		LastActivity: now,
	}
	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO conversations (id, participant_a, participant_b, pair_key, created_at, last_activity)
		VALUES (?, ?, ?, ?, ?, ?)
	`), c.ID, userA, userB, key, now.UnixNano(), now.UnixNano())
	if err != nil {
		if s.dialect.uniqueViolation(err) {
			s.logger.Debug("conversation pair created concurrently, reusing", "pair", key)
			existing, lookupErr := s.conversationByPair(ctx, key)
			if lookupErr != nil {
				return nil, false, unavailable("re-reading conversation pair", lookupErr)
			}
			return existing, false, nil
		}
		return nil, false, unavailable("inserting conversation", err)
	}

	s.logger.Debug("created conversation", "id", c.ID, "pair", key)
	return c, true, nil
}

// CreatePlaceholderConversation creates a conversation whose only participant is ownerID.
func (s *SQLStore) CreatePlaceholderConversation(ctx context.Context, ownerID string) (*Conversation, error) {
	if ownerID == "" {
		return nil, ErrMissingParticipant
	}
	now := s.now().UTC()
	c := &Conversation{
		ID:           uuid.New().String(),
		Participants: []string{ownerID},
		CreatedAt:    now,
		LastActivity: now,
		Messages:     []*Message{},
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO conversations (id, participant_a, participant_b, pair_key, created_at, last_activity)
		VALUES (?, ?, NULL, NULL, ?, ?)
	`), c.ID, ownerID, now.UnixNano(), now.UnixNano())
	if err != nil {
		return nil, unavailable("inserting conversation", err)
	}
	return c, nil
}

// AppendMessage persists a message inside one transaction: the conversation
// row is locked, the next seq is assigned, and last_activity advances to the
// message timestamp. Timestamps never go backwards within a conversation.
func (s *SQLStore) AppendMessage(ctx context.Context, conversationID, senderID, content string) (*Message, *Conversation, error) {
	content = normalizeContent(content)
	if content == "" {
		return nil, nil, ErrEmptyContent
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, unavailable("beginning transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRowContext(ctx, s.q(`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`+s.dialect.lockRow), conversationID)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, nil, unavailable("locking conversation", err)
	}
	if !c.HasParticipant(senderID) {
		return nil, nil, ErrNotParticipant
	}

	var seq int64
	if err := tx.QueryRowContext(ctx, s.q(`SELECT COALESCE(MAX(seq), 0) FROM messages WHERE conversation_id = ?`), conversationID).Scan(&seq); err != nil {
		return nil, nil, unavailable("reading sequence", err)
	}

	ts := s.now().UTC()
	if ts.Before(c.LastActivity) {
		ts = c.LastActivity
	}

	m := &Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Seq:            seq + 1,
		Timestamp:      ts,
	}
	if _, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO messages (id, conversation_id, seq, sender_id, content, created_at, is_read)
		VALUES (?, ?, ?, ?, ?, ?, 0)
	`), m.ID, m.ConversationID, m.Seq, m.SenderID, m.Content, ts.UnixNano()); err != nil {
		return nil, nil, unavailable("inserting message", err)
	}
	if _, err := tx.ExecContext(ctx, s.q(`UPDATE conversations SET last_activity = ? WHERE id = ?`), ts.UnixNano(), conversationID); err != nil {
		return nil, nil, unavailable("updating last activity", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, unavailable("committing message", err)
	}

	c.LastActivity = ts
	return m, c, nil
}

// MarkRead flips read to true for every unread message in the conversation
// not sent by readerID. changed reports whether any row was updated.
func (s *SQLStore) MarkRead(ctx context.Context, conversationID, readerID string) (bool, *Conversation, error) {
	c, err := s.LookupConversation(ctx, conversationID)
	if err != nil {
		return false, nil, err
	}
	if !c.HasParticipant(readerID) {
		return false, nil, ErrNotParticipant
	}

	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE messages SET is_read = 1
		WHERE conversation_id = ? AND sender_id <> ? AND is_read = 0
	`), conversationID, readerID)
	if err != nil {
		return false, nil, unavailable("marking messages read", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, nil, unavailable("counting read messages", err)
	}
	return n > 0, c, nil
}
