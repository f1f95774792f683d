// ABOUTME: Store interface and data types for parley chat persistence
// ABOUTME: Defines Conversation, Message, User and the taxonomy errors the store returns

package store

import (
	"context"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/2389/parley/internal/apperr"
)

// Errors returned by Store implementations. Each carries its taxonomy kind.
var (
	ErrConversationNotFound = apperr.New(apperr.KindNotFound, "Chat not found")
	ErrNotParticipant       = apperr.New(apperr.KindForbidden, "Not authorized to access this chat")
	ErrSelfConversation     = apperr.New(apperr.KindInvalidArgument, "Cannot create chat with yourself")
	ErrEmptyContent         = apperr.New(apperr.KindInvalidArgument, "Message content is required")
	ErrMissingParticipant   = apperr.New(apperr.KindInvalidArgument, "Participant id is required")
	ErrUserNotFound         = apperr.New(apperr.KindNotFound, "User not found")
	ErrUsernameTaken        = apperr.New(apperr.KindInvalidArgument, "Username already taken")
	ErrEmailTaken           = apperr.New(apperr.KindInvalidArgument, "Email already registered")
)

// Conversation is a two-party message thread. A conversation created through
// the bare create operation has a single participant until it is abandoned.
type Conversation struct {
	ID           string
	Participants []string
	CreatedAt    time.Time
	LastActivity time.Time
	Messages     []*Message // populated by GetConversation only
}

// HasParticipant reports whether userID belongs to the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	return slices.Contains(c.Participants, userID)
}

// OtherParticipants returns every participant except userID.
func (c *Conversation) OtherParticipants(userID string) []string {
	others := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p != userID {
			others = append(others, p)
		}
	}
	return others
}

// Message is a single entry in a conversation. Seq is the append position and
// is the ordering authority within a conversation.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	Seq            int64
	Timestamp      time.Time
	Read           bool
}

// ConversationSummary is one row of a user's conversation list.
type ConversationSummary struct {
	Conversation *Conversation
	LastMessage  *Message // nil when the conversation has no messages
	UnreadCount  int
}

// User is a directory entry. PasswordHash is a bcrypt hash.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Avatar       string
	CreatedAt    time.Time
}

// PairKey is the normalized identity of an unordered participant pair.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

// ConversationStore holds conversation and message records.
type ConversationStore interface {
	// ListConversationsForUser returns every conversation userID participates
	// in, most recently active first, with last message and unread count.
	ListConversationsForUser(ctx context.Context, userID string) ([]*ConversationSummary, error)

	// GetConversation returns the conversation with its messages in append order.
	GetConversation(ctx context.Context, conversationID, requesterID string) (*Conversation, error)

	// LookupConversation returns the conversation without messages or authorization.
	LookupConversation(ctx context.Context, conversationID string) (*Conversation, error)

	// FindOrCreateConversation returns the conversation for the unordered pair,
	// creating it if needed. created reports whether this call inserted it.
	FindOrCreateConversation(ctx context.Context, userA, userB string) (conv *Conversation, created bool, err error)

	// CreatePlaceholderConversation creates a conversation with only ownerID.
	CreatePlaceholderConversation(ctx context.Context, ownerID string) (*Conversation, error)

	// AppendMessage persists a new message and advances LastActivity.
	AppendMessage(ctx context.Context, conversationID, senderID, content string) (*Message, *Conversation, error)

	// MarkRead flags every unread message not sent by readerID as read.
	MarkRead(ctx context.Context, conversationID, readerID string) (changed bool, conv *Conversation, err error)
}

// UserStore holds directory records.
type UserStore interface {
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUsers(ctx context.Context, ids []string) (map[string]*User, error)
	ListUsers(ctx context.Context, limit int) ([]*User, error)
}

// Store is everything the gateway persists.
type Store interface {
	ConversationStore
	UserStore
	Ping(ctx context.Context) error
	io.Closer
}

func normalizeContent(content string) string {
	return strings.TrimSpace(content)
}
