// ABOUTME: Conversation service: the single pipeline both transports call into
// ABOUTME: Persists first, then fans out to conversation and personal rooms in persisted order

package conversation

import (
	"context"
	"log/slog"

	"github.com/2389/parley/internal/apperr"
	"github.com/2389/parley/internal/dedupe"
	"github.com/2389/parley/internal/directory"
	"github.com/2389/parley/internal/protocol"
	"github.com/2389/parley/internal/rooms"
	"github.com/2389/parley/internal/store"
)

// ErrUserNotFound is returned when the other party of a new conversation is not registered.
var ErrUserNotFound = store.ErrUserNotFound

// ErrRetryInFlight is returned for a retried message whose first attempt has not finished.
var ErrRetryInFlight = apperr.New(apperr.KindTransient, "Message is still being processed")

// Directory resolves user ids to display profiles.
type Directory interface {
	Lookup(ctx context.Context, ids []string) (map[string]directory.Profile, error)
	Exists(ctx context.Context, id string) (bool, error)
}

// Broadcaster delivers an encoded event to a room's current members.
type Broadcaster interface {
	Broadcast(room string, payload []byte) int
}

// Service is the message ingestion pipeline. Neither transport touches the
// store directly for writes; everything goes through here.
type Service struct {
	store     store.ConversationStore
	directory Directory
	rooms     Broadcaster
	retries   *dedupe.Cache
	locks     *keyedMutex
	logger    *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithRetryDedupe drops repeated client message ids seen by cache.
func WithRetryDedupe(cache *dedupe.Cache) Option {
	return func(s *Service) { s.retries = cache }
}

// New creates a conversation service. Pass nil logger for default.
func New(st store.ConversationStore, dir Directory, b Broadcaster, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:     st,
		directory: dir,
		rooms:     b,
		locks:     newKeyedMutex(),
		logger:    logger.With("component", "conversation"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns the user's conversations, most recently active first.
func (s *Service) List(ctx context.Context, userID string) ([]protocol.ConversationSummaryView, error) {
	summaries, err := s.store.ListConversationsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, sum := range summaries {
		ids = append(ids, sum.Conversation.Participants...)
		if sum.LastMessage != nil {
			ids = append(ids, sum.LastMessage.SenderID)
		}
	}
	profiles, err := s.directory.Lookup(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]protocol.ConversationSummaryView, len(summaries))
	for i, sum := range summaries {
		out[i] = protocol.NewSummaryView(sum, userID, profiles)
	}
	return out, nil
}

// Get returns one conversation with its messages. The requester must be a participant.
func (s *Service) Get(ctx context.Context, conversationID, userID string) (*protocol.ConversationView, error) {
	c, err := s.store.GetConversation(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, c)
}

// Authorize checks that userID may subscribe to the conversation.
func (s *Service) Authorize(ctx context.Context, conversationID, userID string) error {
	c, err := s.store.LookupConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if !c.HasParticipant(userID) {
		return store.ErrNotParticipant
	}
	return nil
}

// FindOrCreate returns the conversation between userID and otherID, creating
// it on first contact. created reports whether this call created it.
func (s *Service) FindOrCreate(ctx context.Context, userID, otherID string) (*protocol.ConversationView, bool, error) {
	if userID == otherID {
		return nil, false, store.ErrSelfConversation
	}
	ok, err := s.directory.Exists(ctx, otherID)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, ErrUserNotFound
	}

	c, created, err := s.store.FindOrCreateConversation(ctx, userID, otherID)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.logger.Info("conversation created", "conversation_id", c.ID, "by", userID)
	} else if c, err = s.store.GetConversation(ctx, c.ID, userID); err != nil {
		return nil, false, err
	}
	v, err := s.view(ctx, c)
	return v, created, err
}

// CreatePlaceholder creates a conversation with the caller as its only participant.
func (s *Service) CreatePlaceholder(ctx context.Context, userID string) (*protocol.ConversationView, error) {
	c, err := s.store.CreatePlaceholderConversation(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, c)
}

// Ingest persists a message and fans it out. Store failures are returned
// unchanged and nothing is broadcast. On success the conversation room gets
// newMessage and every other participant's personal room gets a
// messageNotification, in that order.
//
// The per-conversation lock is held across append and broadcast so room
// members see messages in persisted order. A caller whose ctx ends while
// waiting for the lock gets a Transient error.
func (s *Service) Ingest(ctx context.Context, conversationID, senderID, content string) (*protocol.MessageView, error) {
	unlock, err := s.locks.Lock(ctx, conversationID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "Service temporarily unavailable", err)
	}
	defer unlock()

	msg, conv, err := s.store.AppendMessage(ctx, conversationID, senderID, content)
	if err != nil {
		return nil, err
	}

	// The message is committed; finish fan-out even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	profiles, err := s.directory.Lookup(ctx, []string{senderID})
	if err != nil {
		s.logger.Warn("sender profile lookup failed", "user_id", senderID, "error", err)
		profiles = nil
	}
	view := protocol.NewMessageView(msg, profiles)

	s.broadcast(rooms.ConversationRoom(conversationID), protocol.EventNewMessage, protocol.NewMessage{
		ConversationID: conversationID,
		Message:        view,
	})
	for _, other := range conv.OtherParticipants(senderID) {
		s.broadcast(rooms.UserRoom(other), protocol.EventMessageNotification, protocol.MessageNotification{
			ConversationID: conversationID,
			SenderID:       senderID,
		})
	}

	s.logger.Debug("message ingested",
		"conversation_id", conversationID,
		"message_id", msg.ID,
		"seq", msg.Seq,
		"sender", senderID)
	return &view, nil
}

// IngestOnce is Ingest with retry dedupe. A clientMessageID already ingested
// for the same sender within the dedupe window is dropped and duplicateOf
// carries the id of the message it produced. A retry that arrives while the
// first attempt is still running gets ErrRetryInFlight, since that attempt may
// yet fail. An empty clientMessageID always ingests.
func (s *Service) IngestOnce(ctx context.Context, conversationID, senderID, content, clientMessageID string) (view *protocol.MessageView, duplicateOf string, err error) {
	if clientMessageID == "" || s.retries == nil {
		view, err = s.Ingest(ctx, conversationID, senderID, content)
		return view, "", err
	}

	key := dedupe.Key(senderID, clientMessageID)
	if !s.retries.Claim(key) {
		messageID, _ := s.retries.Lookup(key)
		if messageID == "" {
			return nil, "", ErrRetryInFlight
		}
		s.logger.Debug("dropped retried message", "conversation_id", conversationID, "client_message_id", clientMessageID, "message_id", messageID)
		return nil, messageID, nil
	}

	view, err = s.Ingest(ctx, conversationID, senderID, content)
	if err != nil {
		s.retries.Release(key)
		return nil, "", err
	}
	s.retries.Resolve(key, view.ID)
	return view, "", nil
}

// MarkRead flips the reader's unread messages to read. When anything changed,
// each other participant's personal room gets a messagesRead receipt.
func (s *Service) MarkRead(ctx context.Context, conversationID, readerID string) (bool, error) {
	changed, conv, err := s.store.MarkRead(ctx, conversationID, readerID)
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}

	for _, other := range conv.OtherParticipants(readerID) {
		s.broadcast(rooms.UserRoom(other), protocol.EventMessagesRead, protocol.MessagesRead{
			ConversationID: conversationID,
			ReaderID:       readerID,
		})
	}
	return true, nil
}

func (s *Service) broadcast(room, event string, data any) {
	payload, err := protocol.Encode(event, data)
	if err != nil {
		s.logger.Error("encoding event", "event", event, "error", err)
		return
	}
	n := s.rooms.Broadcast(room, payload)
	s.logger.Debug("event broadcast", "event", event, "room", room, "delivered", n)
}

func (s *Service) view(ctx context.Context, c *store.Conversation) (*protocol.ConversationView, error) {
	profiles, err := s.directory.Lookup(ctx, protocol.ProfileIDs(c))
	if err != nil {
		return nil, err
	}
	v := protocol.NewConversationView(c, profiles)
	return &v, nil
}
