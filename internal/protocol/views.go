// ABOUTME: JSON views of conversations and messages shared by both transports
// ABOUTME: Resolves participant ids to directory profiles and renders message HTML

package protocol

import (
	"time"

	"github.com/2389/parley/internal/directory"
	"github.com/2389/parley/internal/markdown"
	"github.com/2389/parley/internal/store"
)

// MessageView is a message as clients see it.
type MessageView struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversationId"`
	Sender         directory.Profile `json:"sender"`
	Content        string            `json:"content"`
	HTML           string            `json:"html"`
	Timestamp      time.Time         `json:"timestamp"`
	Read           bool              `json:"read"`
}

// ConversationView is a full conversation with its messages.
type ConversationView struct {
	ID           string              `json:"id"`
	Participants []directory.Profile `json:"participants"`
	Messages     []MessageView       `json:"messages"`
	CreatedAt    time.Time           `json:"createdAt"`
	LastActivity time.Time           `json:"lastActivity"`
}

// ConversationSummaryView is one row of the conversation list.
type ConversationSummaryView struct {
	ID           string             `json:"id"`
	OtherUser    *directory.Profile `json:"otherUser"`
	LastMessage  *MessageView       `json:"lastMessage"`
	LastActivity time.Time          `json:"lastActivity"`
	UnreadCount  int                `json:"unreadCount"`
}

func profileFor(id string, profiles map[string]directory.Profile) directory.Profile {
	if p, ok := profiles[id]; ok {
		return p
	}
	return directory.Profile{ID: id}
}

// NewMessageView builds the client view of m.
func NewMessageView(m *store.Message, profiles map[string]directory.Profile) MessageView {
	return MessageView{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Sender:         profileFor(m.SenderID, profiles),
		Content:        m.Content,
		HTML:           markdown.Render(m.Content),
		Timestamp:      m.Timestamp,
		Read:           m.Read,
	}
}

// NewConversationView builds the client view of c including its messages.
func NewConversationView(c *store.Conversation, profiles map[string]directory.Profile) ConversationView {
	v := ConversationView{
		ID:           c.ID,
		Participants: make([]directory.Profile, len(c.Participants)),
		Messages:     make([]MessageView, len(c.Messages)),
		CreatedAt:    c.CreatedAt,
		LastActivity: c.LastActivity,
	}
	for i, p := range c.Participants {
		v.Participants[i] = profileFor(p, profiles)
	}
	for i, m := range c.Messages {
		v.Messages[i] = NewMessageView(m, profiles)
	}
	return v
}

// NewSummaryView builds a conversation list row from viewerID's point of view.
// OtherUser is nil for a conversation with no second participant.
func NewSummaryView(s *store.ConversationSummary, viewerID string, profiles map[string]directory.Profile) ConversationSummaryView {
	v := ConversationSummaryView{
		ID:           s.Conversation.ID,
		LastActivity: s.Conversation.LastActivity,
		UnreadCount:  s.UnreadCount,
	}
	if others := s.Conversation.OtherParticipants(viewerID); len(others) > 0 {
		p := profileFor(others[0], profiles)
		v.OtherUser = &p
	}
	if s.LastMessage != nil {
		m := NewMessageView(s.LastMessage, profiles)
		v.LastMessage = &m
	}
	return v
}

// ProfileIDs collects every user id a set of conversations refers to.
func ProfileIDs(convs ...*store.Conversation) []string {
	var ids []string
	for _, c := range convs {
		ids = append(ids, c.Participants...)
		for _, m := range c.Messages {
			ids = append(ids, m.SenderID)
		}
	}
	return ids
}
