// ABOUTME: Tests for push frame decoding and encoding
// ABOUTME: Covers every client event shape, malformed payloads, and summary views

package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parley/internal/directory"
	"github.com/2389/parley/internal/store"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Command
	}{
		{"authenticate string", `{"event":"authenticate","data":"tok"}`, Authenticate{Token: "tok"}},
		{"authenticate object", `{"event":"authenticate","data":{"token":" tok "}}`, Authenticate{Token: "tok"}},
		{"authenticate without data", `{"event":"authenticate"}`, Authenticate{}},
		{"authenticate number", `{"event":"authenticate","data":42}`, Authenticate{}},
		{"authenticate object without token", `{"event":"authenticate","data":{"tok":"x"}}`, Authenticate{}},
		{"join string", `{"event":"joinChat","data":"c1"}`, JoinChat{ConversationID: "c1"}},
		{"join object", `{"event":"joinChat","data":{"conversationId":"c1"}}`, JoinChat{ConversationID: "c1"}},
		{"leave legacy field", `{"event":"leaveChat","data":{"chatId":"c1"}}`, LeaveChat{ConversationID: "c1"}},
		{"send", `{"event":"sendMessage","data":{"conversationId":"c1","content":"hi","clientMessageId":"m1"}}`,
			SendMessage{ConversationID: "c1", Content: "hi", ClientMessageID: "m1"}},
		{"send legacy field", `{"event":"sendMessage","data":{"chatId":"c1","content":"hi"}}`,
			SendMessage{ConversationID: "c1", Content: "hi"}},
		{"mark read", `{"event":"markAsRead","data":{"chatId":"c1"}}`, MarkAsRead{ConversationID: "c1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.Event(), got.Event())
		})
	}
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{"not json", `hello`, ErrMalformed},
		{"no event", `{"data":"x"}`, ErrMalformed},
		{"unknown event", `{"event":"typing","data":"c1"}`, ErrUnknownEvent},
		{"join without id", `{"event":"joinChat","data":{}}`, ErrMalformed},
		{"join empty string", `{"event":"joinChat","data":""}`, ErrMalformed},
		{"join number", `{"event":"joinChat","data":42}`, ErrMalformed},
		{"send without conversation", `{"event":"sendMessage","data":{"content":"hi"}}`, ErrMalformed},
		{"send wrong content type", `{"event":"sendMessage","data":{"conversationId":"c1","content":7}}`, ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestEncode(t *testing.T) {
	raw, err := Encode(EventMessageNotification, MessageNotification{ConversationID: "c1", SenderID: "alice"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"messageNotification","data":{"conversationId":"c1","senderId":"alice"}}`, string(raw))
}

func TestNewSummaryView(t *testing.T) {
	now := time.Now().UTC()
	profiles := map[string]directory.Profile{
		"alice": {ID: "alice", Username: "Alice"},
		"bob":   {ID: "bob", Username: "Bob"},
	}

	summary := &store.ConversationSummary{
		Conversation: &store.Conversation{ID: "c1", Participants: []string{"alice", "bob"}, LastActivity: now},
		LastMessage:  &store.Message{ID: "m1", ConversationID: "c1", SenderID: "bob", Content: "**hi**", Timestamp: now},
		UnreadCount:  3,
	}

	v := NewSummaryView(summary, "alice", profiles)
	require.NotNil(t, v.OtherUser)
	assert.Equal(t, "Bob", v.OtherUser.Username)
	require.NotNil(t, v.LastMessage)
	assert.Equal(t, "Bob", v.LastMessage.Sender.Username)
	assert.Contains(t, v.LastMessage.HTML, "<strong>hi</strong>")
	assert.Equal(t, 3, v.UnreadCount)

	placeholder := &store.ConversationSummary{
		Conversation: &store.Conversation{ID: "c2", Participants: []string{"alice"}},
	}
	pv := NewSummaryView(placeholder, "alice", profiles)
	assert.Nil(t, pv.OtherUser)
	assert.Nil(t, pv.LastMessage)

	raw, err := json.Marshal(pv)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"otherUser":null`)
}

func TestNewConversationView_UnknownSender(t *testing.T) {
	c := &store.Conversation{
		ID:           "c1",
		Participants: []string{"alice", "ghost"},
		Messages:     []*store.Message{{ID: "m1", SenderID: "ghost", Content: "boo"}},
	}

	v := NewConversationView(c, map[string]directory.Profile{"alice": {ID: "alice", Username: "Alice"}})
	assert.Equal(t, directory.Profile{ID: "ghost"}, v.Participants[1])
	assert.Equal(t, "ghost", v.Messages[0].Sender.ID)
	assert.ElementsMatch(t, []string{"alice", "ghost", "ghost"}, ProfileIDs(c))
}
