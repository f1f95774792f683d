// ABOUTME: Tests for the request interface routes and their error mapping
// ABOUTME: Exercises auth, conversation lifecycle, messaging and read receipts over HTTP

package gateway

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parley/internal/apperr"
	"github.com/2389/parley/internal/directory"
	"github.com/2389/parley/internal/protocol"
)

func TestAuthFlow(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")

	var me directory.Profile
	env.doJSON(t, http.MethodGet, "/api/auth/me", alice.Token, nil, http.StatusOK, &me)
	assert.Equal(t, alice.ID, me.ID)
	assert.Equal(t, "alice", me.Username)

	resp := env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "password123",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == "authToken" {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, 3600, cookie.MaxAge)

	// The cookie alone authenticates.
	req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/api/auth/me", nil)
	require.NoError(t, err)
	req.AddCookie(cookie)
	meResp, err := env.srv.Client().Do(req)
	require.NoError(t, err)
	meResp.Body.Close()
	assert.Equal(t, http.StatusOK, meResp.StatusCode)
}

func TestLogin_WrongPassword(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice")

	var body apperr.Response
	env.doJSON(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "nope",
	}, http.StatusBadRequest, &body)
	assert.Equal(t, "Invalid credentials", body.Msg)
}

func TestRegister_Duplicate(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice")

	var body apperr.Response
	env.doJSON(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "alice",
		"email":    "other@example.com",
		"password": "password123",
	}, http.StatusBadRequest, &body)
	assert.Equal(t, "Username already taken", body.Msg)
}

func TestChats_RequireCredential(t *testing.T) {
	env := newTestEnv(t)

	var body apperr.Response
	env.doJSON(t, http.MethodGet, "/api/chats", "", nil, http.StatusUnauthorized, &body)
	assert.Equal(t, "No token, authorization denied", body.Msg)

	env.doJSON(t, http.MethodGet, "/api/chats", "garbage", nil, http.StatusUnauthorized, &body)
	assert.Equal(t, "Token is not valid", body.Msg)
}

func TestFindOrCreate(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")

	var first, second protocol.ConversationView
	env.doJSON(t, http.MethodPost, "/api/chats/user/"+bob.ID, alice.Token, nil, http.StatusCreated, &first)
	env.doJSON(t, http.MethodPost, "/api/chats/withUser/"+alice.ID, bob.Token, nil, http.StatusOK, &second)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, first.Participants, 2)

	var body apperr.Response
	env.doJSON(t, http.MethodPost, "/api/chats/user/"+alice.ID, alice.Token, nil, http.StatusBadRequest, &body)
	assert.Equal(t, "Cannot create chat with yourself", body.Msg)

	env.doJSON(t, http.MethodPost, "/api/chats/user/missing", alice.Token, nil, http.StatusNotFound, &body)
	assert.Equal(t, "User not found", body.Msg)
}

func TestPostMessageAndFetch(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")
	eve := env.register(t, "eve")

	var chat protocol.ConversationView
	env.doJSON(t, http.MethodPost, "/api/chats/user/"+bob.ID, alice.Token, nil, http.StatusCreated, &chat)

	var msg protocol.MessageView
	env.doJSON(t, http.MethodPost, "/api/chats/"+chat.ID+"/messages", alice.Token,
		map[string]string{"content": "hello **bob**"}, http.StatusCreated, &msg)
	assert.Equal(t, "hello **bob**", msg.Content)
	assert.Contains(t, msg.HTML, "<strong>bob</strong>")
	assert.Equal(t, alice.ID, msg.Sender.ID)
	assert.False(t, msg.Read)

	var fetched protocol.ConversationView
	env.doJSON(t, http.MethodGet, "/api/chats/"+chat.ID, bob.Token, nil, http.StatusOK, &fetched)
	require.Len(t, fetched.Messages, 1)
	assert.Equal(t, msg.ID, fetched.Messages[0].ID)

	var body apperr.Response
	env.doJSON(t, http.MethodPost, "/api/chats/"+chat.ID+"/messages", alice.Token,
		map[string]string{"content": "   "}, http.StatusBadRequest, &body)
	assert.Equal(t, "Message content is required", body.Msg)

	env.doJSON(t, http.MethodPost, "/api/chats/"+chat.ID+"/messages", eve.Token,
		map[string]string{"content": "intruding"}, http.StatusForbidden, nil)
	env.doJSON(t, http.MethodGet, "/api/chats/"+chat.ID, eve.Token, nil, http.StatusForbidden, nil)

	env.doJSON(t, http.MethodPost, "/api/chats/nope/messages", alice.Token,
		map[string]string{"content": "hi"}, http.StatusNotFound, &body)
	assert.Equal(t, "Chat not found", body.Msg)

	env.doJSON(t, http.MethodPost, "/api/chats/"+chat.ID+"/messages", alice.Token,
		nil, http.StatusBadRequest, nil)
}

func TestPostMessage_ClientRetryIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")

	var chat protocol.ConversationView
	env.doJSON(t, http.MethodPost, "/api/chats/user/"+bob.ID, alice.Token, nil, http.StatusCreated, &chat)

	req := map[string]string{"content": "once", "clientMessageId": "c-1"}
	var first protocol.MessageView
	var retry duplicateResponse
	env.doJSON(t, http.MethodPost, "/api/chats/"+chat.ID+"/messages", alice.Token, req, http.StatusCreated, &first)
	env.doJSON(t, http.MethodPost, "/api/chats/"+chat.ID+"/messages", alice.Token, req, http.StatusOK, &retry)
	assert.True(t, retry.Duplicate)
	assert.Equal(t, "c-1", retry.ClientMessageID)
	assert.Equal(t, first.ID, retry.MessageID)

	var fetched protocol.ConversationView
	env.doJSON(t, http.MethodGet, "/api/chats/"+chat.ID, alice.Token, nil, http.StatusOK, &fetched)
	assert.Len(t, fetched.Messages, 1)
}

func TestListAndMarkRead(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")

	var chat protocol.ConversationView
	env.doJSON(t, http.MethodPost, "/api/chats/user/"+bob.ID, alice.Token, nil, http.StatusCreated, &chat)
	for _, content := range []string{"one", "two"} {
		env.doJSON(t, http.MethodPost, "/api/chats/"+chat.ID+"/messages", alice.Token,
			map[string]string{"content": content}, http.StatusCreated, nil)
	}

	var list []protocol.ConversationSummaryView
	env.doJSON(t, http.MethodGet, "/api/chats", bob.Token, nil, http.StatusOK, &list)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].UnreadCount)
	require.NotNil(t, list[0].OtherUser)
	assert.Equal(t, alice.ID, list[0].OtherUser.ID)
	require.NotNil(t, list[0].LastMessage)
	assert.Equal(t, "two", list[0].LastMessage.Content)

	var read map[string]bool
	env.doJSON(t, http.MethodPost, "/api/chats/"+chat.ID+"/read", bob.Token, nil, http.StatusOK, &read)
	assert.True(t, read["changed"])
	env.doJSON(t, http.MethodPost, "/api/chats/"+chat.ID+"/read", bob.Token, nil, http.StatusOK, &read)
	assert.False(t, read["changed"])

	env.doJSON(t, http.MethodGet, "/api/chats", bob.Token, nil, http.StatusOK, &list)
	assert.Equal(t, 0, list[0].UnreadCount)
}

func TestCreatePlaceholder(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")

	var chat protocol.ConversationView
	env.doJSON(t, http.MethodPost, "/api/chats", alice.Token, nil, http.StatusCreated, &chat)
	require.Len(t, chat.Participants, 1)
	assert.Equal(t, alice.ID, chat.Participants[0].ID)
}

func TestChatAction_UnknownRoute(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")

	env.doJSON(t, http.MethodPost, "/api/chats/abc/archive", alice.Token, nil, http.StatusNotFound, nil)
}

func TestUsers(t *testing.T) {
	env := newTestEnv(t)
	bob := env.register(t, "bob")
	env.register(t, "alice")

	var users []directory.Profile
	env.doJSON(t, http.MethodGet, "/api/auth/users", bob.Token, nil, http.StatusOK, &users)
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].Username)
	assert.Equal(t, "bob", users[1].Username)
}
