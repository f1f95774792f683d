// ABOUTME: Push protocol frames exchanged over live connections
// ABOUTME: Decodes client commands into fixed-schema variants and encodes server events

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Client to server events
const (
	EventAuthenticate = "authenticate"
	EventJoinChat     = "joinChat"
	EventLeaveChat    = "leaveChat"
	EventSendMessage  = "sendMessage"
	EventMarkAsRead   = "markAsRead"
)

// Server to client events
const (
	EventNewMessage          = "newMessage"
	EventMessageNotification = "messageNotification"
	EventMessagesRead        = "messagesRead"
	EventAuthenticated       = "authenticated"
	EventAuthError           = "authError"
)

// Decode errors
var (
	ErrMalformed    = errors.New("malformed frame")
	ErrUnknownEvent = errors.New("unknown event")
)

// Frame is the envelope for every push message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Command is a decoded client event. The concrete types below are the only
// implementations.
type Command interface {
	Event() string
}

// Authenticate binds the connection to the credential's subject.
type Authenticate struct {
	Token string
}

// JoinChat subscribes the connection to a conversation room.
type JoinChat struct {
	ConversationID string
}

// LeaveChat unsubscribes the connection from a conversation room.
type LeaveChat struct {
	ConversationID string
}

// SendMessage posts content to a conversation. ClientMessageID is optional
// and lets a client retry without duplicating the message.
type SendMessage struct {
	ConversationID  string
	Content         string
	ClientMessageID string
}

// MarkAsRead marks the other participant's messages read.
type MarkAsRead struct {
	ConversationID string
}

func (Authenticate) Event() string { return EventAuthenticate }
func (JoinChat) Event() string     { return EventJoinChat }
func (LeaveChat) Event() string    { return EventLeaveChat }
func (SendMessage) Event() string  { return EventSendMessage }
func (MarkAsRead) Event() string   { return EventMarkAsRead }

// conversationRef accepts both the current and the legacy field name.
type conversationRef struct {
	ConversationID string `json:"conversationId"`
	ChatID         string `json:"chatId"`
}

func (r conversationRef) id() string {
	if r.ConversationID != "" {
		return r.ConversationID
	}
	return r.ChatID
}

// Decode parses a raw frame into its command. Payloads that do not match the
// event's schema return ErrMalformed; unrecognized events ErrUnknownEvent.
func Decode(raw []byte) (Command, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch f.Event {
	case EventAuthenticate:
		// An unreadable payload becomes an empty token so the sender
		// still gets an authError reply.
		var token string
		if s, ok := decodeString(f.Data); ok {
			token = s
		} else {
			var body struct {
				Token string `json:"token"`
			}
			if err := json.Unmarshal(f.Data, &body); err == nil {
				token = body.Token
			}
		}
		return Authenticate{Token: strings.TrimSpace(token)}, nil

	case EventJoinChat, EventLeaveChat, EventMarkAsRead:
		id, err := decodeConversationID(f.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", err, f.Event)
		}
		switch f.Event {
		case EventJoinChat:
			return JoinChat{ConversationID: id}, nil
		case EventLeaveChat:
			return LeaveChat{ConversationID: id}, nil
		default:
			return MarkAsRead{ConversationID: id}, nil
		}

	case EventSendMessage:
		var body struct {
			conversationRef
			Content         string `json:"content"`
			ClientMessageID string `json:"clientMessageId"`
		}
		if err := json.Unmarshal(f.Data, &body); err != nil || body.id() == "" {
			return nil, fmt.Errorf("%w: %s", ErrMalformed, f.Event)
		}
		return SendMessage{
			ConversationID:  body.id(),
			Content:         body.Content,
			ClientMessageID: body.ClientMessageID,
		}, nil

	case "":
		return nil, fmt.Errorf("%w: missing event", ErrMalformed)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Event)
	}
}

func decodeString(data json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return "", false
	}
	return s, true
}

// decodeConversationID accepts a bare id string or an object carrying one.
func decodeConversationID(data json.RawMessage) (string, error) {
	if s, ok := decodeString(data); ok {
		if s == "" {
			return "", ErrMalformed
		}
		return s, nil
	}
	var ref conversationRef
	if err := json.Unmarshal(data, &ref); err != nil || ref.id() == "" {
		return "", ErrMalformed
	}
	return ref.id(), nil
}

// Encode wraps data in a frame for event.
func Encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", event, err)
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

// NewMessage is the payload of a newMessage event.
type NewMessage struct {
	ConversationID string      `json:"conversationId"`
	Message        MessageView `json:"message"`
}

// MessageNotification is the lightweight payload sent to a recipient's personal room.
type MessageNotification struct {
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
}

// MessagesRead is the read receipt payload.
type MessagesRead struct {
	ConversationID string `json:"conversationId"`
	ReaderID       string `json:"readerId"`
}

// Authenticated confirms a successful authenticate.
type Authenticated struct {
	UserID string `json:"userId"`
}

// AuthError reports a failed authenticate.
type AuthError struct {
	Msg string `json:"msg"`
}
