// ABOUTME: Push interface: upgrades to a websocket and dispatches client events
// ABOUTME: Unauthenticated connections may only authenticate; other events are ignored

package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/2389/parley/internal/apperr"
	"github.com/2389/parley/internal/protocol"
	"github.com/2389/parley/internal/rooms"
)

// maxFrameSize caps inbound push frames.
const maxFrameSize = 64 << 10

func (g *Gateway) handlePush(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		g.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	pongWait := g.config.Push.PongTimeout
	c := newPushConn(ws, g.config.Push.SendBuffer, g.config.Push.WriteTimeout, pongWait, g.logger)
	g.trackConn(c)
	g.sessions.Open(c)
	go c.writeLoop()

	defer func() {
		g.sessions.Close(c.ID())
		g.untrackConn(c)
		c.close()
	}()

	ws.SetReadLimit(maxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	g.logger.Debug("push connection opened", "conn", c.ID(), "remote", r.RemoteAddr)

	// Push operations are not bounded by the HTTP request lifetime.
	ctx := context.WithoutCancel(r.Context())
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			g.logger.Debug("push connection closed", "conn", c.ID(), "error", err)
			return
		}
		g.handleFrame(ctx, c, data)
	}
}

func (g *Gateway) trackConn(c *pushConn) {
	g.connsMu.Lock()
	defer g.connsMu.Unlock()
	g.conns[c.ID()] = c
}

func (g *Gateway) untrackConn(c *pushConn) {
	g.connsMu.Lock()
	defer g.connsMu.Unlock()
	delete(g.conns, c.ID())
}

// handleFrame applies one client event on behalf of conn.
func (g *Gateway) handleFrame(ctx context.Context, conn rooms.Subscriber, data []byte) {
	cmd, err := protocol.Decode(data)
	if err != nil {
		g.logger.Debug("dropping push frame", "conn", conn.ID(), "error", err)
		return
	}

	if a, ok := cmd.(protocol.Authenticate); ok {
		g.authenticate(conn, a.Token)
		return
	}

	sub, userID, ok := g.sessions.Subscriber(conn.ID())
	if !ok {
		g.logger.Debug("ignoring event from unauthenticated connection", "conn", conn.ID(), "event", cmd.Event())
		return
	}

	switch cmd := cmd.(type) {
	case protocol.JoinChat:
		if err := g.conversation.Authorize(ctx, cmd.ConversationID, userID); err != nil {
			g.logPushError("joinChat refused", conn, userID, err)
			return
		}
		g.registry.Join(sub, rooms.ConversationRoom(cmd.ConversationID))

	case protocol.LeaveChat:
		g.registry.Leave(sub.ID(), rooms.ConversationRoom(cmd.ConversationID))

	case protocol.SendMessage:
		if _, _, err := g.conversation.IngestOnce(ctx, cmd.ConversationID, userID, cmd.Content, cmd.ClientMessageID); err != nil {
			g.logPushError("sendMessage failed", conn, userID, err)
		}

	case protocol.MarkAsRead:
		if _, err := g.conversation.MarkRead(ctx, cmd.ConversationID, userID); err != nil {
			g.logPushError("markAsRead failed", conn, userID, err)
		}
	}
}

// authenticate binds conn and replies with authenticated or authError.
func (g *Gateway) authenticate(conn rooms.Subscriber, credential string) {
	userID, err := g.sessions.Authenticate(conn.ID(), credential)
	if err != nil {
		g.reply(conn, protocol.EventAuthError, protocol.AuthError{Msg: apperr.MessageOf(err)})
		return
	}
	g.reply(conn, protocol.EventAuthenticated, protocol.Authenticated{UserID: userID})
}

func (g *Gateway) reply(conn rooms.Subscriber, event string, data any) {
	payload, err := protocol.Encode(event, data)
	if err != nil {
		g.logger.Error("encoding push reply", "event", event, "error", err)
		return
	}
	if err := conn.Deliver(payload); err != nil {
		g.logger.Debug("push reply not delivered", "conn", conn.ID(), "event", event, "error", err)
	}
}

func (g *Gateway) logPushError(msg string, conn rooms.Subscriber, userID string, err error) {
	switch apperr.KindOf(err) {
	case apperr.KindInternal, apperr.KindTransient:
		g.logger.Error(msg, "conn", conn.ID(), "user_id", userID, "error", err)
	default:
		g.logger.Debug(msg, "conn", conn.ID(), "user_id", userID, "error", err)
	}
}
