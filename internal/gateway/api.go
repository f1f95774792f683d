// ABOUTME: Request interface for conversations: list, fetch, create, post and read
// ABOUTME: Maps pipeline errors onto HTTP status codes through apperr

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/2389/parley/internal/apperr"
	"github.com/2389/parley/internal/auth"
)

// maxRequestBody caps JSON request bodies.
const maxRequestBody = 64 << 10

var (
	errInvalidBody  = apperr.New(apperr.KindInvalidArgument, "Invalid request body")
	errRouteMissing = apperr.New(apperr.KindNotFound, "Not found")
)

// registerChatRoutes registers the authenticated conversation endpoints.
//
// POST /api/chats/{first}/{second} is a single pattern because
// /api/chats/user/{userId} and /api/chats/{id}/messages overlap.
func (g *Gateway) registerChatRoutes(mux *http.ServeMux) {
	mux.Handle("GET /api/chats", g.authed(g.handleListChats))
	mux.Handle("POST /api/chats", g.authed(g.handleCreatePlaceholder))
	mux.Handle("GET /api/chats/{id}", g.authed(g.handleGetChat))
	mux.Handle("POST /api/chats/{first}/{second}", g.authed(g.handleChatAction))
}

// authed wraps a handler with credential verification and the request timeout.
func (g *Gateway) authed(h http.HandlerFunc) http.Handler {
	return auth.HTTPAuthMiddleware(g.verifier, g.config.Auth.CookieName)(g.withTimeout(h))
}

// withTimeout bounds every request interface operation by server.request_timeout.
func (g *Gateway) withTimeout(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.config.Server.RequestTimeout <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), g.config.Server.RequestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (g *Gateway) handleListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := g.conversation.List(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

func (g *Gateway) handleGetChat(w http.ResponseWriter, r *http.Request) {
	chat, err := g.conversation.Get(r.Context(), r.PathValue("id"), auth.UserID(r.Context()))
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (g *Gateway) handleCreatePlaceholder(w http.ResponseWriter, r *http.Request) {
	chat, err := g.conversation.CreatePlaceholder(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

// handleChatAction dispatches the two-segment POST routes.
func (g *Gateway) handleChatAction(w http.ResponseWriter, r *http.Request) {
	first, second := r.PathValue("first"), r.PathValue("second")
	switch {
	case first == "user" || first == "withUser":
		g.handleFindOrCreate(w, r, second)
	case second == "messages":
		g.handlePostMessage(w, r, first)
	case second == "read":
		g.handleMarkRead(w, r, first)
	default:
		g.writeError(w, r, errRouteMissing)
	}
}

func (g *Gateway) handleFindOrCreate(w http.ResponseWriter, r *http.Request, otherID string) {
	chat, created, err := g.conversation.FindOrCreate(r.Context(), auth.UserID(r.Context()), otherID)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, chat)
}

type postMessageRequest struct {
	Content         string `json:"content"`
	ClientMessageID string `json:"clientMessageId"`
}

// duplicateResponse acknowledges a retried post that was already ingested.
type duplicateResponse struct {
	Duplicate       bool   `json:"duplicate"`
	ClientMessageID string `json:"clientMessageId"`
	MessageID       string `json:"messageId"`
}

func (g *Gateway) handlePostMessage(w http.ResponseWriter, r *http.Request, conversationID string) {
	var req postMessageRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.writeError(w, r, err)
		return
	}

	msg, duplicateOf, err := g.conversation.IngestOnce(r.Context(), conversationID, auth.UserID(r.Context()), req.Content, req.ClientMessageID)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	if duplicateOf != "" {
		writeJSON(w, http.StatusOK, duplicateResponse{
			Duplicate:       true,
			ClientMessageID: req.ClientMessageID,
			MessageID:       duplicateOf,
		})
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (g *Gateway) handleMarkRead(w http.ResponseWriter, r *http.Request, conversationID string) {
	changed, err := g.conversation.MarkRead(r.Context(), conversationID, auth.UserID(r.Context()))
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true, "changed": changed})
}

// decodeBody reads a bounded JSON body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Wrap(apperr.KindInvalidArgument, "Request body is required", err)
		}
		return apperr.Wrap(apperr.KindInvalidArgument, errInvalidBody.Message, err)
	}
	return nil
}

// writeError logs server-side failures and writes the structured error response.
func (g *Gateway) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch apperr.KindOf(err) {
	case apperr.KindInternal, apperr.KindTransient:
		g.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	default:
		g.logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	apperr.WriteHTTP(w, err)
}
