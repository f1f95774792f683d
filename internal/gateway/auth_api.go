// ABOUTME: Request interface for the user directory: register, login, logout, me, users
// ABOUTME: Issues signed credentials and sets them as an HttpOnly cookie

package gateway

import (
	"net/http"

	"github.com/2389/parley/internal/auth"
	"github.com/2389/parley/internal/directory"
)

func (g *Gateway) registerAuthRoutes(mux *http.ServeMux) {
	mux.Handle("POST /api/auth/register", g.withTimeout(http.HandlerFunc(g.handleRegister)))
	mux.Handle("POST /api/auth/login", g.withTimeout(http.HandlerFunc(g.handleLogin)))
	mux.HandleFunc("POST /api/auth/logout", g.handleLogout)
	mux.Handle("GET /api/auth/me", g.authed(g.handleMe))
	mux.Handle("GET /api/auth/users", g.authed(g.handleUsers))
}

type credentialResponse struct {
	Success bool               `json:"success"`
	Token   string             `json:"token"`
	User    *directory.Profile `json:"user"`
}

func (g *Gateway) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in directory.RegisterInput
	if err := decodeBody(w, r, &in); err != nil {
		g.writeError(w, r, err)
		return
	}

	profile, err := g.directory.Register(r.Context(), in)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.issueCredential(w, r, http.StatusCreated, profile)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.writeError(w, r, err)
		return
	}

	profile, err := g.directory.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.issueCredential(w, r, http.StatusOK, profile)
}

func (g *Gateway) handleLogout(w http.ResponseWriter, r *http.Request) {
	auth.SetCredentialCookie(w, g.config.Auth.CookieName, "", -1, r.TLS != nil)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (g *Gateway) handleMe(w http.ResponseWriter, r *http.Request) {
	profile, err := g.directory.Get(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (g *Gateway) handleUsers(w http.ResponseWriter, r *http.Request) {
	users, err := g.directory.List(r.Context())
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// issueCredential signs a token for profile, sets the cookie and writes the body.
func (g *Gateway) issueCredential(w http.ResponseWriter, r *http.Request, status int, profile *directory.Profile) {
	ttl := g.config.Auth.TokenTTL
	token, err := g.verifier.Generate(profile.ID, ttl)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	auth.SetCredentialCookie(w, g.config.Auth.CookieName, token, int(ttl.Seconds()), r.TLS != nil)
	writeJSON(w, status, credentialResponse{Success: true, Token: token, User: profile})
}
