// ABOUTME: Tests for HTTP authentication middleware and credential extraction
// ABOUTME: Covers cookie/header precedence, rejection messages, and context propagation

package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parley/internal/apperr"
)

func TestExtractCredential(t *testing.T) {
	tests := []struct {
		name   string
		cookie string
		auth   string
		raw    string
		want   string
	}{
		{"nothing", "", "", "", ""},
		{"cookie wins", "from-cookie", "Bearer from-header", "from-raw", "from-cookie"},
		{"bearer header", "", "Bearer abc", "", "abc"},
		{"raw authorization value", "", "abc", "", "abc"},
		{"x-auth-token", "", "", "xyz", "xyz"},
		{"authorization before x-auth-token", "", "Bearer first", "second", "first"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "authToken", Value: tt.cookie})
			}
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			if tt.raw != "" {
				req.Header.Set("x-auth-token", tt.raw)
			}
			assert.Equal(t, tt.want, ExtractCredential(req, "authToken"))
		})
	}
}

func TestHTTPAuthMiddleware_ValidToken(t *testing.T) {
	v := newTestVerifier(t)
	token, err := v.Generate("user-123", time.Hour)
	require.NoError(t, err)

	var got string
	handler := HTTPAuthMiddleware(v, "authToken")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = UserID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-123", got)
}

func TestHTTPAuthMiddleware_Rejections(t *testing.T) {
	v := newTestVerifier(t)
	expired, err := v.Generate("user-123", -time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name    string
		header  string
		wantMsg string
	}{
		{"missing", "", msgNoToken},
		{"garbage", "Bearer nope", msgInvalidToken},
		{"expired", "Bearer " + expired, msgExpiredToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := HTTPAuthMiddleware(v, "authToken")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.False(t, called)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)

			var body apperr.Response
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "unauthenticated", body.Error)
			assert.Equal(t, tt.wantMsg, body.Msg)
		})
	}
}

func TestSetCredentialCookie(t *testing.T) {
	rec := httptest.NewRecorder()
	SetCredentialCookie(rec, "authToken", "tok", 7200, false)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "authToken", cookies[0].Name)
	assert.Equal(t, "tok", cookies[0].Value)
	assert.Equal(t, 7200, cookies[0].MaxAge)
	assert.True(t, cookies[0].HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, cookies[0].SameSite)
}
