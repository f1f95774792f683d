// ABOUTME: HTTP middleware for credential authentication on API endpoints
// ABOUTME: Reads the credential from a cookie or header and adds the user id to context

package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/2389/parley/internal/apperr"
)

// Messages returned to clients on authentication failure.
const (
	msgNoToken      = "No token, authorization denied"
	msgInvalidToken = "Token is not valid"
	msgExpiredToken = "Token expired"
)

// ExtractCredential returns the credential carried by a request. The cookie
// wins, then the Authorization header, then x-auth-token. A "Bearer " prefix
// is stripped; any other header value is taken as the raw token.
func ExtractCredential(r *http.Request, cookieName string) string {
	if cookieName != "" {
		if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
			return c.Value
		}
	}
	for _, header := range []string{"Authorization", "X-Auth-Token"} {
		v := strings.TrimSpace(r.Header.Get(header))
		if v == "" {
			continue
		}
		if strings.HasPrefix(v, "Bearer ") {
			return strings.TrimSpace(strings.TrimPrefix(v, "Bearer "))
		}
		return v
	}
	return ""
}

// Authenticate verifies a credential and maps failures onto the error taxonomy.
func Authenticate(verifier TokenVerifier, credential string) (string, error) {
	if credential == "" {
		return "", apperr.New(apperr.KindUnauthenticated, msgNoToken)
	}
	userID, err := verifier.Verify(credential)
	if err != nil {
		if errors.Is(err, ErrExpiredToken) {
			return "", apperr.Wrap(apperr.KindUnauthenticated, msgExpiredToken, err)
		}
		return "", apperr.Wrap(apperr.KindUnauthenticated, msgInvalidToken, err)
	}
	return userID, nil
}

// HTTPAuthMiddleware creates an HTTP middleware that rejects requests without
// a valid credential and attaches the caller's AuthContext otherwise.
func HTTPAuthMiddleware(verifier TokenVerifier, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := Authenticate(verifier, ExtractCredential(r, cookieName))
			if err != nil {
				apperr.WriteHTTP(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), &AuthContext{UserID: userID})))
		})
	}
}

// SetCredentialCookie writes the credential cookie the way the web client expects it.
func SetCredentialCookie(w http.ResponseWriter, name, token string, maxAge int, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}
