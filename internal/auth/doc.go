// Package auth verifies and mints the signed session credential used by parley.
//
// Credentials are HS256 JWTs whose "sub" claim is the user id. They arrive on
// HTTP requests as a cookie (default name "authToken"), an Authorization
// header with or without the "Bearer " prefix, or an x-auth-token header; the
// first one present wins. Live push connections present the same credential
// as the payload of their first "authenticate" event.
//
// HTTPAuthMiddleware attaches an AuthContext to the request context;
// handlers read it back with FromContext or UserID.
package auth
