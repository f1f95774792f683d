// Package session binds live push connections to authenticated users.
//
// Every connection starts Unauthenticated. A successful Authenticate moves
// it to Authenticated, records the user id, and joins the user's personal
// room. Close moves it to Closed and removes it from every room.
//
// Callers must treat room joins and message sends from a connection that is
// not Authenticated as no-ops: there is no channel to report an error on
// before authentication.
package session
