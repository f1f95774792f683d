// Package conversation is the message ingestion pipeline shared by the HTTP
// API and live push connections.
//
// Ingest records first and then acts: the store append decides ordering, and
// only a committed message is broadcast. A per-conversation lock spans both
// steps so broadcast order equals persisted order. MarkRead follows the same
// shape for read receipts.
//
// Errors carry apperr kinds from the store and are passed through unchanged;
// the HTTP layer maps them to status codes and the push layer logs them.
package conversation
