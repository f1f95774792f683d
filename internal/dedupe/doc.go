// Package dedupe drops retried push commands. A client that resends a
// sendMessage with the same clientMessageId inside the TTL window gets the
// original result instead of a second message.
package dedupe
