// Package gateway serves both client transports on one HTTP listener.
//
// The request interface lives under /api and authenticates each call with the
// credential cookie or an Authorization header. The push interface at /ws is a
// websocket carrying {"event","data"} frames; a connection stays
// unauthenticated until it sends an authenticate event, and only then may it
// join conversation rooms, send messages, or mark messages read.
//
// Both transports call the same conversation.Service, so a message posted over
// either one reaches the same rooms in the same order.
package gateway
