// Package rooms is the in-process broadcast registry for live push connections.
//
// There are two kinds of room. A conversation room ("conversation:<id>") is
// joined explicitly by a connection that opened the conversation. A personal
// room ("user:<id>") is joined automatically when a connection authenticates.
//
// Broadcast is at-most-once with no replay: an event reaches whoever is a
// member when Broadcast is called. Clients that miss events resynchronize
// over the request interface.
package rooms
