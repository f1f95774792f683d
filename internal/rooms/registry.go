// ABOUTME: In-process room registry mapping room keys to live push subscribers
// ABOUTME: Supports idempotent join/leave and best-effort broadcast to current members

package rooms

import (
	"log/slog"
	"sort"
	"sync"
)

// Subscriber is one live connection that can receive encoded events.
// Deliver must not block; a slow subscriber reports an error instead.
type Subscriber interface {
	ID() string
	Deliver(payload []byte) error
}

// ConversationRoom is the room key for a conversation's subscribers.
func ConversationRoom(conversationID string) string {
	return "conversation:" + conversationID
}

// UserRoom is the room key for a user's personal notification room.
func UserRoom(userID string) string {
	return "user:" + userID
}

// Registry tracks room membership. It is safe for concurrent use; broadcast
// snapshots the membership under a read lock and delivers outside it.
type Registry struct {
	mu          sync.RWMutex
	rooms       map[string]map[string]Subscriber // room -> subscriber id -> subscriber
	memberships map[string]map[string]struct{}   // subscriber id -> rooms
	closed      bool
	logger      *slog.Logger
}

// NewRegistry creates an empty registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		rooms:       make(map[string]map[string]Subscriber),
		memberships: make(map[string]map[string]struct{}),
		logger:      logger.With("component", "rooms"),
	}
}

// Join adds sub to room. Joining a room twice is a no-op. Returns false once
// the registry is closed.
func (r *Registry) Join(sub Subscriber, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]Subscriber)
		r.rooms[room] = members
	}
	members[sub.ID()] = sub

	joined, ok := r.memberships[sub.ID()]
	if !ok {
		joined = make(map[string]struct{})
		r.memberships[sub.ID()] = joined
	}
	joined[room] = struct{}{}

	r.logger.Debug("joined room", "room", room, "subscriber", sub.ID())
	return true
}

// Leave removes the subscriber from room. Leaving a room it is not in is a no-op.
func (r *Registry) Leave(subID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(subID, room)
}

func (r *Registry) leaveLocked(subID, room string) {
	if members, ok := r.rooms[room]; ok {
		delete(members, subID)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	if joined, ok := r.memberships[subID]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(r.memberships, subID)
		}
	}
}

// LeaveAll removes the subscriber from every room it joined.
func (r *Registry) LeaveAll(subID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for room := range r.memberships[subID] {
		r.leaveLocked(subID, room)
	}
}

// Broadcast delivers payload to every subscriber in room at the moment of the
// call and returns how many accepted it. A failing subscriber is logged and
// skipped; it never stops delivery to the others.
func (r *Registry) Broadcast(room string, payload []byte) int {
	r.mu.RLock()
	members := r.rooms[room]
	targets := make([]Subscriber, 0, len(members))
	for _, sub := range members {
		targets = append(targets, sub)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, sub := range targets {
		if err := sub.Deliver(payload); err != nil {
			r.logger.Debug("dropped event for subscriber",
				"room", room,
				"subscriber", sub.ID(),
				"error", err)
			continue
		}
		delivered++
	}
	return delivered
}

// Members returns the subscriber ids in room, sorted.
func (r *Registry) Members(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.rooms[room]))
	for id := range r.rooms[room] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Rooms returns the rooms the subscriber is in, sorted.
func (r *Registry) Rooms(subID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make([]string, 0, len(r.memberships[subID]))
	for room := range r.memberships[subID] {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// Stats returns the number of non-empty rooms and of subscribers in any room.
func (r *Registry) Stats() (rooms, subscribers int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms), len(r.memberships)
}

// Close drops every membership and refuses further joins.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	r.rooms = make(map[string]map[string]Subscriber)
	r.memberships = make(map[string]map[string]struct{})
	r.logger.Debug("registry closed")
}
