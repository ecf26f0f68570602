// Package presence relays room membership and typing state to room members.
//
// Every membership change is answered with the full roster rather than a
// delta, so a client that missed a broadcast converges on the next one.
// Typing signals are relayed as-is; expiring a stale "typing" flag is left to
// the client.
package presence

import (
	"github.com/dontdude/coderoom/internal/domain"
	"github.com/dontdude/coderoom/internal/room"
)

// Server events emitted by the tracker.
const (
	EventRoomUsers  = "roomUsers"
	EventUserJoined = "userJoined"
	EventUserLeft   = "userLeft"
	EventTyping     = "typing"
)

// User is one roster entry.
type User struct {
	Name string `json:"name"`
}

// RosterPayload is the body of a roomUsers event.
type RosterPayload struct {
	Users []User `json:"users"`
}

// NamePayload is the body of userJoined and userLeft events.
type NamePayload struct {
	Name string `json:"name"`
}

// TypingPayload is the body of a relayed typing event.
type TypingPayload struct {
	Name     string `json:"name"`
	IsTyping bool   `json:"isTyping"`
}

// Tracker translates registry membership events into broadcasts.
type Tracker struct {
	rooms *room.Registry
	out   domain.Broadcaster
}

// NewTracker creates a Tracker and subscribes it to the registry.
func NewTracker(rooms *room.Registry, out domain.Broadcaster) *Tracker {
	t := &Tracker{rooms: rooms, out: out}
	rooms.Subscribe(t.handle)
	return t
}

// Typing records a member's typing state; the change is relayed to the rest
// of the room by the registry listener.
func (t *Tracker) Typing(code, origin string, isTyping bool) error {
	return t.rooms.SetTyping(code, origin, isTyping)
}

// Roster builds the roomUsers payload for a snapshot.
func Roster(s room.Snapshot) RosterPayload {
	users := make([]User, len(s.Members))
	for i, m := range s.Members {
		users[i] = User{Name: m.Name}
	}
	return RosterPayload{Users: users}
}

func (t *Tracker) handle(ev room.Event) {
	members := ev.Snapshot.Members

	switch ev.Kind {
	case room.RoomCreated, room.MemberJoined:
		t.out.Broadcast(members, EventRoomUsers, Roster(ev.Snapshot), "")
		t.out.Broadcast(members, EventUserJoined, NamePayload{Name: ev.Member.Name}, "")

	case room.MemberLeft:
		t.out.Broadcast(members, EventRoomUsers, Roster(ev.Snapshot), "")
		t.out.Broadcast(members, EventUserLeft, NamePayload{Name: ev.Member.Name}, "")

	case room.TypingChanged:
		t.out.Broadcast(members, EventTyping, TypingPayload{Name: ev.Member.Name, IsTyping: ev.Typing}, ev.Origin)
	}
}
