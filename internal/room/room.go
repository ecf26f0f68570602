package room

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dontdude/coderoom/internal/domain"
)

// Snapshot is an immutable view of a room taken after a completed mutation.
type Snapshot struct {
	Code       string
	Document   domain.Document
	Members    []domain.Member
	Version    uint64
	EmptySince time.Time
}

// Member returns the member with the given connection id.
func (s Snapshot) Member(id string) (domain.Member, bool) {
	for _, m := range s.Members {
		if m.ID == id {
			return m, true
		}
	}
	return domain.Member{}, false
}

// EventKind names the mutation that produced an Event.
type EventKind int

const (
	RoomCreated EventKind = iota
	MemberJoined
	MemberLeft
	DocumentUpdated
	TypingChanged
)

func (k EventKind) String() string {
	switch k {
	case RoomCreated:
		return "room_created"
	case MemberJoined:
		return "member_joined"
	case MemberLeft:
		return "member_left"
	case DocumentUpdated:
		return "document_updated"
	case TypingChanged:
		return "typing_changed"
	default:
		return "unknown"
	}
}

// Event describes one completed mutation. Snapshot reflects the state right
// after it; Origin is the connection that caused it.
type Event struct {
	Kind     EventKind
	Snapshot Snapshot
	Origin   string
	Member   domain.Member
	Typing   bool
}

// Listener observes registry mutations. It is invoked while the room's
// mutation lock is held, so it must not block or call mutating methods.
type Listener func(Event)

type memberEntry struct {
	member domain.Member
	seq    uint64
	typing bool
}

// Room holds the authoritative state of one collaboration session.
type Room struct {
	code string

	// mu serializes every mutation of this room.
	mu         sync.Mutex
	doc        domain.Document
	members    map[string]*memberEntry
	nextSeq    uint64
	version    uint64
	emptySince time.Time
	closed     bool

	// snap is replaced after every mutation and read without locking.
	snap atomic.Pointer[Snapshot]
}

func newRoom(code string, doc domain.Document, now time.Time) *Room {
	r := &Room{
		code:       code,
		doc:        doc,
		members:    make(map[string]*memberEntry),
		emptySince: now,
	}
	r.publish()
	return r
}

// publish rebuilds the snapshot. Callers must hold r.mu (or own r exclusively).
func (r *Room) publish() Snapshot {
	entries := make([]*memberEntry, 0, len(r.members))
	for _, e := range r.members {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	members := make([]domain.Member, len(entries))
	for i, e := range entries {
		members[i] = e.member
	}

	r.version++
	s := &Snapshot{
		Code:       r.code,
		Document:   r.doc,
		Members:    members,
		Version:    r.version,
		EmptySince: r.emptySince,
	}
	r.snap.Store(s)
	return *s
}

func (r *Room) addMember(m domain.Member) {
	if e, ok := r.members[m.ID]; ok {
		e.member = m
		return
	}
	r.nextSeq++
	r.members[m.ID] = &memberEntry{member: m, seq: r.nextSeq}
	r.emptySince = time.Time{}
}

func (r *Room) removeMember(id string, now time.Time) (domain.Member, bool) {
	e, ok := r.members[id]
	if !ok {
		return domain.Member{}, false
	}
	delete(r.members, id)
	if len(r.members) == 0 {
		r.emptySince = now
	}
	return e.member, true
}
