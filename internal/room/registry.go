// Package room owns the authoritative state of every collaboration room:
// membership, the shared document, and per-member typing state.
//
// All mutations of one room are serialized by that room's mutex; rooms do
// not share locks with each other. Reads go through an atomically published
// Snapshot and never wait on a mutation.
package room

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dontdude/coderoom/internal/domain"
)

// codeLength is the number of hex characters in a room code.
const codeLength = 8

// maxCodeAttempts bounds collision retries when generating a room code.
const maxCodeAttempts = 16

// Registry is the set of live rooms.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	maxRooms int

	lmu       sync.RWMutex
	listeners []Listener

	newCode func() string
	now     func() time.Time
}

// Option customizes a Registry.
type Option func(*Registry)

// WithMaxRooms bounds the number of live rooms. Zero means unbounded.
func WithMaxRooms(n int) Option {
	return func(r *Registry) { r.maxRooms = n }
}

// WithCodeGenerator replaces the room code generator.
func WithCodeGenerator(fn func() string) Option {
	return func(r *Registry) { r.newCode = fn }
}

// WithClock replaces the time source.
func WithClock(fn func() time.Time) Option {
	return func(r *Registry) { r.now = fn }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		rooms:   make(map[string]*Room),
		newCode: randomCode,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func randomCode() string {
	return uuid.NewString()[:codeLength]
}

// Subscribe registers a listener for every future mutation.
func (r *Registry) Subscribe(l Listener) {
	r.lmu.Lock()
	defer r.lmu.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *Registry) notify(ev Event) {
	r.lmu.RLock()
	listeners := r.listeners
	r.lmu.RUnlock()

	for _, l := range listeners {
		l(ev)
	}
}

// Create makes a new room seeded with the default template and registers
// the caller as its first member.
func (r *Registry) Create(origin, name string) (Snapshot, error) {
	now := r.now()

	r.mu.Lock()
	if r.maxRooms > 0 && len(r.rooms) >= r.maxRooms {
		r.mu.Unlock()
		return Snapshot{}, domain.ErrRegistryFull
	}
	code, err := r.freeCodeLocked()
	if err != nil {
		r.mu.Unlock()
		return Snapshot{}, err
	}
	rm := newRoom(code, domain.DefaultDocument(), now)
	// Lock the room before it becomes visible so nobody observes it without
	// its first member.
	rm.mu.Lock()
	r.rooms[code] = rm
	r.mu.Unlock()
	defer rm.mu.Unlock()

	m := domain.Member{ID: origin, Name: name}
	rm.addMember(m)
	snap := rm.publish()

	slog.Info("Room created", "room", code, "connID", origin)
	r.notify(Event{Kind: RoomCreated, Snapshot: snap, Origin: origin, Member: m})
	return snap, nil
}

func (r *Registry) freeCodeLocked() (string, error) {
	for range maxCodeAttempts {
		code := r.newCode()
		if _, taken := r.rooms[code]; !taken {
			return code, nil
		}
	}
	return "", fmt.Errorf("could not generate a free room code after %d attempts", maxCodeAttempts)
}

// lookup returns the live room for code.
func (r *Registry) lookup(code string) (*Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[code]
	return rm, ok
}

// Join adds a member to an existing room. Joining an unknown room fails
// with domain.ErrRoomNotFound and changes nothing.
func (r *Registry) Join(code, origin, name string) (Snapshot, error) {
	rm, ok := r.lookup(code)
	if !ok {
		return Snapshot{}, domain.ErrRoomNotFound
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.closed {
		return Snapshot{}, domain.ErrRoomNotFound
	}

	m := domain.Member{ID: origin, Name: name}
	rm.addMember(m)
	snap := rm.publish()

	r.notify(Event{Kind: MemberJoined, Snapshot: snap, Origin: origin, Member: m})
	return snap, nil
}

// Leave removes a member. Removing an unknown member or leaving an unknown
// room is a no-op; the bool reports whether anything was removed.
func (r *Registry) Leave(code, origin string) (Snapshot, domain.Member, bool) {
	rm, ok := r.lookup(code)
	if !ok {
		return Snapshot{}, domain.Member{}, false
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.closed {
		return Snapshot{}, domain.Member{}, false
	}

	m, removed := rm.removeMember(origin, r.now())
	if !removed {
		return *rm.snap.Load(), domain.Member{}, false
	}
	snap := rm.publish()

	r.notify(Event{Kind: MemberLeft, Snapshot: snap, Origin: origin, Member: m})
	return snap, m, true
}

// UpdateDocument replaces the room's document wholesale; the newest write
// wins. An empty language keeps the current one. A missing room is created
// on the fly with no members.
func (r *Registry) UpdateDocument(code, origin, content string, lang domain.Language) (Snapshot, error) {
	if lang != "" && !lang.Valid() {
		return Snapshot{}, fmt.Errorf("%w: %q", domain.ErrUnsupportedLanguage, lang)
	}

	for {
		rm, err := r.lookupOrCreate(code, content, lang)
		if err != nil {
			return Snapshot{}, err
		}

		rm.mu.Lock()
		if rm.closed {
			// Reaped between lookup and lock; try again with a fresh room.
			rm.mu.Unlock()
			continue
		}

		doc := domain.Document{Content: content, Language: lang}
		if doc.Language == "" {
			doc.Language = rm.doc.Language
		}
		rm.doc = doc
		snap := rm.publish()

		r.notify(Event{Kind: DocumentUpdated, Snapshot: snap, Origin: origin})
		rm.mu.Unlock()
		return snap, nil
	}
}

func (r *Registry) lookupOrCreate(code, content string, lang domain.Language) (*Room, error) {
	if rm, ok := r.lookup(code); ok {
		return rm, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok := r.rooms[code]; ok {
		return rm, nil
	}
	if r.maxRooms > 0 && len(r.rooms) >= r.maxRooms {
		return nil, domain.ErrRegistryFull
	}
	if lang == "" {
		lang = domain.DefaultLanguage
	}
	rm := newRoom(code, domain.Document{Content: content, Language: lang}, r.now())
	r.rooms[code] = rm
	slog.Warn("Room created implicitly by document update", "room", code)
	return rm, nil
}

// SetTyping records a member's typing state.
func (r *Registry) SetTyping(code, origin string, typing bool) error {
	rm, ok := r.lookup(code)
	if !ok {
		return domain.ErrRoomNotFound
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.closed {
		return domain.ErrRoomNotFound
	}
	e, ok := rm.members[origin]
	if !ok {
		return domain.ErrMemberNotFound
	}
	e.typing = typing

	r.notify(Event{
		Kind:     TypingChanged,
		Snapshot: *rm.snap.Load(),
		Origin:   origin,
		Member:   e.member,
		Typing:   typing,
	})
	return nil
}

// Typing returns the names of members currently marked as typing.
func (r *Registry) Typing(code string) ([]string, error) {
	rm, ok := r.lookup(code)
	if !ok {
		return nil, domain.ErrRoomNotFound
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	var names []string
	for _, m := range rm.snap.Load().Members {
		if rm.members[m.ID].typing {
			names = append(names, m.Name)
		}
	}
	return names, nil
}

// Snapshot returns the state of the room after its last completed mutation.
func (r *Registry) Snapshot(code string) (Snapshot, error) {
	rm, ok := r.lookup(code)
	if !ok {
		return Snapshot{}, domain.ErrRoomNotFound
	}
	return *rm.snap.Load(), nil
}

// Len returns the number of live rooms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
