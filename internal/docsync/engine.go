// Package docsync propagates full document snapshots between room members.
//
// Clients send the entire document on every change. The engine stores it in
// the registry and forwards it to every other member; the sender never gets
// its own change back. Concurrent editors race and the last write observed
// by the registry wins.
package docsync

import (
	"github.com/dontdude/coderoom/internal/domain"
	"github.com/dontdude/coderoom/internal/room"
)

// Server events emitted by the engine.
const (
	EventInit             = "init"
	EventRemoteCodeChange = "remoteCodeChange"
)

// InitPayload hydrates a joining member.
type InitPayload struct {
	Code     string          `json:"code"`
	Language domain.Language `json:"language"`
}

// ChangePayload carries a document change to other members.
type ChangePayload struct {
	Code     string          `json:"code"`
	Language domain.Language `json:"language"`
	From     string          `json:"from"`
}

// Engine applies and propagates document snapshots.
type Engine struct {
	rooms *room.Registry
	out   domain.Broadcaster
}

// NewEngine creates an Engine and subscribes it to the registry.
func NewEngine(rooms *room.Registry, out domain.Broadcaster) *Engine {
	e := &Engine{rooms: rooms, out: out}
	rooms.Subscribe(e.handle)
	return e
}

// Update stores a new document for the room on behalf of origin.
func (e *Engine) Update(code, origin, content string, lang domain.Language) error {
	_, err := e.rooms.UpdateDocument(code, origin, content, lang)
	return err
}

// Init builds the hydration payload for a snapshot.
func Init(s room.Snapshot) InitPayload {
	p := InitPayload{Code: s.Document.Content, Language: s.Document.Language}
	if p.Language == "" {
		p.Language = domain.DefaultLanguage
	}
	return p
}

func (e *Engine) handle(ev room.Event) {
	switch ev.Kind {
	case room.MemberJoined:
		e.out.Send(ev.Origin, EventInit, Init(ev.Snapshot))

	case room.DocumentUpdated:
		doc := ev.Snapshot.Document
		e.out.Broadcast(ev.Snapshot.Members, EventRemoteCodeChange, ChangePayload{
			Code:     doc.Content,
			Language: doc.Language,
			From:     ev.Origin,
		}, ev.Origin)
	}
}
