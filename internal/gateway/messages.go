package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dontdude/coderoom/internal/domain"
)

// Client events.
const (
	EventCreateRoom   = "createRoom"
	EventJoinRoom     = "joinRoom"
	EventLeaveRoom    = "leaveRoom"
	EventCodeChange   = "codeChange"
	EventTyping       = "typing"
	EventRunRequested = "runRequested"
)

// Server events owned by the gateway. Presence and document events are
// defined by their packages.
const (
	EventAck       = "ack"
	EventRunOutput = "runOutput"
)

// envelope is the inbound frame. ID is set when the client expects an ack.
type envelope struct {
	Event string          `json:"event"`
	ID    *int64          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// outMessage is the outbound frame.
type outMessage struct {
	Event string `json:"event"`
	ID    *int64 `json:"id,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// request is implemented by every inbound payload.
type request interface {
	validate() error
}

type createRoomRequest struct {
	Name string `json:"name"`
}

func (r *createRoomRequest) validate() error {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

type joinRoomRequest struct {
	Room string `json:"room"`
	Name string `json:"name"`
}

func (r *joinRoomRequest) validate() error {
	r.Room = strings.TrimSpace(r.Room)
	r.Name = strings.TrimSpace(r.Name)
	switch {
	case r.Room == "":
		return errors.New("room is required")
	case r.Name == "":
		return errors.New("name is required")
	}
	return nil
}

type leaveRoomRequest struct{}

func (*leaveRoomRequest) validate() error { return nil }

// codeChangeRequest and typingRequest tolerate a missing room; the handler
// ignores those messages.
type codeChangeRequest struct {
	Room     string          `json:"room"`
	Code     *string         `json:"code"`
	Language domain.Language `json:"language"`
}

func (r *codeChangeRequest) validate() error {
	if r.Code == nil {
		return errors.New("code is required")
	}
	if r.Language != "" {
		lang, err := domain.ParseLanguage(string(r.Language))
		if err != nil {
			return err
		}
		r.Language = lang
	}
	return nil
}

type typingRequest struct {
	Room     string `json:"room"`
	Name     string `json:"name"`
	IsTyping bool   `json:"isTyping"`
}

func (*typingRequest) validate() error { return nil }

// runRequest is shared by runRequested events and POST /api/run.
type runRequest struct {
	Room     string `json:"room"`
	Language string  `json:"language"`
	Code     *string `json:"code"`

	lang domain.Language
}

func (r *runRequest) validate() error {
	if strings.TrimSpace(r.Language) == "" {
		return errors.New("language is required")
	}
	// An empty program is a valid run.
	if r.Code == nil {
		return errors.New("code is required")
	}
	lang, err := domain.ParseLanguage(r.Language)
	if err != nil {
		return err
	}
	r.lang = lang
	return nil
}

// newRequest returns an empty payload for a client event name.
func newRequest(event string) (request, bool) {
	switch event {
	case EventCreateRoom:
		return &createRoomRequest{}, true
	case EventJoinRoom:
		return &joinRoomRequest{}, true
	case EventLeaveRoom:
		return &leaveRoomRequest{}, true
	case EventCodeChange:
		return &codeChangeRequest{}, true
	case EventTyping:
		return &typingRequest{}, true
	case EventRunRequested:
		return &runRequest{}, true
	}
	return nil, false
}

// decodeRequest parses and validates the payload of env. Every failure
// wraps domain.ErrInvalidRequest except an unsupported language.
func decodeRequest(env envelope) (request, error) {
	req, ok := newRequest(env.Event)
	if !ok {
		return nil, fmt.Errorf("%w: unknown event %q", domain.ErrInvalidRequest, env.Event)
	}
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, req); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidRequest, env.Event, err)
		}
	}
	if err := req.validate(); err != nil {
		if errors.Is(err, domain.ErrUnsupportedLanguage) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidRequest, env.Event, err)
	}
	return req, nil
}

// errorPayload is the ack body for a failed request.
type errorPayload struct {
	Error string `json:"error"`
}

// errorMessage renders err for clients.
func errorMessage(err error) string {
	if errors.Is(err, domain.ErrRoomNotFound) {
		return "Room not found"
	}
	return err.Error()
}

// roomPayload is the snapshot served by GET /api/rooms/{code}.
type roomPayload struct {
	Room     string          `json:"room"`
	Language domain.Language `json:"language"`
	Code     string          `json:"code"`
	Users    []userPayload   `json:"users"`
	// Typing lists the names of members currently typing.
	Typing []string `json:"typing"`
}

type userPayload struct {
	Name string `json:"name"`
}
