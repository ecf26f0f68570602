// Package gateway is the real-time and HTTP edge of the server. It decodes
// client events into calls on the room registry, the document and presence
// services, and the execution dispatcher, and turns their results into acks
// and room broadcasts.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/dontdude/coderoom/internal/dispatch"
	"github.com/dontdude/coderoom/internal/docsync"
	"github.com/dontdude/coderoom/internal/domain"
	"github.com/dontdude/coderoom/internal/platform/web"
	"github.com/dontdude/coderoom/internal/presence"
	"github.com/dontdude/coderoom/internal/room"
)

var errRateLimited = errors.New("rate limit exceeded")

// submitTimeout bounds how long a socket read loop may wait for admission.
const submitTimeout = 5 * time.Second

// Submitter hands jobs to the execution backend.
type Submitter interface {
	Submit(ctx context.Context, job domain.Job, fn dispatch.Callback) (domain.Job, error)
	// Pending returns the number of jobs still awaiting a result.
	Pending() int
}

// Options wires a Gateway to its collaborators.
type Options struct {
	Rooms    *room.Registry
	Docs     *docsync.Engine
	Presence *presence.Tracker
	Hub      *Hub
	Runner   Submitter
	// Limiter throttles runs per client IP; nil disables it.
	Limiter        *web.RateLimiter
	AllowedOrigins []string
}

// Gateway handles client events.
type Gateway struct {
	rooms    *room.Registry
	docs     *docsync.Engine
	presence *presence.Tracker
	hub      *Hub
	runner   Submitter
	limiter  *web.RateLimiter
	origins  []string
}

// New creates a Gateway.
func New(opts Options) *Gateway {
	return &Gateway{
		rooms:    opts.Rooms,
		docs:     opts.Docs,
		presence: opts.Presence,
		hub:      opts.Hub,
		runner:   opts.Runner,
		limiter:  opts.Limiter,
		origins:  opts.AllowedOrigins,
	}
}

// handleFrame decodes one inbound frame and runs its handler. A panic in a
// handler is contained to the frame.
func (g *Gateway) handleFrame(c *client, data []byte) {
	var env envelope
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Event handler panicked", "connID", c.id, "event", env.Event, "panic", r)
		}
	}()

	if err := json.Unmarshal(data, &env); err != nil {
		slog.Debug("Malformed frame", "connID", c.id, "error", err)
		return
	}

	req, err := decodeRequest(env)
	if err != nil {
		slog.Debug("Rejected event", "connID", c.id, "event", env.Event, "error", err)
		g.hub.ack(c.id, env.ID, errorPayload{Error: errorMessage(err)})
		return
	}

	switch req := req.(type) {
	case *createRoomRequest:
		g.createRoom(c, env.ID, req)
	case *joinRoomRequest:
		g.joinRoom(c, env.ID, req)
	case *leaveRoomRequest:
		g.leave(c)
	case *codeChangeRequest:
		g.codeChange(c, env.ID, req)
	case *typingRequest:
		g.typing(c, env.ID, req)
	case *runRequest:
		g.runRequested(c, env.ID, req)
	}
}

func (g *Gateway) createRoom(c *client, id *int64, req *createRoomRequest) {
	g.leave(c)

	snap, err := g.rooms.Create(c.id, req.Name)
	if err != nil {
		slog.Warn("Create room failed", "connID", c.id, "error", err)
		g.hub.ack(c.id, id, errorPayload{Error: errorMessage(err)})
		return
	}
	c.room, c.name = snap.Code, req.Name
	g.hub.ack(c.id, id, map[string]string{"room": snap.Code})
}

func (g *Gateway) joinRoom(c *client, id *int64, req *joinRoomRequest) {
	if c.room != "" && c.room != req.Room {
		g.leave(c)
	}

	if _, err := g.rooms.Join(req.Room, c.id, req.Name); err != nil {
		g.hub.ack(c.id, id, errorPayload{Error: errorMessage(err)})
		return
	}
	c.room, c.name = req.Room, req.Name
	g.hub.ack(c.id, id, map[string]bool{"ok": true})
}

// leave is the single exit path for both leaveRoom and disconnect.
func (g *Gateway) leave(c *client) {
	if c.room == "" {
		return
	}
	g.rooms.Leave(c.room, c.id)
	c.room, c.name = "", ""
}

func (g *Gateway) codeChange(c *client, id *int64, req *codeChangeRequest) {
	if req.Room == "" {
		return
	}
	if err := g.docs.Update(req.Room, c.id, *req.Code, req.Language); err != nil {
		slog.Warn("Code change rejected", "connID", c.id, "room", req.Room, "error", err)
		g.hub.ack(c.id, id, errorPayload{Error: errorMessage(err)})
	}
}

// typing relays under the member's registered name; the name in the payload
// is not trusted.
func (g *Gateway) typing(c *client, id *int64, req *typingRequest) {
	if req.Room == "" {
		return
	}
	if err := g.presence.Typing(req.Room, c.id, req.IsTyping); err != nil {
		slog.Debug("Typing ignored", "connID", c.id, "room", req.Room, "error", err)
		g.hub.ack(c.id, id, errorPayload{Error: errorMessage(err)})
	}
}

// runRequested queues the job and returns at once. The ack and the room's
// runOutput broadcast are sent when the result arrives, even if the
// requester has disconnected by then.
func (g *Gateway) runRequested(c *client, id *int64, req *runRequest) {
	roomCode := req.Room
	if roomCode == "" {
		roomCode = c.room
	}

	if g.limiter != nil && !g.limiter.Allow(c.ip) {
		g.hub.ack(c.id, id, domain.FailedResult(errRateLimited))
		return
	}

	connID := c.id
	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()
	job, err := g.runner.Submit(ctx, domain.Job{Language: req.lang, Source: *req.Code, Room: roomCode}, func(r domain.JobResult) {
		g.hub.ack(connID, id, r.Result)
		g.broadcastRun(roomCode, r.Result)
	})
	if err != nil {
		slog.Warn("Run rejected", "connID", c.id, "room", roomCode, "error", err)
		g.hub.ack(c.id, id, domain.FailedResult(err))
		return
	}
	slog.Info("Run requested", "connID", c.id, "room", roomCode, "jobID", job.ID, "language", job.Language)
}

// broadcastRun sends a result to every member of roomCode, if it exists.
func (g *Gateway) broadcastRun(roomCode string, res domain.Result) {
	if roomCode == "" {
		return
	}
	snap, err := g.rooms.Snapshot(roomCode)
	if err != nil {
		return
	}
	g.hub.Broadcast(snap.Members, EventRunOutput, res, "")
}
