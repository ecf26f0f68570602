package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dontdude/coderoom/internal/domain"
	"github.com/dontdude/coderoom/internal/platform/web"
)

// maxBodySize caps POST /api/run bodies.
const maxBodySize = 2 << 20

// Handler returns the HTTP API: the WebSocket endpoint, the synchronous run
// endpoint, room lookup and a health check.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ws", g.handleWS)

	run := g.handleRun
	if g.limiter != nil {
		run = g.limiter.Middleware(run)
	}
	mux.HandleFunc("POST /api/run", run)

	mux.HandleFunc("GET /api/rooms/{code}", g.handleRoom)
	mux.HandleFunc("GET /healthz", g.handleHealth)

	return web.CORS(g.origins, mux)
}

// handleWS upgrades the connection and runs its read loop until it closes.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return web.OriginAllowed(g.origins, r.Header.Get("Origin"))
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	c := newClient(uuid.NewString(), web.ClientIP(r), conn)
	g.hub.register(c)
	slog.Info("Client connected", "connID", c.id, "remoteAddr", conn.RemoteAddr())

	go c.writePump()
	g.readPump(c)
}

// readPump processes frames in arrival order. Disconnect takes the same
// leave path as an explicit leaveRoom.
func (g *Gateway) readPump(c *client) {
	defer func() {
		g.leave(c)
		g.hub.unregister(c)
		c.close()
		slog.Info("Client disconnected", "connID", c.id)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("Read failed", "connID", c.id, "error", err)
			}
			return
		}
		g.handleFrame(c, data)
	}
}

// handleRun executes code synchronously and answers with the Result. Any
// execution attempt, including kills and failures, is a 200.
func (g *Gateway) handleRun(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		web.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		web.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	// The room still hears about the run if this caller disconnects first.
	reply := make(chan domain.Result, 1)
	job, err := g.runner.Submit(r.Context(), domain.Job{Language: req.lang, Source: *req.Code, Room: req.Room}, func(jr domain.JobResult) {
		g.broadcastRun(req.Room, jr.Result)
		reply <- jr.Result
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrQueueFull):
			web.WriteError(w, http.StatusServiceUnavailable, err.Error())
		case r.Context().Err() != nil:
		default:
			slog.Error("Run failed", "error", err)
			web.WriteError(w, http.StatusInternalServerError, "Internal Server Error")
		}
		return
	}

	select {
	case res := <-reply:
		web.WriteJSON(w, http.StatusOK, res)
	case <-r.Context().Done():
		slog.Debug("Run caller went away", "jobID", job.ID, "room", req.Room)
	}
}

func (g *Gateway) handleRoom(w http.ResponseWriter, r *http.Request) {
	snap, err := g.rooms.Snapshot(r.PathValue("code"))
	if err != nil {
		web.WriteError(w, http.StatusNotFound, errorMessage(err))
		return
	}

	users := make([]userPayload, len(snap.Members))
	for i, m := range snap.Members {
		users[i] = userPayload{Name: m.Name}
	}
	typing, _ := g.rooms.Typing(snap.Code)
	if typing == nil {
		typing = []string{}
	}
	web.WriteJSON(w, http.StatusOK, roomPayload{
		Room:     snap.Code,
		Language: snap.Document.Language,
		Code:     snap.Document.Content,
		Users:    users,
		Typing:   typing,
	})
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	web.WriteJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"rooms":       g.rooms.Len(),
		"connections": g.hub.Len(),
		"pendingRuns": g.runner.Pending(),
	})
}
