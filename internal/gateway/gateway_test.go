package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dontdude/coderoom/internal/dispatch"
	"github.com/dontdude/coderoom/internal/docsync"
	"github.com/dontdude/coderoom/internal/domain"
	"github.com/dontdude/coderoom/internal/platform/queue"
	"github.com/dontdude/coderoom/internal/presence"
	"github.com/dontdude/coderoom/internal/room"
	"github.com/dontdude/coderoom/internal/worker"
)

// fakeRunner answers print(1+1) like python would and echoes anything else.
type fakeRunner struct{}

func (fakeRunner) Execute(ctx context.Context, job domain.Job) domain.Result {
	code := 0
	out := job.Source
	if rest, ok := strings.CutPrefix(job.Source, "sleep "); ok {
		if d, err := time.ParseDuration(rest); err == nil {
			time.Sleep(d)
			out = "slept\n"
		}
	}
	if job.Source == "print(1+1)" {
		out = "2\n"
	}
	return domain.Result{OK: true, Stdout: out, ExitCode: &code, Status: domain.StatusCompleted}
}

type testServer struct {
	srv   *httptest.Server
	rooms *room.Registry
	hub   *Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub()
	rooms := room.NewRegistry()
	docs := docsync.NewEngine(rooms, hub)
	pres := presence.NewTracker(rooms, hub)

	q := queue.NewMemoryQueue(8, queue.AdmissionReject, 0)
	d := dispatch.New(q, 5*time.Second, 10*time.Second)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("dispatcher Start() error: %v", err)
	}
	pool := worker.NewPool(2, q, fakeRunner{})
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("pool Start() error: %v", err)
	}

	g := New(Options{Rooms: rooms, Docs: docs, Presence: pres, Hub: hub, Runner: d, AllowedOrigins: []string{"*"}})
	srv := httptest.NewServer(g.Handler())
	t.Cleanup(func() {
		srv.Close()
		pool.Stop()
	})
	return &testServer{srv: srv, rooms: rooms, hub: hub}
}

type frame struct {
	Event string          `json:"event"`
	ID    *int64          `json:"id"`
	Data  json.RawMessage `json:"data"`
}

type testConn struct {
	t      *testing.T
	conn   *websocket.Conn
	nextID int64
	frames chan frame
	// backlog holds frames read while waiting for a different one.
	backlog []frame
}

func (ts *testServer) dial(t *testing.T) *testConn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	// A timed-out read breaks a websocket.Conn, so reads happen here and
	// helpers wait on the channel instead.
	c := &testConn{t: t, conn: conn, frames: make(chan frame, 256)}
	go func() {
		defer close(c.frames)
		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			c.frames <- f
		}
	}()
	return c
}

// emit sends an event that expects an ack and returns its id.
func (c *testConn) emit(event string, data any) int64 {
	c.t.Helper()
	c.nextID++
	id := c.nextID
	c.write(map[string]any{"event": event, "id": id, "data": data})
	return id
}

// notify sends an event without an id.
func (c *testConn) notify(event string, data any) {
	c.t.Helper()
	c.write(map[string]any{"event": event, "data": data})
}

func (c *testConn) write(v any) {
	c.t.Helper()
	if err := c.conn.WriteJSON(v); err != nil {
		c.t.Fatalf("WriteJSON() error: %v", err)
	}
}

func (c *testConn) read(timeout time.Duration) (frame, bool) {
	select {
	case f, ok := <-c.frames:
		return f, ok
	case <-time.After(timeout):
		return frame{}, false
	}
}

// find returns the first frame satisfying match, looking at the backlog
// first and keeping skipped frames for later calls.
func (c *testConn) find(match func(frame) bool, wait time.Duration) (json.RawMessage, bool) {
	for i, f := range c.backlog {
		if match(f) {
			c.backlog = slices.Delete(c.backlog, i, i+1)
			return f.Data, true
		}
	}
	deadline := time.Now().Add(wait)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, false
		}
		f, ok := c.read(remaining)
		if !ok {
			return nil, false
		}
		if match(f) {
			return f.Data, true
		}
		c.backlog = append(c.backlog, f)
	}
}

func (c *testConn) next(event string, id int64) json.RawMessage {
	c.t.Helper()
	data, ok := c.find(func(f frame) bool {
		return f.Event == event && (event != EventAck || (f.ID != nil && *f.ID == id))
	}, 3*time.Second)
	if !ok {
		c.t.Fatalf("no %q frame received", event)
	}
	return data
}

func (c *testConn) expect(event string, v any) {
	c.t.Helper()
	if err := json.Unmarshal(c.next(event, 0), v); err != nil {
		c.t.Fatalf("decode %s: %v", event, err)
	}
}

func (c *testConn) ack(id int64, v any) {
	c.t.Helper()
	if err := json.Unmarshal(c.next(EventAck, id), v); err != nil {
		c.t.Fatalf("decode ack %d: %v", id, err)
	}
}

func (c *testConn) tryNext(event string, wait time.Duration) (json.RawMessage, bool) {
	return c.find(func(f frame) bool { return f.Event == event }, wait)
}

// expectNone fails if event arrives within wait.
func (c *testConn) expectNone(event string, wait time.Duration) {
	c.t.Helper()
	if data, ok := c.tryNext(event, wait); ok {
		c.t.Fatalf("unexpected %q frame: %s", event, data)
	}
}

// drain forgets everything received so far.
func (c *testConn) drain() {
	c.backlog = nil
	for {
		if _, ok := c.read(100 * time.Millisecond); !ok {
			return
		}
	}
}

func (c *testConn) createRoom(name string) string {
	c.t.Helper()
	var ack struct {
		Room  string `json:"room"`
		Error string `json:"error"`
	}
	c.ack(c.emit(EventCreateRoom, map[string]string{"name": name}), &ack)
	if ack.Room == "" {
		c.t.Fatalf("createRoom ack = %+v", ack)
	}
	return ack.Room
}

func (c *testConn) joinRoom(code, name string) {
	c.t.Helper()
	var ack struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	c.ack(c.emit(EventJoinRoom, map[string]string{"room": code, "name": name}), &ack)
	if !ack.OK {
		c.t.Fatalf("joinRoom ack = %+v", ack)
	}
}

type roster struct {
	Users []struct {
		Name string `json:"name"`
	} `json:"users"`
}

func (r roster) names() []string {
	out := make([]string, len(r.Users))
	for i, u := range r.Users {
		out[i] = u.Name
	}
	return out
}

// lastRoster reads roomUsers frames until no more arrive and returns the last.
func (c *testConn) lastRoster() []string {
	c.t.Helper()
	var r roster
	c.expect(presence.EventRoomUsers, &r)
	for {
		var more roster
		data, ok := c.tryNext(presence.EventRoomUsers, 200*time.Millisecond)
		if !ok {
			return r.names()
		}
		if err := json.Unmarshal(data, &more); err != nil {
			c.t.Fatalf("decode roomUsers: %v", err)
		}
		r = more
	}
}

func TestCreateAndJoinScenario(t *testing.T) {
	ts := newTestServer(t)
	a, b := ts.dial(t), ts.dial(t)

	code := a.createRoom("A")
	if len(code) != 8 {
		t.Errorf("room code %q, want 8 characters", code)
	}

	b.joinRoom(code, "B")

	var init docsync.InitPayload
	b.expect(docsync.EventInit, &init)
	if init.Language != domain.JavaScript || init.Code != domain.Template(domain.JavaScript) {
		t.Errorf("init = %+v, want default JavaScript template", init)
	}

	want := []string{"A", "B"}
	if got := a.lastRoster(); !slices.Equal(got, want) {
		t.Errorf("A roster = %v, want %v", got, want)
	}
	if got := b.lastRoster(); !slices.Equal(got, want) {
		t.Errorf("B roster = %v, want %v", got, want)
	}

	var joined presence.NamePayload
	a.expect(presence.EventUserJoined, &joined)
	for joined.Name != "B" {
		a.expect(presence.EventUserJoined, &joined)
	}
}

func TestJoinUnknownRoom(t *testing.T) {
	ts := newTestServer(t)
	c := ts.dial(t)

	var ack struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	c.ack(c.emit(EventJoinRoom, map[string]string{"room": "nope1234", "name": "X"}), &ack)
	if ack.OK || ack.Error != "Room not found" {
		t.Errorf("ack = %+v, want Room not found", ack)
	}
	if ts.rooms.Len() != 0 {
		t.Errorf("rooms = %d, want 0", ts.rooms.Len())
	}
}

func TestCodeChangeIsNotEchoed(t *testing.T) {
	ts := newTestServer(t)
	a, b := ts.dial(t), ts.dial(t)
	code := a.createRoom("A")
	b.joinRoom(code, "B")
	a.drain()
	b.drain()

	a.notify(EventCodeChange, map[string]string{"room": code, "code": "print(42)", "language": "python"})

	var change docsync.ChangePayload
	b.expect(docsync.EventRemoteCodeChange, &change)
	if change.Code != "print(42)" || change.Language != domain.Python || change.From == "" {
		t.Errorf("remoteCodeChange = %+v", change)
	}
	a.expectNone(docsync.EventRemoteCodeChange, 300*time.Millisecond)

	snap, err := ts.rooms.Snapshot(code)
	if err != nil || snap.Document.Content != "print(42)" {
		t.Errorf("stored document = %+v, %v", snap.Document, err)
	}
}

func TestLeaveAndDisconnectHaveSameEffect(t *testing.T) {
	ts := newTestServer(t)
	a, b, c := ts.dial(t), ts.dial(t), ts.dial(t)
	code := a.createRoom("A")
	b.joinRoom(code, "B")
	c.joinRoom(code, "C")
	a.drain()

	b.notify(EventLeaveRoom, nil)
	if got := a.lastRoster(); !slices.Equal(got, []string{"A", "C"}) {
		t.Errorf("roster after leave = %v, want [A C]", got)
	}
	var left presence.NamePayload
	a.expect(presence.EventUserLeft, &left)
	if left.Name != "B" {
		t.Errorf("userLeft = %q, want B", left.Name)
	}

	c.conn.Close()
	if got := a.lastRoster(); !slices.Equal(got, []string{"A"}) {
		t.Errorf("roster after disconnect = %v, want [A]", got)
	}
	a.expect(presence.EventUserLeft, &left)
	if left.Name != "C" {
		t.Errorf("userLeft = %q, want C", left.Name)
	}
}

func TestTypingUsesRegisteredName(t *testing.T) {
	ts := newTestServer(t)
	a, b := ts.dial(t), ts.dial(t)
	code := a.createRoom("A")
	b.joinRoom(code, "B")
	a.drain()
	b.drain()

	b.notify(EventTyping, map[string]any{"room": code, "name": "spoofed", "isTyping": true})

	var typing presence.TypingPayload
	a.expect(presence.EventTyping, &typing)
	if typing.Name != "B" || !typing.IsTyping {
		t.Errorf("typing = %+v, want B typing", typing)
	}
	b.expectNone(presence.EventTyping, 200*time.Millisecond)
}

func TestTypingFromNonMemberIsRejected(t *testing.T) {
	ts := newTestServer(t)
	a, outsider := ts.dial(t), ts.dial(t)
	code := a.createRoom("A")
	a.drain()

	var ack errorPayload
	outsider.ack(outsider.emit(EventTyping, map[string]any{"room": code, "isTyping": true}), &ack)
	if ack.Error == "" {
		t.Error("typing from a non-member was accepted")
	}
	a.expectNone(presence.EventTyping, 200*time.Millisecond)
}

func TestRunRequestedAcksAndBroadcasts(t *testing.T) {
	ts := newTestServer(t)
	a, b := ts.dial(t), ts.dial(t)
	code := a.createRoom("A")
	b.joinRoom(code, "B")

	id := a.emit(EventRunRequested, map[string]string{"room": code, "language": "python", "code": "print(1+1)"})

	var res domain.Result
	a.ack(id, &res)
	if !res.OK || res.Stdout != "2\n" || res.ExitCode == nil || *res.ExitCode != 0 {
		t.Errorf("ack = %+v, want stdout 2", res)
	}

	for name, conn := range map[string]*testConn{"A": a, "B": b} {
		var out domain.Result
		conn.expect(EventRunOutput, &out)
		if !out.OK || out.Stdout != "2\n" || out.Stderr != "" {
			t.Errorf("%s runOutput = %+v", name, out)
		}
	}
}

func TestInvalidEventsAreRejected(t *testing.T) {
	ts := newTestServer(t)
	c := ts.dial(t)

	tests := []struct {
		event string
		data  any
		want  string
	}{
		{"selfDestruct", nil, "unknown event"},
		{EventCreateRoom, map[string]string{}, "name is required"},
		{EventJoinRoom, map[string]string{"name": "x"}, "room is required"},
		{EventRunRequested, map[string]string{"language": "python"}, "code is required"},
		{EventRunRequested, map[string]string{"language": "cobol", "code": "x"}, "unsupported language"},
		{EventCreateRoom, "not an object", "invalid request"},
	}
	for _, tt := range tests {
		var ack errorPayload
		c.ack(c.emit(tt.event, tt.data), &ack)
		if !strings.Contains(ack.Error, tt.want) {
			t.Errorf("%s ack error = %q, want %q", tt.event, ack.Error, tt.want)
		}
	}
	if ts.rooms.Len() != 0 {
		t.Errorf("invalid events changed state: %d rooms", ts.rooms.Len())
	}
}

func TestSlowClientIsDropped(t *testing.T) {
	hub := NewHub()
	c := &client{id: "slow", send: make(chan []byte, 1), done: make(chan struct{})}
	hub.register(c)

	hub.Send("slow", "x", nil)
	hub.Send("slow", "x", nil) // buffer full: dropped without blocking

	select {
	case <-c.done:
	default:
		t.Error("slow client was not dropped")
	}
	if len(c.send) != 1 {
		t.Errorf("queued = %d, want 1", len(c.send))
	}
}

// Run with -race: dropping a slow client happens on the broadcaster's
// goroutine while the client's own read loop keeps changing its room.
func TestSlowClientDropDoesNotReadRoomState(t *testing.T) {
	hub := NewHub()
	c := &client{id: "slow", send: make(chan []byte, 1), done: make(chan struct{})}
	hub.register(c)
	members := []domain.Member{{ID: "slow", Name: "S"}}
	hub.Send("slow", "x", nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			hub.Broadcast(members, "x", nil, "")
		}
	}()
	for i := 0; i < 100; i++ {
		c.room, c.name = "room", "S"
	}
	<-done

	select {
	case <-c.done:
	default:
		t.Error("slow client was not dropped")
	}
}
