package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dontdude/coderoom/internal/dispatch"
	"github.com/dontdude/coderoom/internal/domain"
	"github.com/dontdude/coderoom/internal/room"
)

func post(t *testing.T, ts *testServer, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(ts.srv.URL+"/api/run", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/run: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, out
}

func TestRunEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, out := post(t, ts, `{"language":"python","code":"print(1+1)"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if out["ok"] != true || out["stdout"] != "2\n" || out["exitCode"] != float64(0) {
		t.Errorf("body = %v", out)
	}
	if _, ok := out["time"]; !ok {
		t.Error("body has no time field")
	}
}

func TestRunEndpointRejectsBadInput(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name, body, want string
	}{
		{"malformed", `{"language":`, "Invalid request body"},
		{"missing code", `{"language":"python"}`, "code is required"},
		{"missing language", `{"code":"print(1)"}`, "language is required"},
		{"unsupported", `{"language":"cobol","code":"x"}`, "unsupported language"},
	}
	for _, tt := range tests {
		resp, out := post(t, ts, tt.body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tt.name, resp.StatusCode)
		}
		if msg, _ := out["error"].(string); !strings.Contains(msg, tt.want) {
			t.Errorf("%s: error = %q, want %q", tt.name, msg, tt.want)
		}
	}
}

func TestRunEndpointBroadcastsToRoom(t *testing.T) {
	ts := newTestServer(t)
	a := ts.dial(t)
	code := a.createRoom("A")

	resp, _ := post(t, ts, `{"language":"python","code":"print(1+1)","room":"`+code+`"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var out domain.Result
	a.expect(EventRunOutput, &out)
	if out.Stdout != "2\n" {
		t.Errorf("runOutput = %+v", out)
	}
}

type fullSubmitter struct{}

func (fullSubmitter) Submit(context.Context, domain.Job, dispatch.Callback) (domain.Job, error) {
	return domain.Job{}, domain.ErrQueueFull
}

func (fullSubmitter) Pending() int { return 0 }

func TestRunEndpointQueueFull(t *testing.T) {
	g := New(Options{Rooms: room.NewRegistry(), Hub: NewHub(), Runner: fullSubmitter{}})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/run", strings.NewReader(`{"language":"python","code":"x"}`))
	g.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestRoomEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.srv.URL + "/api/rooms/missing1")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing room status = %d, want 404", resp.StatusCode)
	}

	a := ts.dial(t)
	code := a.createRoom("A")

	resp, err = http.Get(ts.srv.URL + "/api/rooms/" + code)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var got roomPayload
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Room != code || got.Language != domain.JavaScript || len(got.Users) != 1 || got.Users[0].Name != "A" {
		t.Errorf("room = %+v", got)
	}
	if got.Typing == nil || len(got.Typing) != 0 {
		t.Errorf("typing = %v, want empty list", got.Typing)
	}
}

func TestRoomEndpointListsTypingMembers(t *testing.T) {
	ts := newTestServer(t)
	a := ts.dial(t)
	code := a.createRoom("A")
	if err := ts.rooms.SetTyping(code, roomMemberID(t, ts, code), true); err != nil {
		t.Fatalf("SetTyping() error: %v", err)
	}

	resp, err := http.Get(ts.srv.URL + "/api/rooms/" + code)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var got roomPayload
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got.Typing) != 1 || got.Typing[0] != "A" {
		t.Errorf("typing = %v, want [A]", got.Typing)
	}
}

func roomMemberID(t *testing.T, ts *testServer, code string) string {
	t.Helper()
	snap, err := ts.rooms.Snapshot(code)
	if err != nil || len(snap.Members) == 0 {
		t.Fatalf("room %s has no members (err %v)", code, err)
	}
	return snap.Members[0].ID
}

func TestRunEndpointAcceptsEmptyProgram(t *testing.T) {
	ts := newTestServer(t)

	resp, out := post(t, ts, `{"language":"python","code":""}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%v)", resp.StatusCode, out)
	}
	if out["ok"] != true || out["stdout"] != "" {
		t.Errorf("body = %v", out)
	}
}

func TestRunEndpointBroadcastsAfterCallerLeaves(t *testing.T) {
	ts := newTestServer(t)
	a := ts.dial(t)
	code := a.createRoom("A")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	body := `{"language":"python","code":"sleep 300ms","room":"` + code + `"}`
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.srv.URL+"/api/run", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if resp, err := http.DefaultClient.Do(req); err == nil {
		resp.Body.Close()
		t.Fatalf("request finished with %d before the run did", resp.StatusCode)
	}

	var out domain.Result
	a.expect(EventRunOutput, &out)
	if out.Stdout != "slept\n" {
		t.Errorf("runOutput = %+v", out)
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" || body["rooms"] != float64(0) || body["pendingRuns"] != float64(0) {
		t.Errorf("healthz = %v", body)
	}
}
