package room

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dontdude/coderoom/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func memberNames(s Snapshot) []string {
	names := make([]string, len(s.Members))
	for i, m := range s.Members {
		names[i] = m.Name
	}
	return names
}

func TestCreateReturnsUniqueJoinableCodes(t *testing.T) {
	reg := NewRegistry()
	seen := make(map[string]bool)

	for i := range 200 {
		snap, err := reg.Create(fmt.Sprintf("conn-%d", i), "A")
		if err != nil {
			t.Fatalf("Create() error: %v", err)
		}
		if len(snap.Code) != codeLength {
			t.Fatalf("room code %q has length %d, want %d", snap.Code, len(snap.Code), codeLength)
		}
		if seen[snap.Code] {
			t.Fatalf("duplicate room code %q", snap.Code)
		}
		seen[snap.Code] = true

		if _, err := reg.Join(snap.Code, fmt.Sprintf("joiner-%d", i), "B"); err != nil {
			t.Fatalf("Join(%q) error: %v", snap.Code, err)
		}
	}
	if reg.Len() != 200 {
		t.Errorf("Len() = %d, want 200", reg.Len())
	}
}

func TestCreateRetriesOnCollision(t *testing.T) {
	codes := []string{"aaaaaaaa", "aaaaaaaa", "bbbbbbbb"}
	var i int
	reg := NewRegistry(WithCodeGenerator(func() string {
		c := codes[i]
		i++
		return c
	}))

	first, err := reg.Create("c1", "A")
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	second, err := reg.Create("c2", "B")
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if first.Code != "aaaaaaaa" || second.Code != "bbbbbbbb" {
		t.Errorf("codes = %q, %q; want aaaaaaaa, bbbbbbbb", first.Code, second.Code)
	}
}

func TestCreateSeedsDefaultDocument(t *testing.T) {
	reg := NewRegistry()
	snap, err := reg.Create("c1", "A")
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if snap.Document != domain.DefaultDocument() {
		t.Errorf("Document = %+v, want default", snap.Document)
	}
	if got := memberNames(snap); len(got) != 1 || got[0] != "A" {
		t.Errorf("Members = %v, want [A]", got)
	}
}

func TestCreateRespectsRoomCeiling(t *testing.T) {
	reg := NewRegistry(WithMaxRooms(1))
	if _, err := reg.Create("c1", "A"); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if _, err := reg.Create("c2", "B"); !errors.Is(err, domain.ErrRegistryFull) {
		t.Errorf("Create() error = %v, want ErrRegistryFull", err)
	}
}

func TestJoinUnknownRoomChangesNothing(t *testing.T) {
	reg := NewRegistry()
	var events int
	reg.Subscribe(func(Event) { events++ })

	if _, err := reg.Join("nope1234", "c1", "A"); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("Join() error = %v, want ErrRoomNotFound", err)
	}
	if reg.Len() != 0 {
		t.Errorf("Len() = %d, want 0", reg.Len())
	}
	if events != 0 {
		t.Errorf("listener called %d times, want 0", events)
	}
}

func TestJoinSameConnectionTwiceDoesNotDuplicate(t *testing.T) {
	reg := NewRegistry()
	snap, _ := reg.Create("c1", "A")

	if _, err := reg.Join(snap.Code, "c2", "B"); err != nil {
		t.Fatalf("Join() error: %v", err)
	}
	got, err := reg.Join(snap.Code, "c2", "B2")
	if err != nil {
		t.Fatalf("Join() error: %v", err)
	}
	names := memberNames(got)
	if len(names) != 2 || names[0] != "A" || names[1] != "B2" {
		t.Errorf("Members = %v, want [A B2]", names)
	}
}

func TestLeaveIsIdempotent(t *testing.T) {
	reg := NewRegistry()
	snap, _ := reg.Create("c1", "A")
	reg.Join(snap.Code, "c2", "B")

	after, m, removed := reg.Leave(snap.Code, "c2")
	if !removed || m.Name != "B" {
		t.Fatalf("Leave() = (%v, %v), want removed member B", m, removed)
	}
	if got := memberNames(after); len(got) != 1 || got[0] != "A" {
		t.Errorf("Members = %v, want [A]", got)
	}

	if _, _, removed := reg.Leave(snap.Code, "c2"); removed {
		t.Error("second Leave() reported a removal")
	}
	if _, _, removed := reg.Leave("missing0", "c2"); removed {
		t.Error("Leave() on an unknown room reported a removal")
	}
}

func TestUpdateDocumentReplacesPair(t *testing.T) {
	reg := NewRegistry()
	snap, _ := reg.Create("c1", "A")

	got, err := reg.UpdateDocument(snap.Code, "c1", "print(1)", domain.Python)
	if err != nil {
		t.Fatalf("UpdateDocument() error: %v", err)
	}
	want := domain.Document{Content: "print(1)", Language: domain.Python}
	if got.Document != want {
		t.Errorf("Document = %+v, want %+v", got.Document, want)
	}

	// Empty language keeps the current language.
	got, _ = reg.UpdateDocument(snap.Code, "c1", "print(2)", "")
	if got.Document.Language != domain.Python || got.Document.Content != "print(2)" {
		t.Errorf("Document = %+v, want python/print(2)", got.Document)
	}

	if _, err := reg.UpdateDocument(snap.Code, "c1", "x", "cobol"); !errors.Is(err, domain.ErrUnsupportedLanguage) {
		t.Errorf("UpdateDocument() error = %v, want ErrUnsupportedLanguage", err)
	}
}

func TestUpdateDocumentCreatesMissingRoom(t *testing.T) {
	reg := NewRegistry()
	got, err := reg.UpdateDocument("stray123", "c1", "int main(){}", domain.Cpp)
	if err != nil {
		t.Fatalf("UpdateDocument() error: %v", err)
	}
	if len(got.Members) != 0 {
		t.Errorf("Members = %v, want none", got.Members)
	}

	snap, err := reg.Snapshot("stray123")
	if err != nil {
		t.Fatalf("Snapshot() error: %v", err)
	}
	if snap.Document.Content != "int main(){}" || snap.Document.Language != domain.Cpp {
		t.Errorf("Document = %+v, want the submitted content", snap.Document)
	}
}

func TestListenersSeeEveryMutationInOrder(t *testing.T) {
	reg := NewRegistry()
	var kinds []EventKind
	var versions []uint64
	reg.Subscribe(func(ev Event) {
		kinds = append(kinds, ev.Kind)
		versions = append(versions, ev.Snapshot.Version)
	})

	snap, _ := reg.Create("c1", "A")
	reg.Join(snap.Code, "c2", "B")
	reg.UpdateDocument(snap.Code, "c2", "x", "")
	reg.SetTyping(snap.Code, "c2", true)
	reg.Leave(snap.Code, "c2")

	want := []EventKind{RoomCreated, MemberJoined, DocumentUpdated, TypingChanged, MemberLeft}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event[%d] = %v, want %v", i, kinds[i], want[i])
		}
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] < versions[i-1] {
			t.Errorf("snapshot versions went backwards: %v", versions)
		}
	}
}

func TestSetTypingRequiresMembership(t *testing.T) {
	reg := NewRegistry()
	snap, _ := reg.Create("c1", "A")

	if err := reg.SetTyping(snap.Code, "stranger", true); !errors.Is(err, domain.ErrMemberNotFound) {
		t.Errorf("SetTyping() error = %v, want ErrMemberNotFound", err)
	}
	if err := reg.SetTyping(snap.Code, "c1", true); err != nil {
		t.Fatalf("SetTyping() error: %v", err)
	}
	names, _ := reg.Typing(snap.Code)
	if len(names) != 1 || names[0] != "A" {
		t.Errorf("Typing() = %v, want [A]", names)
	}
}

func TestConcurrentJoinsAreNotLost(t *testing.T) {
	reg := NewRegistry()
	snap, _ := reg.Create("owner", "A")

	const n = 64
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("c-%d", i)
			if _, err := reg.Join(snap.Code, id, id); err != nil {
				t.Errorf("Join() error: %v", err)
			}
			if i%2 == 0 {
				reg.Leave(snap.Code, id)
			}
		}()
	}
	wg.Wait()

	got, _ := reg.Snapshot(snap.Code)
	if len(got.Members) != 1+n/2 {
		t.Errorf("members = %d, want %d", len(got.Members), 1+n/2)
	}
}

func TestReapRemovesOnlyRoomsEmptyPastGrace(t *testing.T) {
	clock := newClock()
	reg := NewRegistry(WithClock(clock.Now))

	empty, _ := reg.Create("c1", "A")
	busy, _ := reg.Create("c2", "B")
	reg.Leave(empty.Code, "c1")

	clock.Advance(5 * time.Minute)
	if reaped := reg.Reap(10 * time.Minute); len(reaped) != 0 {
		t.Fatalf("Reap() = %v before grace elapsed", reaped)
	}

	clock.Advance(6 * time.Minute)
	reaped := reg.Reap(10 * time.Minute)
	if len(reaped) != 1 || reaped[0] != empty.Code {
		t.Fatalf("Reap() = %v, want [%s]", reaped, empty.Code)
	}
	if _, err := reg.Join(empty.Code, "c3", "C"); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Errorf("Join() on reaped room error = %v, want ErrRoomNotFound", err)
	}
	if _, err := reg.Snapshot(busy.Code); err != nil {
		t.Errorf("busy room was reaped: %v", err)
	}
}

func TestRejoinResetsEmptyTimer(t *testing.T) {
	clock := newClock()
	reg := NewRegistry(WithClock(clock.Now))

	snap, _ := reg.Create("c1", "A")
	reg.Leave(snap.Code, "c1")
	clock.Advance(9 * time.Minute)
	reg.Join(snap.Code, "c2", "B")
	clock.Advance(9 * time.Minute)

	if reaped := reg.Reap(10 * time.Minute); len(reaped) != 0 {
		t.Errorf("Reap() = %v, want nothing while a member is present", reaped)
	}
}
