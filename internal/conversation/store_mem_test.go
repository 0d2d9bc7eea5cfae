package conversation

import (
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/wukaijin/moltbot-with-lark/internal/provider"
)

// fakeClock drives a MemoryStore through controllable time.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func newTestStore(policy Policy) (*MemoryStore, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	s := NewMemoryStore(policy)
	s.now = clock.Now
	return s, clock
}

func userMsg(content string) Message {
	return Message{Role: provider.MessageRoleUser, Content: content}
}

func TestAppendAndHistory(t *testing.T) {
	s, _ := newTestStore(Policy{MaxHistory: 10, MaxAge: time.Hour})

	if err := s.Append("oc_1", userMsg("hello")); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if err := s.Append("oc_1", Message{Role: provider.MessageRoleAssistant, Content: "hi there"}); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	got, err := s.History("oc_1")
	if err != nil {
		t.Fatalf("History() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(history) = %d, want 2", len(got))
	}
	if got[0].Content != "hello" || got[1].Content != "hi there" {
		t.Errorf("history order wrong: %+v", got)
	}
}

func TestHistoryTrimsFIFO(t *testing.T) {
	s, _ := newTestStore(Policy{MaxHistory: 3, MaxAge: time.Hour})

	for i := range 7 {
		if err := s.Append("oc_1", userMsg(fmt.Sprintf("msg-%d", i))); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}

	got, err := s.History("oc_1")
	if err != nil {
		t.Fatalf("History() error: %v", err)
	}
	want := []string{"msg-4", "msg-5", "msg-6"}
	if len(got) != len(want) {
		t.Fatalf("len(history) = %d, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Content != w {
			t.Errorf("history[%d] = %q, want %q", i, got[i].Content, w)
		}
	}
}

func TestHistoryUnknownConversation(t *testing.T) {
	s, _ := newTestStore(DefaultPolicy())
	got, err := s.History("missing")
	if err != nil {
		t.Fatalf("History() error: %v", err)
	}
	if got != nil {
		t.Errorf("History(missing) = %v, want nil", got)
	}
}

func TestExpiredHistoryIsEmptyAndEvicted(t *testing.T) {
	s, clock := newTestStore(Policy{MaxHistory: 10, MaxAge: time.Hour})

	if err := s.Append("oc_1", userMsg("hello")); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	clock.Advance(2 * time.Hour)

	got, err := s.History("oc_1")
	if err != nil {
		t.Fatalf("History() error: %v", err)
	}
	if got != nil {
		t.Errorf("expired History() = %v, want nil", got)
	}

	active, err := s.ListActive()
	if err != nil {
		t.Fatalf("ListActive() error: %v", err)
	}
	if slices.Contains(active, "oc_1") {
		t.Error("expired conversation still listed after lazy eviction")
	}
}

func TestHistoryDoesNotRefreshActivity(t *testing.T) {
	s, clock := newTestStore(Policy{MaxHistory: 10, MaxAge: time.Hour})

	if err := s.Append("oc_1", userMsg("hello")); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	// Read repeatedly just inside the expiry window; reads must not keep
	// the conversation alive.
	clock.Advance(59 * time.Minute)
	if _, err := s.History("oc_1"); err != nil {
		t.Fatalf("History() error: %v", err)
	}
	clock.Advance(2 * time.Minute)

	got, err := s.History("oc_1")
	if err != nil {
		t.Fatalf("History() error: %v", err)
	}
	if got != nil {
		t.Error("read refreshed last activity; conversation should have expired")
	}
}

func TestClearIsIdempotent(t *testing.T) {
	s, _ := newTestStore(DefaultPolicy())
	if err := s.Append("oc_1", userMsg("hello")); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if err := s.Clear("oc_1"); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}
	if err := s.Clear("oc_1"); err != nil {
		t.Fatalf("second Clear() error: %v", err)
	}
	got, err := s.History("oc_1")
	if err != nil {
		t.Fatalf("History() error: %v", err)
	}
	if got != nil {
		t.Errorf("History after Clear = %v, want nil", got)
	}
}

func TestSweepExpired(t *testing.T) {
	s, clock := newTestStore(Policy{MaxHistory: 10, MaxAge: time.Hour})

	if err := s.Append("old_1", userMsg("a")); err != nil {
		t.Fatal(err)
	}
	if err := s.Append("old_2", userMsg("b")); err != nil {
		t.Fatal(err)
	}
	clock.Advance(90 * time.Minute)
	if err := s.Append("fresh", userMsg("c")); err != nil {
		t.Fatal(err)
	}

	removed, err := s.SweepExpired()
	if err != nil {
		t.Fatalf("SweepExpired() error: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	active, err := s.ListActive()
	if err != nil {
		t.Fatalf("ListActive() error: %v", err)
	}
	if len(active) != 1 || active[0] != "fresh" {
		t.Errorf("active = %v, want [fresh]", active)
	}
}

func TestStatsCountsAllAppendsDespiteTrim(t *testing.T) {
	s, _ := newTestStore(Policy{MaxHistory: 2, MaxAge: time.Hour})

	for i := range 5 {
		if err := s.Append("oc_1", userMsg(fmt.Sprintf("msg-%d", i))); err != nil {
			t.Fatal(err)
		}
	}

	stats, err := s.Stats("oc_1")
	if err != nil {
		t.Fatalf("Stats() error: %v", err)
	}
	if stats.MessageCount != 5 {
		t.Errorf("MessageCount = %d, want 5 (monotonic, not trimmed)", stats.MessageCount)
	}

	history, err := s.History("oc_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Errorf("len(history) = %d, want 2", len(history))
	}
}

func TestStatsUnknownConversation(t *testing.T) {
	s, _ := newTestStore(DefaultPolicy())
	stats, err := s.Stats("missing")
	if err != nil {
		t.Fatalf("Stats() error: %v", err)
	}
	if stats.MessageCount != 0 || !stats.LastActivity.IsZero() {
		t.Errorf("Stats(missing) = %+v, want zero value", stats)
	}
}

func TestHistoryReturnsCopy(t *testing.T) {
	s, _ := newTestStore(DefaultPolicy())
	if err := s.Append("oc_1", userMsg("original")); err != nil {
		t.Fatal(err)
	}

	first, err := s.History("oc_1")
	if err != nil {
		t.Fatal(err)
	}
	first[0].Content = "mutated"

	second, err := s.History("oc_1")
	if err != nil {
		t.Fatal(err)
	}
	if second[0].Content != "original" {
		t.Error("History() exposed internal storage to mutation")
	}
}
