package session

import (
	"testing"
	"time"

	"github.com/clubside/regbot/internal/providers"
)

func TestAppendEvictsNonPreservedTail(t *testing.T) {
	s := NewStore(3, time.Hour)

	for i := 0; i < 5; i++ {
		if err := s.Append("s1", providers.Message{Role: "user", Content: "hi"}, false); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	hist, err := s.History("s1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 3 {
		t.Fatalf("want 3 entries after eviction, got %d", len(hist))
	}
}

func TestAppendPreservedSurvivesEviction(t *testing.T) {
	s := NewStore(2, time.Hour)

	_ = s.Append("s1", providers.Message{Role: "system", Content: "AGENT_TRANSITION"}, true)
	for i := 0; i < 4; i++ {
		_ = s.Append("s1", providers.Message{Role: "user", Content: "hi"}, false)
	}

	sess, err := s.Get("s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	preservedCount, nonPreservedCount := 0, 0
	for _, e := range sess.history {
		if e.Preserved {
			preservedCount++
		} else {
			nonPreservedCount++
		}
	}
	if preservedCount != 1 {
		t.Fatalf("want 1 preserved entry, got %d", preservedCount)
	}
	if nonPreservedCount != 2 {
		t.Fatalf("want 2 non-preserved entries, got %d", nonPreservedCount)
	}
}

func TestInvalidSessionID(t *testing.T) {
	s := NewStore(40, time.Hour)
	if _, err := s.Get("has a space"); err == nil {
		t.Fatal("expected error for invalid session id")
	}
	if _, err := s.Get(string(make([]byte, 200))); err == nil {
		t.Fatal("expected error for over-long session id")
	}
}

func TestLockerSessionBusy(t *testing.T) {
	l := NewLocker(20 * time.Millisecond)

	release, err := l.Acquire("s1")
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	defer release()

	if _, err := l.Acquire("s1"); err != ErrSessionBusy {
		t.Fatalf("want ErrSessionBusy, got %v", err)
	}
}

func TestSweepRemovesIdleSessions(t *testing.T) {
	s := NewStore(40, time.Millisecond)
	_ = s.Append("s1", providers.Message{Role: "user", Content: "hi"}, false)

	time.Sleep(5 * time.Millisecond)
	removed := s.Sweep(time.Now())
	if removed != 1 {
		t.Fatalf("want 1 session swept, got %d", removed)
	}
	if s.Len() != 0 {
		t.Fatalf("want 0 sessions remaining, got %d", s.Len())
	}
}
