package session

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
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

func TestAttachCreatesEmptyState(t *testing.T) {
	t.Parallel()

	m := NewManager(NewMemoryStore(), time.Hour, newFakeClock(), nil)
	state, err := m.Attach(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if state.Domain != "example.com" || len(state.Cookies) != 0 || len(state.Tokens) != 0 {
		t.Fatalf("expected fresh state, got %+v", state)
	}
}

func TestRecordResponseMergesAndRefreshesTTL(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	m := NewManager(NewMemoryStore(), time.Hour, clock, nil)
	ctx := context.Background()

	err := m.RecordResponse(ctx, "example.com",
		[]*http.Cookie{{Name: "sid", Value: "one"}},
		map[string]string{"csrf_token": "t1"},
	)
	if err != nil {
		t.Fatalf("RecordResponse() error = %v", err)
	}

	clock.Advance(30 * time.Minute)
	err = m.RecordResponse(ctx, "example.com",
		[]*http.Cookie{{Name: "sid", Value: "two"}, {Name: "pref", Value: "dark"}},
		nil,
	)
	if err != nil {
		t.Fatalf("RecordResponse() error = %v", err)
	}

	state, err := m.Attach(ctx, "example.com")
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if len(state.Cookies) != 2 {
		t.Fatalf("expected merged cookies, got %d", len(state.Cookies))
	}
	if state.Cookies[0].Value != "two" {
		t.Fatalf("newer cookie should win, got %q", state.Cookies[0].Value)
	}
	if state.Tokens["csrf_token"] != "t1" {
		t.Fatalf("token lost on merge: %+v", state.Tokens)
	}
	wantExpiry := clock.Now().Add(time.Hour)
	if !state.ExpiresAt.Equal(wantExpiry) {
		t.Fatalf("TTL not refreshed: got %v want %v", state.ExpiresAt, wantExpiry)
	}
}

func TestAttachEvictsExpiredState(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	m := NewManager(NewMemoryStore(), time.Hour, clock, nil)
	ctx := context.Background()

	if err := m.RecordResponse(ctx, "example.com", []*http.Cookie{{Name: "sid", Value: "one"}}, nil); err != nil {
		t.Fatalf("RecordResponse() error = %v", err)
	}
	clock.Advance(2 * time.Hour)

	state, err := m.Attach(ctx, "example.com")
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if len(state.Cookies) != 0 {
		t.Fatal("expired cookies must not be reattached")
	}
}

func TestInvalidateDropsState(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	m := NewManager(NewMemoryStore(), time.Hour, clock, nil)
	ctx := context.Background()

	if err := m.RecordResponse(ctx, "example.com", []*http.Cookie{{Name: "sid", Value: "one"}}, nil); err != nil {
		t.Fatalf("RecordResponse() error = %v", err)
	}
	if err := m.Invalidate(ctx, "example.com"); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	state, err := m.Attach(ctx, "example.com")
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if len(state.Cookies) != 0 {
		t.Fatal("invalidated state must not survive")
	}
}

func TestDomainsAreIsolated(t *testing.T) {
	t.Parallel()

	m := NewManager(NewMemoryStore(), time.Hour, newFakeClock(), nil)
	ctx := context.Background()

	if err := m.RecordResponse(ctx, "a.example", []*http.Cookie{{Name: "sid", Value: "a"}}, nil); err != nil {
		t.Fatalf("RecordResponse() error = %v", err)
	}
	state, err := m.Attach(ctx, "b.example")
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if len(state.Cookies) != 0 {
		t.Fatal("state leaked across domains")
	}
}

func TestConcurrentRecordResponseSameDomain(t *testing.T) {
	t.Parallel()

	m := NewManager(NewMemoryStore(), time.Hour, newFakeClock(), nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cookie := &http.Cookie{Name: "sid", Value: "v"}
			_ = m.RecordResponse(ctx, "example.com", []*http.Cookie{cookie}, map[string]string{"token": "t"})
		}()
	}
	wg.Wait()

	state, err := m.Attach(ctx, "example.com")
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if len(state.Cookies) != 1 {
		t.Fatalf("cookie merge raced, got %d cookies", len(state.Cookies))
	}
}
