package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lunabadge/luna/internal/logging"
)

// fakeClock is advanced manually by tests.
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

func newTestQueue(cfg Config) (*Queue, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
	return New(cfg, WithLogger(logging.Nop()), WithClock(clock.Now)), clock
}

func TestAddSchedulesAfterInterval(t *testing.T) {
	q, clock := newTestQueue(Config{MaxAttempts: 3, Interval: time.Minute})
	calls := 0
	q.Register(TypeTTS, func(context.Context, Item) error {
		calls++
		return nil
	})

	id := q.Add(TypeTTS, "请直行")
	if id == "" {
		t.Fatal("empty id")
	}

	if got := q.ProcessPending(context.Background()); len(got) != 0 {
		t.Errorf("item retried before interval: %v", got)
	}
	clock.Advance(time.Minute)
	got := q.ProcessPending(context.Background())
	if len(got) != 1 || got[0] != id {
		t.Fatalf("ProcessPending = %v, want [%s]", got, id)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}

	it, _ := q.Get(id)
	if it.Status != StatusSucceeded || it.Attempts != 1 {
		t.Errorf("item = %+v", it)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	q, clock := newTestQueue(Config{MaxAttempts: 2, Interval: time.Second})
	q.Register(TypeMemory, func(context.Context, Item) error { return errors.New("disk full") })

	id := q.Add(TypeMemory, nil, WithMetadata(map[string]string{"operation": "save_path"}))

	clock.Advance(time.Second)
	q.ProcessPending(context.Background())
	it, _ := q.Get(id)
	if it.Status != StatusPending || it.Attempts != 1 || it.LastError != "disk full" {
		t.Fatalf("after first failure: %+v", it)
	}
	if !it.NextAttempt.Equal(clock.Now().Add(time.Second)) {
		t.Errorf("NextAttempt = %v, want one interval later", it.NextAttempt)
	}

	clock.Advance(time.Second)
	q.ProcessPending(context.Background())
	it, _ = q.Get(id)
	if it.Status != StatusFailed || it.Attempts != 2 {
		t.Errorf("after second failure: %+v", it)
	}
	if it.Metadata["operation"] != "save_path" {
		t.Errorf("metadata lost: %v", it.Metadata)
	}

	clock.Advance(time.Hour)
	q.ProcessPending(context.Background())
	if it, _ := q.Get(id); it.Attempts != 2 {
		t.Errorf("failed item retried again: %d attempts", it.Attempts)
	}
}

func TestMissingCallbackAndPanic(t *testing.T) {
	q, clock := newTestQueue(Config{MaxAttempts: 1, Interval: time.Second})
	q.Register(TypeNavigation, func(context.Context, Item) error { panic("planner crashed") })

	orphan := q.Add("unknown", 1)
	panicky := q.Add(TypeNavigation, map[string]string{"facility": "toilet"})

	clock.Advance(time.Second)
	if got := q.ProcessPending(context.Background()); len(got) != 0 {
		t.Errorf("unexpected successes: %v", got)
	}
	if it, _ := q.Get(orphan); it.Status != StatusFailed {
		t.Errorf("orphan status = %s", it.Status)
	}
	if it, _ := q.Get(panicky); it.Status != StatusFailed || it.LastError == "" {
		t.Errorf("panicky item = %+v", it)
	}
}

func TestWithMaxAttempts(t *testing.T) {
	q, clock := newTestQueue(Config{MaxAttempts: 1, Interval: time.Second})
	q.Register(TypeTTS, func(context.Context, Item) error { return errors.New("busy") })
	id := q.Add(TypeTTS, "x", WithMaxAttempts(3))

	for i := 0; i < 3; i++ {
		clock.Advance(time.Second)
		q.ProcessPending(context.Background())
	}
	it, _ := q.Get(id)
	if it.Attempts != 3 || it.Status != StatusFailed {
		t.Errorf("item = %+v", it)
	}
}

func TestRetryAll(t *testing.T) {
	q, _ := newTestQueue(Config{Interval: time.Hour})
	q.Register(TypeTTS, func(context.Context, Item) error { return nil })
	q.Add(TypeTTS, "a")
	q.Add(TypeTTS, "b")

	if got := q.RetryAll(context.Background()); len(got) != 2 {
		t.Errorf("RetryAll = %v, want two successes", got)
	}
}

func TestStatusPendingRemoveClear(t *testing.T) {
	q, clock := newTestQueue(Config{MaxAttempts: 1, Interval: time.Second})
	q.Register(TypeTTS, func(_ context.Context, it Item) error {
		if it.Payload == "fail" {
			return errors.New("no")
		}
		return nil
	})

	q.Add(TypeTTS, "ok")
	q.Add(TypeTTS, "fail")
	keep := q.Add(TypeMemory, nil)
	clock.Advance(500 * time.Millisecond)
	extra := q.Add(TypeTTS, "later")

	clock.Advance(500 * time.Millisecond)
	q.ProcessPending(context.Background())

	s := q.Status()
	if s.Total != 4 {
		t.Errorf("Total = %d", s.Total)
	}
	if s.ByStatus[StatusSucceeded] != 1 || s.ByStatus[StatusFailed] != 2 || s.ByStatus[StatusPending] != 1 {
		t.Errorf("ByStatus = %v", s.ByStatus)
	}
	if s.ByType[TypeTTS] != 3 || s.ByType[TypeMemory] != 1 {
		t.Errorf("ByType = %v", s.ByType)
	}
	if len(q.Pending(TypeTTS)) != 1 || len(q.Pending("")) != 1 {
		t.Errorf("Pending = %v", q.Pending(""))
	}

	if n := q.ClearCompleted(); n != 3 {
		t.Errorf("ClearCompleted removed %d, want 3", n)
	}
	if _, ok := q.Get(keep); ok {
		t.Error("memory item with no callback should have failed and been cleared")
	}
	if !q.Remove(extra) {
		t.Error("Remove(extra) = false")
	}
	if q.Remove(extra) {
		t.Error("second Remove should report false")
	}
	if q.Len() != 0 {
		t.Errorf("Len = %d", q.Len())
	}
}

func TestClearSucceededKeepsFailed(t *testing.T) {
	q, clock := newTestQueue(Config{MaxAttempts: 1, Interval: time.Second})
	q.Register(TypeTTS, func(_ context.Context, it Item) error {
		if it.Payload == "fail" {
			return errors.New("speaker offline")
		}
		return nil
	})
	ok := q.Add(TypeTTS, "ok")
	failed := q.Add(TypeTTS, "fail")

	clock.Advance(time.Second)
	q.ProcessPending(context.Background())

	if n := q.ClearSucceeded(); n != 1 {
		t.Errorf("ClearSucceeded removed %d, want 1", n)
	}
	if _, found := q.Get(ok); found {
		t.Error("succeeded item should be gone")
	}
	if it, found := q.Get(failed); !found || it.Status != StatusFailed {
		t.Fatalf("failed item = %+v, found %v", it, found)
	}
	if s := q.Status(); s.ByStatus[StatusFailed] != 1 {
		t.Errorf("ByStatus = %v, want one failed", s.ByStatus)
	}

	if n := q.ClearFailed(clock.Now()); n != 0 {
		t.Errorf("ClearFailed at last attempt removed %d, want 0", n)
	}
	clock.Advance(time.Hour)
	if n := q.ClearFailed(clock.Now().Add(-time.Minute)); n != 1 {
		t.Errorf("ClearFailed removed %d, want 1", n)
	}
	if q.Len() != 0 {
		t.Errorf("Len = %d", q.Len())
	}
}

func TestProcessPendingCancelled(t *testing.T) {
	q, clock := newTestQueue(Config{MaxAttempts: 3, Interval: time.Second})
	q.Register(TypeTTS, func(context.Context, Item) error { return nil })
	id := q.Add(TypeTTS, "x")
	clock.Advance(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if got := q.ProcessPending(ctx); len(got) != 0 {
		t.Errorf("cancelled context succeeded: %v", got)
	}
	if it, _ := q.Get(id); it.Status != StatusPending {
		t.Errorf("status = %s, want pending", it.Status)
	}
}
