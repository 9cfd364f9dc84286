package schedule

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerFires(t *testing.T) {
	s := New(nil)
	defer s.Cleanup()

	fired := make(chan struct{})
	s.Schedule(Key("i1", "r1", "notify"), time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("scheduled action never fired")
	}

	if s.Len() != 0 {
		t.Fatalf("pending timers = %d after fire, want 0", s.Len())
	}
}

func TestSchedulerReplaceSameKey(t *testing.T) {
	s := New(nil)
	defer s.Cleanup()

	var first, second int32
	key := Key("i1", "r1", "escalate")

	s.Schedule(key, 5*time.Millisecond, func() { atomic.AddInt32(&first, 1) })
	s.Schedule(key, 5*time.Millisecond, func() { atomic.AddInt32(&second, 1) })

	time.Sleep(50 * time.Millisecond)

	if atomic.LoadInt32(&first) != 0 {
		t.Fatal("replaced timer fired")
	}
	if atomic.LoadInt32(&second) != 1 {
		t.Fatal("replacement timer did not fire")
	}
}

func TestSchedulerCancel(t *testing.T) {
	s := New(nil)
	defer s.Cleanup()

	var fired int32
	key := Key("i1", "r1", "notify")
	s.Schedule(key, 5*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })

	if !s.Cancel(key) {
		t.Fatal("Cancel returned false for pending timer")
	}
	if s.Cancel(key) {
		t.Fatal("Cancel returned true for already-cancelled timer")
	}

	time.Sleep(30 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Fatal("cancelled timer fired")
	}
}

func TestSchedulerCancelAllByIssue(t *testing.T) {
	s := New(nil)
	defer s.Cleanup()

	var fired int32
	s.Schedule(Key("i1", "r1", "notify"), 5*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	s.Schedule(Key("i1", "r2", "escalate"), 5*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	s.Schedule(Key("i2", "r1", "notify"), 5*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })

	if got := s.CancelAll("i1"); got != 2 {
		t.Fatalf("CancelAll = %d, want 2", got)
	}

	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&fired); got != 1 {
		t.Fatalf("fired = %d, want 1 (only the i2 timer)", got)
	}
}

func TestSchedulerCleanup(t *testing.T) {
	s := New(nil)

	var fired int32
	s.Schedule(Key("i1", "r1", "notify"), 5*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	s.Cleanup()

	// Schedule after Cleanup is a no-op.
	s.Schedule(Key("i2", "r1", "notify"), time.Millisecond, func() { atomic.AddInt32(&fired, 1) })

	time.Sleep(30 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Fatal("timer fired after Cleanup")
	}
	if s.Len() != 0 {
		t.Fatalf("pending timers = %d after Cleanup, want 0", s.Len())
	}
}
