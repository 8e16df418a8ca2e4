package session

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestCountdownRemainingClampsToZero(t *testing.T) {
	mock := clock.NewMock()
	autoEndAt := mock.Now().Add(5 * time.Second)
	c := NewCountdown(mock, autoEndAt, func() {})

	if got := c.Remaining(); got != 5*time.Second {
		t.Fatalf("Remaining() = %v, want 5s", got)
	}

	mock.Add(2 * time.Second)
	if got := c.Remaining(); got != 3*time.Second {
		t.Fatalf("Remaining() = %v, want 3s", got)
	}

	mock.Add(10 * time.Second)
	if got := c.Remaining(); got != 0 {
		t.Fatalf("Remaining() = %v, want 0 after deadline", got)
	}
}

func TestCountdownFiresExactlyOnce(t *testing.T) {
	mock := clock.NewMock()
	var fired int32
	expired := make(chan struct{}, 4)

	c := NewCountdown(mock, mock.Now().Add(3*time.Second), func() {
		atomic.AddInt32(&fired, 1)
		expired <- struct{}{}
	})
	c.Start()

	mock.Add(5 * time.Second)

	select {
	case <-expired:
	case <-time.After(2 * time.Second):
		t.Fatal("countdown did not fire")
	}

	// Further advancement must not re-fire a disarmed countdown.
	mock.Add(10 * time.Second)
	time.Sleep(20 * time.Millisecond)

	if got := atomic.LoadInt32(&fired); got != 1 {
		t.Fatalf("onExpire fired %d times, want 1", got)
	}
}

func TestCountdownStopPreventsFire(t *testing.T) {
	mock := clock.NewMock()
	var fired int32

	c := NewCountdown(mock, mock.Now().Add(3*time.Second), func() {
		atomic.AddInt32(&fired, 1)
	})
	c.Start()
	c.Stop()
	c.Stop() // idempotent

	mock.Add(10 * time.Second)
	time.Sleep(20 * time.Millisecond)

	if got := atomic.LoadInt32(&fired); got != 0 {
		t.Fatalf("onExpire fired %d times after Stop, want 0", got)
	}
}

// A teardown can call Stop before the owner ever calls Start; the
// late Start must not arm a ticker nobody will stop again.
func TestCountdownStartAfterStopStaysDisarmed(t *testing.T) {
	mock := clock.NewMock()
	var fired int32

	c := NewCountdown(mock, mock.Now().Add(3*time.Second), func() {
		atomic.AddInt32(&fired, 1)
	})
	c.Stop()
	c.Start()

	mock.Add(10 * time.Second)
	time.Sleep(20 * time.Millisecond)

	if got := atomic.LoadInt32(&fired); got != 0 {
		t.Fatalf("onExpire fired %d times after Stop-then-Start, want 0", got)
	}
}

func TestCountdownDoesNotFireEarly(t *testing.T) {
	mock := clock.NewMock()
	var fired int32

	c := NewCountdown(mock, mock.Now().Add(10*time.Second), func() {
		atomic.AddInt32(&fired, 1)
	})
	c.Start()
	defer c.Stop()

	mock.Add(9 * time.Second)
	time.Sleep(20 * time.Millisecond)

	if got := atomic.LoadInt32(&fired); got != 0 {
		t.Fatalf("onExpire fired %d times before deadline, want 0", got)
	}
	if got := c.Remaining(); got != time.Second {
		t.Fatalf("Remaining() = %v, want 1s", got)
	}
}
