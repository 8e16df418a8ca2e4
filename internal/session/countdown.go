package session

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// tickInterval is how often the countdown re-derives remaining time.
// Only the zero-crossing is load-bearing; the tick value itself is
// display-only.
const tickInterval = time.Second

// Countdown ticks toward a server-supplied absolute end instant. The
// instant is authoritative and never recomputed locally: clients that
// joined at different moments converge on the same end time instead of
// independently-offset ones.
type Countdown struct {
	clk       clock.Clock
	autoEndAt time.Time
	onExpire  func()

	mu      sync.Mutex
	ticker  *clock.Ticker
	stopCh  chan struct{}
	armed   bool
	fired   bool
	stopped bool
}

// NewCountdown Countdown 생성. onExpire는 0 도달 시 정확히 한 번 호출된다.
func NewCountdown(clk clock.Clock, autoEndAt time.Time, onExpire func()) *Countdown {
	return &Countdown{
		clk:       clk,
		autoEndAt: autoEndAt,
		onExpire:  onExpire,
	}
}

// Start arms the ticker. Calling Start twice is a no-op, and a
// countdown that was already stopped stays disarmed: a teardown racing
// ahead of Start must not leave a live ticker behind.
func (c *Countdown) Start() {
	c.mu.Lock()
	if c.armed || c.fired || c.stopped {
		c.mu.Unlock()
		return
	}
	c.armed = true
	c.ticker = c.clk.Ticker(tickInterval)
	c.stopCh = make(chan struct{})
	ticker := c.ticker
	stopCh := c.stopCh
	c.mu.Unlock()

	go c.run(ticker, stopCh)
}

func (c *Countdown) run(ticker *clock.Ticker, stopCh chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if c.Remaining() > 0 {
				continue
			}
			// Disarm before invoking the callback so clock jitter
			// cannot produce a second invocation.
			c.mu.Lock()
			if c.fired || !c.armed {
				c.mu.Unlock()
				return
			}
			c.fired = true
			c.mu.Unlock()

			c.Stop()
			if c.onExpire != nil {
				c.onExpire()
			}
			return
		}
	}
}

// Remaining returns max(0, autoEndAt − now). Monotonically
// non-increasing between ticks.
func (c *Countdown) Remaining() time.Duration {
	remaining := c.autoEndAt.Sub(c.clk.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Stop disarms the ticker, permanently. Idempotent; callable from
// every teardown path without double-free, and callable before Start.
func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopped = true
	if !c.armed {
		return
	}
	c.armed = false
	c.ticker.Stop()
	close(c.stopCh)
}
