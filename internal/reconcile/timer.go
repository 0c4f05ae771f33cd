package reconcile

import "time"

// coalescer is a cancellable delayed action owned by one pair. Each Reset
// replaces the previous timer, so a burst of changes fires once with the
// latest state. It is not synchronized: the owner's lock must be held for
// every call, including Claim from inside the fired callback.
type coalescer struct {
	delay time.Duration
	timer *time.Timer
	gen   uint64
}

func newCoalescer(delay time.Duration) *coalescer {
	return &coalescer{delay: delay}
}

// Reset arms the timer, superseding any pending one. fire receives the
// generation to hand back to Claim.
func (c *coalescer) Reset(fire func(gen uint64)) {
	if c.timer != nil {
		c.timer.Stop()
	}

	c.gen++
	gen := c.gen
	c.timer = time.AfterFunc(c.delay, func() { fire(gen) })
}

// Cancel disarms a pending timer and reports whether one was pending.
func (c *coalescer) Cancel() bool {
	if c.timer == nil {
		return false
	}

	c.timer.Stop()
	c.timer = nil
	c.gen++

	return true
}

// Pending reports whether a timer is armed.
func (c *coalescer) Pending() bool {
	return c.timer != nil
}

// Claim reports whether gen is the live timer and disarms it. A superseded or
// canceled timer that still managed to fire is rejected here.
func (c *coalescer) Claim(gen uint64) bool {
	if c.timer == nil || gen != c.gen {
		return false
	}

	c.timer = nil

	return true
}
