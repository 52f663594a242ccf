package sim

import (
	"sync"
	"time"
)

// Clock is a simulated monotonic clock. Its Wait method satisfies
// [bus.Timer] by advancing simulated time instead of sleeping.
type Clock struct {
	mutex sync.Mutex
	now   time.Duration
	waits int

	// Fail, when set, makes Wait report a failed delay for the given
	// duration. It lets tests provoke timing faults.
	Fail func(d time.Duration) bool
}

// Now returns the simulated time since the clock was created.
func (c *Clock) Now() time.Duration {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.now
}

// Waits returns how many delays have been requested.
func (c *Clock) Waits() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.waits
}

// Wait advances the clock by d.
func (c *Clock) Wait(d time.Duration) bool {
	c.mutex.Lock()
	fail := c.Fail
	c.waits++
	if d > 0 {
		c.now += d
	}
	c.mutex.Unlock()

	if fail != nil && fail(d) {
		return false
	}
	return d >= 0
}
