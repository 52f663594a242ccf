package bus

import (
	"fmt"
	"time"

	"github.com/ardnew/partner64/pkg"
)

// Timing holds the minimum delays required by the cartridge bus.
type Timing struct {
	// Setup is how long data must be valid before a rising clock or strobe
	// edge, and how long the bus is given to turn around after a direction
	// change.
	Setup time.Duration

	// Strobe is the minimum high width of a clock or strobe pulse.
	Strobe time.Duration

	// Hold is how long data and control levels must stay stable after they
	// are driven and before the next edge.
	Hold time.Duration
}

// DefaultTiming meets the slowest cartridge the bridge supports.
var DefaultTiming = Timing{
	Setup:  1 * time.Microsecond,
	Strobe: 1 * time.Microsecond,
	Hold:   1 * time.Microsecond,
}

// Validate checks that every delay is positive and at most one millisecond.
func (t Timing) Validate() error {
	for _, d := range []struct {
		name string
		v    time.Duration
	}{
		{"setup", t.Setup},
		{"strobe", t.Strobe},
		{"hold", t.Hold},
	} {
		if d.v <= 0 || d.v > time.Millisecond {
			return fmt.Errorf("%s time %v outside (0, 1ms]: %w", d.name, d.v, pkg.ErrInvalidParameter)
		}
	}
	return nil
}

// Timer provides bounded delays to the driver.
type Timer interface {
	// Wait blocks for at least d and reports whether the delay was
	// guaranteed. A false return means the timer misbehaved and the bus
	// timing can no longer be trusted.
	Wait(d time.Duration) bool
}

// BusyTimer spins on the monotonic clock. It never yields, so delays are
// never cut short by the scheduler, only lengthened.
type BusyTimer struct {
	// Now returns the current monotonic time. Nil uses time.Now.
	Now func() time.Time
}

// Wait spins until d has elapsed.
func (b BusyTimer) Wait(d time.Duration) bool {
	if d < 0 {
		return false
	}
	now := b.Now
	if now == nil {
		now = time.Now
	}
	start := now()
	for {
		elapsed := now().Sub(start)
		if elapsed < 0 {
			return false
		}
		if elapsed >= d {
			return true
		}
	}
}
