package bus

import (
	"errors"
	"testing"
	"time"

	"github.com/ardnew/partner64/pkg"
)

func TestTimingValidate(t *testing.T) {
	if err := DefaultTiming.Validate(); err != nil {
		t.Fatalf("DefaultTiming.Validate() = %v", err)
	}

	bad := []Timing{
		{Setup: 0, Strobe: time.Microsecond, Hold: time.Microsecond},
		{Setup: time.Microsecond, Strobe: -1, Hold: time.Microsecond},
		{Setup: time.Microsecond, Strobe: time.Microsecond, Hold: 2 * time.Millisecond},
	}
	for _, tm := range bad {
		if err := tm.Validate(); !errors.Is(err, pkg.ErrInvalidParameter) {
			t.Errorf("Validate(%+v) = %v, want ErrInvalidParameter", tm, err)
		}
	}
}

func TestBusyTimer(t *testing.T) {
	base := time.Unix(0, 0)
	var ticks int
	timer := BusyTimer{Now: func() time.Time {
		ticks++
		return base.Add(time.Duration(ticks) * 100 * time.Nanosecond)
	}}

	if !timer.Wait(time.Microsecond) {
		t.Fatal("Wait returned false")
	}
	if ticks < 10 {
		t.Errorf("Wait returned after %d ticks, want at least 10", ticks)
	}

	if timer.Wait(-time.Nanosecond) {
		t.Error("Wait(negative) = true")
	}
}

func TestBusyTimerClockBackwards(t *testing.T) {
	calls := 0
	timer := BusyTimer{Now: func() time.Time {
		calls++
		return time.Unix(0, int64(-calls))
	}}
	if timer.Wait(time.Microsecond) {
		t.Error("Wait succeeded on a clock running backwards")
	}
}
