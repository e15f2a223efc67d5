// Package schedule abstracts delayed and periodic work so that the join
// replay delay and the idle-transfer janitor can be driven by a fake clock
// in tests.
package schedule

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock reports the current time and runs functions after a delay.
// clockwork.NewFakeClock satisfies it for tests.
type Clock = clockwork.Clock

// Timer is a cancellable scheduled task.
type Timer = clockwork.Timer

// Real returns a Clock backed by the time package.
func Real() Clock { return clockwork.NewRealClock() }

// Every runs f every interval until ctx is done. The next run is scheduled
// after f returns, so runs never overlap.
func Every(ctx context.Context, c Clock, interval time.Duration, f func()) {
	var tick func()
	tick = func() {
		if ctx.Err() != nil {
			return
		}
		f()
		if ctx.Err() == nil {
			c.AfterFunc(interval, tick)
		}
	}
	c.AfterFunc(interval, tick)
}
