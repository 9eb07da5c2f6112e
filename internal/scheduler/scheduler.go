package scheduler

import (
	"sync"
	"time"
)

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// Timer is a scheduled callback. Stop prevents any future invocation;
// a callback already running is not interrupted.
type Timer interface {
	Stop()
}

// Scheduler runs callbacks after a delay or at a fixed interval.
type Scheduler interface {
	Clock

	// ScheduleRepeating runs fn every interval until the Timer is stopped.
	// The first run happens one interval from now.
	ScheduleRepeating(interval time.Duration, fn func()) Timer

	// ScheduleOnce runs fn once after delay unless stopped first.
	ScheduleOnce(delay time.Duration, fn func()) Timer
}

// System is the real-time Scheduler.
type System struct{}

// NewSystem returns the real-time Scheduler.
func NewSystem() System { return System{} }

// Now returns time.Now().
func (System) Now() time.Time { return time.Now() }

// ScheduleOnce wraps time.AfterFunc.
func (System) ScheduleOnce(delay time.Duration, fn func()) Timer {
	return onceTimer{t: time.AfterFunc(delay, fn)}
}

// ScheduleRepeating runs fn on its own goroutine driven by a ticker.
// Ticks missed while fn is running are dropped.
func (System) ScheduleRepeating(interval time.Duration, fn func()) Timer {
	r := &repeatingTimer{done: make(chan struct{})}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-r.done:
				return
			case <-ticker.C:
				// Stop may race with a tick that was already delivered.
				select {
				case <-r.done:
					return
				default:
				}
				fn()
			}
		}
	}()
	return r
}

type onceTimer struct {
	t *time.Timer
}

func (o onceTimer) Stop() { o.t.Stop() }

type repeatingTimer struct {
	once sync.Once
	done chan struct{}
}

func (r *repeatingTimer) Stop() {
	r.once.Do(func() { close(r.done) })
}
