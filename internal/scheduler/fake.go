package scheduler

import (
	"sort"
	"sync"
	"time"
)

// Fake is a virtual-clock Scheduler for tests. Time only moves when
// Advance is called; due callbacks run synchronously on the caller's
// goroutine in due-time order.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers map[int]*fakeTimer
}

type fakeTimer struct {
	f        *Fake
	id       int
	due      time.Time
	interval time.Duration // zero for one-shot
	fn       func()
}

// NewFake returns a Fake starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start, timers: make(map[int]*fakeTimer)}
}

// Now returns the virtual time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// ScheduleOnce registers fn to run once delay has elapsed.
func (f *Fake) ScheduleOnce(delay time.Duration, fn func()) Timer {
	return f.add(delay, 0, fn)
}

// ScheduleRepeating registers fn to run every interval.
func (f *Fake) ScheduleRepeating(interval time.Duration, fn func()) Timer {
	return f.add(interval, interval, fn)
}

func (f *Fake) add(delay, interval time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	t := &fakeTimer{f: f, id: f.seq, due: f.now.Add(delay), interval: interval, fn: fn}
	f.timers[t.id] = t
	return t
}

// Stop removes the timer.
func (t *fakeTimer) Stop() {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	delete(t.f.timers, t.id)
}

// Advance moves the clock forward by d, firing every callback that falls
// due on the way. Callbacks run without the lock held so they may
// schedule or stop timers themselves.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		f.mu.Lock()
		next := f.nextDueLocked(target)
		if next == nil {
			f.now = target
			f.mu.Unlock()
			return
		}
		f.now = next.due
		if next.interval > 0 {
			next.due = next.due.Add(next.interval)
		} else {
			delete(f.timers, next.id)
		}
		fn := next.fn
		f.mu.Unlock()

		fn()
	}
}

// nextDueLocked returns the earliest timer due at or before target.
// Ties go to the timer scheduled first.
func (f *Fake) nextDueLocked(target time.Time) *fakeTimer {
	var due []*fakeTimer
	for _, t := range f.timers {
		if !t.due.After(target) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].due.Equal(due[j].due) {
			return due[i].id < due[j].id
		}
		return due[i].due.Before(due[j].due)
	})
	return due[0]
}

// Pending returns the number of live timers.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}
