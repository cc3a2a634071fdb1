package navigation

import (
	"sort"
	"sync"
	"time"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// Scheduler runs fn every interval until the returned stop func is called.
// Stop must not wait for a running fn to return.
type Scheduler interface {
	Every(interval time.Duration, fn func()) (stop func())
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// TickerScheduler runs callbacks on a time.Ticker goroutine.
type TickerScheduler struct{}

// Every starts a ticker goroutine.
func (TickerScheduler) Every(interval time.Duration, fn func()) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// VirtualClock is a Clock and Scheduler driven by Advance, for tests and
// replays.
type VirtualClock struct {
	mu     sync.Mutex
	now    time.Time
	nextID int
	timers map[int]*virtualTimer
}

type virtualTimer struct {
	id       int
	interval time.Duration
	next     time.Time
	fn       func()
}

// NewVirtualClock creates a clock stopped at start.
func NewVirtualClock(start time.Time) *VirtualClock {
	return &VirtualClock{now: start, timers: make(map[int]*virtualTimer)}
}

// Now returns the virtual time.
func (v *VirtualClock) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

// Every registers fn to fire each interval of virtual time.
func (v *VirtualClock) Every(interval time.Duration, fn func()) func() {
	if interval <= 0 {
		interval = time.Second
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	v.nextID++
	id := v.nextID
	v.timers[id] = &virtualTimer{id: id, interval: interval, next: v.now.Add(interval), fn: fn}

	return func() {
		v.mu.Lock()
		delete(v.timers, id)
		v.mu.Unlock()
	}
}

// Advance moves time forward by d, firing due callbacks in time order.
// Callbacks run without the clock's lock held.
func (v *VirtualClock) Advance(d time.Duration) {
	v.mu.Lock()
	target := v.now.Add(d)
	for {
		due := v.earliestDue(target)
		if due == nil {
			break
		}
		v.now = due.next
		due.next = due.next.Add(due.interval)
		fn := due.fn
		v.mu.Unlock()
		fn()
		v.mu.Lock()
	}
	v.now = target
	v.mu.Unlock()
}

// Set jumps to t without firing callbacks.
func (v *VirtualClock) Set(t time.Time) {
	v.mu.Lock()
	v.now = t
	for _, tm := range v.timers {
		for !tm.next.After(t) {
			tm.next = tm.next.Add(tm.interval)
		}
	}
	v.mu.Unlock()
}

func (v *VirtualClock) earliestDue(target time.Time) *virtualTimer {
	timers := make([]*virtualTimer, 0, len(v.timers))
	for _, t := range v.timers {
		if !t.next.After(target) {
			timers = append(timers, t)
		}
	}
	if len(timers) == 0 {
		return nil
	}
	sort.Slice(timers, func(i, j int) bool {
		if timers[i].next.Equal(timers[j].next) {
			return timers[i].id < timers[j].id
		}
		return timers[i].next.Before(timers[j].next)
	})
	return timers[0]
}
