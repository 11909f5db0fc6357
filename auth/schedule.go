package auth

import (
	"sync"
	"time"
)

// Scheduler runs fn once at (or shortly after) at. The returned cancel func
// stops a pending run and is safe to call more than once.
type Scheduler interface {
	Schedule(at time.Time, fn func()) (cancel func())
}

type timerScheduler struct {
	now func() time.Time
}

// NewTimerScheduler returns a Scheduler backed by time.AfterFunc.
func NewTimerScheduler() Scheduler {
	return timerScheduler{now: time.Now}
}

func (s timerScheduler) Schedule(at time.Time, fn func()) func() {
	delay := at.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	timer := time.AfterFunc(delay, fn)

	var once sync.Once
	return func() {
		once.Do(func() { timer.Stop() })
	}
}
