package helpers

// Random synchronisation util stash

import (
	"sync"
	"time"

	"github.com/temoto/alive/v2"
)

func WithLock(l sync.Locker, f func()) {
	l.Lock()
	defer l.Unlock()
	f()
}

// AliveSleep returns false if a was stopped before d elapsed.
func AliveSleep(a *alive.Alive, d time.Duration) bool {
	if d <= 0 {
		return a.IsRunning()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return a.IsRunning()
	case <-a.StopChan():
		return false
	}
}
