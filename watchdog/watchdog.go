// Package watchdog implements two independent timers: an idle-timeout
// that aborts the connection, and a progress ticker that is purely
// observational.
package watchdog

import (
	"sync"
	"time"
)

// DefaultIdleTimeout is the default idle watchdog interval.
const DefaultIdleTimeout = 30 * time.Second

// ProgressInterval is the fixed progress-ticker period.
const ProgressInterval = 3 * time.Second

// Watchdog owns the idle-timeout timer and the progress ticker, using
// a goroutine-plus-sync.Once teardown pattern, one instance per
// session, not shared.
type Watchdog struct {
	mu      sync.Mutex
	idle    time.Duration // <=0 disables the idle watchdog
	timer   *time.Timer
	ticker  *time.Ticker
	stopCh  chan struct{}
	onIdle  func()
	onTick  func(jobName string)
	jobName string

	stopOnce sync.Once
}

// New builds a Watchdog with the given idle timeout (<=0 disables it).
// onIdle is invoked exactly once, from a background goroutine, if the
// idle timer expires before the next Reset or Stop. onTick is invoked
// every ProgressInterval while a job is in flight (set via
// SetActiveJob); it never aborts anything.
func New(idle time.Duration, onIdle func(), onTick func(jobName string)) *Watchdog {
	w := &Watchdog{
		idle:   idle,
		onIdle: onIdle,
		onTick: onTick,
		stopCh: make(chan struct{}),
	}
	w.rearmIdle()
	return w
}

// SetIdleTimeout adjusts the inactivity watchdog, backing
// session.Session.SetTimeout. A value <=0 disables it.
func (w *Watchdog) SetIdleTimeout(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.idle = d
	w.rearmIdleLocked()
}

// ResetIdle restarts the idle countdown; called on every socket read,
// socket write, and every response routed to a job.
func (w *Watchdog) ResetIdle() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rearmIdleLocked()
}

func (w *Watchdog) rearmIdle() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rearmIdleLocked()
}

func (w *Watchdog) rearmIdleLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	if w.idle <= 0 {
		return
	}
	w.timer = time.AfterFunc(w.idle, func() {
		if w.onIdle != nil {
			w.onIdle()
		}
	})
}

// SetActiveJob starts (or stops, when name == "") the progress ticker
// for the named job. The ticker is independent of the idle watchdog
// and never aborts the connection.
func (w *Watchdog) SetActiveJob(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ticker != nil {
		w.ticker.Stop()
		w.ticker = nil
	}
	w.jobName = name
	if name == "" {
		return
	}
	w.ticker = time.NewTicker(ProgressInterval)
	ticker := w.ticker
	go func() {
		for {
			select {
			case <-ticker.C:
				w.mu.Lock()
				cb, jn := w.onTick, w.jobName
				stillThis := w.ticker == ticker
				w.mu.Unlock()
				if cb != nil && stillThis {
					cb(jn)
				}
				if !stillThis {
					return
				}
			case <-w.stopCh:
				return
			}
		}
	}()
}

// Stop tears down both timers permanently. Safe to call more than
// once.
func (w *Watchdog) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	if w.ticker != nil {
		w.ticker.Stop()
		w.ticker = nil
	}
}
