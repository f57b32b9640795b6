package engine

import (
	"sync"
	"time"
)

// DelayedCommit runs a commit function after a fixed delay unless cancelled
// first. It backs the delayed-send flow: the message leaves the UI
// immediately, the actual send fires when the window closes, and Cancel
// inside the window restores it via the onCancel hook.
//
// A DelayedCommit is single-use. Cancel after the commit has started is a
// no-op, and the commit never runs after a successful Cancel.
type DelayedCommit struct {
	mu       sync.Mutex
	timer    *time.Timer
	done     bool
	onCancel func()
}

// NewDelayedCommit arms the timer. commit runs on its own goroutine when
// the delay elapses; onCancel (optional) runs synchronously inside a
// successful Cancel.
func NewDelayedCommit(delay time.Duration, commit func(), onCancel func()) *DelayedCommit {
	d := &DelayedCommit{onCancel: onCancel}
	d.timer = time.AfterFunc(delay, func() {
		d.mu.Lock()
		if d.done {
			d.mu.Unlock()
			return
		}
		d.done = true
		d.mu.Unlock()
		commit()
	})
	return d
}

// Cancel stops the pending commit. Returns whether the cancel won: false
// means the commit already ran (or was already cancelled) and nothing was
// restored.
func (d *DelayedCommit) Cancel() bool {
	d.mu.Lock()
	if d.done {
		d.mu.Unlock()
		return false
	}
	d.done = true
	d.timer.Stop()
	onCancel := d.onCancel
	d.mu.Unlock()

	if onCancel != nil {
		onCancel()
	}
	return true
}

// Done reports whether the commit fired or was cancelled.
func (d *DelayedCommit) Done() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}
