package engine

import (
	"testing"
	"time"
)

func TestDelayedCommitFires(t *testing.T) {
	fired := make(chan struct{})
	d := NewDelayedCommit(20*time.Millisecond, func() { close(fired) }, nil)

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("commit never fired")
	}
	if !d.Done() {
		t.Error("Done() = false after commit")
	}
	if d.Cancel() {
		t.Error("Cancel after commit reported success")
	}
}

func TestDelayedCommitCancel(t *testing.T) {
	fired := false
	restored := false
	d := NewDelayedCommit(50*time.Millisecond, func() { fired = true }, func() { restored = true })

	if !d.Cancel() {
		t.Fatal("Cancel inside the window failed")
	}
	if !restored {
		t.Error("onCancel hook not run")
	}

	time.Sleep(120 * time.Millisecond)
	if fired {
		t.Error("commit ran after cancel")
	}
}

func TestDelayedCommitCancelTwice(t *testing.T) {
	d := NewDelayedCommit(50*time.Millisecond, func() {}, nil)
	if !d.Cancel() {
		t.Fatal("first Cancel failed")
	}
	if d.Cancel() {
		t.Error("second Cancel reported success")
	}
}
