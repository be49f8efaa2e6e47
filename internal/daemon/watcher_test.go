package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestSessionWatcher_StartStop verifies that the watcher can start and stop cleanly.
func TestSessionWatcher_StartStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")

	sw, err := NewSessionWatcher(path)
	if err != nil {
		t.Fatalf("NewSessionWatcher() failed: %v", err)
	}
	if sw.IsRunning() {
		t.Error("Newly created watcher should not be running")
	}

	if err := sw.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !sw.IsRunning() {
		t.Error("Watcher should be running after Start()")
	}
	if err := sw.Start(); err == nil {
		t.Error("second Start() should fail")
	}

	if err := sw.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if sw.IsRunning() {
		t.Error("Watcher should not be running after Stop()")
	}
}

func expectEvent(t *testing.T, sw *SessionWatcher, want EventOp) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sw.Events():
			if ev.Op == want {
				return
			}
		case err := <-sw.Errors():
			t.Fatalf("watcher error: %v", err)
		case <-timeout:
			t.Fatalf("no %s event", want)
		}
	}
}

// TestSessionWatcher_Events verifies writes and removals of the session file are reported.
func TestSessionWatcher_Events(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.json")

	sw, err := NewSessionWatcher(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := sw.Start(); err != nil {
		t.Fatal(err)
	}
	defer sw.Stop()

	if err := os.WriteFile(path, []byte(`{}`), 0600); err != nil {
		t.Fatal(err)
	}
	expectEvent(t, sw, OpWrite)

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	expectEvent(t, sw, OpRemove)
}

// TestSessionWatcher_IgnoresOtherFiles verifies unrelated files in the directory are filtered.
func TestSessionWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()

	sw, err := NewSessionWatcher(filepath.Join(dir, "session.json"))
	if err != nil {
		t.Fatal(err)
	}
	if err := sw.Start(); err != nil {
		t.Fatal(err)
	}
	defer sw.Stop()

	if err := os.WriteFile(filepath.Join(dir, "shopsync.db"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-sw.Events():
		t.Errorf("unexpected event %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestEventOpString(t *testing.T) {
	tests := []struct {
		op   EventOp
		want string
	}{
		{OpWrite, "write"},
		{OpRemove, "remove"},
		{EventOp(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.op, got, tt.want)
		}
	}
}
