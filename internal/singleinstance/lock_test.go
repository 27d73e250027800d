package singleinstance

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

const appName = "whisper-desk"

// lockPath returns a lock file path inside a fresh temp dir.
func lockPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "whisper-desk.lock")
}

// TestAcquireFreshLock checks that an absent lock file is claimed.
func TestAcquireFreshLock(t *testing.T) {
	path := lockPath(t)
	lock := NewForTests(path, appName, 4321, func(pid int32) (string, bool) {
		t.Fatal("no inspection needed without an existing lock")
		return "", false
	})

	if err := lock.Acquire(); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read lock: %v", err)
	}
	if string(data) != "4321" {
		t.Fatalf("lock content = %q, want own pid", data)
	}
}

// TestAcquireRefusedByLiveOwner checks the second-instance refusal.
func TestAcquireRefusedByLiveOwner(t *testing.T) {
	path := lockPath(t)
	if err := os.WriteFile(path, []byte("1111"), 0o644); err != nil {
		t.Fatal(err)
	}

	lock := NewForTests(path, appName, 4321, func(pid int32) (string, bool) {
		if pid != 1111 {
			t.Fatalf("inspected pid = %d, want 1111", pid)
		}
		return "whisper-desk.exe", true
	})

	if err := lock.Acquire(); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("Acquire() error = %v, want ErrAlreadyRunning", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "1111" {
		t.Fatalf("lock content = %q, want untouched owner pid", data)
	}
}

// TestAcquireRemovesStaleLock checks takeover of a dead owner's lock.
func TestAcquireRemovesStaleLock(t *testing.T) {
	path := lockPath(t)
	if err := os.WriteFile(path, []byte("1111"), 0o644); err != nil {
		t.Fatal(err)
	}

	lock := NewForTests(path, appName, 4321, func(pid int32) (string, bool) {
		return "", false
	})

	if err := lock.Acquire(); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "4321" {
		t.Fatalf("lock content = %q, want new owner pid", data)
	}
}

// TestAcquireIgnoresRecycledPid checks that an unrelated process holding the
// recorded pid does not block startup.
func TestAcquireIgnoresRecycledPid(t *testing.T) {
	path := lockPath(t)
	if err := os.WriteFile(path, []byte("1111"), 0o644); err != nil {
		t.Fatal(err)
	}

	lock := NewForTests(path, appName, 4321, func(pid int32) (string, bool) {
		return "systemd", true
	})

	if err := lock.Acquire(); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
}

// TestAcquireTreatsGarbageAsStale checks non-numeric lock content.
func TestAcquireTreatsGarbageAsStale(t *testing.T) {
	path := lockPath(t)
	if err := os.WriteFile(path, []byte("not a pid"), 0o644); err != nil {
		t.Fatal(err)
	}

	lock := NewForTests(path, appName, 4321, func(pid int32) (string, bool) {
		t.Fatal("garbage content needs no inspection")
		return "", false
	})

	if err := lock.Acquire(); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
}

// TestReleaseRemovesOwnLockOnly checks release semantics.
func TestReleaseRemovesOwnLockOnly(t *testing.T) {
	path := lockPath(t)
	lock := NewForTests(path, appName, 4321, nil)
	if err := lock.Acquire(); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	lock.Release()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("lock file should be removed on release")
	}

	// A lock overwritten by a newer instance must not be removed by the
	// old holder's release.
	second := NewForTests(path, appName, 5000, nil)
	if err := second.Acquire(); err != nil {
		t.Fatalf("second Acquire() error = %v", err)
	}
	lock.held = true
	lock.Release()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("lock should survive foreign release: %v", err)
	}
	if string(data) != strconv.Itoa(5000) {
		t.Fatalf("lock content = %q", data)
	}
}
