package singleinstance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// ErrAlreadyRunning reports that another live instance owns the lock.
var ErrAlreadyRunning = errors.New("another instance is already running")

// Lock is a pid-file based single-instance guard. A lock whose recorded pid
// no longer names a live process with a recognizable executable name is
// treated as stale and taken over.
type Lock struct {
	path        string
	processName string
	ownPid      int
	held        bool

	inspect func(pid int32) (name string, running bool)
}

// New creates a lock at path guarding processes named processName.
func New(path, processName string) *Lock {
	return &Lock{
		path:        path,
		processName: processName,
		ownPid:      os.Getpid(),
		inspect:     inspectProcess,
	}
}

// NewForTests creates a lock with the process inspection seam injected.
func NewForTests(path, processName string, ownPid int, inspect func(pid int32) (string, bool)) *Lock {
	return &Lock{
		path:        path,
		processName: processName,
		ownPid:      ownPid,
		inspect:     inspect,
	}
}

// Acquire claims the lock, removing a stale one if present. Returns
// ErrAlreadyRunning when a live owner holds it.
func (l *Lock) Acquire() error {
	if pid, ok := l.readOwner(); ok && pid != l.ownPid {
		name, running := l.inspect(int32(pid))
		if running && l.matchesProcessName(name) {
			return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
		}
		// Stale lock: the recorded pid is dead or was recycled by an
		// unrelated process.
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(l.path, []byte(strconv.Itoa(l.ownPid)), 0o644); err != nil {
		return err
	}
	l.held = true
	return nil
}

// Release removes the lock file when this process holds it.
func (l *Lock) Release() {
	if !l.held {
		return
	}
	if pid, ok := l.readOwner(); ok && pid == l.ownPid {
		os.Remove(l.path)
	}
	l.held = false
}

// readOwner parses the pid currently recorded in the lock file.
func (l *Lock) readOwner() (int, bool) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// matchesProcessName checks whether the owner's executable name belongs to
// this application. Matching is case-insensitive and ignores the extension so
// packaged and bare builds recognize each other.
func (l *Lock) matchesProcessName(name string) bool {
	trimmed := strings.ToLower(strings.TrimSuffix(name, filepath.Ext(name)))
	want := strings.ToLower(strings.TrimSuffix(l.processName, filepath.Ext(l.processName)))
	return trimmed != "" && strings.Contains(trimmed, want)
}

// inspectProcess reports the name and liveness of pid.
func inspectProcess(pid int32) (string, bool) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return "", false
	}
	running, err := proc.IsRunning()
	if err != nil || !running {
		return "", false
	}
	name, err := proc.Name()
	if err != nil {
		return "", true
	}
	return name, true
}
