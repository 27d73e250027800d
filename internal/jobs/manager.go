package jobs

import (
	"errors"
	"fmt"
	"sync"

	"whisper-desk/internal/domain"
)

// ErrJobAlreadyRunning is returned when starting a second active job.
var ErrJobAlreadyRunning = errors.New("job already running")

// Manager tracks the single allowed active job and its transitions. The
// idle/running check is what enforces one worker per process; there is no
// broader mutual exclusion because only one job may ever be in flight.
type Manager struct {
	mu      sync.RWMutex
	current domain.Job
}

// NewManager creates a manager in idle state.
func NewManager() *Manager {
	return &Manager{
		current: domain.Job{
			Status: domain.JobStatusIdle,
		},
	}
}

// Start creates a new job and moves it to running state.
func (m *Manager) Start(jobID string, totalFiles int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.Status == domain.JobStatusRunning {
		return ErrJobAlreadyRunning
	}

	m.current = domain.Job{
		ID:         jobID,
		Status:     domain.JobStatusRunning,
		TotalFiles: totalFiles,
	}
	return nil
}

// Transition validates and applies state transitions for the current job.
func (m *Manager) Transition(status domain.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.ID == "" && status != domain.JobStatusIdle {
		return fmt.Errorf("cannot transition without an active job")
	}
	if status == m.current.Status {
		return nil
	}
	if !isValidTransition(m.current.Status, status) {
		return fmt.Errorf("invalid transition: %s -> %s", m.current.Status, status)
	}

	m.current.Status = status
	return nil
}

// RecordProcessed stores the count of fully processed files.
func (m *Manager) RecordProcessed(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.ProcessedFiles = count
}

// Current returns a snapshot of the current job.
func (m *Manager) Current() domain.Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Reset clears job metadata and returns the manager to idle.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = domain.Job{Status: domain.JobStatusIdle}
}

// IsRunning reports whether a job is currently in flight.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Status == domain.JobStatusRunning
}

// isValidTransition enforces the allowed job state machine edges.
func isValidTransition(from, to domain.JobStatus) bool {
	switch from {
	case domain.JobStatusIdle:
		return to == domain.JobStatusRunning
	case domain.JobStatusRunning:
		return to == domain.JobStatusCompleted || to == domain.JobStatusCancelled || to == domain.JobStatusFailed
	case domain.JobStatusCompleted, domain.JobStatusCancelled, domain.JobStatusFailed:
		return to == domain.JobStatusRunning || to == domain.JobStatusIdle
	default:
		return false
	}
}
