// Package worldstage tracks where a world is in its lifecycle.
package worldstage

import "sync"

type Stage string

const (
	Init         Stage = "Init"         // Systems and plugins can be registered
	Ready        Stage = "Ready"        // Schedules are built, the world can tick
	Running      Stage = "Running"      // The run loop owns the world
	ShuttingDown Stage = "ShuttingDown" // The run loop has returned, resources are being released
	ShutDown     Stage = "ShutDown"     // Terminal
)

// Manager is a Stage guarded by a mutex. Goroutines can wait for a stage to be entered.
type Manager struct {
	mu      sync.Mutex
	stage   Stage
	entered map[Stage]chan struct{} // Closed the first time the stage is entered
}

func NewManager() *Manager {
	return &Manager{stage: Init, entered: make(map[Stage]chan struct{})}
}

func (m *Manager) Current() Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stage
}

// CompareAndSwap moves to next only from from and reports whether it did.
func (m *Manager) CompareAndSwap(from, next Stage) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stage != from {
		return false
	}
	m.enterLocked(next)
	return true
}

func (m *Manager) Store(next Stage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enterLocked(next)
}

// Swap moves to next and returns the stage it left.
func (m *Manager) Swap(next Stage) Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.stage
	m.enterLocked(next)
	return prev
}

// NotifyOnStage returns a channel closed once stage has been entered. The channel is already
// closed if stage is the current one or was entered before.
func (m *Manager) NotifyOnStage(stage Stage) <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := m.signalLocked(stage)
	if m.stage == stage {
		closeOnce(ch)
	}
	return ch
}

func (m *Manager) enterLocked(stage Stage) {
	m.stage = stage
	closeOnce(m.signalLocked(stage))
}

func (m *Manager) signalLocked(stage Stage) chan struct{} {
	ch, ok := m.entered[stage]
	if !ok {
		ch = make(chan struct{})
		m.entered[stage] = ch
	}
	return ch
}

func closeOnce(ch chan struct{}) {
	select {
	case <-ch:
	default:
		close(ch)
	}
}
