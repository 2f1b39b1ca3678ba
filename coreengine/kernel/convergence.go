package kernel

import (
	"fmt"
	"sync"
	"time"
)

// ConvergenceMonitor tracks whether every registered role has signed off.
// The detected state is recomputed on every poll, so a revoked sign-off
// clears it.
type ConvergenceMonitor struct {
	converged  bool
	signed     int
	total      int
	detectedAt *time.Time
	mu         sync.RWMutex
}

// NewConvergenceMonitor creates a monitor in the not-converged state.
func NewConvergenceMonitor() *ConvergenceMonitor {
	return &ConvergenceMonitor{}
}

// Poll evaluates the snapshots and returns true if all roles are signed off.
// An empty set never converges.
func (m *ConvergenceMonitor) Poll(agents []AgentSnapshot) bool {
	signed := 0
	for _, a := range agents {
		if a.SignedOff {
			signed++
		}
	}
	converged := len(agents) > 0 && signed == len(agents)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.signed = signed
	m.total = len(agents)
	switch {
	case converged && !m.converged:
		now := time.Now().UTC()
		m.detectedAt = &now
	case !converged:
		m.detectedAt = nil
	}
	m.converged = converged
	return converged
}

// Converged returns the result of the last poll.
func (m *ConvergenceMonitor) Converged() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.converged
}

// Progress returns signed-off and total counts from the last poll.
func (m *ConvergenceMonitor) Progress() (signed, total int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.signed, m.total
}

// Summary renders the last poll as "N/M agents signed off".
func (m *ConvergenceMonitor) Summary() string {
	signed, total := m.Progress()
	return fmt.Sprintf("%d/%d agents signed off", signed, total)
}
