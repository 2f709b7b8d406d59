// Package relationship keeps per-user impressions and reduces them to the
// single numeric modifier the willingness engine consumes.
package relationship

import (
	"log/slog"
	"math"
	"sync"
)

// Impression tracks how the bot perceives one user. Both scores live on
// [0,1] and are centered at 0.5.
type Impression struct {
	Likability  float64
	Familiarity float64
}

// Manager guards the impression table.
type Manager struct {
	mu          sync.RWMutex
	impressions map[string]Impression
	logger      *slog.Logger
}

// NewManager creates an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		impressions: make(map[string]Impression),
		logger:      logger,
	}
}

// Get returns the impression for a user, defaulting to the neutral center.
func (m *Manager) Get(senderID string) Impression {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if imp, ok := m.impressions[senderID]; ok {
		return imp
	}
	return Impression{Likability: 0.5, Familiarity: 0.5}
}

// Modifier derives the willingness contribution: likability weighs more than
// familiarity, both centered at zero.
func (m *Manager) Modifier(senderID string) float64 {
	imp := m.Get(senderID)
	return (imp.Likability-0.5)*0.3 + (imp.Familiarity-0.5)*0.2
}

// Observe records one interaction with a user: familiarity creeps up on every
// exchange and likability shifts by the supplied delta.
func (m *Manager) Observe(senderID string, likabilityDelta float64) {
	if senderID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	imp, ok := m.impressions[senderID]
	if !ok {
		imp = Impression{Likability: 0.5, Familiarity: 0.5}
	}
	imp.Likability = clamp01(imp.Likability + likabilityDelta)
	imp.Familiarity = clamp01(imp.Familiarity + 0.01)
	m.impressions[senderID] = imp
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
