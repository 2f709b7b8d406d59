package emotion

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

// moodSaturation is the time constant after which staying in one mood no
// longer accelerates decay.
const moodSaturation = time.Hour

// Config tunes the state machine.
type Config struct {
	Stability     float64 // resistance to change, 0..1
	DecayRate     float64 // per-tick decay factor at full saturation
	DecayInterval time.Duration
	HistoryLimit  int
	EventLogLimit int
	Baseline      map[Affect]float64
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Stability:     0.3,
		DecayRate:     0.1,
		DecayInterval: time.Minute,
		HistoryLimit:  100,
		EventLogLimit: 50,
		Baseline:      DefaultBaseline(),
	}
}

// Machine is the process-wide emotion state machine for the bot's single
// persona. All mutations go through its exclusive-access section.
type Machine struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu          sync.Mutex
	intensities map[Affect]float64
	dominant    Affect
	since       time.Time // when the dominant affect last changed
	updatedAt   time.Time
	history     []HistoryEntry
	events      []EventEntry
}

// NewMachine creates a machine at the configured baseline.
func NewMachine(cfg Config, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 100
	}
	if cfg.EventLogLimit <= 0 {
		cfg.EventLogLimit = 50
	}
	if cfg.Baseline == nil {
		cfg.Baseline = DefaultBaseline()
	}
	m := &Machine{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
	m.resetLocked(m.now())
	return m
}

// Current returns a snapshot of the mood vector.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(m.now())
}

// Update applies a delta to one affect. The delta is scaled by (1-stability),
// the target clamped to [0,1], and intensity transferred against neutral:
// a non-neutral gain costs neutral half the applied delta; a neutral gain
// costs every other affect a fifth of it.
func (m *Machine) Update(affect Affect, delta float64, reason string) (State, error) {
	if !isKnown(affect) {
		return State{}, fmt.Errorf("unknown affect %q", affect)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	applied := m.applyLocked(affect, delta, now)
	m.recomputeDominantLocked(now)
	m.appendHistoryLocked(HistoryEntry{
		Affect:    affect,
		Delta:     applied,
		Dominant:  m.dominant,
		Intensity: m.intensities[m.dominant],
		Reason:    reason,
		At:        now,
	})
	if reason != "" {
		m.appendEventLocked(EventEntry{Affect: affect, Delta: applied, Description: reason, At: now})
	}
	return m.snapshotLocked(now), nil
}

// impactTable maps named event types to the affects they move.
var impactTable = map[string]map[Affect]float64{
	"praise":    {Joy: 0.3, Trust: 0.2},
	"criticism": {Sadness: 0.2, Anger: 0.1},
	"greeting":  {Joy: 0.1, Anticipation: 0.1},
	"threat":    {Fear: 0.3, Anger: 0.2},
	"gratitude": {Joy: 0.2, Trust: 0.1},
	"insult":    {Anger: 0.3, Disgust: 0.2},
	"farewell":  {Sadness: 0.1},
	"question":  {Anticipation: 0.1, Surprise: 0.05},
	"poke":      {Surprise: 0.2},
}

// ApplyEventImpact applies a named stimulus: each affect in the event's
// impact set receives delta = weight * impactLevel.
func (m *Machine) ApplyEventImpact(eventType string, impactLevel float64, description string) (State, error) {
	impacts, ok := impactTable[eventType]
	if !ok {
		return State{}, fmt.Errorf("unknown emotion event type %q", eventType)
	}
	reason := eventType
	if description != "" {
		reason = eventType + ": " + description
	}
	var st State
	var err error
	for _, affect := range Affects {
		weight, hit := impacts[affect]
		if !hit {
			continue
		}
		st, err = m.Update(affect, weight*impactLevel, reason)
		if err != nil {
			return State{}, err
		}
	}
	return st, nil
}

// Reset restores the configured baseline.
func (m *Machine) Reset() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.resetLocked(now)
	m.appendHistoryLocked(HistoryEntry{
		Dominant:  m.dominant,
		Intensity: m.intensities[m.dominant],
		Reason:    "reset",
		At:        now,
	})
	return m.snapshotLocked(now)
}

// History returns the newest mutation entries, up to limit.
func (m *Machine) History(limit int) []HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return tail(m.history, limit)
}

// Events returns the newest named-stimulus entries, up to limit.
func (m *Machine) Events(limit int) []EventEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return tail(m.events, limit)
}

// Run drives the decay loop until the context is cancelled. It is the only
// writer that mutates the vector without a caller-supplied reason.
func (m *Machine) Run(ctx context.Context) {
	interval := m.cfg.DecayInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info("emotion decay loop started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("emotion decay loop stopped")
			return
		case <-ticker.C:
			m.decayTick(m.now())
		}
	}
}

// decayTick shrinks every non-neutral affect and grows neutral. The factor
// grows with how long the current mood has held, saturating after an hour.
func (m *Machine) decayTick(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	held := now.Sub(m.since)
	saturation := math.Min(1, held.Seconds()/moodSaturation.Seconds())
	factor := m.cfg.DecayRate * saturation
	if factor <= 0 {
		return
	}

	for _, a := range Affects {
		if a == Neutral {
			continue
		}
		m.intensities[a] = math.Max(0, m.intensities[a]-m.intensities[a]*factor)
	}
	m.intensities[Neutral] = clamp01(m.intensities[Neutral] + (1-m.intensities[Neutral])*factor/2)
	m.updatedAt = now

	previous := m.dominant
	m.recomputeDominantLocked(now)
	if m.dominant != previous {
		m.appendHistoryLocked(HistoryEntry{
			Dominant:  m.dominant,
			Intensity: m.intensities[m.dominant],
			At:        now,
		})
		m.logger.Debug("mood decayed to new dominant", "from", previous, "to", m.dominant)
	}
}

// applyLocked performs the clamped, stability-scaled write and the
// neutral-transfer rule. Returns the applied delta.
func (m *Machine) applyLocked(affect Affect, delta float64, now time.Time) float64 {
	applied := delta * (1 - m.cfg.Stability)
	m.intensities[affect] = clamp01(m.intensities[affect] + applied)

	if applied > 0 {
		if affect != Neutral {
			m.intensities[Neutral] = math.Max(0, m.intensities[Neutral]-applied/2)
		} else {
			for _, a := range Affects {
				if a == Neutral {
					continue
				}
				m.intensities[a] = math.Max(0, m.intensities[a]-applied/5)
			}
		}
	}
	m.updatedAt = now
	return applied
}

func (m *Machine) recomputeDominantLocked(now time.Time) {
	best := Neutral
	bestVal := m.intensities[Neutral]
	for _, a := range Affects {
		if m.intensities[a] > bestVal {
			best, bestVal = a, m.intensities[a]
		}
	}
	if best != m.dominant {
		m.dominant = best
		m.since = now
	}
}

func (m *Machine) resetLocked(now time.Time) {
	m.intensities = make(map[Affect]float64, len(Affects))
	for _, a := range Affects {
		m.intensities[a] = m.cfg.Baseline[a]
	}
	m.dominant = ""
	m.recomputeDominantLocked(now)
	m.since = now
	m.updatedAt = now
}

func (m *Machine) snapshotLocked(now time.Time) State {
	out := make(map[Affect]float64, len(m.intensities))
	for a, v := range m.intensities {
		out[a] = v
	}
	return State{
		Intensities: out,
		Dominant:    m.dominant,
		Intensity:   m.intensities[m.dominant],
		MoodFor:     now.Sub(m.since),
		UpdatedAt:   m.updatedAt,
	}
}

func (m *Machine) appendHistoryLocked(e HistoryEntry) {
	m.history = append(m.history, e)
	if len(m.history) > m.cfg.HistoryLimit {
		m.history = m.history[len(m.history)-m.cfg.HistoryLimit:]
	}
}

func (m *Machine) appendEventLocked(e EventEntry) {
	m.events = append(m.events, e)
	if len(m.events) > m.cfg.EventLogLimit {
		m.events = m.events[len(m.events)-m.cfg.EventLogLimit:]
	}
}

func isKnown(affect Affect) bool {
	for _, a := range Affects {
		if a == affect {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func tail[T any](s []T, limit int) []T {
	if limit <= 0 || limit > len(s) {
		limit = len(s)
	}
	out := make([]T, limit)
	copy(out, s[len(s)-limit:])
	return out
}
