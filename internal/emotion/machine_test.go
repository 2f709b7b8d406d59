package emotion

import (
	"log/slog"
	"testing"
	"time"
)

func newTestMachine(t *testing.T, cfg Config) *Machine {
	t.Helper()
	m := NewMachine(cfg, slog.Default())
	return m
}

func TestUpdate_StabilityScalingAndClamp(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Stability = 0.5
	m := newTestMachine(t, cfg)

	before := m.Current().Intensities[Joy]
	st, err := m.Update(Joy, 0.4, "test")
	if err != nil {
		t.Fatal(err)
	}
	got := st.Intensities[Joy]
	want := before + 0.4*0.5
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("joy = %v, want %v", got, want)
	}

	// Pushing far past 1.0 clamps.
	st, _ = m.Update(Joy, 10, "test")
	if st.Intensities[Joy] != 1.0 {
		t.Fatalf("joy = %v, want clamp at 1.0", st.Intensities[Joy])
	}
}

func TestUpdate_NeutralTransferRule(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Stability = 0 // applied delta == raw delta
	m := newTestMachine(t, cfg)

	neutralBefore := m.Current().Intensities[Neutral]
	st, err := m.Update(Anger, 0.2, "provoked")
	if err != nil {
		t.Fatal(err)
	}
	wantNeutral := neutralBefore - 0.1 // half the applied delta
	if got := st.Intensities[Neutral]; !almostEqual(got, wantNeutral) {
		t.Fatalf("neutral = %v, want %v", got, wantNeutral)
	}

	// A neutral gain costs every other affect a fifth of the applied delta.
	joyBefore := st.Intensities[Joy]
	st, _ = m.Update(Neutral, 0.5, "calming down")
	if got := st.Intensities[Joy]; !almostEqual(got, joyBefore-0.1) {
		t.Fatalf("joy after neutral gain = %v, want %v", got, joyBefore-0.1)
	}
}

func TestUpdate_IntensitiesStayInRange(t *testing.T) {
	cfg := DefaultConfig()
	m := newTestMachine(t, cfg)

	deltas := []struct {
		affect Affect
		delta  float64
	}{
		{Joy, 2}, {Sadness, -3}, {Neutral, 5}, {Anger, 0.9},
		{Fear, -0.9}, {Neutral, -2}, {Trust, 1.5}, {Joy, -0.2},
	}
	for _, d := range deltas {
		st, err := m.Update(d.affect, d.delta, "fuzz")
		if err != nil {
			t.Fatal(err)
		}
		for a, v := range st.Intensities {
			if v < 0 || v > 1 {
				t.Fatalf("affect %s out of range: %v", a, v)
			}
		}
	}
}

func TestUpdate_UnknownAffect(t *testing.T) {
	m := newTestMachine(t, DefaultConfig())
	if _, err := m.Update(Affect("ennui"), 0.1, ""); err == nil {
		t.Fatal("expected error for unknown affect")
	}
}

func TestUpdate_DominanceChangeResetsMoodDuration(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Stability = 0
	m := newTestMachine(t, cfg)

	base := time.Now()
	m.now = func() time.Time { return base }
	m.Reset()

	m.now = func() time.Time { return base.Add(10 * time.Minute) }
	st, _ := m.Update(Joy, 0.9, "good news")
	if st.Dominant != Joy {
		t.Fatalf("dominant = %s, want joy", st.Dominant)
	}
	if st.MoodFor != 0 {
		t.Fatalf("mood duration should reset on dominance change, got %v", st.MoodFor)
	}

	// Same dominant: duration accumulates.
	m.now = func() time.Time { return base.Add(15 * time.Minute) }
	st, _ = m.Update(Joy, 0.01, "still good")
	if st.MoodFor != 5*time.Minute {
		t.Fatalf("mood duration = %v, want 5m", st.MoodFor)
	}
}

func TestApplyEventImpact(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Stability = 0
	m := newTestMachine(t, cfg)

	joyBefore := m.Current().Intensities[Joy]
	trustBefore := m.Current().Intensities[Trust]

	if _, err := m.ApplyEventImpact("praise", 0.5, "nice bot"); err != nil {
		t.Fatal(err)
	}
	st := m.Current()
	if got := st.Intensities[Joy]; !almostEqual(got, joyBefore+0.3*0.5) {
		t.Fatalf("joy = %v, want %v", got, joyBefore+0.15)
	}
	if got := st.Intensities[Trust]; got <= trustBefore {
		t.Fatalf("trust should increase, got %v (before %v)", got, trustBefore)
	}

	if _, err := m.ApplyEventImpact("eclipse", 0.5, ""); err == nil {
		t.Fatal("expected error for unknown event type")
	}

	events := m.Events(10)
	if len(events) == 0 {
		t.Fatal("event log should record impacts with a description")
	}
}

func TestDecay_ConvergesToNeutral(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Stability = 0
	cfg.DecayRate = 0.2
	m := newTestMachine(t, cfg)

	base := time.Now()
	m.now = func() time.Time { return base }
	m.Reset()
	m.Update(Anger, 0.95, "provoked")
	if m.Current().Dominant != Anger {
		t.Fatal("setup: anger should dominate")
	}

	prev := m.Current()
	for i := 1; i <= 50; i++ {
		now := base.Add(time.Duration(i) * 10 * time.Minute)
		m.decayTick(now)
		cur := m.snapshotAt(now)
		for _, a := range Affects {
			if a == Neutral {
				if cur.Intensities[a] < prev.Intensities[a] {
					t.Fatalf("tick %d: neutral decreased %v -> %v", i, prev.Intensities[a], cur.Intensities[a])
				}
				continue
			}
			if prev.Intensities[a] > 0 && cur.Intensities[a] >= prev.Intensities[a] {
				t.Fatalf("tick %d: affect %s did not strictly decrease (%v -> %v)", i, a, prev.Intensities[a], cur.Intensities[a])
			}
		}
		prev = cur
	}
	if prev.Dominant != Neutral {
		t.Fatalf("dominance should return to neutral, got %s", prev.Dominant)
	}
}

func TestReset_RestoresBaselineAndLogs(t *testing.T) {
	m := newTestMachine(t, DefaultConfig())
	m.Update(Fear, 0.9, "scare")
	st := m.Reset()
	if st.Dominant != Neutral {
		t.Fatalf("dominant after reset = %s", st.Dominant)
	}
	hist := m.History(1)
	if len(hist) != 1 || hist[0].Reason != "reset" {
		t.Fatalf("reset should append a history entry with reason \"reset\", got %+v", hist)
	}
}

func TestHistory_Bounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistoryLimit = 5
	cfg.EventLogLimit = 3
	m := newTestMachine(t, cfg)
	for i := 0; i < 20; i++ {
		m.Update(Joy, 0.01, "tick")
	}
	if got := len(m.History(0)); got != 5 {
		t.Fatalf("history length = %d, want 5", got)
	}
	if got := len(m.Events(0)); got != 3 {
		t.Fatalf("event log length = %d, want 3", got)
	}
}

// snapshotAt exposes a snapshot at a fixed instant for decay assertions.
func (m *Machine) snapshotAt(now time.Time) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(now)
}

func almostEqual(a, b float64) bool {
	d := a - b
	return d < 1e-9 && d > -1e-9
}
