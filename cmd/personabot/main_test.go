package main

import (
	"testing"
	"time"

	"personabot/internal/config"
	"personabot/internal/emotion"
	"personabot/internal/persona"
	"personabot/internal/willing"
)

func TestWillingConfig_ExplicitZerosSurvive(t *testing.T) {
	cfg := config.WillingnessConfig{
		BaseWillingness:  0,
		MoodInfluence:    0,
		Jitter:           0,
		KeywordBonusCap:  0.5,
		PrivateCooldownS: 0,
		GroupCooldownS:   15,
		PerSenderQuota:   0,
		TotalQuota:       100,
		QuotaPeriodS:     3600,
	}
	out := willingConfig(cfg, persona.Default())

	if out.BaseWillingness != 0 {
		t.Fatalf("baseWillingness = %v, want the configured 0", out.BaseWillingness)
	}
	if out.Jitter != 0 {
		t.Fatalf("jitter = %v, want the configured 0", out.Jitter)
	}
	if out.MoodInfluence != 0 {
		t.Fatalf("moodInfluence = %v, want the configured 0", out.MoodInfluence)
	}
	if out.PrivateCooldown != 0 {
		t.Fatalf("privateCooldown = %v, want the configured 0", out.PrivateCooldown)
	}
	if out.PerSenderQuota != 0 {
		t.Fatalf("perSenderQuota = %v, want the configured 0 (unlimited)", out.PerSenderQuota)
	}
	if out.GroupCooldown != 15*time.Second {
		t.Fatalf("groupCooldown = %v", out.GroupCooldown)
	}
	if out.QuotaPeriod != time.Hour {
		t.Fatalf("quotaPeriod = %v", out.QuotaPeriod)
	}
}

func TestWillingConfig_PersonaOverlays(t *testing.T) {
	char := persona.Default()
	char.TriggerKeywords = map[string]float64{"luna": 0.3}
	char.ResponseBias = map[string]float64{"questions": 0.4}
	char.EmotionModifiers = map[string]float64{"joy": 0.5}
	char.AttitudeBase = map[string]float64{"reserved": 0.6}

	out := willingConfig(config.Defaults().Willingness, char)

	if out.TriggerKeywords["luna"] != 0.3 {
		t.Fatalf("trigger keyword weight = %v", out.TriggerKeywords["luna"])
	}
	if out.ResponseBias["questions"] != 0.4 {
		t.Fatalf("questions bias = %v, want the persona override", out.ResponseBias["questions"])
	}
	if out.EmotionModifiers[emotion.Joy] != 0.5 {
		t.Fatalf("joy modifier = %v, want the persona override", out.EmotionModifiers[emotion.Joy])
	}
	if out.AttitudeBase[willing.AttitudeReserved] != 0.6 {
		t.Fatalf("reserved base = %v, want the persona override", out.AttitudeBase[willing.AttitudeReserved])
	}
	// Untouched intents keep the stock bias.
	if out.ResponseBias["offensive"] != -0.5 {
		t.Fatalf("offensive bias = %v, want the stock value", out.ResponseBias["offensive"])
	}
}

func TestEmotionConfig_ExplicitZerosSurvive(t *testing.T) {
	out := emotionConfig(config.EmotionConfig{
		Stability:      0,
		DecayRate:      0,
		DecayIntervalS: 60,
		HistoryLimit:   100,
		EventLogLimit:  50,
	})
	if out.Stability != 0 {
		t.Fatalf("stability = %v, want the configured 0", out.Stability)
	}
	if out.DecayRate != 0 {
		t.Fatalf("decayRate = %v, want the configured 0", out.DecayRate)
	}
	if out.DecayInterval != time.Minute {
		t.Fatalf("decayInterval = %v", out.DecayInterval)
	}
}
