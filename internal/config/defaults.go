package config

// Defaults returns a config with every optional value filled in. Load
// unmarshals the file over these, so absent keys keep their defaults.
func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:              "info",
			MaxConcurrentMessages: 5,
		},
		Bridge: BridgeConfig{
			ReconnectMaxAttempts: 0, // retry forever
			ReconnectIntervalS:   5,
			HeartbeatIntervalS:   15,
			ActionTimeoutS:       30,
			ListenHost:           "127.0.0.1",
			ListenPort:           8080,
		},
		Willingness: WillingnessConfig{
			BaseWillingness:  0.7,
			MoodInfluence:    0.4,
			Jitter:           0.05,
			KeywordBonusCap:  0.5,
			PrivateCooldownS: 5,
			GroupCooldownS:   15,
			PerSenderQuota:   20,
			TotalQuota:       100,
			QuotaPeriodS:     3600,
		},
		Emotion: EmotionConfig{
			Stability:      0.3,
			DecayRate:      0.1,
			DecayIntervalS: 60,
			HistoryLimit:   100,
			EventLogLimit:  50,
		},
		Generation: GenerationConfig{
			APIBase:  "https://api.openai.com/v1",
			Model:    "gpt-4o-mini",
			TimeoutS: 120,
		},
		Memory: MemoryConfig{
			Enabled: true,
			DBPath:  "~/.personabot/memory.db",
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}
