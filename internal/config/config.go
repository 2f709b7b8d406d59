// Package config loads and validates the PersonaBot configuration file.
// Values support ${VAR} and ${VAR:-default} environment expansion.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Config is the root configuration for PersonaBot.
type Config struct {
	General     GeneralConfig     `json:"general"`
	Bridge      BridgeConfig      `json:"bridge"`
	Willingness WillingnessConfig `json:"willingness"`
	Emotion     EmotionConfig     `json:"emotion"`
	Pipeline    PipelineConfig    `json:"pipeline"`
	Generation  GenerationConfig  `json:"generation"`
	Memory      MemoryConfig      `json:"memory"`
	Metrics     MetricsConfig     `json:"metrics"`
	Persona     PersonaConfig     `json:"persona"`
}

type GeneralConfig struct {
	SelfID                string `json:"selfId"`
	LogLevel              string `json:"logLevel"`
	LogFile               string `json:"logFile,omitempty"`
	MaxConcurrentMessages int    `json:"maxConcurrentMessages"`
}

// BridgeConfig covers both directions of the protocol bridge: the outbound
// WebSocket client and the inbound WS/HTTP server.
type BridgeConfig struct {
	// Outbound connection to the platform gateway.
	GatewayURL           string `json:"gatewayUrl"`
	AccessToken          string `json:"accessToken,omitempty"`
	ReconnectMaxAttempts int    `json:"reconnectMaxAttempts"` // 0 = unbounded
	ReconnectIntervalS   int    `json:"reconnectIntervalSeconds"`
	HeartbeatIntervalS   int    `json:"heartbeatIntervalSeconds"`
	ActionTimeoutS       int    `json:"actionTimeoutSeconds"`

	// Inbound server surface.
	ListenHost string `json:"listenHost"`
	ListenPort int    `json:"listenPort"`
}

func (b BridgeConfig) ReconnectInterval() time.Duration {
	return time.Duration(b.ReconnectIntervalS) * time.Second
}

func (b BridgeConfig) HeartbeatInterval() time.Duration {
	return time.Duration(b.HeartbeatIntervalS) * time.Second
}

func (b BridgeConfig) ActionTimeout() time.Duration {
	return time.Duration(b.ActionTimeoutS) * time.Second
}

type WillingnessConfig struct {
	BaseWillingness  float64 `json:"baseWillingness"`
	MoodInfluence    float64 `json:"moodInfluence"`
	Jitter           float64 `json:"jitter"`
	KeywordBonusCap  float64 `json:"keywordBonusCap"`
	PrivateCooldownS int     `json:"privateCooldownSeconds"`
	GroupCooldownS   int     `json:"groupCooldownSeconds"`
	PerSenderQuota   int     `json:"perSenderQuota"`
	TotalQuota       int     `json:"totalQuota"`
	QuotaPeriodS     int     `json:"quotaPeriodSeconds"`
}

type EmotionConfig struct {
	Stability      float64 `json:"stability"`
	DecayRate      float64 `json:"decayRate"`
	DecayIntervalS int     `json:"decayIntervalSeconds"`
	HistoryLimit   int     `json:"historyLimit"`
	EventLogLimit  int     `json:"eventLogLimit"`
}

type PipelineConfig struct {
	// Stages lists stage names in execution order; empty means the stock
	// order.
	Stages []string `json:"stages,omitempty"`
}

type GenerationConfig struct {
	APIBase  string `json:"apiBase"`
	APIKey   string `json:"apiKey,omitempty"`
	Model    string `json:"model"`
	TimeoutS int    `json:"timeoutSeconds"`
}

type MemoryConfig struct {
	Enabled bool   `json:"enabled"`
	DBPath  string `json:"dbPath"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

type PersonaConfig struct {
	// File points at a persona YAML document; empty uses the built-in
	// persona.
	File string `json:"file,omitempty"`
}

// DefaultConfigDir returns the default config directory (~/.personabot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".personabot"
	}
	return filepath.Join(home, ".personabot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Memory.DBPath = ExpandPath(cfg.Memory.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Persona.File = ExpandPath(cfg.Persona.File)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset
// or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values. Required values fail
// fast; optional ones were already filled by Defaults.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.General.SelfID == "" {
		errs = append(errs, "general.selfId is required")
	}
	if cfg.General.MaxConcurrentMessages < 1 || cfg.General.MaxConcurrentMessages > 100 {
		errs = append(errs, "general.maxConcurrentMessages must be between 1 and 100")
	}

	if cfg.Bridge.GatewayURL == "" {
		errs = append(errs, "bridge.gatewayUrl is required")
	} else if !strings.HasPrefix(cfg.Bridge.GatewayURL, "ws://") && !strings.HasPrefix(cfg.Bridge.GatewayURL, "wss://") {
		errs = append(errs, "bridge.gatewayUrl must be a ws:// or wss:// URL")
	}
	if cfg.Bridge.ReconnectMaxAttempts < 0 {
		errs = append(errs, "bridge.reconnectMaxAttempts must be >= 0")
	}
	if cfg.Bridge.ReconnectIntervalS < 1 {
		errs = append(errs, "bridge.reconnectIntervalSeconds must be >= 1")
	}
	if cfg.Bridge.HeartbeatIntervalS < 1 {
		errs = append(errs, "bridge.heartbeatIntervalSeconds must be >= 1")
	}
	if cfg.Bridge.ListenPort < 0 || cfg.Bridge.ListenPort > 65535 {
		errs = append(errs, "bridge.listenPort must be between 0 and 65535")
	}

	if cfg.Willingness.BaseWillingness < 0 || cfg.Willingness.BaseWillingness > 1 {
		errs = append(errs, "willingness.baseWillingness must be within [0,1]")
	}
	if cfg.Willingness.Jitter < 0 || cfg.Willingness.Jitter > 0.5 {
		errs = append(errs, "willingness.jitter must be within [0,0.5]")
	}
	if cfg.Willingness.QuotaPeriodS < 1 {
		errs = append(errs, "willingness.quotaPeriodSeconds must be >= 1")
	}

	if cfg.Emotion.Stability < 0 || cfg.Emotion.Stability >= 1 {
		errs = append(errs, "emotion.stability must be within [0,1)")
	}
	if cfg.Emotion.DecayRate < 0 || cfg.Emotion.DecayRate > 1 {
		errs = append(errs, "emotion.decayRate must be within [0,1]")
	}
	if cfg.Emotion.DecayIntervalS < 1 {
		errs = append(errs, "emotion.decayIntervalSeconds must be >= 1")
	}

	if cfg.Memory.Enabled && cfg.Memory.DBPath == "" {
		errs = append(errs, "memory.dbPath is required when memory is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
