package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"personabot/internal/bridge"
	"personabot/internal/bus"
	"personabot/internal/config"
	"personabot/internal/domain"
	"personabot/internal/emotion"
	"personabot/internal/memory"
	"personabot/internal/onebot"
	"personabot/internal/persona"
	"personabot/internal/pipeline"
	"personabot/internal/provider"
	"personabot/internal/relationship"
	"personabot/internal/willing"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "personabot",
		Short: "personabot: a personality-driven chat agent",
		Long:  "personabot bridges a chat platform gateway and runs a staged reply pipeline with mood, willingness, and memory.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.personabot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(gatewayCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(versionCmd())
	root.AddCommand(installDaemonCmd())
	root.AddCommand(uninstallDaemonCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists: %s", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			fmt.Printf("Edit %s and set general.selfId plus bridge.gatewayUrl, then run: personabot gateway\n", cfgPath)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("personabot v%s\n", version)
		},
	}
}

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Connect to the platform gateway and run the reply pipeline",
		Long:  "Maintains the outbound gateway connection, serves the inbound WS/HTTP surface, and replies to messages. Press Ctrl+C to stop.",
		RunE:  runGateway,
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger = buildLogger(cfg.General)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	char, err := loadPersona(cfg.Persona)
	if err != nil {
		return err
	}
	logger.Info("persona loaded", "name", char.Name)

	eventBus := bus.New(logger)
	emotions := emotion.NewMachine(emotionConfig(cfg.Emotion), logger)
	relations := relationship.NewManager(logger)
	engine := willing.NewEngine(willingConfig(cfg.Willingness, char), emotions, relations, logger)

	var memStore domain.MemoryStore
	if cfg.Memory.Enabled {
		store, err := memory.NewSQLiteStore(cfg.Memory.DBPath, logger)
		if err != nil {
			return fmt.Errorf("memory store: %w", err)
		}
		defer store.Close()
		memStore = store
	} else {
		logger.Info("memory store disabled")
	}

	var generator domain.GenerationService
	if cfg.Generation.APIKey != "" || os.Getenv("OPENAI_API_KEY") != "" {
		apiKey := cfg.Generation.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		generator = provider.NewOpenAI(provider.OpenAIConfig{
			APIKey:  apiKey,
			APIBase: cfg.Generation.APIBase,
			Model:   cfg.Generation.Model,
			Timeout: time.Duration(cfg.Generation.TimeoutS) * time.Second,
			Logger:  logger,
		})
		logger.Info("generation provider ready", "model", cfg.Generation.Model)
	} else {
		logger.Warn("no generation API key, replies fall back to canned lines")
	}

	adapter := onebot.NewAdapter(cfg.General.SelfID)
	pl, err := pipeline.Build(cfg.Pipeline.Stages, pipeline.Deps{
		SelfID:    cfg.General.SelfID,
		Generator: generator,
		Memory:    memStore,
		Emotions:  emotions,
		Willing:   engine,
		Relations: relations,
		Persona:   char,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("assemble pipeline: %w", err)
	}

	metricsEndpoint := ""
	if cfg.Metrics.Enabled {
		metricsEndpoint = cfg.Metrics.Endpoint
	}
	br := bridge.New(bridge.Config{
		GatewayURL:           cfg.Bridge.GatewayURL,
		AccessToken:          cfg.Bridge.AccessToken,
		ReconnectMaxAttempts: cfg.Bridge.ReconnectMaxAttempts,
		ReconnectInterval:    cfg.Bridge.ReconnectInterval(),
		HeartbeatInterval:    cfg.Bridge.HeartbeatInterval(),
		ActionTimeout:        cfg.Bridge.ActionTimeout(),
		ListenHost:           cfg.Bridge.ListenHost,
		ListenPort:           cfg.Bridge.ListenPort,
		MetricsEndpoint:      metricsEndpoint,
		Version:              version,
	}, adapter, eventBus, logger)

	runner := pipeline.NewRunner(pl, eventBus, adapter, br, memStore, cfg.General.MaxConcurrentMessages, logger)
	runner.Start(ctx)
	defer runner.Stop()

	// Pokes nudge the mood without going through the pipeline.
	eventBus.Subscribe(bus.TopicNoticeReceived, func(_ string, payload any) {
		ev, ok := payload.(domain.ChatEvent)
		if !ok || ev.DetailType != "poke" {
			return
		}
		if _, err := emotions.ApplyEventImpact("poke", 1.0, "poked by "+ev.SenderID); err != nil {
			logger.Warn("poke impact failed", "error", err)
		}
	})

	go emotions.Run(ctx)
	go engine.Run(ctx)

	logger.Info("gateway starting", "url", cfg.Bridge.GatewayURL,
		"listen", fmt.Sprintf("%s:%d", cfg.Bridge.ListenHost, cfg.Bridge.ListenPort))
	return br.Start(ctx)
}

// buildLogger honors the configured level and optional log file.
func buildLogger(cfg config.GeneralConfig) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	out := io.Writer(os.Stderr)
	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err == nil {
			if f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
				out = io.MultiWriter(os.Stderr, f)
			}
		}
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}

func loadPersona(cfg config.PersonaConfig) (*persona.Persona, error) {
	if cfg.File == "" {
		return persona.Default(), nil
	}
	char, err := persona.Load(config.ExpandPath(cfg.File))
	if err != nil {
		return nil, fmt.Errorf("load persona: %w", err)
	}
	return char, nil
}

// emotionConfig maps the validated file config onto machine parameters.
// config.Load overlays the file on Defaults(), so every field here is
// deliberate — explicit zeros (e.g. stability 0) pass through unchanged.
func emotionConfig(cfg config.EmotionConfig) emotion.Config {
	out := emotion.DefaultConfig()
	out.Stability = cfg.Stability
	out.DecayRate = cfg.DecayRate
	out.DecayInterval = time.Duration(cfg.DecayIntervalS) * time.Second
	out.HistoryLimit = cfg.HistoryLimit
	out.EventLogLimit = cfg.EventLogLimit
	return out
}

// willingConfig maps the validated file config onto engine parameters and
// overlays the persona's scoring maps. Scalars copy through verbatim for the
// same reason as emotionConfig: a configured zero (jitter 0, cooldown 0) is a
// legal, intentional value.
func willingConfig(cfg config.WillingnessConfig, char *persona.Persona) willing.Config {
	out := willing.DefaultConfig()
	out.BaseWillingness = cfg.BaseWillingness
	out.MoodInfluence = cfg.MoodInfluence
	out.Jitter = cfg.Jitter
	out.KeywordBonusCap = cfg.KeywordBonusCap
	out.PrivateCooldown = time.Duration(cfg.PrivateCooldownS) * time.Second
	out.GroupCooldown = time.Duration(cfg.GroupCooldownS) * time.Second
	out.PerSenderQuota = cfg.PerSenderQuota
	out.TotalQuota = cfg.TotalQuota
	out.QuotaPeriod = time.Duration(cfg.QuotaPeriodS) * time.Second

	for k, v := range char.TriggerKeywords {
		out.TriggerKeywords[k] = v
	}
	for k, v := range char.ResponseBias {
		out.ResponseBias[k] = v
	}
	for k, v := range char.EmotionModifiers {
		out.EmotionModifiers[emotion.Affect(k)] = v
	}
	for k, v := range char.AttitudeBase {
		out.AttitudeBase[willing.Attitude(k)] = v
	}
	return out
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Query a running gateway's status endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			url := fmt.Sprintf("http://%s:%d/status", cfg.Bridge.ListenHost, cfg.Bridge.ListenPort)
			req, err := http.NewRequest(http.MethodGet, url, nil)
			if err != nil {
				return err
			}
			if cfg.Bridge.AccessToken != "" {
				req.Header.Set("Authorization", "Bearer "+cfg.Bridge.AccessToken)
			}
			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("gateway not reachable at %s: %w", url, err)
			}
			defer resp.Body.Close()

			var status map[string]any
			if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
				return fmt.Errorf("decode status: %w", err)
			}
			data, _ := json.MarshalIndent(status, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print the effective config with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			sanitized := *cfg
			if sanitized.Bridge.AccessToken != "" {
				sanitized.Bridge.AccessToken = "***"
			}
			if sanitized.Generation.APIKey != "" {
				sanitized.Generation.APIKey = "***"
			}
			data, _ := json.MarshalIndent(&sanitized, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
