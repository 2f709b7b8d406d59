package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"text/template"

	"github.com/spf13/cobra"
)

const launchdLabel = "com.personabot.gateway"

// serviceSpec carries everything a generated service definition needs: the
// gateway invocation, the config directory (used as working directory and as
// the home of logs and the env file), and the generation API key captured
// from the installing shell.
type serviceSpec struct {
	ExecPath   string
	ConfigPath string
	ConfigDir  string
	Label      string
	LogPath    string
	ErrLogPath string
	APIKey     string
}

func newServiceSpec(cfgPath string) (serviceSpec, error) {
	execPath, err := os.Executable()
	if err != nil {
		return serviceSpec{}, fmt.Errorf("cannot determine executable path: %w", err)
	}
	cfgDir := filepath.Dir(cfgPath)
	return serviceSpec{
		ExecPath:   execPath,
		ConfigPath: cfgPath,
		ConfigDir:  cfgDir,
		Label:      launchdLabel,
		LogPath:    filepath.Join(cfgDir, "logs", "personabot.log"),
		ErrLogPath: filepath.Join(cfgDir, "logs", "personabot-error.log"),
		APIKey:     os.Getenv("OPENAI_API_KEY"),
	}, nil
}

func installDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install the gateway as a system daemon (launchd/systemd)",
		Long: "Generates and installs a service file that runs `personabot gateway` with the " +
			"current config on system startup. An OPENAI_API_KEY present in the installing " +
			"shell is carried into the service environment.",
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := newServiceSpec(resolveConfigPath())
			if err != nil {
				return err
			}
			switch runtime.GOOS {
			case "darwin":
				return installLaunchd(spec)
			case "linux":
				return installSystemd(spec)
			default:
				return fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", runtime.GOOS)
			}
		},
	}
}

func uninstallDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the personabot system daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch runtime.GOOS {
			case "darwin":
				return removeServiceFile(launchdPath())
			case "linux":
				return removeServiceFile(systemdPath())
			default:
				return fmt.Errorf("unsupported OS: %s", runtime.GOOS)
			}
		},
	}
}

func launchdPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist")
}

func systemdPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "systemd", "user", "personabot.service")
}

func installLaunchd(spec serviceSpec) error {
	plist, err := renderLaunchdPlist(spec)
	if err != nil {
		return err
	}
	os.MkdirAll(filepath.Dir(spec.LogPath), 0o755)

	path := launchdPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	// The plist embeds the API key, so keep it private when one is present.
	mode := os.FileMode(0o644)
	if spec.APIKey != "" {
		mode = 0o600
	}
	if err := os.WriteFile(path, []byte(plist), mode); err != nil {
		return err
	}

	fmt.Printf("Daemon installed: %s\n", path)
	fmt.Printf("To start: launchctl load %s\n", path)
	fmt.Printf("To stop:  launchctl unload %s\n", path)
	return nil
}

func installSystemd(spec serviceSpec) error {
	unit, err := renderSystemdUnit(spec)
	if err != nil {
		return err
	}

	// systemd reads credentials from an env file next to the config rather
	// than embedding them in the unit.
	if spec.APIKey != "" {
		envPath := filepath.Join(spec.ConfigDir, "env")
		if err := writeEnvFile(envPath, spec.APIKey); err != nil {
			return err
		}
		fmt.Printf("Wrote %s (OPENAI_API_KEY)\n", envPath)
	}

	path := systemdPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(unit), 0o644); err != nil {
		return err
	}

	fmt.Printf("Daemon installed: %s\n", path)
	fmt.Printf("To start:  systemctl --user start personabot\n")
	fmt.Printf("To enable: systemctl --user enable personabot\n")
	fmt.Printf("To stop:   systemctl --user stop personabot\n")
	return nil
}

func removeServiceFile(path string) error {
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove service file: %w", err)
	}
	fmt.Printf("Daemon uninstalled: %s\n", path)
	return nil
}

func writeEnvFile(path, apiKey string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("OPENAI_API_KEY="+apiKey+"\n"), 0o600)
}

func renderSystemdUnit(spec serviceSpec) (string, error) {
	return renderService("systemd", systemdTemplate, spec)
}

func renderLaunchdPlist(spec serviceSpec) (string, error) {
	return renderService("launchd", launchdTemplate, spec)
}

func renderService(name, text string, spec serviceSpec) (string, error) {
	tpl, err := template.New(name).Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse %s template: %w", name, err)
	}
	var sb strings.Builder
	if err := tpl.Execute(&sb, spec); err != nil {
		return "", fmt.Errorf("render %s service: %w", name, err)
	}
	return sb.String(), nil
}

const systemdTemplate = `[Unit]
Description=personabot chat agent gateway
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
WorkingDirectory={{.ConfigDir}}
EnvironmentFile=-{{.ConfigDir}}/env
ExecStart={{.ExecPath}} gateway --config {{.ConfigPath}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{.ExecPath}}</string>
        <string>gateway</string>
        <string>--config</string>
        <string>{{.ConfigPath}}</string>
    </array>
    <key>WorkingDirectory</key>
    <string>{{.ConfigDir}}</string>
{{- if .APIKey}}
    <key>EnvironmentVariables</key>
    <dict>
        <key>OPENAI_API_KEY</key>
        <string>{{.APIKey}}</string>
    </dict>
{{- end}}
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{{.LogPath}}</string>
    <key>StandardErrorPath</key>
    <string>{{.ErrLogPath}}</string>
</dict>
</plist>
`
