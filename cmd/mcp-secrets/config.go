package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rendis/mcp-secrets/internal/dialog"
)

// Config holds all mcp-secrets configuration.
// Priority: flags > env vars (MCP_SECRETS_*) > settings.yaml > defaults.
type Config struct {
	ServerName              string        `mapstructure:"server_name" yaml:"server_name"`
	Namespace               string        `mapstructure:"namespace" yaml:"namespace,omitempty"`
	Backend                 string        `mapstructure:"backend" yaml:"backend"`
	DBPath                  string        `mapstructure:"db_path" yaml:"db_path"`
	VaultPassphrase         string        `mapstructure:"vault_passphrase" yaml:"-"`
	BypassPermissionPrompts bool          `mapstructure:"bypass_permission_prompts" yaml:"bypass_permission_prompts"`
	ClearOnStart            bool          `mapstructure:"clear_on_start" yaml:"clear_on_start"`
	DialogBinary            string        `mapstructure:"dialog_binary" yaml:"dialog_binary,omitempty"`
	DialogBinDir            string        `mapstructure:"dialog_bin_dir" yaml:"dialog_bin_dir"`
	DialogTimeout           time.Duration `mapstructure:"dialog_timeout" yaml:"dialog_timeout"`
	Manifest                string        `mapstructure:"manifest" yaml:"manifest,omitempty"`
	ListenAddr              string        `mapstructure:"listen_addr" yaml:"listen_addr,omitempty"`
	LogLevel                string        `mapstructure:"log_level" yaml:"log_level"`
	ReconcileSchedule       string        `mapstructure:"reconcile_schedule" yaml:"reconcile_schedule"`
}

// EffectiveNamespace is the configured namespace, or the server name.
func (c Config) EffectiveNamespace() string {
	if c.Namespace != "" {
		return c.Namespace
	}
	return c.ServerName
}

func defaults() map[string]any {
	dir := secretsDir()
	return map[string]any{
		"server_name":               "mcp-secrets",
		"namespace":                 "",
		"backend":                   "keyring",
		"db_path":                   filepath.Join(dir, "vault.db"),
		"vault_passphrase":          "",
		"bypass_permission_prompts": false,
		"clear_on_start":            false,
		"dialog_binary":             "",
		"dialog_bin_dir":            filepath.Join(dir, "bin"),
		"dialog_timeout":            "10m",
		"manifest":                  "",
		"listen_addr":               "",
		"log_level":                 "info",
		"reconcile_schedule":        "@every 1h",
	}
}

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	"name":              "server_name",
	"namespace":         "namespace",
	"backend":           "backend",
	"db-path":           "db_path",
	"bypass-permission": "bypass_permission_prompts",
	"clear-on-start":    "clear_on_start",
	"dialog-binary":     "dialog_binary",
	"dialog-bin-dir":    "dialog_bin_dir",
	"dialog-timeout":    "dialog_timeout",
	"manifest":          "manifest",
	"listen-addr":       "listen_addr",
	"log-level":         "log_level",
}

func secretsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mcp-secrets"
	}
	return filepath.Join(home, ".mcp-secrets")
}

func settingsPath() string {
	return filepath.Join(secretsDir(), "settings.yaml")
}

// newViper layers defaults, the settings file, env and the flags of cmd.
func newViper(cmd *cobra.Command, file string) (*viper.Viper, error) {
	v := viper.New()
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}

	if file == "" {
		file = settingsPath()
	}
	v.SetConfigFile(file)
	v.SetConfigType("yaml")
	if _, err := os.Stat(file); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
	}

	v.SetEnvPrefix("MCP_SECRETS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The legacy flag is honored here and nowhere else.
	if err := v.BindEnv("clear_on_start", "MCP_SECRETS_CLEAR_ON_START", "SECRETS_STORAGE_CLEAR"); err != nil {
		return nil, err
	}

	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}
	return v, nil
}

func decodeConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	if cfg.EffectiveNamespace() == "" {
		return cfg, fmt.Errorf("namespace must not be empty")
	}
	return cfg, nil
}

// loadConfig resolves the configuration for cmd.
func loadConfig(cmd *cobra.Command) (Config, *viper.Viper, error) {
	file, _ := cmd.Flags().GetString("config")
	v, err := newViper(cmd, file)
	if err != nil {
		return Config{}, nil, err
	}
	cfg, err := decodeConfig(v)
	return cfg, v, err
}

// dialogConfig converts the dialog settings.
func (c Config) dialogConfig() dialog.Config {
	return dialog.Config{
		BinaryOverride: c.DialogBinary,
		BinDir:         c.DialogBinDir,
		Timeout:        c.DialogTimeout,
	}
}

// configDiff describes what changed between two configurations.
type configDiff struct {
	LogLevelChanged bool
	RestartNeeded   []string // fields that require a server restart
}

func diffConfigs(old, new Config) configDiff {
	var d configDiff
	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
	}
	check := func(name string, changed bool) {
		if changed {
			d.RestartNeeded = append(d.RestartNeeded, name)
		}
	}
	check("namespace", old.EffectiveNamespace() != new.EffectiveNamespace())
	check("backend", old.Backend != new.Backend)
	check("db_path", old.DBPath != new.DBPath)
	check("bypass_permission_prompts", old.BypassPermissionPrompts != new.BypassPermissionPrompts)
	check("dialog_binary", old.DialogBinary != new.DialogBinary)
	check("dialog_bin_dir", old.DialogBinDir != new.DialogBinDir)
	check("dialog_timeout", old.DialogTimeout != new.DialogTimeout)
	check("manifest", old.Manifest != new.Manifest)
	check("listen_addr", old.ListenAddr != new.ListenAddr)
	check("reconcile_schedule", old.ReconcileSchedule != new.ReconcileSchedule)
	return d
}
