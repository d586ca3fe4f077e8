package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rendis/mcp-secrets/internal/logging"
	"github.com/rendis/mcp-secrets/internal/manifest"
	secretsmcp "github.com/rendis/mcp-secrets/pkg/mcp"
)

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, v, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, level := newLogger(os.Stderr, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithNamespace(ctx, cfg.EffectiveNamespace())

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.ErrorContext(ctx, "startup failed", "error", err)
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			logger.Warn("vault close failed", "error", err)
		}
	}()

	if cfg.Manifest != "" {
		w, err := a.manifest.Watch(cfg.Manifest, manifest.WatchOptions{Checker: a.checker, Logger: logger})
		if err != nil {
			logger.WarnContext(ctx, "manifest hot reload disabled", "error", err)
		} else {
			defer func() { _ = w.Close() }()
		}
	}
	watchSettings(v, cfg, level, logger)

	srv := secretsmcp.NewSecretsServer(secretsmcp.ServerDeps{
		Manager:  a.manager,
		Manifest: a.manifest,
		Name:     cfg.ServerName,
		Version:  version,
		Logger:   logger,
	})

	logger.InfoContext(ctx, "mcp-secrets starting",
		"version", version,
		"backend", cfg.Backend,
		"declared", len(a.manifest.Get().Secrets),
		"transport", transportName(cfg.ListenAddr),
	)
	if cfg.ListenAddr != "" {
		return srv.ServeHTTP(ctx, cfg.ListenAddr)
	}
	return srv.Serve(ctx)
}

func transportName(listenAddr string) string {
	if listenAddr == "" {
		return "stdio"
	}
	return "http"
}

// watchSettings applies log level edits to the settings file live and
// reports changes that need a restart.
func watchSettings(v *viper.Viper, current Config, level *slog.LevelVar, logger *slog.Logger) {
	if v.ConfigFileUsed() == "" {
		return
	}
	if _, err := os.Stat(v.ConfigFileUsed()); err != nil {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		next, err := decodeConfig(v)
		if err != nil {
			logger.Warn("settings reload failed", "file", e.Name, "error", err)
			return
		}
		d := diffConfigs(current, next)
		if d.LogLevelChanged {
			level.Set(logging.ParseLevel(next.LogLevel))
			logger.Info("log level changed", "level", next.LogLevel)
		}
		if len(d.RestartNeeded) > 0 {
			logger.Warn("settings changed that require a restart", "fields", d.RestartNeeded)
		}
		current = next
	})
	v.WatchConfig()
}
