package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/rendis/mcp-secrets/internal/dialog"
	"github.com/rendis/mcp-secrets/internal/logging"
	"github.com/rendis/mcp-secrets/internal/manager"
	"github.com/rendis/mcp-secrets/internal/manifest"
	"github.com/rendis/mcp-secrets/internal/rules"
	"github.com/rendis/mcp-secrets/internal/vault"
)

// newLogger writes text logs to w; stdout belongs to the stdio transport.
func newLogger(w io.Writer, level string) (*slog.Logger, *slog.LevelVar) {
	lv := new(slog.LevelVar)
	lv.Set(logging.ParseLevel(level))
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: lv})
	return slog.New(logging.NewCorrelationHandler(h)), lv
}

// app is everything a command needs.
type app struct {
	cfg      Config
	manager  *manager.Manager
	checker  *rules.Checker
	manifest *manifest.Registry
	close    func() error
}

// buildApp opens the vault, wires the manager and initializes it.
func buildApp(ctx context.Context, cfg Config, logger *slog.Logger) (*app, error) {
	backend, closeVault, err := vault.Open(ctx, vault.Options{
		Kind:       vault.Kind(cfg.Backend),
		DBPath:     cfg.DBPath,
		Passphrase: cfg.VaultPassphrase,
	})
	if err != nil {
		return nil, err
	}

	checker, err := rules.NewChecker()
	if err != nil {
		_ = closeVault()
		return nil, err
	}

	registry := manifest.NewRegistry(nil)
	if cfg.Manifest != "" {
		m, err := manifest.Load(cfg.Manifest, checker)
		if err != nil {
			_ = closeVault()
			return nil, fmt.Errorf("manifest %s: %w", cfg.Manifest, err)
		}
		m.Warnings.LogWarnings(ctx, logger, cfg.Manifest)
		registry.Swap(m)
	}

	dcfg := cfg.dialogConfig()
	dcfg.Logger = logger
	orch, err := dialog.NewOrchestrator(dcfg)
	if err != nil {
		_ = closeVault()
		return nil, err
	}

	mgr, err := manager.New(manager.Config{
		Backend:           backend,
		Dialogs:           orch,
		Checker:           checker,
		Bypass:            cfg.BypassPermissionPrompts,
		ClearOnStart:      cfg.ClearOnStart,
		ReconcileSchedule: cfg.ReconcileSchedule,
		Logger:            logger,
	})
	if err != nil {
		_ = closeVault()
		return nil, err
	}
	if err := mgr.Initialize(ctx, cfg.EffectiveNamespace()); err != nil {
		_ = closeVault()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		manager:  mgr,
		checker:  checker,
		manifest: registry,
		close: func() error {
			mgr.Close(context.Background())
			return closeVault()
		},
	}, nil
}
