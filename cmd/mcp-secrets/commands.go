package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// withApp loads config, builds the app and runs fn with it. Commands other
// than serve log only warnings and errors.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// Wiping and background reconciliation belong to the server only.
	cfg.ClearOnStart = false
	cfg.ReconcileSchedule = ""

	level := cfg.LogLevel
	if !cmd.Flags().Changed("log-level") {
		level = "warn"
	}
	logger, _ := newLogger(os.Stderr, level)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.close() }()
	return fn(ctx, a)
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored secret names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				names, err := a.manager.ListSecrets(ctx)
				if err != nil {
					return err
				}
				printList(cmd.OutOrStdout(), a.manager.Namespace(), names)
				return nil
			})
		},
	}
}

func printList(w io.Writer, namespace string, names []string) {
	if len(names) == 0 {
		fmt.Fprintf(w, "No secrets stored for %s.\n", namespace)
		return
	}
	for _, n := range names {
		fmt.Fprintln(w, n)
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>...",
		Short: "Delete stored secrets",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				for _, name := range args {
					if err := a.manager.DeleteSecret(ctx, name); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s.\n", name)
				}
				return nil
			})
		},
	}
}

func newClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every secret in the namespace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			yes, _ := cmd.Flags().GetBool("yes")
			if !yes {
				return fmt.Errorf("refusing to clear without --yes")
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.manager.ClearSecrets(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared all secrets for %s.\n", a.manager.Namespace())
				return nil
			})
		},
	}
	cmd.Flags().Bool("yes", false, "confirm clearing")
	return cmd
}
