package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mcp-secrets",
		Short: "MCP server that keeps credentials in the OS vault and asks before using them",
		Long: strings.TrimSpace(`
mcp-secrets stores credentials for one MCP server namespace in the OS
keychain (or an embedded libSQL file), collects missing ones through a
local dialog with a verification code, and asks the user before any
stored credential is read.

Running without a subcommand is the same as "mcp-secrets serve".`),
		SilenceUsage: true,
		RunE:         runServe,
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "settings file (default ~/.mcp-secrets/settings.yaml)")
	pf.String("name", "mcp-secrets", "server name; also the default namespace")
	pf.String("namespace", "", "secret namespace (default: the server name)")
	pf.String("backend", "keyring", "vault backend: keyring, libsql or memory")
	pf.String("db-path", "", "libsql database path (default ~/.mcp-secrets/vault.db)")
	pf.String("log-level", "info", "log level: debug, info, warn, error")

	addServeFlags(root)

	root.AddCommand(
		newServeCmd(),
		newListCmd(),
		newDeleteCmd(),
		newClearCmd(),
		newInstallCmd(),
		newVersionCmd(),
	)
	return root
}

func addServeFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Bool("bypass-permission", false, "never prompt before reading a secret (trusts every caller)")
	f.Bool("clear-on-start", false, "wipe the namespace at startup")
	f.String("dialog-binary", "", "explicit dialog executable")
	f.String("dialog-bin-dir", "", "directory holding the platform dialog binary")
	f.Duration("dialog-timeout", 0, "how long a dialog may stay open (default 10m)")
	f.String("manifest", "", "YAML file declaring the secrets this server needs")
	f.String("listen-addr", "", "serve streamable HTTP on this address instead of stdio")
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server (stdio, or HTTP with --listen-addr)",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	addServeFlags(cmd)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
