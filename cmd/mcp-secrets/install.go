package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rendis/mcp-secrets/internal/dialog"
)

func newInstallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Write settings.yaml and install a dialog binary",
		Long: `Writes the resolved configuration to the settings file (the vault
passphrase is never written) and, with --dialog-from, copies a dialog
executable into the dialog bin dir under its platform name after
verifying its SHA-256 checksum.`,
		Args: cobra.NoArgs,
		RunE: runInstall,
	}
	addServeFlags(cmd)
	f := cmd.Flags()
	f.String("dialog-from", "", "dialog executable to install")
	f.String("dialog-sha256", "", "expected SHA-256 of --dialog-from")
	f.String("checksums", "", "checksums file (shasum -a 256 format) to look up --dialog-from in")
	f.Bool("skip-verify", false, "skip SHA-256 checksum verification")
	return cmd
}

func runInstall(cmd *cobra.Command, _ []string) error {
	cfg, v, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	path := v.ConfigFileUsed()
	if err := writeSettings(path, cfg); err != nil {
		return err
	}
	fmt.Fprintf(out, "Config written to %s\n", path)

	src, _ := cmd.Flags().GetString("dialog-from")
	if src == "" {
		return nil
	}
	expected, err := expectedChecksum(cmd, src)
	if err != nil {
		return err
	}
	dest, err := installDialog(src, cfg.DialogBinDir, runtime.GOOS, expected)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Dialog installed to %s\n", dest)
	return nil
}

// writeSettings persists cfg as YAML with owner-only permissions.
func writeSettings(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("cannot create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	return nil
}

// expectedChecksum resolves the digest to verify src against. An empty
// result with a nil error means verification was explicitly skipped.
func expectedChecksum(cmd *cobra.Command, src string) (string, error) {
	if skip, _ := cmd.Flags().GetBool("skip-verify"); skip {
		return "", nil
	}
	if sum, _ := cmd.Flags().GetString("dialog-sha256"); sum != "" {
		return sum, nil
	}
	file, _ := cmd.Flags().GetString("checksums")
	if file == "" {
		return "", fmt.Errorf("--dialog-sha256 or --checksums is required (or pass --skip-verify)")
	}
	f, err := os.Open(file)
	if err != nil {
		return "", err
	}
	defer f.Close()
	sums, err := parseChecksumFile(f)
	if err != nil {
		return "", err
	}
	sum, ok := sums[filepath.Base(src)]
	if !ok {
		return "", fmt.Errorf("no checksum for %s in %s", filepath.Base(src), file)
	}
	return sum, nil
}

// installDialog copies src to binDir under the platform dialog name.
func installDialog(src, binDir, goos, expected string) (string, error) {
	if expected != "" {
		if err := verifyChecksum(src, expected); err != nil {
			return "", err
		}
	}
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return "", fmt.Errorf("cannot create %s: %w", binDir, err)
	}
	dest := filepath.Join(binDir, dialog.PlatformBinary(goos))

	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(binDir, "dialog-*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Chmod(tmp.Name(), 0o755); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return dest, nil
}
