package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipvault/internal/keystore"
	"go.klb.dev/clipvault/internal/logging"
)

// envKeyReplacer maps flag names like data-dir to CLIPVAULT_DATA_DIR.
var envKeyReplacer = strings.NewReplacer("-", "_")

// bindViper wires a command's flags into a viper instance with the standard
// config file search order and CLIPVAULT_* env var prefix.
//
// Precedence (lowest → highest): defaults → config file → CLIPVAULT_* env vars → flags
func bindViper(cmd *cobra.Command, v *viper.Viper) error {
	configFlag, _ := cmd.Flags().GetString("config")
	if configFlag != "" {
		v.SetConfigFile(configFlag)
	} else {
		v.SetConfigName("clipvault")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc/clipvault/")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "clipvault"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("config: %w", err)
		}
	}

	v.SetEnvPrefix("CLIPVAULT")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}
	return nil
}

// addLoggingFlags adds the standard logging flags to a command.
func addLoggingFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("no-background", false, "run interactively: tinter logs + debug level")
	cmd.Flags().String("log-format", "auto", "log format: auto|text|json")
	cmd.Flags().String("log-level", "", "log level: debug|info|warn|error (default: info for service, debug for interactive)")
}

// addConfigFlag adds the --config flag to a command.
func addConfigFlag(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "path to config file (overrides auto-discovery)")
}

// addClientFlags adds the flags every daemon client command needs.
func addClientFlags(cmd *cobra.Command) {
	cmd.Flags().String("socket", "", "daemon socket path (default: $XDG_RUNTIME_DIR/clipvault.sock)")
	cmd.Flags().String("token", "", "shared secret required by the daemon, if any")
	addConfigFlag(cmd)
}

// setupLogging reads logging flags from viper and configures slog.
func setupLogging(v *viper.Viper) {
	interactive := v.GetBool("no-background") || logging.IsTTY(os.Stderr)
	resolveLogging(interactive, v.GetString("log-format"), v.GetString("log-level"))
}

// defaultDataDir is $XDG_DATA_HOME/clipvault, or ~/.local/share/clipvault.
func defaultDataDir() string {
	if d := os.Getenv("XDG_DATA_HOME"); d != "" {
		return filepath.Join(d, "clipvault")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "clipvault")
	}
	return "clipvault-data"
}

const keyringService = "clipvault"

// openKeystore returns the secret store named by kind: "os" for the desktop
// keyring, "file" for a 0600 file under dataDir, "none" to disable
// encryption.
func openKeystore(kind, dataDir string) (keystore.Store, error) {
	switch kind {
	case "", "os":
		return keystore.Keyring{Service: keyringService}, nil
	case "file":
		return keystore.File{Dir: filepath.Join(dataDir, "keys")}, nil
	case "none":
		return keystore.Unavailable{Err: errors.New("keyring disabled by configuration")}, nil
	}
	return nil, fmt.Errorf("unknown keyring %q (want os, file or none)", kind)
}
