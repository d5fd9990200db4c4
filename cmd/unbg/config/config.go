// Package config binds command flags, environment variables and an optional
// .env file into one view for the unbg commands.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ardanlabs/unbg/foundation/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.yaml.in/yaml/v2"
)

// EnvPrefix is the prefix for the environment variables that back the flags.
// The --token-env flag is read from UNBG_TOKEN_ENV.
const EnvPrefix = "UNBG"

// Load reads a .env file from the working directory when present and binds
// the command flags. A flag set on the command line wins over the
// environment, which wins over the flag default.
func Load(cmd *cobra.Command) (*viper.Viper, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load: reading .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("load: binding flags: %w", err)
	}

	return v, nil
}

// AddLogFlags registers the logging flags on the root command.
func AddLogFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")
	cmd.PersistentFlags().String("log-format", "console", "Log format: console, json")
}

// NewLogger constructs the logger for a command. Logs go to stderr so the
// command output on stdout stays machine readable.
func NewLogger(v *viper.Viper) (*logger.Logger, error) {
	lvl, err := logger.ParseLevel(v.GetString("log-level"))
	if err != nil {
		return nil, err
	}

	return logger.NewWithFormat(os.Stderr, lvl, "unbg", logger.Format(v.GetString("log-format"))), nil
}

// =============================================================================

// AddFormatFlag registers the output format flag.
func AddFormatFlag(cmd *cobra.Command) {
	cmd.Flags().String("format", "json", "Output format: json, yaml")
}

// Print renders the value in the requested format.
func Print(w io.Writer, format string, value any) error {
	switch strings.ToLower(format) {
	case "", "json":
		d, err := json.MarshalIndent(value, "", "  ")
		if err != nil {
			return fmt.Errorf("print: %w", err)
		}

		fmt.Fprintln(w, string(d))

	case "yaml", "yml":
		d, err := yaml.Marshal(value)
		if err != nil {
			return fmt.Errorf("print: %w", err)
		}

		fmt.Fprint(w, string(d))

	default:
		return fmt.Errorf("print: unknown format %q, expected json or yaml", format)
	}

	return nil
}
