package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cosmossdk.io/log"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	EnvPrefix   = "CIPHERBET"
	BinaryName  = "cipherbetd"
	DefaultHome = ".cipherbet"

	flagHome      = "home"
	flagLogLevel  = "log-level"
	flagLogFormat = "log-format"
)

// NewRootCmd creates the root command for cipherbetd. It is called once in main.
func NewRootCmd() *cobra.Command {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:           BinaryName,
		Short:         "Confidential wagering ledger node",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SetOut(cmd.OutOrStdout())
			cmd.SetErr(cmd.ErrOrStderr())
			return bindFlags(v, cmd)
		},
	}
	rootCmd.PersistentFlags().String(flagHome, DefaultHome, "node home directory")
	rootCmd.PersistentFlags().String(flagLogLevel, "info", "log level (trace|debug|info|warn|error)")
	rootCmd.PersistentFlags().String(flagLogFormat, "plain", "log format (plain|json)")

	rootCmd.AddCommand(
		startCmd(v),
		relayCmd(v),
		kmsCmd(v),
	)
	return rootCmd
}

// bindFlags lets CIPHERBET_* environment variables fill any flag the user
// did not set, e.g. --metrics-addr from CIPHERBET_METRICS_ADDR.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	return v.BindPFlags(cmd.InheritedFlags())
}

func newLogger(v *viper.Viper) (log.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(v.GetString(flagLogLevel)))
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", flagLogLevel, err)
	}
	opts := []log.Option{log.LevelOption(lvl)}
	switch v.GetString(flagLogFormat) {
	case "json":
		opts = append(opts, log.OutputJSONOption())
	case "plain", "":
	default:
		return nil, fmt.Errorf("invalid %s %q", flagLogFormat, v.GetString(flagLogFormat))
	}
	return log.NewLogger(os.Stderr, opts...), nil
}

func committeePath(v *viper.Viper) string {
	return filepath.Join(v.GetString(flagHome), "kms", "committee.json")
}
