// Package cmd contains the commands of the xpq binary.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewRootCommand creates the xpq command. Its children read flags
// from the command line, from environment variables prefixed with
// XPQ or from xpq.yaml, in that order.
func NewRootCommand() *cobra.Command {
	viper.SetConfigName("xpq")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("XPQ")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	for _, path := range []string{"/etc/xpq", "$HOME/.xpq", "."} {
		viper.AddConfigPath(path)
	}

	// A missing config file is fine
	_ = viper.ReadInConfig()

	return &cobra.Command{
		Use:   "xpq",
		Short: "Run resumable cross-partition queries",
		Long: `xpq runs queries across every partition of a collection.

Each page is printed as a JSON line and the query's continuation is
checkpointed after every page so an interrupted query can be resumed
with --query-id.`,
		SilenceUsage: true,
	}
}

// NewCommand creates the xpq command with all its children
func NewCommand() *cobra.Command {
	root := NewRootCommand()
	root.AddCommand(NewRunCommand())
	root.AddCommand(NewCheckpointsCommand())

	return root
}
