// Package commands implements the noded command-line surface: init,
// start, and show-config, wired with cobra/viper the way the teacher's
// cmd/tenderdash/commands/root.go wires tendermint's.
package commands

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/I-luk-I/Warthog/config"
)

const homeFlag = "home"

func defaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return config.DefaultWarthogDir
	}
	return filepath.Join(home, config.DefaultWarthogDir)
}

// RootCommand constructs the root "noded" command, binding the --home
// flag and storing its value in viper before any subcommand runs;
// config.toml itself is loaded by the subcommands that need it.
func RootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "noded",
		Short: "Run a warthog peer event loop node",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return bindHome(cmd)
		},
	}
	cmd.PersistentFlags().String(homeFlag, defaultHome(), "directory for config and data")
	return cmd
}

func bindHome(cmd *cobra.Command) error {
	home, err := cmd.Flags().GetString(homeFlag)
	if err != nil {
		return err
	}
	viper.Set(homeFlag, home)
	return nil
}

func homeDir(cmd *cobra.Command) string {
	h, _ := cmd.Flags().GetString(homeFlag)
	return h
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	home := homeDir(cmd)
	cfg, err := config.LoadConfigFile(config.ConfigFile(home))
	if err != nil {
		return nil, err
	}
	cfg.SetRoot(home)
	return cfg, nil
}
