package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/I-luk-I/Warthog/config"
)

// InitCmd writes a fresh config.toml (and the data/ directory) under
// --home, the way the teacher's InitFilesCmd seeds a node's directory
// layout before the first run.
func InitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a node's home directory with a default config.toml",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := homeDir(cmd)
			if err := config.EnsureRoot(home); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "initialized node home at", home)
			return nil
		},
	}
}
