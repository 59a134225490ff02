package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/I-luk-I/Warthog/config"
)

// ShowConfigCmd prints the loaded, validated configuration back out as
// TOML, mirroring the teacher's habit of letting operators confirm what
// a node actually resolved its flags/env/file layers to.
func ShowConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show-config",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return config.RenderConfig(os.Stdout, cfg)
		},
	}
}
