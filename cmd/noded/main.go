// Command noded runs a single warthog peer event loop: it loads
// configuration, stands up the websocket transport and metrics endpoint,
// and drives internal/eventloop.Eventloop until told to stop (grounded on
// the teacher's cmd/tendermint/main.go + cmd/tenderdash/commands/root.go).
package main

import (
	"os"

	"github.com/I-luk-I/Warthog/cmd/noded/commands"
)

func main() {
	root := commands.RootCommand()
	root.AddCommand(
		commands.InitCmd(),
		commands.StartCmd(),
		commands.ShowConfigCmd(),
	)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
