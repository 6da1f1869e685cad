package start

import (
	"github.com/spf13/cobra"

	"gpufleet/internal/command/root"
	"gpufleet/internal/reconcile"
)

func init() {
	root.Cmd.AddCommand(cmd)
}

var cmd = &cobra.Command{
	Use:   "start",
	Short: "Converge instances to running",
	Run: func(cmd *cobra.Command, args []string) {
		root.RunPass(reconcile.DesiredRunning)
	},
}
