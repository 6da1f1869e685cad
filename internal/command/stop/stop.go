package stop

import (
	"github.com/spf13/cobra"

	"gpufleet/internal/command/root"
	"gpufleet/internal/reconcile"
)

func init() {
	root.Cmd.AddCommand(cmd)
}

var cmd = &cobra.Command{
	Use:   "stop",
	Short: "Converge instances to stopped",
	Run: func(cmd *cobra.Command, args []string) {
		root.RunPass(reconcile.DesiredStopped)
	},
}
