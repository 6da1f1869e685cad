package delete

import (
	"github.com/spf13/cobra"

	"gpufleet/internal/command/root"
	"gpufleet/internal/reconcile"
)

func init() {
	root.Cmd.AddCommand(cmd)
}

var cmd = &cobra.Command{
	Use:   "delete",
	Short: "Converge instances to absent",
	Run: func(cmd *cobra.Command, args []string) {
		root.RunPass(reconcile.DesiredAbsent)
	},
}
