package status

import (
	"context"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"gpufleet/internal/command/root"
)

func init() {
	root.Cmd.AddCommand(cmd)
}

var cmd = &cobra.Command{
	Use:   "status",
	Short: "Describe instances without mutating anything",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		cmpt := root.GetComponent(ctx, true, false)

		names := cmpt.ResolveNames(ctx)

		if len(names) == 0 {
			log.Warnf("no instances matched")
			return
		}

		report := cmpt.Orchestrator().Observe(ctx, names)
		root.Finish(report)
	},
}
