package create

import (
	"context"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gpufleet/internal/command/root"
	"gpufleet/internal/reconcile"
	"gpufleet/internal/signal"
	"gpufleet/internal/util"
)

func init() {
	root.Cmd.AddCommand(cmd)

	cmd.PersistentFlags().Bool("preemptible", false, "Create preemptible instances")

	if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		log.WithError(err).Fatal("flag binding failed")
	}
}

var cmd = &cobra.Command{
	Use:   "create",
	Short: "Create instances and converge them to running",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := signal.WatchInterrupt(context.Background(), 30*time.Second)
		cmpt := root.GetComponent(ctx, true, true)

		if err := cmpt.Config.ValidateCreate(); err != nil {
			log.WithError(err).Error("invalid configuration")
			os.Exit(2)
		}

		names := cmpt.Config.Names

		if len(names) == 0 {
			for i := 0; i < cmpt.Config.Count; i++ {
				names = append(names, cmpt.Config.NamePrefix+util.Random(4))
			}
		}

		sshKey, script := cmpt.LoadSpecInputs(ctx)
		specs := cmpt.Config.Specs(names, sshKey, script)

		report := cmpt.Orchestrator().Apply(ctx, specs, reconcile.DesiredRunning)
		root.Finish(report)
	},
}
