package ssh

import (
	"context"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gpufleet/internal/cloud"
	"gpufleet/internal/command/root"
	"gpufleet/internal/executor"
)

func init() {
	root.Cmd.AddCommand(cmd)

	cmd.PersistentFlags().String("ssh-key", "", "SSH private key path")

	if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		log.WithError(err).Fatal("flag binding failed")
	}
}

var cmd = &cobra.Command{
	Use:   "ssh [name]",
	Short: "Open an interactive SSH session on an instance",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		cmpt := root.GetComponent(ctx, true, false)

		var name string

		if len(args) > 0 {
			name = args[0]
		} else {
			names := cmpt.ResolveNames(ctx)

			if len(names) == 0 {
				log.Error("no instance to connect to")
				os.Exit(2)
			}

			name = names[0]
		}

		instance, err := cmpt.Describe(ctx, name)

		if err != nil {
			log.WithError(err).Fatalf("unable to describe instance '%s'", name)
		}

		if instance.Phase != cloud.PhaseRunning {
			log.Errorf("instance '%s' is %s, not %s", name, instance.Phase, cloud.PhaseRunning)
			os.Exit(1)
		}

		if instance.IP == "" {
			log.Errorf("instance '%s' has no external address", name)
			os.Exit(1)
		}

		command := &executor.Cmd{Binary: "ssh", Interactive: true}
		command.Add("-o", "StrictHostKeyChecking=no")

		if key := viper.GetString("ssh-key"); key != "" {
			command.Add("-i", key)
		}

		command.Add(cmpt.Config.SSHUser + "@" + instance.IP)

		if err := executor.NewExecutor(os.Stderr).Run(ctx, command); err != nil {
			os.Exit(1)
		}
	},
}
