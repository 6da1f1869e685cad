package root

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"gpufleet/internal/cloud"
	"gpufleet/internal/config"
	"gpufleet/internal/fleet"
	"gpufleet/internal/metric"
	"gpufleet/internal/reconcile"
	"gpufleet/internal/retry"
	"gpufleet/internal/signal"
	"gpufleet/internal/storage"
)

var Cmd = &cobra.Command{
	Use:   "gpufleet",
	Short: "GPU instance fleet manager",
	Long:  `gpufleet converges a named set of GPU instances toward a desired lifecycle phase`,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Usage()
	},
}

func Execute() {
	log.SetLevel(log.DebugLevel)

	if err := Cmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	Cmd.PersistentFlags().StringSlice("names", nil, "Instance names")
	Cmd.PersistentFlags().String("name-prefix", "", "Instance name prefix, alternative to explicit names")
	Cmd.PersistentFlags().Int("count", 1, "Number of instances to create when using name-prefix")

	Cmd.PersistentFlags().String("gcp-project", "", "GCP project")
	Cmd.PersistentFlags().String("gcp-zone", "us-central1-a", "GCP zone")

	Cmd.PersistentFlags().String("machine-type", "n1-standard-8", "Machine type")
	Cmd.PersistentFlags().String("accelerator-type", "nvidia-tesla-t4", "Accelerator type")
	Cmd.PersistentFlags().Int64("accelerator-count", 1, "Accelerator count")
	Cmd.PersistentFlags().Int64("boot-disk-size", 200, "Boot disk size in GB")
	Cmd.PersistentFlags().String("image-family", "pytorch-latest-gpu", "Image family")
	Cmd.PersistentFlags().String("image-project", "deeplearning-platform-release", "Image project")
	Cmd.PersistentFlags().String("address", "", "Static external address to attach")
	Cmd.PersistentFlags().String("ssh-user", "ubuntu", "User the SSH public key is installed for")
	Cmd.PersistentFlags().String("ssh-public-key", "", "SSH public key reference (path, gs:// or s3:// URL)")
	Cmd.PersistentFlags().String("startup-script", "", "Startup script reference (path, gs:// or s3:// URL)")

	Cmd.PersistentFlags().Int("max-workers", 0, "Maximum parallel instance operations, 0 for auto")
	Cmd.PersistentFlags().Duration("wait-timeout", 0, "How long to wait for an instance to reach its target phase")
	Cmd.PersistentFlags().Duration("poll-interval", 0, "Delay between convergence polls")

	Cmd.PersistentFlags().String("influxdb", "", "InfluxDB endpoint, empty to disable metrics")
	Cmd.PersistentFlags().String("influxdb-token", "", "InfluxDB token")
	Cmd.PersistentFlags().String("influxdb-bucket", "", "InfluxDB bucket")
	Cmd.PersistentFlags().String("influxdb-org", "", "InfluxDB organization")

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindPFlags(Cmd.PersistentFlags()); err != nil {
		log.WithError(err).Fatal("flag binding failed")
	}
}

type Component struct {
	Config   *config.Config
	Provider cloud.Provider
	Metric   metric.Client
}

// GetComponent snapshots configuration and connects the requested
// collaborators. Invalid configuration exits with code 2.
func GetComponent(ctx context.Context, loadProvider, loadMetric bool) *Component {
	cfg := config.FromViper()

	if err := cfg.Validate(); err != nil {
		log.WithError(err).Error("invalid configuration")
		os.Exit(2)
	}

	component := &Component{Config: cfg, Metric: &metric.Null{}}

	if loadProvider {
		provider, err := cloud.NewGCP(ctx, cfg.Project, cfg.Zone)

		if err != nil {
			log.WithError(err).Fatal("cloud provider")
		}

		log.WithFields(log.Fields{
			"project": cfg.Project,
			"zone":    cfg.Zone,
		}).Info("connected to GCP")

		component.Provider = provider
	}

	if loadMetric {
		influxDbAddr := viper.GetString("influxdb")

		if influxDbAddr != "" {
			metricClient, err := metric.NewInfluxdb(metric.InfluxdbConfig{
				Addr:   influxDbAddr,
				Token:  viper.GetString("influxdb-token"),
				Bucket: viper.GetString("influxdb-bucket"),
				Org:    viper.GetString("influxdb-org"),
			})

			if err != nil {
				log.WithError(err).Fatalf("unable to connect to metrics '%s'", influxDbAddr)
			}

			log.Infof("connected to metrics '%s'", influxDbAddr)
			component.Metric = metricClient
		}
	}

	return component
}

// Orchestrator builds the fleet orchestrator from the run configuration.
func (c *Component) Orchestrator() *fleet.Orchestrator {
	return fleet.New(c.Provider, fleet.Config{
		Workers:      c.Config.MaxWorkers,
		WaitTimeout:  c.Config.WaitTimeout,
		PollInterval: c.Config.PollInterval,
		Metric:       c.Metric,
	})
}

// Describe fetches one instance under the same retry policy the fleet
// applies, so a transient provider error does not kill a read-only call.
func (c *Component) Describe(ctx context.Context, name string) (*cloud.Instance, error) {
	var instance *cloud.Instance

	err := retry.Do(ctx, func() error {
		var err error
		instance, err = c.Provider.Describe(ctx, name)
		return err
	}, retry.DefaultPolicy())

	return instance, err
}

// ResolveNames returns the instance names this run targets: the explicit
// list, or whatever instances currently exist under the name prefix.
func (c *Component) ResolveNames(ctx context.Context) []string {
	if len(c.Config.Names) > 0 {
		return c.Config.Names
	}

	instances, err := c.Provider.List(ctx, c.Config.NamePrefix)

	if err != nil {
		log.WithError(err).Fatalf("unable to list instances with prefix '%s'", c.Config.NamePrefix)
	}

	names := make([]string, len(instances))

	for i, instance := range instances {
		names[i] = instance.Name
	}

	return names
}

// LoadSpecInputs reads the configured SSH public key and startup script.
// Unreadable references are configuration errors.
func (c *Component) LoadSpecInputs(ctx context.Context) (sshKey, script string) {
	if ref := c.Config.SSHPublicKeyRef; ref != "" {
		data, err := storage.ReadRef(ctx, ref)

		if err != nil {
			log.WithError(err).Errorf("unable to read ssh public key '%s'", ref)
			os.Exit(2)
		}

		sshKey = strings.TrimSpace(string(data))
	}

	if ref := c.Config.StartupScriptRef; ref != "" {
		data, err := storage.ReadRef(ctx, ref)

		if err != nil {
			log.WithError(err).Errorf("unable to read startup script '%s'", ref)
			os.Exit(2)
		}

		script = string(data)
	}

	return sshKey, script
}

// RunPass converges the resolved instances toward desired and reports.
// Shared by the start, stop and delete subcommands; create generates names
// and validates its extra fields first, so it drives its own pass.
func RunPass(desired reconcile.DesiredPhase) {
	ctx := signal.WatchInterrupt(context.Background(), 30*time.Second)
	cmpt := GetComponent(ctx, true, true)

	names := cmpt.ResolveNames(ctx)

	if len(names) == 0 {
		log.Warnf("no instances matched, nothing to do")
		return
	}

	sshKey, script := cmpt.LoadSpecInputs(ctx)
	specs := cmpt.Config.Specs(names, sshKey, script)

	report := cmpt.Orchestrator().Apply(ctx, specs, desired)
	Finish(report)
}

// Finish prints the per-instance report and exits non-zero if any instance
// failed.
func Finish(report *fleet.Report) {
	out, err := yaml.Marshal(report.Results)

	if err != nil {
		log.WithError(err).Fatal("render report")
	}

	fmt.Print(string(out))

	if report.Failed() {
		os.Exit(1)
	}
}
