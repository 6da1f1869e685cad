// Package config carries the immutable run configuration. Values are read
// once from flags and environment at command start; nothing in the core
// reads process-wide state after that.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"gpufleet/internal/cloud"
)

// Error marks bad or missing configuration. Commands exit with code 2 on
// it, distinct from per-instance provider failures.
type Error struct {
	Reason string
}

func (e *Error) Error() string {
	return "configuration: " + e.Reason
}

func errorf(format string, args ...interface{}) error {
	return &Error{Reason: fmt.Sprintf(format, args...)}
}

type Config struct {
	Names      []string
	NamePrefix string
	Count      int

	Project string
	Zone    string

	MachineType      string
	AcceleratorType  string
	AcceleratorCount int64
	BootDiskSizeGB   int64
	ImageFamily      string
	ImageProject     string
	Address          string
	SSHUser          string
	SSHPublicKeyRef  string
	StartupScriptRef string
	Preemptible      bool

	MaxWorkers   int
	WaitTimeout  time.Duration
	PollInterval time.Duration
}

// FromViper snapshots the bound flag/environment surface into a Config.
func FromViper() *Config {
	return &Config{
		Names:      viper.GetStringSlice("names"),
		NamePrefix: viper.GetString("name-prefix"),
		Count:      viper.GetInt("count"),

		Project: viper.GetString("gcp-project"),
		Zone:    viper.GetString("gcp-zone"),

		MachineType:      viper.GetString("machine-type"),
		AcceleratorType:  viper.GetString("accelerator-type"),
		AcceleratorCount: viper.GetInt64("accelerator-count"),
		BootDiskSizeGB:   viper.GetInt64("boot-disk-size"),
		ImageFamily:      viper.GetString("image-family"),
		ImageProject:     viper.GetString("image-project"),
		Address:          viper.GetString("address"),
		SSHUser:          viper.GetString("ssh-user"),
		SSHPublicKeyRef:  viper.GetString("ssh-public-key"),
		StartupScriptRef: viper.GetString("startup-script"),
		Preemptible:      viper.GetBool("preemptible"),

		MaxWorkers:   viper.GetInt("max-workers"),
		WaitTimeout:  viper.GetDuration("wait-timeout"),
		PollInterval: viper.GetDuration("poll-interval"),
	}
}

// Validate checks the surface every subcommand needs.
func (c *Config) Validate() error {
	if c.Project == "" {
		return errorf("gcp-project is required")
	}

	if c.Zone == "" {
		return errorf("gcp-zone is required")
	}

	if len(c.Names) == 0 && c.NamePrefix == "" {
		return errorf("either names or name-prefix is required")
	}

	return nil
}

// ValidateCreate checks the extra fields a create pass needs.
func (c *Config) ValidateCreate() error {
	if c.MachineType == "" {
		return errorf("machine-type is required")
	}

	if c.AcceleratorType == "" {
		return errorf("accelerator-type is required")
	}

	if c.AcceleratorCount <= 0 {
		return errorf("accelerator-count must be positive, got %d", c.AcceleratorCount)
	}

	if c.BootDiskSizeGB <= 0 {
		return errorf("boot-disk-size must be positive, got %d", c.BootDiskSizeGB)
	}

	if c.ImageFamily == "" || c.ImageProject == "" {
		return errorf("image-family and image-project are required")
	}

	if c.NamePrefix != "" && len(c.Names) == 0 && c.Count <= 0 {
		return errorf("count must be positive when creating by name-prefix")
	}

	return nil
}

// Specs builds one immutable instance spec per name. sshKey and script are
// the loaded contents of the configured references, possibly empty.
func (c *Config) Specs(names []string, sshKey, script string) []*cloud.Spec {
	specs := make([]*cloud.Spec, len(names))

	for i, name := range names {
		specs[i] = &cloud.Spec{
			Name:             name,
			Zone:             c.Zone,
			MachineType:      c.MachineType,
			AcceleratorType:  c.AcceleratorType,
			AcceleratorCount: c.AcceleratorCount,
			BootDiskSizeGB:   c.BootDiskSizeGB,
			ImageFamily:      c.ImageFamily,
			ImageProject:     c.ImageProject,
			Address:          c.Address,
			SSHUser:          c.SSHUser,
			SSHPublicKey:     sshKey,
			StartupScript:    script,
			Preemptible:      c.Preemptible,
		}
	}

	return specs
}
