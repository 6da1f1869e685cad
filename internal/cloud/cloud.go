package cloud

import (
	"context"
	"time"
)

// Phase is the lifecycle phase of an instance as last observed from the
// provider. Absent is not an error: it means the provider knows no instance
// by that name.
type Phase string

const (
	PhaseAbsent       Phase = "ABSENT"
	PhaseProvisioning Phase = "PROVISIONING"
	PhaseRunning      Phase = "RUNNING"
	PhaseStopping     Phase = "STOPPING"
	PhaseStopped      Phase = "STOPPED"
	PhaseDeleting     Phase = "DELETING"
	PhaseError        Phase = "ERROR"
)

// Transitional reports whether the phase is mid-transition on the provider
// side. A new mutating call against an instance in such a phase would race
// the in-flight one.
func (p Phase) Transitional() bool {
	switch p {
	case PhaseProvisioning, PhaseStopping, PhaseDeleting:
		return true
	}
	return false
}

// Spec describes one desired instance. It is built once from configuration
// and never mutated after being handed to a provider call.
type Spec struct {
	Name             string
	Zone             string
	MachineType      string
	AcceleratorType  string
	AcceleratorCount int64
	BootDiskSizeGB   int64
	ImageFamily      string
	ImageProject     string
	Address          string
	SSHUser          string
	SSHPublicKey     string
	StartupScript    string
	Preemptible      bool
}

// Instance is the provider's view of an instance at one point in time.
// It is fetched fresh before every decision and discarded afterwards.
type Instance struct {
	Name       string    `yaml:"name"`
	Phase      Phase     `yaml:"phase"`
	IP         string    `yaml:"ip,omitempty"`
	ObservedAt time.Time `yaml:"-"`
}

// Provider is the capability set this tool needs from a cloud provider.
// Mutating calls only submit the operation; the provider completes it
// asynchronously and progress is observed through Describe.
type Provider interface {
	Describe(ctx context.Context, name string) (*Instance, error)
	List(ctx context.Context, prefix string) ([]*Instance, error)
	Create(ctx context.Context, spec *Spec) error
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	Delete(ctx context.Context, name string) error
}
