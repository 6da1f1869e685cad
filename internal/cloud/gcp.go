package cloud

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/compute/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/logging/v2"
	"google.golang.org/api/option"
)

type gcp struct {
	computeService *compute.Service
	project        string
	zone           string
}

// NewGCP builds a Provider backed by the GCE instances API, scoped to a
// single project and zone. Credentials come from the default chain.
func NewGCP(ctx context.Context, project, zone string) (Provider, error) {
	httpClient, err := google.DefaultClient(ctx, compute.CloudPlatformScope)

	if err != nil {
		return nil, errors.Wrap(err, "gcp http client")
	}

	creds, err := google.FindDefaultCredentials(ctx)

	if err != nil {
		return nil, errors.Wrap(err, "gcp credentials")
	}

	computeService, err := compute.NewService(ctx, option.WithHTTPClient(httpClient), option.WithCredentials(creds))

	if err != nil {
		return nil, errors.Wrap(err, "gcp compute service")
	}

	return &gcp{computeService: computeService, project: project, zone: zone}, nil
}

func (g *gcp) Describe(ctx context.Context, name string) (*Instance, error) {
	inst, err := g.computeService.Instances.Get(g.project, g.zone, name).Context(ctx).Do()

	if err != nil {
		if apiErr, ok := err.(*googleapi.Error); ok && apiErr.Code == 404 {
			return &Instance{Name: name, Phase: PhaseAbsent, ObservedAt: time.Now()}, nil
		}

		return nil, wrapError("describe", name, err)
	}

	return &Instance{
		Name:       name,
		Phase:      phaseFromStatus(inst.Status),
		IP:         externalIP(inst),
		ObservedAt: time.Now(),
	}, nil
}

func (g *gcp) List(ctx context.Context, prefix string) ([]*Instance, error) {
	var instances []*Instance

	call := g.computeService.Instances.List(g.project, g.zone)
	err := call.Pages(ctx, func(page *compute.InstanceList) error {
		for _, inst := range page.Items {
			if !strings.HasPrefix(inst.Name, prefix) {
				continue
			}

			instances = append(instances, &Instance{
				Name:       inst.Name,
				Phase:      phaseFromStatus(inst.Status),
				IP:         externalIP(inst),
				ObservedAt: time.Now(),
			})
		}
		return nil
	})

	if err != nil {
		return nil, wrapError("list", prefix, err)
	}

	return instances, nil
}

func (g *gcp) Create(ctx context.Context, spec *Spec) error {
	prefix := "projects/" + g.project

	image, err := g.computeService.Images.GetFromFamily(spec.ImageProject, spec.ImageFamily).Context(ctx).Do()

	if err != nil {
		return wrapError("create", spec.Name, errors.Wrap(err, "resolve image family"))
	}

	metadata := &compute.Metadata{}

	if spec.SSHPublicKey != "" {
		metadata.Items = append(metadata.Items, &compute.MetadataItems{
			Key:   "ssh-keys",
			Value: googleapi.String(spec.SSHUser + ":" + spec.SSHPublicKey),
		})
	}

	if spec.StartupScript != "" {
		metadata.Items = append(metadata.Items, &compute.MetadataItems{
			Key:   "startup-script",
			Value: googleapi.String(spec.StartupScript),
		})
	}

	accessConfig := &compute.AccessConfig{}

	if spec.Address != "" {
		accessConfig.NatIP = spec.Address
	}

	instance := &compute.Instance{
		Name:        spec.Name,
		MachineType: prefix + "/zones/" + g.zone + "/machineTypes/" + spec.MachineType,
		Disks: []*compute.AttachedDisk{
			{
				AutoDelete: true,
				Boot:       true,
				Type:       "PERSISTENT",
				DeviceName: spec.Name,
				InitializeParams: &compute.AttachedDiskInitializeParams{
					SourceImage: image.SelfLink,
					DiskSizeGb:  spec.BootDiskSizeGB,
				},
			},
		},
		GuestAccelerators: []*compute.AcceleratorConfig{
			{
				AcceleratorType:  prefix + "/zones/" + g.zone + "/acceleratorTypes/" + spec.AcceleratorType,
				AcceleratorCount: spec.AcceleratorCount,
			},
		},
		NetworkInterfaces: []*compute.NetworkInterface{
			{
				Network:       prefix + "/global/networks/default",
				AccessConfigs: []*compute.AccessConfig{accessConfig},
			},
		},
		ServiceAccounts: []*compute.ServiceAccount{
			{
				Email: "default",
				Scopes: []string{
					compute.ComputeScope,
					compute.DevstorageReadOnlyScope,
					logging.LoggingWriteScope,
				},
			},
		},
		Metadata: metadata,
		Tags: &compute.Tags{
			Items: []string{"gpufleet"},
		},
		Scheduling: &compute.Scheduling{
			// GPU instances cannot live-migrate.
			OnHostMaintenance: "TERMINATE",
			AutomaticRestart:  googleapi.Bool(!spec.Preemptible),
			Preemptible:       spec.Preemptible,
		},
	}

	resp, err := g.computeService.Instances.Insert(g.project, g.zone, instance).Context(ctx).Do()

	if err != nil {
		return wrapError("create", spec.Name, err)
	}

	if resp.HTTPStatusCode != 200 {
		return wrapError("create", spec.Name, errors.Errorf("bad http status code: %d", resp.HTTPStatusCode))
	}

	return nil
}

func (g *gcp) Start(ctx context.Context, name string) error {
	resp, err := g.computeService.Instances.Start(g.project, g.zone, name).Context(ctx).Do()

	if err != nil {
		return wrapError("start", name, err)
	}

	if resp.HTTPStatusCode != 200 {
		return wrapError("start", name, errors.Errorf("bad http status code: %d", resp.HTTPStatusCode))
	}

	return nil
}

func (g *gcp) Stop(ctx context.Context, name string) error {
	resp, err := g.computeService.Instances.Stop(g.project, g.zone, name).Context(ctx).Do()

	if err != nil {
		return wrapError("stop", name, err)
	}

	if resp.HTTPStatusCode != 200 {
		return wrapError("stop", name, errors.Errorf("bad http status code: %d", resp.HTTPStatusCode))
	}

	return nil
}

func (g *gcp) Delete(ctx context.Context, name string) error {
	resp, err := g.computeService.Instances.Delete(g.project, g.zone, name).Context(ctx).Do()

	if err != nil {
		return wrapError("delete", name, err)
	}

	if resp.HTTPStatusCode != 200 {
		return wrapError("delete", name, errors.Errorf("bad http status code: %d", resp.HTTPStatusCode))
	}

	return nil
}

// phaseFromStatus maps GCE instance status strings onto lifecycle phases.
// GCE has no DELETING status: a deletion shows up as STOPPING and then 404.
func phaseFromStatus(status string) Phase {
	switch status {
	case "PROVISIONING", "STAGING":
		return PhaseProvisioning
	case "RUNNING":
		return PhaseRunning
	case "STOPPING", "SUSPENDING":
		return PhaseStopping
	case "TERMINATED", "SUSPENDED":
		return PhaseStopped
	default:
		return PhaseError
	}
}

func externalIP(inst *compute.Instance) string {
	for _, iface := range inst.NetworkInterfaces {
		for _, access := range iface.AccessConfigs {
			if access.NatIP != "" {
				return access.NatIP
			}
		}
	}

	return ""
}
