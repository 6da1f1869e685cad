// Package fleet applies a desired phase across a named set of instances.
//
// Each instance is processed by exactly one worker per pass: observe,
// plan, execute with retry, then re-observe until the provider reports the
// expected phase. Failures stay contained to their instance and are
// aggregated into a Report at the end of the pass.
package fleet

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"gpufleet/internal/cloud"
	"gpufleet/internal/metric"
	"gpufleet/internal/reconcile"
	"gpufleet/internal/retry"
)

const maxWorkers = 10

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Result is the outcome of one instance in one pass.
type Result struct {
	Name     string        `yaml:"name"`
	Status   Status        `yaml:"status"`
	Actions  []string      `yaml:"actions,omitempty"`
	Reason   string        `yaml:"reason,omitempty"`
	Phase    cloud.Phase   `yaml:"phase,omitempty"`
	Duration time.Duration `yaml:"-"`
}

// Report aggregates per-instance results for one pass.
type Report struct {
	mu      sync.Mutex
	Results map[string]*Result
}

func newReport() *Report {
	return &Report{Results: make(map[string]*Result)}
}

func (r *Report) add(res *Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Results[res.Name] = res
}

// Failed reports whether the pass fell short of full convergence. A
// skipped instance counts: an interrupted pass that converged nothing
// must not look like success to anything scripting the exit code.
func (r *Report) Failed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, res := range r.Results {
		if res.Status != StatusSucceeded {
			return true
		}
	}

	return false
}

// Config bounds one orchestrator. Zero values pick defaults.
type Config struct {
	Workers      int
	Policy       retry.Policy
	WaitTimeout  time.Duration
	PollInterval time.Duration
	Metric       metric.Client
}

type Orchestrator struct {
	provider     cloud.Provider
	policy       retry.Policy
	workers      int
	waitTimeout  time.Duration
	pollInterval time.Duration
	metric       metric.Client
}

func New(provider cloud.Provider, cfg Config) *Orchestrator {
	o := &Orchestrator{
		provider:     provider,
		policy:       cfg.Policy,
		workers:      cfg.Workers,
		waitTimeout:  cfg.WaitTimeout,
		pollInterval: cfg.PollInterval,
		metric:       cfg.Metric,
	}

	if o.workers <= 0 {
		o.workers = runtime.NumCPU()
	}

	// Cap parallelism so a large fleet does not trip provider rate limits.
	if o.workers > maxWorkers {
		o.workers = maxWorkers
	}

	if o.policy.Attempts == 0 {
		o.policy = retry.DefaultPolicy()
	}

	if o.waitTimeout <= 0 {
		o.waitTimeout = 5 * time.Minute
	}

	if o.pollInterval <= 0 {
		o.pollInterval = 10 * time.Second
	}

	if o.metric == nil {
		o.metric = &metric.Null{}
	}

	return o
}

// Apply drives every instance in specs toward desired and reports the
// outcome per instance. A cancelled context stops dispatching further
// instances (they are reported Skipped) but lets in-flight provider calls
// complete, so no mutation is ever abandoned half-submitted.
func (o *Orchestrator) Apply(ctx context.Context, specs []*cloud.Spec, desired reconcile.DesiredPhase) *Report {
	report := newReport()

	jobs := make(chan *cloud.Spec, len(specs))
	seen := make(map[string]bool)

	for _, spec := range specs {
		if seen[spec.Name] {
			report.add(&Result{Name: spec.Name, Status: StatusSkipped, Reason: "duplicate name in fleet"})
			continue
		}

		seen[spec.Name] = true
		jobs <- spec
	}

	close(jobs)

	workers := o.workers
	if workers > len(seen) {
		workers = len(seen)
	}

	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for spec := range jobs {
				if ctx.Err() != nil {
					report.add(&Result{Name: spec.Name, Status: StatusSkipped, Reason: "cancelled before dispatch"})
					continue
				}

				result := o.applyOne(ctx, spec, desired)
				report.add(result)

				o.metric.Send(metric.Operation(result.Name, strings.Join(result.Actions, ","), string(result.Status), result.Duration))
			}
		}()
	}

	wg.Wait()

	return report
}

// Observe describes every named instance without mutating anything.
func (o *Orchestrator) Observe(ctx context.Context, names []string) *Report {
	report := newReport()

	jobs := make(chan string, len(names))

	for _, name := range names {
		jobs <- name
	}

	close(jobs)

	workers := o.workers
	if workers > len(names) {
		workers = len(names)
	}

	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for name := range jobs {
				observed, err := o.describe(ctx, name)

				if err != nil {
					report.add(&Result{Name: name, Status: StatusFailed, Reason: err.Error()})
					continue
				}

				report.add(&Result{Name: name, Status: StatusSucceeded, Phase: observed.Phase})
			}
		}()
	}

	wg.Wait()

	return report
}

func (o *Orchestrator) applyOne(ctx context.Context, spec *cloud.Spec, desired reconcile.DesiredPhase) *Result {
	start := time.Now()
	result := &Result{Name: spec.Name}

	observed, err := o.describe(ctx, spec.Name)

	if err != nil {
		result.Status = StatusFailed
		result.Reason = err.Error()
		result.Duration = time.Since(start)
		return result
	}

	result.Phase = observed.Phase
	actions := reconcile.Plan(desired, observed.Phase)

	logger := log.WithFields(log.Fields{
		"instance": spec.Name,
		"desired":  desired,
		"observed": observed.Phase,
	})

	for _, action := range actions {
		result.Actions = append(result.Actions, string(action.Op))

		if action.Op == reconcile.OpNoOp {
			logger.WithField("reason", action.Reason).Debug("nothing to do")
			result.Reason = action.Reason
			continue
		}

		logger.WithFields(log.Fields{"action": action.Op, "reason": action.Reason}).Info("executing action")

		if err := o.execute(ctx, spec, action.Op); err != nil {
			result.Status = StatusFailed
			result.Reason = err.Error()
			result.Duration = time.Since(start)
			return result
		}

		phase, err := o.waitPhase(ctx, spec.Name, reconcile.Target(action.Op))
		result.Phase = phase

		if err != nil {
			result.Status = StatusFailed
			result.Reason = err.Error()
			result.Duration = time.Since(start)
			return result
		}
	}

	result.Status = StatusSucceeded
	result.Duration = time.Since(start)

	return result
}

func (o *Orchestrator) execute(ctx context.Context, spec *cloud.Spec, op reconcile.Op) error {
	return retry.Do(ctx, func() error {
		switch op {
		case reconcile.OpCreate:
			return o.provider.Create(ctx, spec)
		case reconcile.OpStart:
			return o.provider.Start(ctx, spec.Name)
		case reconcile.OpStop:
			return o.provider.Stop(ctx, spec.Name)
		case reconcile.OpDelete:
			return o.provider.Delete(ctx, spec.Name)
		}

		return errors.Errorf("unknown operation %q", op)
	}, o.policy)
}

func (o *Orchestrator) describe(ctx context.Context, name string) (*cloud.Instance, error) {
	var observed *cloud.Instance

	err := retry.Do(ctx, func() error {
		var err error
		observed, err = o.provider.Describe(ctx, name)
		return err
	}, o.policy)

	return observed, err
}

// waitPhase polls Describe until the instance reaches target. The mutating
// call has already been submitted at this point, so a cancelled context
// only stops the observation, not the provider-side operation.
func (o *Orchestrator) waitPhase(ctx context.Context, name string, target cloud.Phase) (cloud.Phase, error) {
	deadline := time.Now().Add(o.waitTimeout)
	last := cloud.Phase("")

	for {
		observed, err := o.describe(ctx, name)

		if err != nil {
			return last, err
		}

		last = observed.Phase

		if last == target {
			return last, nil
		}

		if last == cloud.PhaseError {
			return last, errors.Errorf("instance %q entered ERROR while waiting for %s", name, target)
		}

		if time.Now().After(deadline) {
			return last, errors.Errorf("timed out waiting for %q to reach %s (last observed %s)", name, target, last)
		}

		select {
		case <-ctx.Done():
			return last, errors.Wrapf(ctx.Err(), "cancelled waiting for %q to reach %s", name, target)
		case <-time.After(o.pollInterval):
		}
	}
}
