package fleet

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gpufleet/internal/cloud"
	"gpufleet/internal/reconcile"
	"gpufleet/internal/retry"
)

// fakeState backs a MockProvider whose mutations complete instantly: the
// instant a create/start/stop/delete is accepted, Describe reports the
// final phase.
type fakeState struct {
	mu     sync.Mutex
	phases map[string]cloud.Phase

	creates int32
	starts  int32
	stops   int32
	deletes int32
}

func (s *fakeState) phase(name string) cloud.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()

	if phase, ok := s.phases[name]; ok {
		return phase
	}

	return cloud.PhaseAbsent
}

func (s *fakeState) set(name string, phase cloud.Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phases[name] = phase
}

func (s *fakeState) provider() *cloud.MockProvider {
	return &cloud.MockProvider{
		DescribeFunc: func(ctx context.Context, name string) (*cloud.Instance, error) {
			return &cloud.Instance{Name: name, Phase: s.phase(name), ObservedAt: time.Now()}, nil
		},
		CreateFunc: func(ctx context.Context, spec *cloud.Spec) error {
			atomic.AddInt32(&s.creates, 1)
			s.set(spec.Name, cloud.PhaseRunning)
			return nil
		},
		StartFunc: func(ctx context.Context, name string) error {
			atomic.AddInt32(&s.starts, 1)
			s.set(name, cloud.PhaseRunning)
			return nil
		},
		StopFunc: func(ctx context.Context, name string) error {
			atomic.AddInt32(&s.stops, 1)
			s.set(name, cloud.PhaseStopped)
			return nil
		},
		DeleteFunc: func(ctx context.Context, name string) error {
			atomic.AddInt32(&s.deletes, 1)
			s.set(name, cloud.PhaseAbsent)
			return nil
		},
	}
}

func newFake(phases map[string]cloud.Phase) *fakeState {
	if phases == nil {
		phases = make(map[string]cloud.Phase)
	}
	return &fakeState{phases: phases}
}

func testConfig() Config {
	return Config{
		Workers: 4,
		Policy: retry.Policy{
			Attempts:   3,
			BaseDelay:  time.Millisecond,
			Multiplier: 2.0,
			MaxDelay:   4 * time.Millisecond,
		},
		WaitTimeout:  time.Second,
		PollInterval: time.Millisecond,
	}
}

func specsFor(names ...string) []*cloud.Spec {
	specs := make([]*cloud.Spec, len(names))
	for i, name := range names {
		specs[i] = &cloud.Spec{Name: name, MachineType: "n1-standard-8"}
	}
	return specs
}

func TestApplyCreatesAbsentInstances(t *testing.T) {
	state := newFake(nil)
	o := New(state.provider(), testConfig())

	report := o.Apply(context.Background(), specsFor("train-0", "train-1"), reconcile.DesiredRunning)

	require.Len(t, report.Results, 2)

	for _, name := range []string{"train-0", "train-1"} {
		result := report.Results[name]
		require.NotNil(t, result)
		assert.Equal(t, StatusSucceeded, result.Status)
		assert.Equal(t, []string{"create"}, result.Actions)
		assert.Equal(t, cloud.PhaseRunning, result.Phase)
	}

	assert.Equal(t, int32(2), state.creates)
	assert.False(t, report.Failed())
}

func TestApplySecondPassIsIdempotent(t *testing.T) {
	state := newFake(nil)
	o := New(state.provider(), testConfig())

	first := o.Apply(context.Background(), specsFor("train-0", "train-1"), reconcile.DesiredRunning)
	require.False(t, first.Failed())

	second := o.Apply(context.Background(), specsFor("train-0", "train-1"), reconcile.DesiredRunning)
	require.False(t, second.Failed())

	for _, result := range second.Results {
		assert.Equal(t, StatusSucceeded, result.Status)
		assert.Equal(t, []string{"noop"}, result.Actions)
	}

	assert.Equal(t, int32(2), state.creates, "no mutations on a converged fleet")
	assert.Equal(t, int32(0), state.starts)
}

func TestApplyIsolatesInstanceFailure(t *testing.T) {
	state := newFake(map[string]cloud.Phase{
		"a": cloud.PhaseRunning,
		"b": cloud.PhaseRunning,
		"c": cloud.PhaseStopped,
	})

	provider := state.provider()
	inner := provider.DescribeFunc
	provider.DescribeFunc = func(ctx context.Context, name string) (*cloud.Instance, error) {
		if name == "b" {
			return nil, &cloud.Error{Kind: cloud.KindUnauthorized, Op: "describe", Name: name, Err: errors.New("forbidden")}
		}
		return inner(ctx, name)
	}

	o := New(provider, testConfig())
	report := o.Apply(context.Background(), specsFor("a", "b", "c"), reconcile.DesiredRunning)

	require.Len(t, report.Results, 3)
	assert.Equal(t, StatusSucceeded, report.Results["a"].Status)
	assert.Equal(t, StatusFailed, report.Results["b"].Status)
	assert.Contains(t, report.Results["b"].Reason, "unauthorized")
	assert.Equal(t, StatusSucceeded, report.Results["c"].Status)
	assert.Equal(t, cloud.PhaseRunning, report.Results["c"].Phase)

	assert.True(t, report.Failed(), "one failed instance fails the pass")
}

func TestApplyRetriesRateLimitedDelete(t *testing.T) {
	state := newFake(map[string]cloud.Phase{"train-0": cloud.PhaseRunning})

	provider := state.provider()
	inner := provider.DeleteFunc

	var calls int32
	provider.DeleteFunc = func(ctx context.Context, name string) error {
		if atomic.AddInt32(&calls, 1) <= 2 {
			return &cloud.Error{Kind: cloud.KindRateLimited, Op: "delete", Name: name, Err: errors.New("rate limited")}
		}
		return inner(ctx, name)
	}

	o := New(provider, testConfig())
	report := o.Apply(context.Background(), specsFor("train-0"), reconcile.DesiredAbsent)

	result := report.Results["train-0"]
	require.NotNil(t, result)
	assert.Equal(t, StatusSucceeded, result.Status)
	assert.Equal(t, []string{"delete"}, result.Actions)
	assert.Equal(t, cloud.PhaseAbsent, result.Phase)
	assert.Equal(t, int32(3), calls, "two rate-limited attempts then success")
}

func TestApplyRecreatesErrorInstance(t *testing.T) {
	state := newFake(map[string]cloud.Phase{"train-0": cloud.PhaseError})
	o := New(state.provider(), testConfig())

	report := o.Apply(context.Background(), specsFor("train-0"), reconcile.DesiredRunning)

	result := report.Results["train-0"]
	require.NotNil(t, result)
	assert.Equal(t, StatusSucceeded, result.Status)
	assert.Equal(t, []string{"delete", "create"}, result.Actions, "recreation reported as both steps")
	assert.Equal(t, cloud.PhaseRunning, result.Phase)
	assert.Equal(t, int32(1), state.deletes)
	assert.Equal(t, int32(1), state.creates)
}

func TestApplyTransitionalPhaseIsLeftAlone(t *testing.T) {
	state := newFake(map[string]cloud.Phase{"train-0": cloud.PhaseProvisioning})
	o := New(state.provider(), testConfig())

	report := o.Apply(context.Background(), specsFor("train-0"), reconcile.DesiredRunning)

	result := report.Results["train-0"]
	require.NotNil(t, result)
	assert.Equal(t, StatusSucceeded, result.Status)
	assert.Equal(t, []string{"noop"}, result.Actions)
	assert.Equal(t, int32(0), state.creates)
	assert.Equal(t, int32(0), state.starts)
}

func TestApplyCancelledContextSkips(t *testing.T) {
	state := newFake(nil)
	o := New(state.provider(), testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := o.Apply(ctx, specsFor("a", "b", "c"), reconcile.DesiredRunning)

	require.Len(t, report.Results, 3)

	for _, result := range report.Results {
		assert.Equal(t, StatusSkipped, result.Status)
	}

	assert.Equal(t, int32(0), state.creates, "nothing dispatched after cancellation")
	assert.True(t, report.Failed(), "a pass that converged nothing is not a success")
}

func TestReportSkippedIsNotSuccess(t *testing.T) {
	report := newReport()
	report.add(&Result{Name: "a", Status: StatusSucceeded})
	report.add(&Result{Name: "b", Status: StatusSkipped, Reason: "cancelled before dispatch"})

	assert.True(t, report.Failed(), "skipped instances never converged")
}

func TestApplyDuplicateNameProcessedOnce(t *testing.T) {
	state := newFake(nil)
	o := New(state.provider(), testConfig())

	specs := specsFor("train-0")
	specs = append(specs, specsFor("train-0")...)

	report := o.Apply(context.Background(), specs, reconcile.DesiredRunning)

	require.Len(t, report.Results, 1)
	assert.Equal(t, int32(1), state.creates, "a name never gets two concurrent operations")
}

func TestApplyBoundsParallelism(t *testing.T) {
	state := newFake(map[string]cloud.Phase{
		"a": cloud.PhaseRunning, "b": cloud.PhaseRunning, "c": cloud.PhaseRunning,
		"d": cloud.PhaseRunning, "e": cloud.PhaseRunning, "f": cloud.PhaseRunning,
	})

	var inFlight, peak int32

	provider := state.provider()
	inner := provider.DescribeFunc
	provider.DescribeFunc = func(ctx context.Context, name string) (*cloud.Instance, error) {
		current := atomic.AddInt32(&inFlight, 1)
		for {
			observed := atomic.LoadInt32(&peak)
			if current <= observed || atomic.CompareAndSwapInt32(&peak, observed, current) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return inner(ctx, name)
	}

	cfg := testConfig()
	cfg.Workers = 2
	o := New(provider, cfg)

	o.Apply(context.Background(), specsFor("a", "b", "c", "d", "e", "f"), reconcile.DesiredRunning)

	assert.LessOrEqual(t, peak, int32(2), "worker limit respected")
}

func TestObserve(t *testing.T) {
	state := newFake(map[string]cloud.Phase{
		"a": cloud.PhaseRunning,
		"b": cloud.PhaseStopped,
	})

	o := New(state.provider(), testConfig())
	report := o.Observe(context.Background(), []string{"a", "b", "c"})

	require.Len(t, report.Results, 3)
	assert.Equal(t, cloud.PhaseRunning, report.Results["a"].Phase)
	assert.Equal(t, cloud.PhaseStopped, report.Results["b"].Phase)
	assert.Equal(t, cloud.PhaseAbsent, report.Results["c"].Phase)
	assert.False(t, report.Failed())

	assert.Equal(t, int32(0), state.creates, "observe never mutates")
	assert.Equal(t, int32(0), state.deletes)
}

func TestWaitPhaseTimesOut(t *testing.T) {
	state := newFake(map[string]cloud.Phase{"train-0": cloud.PhaseStopped})

	provider := state.provider()
	// Start is accepted but the instance never leaves STOPPED.
	provider.StartFunc = func(ctx context.Context, name string) error {
		return nil
	}

	cfg := testConfig()
	cfg.WaitTimeout = 20 * time.Millisecond
	o := New(provider, cfg)

	report := o.Apply(context.Background(), specsFor("train-0"), reconcile.DesiredRunning)

	result := report.Results["train-0"]
	require.NotNil(t, result)
	assert.Equal(t, StatusFailed, result.Status)
	assert.Contains(t, result.Reason, "timed out")
}
