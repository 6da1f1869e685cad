// Package reconcile decides which provider actions move an instance from
// its observed phase toward a desired phase.
package reconcile

import (
	"gpufleet/internal/cloud"
)

// DesiredPhase is the end state requested for an instance.
type DesiredPhase string

const (
	DesiredRunning DesiredPhase = "running"
	DesiredStopped DesiredPhase = "stopped"
	DesiredAbsent  DesiredPhase = "absent"
)

// Op is a single provider mutation, or the absence of one.
type Op string

const (
	OpNoOp   Op = "noop"
	OpCreate Op = "create"
	OpStart  Op = "start"
	OpStop   Op = "stop"
	OpDelete Op = "delete"
)

// Action is one planned step with the reason it was chosen.
type Action struct {
	Op     Op
	Reason string
}

// Plan computes the actions that converge an instance toward desired given
// its observed phase. It is a pure function: no provider calls, no state.
//
// Transitional phases always plan a NoOp, whatever the desired phase: the
// provider is already moving the instance and a second mutating call would
// race the first. An instance observed in ERROR is recreated (delete, then
// create) unless it is meant to be absent, in which case a plain delete
// suffices.
func Plan(desired DesiredPhase, observed cloud.Phase) []Action {
	if observed.Transitional() {
		return []Action{{Op: OpNoOp, Reason: "transition in flight, will re-poll"}}
	}

	if observed == cloud.PhaseError {
		if desired == DesiredAbsent {
			return []Action{{Op: OpDelete, Reason: "instance in error state"}}
		}

		return []Action{
			{Op: OpDelete, Reason: "instance in error state, recreating"},
			{Op: OpCreate, Reason: "recreate after error"},
		}
	}

	switch desired {
	case DesiredRunning:
		switch observed {
		case cloud.PhaseAbsent:
			return []Action{{Op: OpCreate, Reason: "instance absent"}}
		case cloud.PhaseStopped:
			return []Action{{Op: OpStart, Reason: "instance stopped"}}
		case cloud.PhaseRunning:
			return []Action{{Op: OpNoOp, Reason: "already running"}}
		}

	case DesiredStopped:
		switch observed {
		case cloud.PhaseRunning:
			return []Action{{Op: OpStop, Reason: "instance running"}}
		case cloud.PhaseStopped:
			return []Action{{Op: OpNoOp, Reason: "already stopped"}}
		case cloud.PhaseAbsent:
			return []Action{{Op: OpNoOp, Reason: "instance absent"}}
		}

	case DesiredAbsent:
		if observed == cloud.PhaseAbsent {
			return []Action{{Op: OpNoOp, Reason: "already absent"}}
		}

		return []Action{{Op: OpDelete, Reason: "instance present"}}
	}

	return []Action{{Op: OpNoOp, Reason: "no rule for observed phase " + string(observed)}}
}

// Target is the phase Describe should eventually report once op has
// completed on the provider side.
func Target(op Op) cloud.Phase {
	switch op {
	case OpCreate, OpStart:
		return cloud.PhaseRunning
	case OpStop:
		return cloud.PhaseStopped
	case OpDelete:
		return cloud.PhaseAbsent
	}

	return ""
}
