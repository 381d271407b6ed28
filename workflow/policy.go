package workflow

// RunPolicy configures how steps of a run are sequenced and when a run ends.
//
// The policy is resolved from the workflow type when a run starts and frozen
// onto the run, so reconfiguring the engine never changes in-flight runs.
type RunPolicy struct {
	// Sequential gates a step's exit from pending on every step with a
	// smaller sortOrder being terminal.
	Sequential bool

	// HaltOnFailure ends the run as failed as soon as one step is rejected or
	// failed. Remaining pending steps are left untouched. When false the run
	// stays running until every step is terminal.
	HaltOnFailure bool
}

// DefaultRunPolicy is the policy for workflow types without an override.
var DefaultRunPolicy = RunPolicy{Sequential: true, HaltOnFailure: true}

// ParallelRunPolicy lets steps proceed independently.
var ParallelRunPolicy = RunPolicy{Sequential: false, HaltOnFailure: false}

// deriveRunStatus computes the aggregate status of a running run from its
// steps. It never returns RunCancelled; cancellation is explicit.
//
//   - failed: HaltOnFailure, some step is rejected or failed, none in_progress
//   - running: some step is not terminal
//   - completed: every step terminal, none rejected or failed
//   - failed: every step terminal, at least one rejected or failed
func deriveRunStatus(steps []StepRun, policy RunPolicy) RunStatus {
	open := false
	active := false
	unsuccessful := false
	for _, s := range steps {
		switch {
		case s.Status == StepInProgress:
			open, active = true, true
		case !s.Status.Terminal():
			open = true
		case s.Status == StepRejected || s.Status == StepFailed:
			unsuccessful = true
		}
	}
	switch {
	case unsuccessful && policy.HaltOnFailure && !active:
		// A step still in progress keeps the run open so it can settle.
		return RunFailed
	case open:
		return RunRunning
	case unsuccessful:
		return RunFailed
	default:
		return RunCompleted
	}
}

// failureCause names why a run failed: "failed" wins over "rejected".
func failureCause(steps []StepRun) string {
	cause := ""
	for _, s := range steps {
		if s.Status == StepFailed {
			return "failed"
		}
		if s.Status == StepRejected {
			cause = "rejected"
		}
	}
	return cause
}

// blockingPredecessor returns the first non-terminal step ordered before
// target, if any.
func blockingPredecessor(steps []StepRun, target StepRun) (StepRun, bool) {
	for _, s := range steps {
		if s.Spec.SortOrder < target.Spec.SortOrder && !s.Status.Terminal() {
			return s, true
		}
	}
	return StepRun{}, false
}
