package workflow

import "testing"

func steps(statuses ...StepStatus) []StepRun {
	out := make([]StepRun, len(statuses))
	for i, s := range statuses {
		out[i] = StepRun{ID: string(rune('a' + i)), Status: s, Spec: StepSpec{Type: StepTypeApproval, Title: "s", SortOrder: i + 1}}
	}
	return out
}

func TestDeriveRunStatus(t *testing.T) {
	tests := []struct {
		name     string
		steps    []StepRun
		policy   RunPolicy
		expected RunStatus
	}{
		{"all pending", steps(StepPending, StepPending), DefaultRunPolicy, RunRunning},
		{"one in progress", steps(StepCompleted, StepInProgress), DefaultRunPolicy, RunRunning},
		{"all completed", steps(StepCompleted, StepCompleted), DefaultRunPolicy, RunCompleted},
		{"skipped counts as done", steps(StepSkipped, StepCompleted), DefaultRunPolicy, RunCompleted},
		{"rejection halts", steps(StepCompleted, StepRejected, StepPending), DefaultRunPolicy, RunFailed},
		{"failure halts", steps(StepFailed, StepPending), DefaultRunPolicy, RunFailed},
		{"halt waits for in-progress steps", steps(StepInProgress, StepFailed, StepPending), RunPolicy{HaltOnFailure: true}, RunRunning},
		{"halt ignores pending steps", steps(StepCompleted, StepFailed, StepPending), RunPolicy{HaltOnFailure: true}, RunFailed},
		{"parallel waits for open steps", steps(StepRejected, StepInProgress), ParallelRunPolicy, RunRunning},
		{"parallel fails once settled", steps(StepRejected, StepCompleted), ParallelRunPolicy, RunFailed},
		{"parallel completes", steps(StepCompleted, StepSkipped), ParallelRunPolicy, RunCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := deriveRunStatus(tt.steps, tt.policy); got != tt.expected {
				t.Errorf("deriveRunStatus() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestFailureCause(t *testing.T) {
	if got := failureCause(steps(StepRejected, StepFailed)); got != "failed" {
		t.Errorf("cause = %q, want failed", got)
	}
	if got := failureCause(steps(StepCompleted, StepRejected)); got != "rejected" {
		t.Errorf("cause = %q, want rejected", got)
	}
	if got := failureCause(steps(StepCompleted)); got != "" {
		t.Errorf("cause = %q, want empty", got)
	}
}

func TestBlockingPredecessor(t *testing.T) {
	s := steps(StepCompleted, StepInProgress, StepPending, StepPending)

	if _, ok := blockingPredecessor(s, s[0]); ok {
		t.Error("first step reported blocked")
	}
	if _, ok := blockingPredecessor(s, s[1]); ok {
		t.Error("step after a completed step reported blocked")
	}
	b, ok := blockingPredecessor(s, s[3])
	if !ok || b.ID != s[1].ID {
		t.Errorf("blocking = %v %v, want the in-progress step", b.ID, ok)
	}
}
