package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SweeperActorID is the actor recorded on steps failed by a Sweeper.
const SweeperActorID = "system:sweeper"

// SweepResult summarises one sweep.
type SweepResult struct {
	Failed    int
	Conflicts int
}

// Sweeper fails in_progress steps that have been open too long.
//
// It is a plain client of the engine: it goes through FailStep like any
// other caller and is never invoked by the engine itself.
type Sweeper struct {
	engine *Engine
}

// NewSweeper creates a Sweeper over engine.
func NewSweeper(engine *Engine) *Sweeper {
	return &Sweeper{engine: engine}
}

// FailStale fails every in_progress step of a running run of orgID that was
// started before now minus maxAge. Steps changed concurrently are counted as
// conflicts and left alone.
func (s *Sweeper) FailStale(ctx context.Context, orgID string, maxAge time.Duration) (SweepResult, error) {
	var res SweepResult
	if maxAge <= 0 {
		return res, newError(ErrInvalidArgument, "max age must be positive")
	}
	runs, err := s.engine.ListRuns(ctx, RunFilter{OrgID: orgID, Status: RunRunning})
	if err != nil {
		return res, err
	}
	cutoff := s.engine.cfg.clock().Add(-maxAge)
	reason := fmt.Sprintf("stale: in progress for more than %s", maxAge)

	for _, run := range runs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		steps, err := s.engine.store.ListStepRuns(ctx, run.ID)
		if err != nil {
			return res, fmt.Errorf("list step runs of %s: %w", run.ID, err)
		}
		for _, step := range steps {
			if step.Status != StepInProgress || step.StartedAt == nil || !step.StartedAt.Before(cutoff) {
				continue
			}
			_, err := s.engine.FailStep(ctx, SweeperActorID, step.ID, step.Version, reason)
			switch {
			case err == nil:
				res.Failed++
			case errors.Is(err, ErrConflict), errors.Is(err, ErrInvalidTransition):
				res.Conflicts++
			default:
				return res, err
			}
		}
	}
	s.engine.cfg.logger.Info("sweep finished",
		zap.String("org_id", orgID),
		zap.Duration("max_age", maxAge),
		zap.Int("failed", res.Failed),
		zap.Int("conflicts", res.Conflicts))
	return res, nil
}
