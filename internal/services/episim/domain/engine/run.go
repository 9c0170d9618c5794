package engine

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/mesaricr/matsim-episim-libs/internal/platform/errors"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/checkpoint"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/policy"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/mobility"
)

// Run simulates days until Day reaches days. Cancellation is honoured only
// between days: the engine saves a checkpoint and returns the context error.
// A checkpoint is also saved every CheckpointEvery days and at the end.
func (e *Engine) Run(ctx context.Context, source mobility.Source, days int) error {
	for e.day < days {
		if err := ctx.Err(); err != nil {
			if saveErr := e.save(context.WithoutCancel(ctx)); saveErr != nil {
				return errors.Join(err, saveErr)
			}
			return err
		}
		date := e.cal.Date(e.day)
		in, err := source.Day(ctx, e.day, date, e.deps.Policy.RestrictionsFor(date))
		if err != nil {
			return fmt.Errorf("mobility day %d: %w", e.day, err)
		}
		if _, err := e.RunDay(ctx, in); err != nil {
			return err
		}
		if e.cfg.CheckpointEvery > 0 && e.day%e.cfg.CheckpointEvery == 0 && e.day < days {
			if err := e.save(ctx); err != nil {
				return err
			}
		}
	}
	return e.save(ctx)
}

func (e *Engine) save(ctx context.Context) error {
	if e.deps.Checkpoints == nil {
		return nil
	}
	c, err := e.Checkpoint()
	if err != nil {
		return err
	}
	if err := e.deps.Checkpoints.Save(ctx, c); err != nil {
		return fmt.Errorf("save checkpoint day %d: %w", c.Day, err)
	}
	e.logger.Printf("checkpoint saved: run %s day %d", c.RunID, c.Day)
	return nil
}

// Checkpoint captures the state at the current day boundary.
func (e *Engine) Checkpoint() (checkpoint.Checkpoint, error) {
	c := checkpoint.Checkpoint{
		RunID:   e.cfg.RunID,
		Seed:    e.cfg.Seed,
		Day:     e.day,
		Persons: e.deps.Registry.Snapshot(),
		Totals:  e.totals,
	}
	if e.deps.Tracing != nil {
		c.Tracing = e.deps.Tracing.State()
	}
	if sp, ok := e.deps.Policy.(policy.Stateful); ok {
		state, err := sp.State()
		if err != nil {
			return checkpoint.Checkpoint{}, fmt.Errorf("encode policy state: %w", err)
		}
		c.Policy = state
	}
	return c, nil
}

// Restore resumes from c. The checkpoint must come from a run with the same
// seed over the same population; otherwise the future draws would differ
// from the interrupted run.
func (e *Engine) Restore(c checkpoint.Checkpoint) error {
	if c.Seed != e.cfg.Seed {
		return apperrors.WithMetadata(apperrors.CodeInvariantViolation, "checkpoint seed differs from run seed",
			map[string]string{"checkpoint": fmt.Sprint(c.Seed), "run": fmt.Sprint(e.cfg.Seed)})
	}
	if c.Day < 0 {
		return apperrors.New(apperrors.CodeCheckpointMismatch, "checkpoint day is negative")
	}
	if err := e.deps.Registry.Restore(c.Persons); err != nil {
		return err
	}
	if e.deps.Tracing != nil {
		e.deps.Tracing.Restore(c.Tracing)
	}
	if sp, ok := e.deps.Policy.(policy.Stateful); ok && len(c.Policy) > 0 {
		if err := sp.RestoreState(c.Policy); err != nil {
			return err
		}
	}
	e.day = c.Day
	e.totals = c.Totals
	return nil
}

// Resume loads the run's checkpoint from the store, if one exists.
func (e *Engine) Resume(ctx context.Context) (bool, error) {
	if e.deps.Checkpoints == nil {
		return false, nil
	}
	c, err := e.deps.Checkpoints.Get(ctx, e.cfg.RunID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load checkpoint: %w", err)
	}
	if err := e.Restore(c); err != nil {
		return false, err
	}
	return true, nil
}
