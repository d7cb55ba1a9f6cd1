package cli

// This file contains superseding of concurrent runs: a new run for a
// scope cancels whatever run was still active for that scope.

import (
	"context"

	"github.com/regressctl/regressctl/model"
)

// runRegistry is the externally-owned record of active runs per
// scope. Runs may span independent process invocations, so this lives
// outside process memory.
type runRegistry interface {
	ListActive(scope string) ([]model.ActiveRun, error)
	RecordActive(run model.ActiveRun) error
	RemoveActive(scope, runID string) error
}

// supersede cancels every run still recorded active for scope and
// registers newRun in their place. Cancellation is best-effort: a
// stale run we fail to cancel will finish on its own and its results
// are simply ignored downstream, so failures here are logged, never
// fatal. Returns the IDs of the runs a cancel was issued for.
func (a *App) supersede(ctx context.Context, scope string, newRun model.ActiveRun) []string {
	var cancelled []string

	active, err := a.registry.ListActive(scope)
	if err != nil {
		a.logger.Warn().Err(err).Str("scope", scope).Msg("Failed to list active runs, skipping supersede")
	}

	for _, run := range active {
		if run.RunID == newRun.RunID {
			continue
		}

		if len(run.Metadata) > 0 {
			if err := a.smp.Cancel(ctx, run.Metadata); err != nil {
				a.logger.Warn().Err(err).
					Str("scope", scope).
					Str("run_id", run.RunID).
					Msg("Failed to cancel superseded run")
			} else {
				a.logger.Info().
					Str("scope", scope).
					Str("run_id", run.RunID).
					Msg("Cancelled superseded run")
				cancelled = append(cancelled, run.RunID)
			}
		} else {
			// Registered but never submitted: nothing to cancel
			// against, dropping the registry entry is enough.
			a.logger.Debug().
				Str("scope", scope).
				Str("run_id", run.RunID).
				Msg("Superseded run had no submission, removing registry entry only")
		}

		if err := a.registry.RemoveActive(scope, run.RunID); err != nil {
			a.logger.Warn().Err(err).Str("run_id", run.RunID).Msg("Failed to remove superseded run entry")
		}
	}

	if err := a.registry.RecordActive(newRun); err != nil {
		a.logger.Warn().Err(err).Str("run_id", newRun.RunID).Msg("Failed to record active run")
	}

	return cancelled
}
