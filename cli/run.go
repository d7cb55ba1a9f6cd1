package cli

// This file contains the command actions and the top-level experiment
// pipeline: resolve -> supersede -> build -> submit -> poll -> relay.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/regressctl/regressctl/model"
	"github.com/urfave/cli/v2"
)

func (a *App) runExperiment(c *cli.Context) error {
	if err := a.setup(c); err != nil {
		return err
	}

	// An external abort (CI job cancelled, operator interrupt) flows
	// through this context into the build commands and the poll loop.
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return a.execute(ctx, c.String("trigger-ref"), c.String("merge-target"), c.String("scope"), c.Bool("skip-relay"))
}

// execute runs the full pipeline once the collaborators are wired.
func (a *App) execute(ctx context.Context, triggerRef, mergeTarget, scope string, skipRelay bool) error {
	id, err := a.resolveIdentity(ctx, triggerRef, mergeTarget, scope)
	if err != nil {
		return err
	}

	a.logger.Info().
		Str("run_id", id.RunID).
		Str("scope", id.Scope).
		Str("baseline_tag", id.BaselineTag).
		Str("comparison_tag", id.ComparisonTag).
		Msg("Starting experiment run")

	startedAt := time.Now()
	if cancelled := a.supersede(ctx, id.Scope, model.ActiveRun{
		RunID:     id.RunID,
		Scope:     id.Scope,
		StartedAt: startedAt,
	}); len(cancelled) > 0 {
		a.logger.Info().Strs("run_ids", cancelled).Msg("Superseded stale runs")
	}

	baseline, comparison, err := a.buildImages(ctx, id)
	if err != nil {
		a.removeActive(id)
		return err
	}

	sub, err := a.submitJob(ctx, id, a.cfg.Parameters(), baseline, comparison)
	if err != nil {
		a.removeActive(id)
		return err
	}

	// Re-record with the submission metadata so the next run for this
	// scope has something to cancel against.
	if err := a.registry.RecordActive(model.ActiveRun{
		RunID:     id.RunID,
		Scope:     id.Scope,
		StartedAt: startedAt,
		Metadata:  sub.Metadata,
	}); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to update active run entry")
	}

	outcome, waitErr := a.awaitCompletion(ctx, sub)
	a.removeActive(id)

	// Captures exist for both verdicts; relay alongside whichever
	// terminal state we got.
	if !skipRelay && (outcome.State == model.StateSucceeded || outcome.State == model.StateFailed) {
		a.relayArtifacts(context.Background(), sub)
	}

	if waitErr != nil {
		return waitErr
	}
	return a.reportOutcome(outcome)
}

func (a *App) statusAction(c *cli.Context) error {
	if err := a.setup(c); err != nil {
		return err
	}

	sub, err := a.loadSubmission(c.String("run"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if c.Bool("wait") {
		outcome, err := a.awaitCompletion(ctx, sub)
		if err != nil {
			return err
		}
		return a.reportOutcome(outcome)
	}

	state, outcome, err := a.pollStatus(ctx, sub.Metadata)
	if err != nil {
		return err
	}

	fmt.Printf("run:     %s\nstate:   %s\n", sub.RunID, state)
	if outcome.Verdict != "" {
		fmt.Printf("verdict: %s\n", outcome.Verdict)
	}
	if state == model.StateFailed {
		return fmt.Errorf("experiment failed")
	}
	return nil
}

func (a *App) cancelAction(c *cli.Context) error {
	if err := a.setup(c); err != nil {
		return err
	}

	sub, err := a.loadSubmission(c.String("run"))
	if err != nil {
		return err
	}

	// Fire the request and return; the service cancels asynchronously
	// and cancelling an already-terminal job is a no-op.
	if err := a.smp.Cancel(c.Context, sub.Metadata); err != nil {
		return fmt.Errorf("failed to request cancellation: %w", err)
	}

	if err := a.registry.RemoveActive(sub.Scope, sub.RunID); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to remove active run entry")
	}

	a.logger.Info().Str("run_id", sub.RunID).Msg("Cancellation requested")
	return nil
}

func (a *App) syncAction(c *cli.Context) error {
	if err := a.setup(c); err != nil {
		return err
	}

	sub, err := a.loadSubmission(c.String("run"))
	if err != nil {
		return err
	}

	location, skipped := a.relayArtifacts(c.Context, sub)
	if skipped {
		return fmt.Errorf("artifact relay skipped")
	}
	fmt.Println(location)
	return nil
}

func (a *App) resolveAction(c *cli.Context) error {
	// Identity resolution has no side effects and needs no service
	// configuration, only git.
	a.git = gitClient{}

	id, err := a.resolveIdentity(c.Context, c.String("trigger-ref"), c.String("merge-target"), c.String("scope"))
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// loadSubmission reattaches to a persisted submission. A missing or
// unreadable blob means the job is orphaned: there is nothing to poll
// or cancel against, so this is fatal and not retried.
func (a *App) loadSubmission(runID string) (model.Submission, error) {
	var (
		sub model.Submission
		err error
	)
	if runID == "" {
		sub, err = a.store.LoadLatest()
	} else {
		sub, err = a.store.LoadSubmission(runID)
	}
	if err != nil {
		return model.Submission{}, fmt.Errorf("%w: %v", ErrOrphaned, err)
	}
	if len(sub.Metadata) == 0 {
		return model.Submission{}, fmt.Errorf("%w: submission record has no metadata", ErrOrphaned)
	}
	return sub, nil
}

func (a *App) removeActive(id model.Identity) {
	if err := a.registry.RemoveActive(id.Scope, id.RunID); err != nil {
		a.logger.Warn().Err(err).Str("run_id", id.RunID).Msg("Failed to remove active run entry")
	}
}

// reportOutcome maps a terminal outcome to the process exit
// convention: zero only for a successful verdict.
func (a *App) reportOutcome(outcome model.Outcome) error {
	switch outcome.State {
	case model.StateSucceeded:
		a.logger.Info().Str("verdict", outcome.Verdict).Msg("Experiment succeeded")
		return nil
	case model.StateFailed:
		if outcome.Verdict != "" {
			return fmt.Errorf("experiment failed: %s", outcome.Verdict)
		}
		return errors.New("experiment failed")
	case model.StateCancelled:
		return ErrCancelled
	case model.StateTimedOut:
		return ErrTimedOut
	}
	return fmt.Errorf("job ended in unexpected state %q", outcome.State)
}
