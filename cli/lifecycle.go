package cli

// This file contains the job lifecycle manager: submission of the
// measurement job and the poll loop that drives it to a terminal
// state with bounded wait, timeout and cancellation semantics.

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/regressctl/regressctl/cli/smp"
	"github.com/regressctl/regressctl/model"
)

// transientPollRetries bounds how many times a failed status poll is
// retried before the failure surfaces as ErrPollFailed.
const transientPollRetries = 3

// submissionStore persists submission metadata so a later process can
// reattach to the job. Losing the blob orphans the job.
type submissionStore interface {
	SaveSubmission(sub model.Submission) (string, error)
	LoadSubmission(runID string) (model.Submission, error)
	LoadLatest() (model.Submission, error)
	CaptureDir(runID string) (string, error)
}

// submitJob submits the job description to the measurement service
// and durably records the returned metadata before the first poll.
func (a *App) submitJob(ctx context.Context, id model.Identity, params model.Parameters, baseline, comparison model.BuildResult) (model.Submission, error) {
	a.logger.Info().
		Str("baseline_image", baseline.ImageRef).
		Str("comparison_image", comparison.ImageRef).
		Int("total_samples", params.TotalSamples).
		Int("replicas", params.Replicas).
		Msg("Submitting measurement job")

	metadata, err := a.smp.Submit(ctx, smp.SubmitRequest{
		Params:          params,
		BaselineImage:   baseline.ImageRef,
		ComparisonImage: comparison.ImageRef,
	})
	if err != nil {
		if errors.Is(err, smp.ErrRejected) {
			return model.Submission{}, fmt.Errorf("%w: %v", ErrSubmissionRejected, err)
		}
		return model.Submission{}, fmt.Errorf("failed to submit job: %w", err)
	}

	sub := model.Submission{
		RunID:       id.RunID,
		Scope:       id.Scope,
		Identity:    id,
		SubmittedAt: time.Now(),
		Metadata:    metadata,
	}

	if _, err := a.store.SaveSubmission(sub); err != nil {
		// The job is in flight but nothing durable points at it. Try
		// to take it down again; either way this run cannot manage it.
		a.fireCancel(metadata)
		return model.Submission{}, fmt.Errorf("%w: %v", ErrOrphaned, err)
	}

	return sub, nil
}

// awaitCompletion drives the poll loop for sub until a terminal state,
// the wall-clock timeout, or an external abort. On timeout and abort a
// best-effort cancel is fired so the remote job is not leaked.
func (a *App) awaitCompletion(ctx context.Context, sub model.Submission) (model.Outcome, error) {
	deadline := time.NewTimer(a.cfg.Poll.Timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(a.cfg.Poll.Interval)
	defer ticker.Stop()

	for {
		state, outcome, err := a.pollStatus(ctx, sub.Metadata)
		if err != nil {
			if ctx.Err() != nil {
				a.fireCancel(sub.Metadata)
				return model.Outcome{State: model.StateCancelled}, ErrCancelled
			}
			return model.Outcome{}, err
		}

		if state.Terminal() {
			a.logger.Info().
				Str("run_id", sub.RunID).
				Str("state", string(state)).
				Str("verdict", outcome.Verdict).
				Msg("Job reached terminal state")
			return outcome, nil
		}

		a.logger.Debug().
			Str("run_id", sub.RunID).
			Str("state", string(state)).
			Msg("Job still in progress")

		select {
		case <-ctx.Done():
			a.logger.Info().Str("run_id", sub.RunID).Msg("Run aborted, cancelling job")
			a.fireCancel(sub.Metadata)
			return model.Outcome{State: model.StateCancelled}, ErrCancelled
		case <-deadline.C:
			a.logger.Warn().
				Str("run_id", sub.RunID).
				Dur("timeout", a.cfg.Poll.Timeout).
				Msg("Wall-clock timeout reached, cancelling job")
			a.fireCancel(sub.Metadata)
			return model.Outcome{State: model.StateTimedOut}, ErrTimedOut
		case <-ticker.C:
		}
	}
}

// pollStatus performs one status poll, retrying transient transport
// errors locally before letting the failure surface.
func (a *App) pollStatus(ctx context.Context, metadata []byte) (model.JobState, model.Outcome, error) {
	var (
		state   model.JobState
		outcome model.Outcome
	)

	op := func() error {
		var err error
		state, outcome, err = a.smp.Status(ctx, metadata)
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second

	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, transientPollRetries), ctx)); err != nil {
		if ctx.Err() != nil {
			return "", model.Outcome{}, ctx.Err()
		}
		return "", model.Outcome{}, fmt.Errorf("%w: %v", ErrPollFailed, err)
	}
	return state, outcome, nil
}

// fireCancel requests cancellation and returns without waiting for
// the service to acknowledge. It runs on its own context so it still
// goes out when the run's own context is already cancelled. Cancelling
// a job that already reached a terminal state is a no-op on the
// service side.
func (a *App) fireCancel(metadata []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.smp.Cancel(ctx, metadata); err != nil {
		a.logger.Warn().Err(err).Msg("Best-effort cancel failed")
	}
}
