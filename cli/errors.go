package cli

// This file defines the error kinds the orchestrator reports. Every
// non-successful run surfaces exactly one of these, wrapped with
// context via fmt.Errorf and %w.

import "errors"

var (
	// ErrInvalidReference is returned when a git reference cannot be
	// resolved to a concrete revision.
	ErrInvalidReference = errors.New("invalid reference")

	// ErrInvalidConfiguration is returned when a configured parameter
	// is outside its declared domain.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrBuildFailed is returned when an image build stage fails;
	// wrapping errors name the stage.
	ErrBuildFailed = errors.New("build failed")

	// ErrSubmissionRejected is returned when the measurement service
	// rejects the job description.
	ErrSubmissionRejected = errors.New("submission rejected")

	// ErrPollFailed is returned once the transient retry budget for
	// status polls is exhausted.
	ErrPollFailed = errors.New("poll failed")

	// ErrOrphaned is returned when the persisted submission metadata
	// is missing or unreadable; there is nothing left to poll or
	// cancel against, so this is fatal and never retried.
	ErrOrphaned = errors.New("submission metadata lost, job orphaned")

	// ErrTimedOut is returned when the job does not reach a terminal
	// state before the wall-clock deadline.
	ErrTimedOut = errors.New("experiment timed out")

	// ErrCancelled is returned when the run is aborted by an external
	// signal while waiting for the job.
	ErrCancelled = errors.New("experiment cancelled")
)
