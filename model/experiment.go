package model

import (
	"fmt"
	"time"
)

// Stage identifies one side of a regression experiment.
type Stage string

const (
	StageBaseline   Stage = "baseline"
	StageComparison Stage = "comparison"
)

// Identity holds the resolved, immutable identity of one experiment run.
// It is computed once, before any external side effect, and reused
// everywhere afterwards so that a moving merge target cannot split the
// run across two different baselines.
type Identity struct {
	// Unique ID for this run
	RunID string `json:"run_id"`
	// Logical scope the run belongs to (e.g. a pull request number);
	// only one run per scope should stay active
	Scope string `json:"scope"`
	// Revision that triggered the run (e.g. the PR head commit)
	TriggerRef string `json:"trigger_ref"`
	// Exact revision the merge target resolved to at resolution time
	BaselineRef string `json:"baseline_ref"`
	// Revision under test; always equals TriggerRef
	ComparisonRef string `json:"comparison_ref"`
	// Image tag for the baseline build: <trigger>-<baseline>
	BaselineTag string `json:"baseline_tag"`
	// Image tag for the comparison build: <trigger>-<trigger>
	ComparisonTag string `json:"comparison_tag"`
}

// Tag composes the image tag for a (trigger, target) revision pair.
// The composition is a pure string join and therefore deterministic;
// the comparison tag degenerates to <trigger>-<trigger>, which is the
// documented marker for "comparison is the trigger revision itself".
func Tag(triggerRef, targetRef string) string {
	return triggerRef + "-" + targetRef
}

// Parameters is the measurement parameter bundle. It is resolved once
// from configuration before submission and must not change for the
// lifetime of the job.
type Parameters struct {
	// Seconds of warm-up excluded from statistics
	WarmupSeconds int `json:"warmup_seconds"`
	// Number of independent measurement replicas
	Replicas int `json:"replicas"`
	// Total sample budget across all replicas
	TotalSamples int `json:"total_samples"`
	// Significance threshold for regression detection, in (0,1)
	PValue float64 `json:"p_value"`
	// CPU count of the measurement environment
	CPUs int `json:"cpus"`
	// Memory limit of the measurement environment (e.g. "12g")
	Memory string `json:"memory"`
	// Team identifier passed to the measurement service
	TeamID string `json:"team_id"`
	// Name of the target system under test
	TargetName string `json:"target_name"`
	// Directory with the target's measurement configuration
	TargetConfigDir string `json:"target_config_dir"`
}

// BuildResult is the outcome of one successful build stage.
type BuildResult struct {
	// Stage this image belongs to
	Stage Stage `json:"stage"`
	// Pushed image reference including the tag
	ImageRef string `json:"image_ref"`
	// Content digest of the pushed image, if the builder reported one
	Digest string `json:"digest,omitempty"`
}

// JobState is the lifecycle state of a submitted measurement job.
// Transitions are monotonic: once a terminal state is reached the job
// never leaves it.
type JobState string

const (
	StateSubmitted JobState = "submitted"
	StateRunning   JobState = "running"
	StateSucceeded JobState = "succeeded"
	StateFailed    JobState = "failed"
	StateTimedOut  JobState = "timed_out"
	StateCancelled JobState = "cancelled"
)

// Terminal reports whether no further transition can occur from s.
func (s JobState) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateTimedOut, StateCancelled:
		return true
	}
	return false
}

// Submission is the durable handle for a submitted job. The Metadata
// blob is opaque to us; losing it orphans the job, so it is written to
// disk immediately after submit and before the first poll.
type Submission struct {
	// Run this submission belongs to
	RunID string `json:"run_id"`
	// Scope of the owning run
	Scope string `json:"scope"`
	// Identity snapshot at submission time
	Identity Identity `json:"identity"`
	// Timestamp of the submit call
	SubmittedAt time.Time `json:"submitted_at"`
	// Opaque submission metadata returned by the measurement service
	Metadata []byte `json:"metadata"`
}

// Outcome is the terminal result of a job as reported by the
// measurement service.
type Outcome struct {
	// Terminal state the job ended in
	State JobState `json:"state"`
	// Human-readable verdict from the statistics engine
	Verdict string `json:"verdict,omitempty"`
	// Reference to the capture artifacts held by the service; the
	// captures themselves are fetched separately, best-effort
	CaptureRef string `json:"capture_ref,omitempty"`
}

// ActiveRun is a registry entry for a run that has not reached a
// terminal state yet.
type ActiveRun struct {
	// Run identifier
	RunID string `json:"run_id"`
	// Scope the run was recorded under
	Scope string `json:"scope"`
	// When the run was recorded
	StartedAt time.Time `json:"started_at"`
	// Submission metadata, present once the run has submitted a job
	Metadata []byte `json:"metadata,omitempty"`
}

func (i Identity) String() string {
	return fmt.Sprintf("run %s (scope %s, trigger %s, baseline %s)",
		i.RunID, i.Scope, i.TriggerRef, i.BaselineRef)
}
