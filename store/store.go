// Package store persists run state under the repository-local
// .regressctl directory: one directory per run holding the durable
// submission metadata, plus a per-scope registry of active runs used
// to supersede stale ones. Both survive process restarts, which is
// what lets a later status or cancel invocation reattach to a job.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/regressctl/regressctl/model"
	"github.com/rs/zerolog"
)

const dirName = ".regressctl"

// Store is a filesystem-backed run store rooted at <root>/.regressctl.
type Store struct {
	logger zerolog.Logger
	root   string
}

// New returns a Store rooted at repoRoot.
func New(logger zerolog.Logger, repoRoot string) *Store {
	return &Store{logger: logger, root: filepath.Join(repoRoot, dirName)}
}

func (s *Store) runDir(runID string) string {
	return filepath.Join(s.root, "runs", runID)
}

// SaveSubmission writes the submission record for its run. The write
// is atomic (tmp file + rename) so a crash mid-write cannot leave a
// half-written blob that would orphan the job.
func (s *Store) SaveSubmission(sub model.Submission) (string, error) {
	dir := s.runDir(sub.RunID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create run directory: %w", err)
	}

	data, err := json.MarshalIndent(sub, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal submission: %w", err)
	}

	path := filepath.Join(dir, "submission.json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write submission: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("failed to write submission: %w", err)
	}

	s.logger.Debug().Str("run_id", sub.RunID).Str("path", path).Msg("Persisted submission metadata")
	return dir, nil
}

// LoadSubmission reads the submission record for runID. runID may be
// a unique prefix of the full ID.
func (s *Store) LoadSubmission(runID string) (model.Submission, error) {
	matches, err := s.matchRuns(runID)
	if err != nil {
		return model.Submission{}, err
	}
	if len(matches) == 0 {
		return model.Submission{}, fmt.Errorf("no submission found for run %q", runID)
	}
	if len(matches) > 1 {
		return model.Submission{}, fmt.Errorf("run ID %q is ambiguous (%d matches)", runID, len(matches))
	}
	return s.readSubmission(matches[0])
}

// LoadLatest returns the most recently submitted run's record.
func (s *Store) LoadLatest() (model.Submission, error) {
	matches, err := s.matchRuns("")
	if err != nil {
		return model.Submission{}, err
	}
	var latest model.Submission
	for _, dir := range matches {
		sub, err := s.readSubmission(dir)
		if err != nil {
			s.logger.Warn().Err(err).Str("dir", dir).Msg("Failed to parse submission.json")
			continue
		}
		if latest.RunID == "" || sub.SubmittedAt.After(latest.SubmittedAt) {
			latest = sub
		}
	}
	if latest.RunID == "" {
		return model.Submission{}, fmt.Errorf("no submissions recorded")
	}
	return latest, nil
}

func (s *Store) matchRuns(prefix string) ([]string, error) {
	runsDir := filepath.Join(s.root, "runs")
	entries, err := os.ReadDir(runsDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read runs directory: %w", err)
	}

	var matches []string
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		if _, err := os.Stat(filepath.Join(runsDir, e.Name(), "submission.json")); err == nil {
			matches = append(matches, filepath.Join(runsDir, e.Name()))
		}
	}
	return matches, nil
}

func (s *Store) readSubmission(dir string) (model.Submission, error) {
	data, err := os.ReadFile(filepath.Join(dir, "submission.json"))
	if err != nil {
		return model.Submission{}, err
	}
	var sub model.Submission
	if err := json.Unmarshal(data, &sub); err != nil {
		return model.Submission{}, fmt.Errorf("failed to parse submission: %w", err)
	}
	return sub, nil
}

// CaptureDir returns (and creates) the directory relayed capture
// artifacts are downloaded into for runID.
func (s *Store) CaptureDir(runID string) (string, error) {
	dir := filepath.Join(s.runDir(runID), "captures")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create capture directory: %w", err)
	}
	return dir, nil
}

// ListActive returns the runs recorded active for scope. The registry
// is eventually consistent by design: a run that crashed without
// removing itself stays listed until the next run supersedes it.
func (s *Store) ListActive(scope string) ([]model.ActiveRun, error) {
	scopeDir := filepath.Join(s.root, "active", scope)
	entries, err := os.ReadDir(scopeDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read active registry: %w", err)
	}

	var runs []model.ActiveRun
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(scopeDir, e.Name()))
		if err != nil {
			s.logger.Warn().Err(err).Str("entry", e.Name()).Msg("Failed to read active run entry")
			continue
		}
		var run model.ActiveRun
		if err := json.Unmarshal(data, &run); err != nil {
			s.logger.Warn().Err(err).Str("entry", e.Name()).Msg("Failed to parse active run entry")
			continue
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// RecordActive registers run as the active run for its scope.
func (s *Store) RecordActive(run model.ActiveRun) error {
	scopeDir := filepath.Join(s.root, "active", run.Scope)
	if err := os.MkdirAll(scopeDir, 0755); err != nil {
		return fmt.Errorf("failed to create active registry: %w", err)
	}

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal active run: %w", err)
	}
	path := filepath.Join(scopeDir, run.RunID+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to record active run: %w", err)
	}
	return nil
}

// RemoveActive deletes the registry entry for runID under scope.
// Removing an entry that is already gone is not an error.
func (s *Store) RemoveActive(scope, runID string) error {
	path := filepath.Join(s.root, "active", scope, runID+".json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove active run entry: %w", err)
	}
	return nil
}
