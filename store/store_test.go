package store

import (
	"testing"
	"time"

	"github.com/regressctl/regressctl/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(zerolog.Nop(), t.TempDir())
}

func testSubmission(runID string, submittedAt time.Time) model.Submission {
	return model.Submission{
		RunID:       runID,
		Scope:       "42",
		SubmittedAt: submittedAt,
		Metadata:    []byte(`{"job":"` + runID + `"}`),
	}
}

func TestSubmissionRoundTrip(t *testing.T) {
	s := newTestStore(t)

	sub := testSubmission("0b5fa2a3-9f4b-4f39-9f2e-2a1c6f6de111", time.Now())
	_, err := s.SaveSubmission(sub)
	require.NoError(t, err)

	loaded, err := s.LoadSubmission(sub.RunID)
	require.NoError(t, err)
	assert.Equal(t, sub.RunID, loaded.RunID)
	assert.Equal(t, sub.Scope, loaded.Scope)
	assert.Equal(t, sub.Metadata, loaded.Metadata)
}

func TestLoadSubmissionByPrefix(t *testing.T) {
	s := newTestStore(t)

	_, err := s.SaveSubmission(testSubmission("0b5fa2a3-9f4b-4f39-9f2e-2a1c6f6de111", time.Now()))
	require.NoError(t, err)
	_, err = s.SaveSubmission(testSubmission("7c1d99e0-11aa-4a40-8ad2-9b9f5c3de222", time.Now()))
	require.NoError(t, err)

	loaded, err := s.LoadSubmission("0b5f")
	require.NoError(t, err)
	assert.Equal(t, "0b5fa2a3-9f4b-4f39-9f2e-2a1c6f6de111", loaded.RunID)

	_, err = s.LoadSubmission("missing")
	assert.Error(t, err)
}

func TestLoadSubmissionAmbiguousPrefix(t *testing.T) {
	s := newTestStore(t)

	_, err := s.SaveSubmission(testSubmission("aa11", time.Now()))
	require.NoError(t, err)
	_, err = s.SaveSubmission(testSubmission("aa22", time.Now()))
	require.NoError(t, err)

	_, err = s.LoadSubmission("aa")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ambiguous")
}

func TestLoadLatest(t *testing.T) {
	s := newTestStore(t)

	_, err := s.LoadLatest()
	require.Error(t, err)

	base := time.Now().Add(-time.Hour)
	_, err = s.SaveSubmission(testSubmission("older", base))
	require.NoError(t, err)
	_, err = s.SaveSubmission(testSubmission("newer", base.Add(30*time.Minute)))
	require.NoError(t, err)

	latest, err := s.LoadLatest()
	require.NoError(t, err)
	assert.Equal(t, "newer", latest.RunID)
}

func TestActiveRegistryRoundTrip(t *testing.T) {
	s := newTestStore(t)

	// Empty scope lists cleanly.
	runs, err := s.ListActive("42")
	require.NoError(t, err)
	assert.Empty(t, runs)

	run := model.ActiveRun{
		RunID:     "run-1",
		Scope:     "42",
		StartedAt: time.Now(),
		Metadata:  []byte(`{"job":"first"}`),
	}
	require.NoError(t, s.RecordActive(run))

	runs, err = s.ListActive("42")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].RunID)
	assert.Equal(t, []byte(`{"job":"first"}`), runs[0].Metadata)

	// Scopes are isolated.
	other, err := s.ListActive("7")
	require.NoError(t, err)
	assert.Empty(t, other)

	require.NoError(t, s.RemoveActive("42", "run-1"))
	runs, err = s.ListActive("42")
	require.NoError(t, err)
	assert.Empty(t, runs)

	// Removing again is not an error.
	require.NoError(t, s.RemoveActive("42", "run-1"))
}

func TestRecordActiveUpdatesExistingEntry(t *testing.T) {
	s := newTestStore(t)

	run := model.ActiveRun{RunID: "run-1", Scope: "42", StartedAt: time.Now()}
	require.NoError(t, s.RecordActive(run))

	run.Metadata = []byte(`{"job":"first"}`)
	require.NoError(t, s.RecordActive(run))

	runs, err := s.ListActive("42")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, []byte(`{"job":"first"}`), runs[0].Metadata)
}

func TestCaptureDir(t *testing.T) {
	s := newTestStore(t)

	dir, err := s.CaptureDir("run-1")
	require.NoError(t, err)
	assert.DirExists(t, dir)

	// Idempotent.
	again, err := s.CaptureDir("run-1")
	require.NoError(t, err)
	assert.Equal(t, dir, again)
}
