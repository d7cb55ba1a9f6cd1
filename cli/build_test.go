package cli

import (
	"context"
	"errors"
	"testing"

	"github.com/regressctl/regressctl/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIdentity() model.Identity {
	return model.Identity{
		RunID:         "run-1",
		Scope:         "42",
		TriggerRef:    "abc123",
		BaselineRef:   "def456",
		ComparisonRef: "abc123",
		BaselineTag:   "abc123-def456",
		ComparisonTag: "abc123-abc123",
	}
}

func TestBuildImagesBothStages(t *testing.T) {
	builder := &fakeBuilder{}
	a := &App{
		logger:  zerolog.Nop(),
		cfg:     testConfig(),
		git:     &fakeGit{},
		builder: builder,
	}

	baseline, comparison, err := a.buildImages(context.Background(), testIdentity())
	require.NoError(t, err)

	assert.Equal(t, model.StageBaseline, baseline.Stage)
	assert.Equal(t, "registry.example.com/perf:abc123-def456", baseline.ImageRef)
	assert.Equal(t, model.StageComparison, comparison.Stage)
	assert.Equal(t, "registry.example.com/perf:abc123-abc123", comparison.ImageRef)
	assert.Equal(t, 2, builder.callCount())
}

func TestBuildImagesOneStageFails(t *testing.T) {
	tests := []struct {
		name      string
		failImage string
		wantStage string
	}{
		{
			name:      "baseline fails",
			failImage: "registry.example.com/perf:abc123-def456",
			wantStage: "baseline",
		},
		{
			name:      "comparison fails",
			failImage: "registry.example.com/perf:abc123-abc123",
			wantStage: "comparison",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			builder := &fakeBuilder{
				fail: map[string]error{tt.failImage: errors.New("push denied")},
			}
			a := &App{
				logger:  zerolog.Nop(),
				cfg:     testConfig(),
				git:     &fakeGit{},
				builder: builder,
			}

			_, _, err := a.buildImages(context.Background(), testIdentity())
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrBuildFailed)
			assert.Contains(t, err.Error(), tt.wantStage)
			// The other stage still ran to its own terminal outcome.
			assert.Equal(t, 2, builder.callCount())
		})
	}
}

func TestBuildImagesBothStagesFail(t *testing.T) {
	builder := &fakeBuilder{
		fail: map[string]error{
			"registry.example.com/perf:abc123-def456": errors.New("baseline boom"),
			"registry.example.com/perf:abc123-abc123": errors.New("comparison boom"),
		},
	}
	a := &App{
		logger:  zerolog.Nop(),
		cfg:     testConfig(),
		git:     &fakeGit{},
		builder: builder,
	}

	_, _, err := a.buildImages(context.Background(), testIdentity())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "baseline")
	assert.Contains(t, err.Error(), "comparison")
}

// A build failure on either stage must short-circuit the pipeline: the
// measurement service never sees a job with only one image ready.
func TestBuildFailureSkipsSubmission(t *testing.T) {
	service := &fakeSmp{states: []model.JobState{model.StateSucceeded}}
	a := &App{
		logger: zerolog.Nop(),
		cfg:    testConfig(),
		git: &fakeGit{revs: map[string]string{
			"abc123": "abc123",
			"main":   "def456",
		}},
		builder: &fakeBuilder{
			fail: map[string]error{
				"registry.example.com/perf:abc123-abc123": errors.New("comparison boom"),
			},
		},
		smp:      service,
		registry: newFakeRegistry(),
		store:    newFakeStore(t),
	}

	err := a.execute(context.Background(), "abc123", "main", "42", true)
	require.ErrorIs(t, err, ErrBuildFailed)
	assert.Equal(t, 0, service.submitCalls)
}
