package cli

// Hand-written fakes for the external collaborators, shared by the
// package tests.

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/regressctl/regressctl/cli/docker"
	"github.com/regressctl/regressctl/cli/smp"
	"github.com/regressctl/regressctl/model"
)

func testConfig() Config {
	var cfg Config
	cfg.Experiment.WarmupSeconds = 45
	cfg.Experiment.Replicas = 10
	cfg.Experiment.TotalSamples = 600
	cfg.Experiment.PValue = 0.1
	cfg.Experiment.CPUs = 7
	cfg.Experiment.Memory = "12g"
	cfg.Smp.TeamID = "perf-team"
	cfg.Build.ImageRepo = "registry.example.com/perf"
	cfg.Build.Dockerfile = "Dockerfile"
	cfg.Poll.Interval = 5 * time.Millisecond
	cfg.Poll.Timeout = time.Second
	return cfg
}

type fakeGit struct {
	revs map[string]string
}

func (g *fakeGit) Resolve(_ context.Context, ref string) (string, error) {
	if rev, ok := g.revs[ref]; ok {
		return rev, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidReference, ref)
}

func (g *fakeGit) RepoRoot() (string, error) { return os.TempDir(), nil }

func (g *fakeGit) AddWorktree(_ context.Context, dir, _ string) error {
	return os.MkdirAll(dir, 0755)
}

func (g *fakeGit) RemoveWorktree(dir string) error { return os.RemoveAll(dir) }

type fakeBuilder struct {
	mu    sync.Mutex
	calls []docker.BuildOptions
	// fail maps image references to the error their build should
	// return
	fail map[string]error
}

func (b *fakeBuilder) BuildAndPush(_ context.Context, opts docker.BuildOptions) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, opts)
	if err := b.fail[opts.Image]; err != nil {
		return "", err
	}
	return "sha256:" + opts.Image, nil
}

func (b *fakeBuilder) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

// fakeSmp scripts the measurement service. states is consumed one
// entry per successful Status call; the last entry repeats.
type fakeSmp struct {
	submitCalls int
	submitErr   error
	metadata    []byte

	statusCalls int
	statusErrs  []error
	states      []model.JobState
	verdict     string

	cancelCalls    int
	cancelErr      error
	cancelledBlobs [][]byte

	syncCalls int
	syncErr   error
	syncFiles map[string][]byte
}

func (f *fakeSmp) Submit(context.Context, smp.SubmitRequest) ([]byte, error) {
	f.submitCalls++
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	if f.metadata == nil {
		return []byte(`{"job":"fake"}`), nil
	}
	return f.metadata, nil
}

func (f *fakeSmp) Status(context.Context, []byte) (model.JobState, model.Outcome, error) {
	f.statusCalls++
	if len(f.statusErrs) > 0 {
		err := f.statusErrs[0]
		f.statusErrs = f.statusErrs[1:]
		if err != nil {
			return "", model.Outcome{}, err
		}
	}
	state := f.states[len(f.states)-1]
	if f.statusCalls <= len(f.states) {
		state = f.states[f.statusCalls-1]
	}
	return state, model.Outcome{State: state, Verdict: f.verdict}, nil
}

func (f *fakeSmp) Cancel(_ context.Context, metadata []byte) error {
	f.cancelCalls++
	f.cancelledBlobs = append(f.cancelledBlobs, metadata)
	return f.cancelErr
}

func (f *fakeSmp) Sync(_ context.Context, _ []byte, outputDir string) error {
	f.syncCalls++
	if f.syncErr != nil {
		return f.syncErr
	}
	for name, data := range f.syncFiles {
		if err := os.WriteFile(outputDir+"/"+name, data, 0644); err != nil {
			return err
		}
	}
	return nil
}

type fakeRegistry struct {
	active map[string][]model.ActiveRun
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{active: make(map[string][]model.ActiveRun)}
}

func (r *fakeRegistry) ListActive(scope string) ([]model.ActiveRun, error) {
	return r.active[scope], nil
}

func (r *fakeRegistry) RecordActive(run model.ActiveRun) error {
	for i, existing := range r.active[run.Scope] {
		if existing.RunID == run.RunID {
			r.active[run.Scope][i] = run
			return nil
		}
	}
	r.active[run.Scope] = append(r.active[run.Scope], run)
	return nil
}

func (r *fakeRegistry) RemoveActive(scope, runID string) error {
	runs := r.active[scope]
	for i, run := range runs {
		if run.RunID == runID {
			r.active[scope] = append(runs[:i], runs[i+1:]...)
			return nil
		}
	}
	return nil
}

type fakeStore struct {
	subs       map[string]model.Submission
	saveErr    error
	captureDir string
}

func newFakeStore(t interface{ TempDir() string }) *fakeStore {
	return &fakeStore{
		subs:       make(map[string]model.Submission),
		captureDir: t.TempDir(),
	}
}

func (s *fakeStore) SaveSubmission(sub model.Submission) (string, error) {
	if s.saveErr != nil {
		return "", s.saveErr
	}
	s.subs[sub.RunID] = sub
	return s.captureDir, nil
}

func (s *fakeStore) LoadSubmission(runID string) (model.Submission, error) {
	sub, ok := s.subs[runID]
	if !ok {
		return model.Submission{}, fmt.Errorf("no submission found for run %q", runID)
	}
	return sub, nil
}

func (s *fakeStore) LoadLatest() (model.Submission, error) {
	var latest model.Submission
	for _, sub := range s.subs {
		if latest.RunID == "" || sub.SubmittedAt.After(latest.SubmittedAt) {
			latest = sub
		}
	}
	if latest.RunID == "" {
		return model.Submission{}, fmt.Errorf("no submissions recorded")
	}
	return latest, nil
}

func (s *fakeStore) CaptureDir(string) (string, error) { return s.captureDir, nil }

type fakeUploader struct {
	objects map[string]string
	err     error
}

func (u *fakeUploader) Upload(_ context.Context, bucket, objectName, filePath string) error {
	if u.err != nil {
		return u.err
	}
	if u.objects == nil {
		u.objects = make(map[string]string)
	}
	u.objects[bucket+"/"+objectName] = filePath
	return nil
}
