package cli

// This file contains the build coordinator: two independent image
// builds, one per experiment stage, each from its own checkout.

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/regressctl/regressctl/cli/docker"
	"github.com/regressctl/regressctl/model"
)

type buildStage struct {
	stage model.Stage
	rev   string
	tag   string
}

// buildImages builds and pushes the baseline and comparison images
// concurrently. The stages share no mutable state: each gets its own
// detached worktree and pushes to its own tag, so the tag namespace
// is the only concurrency-safety mechanism needed. Both stages always
// run to a terminal outcome; if either fails the combined error names
// the failed stage(s) and nothing is ever submitted.
func (a *App) buildImages(ctx context.Context, id model.Identity) (baseline, comparison model.BuildResult, err error) {
	stages := []buildStage{
		{stage: model.StageBaseline, rev: id.BaselineRef, tag: id.BaselineTag},
		{stage: model.StageComparison, rev: id.ComparisonRef, tag: id.ComparisonTag},
	}

	results := make([]model.BuildResult, len(stages))
	errs := make([]error, len(stages))

	var wg sync.WaitGroup
	for i, st := range stages {
		wg.Add(1)
		go func(i int, st buildStage) {
			defer wg.Done()
			results[i], errs[i] = a.buildStage(ctx, st)
		}(i, st)
	}
	wg.Wait()

	for i, st := range stages {
		if errs[i] != nil {
			err = errors.Join(err, fmt.Errorf("%w: stage %s: %v", ErrBuildFailed, st.stage, errs[i]))
		}
	}
	if err != nil {
		return model.BuildResult{}, model.BuildResult{}, err
	}
	return results[0], results[1], nil
}

func (a *App) buildStage(ctx context.Context, st buildStage) (model.BuildResult, error) {
	image := a.cfg.Build.ImageRepo + ":" + st.tag

	a.logger.Info().
		Str("stage", string(st.stage)).
		Str("rev", st.rev).
		Str("image", image).
		Msg("Building stage image")

	checkout, err := os.MkdirTemp("", fmt.Sprintf("regressctl-%s-*", st.stage))
	if err != nil {
		return model.BuildResult{}, fmt.Errorf("failed to create checkout directory: %w", err)
	}
	defer os.RemoveAll(checkout)

	// MkdirTemp creates the directory but worktree add wants to
	// create it itself.
	checkoutDir := filepath.Join(checkout, "src")

	if err := a.git.AddWorktree(ctx, checkoutDir, st.rev); err != nil {
		return model.BuildResult{}, err
	}
	defer func() {
		if err := a.git.RemoveWorktree(checkoutDir); err != nil {
			a.logger.Warn().Err(err).Str("stage", string(st.stage)).Msg("Failed to remove worktree")
		}
	}()

	digest, err := a.builder.BuildAndPush(ctx, docker.BuildOptions{
		ContextDir: checkoutDir,
		Dockerfile: a.cfg.Build.Dockerfile,
		Image:      image,
	})
	if err != nil {
		return model.BuildResult{}, err
	}

	a.logger.Info().
		Str("stage", string(st.stage)).
		Str("image", image).
		Str("digest", digest).
		Msg("Stage image pushed")

	return model.BuildResult{
		Stage:    st.stage,
		ImageRef: image,
		Digest:   digest,
	}, nil
}
