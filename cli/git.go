package cli

// This file contains Git integration utilities for resolving
// references to exact revisions and materializing checkouts.

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// gitService is the narrow view of git the orchestrator needs:
// exact ref resolution plus per-stage worktree checkouts.
type gitService interface {
	Resolve(ctx context.Context, ref string) (string, error)
	RepoRoot() (string, error)
	AddWorktree(ctx context.Context, dir, rev string) error
	RemoveWorktree(dir string) error
}

type gitClient struct{}

// Resolve resolves ref to its exact commit hash. Symbolic resolution
// is not good enough here: tags derived from the result must stay
// content-stable even if the ref moves later.
func (gitClient) Resolve(ctx context.Context, ref string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--verify", ref+"^{commit}")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidReference, ref, err)
	}
	return strings.TrimSpace(string(output)), nil
}

// RepoRoot returns the top-level directory of the enclosing git
// repository.
func (gitClient) RepoRoot() (string, error) {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("not in a git repository: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// AddWorktree checks out rev into dir as a detached worktree, giving a
// build stage its own working tree without disturbing the main one.
func (gitClient) AddWorktree(ctx context.Context, dir, rev string) error {
	cmd := exec.CommandContext(ctx, "git", "worktree", "add", "--detach", dir, rev)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to add worktree for %s: %w (output: %s)", rev, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// RemoveWorktree tears down a worktree created by AddWorktree.
func (gitClient) RemoveWorktree(dir string) error {
	cmd := exec.Command("git", "worktree", "remove", "--force", dir)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to remove worktree %s: %w (output: %s)", dir, err, strings.TrimSpace(string(output)))
	}
	return nil
}
