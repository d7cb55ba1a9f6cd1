// Package docker wraps the external image builder. Building and
// pushing is delegated entirely to `docker buildx`; this package only
// constructs the invocation and reads back the pushed digest.
package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"al.essio.dev/pkg/shellescape"
	"github.com/rs/zerolog"
)

// BuildOptions describes one build-and-push invocation.
type BuildOptions struct {
	ContextDir string // build context (a per-stage checkout)
	Dockerfile string // Dockerfile path relative to the context
	Image      string // full image reference including the tag
}

// Builder is the external image-builder boundary. Implementations
// must be idempotent per image reference: rebuilding the same tag
// yields the same published artifact.
type Builder interface {
	BuildAndPush(ctx context.Context, opts BuildOptions) (digest string, err error)
}

// CLI builds images by shelling out to the docker binary.
type CLI struct {
	logger zerolog.Logger
	binary string
}

// NewCLI returns a Builder backed by the local docker binary.
func NewCLI(logger zerolog.Logger) *CLI {
	return &CLI{logger: logger, binary: "docker"}
}

// BuildArgs builds the docker buildx argument list for opts.
// metadataFile receives the build metadata JSON, which carries the
// pushed digest.
func BuildArgs(opts BuildOptions, metadataFile string) []string {
	args := []string{"buildx", "build", "--push"}
	args = append(args, "--tag", opts.Image)
	if opts.Dockerfile != "" {
		args = append(args, "--file", filepath.Join(opts.ContextDir, opts.Dockerfile))
	}
	args = append(args, "--metadata-file", metadataFile)
	args = append(args, opts.ContextDir)
	return args
}

func (c *CLI) BuildAndPush(ctx context.Context, opts BuildOptions) (string, error) {
	metadataFile, err := os.CreateTemp("", "regressctl-build-*.json")
	if err != nil {
		return "", fmt.Errorf("failed to create metadata file: %w", err)
	}
	metadataPath := metadataFile.Name()
	metadataFile.Close()
	defer os.Remove(metadataPath)

	args := BuildArgs(opts, metadataPath)
	cmd := exec.CommandContext(ctx, c.binary, args...)

	var stderr bytes.Buffer
	cmd.Stdout = os.Stdout
	cmd.Stderr = &stderr

	c.logger.Debug().
		Str("command", shellescape.QuoteCommand(append([]string{c.binary}, args...))).
		Msg("Executing docker buildx build")

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("docker build failed for %s: %w (stderr: %s)", opts.Image, err, stderr.String())
	}

	digest, err := readDigest(metadataPath)
	if err != nil {
		// The push succeeded; a missing digest only degrades the
		// build record, so log and carry on without one.
		c.logger.Warn().Err(err).Str("image", opts.Image).Msg("Failed to read image digest from build metadata")
		return "", nil
	}
	return digest, nil
}

func readDigest(metadataPath string) (string, error) {
	data, err := os.ReadFile(metadataPath)
	if err != nil {
		return "", err
	}
	var metadata struct {
		Digest string `json:"containerimage.digest"`
	}
	if err := json.Unmarshal(data, &metadata); err != nil {
		return "", fmt.Errorf("failed to parse build metadata: %w", err)
	}
	return metadata.Digest, nil
}
