// Package smp wraps the external measurement service CLI. The service
// owns all sampling and statistics; this package only speaks its
// submit/status/cancel/sync surface and treats the submission
// metadata it returns as an opaque blob.
package smp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"al.essio.dev/pkg/shellescape"
	"github.com/regressctl/regressctl/model"
	"github.com/rs/zerolog"
)

var (
	// ErrRejected means the service refused the job description.
	ErrRejected = errors.New("smp rejected submission")

	// ErrTransport covers transient failures talking to the service;
	// callers may retry these.
	ErrTransport = errors.New("smp transport error")
)

// SubmitRequest is the full parameter contract for one job.
type SubmitRequest struct {
	Params          model.Parameters
	BaselineImage   string
	ComparisonImage string
}

// Client is the measurement-service boundary. A fake implementation
// backs the lifecycle tests; the real one shells out to the smp
// binary.
type Client interface {
	Submit(ctx context.Context, req SubmitRequest) (metadata []byte, err error)
	Status(ctx context.Context, metadata []byte) (model.JobState, model.Outcome, error)
	Cancel(ctx context.Context, metadata []byte) error
	Sync(ctx context.Context, metadata []byte, outputDir string) error
}

// CLI drives the smp binary.
type CLI struct {
	logger zerolog.Logger
	binary string
}

// NewCLI returns a Client backed by the smp binary at the given path.
func NewCLI(logger zerolog.Logger, binary string) *CLI {
	return &CLI{logger: logger, binary: binary}
}

// SubmitArgs builds the argument list for a job submission. The
// metadata file path receives the opaque submission blob.
func SubmitArgs(req SubmitRequest, metadataFile string) []string {
	p := req.Params
	return []string{
		"job", "submit",
		"--team-id", p.TeamID,
		"--total-samples", strconv.Itoa(p.TotalSamples),
		"--warmup-seconds", strconv.Itoa(p.WarmupSeconds),
		"--replicas", strconv.Itoa(p.Replicas),
		"--p-value", strconv.FormatFloat(p.PValue, 'f', -1, 64),
		"--cpus", strconv.Itoa(p.CPUs),
		"--memory", p.Memory,
		"--baseline-image", req.BaselineImage,
		"--comparison-image", req.ComparisonImage,
		"--target-config-dir", p.TargetConfigDir,
		"--target-name", p.TargetName,
		"--submission-metadata", metadataFile,
	}
}

func (c *CLI) Submit(ctx context.Context, req SubmitRequest) ([]byte, error) {
	metadataFile, err := os.CreateTemp("", "smp-submission-*.json")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	metadataPath := metadataFile.Name()
	metadataFile.Close()
	defer os.Remove(metadataPath)

	args := SubmitArgs(req, metadataPath)
	if _, err := c.run(ctx, args); err != nil {
		// A clean non-zero exit from submit means the service looked
		// at the parameters and said no.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%w: %v", ErrRejected, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	metadata, err := os.ReadFile(metadataPath)
	if err != nil || len(metadata) == 0 {
		return nil, fmt.Errorf("%w: submission metadata not written: %v", ErrTransport, err)
	}
	return metadata, nil
}

// statusReply is the JSON the status subcommand prints on stdout.
type statusReply struct {
	State      string `json:"state"`
	Verdict    string `json:"verdict,omitempty"`
	CaptureRef string `json:"capture_ref,omitempty"`
}

func (c *CLI) Status(ctx context.Context, metadata []byte) (model.JobState, model.Outcome, error) {
	metadataPath, cleanup, err := c.writeMetadata(metadata)
	if err != nil {
		return "", model.Outcome{}, err
	}
	defer cleanup()

	output, err := c.run(ctx, []string{
		"job", "status",
		"--submission-metadata", metadataPath,
		"--wait=false",
	})
	if err != nil {
		return "", model.Outcome{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	var reply statusReply
	if err := json.Unmarshal(output, &reply); err != nil {
		return "", model.Outcome{}, fmt.Errorf("%w: unparseable status reply: %v", ErrTransport, err)
	}

	state := mapState(reply.State)
	return state, model.Outcome{
		State:      state,
		Verdict:    reply.Verdict,
		CaptureRef: reply.CaptureRef,
	}, nil
}

func (c *CLI) Cancel(ctx context.Context, metadata []byte) error {
	metadataPath, cleanup, err := c.writeMetadata(metadata)
	if err != nil {
		return err
	}
	defer cleanup()

	if _, err := c.run(ctx, []string{"job", "cancel", "--submission-metadata", metadataPath}); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}

func (c *CLI) Sync(ctx context.Context, metadata []byte, outputDir string) error {
	metadataPath, cleanup, err := c.writeMetadata(metadata)
	if err != nil {
		return err
	}
	defer cleanup()

	if _, err := c.run(ctx, []string{
		"job", "sync",
		"--submission-metadata", metadataPath,
		"--output-path", outputDir,
	}); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}

func (c *CLI) run(ctx context.Context, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.binary, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.logger.Debug().
		Str("command", shellescape.QuoteCommand(append([]string{c.binary}, args...))).
		Msg("Executing smp")

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("smp %s failed: %w (stderr: %s)", args[1], err, stderr.String())
	}
	return stdout.Bytes(), nil
}

func (c *CLI) writeMetadata(metadata []byte) (string, func(), error) {
	f, err := os.CreateTemp("", "smp-metadata-*.json")
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	path := f.Name()
	if _, err := f.Write(metadata); err != nil {
		f.Close()
		os.Remove(path)
		return "", nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	f.Close()
	return path, func() { os.Remove(path) }, nil
}

func mapState(s string) model.JobState {
	switch s {
	case "submitted", "queued", "pending":
		return model.StateSubmitted
	case "running":
		return model.StateRunning
	case "succeeded", "success", "passed":
		return model.StateSucceeded
	case "failed", "regression":
		return model.StateFailed
	case "canceled", "cancelled":
		return model.StateCancelled
	default:
		return model.StateRunning
	}
}
