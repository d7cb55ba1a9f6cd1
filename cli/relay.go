package cli

// This file contains the artifact relay: fetching capture artifacts
// from the measurement service and uploading them to durable object
// storage. The whole path is best-effort; a relay failure never
// changes the experiment outcome.

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/pprof/profile"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/regressctl/regressctl/model"
)

// objectUploader is the durable-storage boundary for relayed
// artifacts.
type objectUploader interface {
	Upload(ctx context.Context, bucket, objectName, filePath string) error
}

type minioUploader struct {
	client *minio.Client
}

func newMinioUploader(cfg Config) (*minioUploader, error) {
	client, err := minio.New(cfg.Relay.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Relay.AccessKey, cfg.Relay.SecretKey, ""),
		Secure: cfg.Relay.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}
	return &minioUploader{client: client}, nil
}

func (u *minioUploader) Upload(ctx context.Context, bucket, objectName, filePath string) error {
	_, err := u.client.FPutObject(ctx, bucket, objectName, filePath, minio.PutObjectOptions{})
	return err
}

// relayArtifacts syncs the job's captures into the run directory and
// uploads them. Returns the storage location, or skipped=true when the
// relay was bypassed or degraded on failure.
// Without configured object storage the captures still land in the
// local run directory.
func (a *App) relayArtifacts(ctx context.Context, sub model.Submission) (location string, skipped bool) {
	captureDir, err := a.store.CaptureDir(sub.RunID)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Artifact relay skipped")
		return "", true
	}

	if err := a.smp.Sync(ctx, sub.Metadata, captureDir); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to sync captures from measurement service, relay skipped")
		return "", true
	}

	if a.uploader == nil {
		a.logger.Info().Str("dir", captureDir).Msg("No relay storage configured, captures kept locally")
		return captureDir, false
	}

	uploaded := 0
	err = filepath.WalkDir(captureDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}

		if strings.HasSuffix(path, ".pb.gz") && !a.validProfile(path) {
			a.logger.Warn().Str("file", path).Msg("Capture does not parse as a pprof profile, not uploading")
			return nil
		}

		rel, err := filepath.Rel(captureDir, path)
		if err != nil {
			return err
		}
		objectName := sub.RunID + "/" + filepath.ToSlash(rel)
		if err := a.uploader.Upload(ctx, a.cfg.Relay.Bucket, objectName, path); err != nil {
			return fmt.Errorf("failed to upload %s: %w", objectName, err)
		}
		uploaded++
		return nil
	})
	if err != nil {
		a.logger.Warn().Err(err).Msg("Artifact relay failed, results remain with the measurement service")
		return "", true
	}

	location = fmt.Sprintf("s3://%s/%s", a.cfg.Relay.Bucket, sub.RunID)
	a.logger.Info().
		Int("files", uploaded).
		Str("location", location).
		Msg("Relayed capture artifacts")
	return location, false
}

// validProfile reports whether the file parses as a pprof profile.
// Truncated downloads show up here before they waste bucket space.
func (a *App) validProfile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	_, err = profile.Parse(f)
	return err == nil
}
