package cli

// This file contains the configuration surface for experiment
// parameters and external service endpoints.

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/regressctl/regressctl/model"
	"gopkg.in/yaml.v3"
)

// Config bundles everything resolved before a run starts. Parameters
// are validated here, once, so that nothing is built or submitted with
// an out-of-domain value.
type Config struct {
	Experiment struct {
		WarmupSeconds int     `yaml:"warmup_seconds"`
		Replicas      int     `yaml:"replicas"`
		TotalSamples  int     `yaml:"total_samples"`
		PValue        float64 `yaml:"p_value"`
		CPUs          int     `yaml:"cpus"`
		Memory        string  `yaml:"memory"`
		// Name of the target system under test
		TargetName string `yaml:"target_name"`
		// Directory with the per-target measurement configuration
		TargetConfigDir string `yaml:"target_config_dir"`
	} `yaml:"experiment"`

	Smp struct {
		// Path to the measurement service CLI binary
		Binary string `yaml:"binary"`
		TeamID string `yaml:"team_id"`
	} `yaml:"smp"`

	Build struct {
		// Image repository builds are pushed to, e.g. "registry.example.com/perf"
		ImageRepo string `yaml:"image_repo"`
		// Dockerfile path relative to the checkout
		Dockerfile string `yaml:"dockerfile"`
	} `yaml:"build"`

	Relay struct {
		Endpoint  string `yaml:"endpoint"`
		Bucket    string `yaml:"bucket"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		UseSSL    bool   `yaml:"use_ssl"`
	} `yaml:"relay"`

	Poll struct {
		Interval time.Duration `yaml:"interval"`
		Timeout  time.Duration `yaml:"timeout"`
	} `yaml:"poll"`
}

// LoadConfig reads the YAML config at path (if it exists), applies
// REGRESSCTL_* environment overrides and validates the result.
func LoadConfig(path string) (Config, error) {
	var c Config

	c.Experiment.WarmupSeconds = 45
	c.Experiment.Replicas = 10
	c.Experiment.TotalSamples = 600
	c.Experiment.PValue = 0.1
	c.Experiment.CPUs = 7
	c.Experiment.Memory = "12g"
	c.Experiment.TargetConfigDir = "regression/cases"
	c.Smp.Binary = "smp"
	c.Build.Dockerfile = "Dockerfile"
	c.Poll.Interval = 60 * time.Second
	c.Poll.Timeout = 90 * time.Minute

	if path != "" {
		b, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(b, &c); err != nil {
				return c, fmt.Errorf("%w: parsing %s: %v", ErrInvalidConfiguration, path, err)
			}
		} else if !os.IsNotExist(err) {
			return c, fmt.Errorf("%w: reading %s: %v", ErrInvalidConfiguration, path, err)
		}
	}

	applyEnv(&c)

	if err := c.validate(); err != nil {
		return c, err
	}
	return c, nil
}

func applyEnv(c *Config) {
	if v := os.Getenv("REGRESSCTL_SMP_BINARY"); v != "" {
		c.Smp.Binary = v
	}
	if v := os.Getenv("REGRESSCTL_TEAM_ID"); v != "" {
		c.Smp.TeamID = v
	}
	if v := os.Getenv("REGRESSCTL_IMAGE_REPO"); v != "" {
		c.Build.ImageRepo = v
	}
	if v := os.Getenv("REGRESSCTL_RELAY_ACCESS_KEY"); v != "" {
		c.Relay.AccessKey = v
	}
	if v := os.Getenv("REGRESSCTL_RELAY_SECRET_KEY"); v != "" {
		c.Relay.SecretKey = v
	}
	if v := os.Getenv("REGRESSCTL_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Poll.Interval = d
		}
	}
	if v := os.Getenv("REGRESSCTL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Poll.Timeout = d
		}
	}
	if v := os.Getenv("REGRESSCTL_P_VALUE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Experiment.PValue = f
		}
	}
}

func (c Config) validate() error {
	if c.Experiment.WarmupSeconds < 0 {
		return fmt.Errorf("%w: warmup_seconds must be >= 0, got %d", ErrInvalidConfiguration, c.Experiment.WarmupSeconds)
	}
	if c.Experiment.Replicas < 1 {
		return fmt.Errorf("%w: replicas must be >= 1, got %d", ErrInvalidConfiguration, c.Experiment.Replicas)
	}
	if c.Experiment.TotalSamples < 1 {
		return fmt.Errorf("%w: total_samples must be >= 1, got %d", ErrInvalidConfiguration, c.Experiment.TotalSamples)
	}
	if c.Experiment.PValue <= 0 || c.Experiment.PValue >= 1 {
		return fmt.Errorf("%w: p_value must be in (0,1), got %g", ErrInvalidConfiguration, c.Experiment.PValue)
	}
	if c.Experiment.CPUs < 1 {
		return fmt.Errorf("%w: cpus must be >= 1, got %d", ErrInvalidConfiguration, c.Experiment.CPUs)
	}
	if c.Experiment.Memory == "" {
		return fmt.Errorf("%w: memory limit is required", ErrInvalidConfiguration)
	}
	if c.Smp.TeamID == "" {
		return fmt.Errorf("%w: smp team_id is required", ErrInvalidConfiguration)
	}
	if c.Build.ImageRepo == "" {
		return fmt.Errorf("%w: build image_repo is required", ErrInvalidConfiguration)
	}
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive", ErrInvalidConfiguration)
	}
	if c.Poll.Timeout <= 0 {
		return fmt.Errorf("%w: poll timeout must be positive", ErrInvalidConfiguration)
	}
	return nil
}

// Parameters materializes the immutable parameter bundle submitted
// with the job.
func (c Config) Parameters() model.Parameters {
	return model.Parameters{
		WarmupSeconds:   c.Experiment.WarmupSeconds,
		Replicas:        c.Experiment.Replicas,
		TotalSamples:    c.Experiment.TotalSamples,
		PValue:          c.Experiment.PValue,
		CPUs:            c.Experiment.CPUs,
		Memory:          c.Experiment.Memory,
		TeamID:          c.Smp.TeamID,
		TargetName:      c.Experiment.TargetName,
		TargetConfigDir: c.Experiment.TargetConfigDir,
	}
}
