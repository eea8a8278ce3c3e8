package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/autopilot/internal/platform/env"
)

// Config describes the MinIO endpoint used for execution reports. An empty
// Endpoint disables the archive.
type Config struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Region        string
	UseSSL        bool
	BucketReports string
	// RetentionDays expires archived reports; zero keeps them forever.
	RetentionDays int
}

func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != ""
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("AUTOPILOT_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	retention, err := env.Int("AUTOPILOT_REPORT_RETENTION_DAYS", 0)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:      env.String("AUTOPILOT_MINIO_ENDPOINT", ""),
		AccessKey:     env.String("AUTOPILOT_MINIO_ACCESS_KEY", "autopilot"),
		SecretKey:     env.String("AUTOPILOT_MINIO_SECRET_KEY", "autopilotminio"),
		Region:        env.String("AUTOPILOT_MINIO_REGION", "us-east-1"),
		UseSSL:        useSSL,
		BucketReports: env.String("AUTOPILOT_MINIO_BUCKET_REPORTS", "autopilot-reports"),
		RetentionDays: retention,
	}
	if !cfg.Enabled() {
		return cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.BucketReports) == "" {
		return errors.New("reports bucket is required")
	}
	if c.RetentionDays < 0 {
		return errors.New("AUTOPILOT_REPORT_RETENTION_DAYS must be >= 0")
	}
	return nil
}
