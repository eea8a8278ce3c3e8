package objectstore

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"
)

func NewMinIOClient(cfg Config) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: reportTransport(),
	})
}

// EnsureReportsBucket creates the reports bucket if needed and installs the
// expiry rule when a retention is configured.
func EnsureReportsBucket(ctx context.Context, client *minio.Client, cfg Config) error {
	exists, err := client.BucketExists(ctx, cfg.BucketReports)
	if err != nil {
		return fmt.Errorf("stat bucket %s: %w", cfg.BucketReports, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.BucketReports, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return fmt.Errorf("create bucket %s: %w", cfg.BucketReports, err)
		}
	}
	if cfg.RetentionDays > 0 {
		if err := client.SetBucketLifecycle(ctx, cfg.BucketReports, retentionRules(cfg.RetentionDays)); err != nil {
			return fmt.Errorf("set retention on %s: %w", cfg.BucketReports, err)
		}
	}
	return nil
}

func retentionRules(days int) *lifecycle.Configuration {
	rules := lifecycle.NewConfiguration()
	rules.Rules = []lifecycle.Rule{{
		ID:         "expire-execution-reports",
		Status:     "Enabled",
		Expiration: lifecycle.Expiration{Days: lifecycle.ExpirationDays(days)},
	}}
	return rules
}

// CheckReportsBucket is the readiness check.
func CheckReportsBucket(ctx context.Context, client *minio.Client, cfg Config) error {
	exists, err := client.BucketExists(ctx, cfg.BucketReports)
	switch {
	case err != nil:
		return fmt.Errorf("stat bucket %s: %w", cfg.BucketReports, err)
	case !exists:
		return fmt.Errorf("bucket %s is missing", cfg.BucketReports)
	}
	return nil
}

// reportTransport keeps a small pool: uploads are one JSON document per run.
func reportTransport() *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}
