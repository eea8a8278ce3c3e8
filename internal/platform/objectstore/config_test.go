package objectstore

import "testing"

func TestConfigFromEnvDisabledByDefault(t *testing.T) {
	t.Setenv("AUTOPILOT_MINIO_ENDPOINT", "")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.Enabled() {
		t.Fatalf("expected archive disabled")
	}
}

func TestConfigFromEnvEnabled(t *testing.T) {
	t.Setenv("AUTOPILOT_MINIO_ENDPOINT", "minio:9000")
	t.Setenv("AUTOPILOT_MINIO_USE_SSL", "true")
	t.Setenv("AUTOPILOT_MINIO_BUCKET_REPORTS", "reports")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if !cfg.Enabled() || !cfg.UseSSL || cfg.BucketReports != "reports" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestValidateRejectsScheme(t *testing.T) {
	cfg := Config{
		Endpoint:      "http://minio:9000",
		AccessKey:     "a",
		SecretKey:     "b",
		Region:        "us-east-1",
		BucketReports: "reports",
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected scheme error")
	}
}

func TestNewMinIOClientValidates(t *testing.T) {
	if _, err := NewMinIOClient(Config{}); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestRetentionConfig(t *testing.T) {
	t.Setenv("AUTOPILOT_MINIO_ENDPOINT", "minio:9000")
	t.Setenv("AUTOPILOT_REPORT_RETENTION_DAYS", "-1")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("expected error for negative retention")
	}

	rules := retentionRules(90)
	if len(rules.Rules) != 1 || int(rules.Rules[0].Expiration.Days) != 90 || rules.Rules[0].Status != "Enabled" {
		t.Fatalf("unexpected lifecycle rules: %+v", rules.Rules)
	}
}
