// Package reports archives execution reports to object storage.
package reports

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/autopilot/internal/autopilot"
)

const contentTypeJSON = "application/json"

// Archive writes each report as a JSON object under
// <prefix>/<company>/<run>/<finished>-<digest>.json.
type Archive struct {
	Store  Putter
	Bucket string
	Prefix string
}

type archivedReport struct {
	SchemaVersion string                    `json:"schema_version"`
	ArchivedAt    time.Time                 `json:"archived_at"`
	Report        autopilot.ExecutionReport `json:"report"`
}

func (a Archive) Archive(ctx context.Context, report autopilot.ExecutionReport) (string, error) {
	if a.Store == nil {
		return "", errors.New("report store is required")
	}
	if strings.TrimSpace(a.Bucket) == "" {
		return "", errors.New("report bucket is required")
	}
	if err := validSegment(report.CompanyID); err != nil {
		return "", fmt.Errorf("company id: %w", err)
	}
	if err := validSegment(report.RunID); err != nil {
		return "", fmt.Errorf("run id: %w", err)
	}

	body, err := json.Marshal(archivedReport{
		SchemaVersion: "v1",
		ArchivedAt:    time.Now().UTC(),
		Report:        report,
	})
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	key := a.key(report, body)
	if err := a.Store.Put(ctx, a.Bucket, key, bytes.NewReader(body), int64(len(body)), contentTypeJSON); err != nil {
		return "", fmt.Errorf("put report %s: %w", key, err)
	}
	return key, nil
}

func (a Archive) key(report autopilot.ExecutionReport, body []byte) string {
	sum := sha256.Sum256(body)
	finished := report.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	name := fmt.Sprintf("%s-%s.json", finished.UTC().Format("20060102T150405Z"), hex.EncodeToString(sum[:])[:12])
	parts := []string{report.CompanyID, report.RunID, name}
	if prefix := strings.Trim(strings.TrimSpace(a.Prefix), "/"); prefix != "" {
		parts = append([]string{prefix}, parts...)
	}
	return strings.Join(parts, "/")
}

func validSegment(v string) error {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return errors.New("is required")
	case v == "." || v == "..", strings.ContainsAny(v, "/\\"):
		return fmt.Errorf("invalid path segment %q", v)
	}
	return nil
}
