package tools

import (
	"context"
	"fmt"

	"github.com/animus-labs/autopilot/internal/domain"
	"github.com/animus-labs/autopilot/internal/gateway"
)

const fieldActive = "active"

type ArchiveRecord struct{}

func (ArchiveRecord) Name() string               { return "archive_record" }
func (ArchiveRecord) Kind() Kind                 { return KindWrite }
func (ArchiveRecord) Baseline() domain.RiskLevel { return domain.RiskMedium }

func (ArchiveRecord) Validate(p Params) error {
	if err := p.requireResourceType(); err != nil {
		return err
	}
	return p.requireRecordID()
}

func (t ArchiveRecord) Simulate(p Params) Preview {
	p.Values = map[string]any{fieldActive: false}
	return previewFor(t.Name(), "archive", p)
}

func (ArchiveRecord) Preflight(ctx context.Context, conn gateway.Conn, p Params) (domain.Metadata, error) {
	return captureFields(ctx, conn, p.ResourceType, p.RecordID, []string{fieldActive})
}

func (ArchiveRecord) Execute(ctx context.Context, conn gateway.Conn, p Params) (Outcome, error) {
	if _, err := conn.Write(ctx, p.ResourceType, p.RecordID, map[string]any{fieldActive: false}); err != nil {
		return Outcome{}, fmt.Errorf("archive %s/%s: %w", p.ResourceType, p.RecordID, err)
	}
	return Outcome{Result: domain.Metadata{"record_id": p.RecordID, "archived": true}}, nil
}

func (ArchiveRecord) Rollback(ctx context.Context, conn gateway.Conn, snapshot domain.Metadata) (bool, error) {
	return replayPrevious(ctx, conn, snapshot)
}
