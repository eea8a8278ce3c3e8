package tools

import (
	"context"
	"fmt"

	"github.com/animus-labs/autopilot/internal/domain"
	"github.com/animus-labs/autopilot/internal/gateway"
)

type UpdateRecord struct{}

func (UpdateRecord) Name() string               { return "update_record" }
func (UpdateRecord) Kind() Kind                 { return KindWrite }
func (UpdateRecord) Baseline() domain.RiskLevel { return domain.RiskMedium }

func (UpdateRecord) Validate(p Params) error {
	if err := p.requireResourceType(); err != nil {
		return err
	}
	if err := p.requireRecordID(); err != nil {
		return err
	}
	return p.requireValues()
}

func (t UpdateRecord) Simulate(p Params) Preview {
	return previewFor(t.Name(), "update", p)
}

func (UpdateRecord) Preflight(ctx context.Context, conn gateway.Conn, p Params) (domain.Metadata, error) {
	return captureFields(ctx, conn, p.ResourceType, p.RecordID, p.Fields())
}

func (UpdateRecord) Execute(ctx context.Context, conn gateway.Conn, p Params) (Outcome, error) {
	if _, err := conn.Write(ctx, p.ResourceType, p.RecordID, p.Values); err != nil {
		return Outcome{}, fmt.Errorf("update %s/%s: %w", p.ResourceType, p.RecordID, err)
	}
	return Outcome{Result: domain.Metadata{
		"record_id":      p.RecordID,
		"updated_fields": p.Fields(),
	}}, nil
}

func (UpdateRecord) Rollback(ctx context.Context, conn gateway.Conn, snapshot domain.Metadata) (bool, error) {
	return replayPrevious(ctx, conn, snapshot)
}
