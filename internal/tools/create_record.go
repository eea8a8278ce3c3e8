package tools

import (
	"context"
	"fmt"

	"github.com/animus-labs/autopilot/internal/domain"
	"github.com/animus-labs/autopilot/internal/gateway"
)

type CreateRecord struct{}

func (CreateRecord) Name() string               { return "create_record" }
func (CreateRecord) Kind() Kind                 { return KindWrite }
func (CreateRecord) Baseline() domain.RiskLevel { return domain.RiskMedium }

func (CreateRecord) Validate(p Params) error {
	if err := p.requireResourceType(); err != nil {
		return err
	}
	return p.requireValues()
}

func (t CreateRecord) Simulate(p Params) Preview {
	return previewFor(t.Name(), "create", p)
}

// Preflight has nothing to read; the created id is captured by Execute.
func (CreateRecord) Preflight(_ context.Context, _ gateway.Conn, p Params) (domain.Metadata, error) {
	return domain.Metadata{snapshotResourceType: p.ResourceType}, nil
}

func (CreateRecord) Execute(ctx context.Context, conn gateway.Conn, p Params) (Outcome, error) {
	id, err := conn.Write(ctx, p.ResourceType, "", p.Values)
	if err != nil {
		out := Outcome{}
		if id != "" {
			out.Rollback = domain.Metadata{SnapshotCreatedID: id}
		}
		return out, fmt.Errorf("create %s: %w", p.ResourceType, err)
	}
	return Outcome{
		Result:   domain.Metadata{SnapshotCreatedID: id},
		Rollback: domain.Metadata{SnapshotCreatedID: id},
	}, nil
}

// Rollback archives the created record.
func (CreateRecord) Rollback(ctx context.Context, conn gateway.Conn, snapshot domain.Metadata) (bool, error) {
	resourceType := snapshot.String(snapshotResourceType)
	id := snapshot.String(SnapshotCreatedID)
	if resourceType == "" || id == "" {
		return false, nil
	}
	if _, err := conn.Write(ctx, resourceType, id, map[string]any{"active": false}); err != nil {
		return false, fmt.Errorf("archive created %s/%s: %w", resourceType, id, err)
	}
	return true, nil
}
