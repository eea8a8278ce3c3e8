package tools

import (
	"context"
	"fmt"

	"github.com/animus-labs/autopilot/internal/domain"
	"github.com/animus-labs/autopilot/internal/gateway"
)

const (
	snapshotResourceType = "resource_type"
	snapshotRecordID     = "record_id"
	snapshotPrevious     = "previous"
	// SnapshotCreatedID holds the id of a record created by the action.
	SnapshotCreatedID = "created_id"
	// SnapshotDraftID holds the id of a draft artifact created by the action.
	SnapshotDraftID = "draft_id"
)

// captureFields reads the current values of fields. Fields missing on the
// record are captured as nil so a replay clears them.
func captureFields(ctx context.Context, conn gateway.Conn, resourceType, id string, fields []string) (domain.Metadata, error) {
	record, found, err := conn.Read(ctx, resourceType, id, fields)
	if err != nil {
		return nil, fmt.Errorf("preflight read %s/%s: %w", resourceType, id, err)
	}
	if !found {
		return nil, fmt.Errorf("preflight read %s/%s: record not found", resourceType, id)
	}
	previous := make(map[string]any, len(fields))
	for _, f := range fields {
		previous[f] = record[f]
	}
	return domain.Metadata{
		snapshotResourceType: resourceType,
		snapshotRecordID:     id,
		snapshotPrevious:     previous,
	}, nil
}

// replayPrevious writes the captured pre-image back.
func replayPrevious(ctx context.Context, conn gateway.Conn, snapshot domain.Metadata) (bool, error) {
	resourceType := snapshot.String(snapshotResourceType)
	id := snapshot.String(snapshotRecordID)
	previous, ok := snapshot.Map(snapshotPrevious)
	if resourceType == "" || id == "" || !ok || len(previous) == 0 {
		return false, nil
	}
	if _, err := conn.Write(ctx, resourceType, id, previous); err != nil {
		return false, fmt.Errorf("replay pre-image %s/%s: %w", resourceType, id, err)
	}
	return true, nil
}
